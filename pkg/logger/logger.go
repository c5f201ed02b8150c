package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// ZeroLogger wraps zerolog.Logger to implement the Logger interface
type ZeroLogger struct {
	zlog   *zerolog.Logger
	filter *SensitiveDataFilter
}

var _ Logger = (*ZeroLogger)(nil)

// New creates a logger writing to stdout. If pretty is true, output is
// formatted for humans. An unknown level falls back to info.
func New(level string, pretty bool) *ZeroLogger {
	var w io.Writer = os.Stdout
	if pretty {
		w = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	return NewWithWriter(w, level)
}

// NewWithWriter creates a JSON logger writing to w
func NewWithWriter(w io.Writer, level string) *ZeroLogger {
	l := zerolog.New(w).With().Timestamp().Logger()

	zLevel, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		zLevel = zerolog.InfoLevel
	}
	l = l.Level(zLevel)

	return &ZeroLogger{zlog: &l, filter: NewSensitiveDataFilter(nil)}
}

// Nop returns a logger that discards everything
func Nop() *ZeroLogger {
	l := zerolog.Nop()
	return &ZeroLogger{zlog: &l}
}

// Level returns the minimum level that is written
func (l *ZeroLogger) Level() zerolog.Level {
	return l.zlog.GetLevel()
}

// Debug starts a debug event
func (l *ZeroLogger) Debug() LogEvent {
	return l.event(l.zlog.Debug())
}

// Info starts an info event
func (l *ZeroLogger) Info() LogEvent {
	return l.event(l.zlog.Info())
}

// Warn starts a warn event
func (l *ZeroLogger) Warn() LogEvent {
	return l.event(l.zlog.Warn())
}

// Error starts an error event
func (l *ZeroLogger) Error() LogEvent {
	return l.event(l.zlog.Error())
}

// WithFields returns a logger with fields attached to every entry
func (l *ZeroLogger) WithFields(fields map[string]any) Logger {
	if l.filter != nil {
		fields = l.filter.FilterFields(fields)
	}
	log := l.zlog.With().Fields(fields).Logger()
	return &ZeroLogger{zlog: &log, filter: l.filter}
}

func (l *ZeroLogger) event(e *zerolog.Event) LogEvent {
	return &eventAdapter{event: e, filter: l.filter}
}

// eventAdapter adapts zerolog events to LogEvent. A nil zerolog event (level
// disabled) is safe to call.
type eventAdapter struct {
	event  *zerolog.Event
	filter *SensitiveDataFilter
}

func (a *eventAdapter) Msg(msg string) {
	a.event.Msg(msg)
}

func (a *eventAdapter) Msgf(format string, args ...any) {
	a.event.Msgf(format, args...)
}

func (a *eventAdapter) Err(err error) LogEvent {
	return &eventAdapter{event: a.event.Err(err), filter: a.filter}
}

func (a *eventAdapter) Str(key, value string) LogEvent {
	if a.filter != nil {
		value = a.filter.FilterString(key, value)
	}
	return &eventAdapter{event: a.event.Str(key, value), filter: a.filter}
}

func (a *eventAdapter) Int(key string, value int) LogEvent {
	return &eventAdapter{event: a.event.Int(key, value), filter: a.filter}
}

func (a *eventAdapter) Int64(key string, value int64) LogEvent {
	return &eventAdapter{event: a.event.Int64(key, value), filter: a.filter}
}

func (a *eventAdapter) Dur(key string, d time.Duration) LogEvent {
	return &eventAdapter{event: a.event.Dur(key, d), filter: a.filter}
}

func (a *eventAdapter) Bool(key string, b bool) LogEvent {
	return &eventAdapter{event: a.event.Bool(key, b), filter: a.filter}
}
