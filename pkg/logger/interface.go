// Package logger provides the structured logging contract used by the fetch
// client and a zerolog-backed implementation.
package logger

import "time"

// Logger creates log events at different severity levels
type Logger interface {
	Debug() LogEvent
	Info() LogEvent
	Warn() LogEvent
	Error() LogEvent
	WithFields(fields map[string]any) Logger
}

// LogEvent is a structured log event that is built with fields and then sent
type LogEvent interface {
	Msg(msg string)
	Msgf(format string, args ...any)
	Err(err error) LogEvent
	Str(key, value string) LogEvent
	Int(key string, value int) LogEvent
	Int64(key string, value int64) LogEvent
	Dur(key string, d time.Duration) LogEvent
	Bool(key string, b bool) LogEvent
}
