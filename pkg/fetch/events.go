package fetch

import (
	"context"
	"time"

	"github.com/jzx17/deadlinefetch/pkg/deadline"
	"github.com/jzx17/deadlinefetch/pkg/logger"
	"github.com/jzx17/deadlinefetch/pkg/types"
)

// CallInfo describes a logical call at the moment an event fires
type CallInfo struct {
	RequestID   string
	Method      string
	URL         string
	Attempts    int
	MaxAttempts int
	Deadline    deadline.Deadline
}

// RetryInfo describes a scheduled retry
type RetryInfo struct {
	Delay      time.Duration
	FromServer bool
	Last       types.ErrorRecord
}

// EventHandler observes the lifecycle of every call. Handlers run on the
// calling goroutine and must not block.
type EventHandler interface {
	OnAttempt(ctx context.Context, call CallInfo, timeout time.Duration)
	OnRetry(ctx context.Context, call CallInfo, retry RetryInfo)
	OnSuccess(ctx context.Context, call CallInfo)
	OnGiveUp(ctx context.Context, call CallInfo, err error)
}

// NopEventHandler ignores every event
type NopEventHandler struct{}

func (NopEventHandler) OnAttempt(context.Context, CallInfo, time.Duration) {}
func (NopEventHandler) OnRetry(context.Context, CallInfo, RetryInfo)       {}
func (NopEventHandler) OnSuccess(context.Context, CallInfo)                {}
func (NopEventHandler) OnGiveUp(context.Context, CallInfo, error)          {}

// LoggingEventHandler is the default event handler; it writes every event to a logger
type LoggingEventHandler struct {
	log logger.Logger
}

// NewLoggingEventHandler creates a logging event handler
func NewLoggingEventHandler(l logger.Logger) *LoggingEventHandler {
	if l == nil {
		l = logger.Nop()
	}
	return &LoggingEventHandler{log: l}
}

func (h *LoggingEventHandler) with(call CallInfo) logger.Logger {
	return h.log.WithFields(map[string]any{
		"request_id": call.RequestID,
		"method":     call.Method,
		"url":        call.URL,
	})
}

// OnAttempt logs the start of an attempt at debug level
func (h *LoggingEventHandler) OnAttempt(_ context.Context, call CallInfo, timeout time.Duration) {
	h.with(call).Debug().
		Int("attempt", call.Attempts).
		Int("max_attempts", call.MaxAttempts).
		Dur("timeout", timeout).
		Msg("attempt started")
}

// OnRetry logs a scheduled retry at warn level
func (h *LoggingEventHandler) OnRetry(_ context.Context, call CallInfo, r RetryInfo) {
	ev := h.with(call).Warn().
		Int("attempt", call.Attempts).
		Dur("delay", r.Delay).
		Bool("retry_after", r.FromServer)
	if r.Last.StatusCode != 0 {
		ev = ev.Int("status", r.Last.StatusCode)
	}
	if r.Last.Code != "" {
		ev = ev.Str("code", string(r.Last.Code))
	}
	ev.Msg("retry scheduled")
}

// OnSuccess logs a completed call at debug level
func (h *LoggingEventHandler) OnSuccess(_ context.Context, call CallInfo) {
	h.with(call).Debug().Int("attempts", call.Attempts).Msg("fetch succeeded")
}

// OnGiveUp logs the terminal failure kind at error level
func (h *LoggingEventHandler) OnGiveUp(_ context.Context, call CallInfo, err error) {
	kind, _ := types.KindOf(err)
	h.with(call).Error().
		Int("attempts", call.Attempts).
		Str("kind", kind.String()).
		Err(err).
		Msg("fetch failed")
}
