// Package types provides the clock abstraction shared by the budget, backoff and fetch packages
package types

import (
	"context"
	"time"

	"github.com/coder/quartz"
)

// Clock provides an abstraction over time operations for testing.
// Production code runs on quartz's real clock; tests inject quartz.Mock.
type Clock = quartz.Clock

// Timer is the timer handle returned by Clock.NewTimer
type Timer = quartz.Timer

// NewRealClock creates a clock backed by the runtime's wall clock
func NewRealClock() Clock {
	return quartz.NewReal()
}

// Sleep blocks for d on the given clock or until ctx is done.
// Non-positive durations return immediately without creating a timer.
func Sleep(ctx context.Context, clock Clock, d time.Duration, tags ...string) error {
	if d <= 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	timer := clock.NewTimer(d, tags...)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
