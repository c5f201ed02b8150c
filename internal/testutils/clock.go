package testutils

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/coder/quartz"
)

// SleepClock is a quartz mock clock that records every timer it creates and
// immediately advances the clock to fire it, so code that sleeps on it runs
// instantly while observing the passage of time.
//
// It supports one sleeper at a time; concurrent sleepers would advance past
// each other's timers.
type SleepClock struct {
	*quartz.Mock

	tb     testing.TB
	mu     sync.Mutex
	sleeps []time.Duration
}

// NewSleepClock creates a SleepClock
func NewSleepClock(tb testing.TB) *SleepClock {
	return &SleepClock{Mock: quartz.NewMock(tb), tb: tb}
}

// NewTimer records d and fires the timer by advancing the clock
func (c *SleepClock) NewTimer(d time.Duration, tags ...string) *quartz.Timer {
	timer := c.Mock.NewTimer(d, tags...)

	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.mu.Unlock()

	if d > 0 {
		c.Elapse(d)
	}
	return timer
}

// Elapse moves the clock forward by d and waits for any timers it fired
func (c *SleepClock) Elapse(d time.Duration) {
	c.tb.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c.Mock.Advance(d).MustWait(ctx)
}

// Sleeps returns the durations of every timer created so far
func (c *SleepClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.sleeps))
	copy(out, c.sleeps)
	return out
}

// Slept returns the sum of all recorded sleeps
func (c *SleepClock) Slept() time.Duration {
	var total time.Duration
	for _, d := range c.Sleeps() {
		total += d
	}
	return total
}
