package deadline

import (
	"time"

	"github.com/jzx17/deadlinefetch/pkg/types"
)

// Budget measures a deadline against a clock. It never fails; callers act on
// the sentinel values it returns.
type Budget struct {
	deadline Deadline
	clock    types.Clock
}

// NewBudget binds a deadline to a clock; a nil clock uses the real clock
func NewBudget(d Deadline, clock types.Clock) Budget {
	if clock == nil {
		clock = types.NewRealClock()
	}
	return Budget{deadline: d, clock: clock}
}

// Deadline returns the deadline being measured
func (b Budget) Deadline() Deadline {
	return b.deadline
}

// Constrained reports whether a deadline is enforced at all
func (b Budget) Constrained() bool {
	return b.deadline.IsSet()
}

// Remaining returns deadline - now - SafetyBuffer. ok is false once that is
// no longer positive. Without a deadline it returns Unbounded, true.
func (b Budget) Remaining() (remaining time.Duration, ok bool) {
	if !b.deadline.IsSet() {
		return Unbounded, true
	}

	left := b.clock.Until(b.deadline.at, "deadline", "remaining")
	if left <= SafetyBuffer {
		return 0, false
	}
	return left - SafetyBuffer, true
}

// CanAffordRetry reports whether the remaining budget strictly exceeds
// MinRetryRatio of original, the budget observed when the call started.
func (b Budget) CanAffordRetry(original time.Duration) bool {
	if !b.deadline.IsSet() {
		return true
	}

	remaining, ok := b.Remaining()
	if !ok {
		return false
	}
	return float64(remaining) > float64(original)*MinRetryRatio
}

// Cap limits a wait d to the remaining budget. fits is false when the wait
// would use up the whole budget, leaving nothing for the attempt after it.
func (b Budget) Cap(d time.Duration) (capped time.Duration, fits bool) {
	remaining, ok := b.Remaining()
	if !ok {
		return 0, false
	}
	if d >= remaining {
		return remaining, false
	}
	return d, true
}
