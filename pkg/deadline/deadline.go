// Package deadline holds the absolute end-to-end deadline of a call chain and
// answers the two questions the fetch orchestrator asks of it: how much time
// is left, and whether another retry is affordable.
//
// A Deadline is an absolute instant carried between services as epoch
// milliseconds in the X-Request-Deadline header. The zero Deadline means "no
// deadline": every budget query then reports an unconstrained budget.
package deadline

import (
	"math"
	"strconv"
	"time"

	"github.com/jzx17/deadlinefetch/pkg/types"
)

const (
	// HeaderName carries the absolute deadline in epoch milliseconds
	HeaderName = "X-Request-Deadline"

	// SafetyBuffer is subtracted from every remaining-budget computation so
	// that the check and the action it gates do not race the deadline.
	SafetyBuffer = 50 * time.Millisecond

	// MinRetryRatio is the share of the original budget that must remain
	// before another retry is attempted.
	MinRetryRatio = 0.20

	// Unbounded is the remaining budget reported when no deadline is set
	Unbounded = time.Duration(math.MaxInt64)
)

// Deadline is an optional absolute instant. It is a value type and is never mutated.
type Deadline struct {
	at time.Time
}

// None returns the empty deadline
func None() Deadline {
	return Deadline{}
}

// At returns a deadline at t; the zero time yields None
func At(t time.Time) Deadline {
	return Deadline{at: t}
}

// FromEpochMillis converts epoch milliseconds into a deadline; non-positive values yield None
func FromEpochMillis(ms int64) Deadline {
	if ms <= 0 {
		return Deadline{}
	}
	return Deadline{at: time.UnixMilli(ms)}
}

// In returns a deadline d from the clock's current time
func In(clock types.Clock, d time.Duration) Deadline {
	return Deadline{at: clock.Now().Add(d)}
}

// IsSet reports whether a deadline is present
func (d Deadline) IsSet() bool {
	return !d.at.IsZero()
}

// Time returns the absolute instant, the zero time when unset
func (d Deadline) Time() time.Time {
	return d.at
}

// EpochMillis returns the deadline as epoch milliseconds, 0 when unset
func (d Deadline) EpochMillis() int64 {
	if !d.IsSet() {
		return 0
	}
	return d.at.UnixMilli()
}

// HeaderValue returns the wire form of the deadline, empty when unset
func (d Deadline) HeaderValue() string {
	if !d.IsSet() {
		return ""
	}
	return strconv.FormatInt(d.EpochMillis(), 10)
}

func (d Deadline) String() string {
	if !d.IsSet() {
		return "none"
	}
	return d.at.UTC().Format(time.RFC3339Nano)
}
