package retry

import (
	"math"
	"math/rand/v2"
	"time"
)

// DefaultJitterFraction is the upper bound of the proportional jitter factor
const DefaultJitterFraction = 0.5

// JitterFunc returns a jitter factor; the scheduler multiplies the
// exponential delay by 1 + factor.
type JitterFunc func() float64

// ProportionalJitter returns factors drawn uniformly from [0, fraction)
func ProportionalJitter(fraction float64) JitterFunc {
	return func() float64 {
		if fraction <= 0 {
			return 0
		}
		return rand.Float64() * fraction
	}
}

// NoJitter always returns 0, for deterministic schedules
func NoJitter() float64 {
	return 0
}

// Delay is a scheduled wait before the next attempt
type Delay struct {
	Duration time.Duration

	// FromServer is true when Duration came from a Retry-After hint
	FromServer bool
}

// Scheduler computes inter-attempt delays for a policy. It holds no per-call
// state and is safe for concurrent use as long as its JitterFunc is.
type Scheduler struct {
	baseDelay time.Duration
	maxDelay  time.Duration
	jitter    JitterFunc
}

// SchedulerOption is a configuration option for NewScheduler
type SchedulerOption func(*Scheduler)

// WithJitter replaces the jitter source
func WithJitter(jitter JitterFunc) SchedulerOption {
	return func(s *Scheduler) {
		if jitter != nil {
			s.jitter = jitter
		}
	}
}

// NewScheduler creates a scheduler for p
func NewScheduler(p Policy, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		baseDelay: p.BaseDelay,
		maxDelay:  p.MaxDelay,
		jitter:    ProportionalJitter(DefaultJitterFraction),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Backoff returns min(BaseDelay * 2^idx * (1 + jitter), MaxDelay), where idx
// is the zero-based index of the retry being scheduled.
func (s *Scheduler) Backoff(idx int) time.Duration {
	if idx < 0 {
		idx = 0
	}
	if s.baseDelay <= 0 {
		return 0
	}

	factor := math.Pow(2, float64(idx)) * (1 + s.jitter())
	delay := float64(s.baseDelay) * factor

	// float64 comparison first: the product can exceed the Duration range
	if delay >= float64(s.maxDelay) || math.IsInf(delay, 0) || math.IsNaN(delay) {
		return s.maxDelay
	}
	return time.Duration(delay)
}

// Next picks the delay before retry idx. A positive hint (a parsed
// Retry-After) replaces the exponential delay; both are capped by MaxDelay.
func (s *Scheduler) Next(idx int, hint time.Duration) Delay {
	if hint > 0 {
		if hint > s.maxDelay {
			hint = s.maxDelay
		}
		return Delay{Duration: hint, FromServer: true}
	}
	return Delay{Duration: s.Backoff(idx)}
}
