// Package retry provides the retry policy, the retry classifier and the backoff scheduler
package retry

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidPolicy is returned for policies that cannot be scheduled
var ErrInvalidPolicy = errors.New("invalid retry policy")

// Policy bounds how often and how patiently a call is retried.
// It is a value type; derive variants with Apply instead of mutating.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt
	MaxRetries int

	// BaseDelay is the backoff delay before the first retry, before jitter
	BaseDelay time.Duration

	// MaxDelay caps every computed or server-suggested delay
	MaxDelay time.Duration

	// PerAttemptTimeout bounds a single attempt
	PerAttemptTimeout time.Duration
}

// DefaultPolicy returns the policy used when the caller configures nothing
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:        1,
		BaseDelay:         1000 * time.Millisecond,
		MaxDelay:          10000 * time.Millisecond,
		PerAttemptTimeout: 3000 * time.Millisecond,
	}
}

// PolicyOption is a configuration option for NewPolicy
type PolicyOption func(*Policy)

// WithMaxRetries sets the number of retries after the first attempt
func WithMaxRetries(n int) PolicyOption {
	return func(p *Policy) {
		p.MaxRetries = n
	}
}

// WithBaseDelay sets the initial backoff delay
func WithBaseDelay(d time.Duration) PolicyOption {
	return func(p *Policy) {
		p.BaseDelay = d
	}
}

// WithMaxDelay sets the maximum delay time
func WithMaxDelay(d time.Duration) PolicyOption {
	return func(p *Policy) {
		p.MaxDelay = d
	}
}

// WithPerAttemptTimeout sets the timeout of a single attempt
func WithPerAttemptTimeout(d time.Duration) PolicyOption {
	return func(p *Policy) {
		p.PerAttemptTimeout = d
	}
}

// NewPolicy creates a policy from DefaultPolicy and the given options
func NewPolicy(opts ...PolicyOption) (Policy, error) {
	p := DefaultPolicy()
	for _, opt := range opts {
		opt(&p)
	}

	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// Validate checks the policy invariants
func (p Policy) Validate() error {
	switch {
	case p.MaxRetries < 0:
		return fmt.Errorf("%w: max retries %d is negative", ErrInvalidPolicy, p.MaxRetries)
	case p.BaseDelay < 0:
		return fmt.Errorf("%w: base delay %v is negative", ErrInvalidPolicy, p.BaseDelay)
	case p.MaxDelay < p.BaseDelay:
		return fmt.Errorf("%w: base delay %v exceeds max delay %v", ErrInvalidPolicy, p.BaseDelay, p.MaxDelay)
	case p.PerAttemptTimeout <= 0:
		return fmt.Errorf("%w: per-attempt timeout %v must be positive", ErrInvalidPolicy, p.PerAttemptTimeout)
	}
	return nil
}

// MaxAttempts returns the total number of attempts the policy allows
func (p Policy) MaxAttempts() int {
	return p.MaxRetries + 1
}

// Override is a partial policy; nil fields keep the base value
type Override struct {
	MaxRetries        *int
	BaseDelay         *time.Duration
	MaxDelay          *time.Duration
	PerAttemptTimeout *time.Duration
}

// Apply merges o onto p and validates the result. A nil override returns p unchanged.
func (p Policy) Apply(o *Override) (Policy, error) {
	if o == nil {
		return p, nil
	}

	merged := p
	if o.MaxRetries != nil {
		merged.MaxRetries = *o.MaxRetries
	}
	if o.BaseDelay != nil {
		merged.BaseDelay = *o.BaseDelay
	}
	if o.MaxDelay != nil {
		merged.MaxDelay = *o.MaxDelay
	}
	if o.PerAttemptTimeout != nil {
		merged.PerAttemptTimeout = *o.PerAttemptTimeout
	}

	if err := merged.Validate(); err != nil {
		return Policy{}, err
	}
	return merged, nil
}

// Ptr returns a pointer to v, for building an Override inline
func Ptr[T any](v T) *T {
	return &v
}
