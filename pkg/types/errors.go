// Package types defines error types
package types

import (
	"errors"
	"fmt"
	"time"
)

// Predefined errors
var (
	// ErrNilTransport indicates a client was built without a transport
	ErrNilTransport = errors.New("transport is nil")

	// ErrEmptyPath indicates Fetch was called without a path
	ErrEmptyPath = errors.New("request path is empty")

	// ErrNoBaseURL indicates a relative path was used on a client without a base URL
	ErrNoBaseURL = errors.New("relative path requires a base URL")

	// ErrUnexpectedStatus is the cause recorded for non-2xx responses
	ErrUnexpectedStatus = errors.New("unexpected status")
)

// ErrorKind discriminates the four terminal failure kinds
type ErrorKind int

const (
	// KindClient is a single non-retryable failure
	KindClient ErrorKind = iota + 1
	// KindRetryExhausted means every allowed attempt failed with a retryable error
	KindRetryExhausted
	// KindDeadlineExceeded means the end-to-end deadline passed before an attempt could be made
	KindDeadlineExceeded
	// KindBudgetExhausted means a retry was skipped because the remaining budget was too small
	KindBudgetExhausted
)

// String returns the string representation of ErrorKind
func (k ErrorKind) String() string {
	switch k {
	case KindClient:
		return "client_error"
	case KindRetryExhausted:
		return "retry_exhausted"
	case KindDeadlineExceeded:
		return "deadline_exceeded"
	case KindBudgetExhausted:
		return "budget_exhausted"
	default:
		return "unknown"
	}
}

// ErrorRecord is what the orchestrator remembers about the last failed attempt
type ErrorRecord struct {
	// StatusCode is the HTTP status, 0 when no response was received
	StatusCode int

	// Payload is the raw response body of the failed attempt
	Payload []byte

	// Code is the transport failure code, empty for HTTP-level failures
	Code TransportCode

	// Cause is the underlying error
	Cause error
}

func (r ErrorRecord) describe() string {
	switch {
	case r.StatusCode != 0:
		return fmt.Sprintf("status %d", r.StatusCode)
	case r.Code != "":
		return string(r.Code)
	case r.Cause != nil:
		return r.Cause.Error()
	default:
		return "unknown failure"
	}
}

// FetchError is implemented by exactly the four terminal kinds below.
// The unexported marker keeps the set closed.
type FetchError interface {
	error
	Kind() ErrorKind
	fetchError()
}

// ClientError is a single non-retryable failure
type ClientError struct {
	ErrorRecord
}

func (e *ClientError) Error() string {
	if e.StatusCode != 0 || e.Code != "" {
		return fmt.Sprintf("fetch failed: %s", e.describe())
	}
	return fmt.Sprintf("fetch failed: %v", e.Cause)
}

func (e *ClientError) Unwrap() error   { return e.Cause }
func (e *ClientError) Kind() ErrorKind { return KindClient }
func (*ClientError) fetchError()       {}

// RetryExhaustedError means every allowed attempt was made and all failed with retryable errors
type RetryExhaustedError struct {
	Attempts int
	ErrorRecord
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("fetch failed after %d attempts: %s", e.Attempts, e.describe())
}

func (e *RetryExhaustedError) Unwrap() error   { return e.Cause }
func (e *RetryExhaustedError) Kind() ErrorKind { return KindRetryExhausted }
func (*RetryExhaustedError) fetchError()       {}

// DeadlineExceededError means the end-to-end deadline had passed before an attempt could be made
type DeadlineExceededError struct {
	// Deadline is the absolute instant that passed
	Deadline time.Time

	// Attempts is the number of attempts made before giving up
	Attempts int

	// Cause is the error of the attempt the deadline cut short, if any
	Cause error
}

func (e *DeadlineExceededError) Error() string {
	return fmt.Sprintf("deadline %d exceeded after %d attempts", e.Deadline.UnixMilli(), e.Attempts)
}

func (e *DeadlineExceededError) Unwrap() error   { return e.Cause }
func (e *DeadlineExceededError) Kind() ErrorKind { return KindDeadlineExceeded }
func (*DeadlineExceededError) fetchError()       {}

// BudgetExhaustedError means a retry was skipped because the remaining budget was insufficient
type BudgetExhaustedError struct {
	Attempts  int
	Remaining time.Duration
	ErrorRecord
}

func (e *BudgetExhaustedError) Error() string {
	return fmt.Sprintf("retry budget exhausted after %d attempts (%v remaining): %s",
		e.Attempts, e.Remaining, e.describe())
}

func (e *BudgetExhaustedError) Unwrap() error   { return e.Cause }
func (e *BudgetExhaustedError) Kind() ErrorKind { return KindBudgetExhausted }
func (*BudgetExhaustedError) fetchError()       {}

// KindOf returns the terminal kind carried anywhere in err's chain
func KindOf(err error) (ErrorKind, bool) {
	var fe FetchError
	if errors.As(err, &fe) {
		return fe.Kind(), true
	}
	return 0, false
}
