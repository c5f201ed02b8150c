package types

import "time"

// OutcomeKind tags an AttemptOutcome
type OutcomeKind int

const (
	// OutcomeSuccess carries the response body
	OutcomeSuccess OutcomeKind = iota
	// OutcomeRetryable is a failure that may be retried
	OutcomeRetryable
	// OutcomeTerminal is a failure that ends the call
	OutcomeTerminal
)

// String returns the string representation of OutcomeKind
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetryable:
		return "retryable"
	case OutcomeTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// AttemptOutcome is the result of one attempt, consumed immediately by the orchestrator
type AttemptOutcome struct {
	Kind OutcomeKind

	// Body is set for OutcomeSuccess
	Body []byte

	// Record describes the failure for the two failure kinds
	Record ErrorRecord

	// SuggestedDelay is a positive server-supplied delay, zero when absent
	SuggestedDelay time.Duration
}

// Success builds a successful outcome
func Success(body []byte) AttemptOutcome {
	return AttemptOutcome{Kind: OutcomeSuccess, Body: body}
}

// RetryableFailure builds a retryable outcome with an optional suggested delay
func RetryableFailure(record ErrorRecord, suggested time.Duration) AttemptOutcome {
	if suggested < 0 {
		suggested = 0
	}
	return AttemptOutcome{Kind: OutcomeRetryable, Record: record, SuggestedDelay: suggested}
}

// TerminalFailure builds a terminal outcome
func TerminalFailure(record ErrorRecord) AttemptOutcome {
	return AttemptOutcome{Kind: OutcomeTerminal, Record: record}
}
