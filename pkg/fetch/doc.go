// Package fetch is a deadline-aware HTTP client for calls between services.
//
// Each logical call carries an absolute end-to-end deadline. The client
// forwards it downstream in the X-Request-Deadline header, shortens every
// attempt's timeout to the budget that is left, and stops retrying as soon as
// the budget can no longer pay for another attempt.
//
// Every failure is reported as exactly one of four errors from pkg/types:
//
//   - ClientError: a single non-retryable failure (or caller cancellation)
//   - RetryExhaustedError: every allowed attempt failed with a transient error
//   - DeadlineExceededError: the deadline passed before or during an attempt
//   - BudgetExhaustedError: a retry was skipped because it could not finish in time
//
// Basic usage example:
//
//	c, err := fetch.New(
//		fetch.WithBaseURL("http://inventory.internal"),
//		fetch.WithPolicy(policy),
//		fetch.WithLogger(log),
//	)
//	if err != nil {
//		return err
//	}
//
//	// inside a handler, with the deadline read from the inbound request
//	body, err := c.Get(ctx, "/items/42", deadline.FromContext(ctx))
//	switch err.(type) {
//	case *types.BudgetExhaustedError, *types.DeadlineExceededError:
//		// answer the caller now instead of waiting
//	}
//
// Only GET is retried. Client attempts run on the injected clock, so tests
// drive retries and budgets without real sleeps.
package fetch
