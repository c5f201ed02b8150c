// Package retry decides whether a failed attempt may be repeated and how long
// to wait before repeating it.
//
// It has three parts:
//
// 1. Policy: the per-client limits (MaxRetries, BaseDelay, MaxDelay,
// PerAttemptTimeout), validated on construction and overridable per call
// through Override.
//
// 2. Classifier: a pure lookup. Only GET requests are retried, and only on
// 429, 502, 503 and 504 or on one of the transient network codes such as
// ECONNRESET and ETIMEDOUT.
//
// 3. Scheduler: exponential backoff with proportional jitter,
//
//	delay = min(BaseDelay * 2^idx * (1 + U[0, 0.5)), MaxDelay)
//
// A positive Retry-After value, in seconds or as an HTTP date, replaces the
// exponential delay. A zero or unparseable value is ignored so a server cannot
// force an immediate retry storm.
//
// Basic usage example:
//
//	policy, err := retry.NewPolicy(retry.WithMaxRetries(3), retry.WithBaseDelay(200*time.Millisecond))
//	if err != nil {
//		return err
//	}
//	sched := retry.NewScheduler(policy)
//
//	if retry.Classify(http.MethodGet, rec) {
//		hint, _ := retry.RetryAfterFromHeader(resp.Header, time.Now())
//		wait := sched.Next(attempts-1, hint)
//		// sleep wait.Duration, capped by the remaining deadline budget
//	}
//
// The package never sleeps and never reads a clock on its own; the fetch
// orchestrator owns the timing and the deadline budget.
package retry
