package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jzx17/deadlinefetch/pkg/deadline"
	"github.com/jzx17/deadlinefetch/pkg/logger"
	"github.com/jzx17/deadlinefetch/pkg/retry"
	"github.com/jzx17/deadlinefetch/pkg/types"
)

// HeaderRequestID carries the per-call request id, identical on every attempt
const HeaderRequestID = "X-Request-ID"

// Options configures a single logical call
type Options struct {
	// Method defaults to GET
	Method string

	// Body is sent verbatim. It is ignored when JSON is set.
	Body []byte

	// JSON is marshalled as the request body with a JSON content type
	JSON any

	// Token is sent as a bearer token
	Token string

	// Header is merged over the client's default headers
	Header http.Header

	// Retry overrides parts of the client policy for this call
	Retry *retry.Override

	// Deadline is the absolute end-to-end deadline, usually read from the
	// inbound request. The zero value disables enforcement.
	Deadline deadline.Deadline
}

// Get fetches path with GET under deadline d
func (c *Client) Get(ctx context.Context, path string, d deadline.Deadline) ([]byte, error) {
	return c.Fetch(ctx, path, Options{Deadline: d})
}

// Fetch performs one logical request, retrying transient failures within the
// deadline. On failure the error is always one of *types.ClientError,
// *types.RetryExhaustedError, *types.DeadlineExceededError or
// *types.BudgetExhaustedError.
func (c *Client) Fetch(ctx context.Context, path string, opts Options) ([]byte, error) {
	cl, err := c.newCall(path, opts)
	if err != nil {
		return nil, &types.ClientError{ErrorRecord: types.ErrorRecord{Cause: err}}
	}

	ctx, span := c.telemetry.start(ctx, cl)
	body, err := cl.run(ctx)
	c.telemetry.finish(ctx, span, cl, err)

	if err != nil {
		c.events.OnGiveUp(ctx, cl.info(), err)
		return nil, err
	}
	c.events.OnSuccess(ctx, cl.info())
	return body, nil
}

func (c *Client) newCall(path string, opts Options) (*call, error) {
	policy, err := c.policy.Apply(opts.Retry)
	if err != nil {
		return nil, err
	}

	target, err := c.resolve(path)
	if err != nil {
		return nil, err
	}

	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}

	header := c.header.Clone()
	for k, vs := range opts.Header {
		header[http.CanonicalHeaderKey(k)] = append([]string(nil), vs...)
	}

	body := opts.Body
	if opts.JSON != nil {
		if body, err = json.Marshal(opts.JSON); err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		header.Set("Content-Type", "application/json")
	}
	if opts.Token != "" {
		header.Set("Authorization", "Bearer "+opts.Token)
	}

	id := header.Get(HeaderRequestID)
	if id == "" {
		id = c.requestID()
		header.Set(HeaderRequestID, id)
	}

	dl := c.effectiveDeadline(opts.Deadline)
	return &call{
		client:    c,
		policy:    policy,
		scheduler: retry.NewScheduler(policy, retry.WithJitter(c.jitter)),
		budget:    deadline.NewBudget(dl, c.clock),
		method:    method,
		url:       target,
		header:    header,
		body:      body,
		requestID: id,
		log: c.log.WithFields(map[string]any{
			"request_id": id,
			"method":     method,
			"url":        target,
		}),
	}, nil
}

// call is the state of one logical request. It is owned by a single goroutine.
type call struct {
	client    *Client
	policy    retry.Policy
	scheduler *retry.Scheduler
	budget    deadline.Budget
	method    string
	url       string
	header    http.Header
	body      []byte
	requestID string
	log       logger.Logger

	attempts int
	original time.Duration
	last     types.ErrorRecord
}

func (cl *call) info() CallInfo {
	return CallInfo{
		RequestID:   cl.requestID,
		Method:      cl.method,
		URL:         cl.url,
		Attempts:    cl.attempts,
		MaxAttempts: cl.policy.MaxAttempts(),
		Deadline:    cl.budget.Deadline(),
	}
}

func (cl *call) run(ctx context.Context) ([]byte, error) {
	original, ok := cl.budget.Remaining()
	if !ok {
		return nil, cl.deadlineExceeded(nil)
	}
	cl.original = original

	for {
		if err := ctx.Err(); err != nil {
			return nil, cl.canceled(err)
		}
		if err := cl.pace(ctx); err != nil {
			return nil, err
		}

		timeout, ok := cl.attemptTimeout()
		if !ok {
			return nil, cl.deadlineExceeded(cl.last.Cause)
		}

		cl.attempts++
		outcome := cl.attempt(ctx, timeout)

		switch outcome.Kind {
		case types.OutcomeSuccess:
			return outcome.Body, nil
		case types.OutcomeTerminal:
			cl.last = outcome.Record
			if cl.deadlineCutShort(outcome.Record) {
				return nil, cl.deadlineExceeded(outcome.Record.Cause)
			}
			if ctx.Err() != nil {
				return nil, cl.canceled(ctx.Err())
			}
			return nil, &types.ClientError{ErrorRecord: outcome.Record}
		}

		cl.last = outcome.Record
		if cl.deadlineCutShort(outcome.Record) {
			return nil, cl.deadlineExceeded(outcome.Record.Cause)
		}
		if cl.attempts >= cl.policy.MaxAttempts() {
			return nil, &types.RetryExhaustedError{Attempts: cl.attempts, ErrorRecord: cl.last}
		}
		if ctx.Err() != nil {
			return nil, cl.canceled(ctx.Err())
		}

		delay, err := cl.nextDelay(ctx, outcome.SuggestedDelay)
		if err != nil {
			return nil, err
		}
		if err := cl.wait(ctx, delay, "backoff"); err != nil {
			return nil, cl.canceled(err)
		}
	}
}

// attemptTimeout is min(PerAttemptTimeout, remaining). ok is false when the
// deadline has already passed.
func (cl *call) attemptTimeout() (time.Duration, bool) {
	timeout := cl.policy.PerAttemptTimeout
	if !cl.budget.Constrained() {
		return timeout, true
	}

	remaining, ok := cl.budget.Remaining()
	if !ok {
		return 0, false
	}
	if remaining < timeout {
		cl.log.Info().
			Int("attempt", cl.attempts+1).
			Dur("configured_timeout", timeout).
			Dur("effective_timeout", remaining).
			Msg("attempt timeout constrained by deadline")
		timeout = remaining
	}
	return timeout, true
}

// attempt issues one request and classifies the result
func (cl *call) attempt(ctx context.Context, timeout time.Duration) types.AttemptOutcome {
	c := cl.client

	header := cl.header.Clone()
	deadline.Inject(header, cl.budget.Deadline())

	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	c.telemetry.attempt(actx, header, cl)
	c.events.OnAttempt(ctx, cl.info(), timeout)

	resp, err := c.transport.Do(actx, &types.Request{
		Method:  cl.method,
		URL:     cl.url,
		Header:  header,
		Body:    cl.body,
		Timeout: timeout,
	})
	if err != nil {
		return cl.transportFailure(err)
	}
	if resp == nil {
		return types.TerminalFailure(types.ErrorRecord{Cause: errors.New("transport returned no response")})
	}
	if resp.OK() {
		return types.Success(resp.Body)
	}

	rec := types.ErrorRecord{
		StatusCode: resp.StatusCode,
		Payload:    resp.Body,
		Cause:      fmt.Errorf("%w: %d", types.ErrUnexpectedStatus, resp.StatusCode),
	}
	if !retry.Classify(cl.method, rec) {
		return types.TerminalFailure(rec)
	}
	hint, _ := retry.RetryAfterFromHeader(resp.Header, c.clock.Now())
	return types.RetryableFailure(rec, hint)
}

// transportFailure classifies an error returned by the transport. Errors
// that are not *types.TransportError are never retried.
func (cl *call) transportFailure(err error) types.AttemptOutcome {
	te, ok := types.AsTransportError(err)
	if !ok {
		return types.TerminalFailure(types.ErrorRecord{Cause: err})
	}

	rec := types.ErrorRecord{Code: te.Code, Cause: err}
	if retry.Classify(cl.method, rec) {
		return types.RetryableFailure(rec, 0)
	}
	return types.TerminalFailure(rec)
}

// deadlineCutShort reports whether a timed-out attempt failed because the
// end-to-end deadline passed rather than because the attempt itself was slow.
func (cl *call) deadlineCutShort(rec types.ErrorRecord) bool {
	if !cl.budget.Constrained() || !rec.Code.IsTimeout() {
		return false
	}
	_, ok := cl.budget.Remaining()
	return !ok
}

// nextDelay applies the budget checks that gate every retry and returns the
// delay to sleep before the next attempt.
func (cl *call) nextDelay(ctx context.Context, hint time.Duration) (time.Duration, error) {
	remaining, ok := cl.budget.Remaining()
	if cl.budget.Constrained() && (!ok || !cl.budget.CanAffordRetry(cl.original)) {
		return 0, cl.budgetExhausted(remaining, "remaining budget below retry floor")
	}

	next := cl.scheduler.Next(cl.attempts-1, hint)
	delay, fits := cl.budget.Cap(next.Duration)
	if !fits {
		return 0, cl.budgetExhausted(remaining, "backoff delay does not fit remaining budget")
	}

	cl.client.telemetry.backoff(ctx, cl, delay, next.FromServer)
	cl.client.events.OnRetry(ctx, cl.info(), RetryInfo{
		Delay:      delay,
		FromServer: next.FromServer,
		Last:       cl.last,
	})
	return delay, nil
}

// pace waits for the client rate limiter when one is configured
func (cl *call) pace(ctx context.Context) error {
	limiter := cl.client.limiter
	if limiter == nil {
		return nil
	}

	now := cl.client.clock.Now()
	r := limiter.ReserveN(now, 1)
	if !r.OK() {
		return &types.ClientError{ErrorRecord: types.ErrorRecord{Cause: errors.New("rate limiter burst is zero")}}
	}

	delay := r.DelayFrom(now)
	if delay <= 0 {
		return nil
	}
	remaining, ok := cl.budget.Remaining()
	if !ok {
		r.CancelAt(now)
		return cl.deadlineExceeded(cl.last.Cause)
	}
	if _, fits := cl.budget.Cap(delay); !fits {
		r.CancelAt(now)
		return cl.budgetExhausted(remaining, "rate limit wait does not fit remaining budget")
	}

	if err := cl.wait(ctx, delay, "ratelimit"); err != nil {
		r.CancelAt(cl.client.clock.Now())
		return cl.canceled(err)
	}
	return nil
}

func (cl *call) wait(ctx context.Context, d time.Duration, reason string) error {
	return types.Sleep(ctx, cl.client.clock, d, "fetch", reason)
}

func (cl *call) deadlineExceeded(cause error) error {
	cl.log.Warn().
		Int("attempts", cl.attempts).
		Int64("deadline", cl.budget.Deadline().EpochMillis()).
		Msg("deadline exceeded")
	return &types.DeadlineExceededError{
		Deadline: cl.budget.Deadline().Time(),
		Attempts: cl.attempts,
		Cause:    cause,
	}
}

func (cl *call) budgetExhausted(remaining time.Duration, reason string) error {
	cl.log.Warn().
		Int("attempts", cl.attempts).
		Dur("remaining", remaining).
		Str("reason", reason).
		Msg("retry budget exhausted")
	return &types.BudgetExhaustedError{
		Attempts:    cl.attempts,
		Remaining:   remaining,
		ErrorRecord: cl.last,
	}
}

// canceled maps caller cancellation to a ClientError; the last failure, if
// any, is kept in the message only.
func (cl *call) canceled(err error) error {
	if cl.last.Cause != nil {
		err = fmt.Errorf("%w (last failure: %v)", err, cl.last.Cause)
	}
	return &types.ClientError{ErrorRecord: types.ErrorRecord{Cause: err}}
}
