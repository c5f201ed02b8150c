package fetch

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jzx17/deadlinefetch/internal/testutils"
	"github.com/jzx17/deadlinefetch/pkg/deadline"
	"github.com/jzx17/deadlinefetch/pkg/retry"
	"github.com/jzx17/deadlinefetch/pkg/types"
)

const testBaseURL = "https://inventory.test"

func newTestClient(t *testing.T, clock *testutils.SleepClock, transport types.Transport, opts ...Option) *Client {
	t.Helper()
	base := []Option{
		WithTransport(transport),
		WithClock(clock),
		WithBaseURL(testBaseURL),
		WithJitter(retry.NoJitter),
		WithEventHandler(NopEventHandler{}),
	}
	c, err := New(append(base, opts...)...)
	require.NoError(t, err)
	return c
}

func withRetryAfter(status int, value string) testutils.Step {
	return testutils.Step{Status: status, Header: http.Header{retry.HeaderRetryAfter: []string{value}}}
}

func TestFetchSuccessFirstAttempt(t *testing.T) {
	clock := testutils.NewSleepClock(t)
	transport := testutils.NewScriptedTransport(t, clock, testutils.Status(200, `{"ok":true}`))
	c := newTestClient(t, clock, transport)

	body, err := c.Get(testutils.Context(t), "/items", deadline.In(clock, time.Minute))
	require.NoError(t, err)

	assert.Equal(t, `{"ok":true}`, string(body))
	assert.Equal(t, 1, transport.Calls())
	assert.Empty(t, clock.Sleeps(), "a first-attempt success never sleeps")
}

func TestFetchNonGetNeverRetries(t *testing.T) {
	methods := []string{http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodHead}

	for _, method := range methods {
		t.Run(method, func(t *testing.T) {
			clock := testutils.NewSleepClock(t)
			transport := testutils.NewScriptedTransport(t, clock, testutils.Status(503, "busy"))
			c := newTestClient(t, clock, transport, WithPolicy(mustPolicy(t, retry.WithMaxRetries(3))))

			_, err := c.Fetch(testutils.Context(t), "/items", Options{Method: method})

			fe := testutils.RequireKind(t, err, types.KindClient)
			ce := fe.(*types.ClientError)
			assert.Equal(t, 503, ce.StatusCode)
			assert.Equal(t, "busy", string(ce.Payload))
			assert.ErrorIs(t, err, types.ErrUnexpectedStatus)
			assert.Equal(t, 1, transport.Calls())
			assert.Empty(t, clock.Sleeps())
		})
	}
}

func TestFetchNonGetTransportFailure(t *testing.T) {
	clock := testutils.NewSleepClock(t)
	transport := testutils.NewScriptedTransport(t, clock, testutils.Failure(types.CodeReset))
	c := newTestClient(t, clock, transport)

	_, err := c.Fetch(testutils.Context(t), "/orders", Options{Method: http.MethodPost, Body: []byte("{}")})

	fe := testutils.RequireKind(t, err, types.KindClient)
	assert.Equal(t, types.CodeReset, fe.(*types.ClientError).Code)
	assert.Equal(t, 1, transport.Calls())
}

func TestFetchRetryAfterSeconds(t *testing.T) {
	clock := testutils.NewSleepClock(t)
	transport := testutils.NewScriptedTransport(t, clock,
		withRetryAfter(429, "2"),
		testutils.Status(200, "ok"),
	)
	policy := mustPolicy(t, retry.WithBaseDelay(100*time.Millisecond))
	c := newTestClient(t, clock, transport, WithPolicy(policy))

	body, err := c.Get(testutils.Context(t), "/items", deadline.None())
	require.NoError(t, err)

	assert.Equal(t, "ok", string(body))
	assert.Equal(t, []time.Duration{2 * time.Second}, clock.Sleeps(), "Retry-After replaces exponential backoff")
	assert.Equal(t, 2, transport.Calls())
}

func TestFetchRetryAfterHTTPDate(t *testing.T) {
	clock := testutils.NewSleepClock(t)
	at := clock.Now().Add(3 * time.Second).UTC().Format(http.TimeFormat)
	transport := testutils.NewScriptedTransport(t, clock,
		withRetryAfter(503, at),
		testutils.Status(200, "ok"),
	)
	c := newTestClient(t, clock, transport)

	_, err := c.Get(testutils.Context(t), "/items", deadline.None())
	require.NoError(t, err)

	sleeps := clock.Sleeps()
	require.Len(t, sleeps, 1)
	assert.InDelta(t, float64(3*time.Second), float64(sleeps[0]), float64(time.Second))
}

func TestFetchRetryAfterZeroFallsBackToBackoff(t *testing.T) {
	clock := testutils.NewSleepClock(t)
	transport := testutils.NewScriptedTransport(t, clock,
		withRetryAfter(429, "0"),
		testutils.Status(200, "ok"),
	)
	c := newTestClient(t, clock, transport)

	_, err := c.Get(testutils.Context(t), "/items", deadline.None())
	require.NoError(t, err)

	assert.Equal(t, []time.Duration{time.Second}, clock.Sleeps(), "Retry-After: 0 must not cause an immediate retry")
}

func TestFetchRetryExhausted(t *testing.T) {
	clock := testutils.NewSleepClock(t)
	transport := testutils.NewScriptedTransport(t, clock,
		testutils.Status(503, "a"),
		testutils.Status(503, "b"),
		testutils.Status(503, "c"),
		testutils.Status(503, "d"),
	)
	c := newTestClient(t, clock, transport, WithPolicy(mustPolicy(t, retry.WithMaxRetries(3))))

	_, err := c.Get(testutils.Context(t), "/items", deadline.None())

	fe := testutils.RequireKind(t, err, types.KindRetryExhausted)
	re := fe.(*types.RetryExhaustedError)
	assert.Equal(t, 4, re.Attempts)
	assert.Equal(t, 503, re.StatusCode)
	assert.Equal(t, "d", string(re.Payload), "only the last failure is kept")
	assert.Equal(t, 4, transport.Calls())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, clock.Sleeps())
}

func TestFetchTwoConsecutive503s(t *testing.T) {
	clock := testutils.NewSleepClock(t)
	transport := testutils.NewScriptedTransport(t, clock, testutils.Status(503, ""), testutils.Status(503, ""))
	c := newTestClient(t, clock, transport)

	_, err := c.Get(testutils.Context(t), "/items", deadline.None())

	fe := testutils.RequireKind(t, err, types.KindRetryExhausted)
	re := fe.(*types.RetryExhaustedError)
	assert.Equal(t, 2, re.Attempts)
	assert.Equal(t, 503, re.StatusCode)
}

func TestFetchTransportCodeRetried(t *testing.T) {
	clock := testutils.NewSleepClock(t)
	transport := testutils.NewScriptedTransport(t, clock,
		testutils.Failure(types.CodeRefused),
		testutils.Status(200, "ok"),
	)
	c := newTestClient(t, clock, transport)

	body, err := c.Get(testutils.Context(t), "/items", deadline.In(clock, time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
	assert.Equal(t, 2, transport.Calls())
}

func TestFetchTerminalFailures(t *testing.T) {
	unexpected := errors.New("boom")

	tests := []struct {
		name  string
		step  testutils.Step
		check func(t *testing.T, ce *types.ClientError)
	}{
		{
			name: "404",
			step: testutils.Status(404, "missing"),
			check: func(t *testing.T, ce *types.ClientError) {
				assert.Equal(t, 404, ce.StatusCode)
				assert.Equal(t, "missing", string(ce.Payload))
			},
		},
		{
			name: "500 is not in the retryable set",
			step: testutils.Status(500, ""),
			check: func(t *testing.T, ce *types.ClientError) {
				assert.Equal(t, 500, ce.StatusCode)
			},
		},
		{
			name: "terminal transport code",
			step: testutils.Failure(types.CodeTLS),
			check: func(t *testing.T, ce *types.ClientError) {
				assert.Equal(t, types.CodeTLS, ce.Code)
			},
		},
		{
			name: "unrecognized error",
			step: testutils.Step{Err: unexpected},
			check: func(t *testing.T, ce *types.ClientError) {
				assert.ErrorIs(t, ce, unexpected)
				assert.Zero(t, ce.StatusCode)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := testutils.NewSleepClock(t)
			transport := testutils.NewScriptedTransport(t, clock, tt.step)
			c := newTestClient(t, clock, transport)

			_, err := c.Get(testutils.Context(t), "/items", deadline.None())

			fe := testutils.RequireKind(t, err, types.KindClient)
			tt.check(t, fe.(*types.ClientError))
			assert.Equal(t, 1, transport.Calls())
		})
	}
}

func TestFetchDeadlineAlreadyPassed(t *testing.T) {
	clock := testutils.NewSleepClock(t)
	transport := testutils.NewScriptedTransport(t, clock)
	c := newTestClient(t, clock, transport)

	dl := deadline.At(clock.Now().Add(-time.Second))
	_, err := c.Get(testutils.Context(t), "/items", dl)

	fe := testutils.RequireKind(t, err, types.KindDeadlineExceeded)
	de := fe.(*types.DeadlineExceededError)
	assert.Equal(t, 0, de.Attempts)
	assert.Equal(t, dl.Time(), de.Deadline)
	assert.Equal(t, 0, transport.Calls())
}

func TestFetchDeadlineInsideSafetyBuffer(t *testing.T) {
	clock := testutils.NewSleepClock(t)
	transport := testutils.NewScriptedTransport(t, clock)
	c := newTestClient(t, clock, transport)

	_, err := c.Get(testutils.Context(t), "/items", deadline.In(clock, deadline.SafetyBuffer))

	testutils.RequireKind(t, err, types.KindDeadlineExceeded)
	assert.Equal(t, 0, transport.Calls())
}

func TestFetchBudgetTooSmallForBackoff(t *testing.T) {
	clock := testutils.NewSleepClock(t)
	transport := testutils.NewScriptedTransport(t, clock, testutils.Status(503, "busy"))
	c := newTestClient(t, clock, transport, WithPolicy(mustPolicy(t, retry.WithMaxRetries(3))))

	// 950ms of budget easily clears the 20% floor but cannot hold a 1s backoff
	_, err := c.Get(testutils.Context(t), "/items", deadline.In(clock, time.Second))

	fe := testutils.RequireKind(t, err, types.KindBudgetExhausted)
	be := fe.(*types.BudgetExhaustedError)
	assert.Equal(t, 1, be.Attempts)
	assert.Equal(t, 950*time.Millisecond, be.Remaining)
	assert.Equal(t, 503, be.StatusCode)
	assert.Empty(t, clock.Sleeps(), "must fail fast instead of sleeping")
}

func TestFetchBudgetBelowRetryFloor(t *testing.T) {
	clock := testutils.NewSleepClock(t)
	transport := testutils.NewScriptedTransport(t, clock,
		testutils.Step{Status: 502, Elapse: 8500 * time.Millisecond},
	)
	policy := mustPolicy(t, retry.WithBaseDelay(10*time.Millisecond), retry.WithPerAttemptTimeout(20*time.Second))
	c := newTestClient(t, clock, transport, WithPolicy(policy))

	// original budget 9950ms; after the slow attempt 1450ms remain, under the 1990ms floor
	_, err := c.Get(testutils.Context(t), "/items", deadline.In(clock, 10*time.Second))

	fe := testutils.RequireKind(t, err, types.KindBudgetExhausted)
	be := fe.(*types.BudgetExhaustedError)
	assert.Equal(t, 1, be.Attempts)
	assert.Equal(t, 1450*time.Millisecond, be.Remaining)
	assert.Empty(t, clock.Sleeps())
}

func TestFetchRetryAfterBeyondBudget(t *testing.T) {
	clock := testutils.NewSleepClock(t)
	transport := testutils.NewScriptedTransport(t, clock, withRetryAfter(429, "5"))
	c := newTestClient(t, clock, transport)

	_, err := c.Get(testutils.Context(t), "/items", deadline.In(clock, 3*time.Second))

	testutils.RequireKind(t, err, types.KindBudgetExhausted)
	assert.Empty(t, clock.Sleeps())
}

func TestFetchTimeoutAtDeadline(t *testing.T) {
	clock := testutils.NewSleepClock(t)
	transport := testutils.NewScriptedTransport(t, clock,
		testutils.Step{Code: types.CodeTimedOut, Elapse: time.Second},
	)
	c := newTestClient(t, clock, transport, WithPolicy(mustPolicy(t, retry.WithMaxRetries(3))))

	dl := deadline.In(clock, time.Second)
	_, err := c.Get(testutils.Context(t), "/items", dl)

	fe := testutils.RequireKind(t, err, types.KindDeadlineExceeded)
	de := fe.(*types.DeadlineExceededError)
	assert.Equal(t, 1, de.Attempts)
	assert.Equal(t, dl.Time(), de.Deadline)

	var te *types.TransportError
	assert.ErrorAs(t, err, &te)
	assert.Equal(t, 1, transport.Calls())
}

func TestFetchSlowAttemptIsRetried(t *testing.T) {
	clock := testutils.NewSleepClock(t)
	transport := testutils.NewScriptedTransport(t, clock,
		testutils.Step{Code: types.CodeTimedOut, Elapse: 3 * time.Second},
		testutils.Status(200, "ok"),
	)
	c := newTestClient(t, clock, transport)

	body, err := c.Get(testutils.Context(t), "/items", deadline.In(clock, time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
	assert.Equal(t, []time.Duration{time.Second}, clock.Sleeps())
}

func TestFetchEffectiveTimeoutRecomputedPerAttempt(t *testing.T) {
	clock := testutils.NewSleepClock(t)
	transport := testutils.NewScriptedTransport(t, clock,
		testutils.Step{Status: 503, Elapse: 500 * time.Millisecond},
		testutils.Status(200, "ok"),
	)
	policy := mustPolicy(t, retry.WithBaseDelay(100*time.Millisecond), retry.WithMaxDelay(time.Second))
	c := newTestClient(t, clock, transport, WithPolicy(policy))

	_, err := c.Get(testutils.Context(t), "/items", deadline.In(clock, 2*time.Second))
	require.NoError(t, err)

	reqs := transport.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, 1950*time.Millisecond, reqs[0].Timeout, "capped by the remaining budget")
	assert.Equal(t, 1350*time.Millisecond, reqs[1].Timeout, "recomputed after the slow attempt and the backoff")
}

func TestFetchUnconstrainedTimeout(t *testing.T) {
	clock := testutils.NewSleepClock(t)
	transport := testutils.NewScriptedTransport(t, clock, testutils.Status(204, ""))
	c := newTestClient(t, clock, transport)

	_, err := c.Get(testutils.Context(t), "/items", deadline.None())
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, transport.Requests()[0].Timeout)
}

func TestFetchPropagatesHeaders(t *testing.T) {
	clock := testutils.NewSleepClock(t)
	transport := testutils.NewScriptedTransport(t, clock,
		testutils.Status(503, ""),
		testutils.Status(200, "ok"),
	)
	c := newTestClient(t, clock, transport,
		WithHeader("X-Client", "inventory"),
		WithRequestIDGenerator(func() string { return "req-1" }),
	)

	dl := deadline.In(clock, time.Minute)
	_, err := c.Get(testutils.Context(t), "/items", dl)
	require.NoError(t, err)

	reqs := transport.Requests()
	require.Len(t, reqs, 2)
	for i, req := range reqs {
		assert.Equal(t, dl.HeaderValue(), req.Header.Get(deadline.HeaderName), "attempt %d", i+1)
		assert.Equal(t, "req-1", req.Header.Get(HeaderRequestID), "attempt %d", i+1)
		assert.Equal(t, "inventory", req.Header.Get("X-Client"), "attempt %d", i+1)
		assert.Equal(t, testBaseURL+"/items", req.URL)
		assert.Equal(t, http.MethodGet, req.Method)
	}
}

func TestFetchRequestOptions(t *testing.T) {
	clock := testutils.NewSleepClock(t)
	transport := testutils.NewScriptedTransport(t, clock, testutils.Status(201, "created"))
	c := newTestClient(t, clock, transport, WithHeader("X-Client", "inventory"))

	_, err := c.Fetch(testutils.Context(t), "/orders?dry=1", Options{
		Method: http.MethodPost,
		JSON:   map[string]int{"qty": 2},
		Token:  "s3cret",
		Header: http.Header{"x-client": []string{"override"}, HeaderRequestID: []string{"upstream-id"}},
	})
	require.NoError(t, err)

	req := transport.Requests()[0]
	assert.Equal(t, testBaseURL+"/orders?dry=1", req.URL)
	assert.JSONEq(t, `{"qty":2}`, string(req.Body))
	assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
	assert.Equal(t, "Bearer s3cret", req.Header.Get("Authorization"))
	assert.Equal(t, "override", req.Header.Get("X-Client"))
	assert.Equal(t, "upstream-id", req.Header.Get(HeaderRequestID), "an inbound request id is kept")
	assert.Empty(t, req.Header.Get(deadline.HeaderName), "no deadline, no header")
}

func TestFetchLocalModeIgnoresDeadline(t *testing.T) {
	clock := testutils.NewSleepClock(t)
	transport := testutils.NewScriptedTransport(t, clock, testutils.Status(200, "ok"))
	c := newTestClient(t, clock, transport, WithLocalMode(true))

	stale := deadline.At(clock.Now().Add(-time.Hour))
	body, err := c.Get(testutils.Context(t), "/items", stale)
	require.NoError(t, err)

	assert.Equal(t, "ok", string(body))
	assert.Empty(t, transport.Requests()[0].Header.Get(deadline.HeaderName))
}

func TestFetchRetryOverride(t *testing.T) {
	clock := testutils.NewSleepClock(t)
	transport := testutils.NewScriptedTransport(t, clock, testutils.Status(503, ""))
	c := newTestClient(t, clock, transport, WithPolicy(mustPolicy(t, retry.WithMaxRetries(5))))

	_, err := c.Fetch(testutils.Context(t), "/items", Options{
		Retry: &retry.Override{MaxRetries: retry.Ptr(0)},
	})

	fe := testutils.RequireKind(t, err, types.KindRetryExhausted)
	assert.Equal(t, 1, fe.(*types.RetryExhaustedError).Attempts)
	assert.Equal(t, 5, c.Policy().MaxRetries, "the client policy is untouched")
}

func TestFetchInvalidInput(t *testing.T) {
	tests := []struct {
		name string
		path string
		opts Options
		base bool
		want error
	}{
		{name: "empty path", path: "  ", base: true, want: types.ErrEmptyPath},
		{name: "relative path without base", path: "/items", want: types.ErrNoBaseURL},
		{name: "invalid override", path: "/items", base: true, opts: Options{Retry: &retry.Override{MaxRetries: retry.Ptr(-1)}}, want: retry.ErrInvalidPolicy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := testutils.NewSleepClock(t)
			transport := testutils.NewScriptedTransport(t, clock)
			opts := []Option{WithTransport(transport), WithClock(clock)}
			if tt.base {
				opts = append(opts, WithBaseURL(testBaseURL))
			}
			c, err := New(opts...)
			require.NoError(t, err)

			_, err = c.Fetch(testutils.Context(t), tt.path, tt.opts)

			testutils.RequireKind(t, err, types.KindClient)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, 0, transport.Calls())
		})
	}
}

func TestFetchUnencodableJSON(t *testing.T) {
	clock := testutils.NewSleepClock(t)
	transport := testutils.NewScriptedTransport(t, clock)
	c := newTestClient(t, clock, transport)

	_, err := c.Fetch(testutils.Context(t), "/items", Options{Method: http.MethodPost, JSON: make(chan int)})
	testutils.RequireKind(t, err, types.KindClient)
}

func TestFetchCanceledContext(t *testing.T) {
	clock := testutils.NewSleepClock(t)
	transport := testutils.NewScriptedTransport(t, clock)
	c := newTestClient(t, clock, transport)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Get(ctx, "/items", deadline.In(clock, time.Minute))

	testutils.RequireKind(t, err, types.KindClient)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, transport.Calls())
}

func TestFetchCanceledDuringBackoff(t *testing.T) {
	clock := testutils.NewSleepClock(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	transport := testutils.NewScriptedTransport(t, clock, testutils.Status(503, ""))
	handler := &cancelOnRetry{cancel: cancel}
	c := newTestClient(t, clock, transport, WithEventHandler(handler))

	_, err := c.Get(ctx, "/items", deadline.None())

	testutils.RequireKind(t, err, types.KindClient)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, transport.Calls())
}

type cancelOnRetry struct {
	NopEventHandler
	cancel context.CancelFunc
}

func (h *cancelOnRetry) OnRetry(context.Context, CallInfo, RetryInfo) {
	h.cancel()
}

func TestNew(t *testing.T) {
	t.Run("nil transport", func(t *testing.T) {
		_, err := New(WithTransport(nil))
		assert.ErrorIs(t, err, types.ErrNilTransport)
	})

	t.Run("invalid base url", func(t *testing.T) {
		_, err := New(WithBaseURL("inventory"))
		assert.Error(t, err)
	})

	t.Run("invalid policy", func(t *testing.T) {
		_, err := New(WithPolicy(retry.Policy{MaxRetries: -1}))
		assert.ErrorIs(t, err, retry.ErrInvalidPolicy)
	})

	t.Run("defaults", func(t *testing.T) {
		c, err := New()
		require.NoError(t, err)
		assert.Equal(t, retry.DefaultPolicy(), c.Policy())
		assert.IsType(t, &HTTPTransport{}, c.transport)
		assert.IsType(t, &LoggingEventHandler{}, c.events)
	})
}

func TestResolve(t *testing.T) {
	c, err := New(WithBaseURL("https://api.test/v1/"))
	require.NoError(t, err)

	tests := []struct {
		path string
		want string
	}{
		{"items", "https://api.test/v1/items"},
		{"/items", "https://api.test/v1/items"},
		{"/items?page=2", "https://api.test/v1/items?page=2"},
		{"https://other.test/x", "https://other.test/x"},
	}

	for _, tt := range tests {
		got, err := c.resolve(tt.path)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.path)
	}
}

func mustPolicy(t *testing.T, opts ...retry.PolicyOption) retry.Policy {
	t.Helper()
	p, err := retry.NewPolicy(opts...)
	require.NoError(t, err)
	return p
}
