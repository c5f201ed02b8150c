package fetch

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/jzx17/deadlinefetch/pkg/config"
	"github.com/jzx17/deadlinefetch/pkg/deadline"
	"github.com/jzx17/deadlinefetch/pkg/logger"
	"github.com/jzx17/deadlinefetch/pkg/retry"
	"github.com/jzx17/deadlinefetch/pkg/types"
)

// Client issues deadline-aware requests. It is safe for concurrent use; calls
// share nothing mutable except the optional rate limiter.
type Client struct {
	rawBase   string
	baseURL   *url.URL
	transport types.Transport
	policy    retry.Policy
	clock     types.Clock
	log       logger.Logger
	events    EventHandler
	header    http.Header
	local     bool
	limiter   *rate.Limiter
	jitter    retry.JitterFunc
	requestID func() string

	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	propagator     propagation.TextMapPropagator
	telemetry      *telemetry
}

// Option is a configuration option for New
type Option func(*Client)

// WithBaseURL sets the URL that relative paths are resolved against
func WithBaseURL(base string) Option {
	return func(c *Client) {
		c.rawBase = base
	}
}

// WithTransport replaces the default net/http transport
func WithTransport(t types.Transport) Option {
	return func(c *Client) {
		c.transport = t
	}
}

// WithPolicy sets the client-wide retry policy
func WithPolicy(p retry.Policy) Option {
	return func(c *Client) {
		c.policy = p
	}
}

// WithClock sets the clock for time operations
func WithClock(clock types.Clock) Option {
	return func(c *Client) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithLogger sets the logger; the default discards everything
func WithLogger(l logger.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithEventHandler sets the handler notified about attempts, retries and outcomes
func WithEventHandler(h EventHandler) Option {
	return func(c *Client) {
		c.events = h
	}
}

// WithHeader adds a header sent on every request
func WithHeader(key, value string) Option {
	return func(c *Client) {
		c.header.Add(key, value)
	}
}

// WithLocalMode disables deadline enforcement and propagation for interactive use
func WithLocalMode(local bool) Option {
	return func(c *Client) {
		c.local = local
	}
}

// WithRateLimiter paces attempts through l. A wait the deadline cannot
// afford ends the call with a BudgetExhaustedError.
func WithRateLimiter(l *rate.Limiter) Option {
	return func(c *Client) {
		c.limiter = l
	}
}

// WithJitter replaces the backoff jitter source
func WithJitter(j retry.JitterFunc) Option {
	return func(c *Client) {
		c.jitter = j
	}
}

// WithRequestIDGenerator replaces the uuid-based request id generator
func WithRequestIDGenerator(gen func() string) Option {
	return func(c *Client) {
		if gen != nil {
			c.requestID = gen
		}
	}
}

// WithTracerProvider sets the tracer provider; the global one is used otherwise
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) {
		c.tracerProvider = tp
	}
}

// WithMeterProvider sets the meter provider; the global one is used otherwise
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(c *Client) {
		c.meterProvider = mp
	}
}

// WithPropagator sets the propagator injecting trace context into each attempt
func WithPropagator(p propagation.TextMapPropagator) Option {
	return func(c *Client) {
		c.propagator = p
	}
}

// New creates a client. Without WithTransport it uses NewHTTPTransport(nil).
func New(opts ...Option) (*Client, error) {
	c := &Client{
		policy:    retry.DefaultPolicy(),
		clock:     types.NewRealClock(),
		log:       logger.Nop(),
		header:    http.Header{},
		jitter:    retry.ProportionalJitter(retry.DefaultJitterFraction),
		requestID: func() string { return uuid.NewString() },
	}
	c.transport = NewHTTPTransport(nil)

	for _, opt := range opts {
		opt(c)
	}

	if c.transport == nil {
		return nil, types.ErrNilTransport
	}
	if err := c.policy.Validate(); err != nil {
		return nil, err
	}

	if c.rawBase != "" {
		u, err := url.Parse(c.rawBase)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("invalid base URL %q", c.rawBase)
		}
		c.baseURL = u
	}
	if c.events == nil {
		c.events = NewLoggingEventHandler(c.log)
	}

	c.telemetry = newTelemetry(c.tracerProvider, c.meterProvider, c.propagator, c.log)
	return c, nil
}

// NewFromConfig creates a client from loaded configuration. opts are applied
// after the configured values and may override them.
func NewFromConfig(cfg *config.Config, opts ...Option) (*Client, error) {
	policy, err := cfg.RetryPolicy()
	if err != nil {
		return nil, err
	}

	base := []Option{
		WithPolicy(policy),
		WithLocalMode(cfg.Local()),
		WithLogger(logger.New(cfg.Log.Level, cfg.Log.Pretty)),
	}
	if cfg.Client.BaseURL != "" {
		base = append(base, WithBaseURL(cfg.Client.BaseURL))
	}
	if cfg.Client.RateLimit > 0 {
		base = append(base, WithRateLimiter(rate.NewLimiter(rate.Limit(cfg.Client.RateLimit), cfg.Client.Burst)))
	}

	return New(append(base, opts...)...)
}

// Policy returns the client-wide retry policy
func (c *Client) Policy() retry.Policy {
	return c.policy
}

// resolve joins path onto the base URL. Absolute URLs pass through.
func (c *Client) resolve(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", types.ErrEmptyPath
	}

	ref, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("invalid path %q: %w", path, err)
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}
	if c.baseURL == nil {
		return "", types.ErrNoBaseURL
	}

	joined := *c.baseURL
	joined.Path = strings.TrimSuffix(c.baseURL.Path, "/") + "/" + strings.TrimPrefix(ref.Path, "/")
	joined.RawPath = ""
	if ref.RawQuery != "" {
		joined.RawQuery = ref.RawQuery
	}
	return joined.String(), nil
}

// effectiveDeadline drops the deadline in local mode
func (c *Client) effectiveDeadline(d deadline.Deadline) deadline.Deadline {
	if c.local {
		return deadline.None()
	}
	return d
}
