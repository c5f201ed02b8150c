package fetch

import (
	"context"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/jzx17/deadlinefetch/pkg/logger"
	"github.com/jzx17/deadlinefetch/pkg/types"
)

const (
	instrumentationName = "github.com/jzx17/deadlinefetch/pkg/fetch"

	metricAttempts = "fetch.attempts"
	metricFailures = "fetch.failures"
	metricBackoff  = "fetch.backoff.delay"

	attrMethod      = "http.request.method"
	attrURL         = "url.full"
	attrRequestID   = "fetch.request_id"
	attrDeadline    = "fetch.deadline_ms"
	attrAttempt     = "fetch.attempt"
	attrAttempts    = "fetch.attempts"
	attrErrorType   = "error.type"
	attrRetryAfter  = "fetch.retry_after"
	attrStatusCode  = "http.response.status_code"
	attrNetworkCode = "fetch.transport_code"
)

// backoffBuckets are histogram boundaries in seconds
var backoffBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 16}

// telemetry records one span per logical call and attempt/backoff metrics.
// Instrument creation failures are logged and leave the instrument nil.
type telemetry struct {
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator

	attempts metric.Int64Counter
	failures metric.Int64Counter
	backoffs metric.Float64Histogram
}

func newTelemetry(tp trace.TracerProvider, mp metric.MeterProvider, prop propagation.TextMapPropagator, log logger.Logger) *telemetry {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	if prop == nil {
		prop = otel.GetTextMapPropagator()
	}

	t := &telemetry{
		tracer:     tp.Tracer(instrumentationName),
		propagator: prop,
	}
	meter := mp.Meter(instrumentationName)

	var err error
	t.attempts, err = meter.Int64Counter(metricAttempts,
		metric.WithDescription("Outbound attempts issued"),
		metric.WithUnit("{attempt}"))
	logMetricError(log, metricAttempts, err)

	t.failures, err = meter.Int64Counter(metricFailures,
		metric.WithDescription("Logical calls that gave up, by failure kind"),
		metric.WithUnit("{call}"))
	logMetricError(log, metricFailures, err)

	t.backoffs, err = meter.Float64Histogram(metricBackoff,
		metric.WithDescription("Delay slept before a retry"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(backoffBuckets...))
	logMetricError(log, metricBackoff, err)

	return t
}

func logMetricError(log logger.Logger, name string, err error) {
	if err != nil {
		log.Warn().Str("metric", name).Err(err).Msg("failed to create metric instrument")
	}
}

func (t *telemetry) start(ctx context.Context, cl *call) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{
		attribute.String(attrMethod, cl.method),
		attribute.String(attrURL, cl.url),
		attribute.String(attrRequestID, cl.requestID),
	}
	if d := cl.budget.Deadline(); d.IsSet() {
		attrs = append(attrs, attribute.Int64(attrDeadline, d.EpochMillis()))
	}

	return t.tracer.Start(ctx, "fetch "+cl.method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...))
}

// attempt counts the attempt, marks it on the call span and injects the trace
// context into the outbound headers.
func (t *telemetry) attempt(ctx context.Context, header http.Header, cl *call) {
	trace.SpanFromContext(ctx).AddEvent("attempt",
		trace.WithAttributes(attribute.Int(attrAttempt, cl.attempts)))

	if t.attempts != nil {
		t.attempts.Add(ctx, 1, metric.WithAttributes(attribute.String(attrMethod, cl.method)))
	}
	t.propagator.Inject(ctx, propagation.HeaderCarrier(header))
}

func (t *telemetry) backoff(ctx context.Context, cl *call, delay time.Duration, fromServer bool) {
	attrs := []attribute.KeyValue{
		attribute.Int(attrAttempt, cl.attempts),
		attribute.Bool(attrRetryAfter, fromServer),
	}
	if cl.last.StatusCode != 0 {
		attrs = append(attrs, attribute.Int(attrStatusCode, cl.last.StatusCode))
	}
	if cl.last.Code != "" {
		attrs = append(attrs, attribute.String(attrNetworkCode, string(cl.last.Code)))
	}
	trace.SpanFromContext(ctx).AddEvent("retry", trace.WithAttributes(attrs...))

	if t.backoffs != nil {
		t.backoffs.Record(ctx, delay.Seconds(), metric.WithAttributes(attribute.Bool(attrRetryAfter, fromServer)))
	}
}

func (t *telemetry) finish(ctx context.Context, span trace.Span, cl *call, err error) {
	defer span.End()
	span.SetAttributes(attribute.Int(attrAttempts, cl.attempts))

	if err == nil {
		span.SetStatus(codes.Ok, "")
		return
	}

	kind, _ := types.KindOf(err)
	span.RecordError(err)
	span.SetStatus(codes.Error, kind.String())
	span.SetAttributes(attribute.String(attrErrorType, kind.String()))
	if t.failures != nil {
		t.failures.Add(ctx, 1, metric.WithAttributes(
			attribute.String(attrMethod, cl.method),
			attribute.String(attrErrorType, kind.String()),
		))
	}
}
