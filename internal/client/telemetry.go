package client

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "github.com/zmcp/odata-client/internal/client"

// telemetry holds the tracer and instruments of one client. With no
// providers configured every call is a no-op.
type telemetry struct {
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator

	requests       metric.Int64Counter
	duration       metric.Float64Histogram
	decodeFailures metric.Int64Counter
}

func newTelemetry(tp trace.TracerProvider, mp metric.MeterProvider) (*telemetry, error) {
	if tp == nil {
		tp = tracenoop.NewTracerProvider()
	}
	if mp == nil {
		mp = metricnoop.NewMeterProvider()
	}
	meter := mp.Meter(instrumentationName)

	t := &telemetry{
		tracer:     tp.Tracer(instrumentationName),
		propagator: propagation.TraceContext{},
	}
	var err error
	if t.requests, err = meter.Int64Counter("odata.client.requests",
		metric.WithDescription("HTTP requests sent, by method and status")); err != nil {
		return nil, err
	}
	if t.duration, err = meter.Float64Histogram("odata.client.request.duration",
		metric.WithDescription("HTTP round trip time"), metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	if t.decodeFailures, err = meter.Int64Counter("odata.client.decode_failures",
		metric.WithDescription("Response payloads that failed to decode")); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *telemetry) start(ctx context.Context, op, method, url string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "odata."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("url.full", url),
		))
}

func (t *telemetry) recordRequest(ctx context.Context, method string, status int, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("http.request.method", method),
		attribute.Int("http.response.status_code", status),
	)
	t.requests.Add(ctx, 1, attrs)
	t.duration.Record(ctx, float64(elapsed)/float64(time.Millisecond), attrs)
}

func (t *telemetry) recordDecodeFailure(ctx context.Context, format string) {
	t.decodeFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("odata.format", format)))
}

func endSpan(span trace.Span, status int, err error) {
	if status != 0 {
		span.SetAttributes(attribute.Int("http.response.status_code", status))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
