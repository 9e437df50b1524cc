package bloodbank

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/lifeline/bloodbank-engine/bloodbank"

var (
	tracer = otel.Tracer(instrumentationName)
	meter  = otel.Meter(instrumentationName)

	expiredUnits = newCounter("bloodbank.expired_units", "Units written off because their lot expired")
)

// newCounter falls back to a no-op counter if the instrument is rejected.
func newCounter(name, description string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(description), metric.WithUnit("{unit}"))
	if err != nil {
		return noop.Int64Counter{}
	}
	return c
}

// endSpan records err on span (if any) and ends it.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func startSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, opts...)
}

// recordWriteOffs adds the drained units to the expired-units counter,
// tagged by blood type.
func recordWriteOffs(ctx context.Context, written []WriteOff) {
	for _, w := range written {
		expiredUnits.Add(ctx, int64(w.Units),
			metric.WithAttributes(attribute.String("blood_type", w.BloodType.String())))
	}
}
