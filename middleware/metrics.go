package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/courier/intent"
)

// Metrics records delivery step duration and count on the global
// MeterProvider.
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(instrumentationName))
}

// MetricsWithMeter records delivery step metrics on meter.
//
// Instruments:
//   - courier.intent.delivery.duration (Float64Histogram, seconds)
//   - courier.intent.deliveries (Int64Counter)
//
// Both carry event_type and status ("ok" or "error").
func MetricsWithMeter(meter metric.Meter) Middleware {
	// Instrument errors yield noop instruments per the OTel API contract.
	duration, _ := meter.Float64Histogram(
		"courier.intent.delivery.duration",
		metric.WithDescription("Duration of the per-intent delivery step in seconds"),
		metric.WithUnit("s"),
	)
	deliveries, _ := meter.Int64Counter(
		"courier.intent.deliveries",
		metric.WithDescription("Number of per-intent delivery steps run"),
		metric.WithUnit("{intent}"),
	)

	return func(ctx context.Context, in *intent.Intent, next Handler) error {
		start := time.Now()
		err := next(ctx)

		status := "ok"
		if err != nil {
			status = "error"
		}
		attrs := metric.WithAttributes(
			attribute.String("event_type", in.EventType),
			attribute.String("status", status),
		)
		duration.Record(ctx, time.Since(start).Seconds(), attrs)
		deliveries.Add(ctx, 1, attrs)
		return err
	}
}
