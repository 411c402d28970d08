package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/courier/intent"
)

// instrumentationName is the OTel scope for courier spans and metrics.
const instrumentationName = "github.com/xraph/courier"

// Tracing wraps the delivery step in a span from the global TracerProvider.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(instrumentationName))
}

// TracingWithTracer wraps the delivery step in a span from tracer.
//
// Span attributes: courier.intent.id, courier.intent.event_type,
// courier.tenant_id. Errors set the span status to codes.Error.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, in *intent.Intent, next Handler) error {
		ctx, span := tracer.Start(ctx, "courier.intent.deliver",
			trace.WithAttributes(
				attribute.String("courier.intent.id", in.ID.String()),
				attribute.String("courier.intent.event_type", in.EventType),
				attribute.String("courier.tenant_id", in.TenantID),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		return err
	}
}
