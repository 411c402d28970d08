package middleware_test

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	mw "github.com/xraph/courier/middleware"
)

func setupTestTracer() (*tracetest.SpanRecorder, trace.Tracer) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	return sr, tp.Tracer("test")
}

func TestTracing_CreatesSpanWithAttributes(t *testing.T) {
	sr, tracer := setupTestTracer()
	in := newTestIntent()

	if err := mw.TracingWithTracer(tracer)(context.Background(), in, func(_ context.Context) error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	span := spans[0]
	if span.Name() != "courier.intent.deliver" {
		t.Errorf("span name = %q", span.Name())
	}
	if span.Status().Code != codes.Ok {
		t.Errorf("status = %v, want Ok", span.Status().Code)
	}

	attrs := make(map[string]string)
	for _, a := range span.Attributes() {
		attrs[string(a.Key)] = a.Value.AsString()
	}
	expected := map[string]string{
		"courier.intent.id":         in.ID.String(),
		"courier.intent.event_type": "order.shipped",
		"courier.tenant_id":         "tenant_1",
	}
	for k, want := range expected {
		if attrs[k] != want {
			t.Errorf("attribute %q = %q, want %q", k, attrs[k], want)
		}
	}
}

func TestTracing_Error_SetsErrorStatus(t *testing.T) {
	sr, tracer := setupTestTracer()
	want := errors.New("fcm unavailable")

	err := mw.TracingWithTracer(tracer)(context.Background(), newTestIntent(), func(_ context.Context) error { return want })
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}

	span := sr.Ended()[0]
	if span.Status().Code != codes.Error {
		t.Errorf("status = %v, want Error", span.Status().Code)
	}
	if len(span.Events()) == 0 {
		t.Error("expected recorded error event")
	}
}

func TestTracing_PropagatesContext(t *testing.T) {
	_, tracer := setupTestTracer()
	_ = mw.TracingWithTracer(tracer)(context.Background(), newTestIntent(), func(ctx context.Context) error {
		if !trace.SpanFromContext(ctx).SpanContext().IsValid() {
			t.Error("expected a valid span in the handler context")
		}
		return nil
	})
}

func TestTracing_DefaultNoopSafe(t *testing.T) {
	called := false
	_ = mw.Tracing()(context.Background(), newTestIntent(), func(_ context.Context) error {
		called = true
		return nil
	})
	if !called {
		t.Error("handler was not called")
	}
}
