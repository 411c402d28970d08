package audithook_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	ah "github.com/xraph/courier/audit_hook"
	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/ext"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/intent"
)

// mockRecorder captures audit events for verification.
type mockRecorder struct {
	mu     sync.Mutex
	events []*ah.AuditEvent
}

func (m *mockRecorder) Record(_ context.Context, evt *ah.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
	return nil
}

func (m *mockRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func (m *mockRecorder) findByAction(action string) *ah.AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, evt := range m.events {
		if evt.Action == action {
			return evt
		}
	}
	return nil
}

func newTestIntent() *intent.Intent {
	return intent.New("tenant_1", "user_42", "order.shipped", "Shipped", "On its way", nil)
}

func emitAll(r *ext.Registry) {
	ctx := context.Background()
	in := newTestIntent()
	r.EmitIntentDelivered(ctx, in, delivery.Result{Delivered: 2, Failed: 1}, 40*time.Millisecond)
	r.EmitIntentSkipped(ctx, in)
	r.EmitIntentFailed(ctx, in, errors.New("no token accepted the message"))
	r.EmitTokensDeactivated(ctx, "user_42", []id.TokenID{id.NewTokenID(), id.NewTokenID()})
	r.EmitIntentsReclaimed(ctx, 3)
	r.EmitIntentsPurged(ctx, 10)
	r.EmitShutdown(ctx)
}

func TestExtension_RecordsEveryAction(t *testing.T) {
	rec := &mockRecorder{}
	r := ext.NewRegistry(slog.Default())
	r.Register(ah.New(rec))

	emitAll(r)

	if rec.count() != len(ah.AllActions()) {
		t.Fatalf("events = %d, want %d", rec.count(), len(ah.AllActions()))
	}
	for _, action := range ah.AllActions() {
		if rec.findByAction(action) == nil {
			t.Errorf("missing action %s", action)
		}
	}
}

func TestExtension_EventFields(t *testing.T) {
	rec := &mockRecorder{}
	r := ext.NewRegistry(slog.Default())
	r.Register(ah.New(rec))
	emitAll(r)

	delivered := rec.findByAction(ah.ActionIntentDelivered)
	if delivered.TenantID != "tenant_1" || delivered.Resource != ah.ResourceIntent {
		t.Errorf("delivered = %+v", delivered)
	}
	if delivered.Metadata["delivered"] != 2 || delivered.Metadata["elapsed_ms"] != int64(40) {
		t.Errorf("delivered metadata = %v", delivered.Metadata)
	}

	failed := rec.findByAction(ah.ActionIntentFailed)
	if failed.Severity != ah.SeverityWarning || failed.Outcome != ah.OutcomeFailure {
		t.Errorf("failed = %+v", failed)
	}
	if failed.Reason != "no token accepted the message" {
		t.Errorf("reason = %q", failed.Reason)
	}

	retired := rec.findByAction(ah.ActionTokensDeactivated)
	if retired.ResourceID != "user_42" || retired.Metadata["count"] != 2 {
		t.Errorf("retired = %+v", retired)
	}
	ids, ok := retired.Metadata["token_ids"].([]string)
	if !ok || len(ids) != 2 || !strings.HasPrefix(ids[0], "ptok_") {
		t.Errorf("token_ids = %v", retired.Metadata["token_ids"])
	}
}

func TestExtension_WithActionsFilters(t *testing.T) {
	rec := &mockRecorder{}
	r := ext.NewRegistry(slog.Default())
	r.Register(ah.New(rec, ah.WithActions(ah.ActionTokensDeactivated)))

	emitAll(r)

	if rec.count() != 1 || rec.findByAction(ah.ActionTokensDeactivated) == nil {
		t.Errorf("events = %d, want only %s", rec.count(), ah.ActionTokensDeactivated)
	}
}

func TestExtension_RecorderErrorIsLogged(t *testing.T) {
	var buf bytes.Buffer
	x := ah.New(
		ah.RecorderFunc(func(context.Context, *ah.AuditEvent) error { return errors.New("sink down") }),
		ah.WithLogger(slog.New(slog.NewTextHandler(&buf, nil))),
	)

	if err := x.OnShutdown(context.Background()); err != nil {
		t.Fatalf("OnShutdown returned %v, want nil", err)
	}
	if !strings.Contains(buf.String(), "failed to record audit event") {
		t.Errorf("log = %q", buf.String())
	}
}

func TestLogRecorder(t *testing.T) {
	var buf bytes.Buffer
	x := ah.New(ah.LogRecorder(slog.New(slog.NewJSONHandler(&buf, nil))))

	if err := x.OnIntentFailed(context.Background(), newTestIntent(), errors.New("boom")); err != nil {
		t.Fatalf("OnIntentFailed: %v", err)
	}
	out := buf.String()
	for _, want := range []string{`"msg":"audit"`, `"action":"intent.failed"`, `"reason":"boom"`, `"tenant_id":"tenant_1"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log %q missing %s", out, want)
		}
	}
}
