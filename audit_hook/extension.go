package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/ext"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/intent"
)

// Compile-time interface checks.
var (
	_ ext.Extension         = (*Extension)(nil)
	_ ext.IntentDelivered   = (*Extension)(nil)
	_ ext.IntentSkipped     = (*Extension)(nil)
	_ ext.IntentFailed      = (*Extension)(nil)
	_ ext.TokensDeactivated = (*Extension)(nil)
	_ ext.IntentsReclaimed  = (*Extension)(nil)
	_ ext.IntentsPurged     = (*Extension)(nil)
	_ ext.Shutdown          = (*Extension)(nil)
)

// Recorder persists audit events.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is one audit trail entry.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	TenantID   string         `json:"tenant_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc adapts a plain function to Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// LogRecorder writes audit events to a structured logger at info level.
func LogRecorder(l *slog.Logger) Recorder {
	return RecorderFunc(func(ctx context.Context, evt *AuditEvent) error {
		attrs := []slog.Attr{
			slog.String("action", evt.Action),
			slog.String("resource", evt.Resource),
			slog.String("resource_id", evt.ResourceID),
			slog.String("outcome", evt.Outcome),
			slog.String("severity", evt.Severity),
		}
		if evt.TenantID != "" {
			attrs = append(attrs, slog.String("tenant_id", evt.TenantID))
		}
		if evt.Reason != "" {
			attrs = append(attrs, slog.String("reason", evt.Reason))
		}
		if len(evt.Metadata) > 0 {
			attrs = append(attrs, slog.Any("metadata", evt.Metadata))
		}
		l.LogAttrs(ctx, slog.LevelInfo, "audit", attrs...)
		return nil
	})
}

// Severity constants.
const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
)

// Outcome constants.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Extension turns courier lifecycle events into audit events.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that records through r.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit-hook" }

// OnIntentDelivered implements ext.IntentDelivered.
func (e *Extension) OnIntentDelivered(ctx context.Context, in *intent.Intent, res delivery.Result, elapsed time.Duration) error {
	return e.record(ctx, event{
		action: ActionIntentDelivered, severity: SeverityInfo, outcome: OutcomeSuccess,
		resource: ResourceIntent, resourceID: in.ID.String(), category: CategoryIntent, tenantID: in.TenantID,
	},
		"user_id", in.UserID,
		"event_type", in.EventType,
		"delivered", res.Delivered,
		"failed", res.Failed,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnIntentSkipped implements ext.IntentSkipped.
func (e *Extension) OnIntentSkipped(ctx context.Context, in *intent.Intent) error {
	return e.record(ctx, event{
		action: ActionIntentSkipped, severity: SeverityInfo, outcome: OutcomeSuccess,
		resource: ResourceIntent, resourceID: in.ID.String(), category: CategoryIntent, tenantID: in.TenantID,
	},
		"user_id", in.UserID,
		"event_type", in.EventType,
	)
}

// OnIntentFailed implements ext.IntentFailed.
func (e *Extension) OnIntentFailed(ctx context.Context, in *intent.Intent, cause error) error {
	return e.record(ctx, event{
		action: ActionIntentFailed, severity: SeverityWarning, outcome: OutcomeFailure,
		resource: ResourceIntent, resourceID: in.ID.String(), category: CategoryIntent, tenantID: in.TenantID,
		err: cause,
	},
		"user_id", in.UserID,
		"event_type", in.EventType,
	)
}

// OnTokensDeactivated implements ext.TokensDeactivated.
func (e *Extension) OnTokensDeactivated(ctx context.Context, userID string, tokenIDs []id.TokenID) error {
	ids := make([]string, len(tokenIDs))
	for i, t := range tokenIDs {
		ids[i] = t.String()
	}
	return e.record(ctx, event{
		action: ActionTokensDeactivated, severity: SeverityInfo, outcome: OutcomeSuccess,
		resource: ResourceUser, resourceID: userID, category: CategoryToken,
	},
		"token_ids", ids,
		"count", len(ids),
	)
}

// OnIntentsReclaimed implements ext.IntentsReclaimed.
func (e *Extension) OnIntentsReclaimed(ctx context.Context, count int64) error {
	return e.record(ctx, event{
		action: ActionIntentsReclaimed, severity: SeverityInfo, outcome: OutcomeSuccess,
		resource: ResourceQueue, category: CategoryQueue,
	},
		"count", count,
	)
}

// OnIntentsPurged implements ext.IntentsPurged.
func (e *Extension) OnIntentsPurged(ctx context.Context, count int64) error {
	return e.record(ctx, event{
		action: ActionIntentsPurged, severity: SeverityInfo, outcome: OutcomeSuccess,
		resource: ResourceQueue, category: CategoryQueue,
	},
		"count", count,
	)
}

// OnShutdown implements ext.Shutdown.
func (e *Extension) OnShutdown(ctx context.Context) error {
	return e.record(ctx, event{
		action: ActionShutdown, severity: SeverityInfo, outcome: OutcomeSuccess,
		resource: ResourceQueue, category: CategoryQueue,
	})
}

type event struct {
	action, severity, outcome      string
	resource, resourceID, category string
	tenantID                       string
	err                            error
}

// record sends an audit event if the action is enabled. kvPairs become
// Metadata. A recorder failure is logged, never returned.
func (e *Extension) record(ctx context.Context, ev event, kvPairs ...any) error {
	if e.enabled != nil && !e.enabled[ev.action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if ev.err != nil {
		reason = ev.err.Error()
		meta["error"] = reason
	}

	evt := &AuditEvent{
		Action:     ev.action,
		Resource:   ev.resource,
		Category:   ev.category,
		ResourceID: ev.resourceID,
		TenantID:   ev.tenantID,
		Metadata:   meta,
		Outcome:    ev.outcome,
		Severity:   ev.severity,
		Reason:     reason,
	}

	if err := e.recorder.Record(ctx, evt); err != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			slog.String("action", ev.action),
			slog.String("resource_id", ev.resourceID),
			slog.String("error", err.Error()),
		)
	}
	return nil
}
