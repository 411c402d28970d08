package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/intent"
)

// entry pairs a hook with the extension name captured at registration.
type entry[H any] struct {
	name string
	hook H
}

// Registry fans lifecycle events out to registered extensions. Hooks are
// type-cached at registration so an emit only visits implementers. A nil
// *Registry is valid and emits nothing.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	delivered   []entry[IntentDelivered]
	skipped     []entry[IntentSkipped]
	failed      []entry[IntentFailed]
	deactivated []entry[TokensDeactivated]
	reclaimed   []entry[IntentsReclaimed]
	purged      []entry[IntentsPurged]
	shutdown    []entry[Shutdown]
}

// NewRegistry creates a registry that logs hook errors to logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds an extension. Extensions are notified in registration
// order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(IntentDelivered); ok {
		r.delivered = append(r.delivered, entry[IntentDelivered]{name, h})
	}
	if h, ok := e.(IntentSkipped); ok {
		r.skipped = append(r.skipped, entry[IntentSkipped]{name, h})
	}
	if h, ok := e.(IntentFailed); ok {
		r.failed = append(r.failed, entry[IntentFailed]{name, h})
	}
	if h, ok := e.(TokensDeactivated); ok {
		r.deactivated = append(r.deactivated, entry[TokensDeactivated]{name, h})
	}
	if h, ok := e.(IntentsReclaimed); ok {
		r.reclaimed = append(r.reclaimed, entry[IntentsReclaimed]{name, h})
	}
	if h, ok := e.(IntentsPurged); ok {
		r.purged = append(r.purged, entry[IntentsPurged]{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, entry[Shutdown]{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension {
	if r == nil {
		return nil
	}
	return r.extensions
}

// EmitIntentDelivered notifies IntentDelivered implementers.
func (r *Registry) EmitIntentDelivered(ctx context.Context, in *intent.Intent, res delivery.Result, elapsed time.Duration) {
	if r == nil {
		return
	}
	for _, e := range r.delivered {
		r.check("OnIntentDelivered", e.name, e.hook.OnIntentDelivered(ctx, in, res, elapsed))
	}
}

// EmitIntentSkipped notifies IntentSkipped implementers.
func (r *Registry) EmitIntentSkipped(ctx context.Context, in *intent.Intent) {
	if r == nil {
		return
	}
	for _, e := range r.skipped {
		r.check("OnIntentSkipped", e.name, e.hook.OnIntentSkipped(ctx, in))
	}
}

// EmitIntentFailed notifies IntentFailed implementers.
func (r *Registry) EmitIntentFailed(ctx context.Context, in *intent.Intent, cause error) {
	if r == nil {
		return
	}
	for _, e := range r.failed {
		r.check("OnIntentFailed", e.name, e.hook.OnIntentFailed(ctx, in, cause))
	}
}

// EmitTokensDeactivated notifies TokensDeactivated implementers.
func (r *Registry) EmitTokensDeactivated(ctx context.Context, userID string, tokenIDs []id.TokenID) {
	if r == nil || len(tokenIDs) == 0 {
		return
	}
	for _, e := range r.deactivated {
		r.check("OnTokensDeactivated", e.name, e.hook.OnTokensDeactivated(ctx, userID, tokenIDs))
	}
}

// EmitIntentsReclaimed notifies IntentsReclaimed implementers.
func (r *Registry) EmitIntentsReclaimed(ctx context.Context, count int64) {
	if r == nil || count == 0 {
		return
	}
	for _, e := range r.reclaimed {
		r.check("OnIntentsReclaimed", e.name, e.hook.OnIntentsReclaimed(ctx, count))
	}
}

// EmitIntentsPurged notifies IntentsPurged implementers.
func (r *Registry) EmitIntentsPurged(ctx context.Context, count int64) {
	if r == nil || count == 0 {
		return
	}
	for _, e := range r.purged {
		r.check("OnIntentsPurged", e.name, e.hook.OnIntentsPurged(ctx, count))
	}
}

// EmitShutdown notifies Shutdown implementers.
func (r *Registry) EmitShutdown(ctx context.Context) {
	if r == nil {
		return
	}
	for _, e := range r.shutdown {
		r.check("OnShutdown", e.name, e.hook.OnShutdown(ctx))
	}
}

// check logs a hook error. Hook errors never reach the pipeline.
func (r *Registry) check(hook, extName string, err error) {
	if err == nil {
		return
	}
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
