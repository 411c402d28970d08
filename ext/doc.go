// Package ext defines lifecycle hooks for courier.
//
// Extensions are notified as intents settle and as the maintenance sweeps
// run, and can react to them: writing an audit trail, emitting webhooks,
// feeding an external analytics pipeline. Each hook is a separate
// interface so extensions opt in only to the events they care about.
//
// # Implementing an Extension
//
//	type Audit struct{}
//
//	func (a *Audit) Name() string { return "audit" }
//
//	func (a *Audit) OnTokensDeactivated(ctx context.Context, userID string, ids []id.TokenID) error {
//	    slog.InfoContext(ctx, "tokens retired", "user_id", userID, "count", len(ids))
//	    return nil
//	}
//
// # Intent Hooks
//
//   - [IntentDelivered]: at least one device accepted the message
//   - [IntentSkipped]: the recipient had no active tokens
//   - [IntentFailed]: nothing was delivered, or reconciliation failed
//   - [TokensDeactivated]: the transport reported tokens as unregistered
//
// # Sweep Hooks
//
//   - [IntentsReclaimed]: stuck claims were returned to pending
//   - [IntentsPurged]: processed intents past retention were deleted
//   - [Shutdown]: an engine finished draining
//
// Hooks run synchronously on the delivering goroutine after the intent is
// marked processed. A hook error is logged and never changes the outcome.
package ext
