package audithook

// Audit event actions. Each constant corresponds to one ext lifecycle hook
// and becomes the Action field of the audit event.
const (
	ActionIntentDelivered   = "intent.delivered"
	ActionIntentSkipped     = "intent.skipped"
	ActionIntentFailed      = "intent.failed"
	ActionTokensDeactivated = "token.deactivated"
	ActionIntentsReclaimed  = "queue.reclaimed"
	ActionIntentsPurged     = "queue.purged"
	ActionShutdown          = "engine.shutdown"
)

// Audit event categories group related actions.
const (
	CategoryIntent = "courier.intent"
	CategoryToken  = "courier.token"
	CategoryQueue  = "courier.queue"
)

// Resource types used as the Resource field in audit events.
const (
	ResourceIntent = "notification_intent"
	ResourceUser   = "user"
	ResourceQueue  = "queue"
)

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionIntentDelivered,
		ActionIntentSkipped,
		ActionIntentFailed,
		ActionTokensDeactivated,
		ActionIntentsReclaimed,
		ActionIntentsPurged,
		ActionShutdown,
	}
}
