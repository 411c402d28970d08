// Package audithook is a courier extension that bridges lifecycle events
// to an audit trail backend.
//
// Each hook builds a structured [AuditEvent] and hands it to a [Recorder].
// Severity is info for normal settlement and sweeps, and warning for
// intents that delivered nothing. Token retirements carry the user and the
// retired token IDs so a device owner's history can be reconstructed.
//
// # Selective filtering
//
//	audithook.New(recorder,
//	    audithook.WithActions(
//	        audithook.ActionTokensDeactivated,
//	        audithook.ActionIntentFailed,
//	    ),
//	)
package audithook
