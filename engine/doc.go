// Package engine runs the claim, dispatch and reconcile loop.
//
// An Engine claims a batch of pending intents, fans the batch out with one
// goroutine per intent, and for each intent looks up the recipient's active
// tokens, dispatches to them, deactivates tokens the provider rejected and
// finally marks the intent processed. Marking is unconditional: a failed
// delivery still consumes the intent.
//
// # Lifecycle
//
//	Stopped → Running → Draining → Stopped
//
// Start runs one reclaim sweep before entering Running, so claims left by a
// crashed instance become eligible again. Stop stops claiming at once and
// waits for the in-flight batch, bounded by the context deadline or
// Config.ShutdownTimeout.
//
//	eng := engine.New(pgStore, pgStore, delivery.New(fcmTransport),
//	    engine.WithConfig(cfg),
//	    engine.WithLogger(logger),
//	    engine.WithStats(acc),
//	)
//	if err := eng.Start(ctx); err != nil { ... }
//	defer eng.Stop(context.Background())
//
// # Options
//
//   - [WithConfig] sets batch size, poll interval, backoff cap and timeouts
//   - [WithLogger] sets the structured logger
//   - [WithStats] injects the stats accumulator shared with readers
//   - [WithMiddleware] appends to the per-intent chain
//   - [WithExtension] registers lifecycle hooks (see package ext)
//   - [WithBackoff] overrides the store-error backoff
//   - [WithTracerProvider], [WithMeterProvider] set OpenTelemetry providers
package engine
