// Package courier dispatches push notifications from a durable, shared work
// queue to end-user devices.
//
// Any number of engine instances may poll the same queue. The queue store's
// atomic claim is the only point of mutual exclusion: each claimed intent is
// delivered to every active device token of its recipient, tokens the
// provider reports as permanently invalid are deactivated, and the intent is
// marked processed whether or not delivery succeeded. Intents abandoned by a
// crashed worker are returned to the queue by the periodic reclaim sweep.
//
// # Quick Start
//
//	s, err := postgres.New(ctx, dsn)
//	tr, err := fcm.New(ctx, fcm.WithCredentialsFile(path))
//
//	eng, err := engine.New(s, s, delivery.New(tr),
//	    engine.WithConfig(courier.DefaultConfig()),
//	    engine.WithLogger(logger),
//	)
//	if err := eng.Start(ctx); err != nil { ... }
//	defer eng.Stop(shutdownCtx)
//
// # Architecture
//
// Each adapter defines its own contract: [intent.Store] for the queue and
// [token.Directory] for device registrations. A single backend (memory,
// postgres) implements both; the redis backend implements the queue only.
//
// All entity IDs use TypeID: type-prefixed, K-sortable, UUIDv7-based.
package courier
