package intent

import (
	"context"
	"time"

	"github.com/xraph/courier/id"
)

// Store is the queue store contract. It is the only supported access path
// to queued intents.
type Store interface {
	// Enqueue persists a new pending intent. Producers are usually external
	// (triggers, other services); this is the Go producer path.
	Enqueue(ctx context.Context, in *Intent) error

	// ClaimBatch atomically claims up to limit pending intents, oldest
	// created first, stamps their claimed-at with the current time and
	// returns them in that order. Concurrent callers receive disjoint sets.
	// Fewer than limit (including none) is not an error.
	ClaimBatch(ctx context.Context, limit int) ([]*Intent, error)

	// MarkProcessed stamps processed-at on an unprocessed intent. It reports
	// whether a transition happened; an unknown or already processed id
	// returns false with a nil error.
	MarkProcessed(ctx context.Context, intentID id.IntentID) (bool, error)

	// ReclaimStuck returns every intent claimed longer than timeout and
	// still unprocessed to pending, clearing claimed-at. It returns the
	// number reclaimed.
	ReclaimStuck(ctx context.Context, timeout time.Duration) (int64, error)

	// PurgeProcessedOlderThan deletes processed intents whose processed-at
	// is older than age and returns the number deleted.
	PurgeProcessedOlderThan(ctx context.Context, age time.Duration) (int64, error)

	// Get retrieves an intent by ID.
	Get(ctx context.Context, intentID id.IntentID) (*Intent, error)

	// CountPending returns the queue depth: intents not yet claimed.
	CountPending(ctx context.Context) (int64, error)
}
