package ext

import (
	"context"
	"time"

	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/intent"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// IntentDelivered is called when at least one token accepted the message.
type IntentDelivered interface {
	OnIntentDelivered(ctx context.Context, in *intent.Intent, res delivery.Result, elapsed time.Duration) error
}

// IntentSkipped is called when the recipient had no active tokens.
type IntentSkipped interface {
	OnIntentSkipped(ctx context.Context, in *intent.Intent) error
}

// IntentFailed is called when an intent settled without a delivery.
type IntentFailed interface {
	OnIntentFailed(ctx context.Context, in *intent.Intent, err error) error
}

// TokensDeactivated is called after invalid tokens were deactivated.
type TokensDeactivated interface {
	OnTokensDeactivated(ctx context.Context, userID string, tokenIDs []id.TokenID) error
}

// IntentsReclaimed is called when a sweep returned stuck claims to pending.
type IntentsReclaimed interface {
	OnIntentsReclaimed(ctx context.Context, count int64) error
}

// IntentsPurged is called when a sweep deleted processed intents.
type IntentsPurged interface {
	OnIntentsPurged(ctx context.Context, count int64) error
}

// Shutdown is called after an engine has drained.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
