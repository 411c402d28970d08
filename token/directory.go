package token

import (
	"context"

	"github.com/xraph/courier/id"
)

// Directory is the token directory contract.
type Directory interface {
	// Register inserts a token or, when the (user id, value) pair already
	// exists, refreshes that row: platform and tenant are updated, the token
	// is reactivated and updated-at is bumped. The stored row is written back
	// into t, including its ID. A token failing Token.Validate is rejected
	// with an error wrapping courier.ErrInvalidToken or
	// courier.ErrInvalidPlatform and nothing is stored.
	Register(ctx context.Context, t *Token) error

	// ActiveTokensFor returns the user's active tokens updated within the
	// directory's freshness horizon, touching their last-used-at.
	ActiveTokensFor(ctx context.Context, userID string) ([]*Token, error)

	// Deactivate flips active to false for the given tokens and returns how
	// many actually changed. Already inactive or unknown ids are ignored.
	Deactivate(ctx context.Context, tokenIDs []id.TokenID) (int64, error)
}
