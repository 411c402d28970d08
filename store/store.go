// Package store defines the aggregate persistence interface. The queue
// (intent.Store) and the token directory (token.Directory) are separate
// contracts; a single backend may implement both.
package store

import (
	"context"

	"github.com/xraph/courier/intent"
	"github.com/xraph/courier/token"
)

// Store is the aggregate persistence interface implemented by the memory
// and postgres backends.
type Store interface {
	intent.Store
	token.Directory

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// Close releases the backend's resources.
	Close() error
}
