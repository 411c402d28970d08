// Package middleware wraps the delivery step of one intent (token lookup,
// dispatch, token deactivation) with cross-cutting concerns: panic
// recovery, deadlines, tracing, metrics and logging.
//
// Marking the intent processed happens outside the chain, so no
// middleware can prevent it.
package middleware

import (
	"context"

	"github.com/xraph/courier/intent"
)

// Handler runs the delivery step for the intent the chain was built for.
type Handler func(ctx context.Context) error

// Middleware wraps a Handler. It must call next unless it is
// short-circuiting with an error.
type Middleware func(ctx context.Context, in *intent.Intent, next Handler) error

// Chain composes middleware; the first in the list is the outermost.
//
//	Chain(recover, tracing, logging) runs recover → tracing → logging → handler
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, in *intent.Intent, next Handler) error {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			inner := h
			h = func(ctx context.Context) error {
				return mw(ctx, in, inner)
			}
		}
		return h(ctx)
	}
}
