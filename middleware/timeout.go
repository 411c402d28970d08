package middleware

import (
	"context"
	"time"

	"github.com/xraph/courier/intent"
)

// Timeout bounds the delivery step. A non-positive d disables it.
func Timeout(d time.Duration) Middleware {
	return func(ctx context.Context, _ *intent.Intent, next Handler) error {
		if d <= 0 {
			return next(ctx)
		}
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return next(ctx)
	}
}
