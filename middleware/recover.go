package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/xraph/courier/intent"
)

// Recover converts a panic in the delivery step into an error so the
// intent is still marked processed and the batch keeps settling.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, in *intent.Intent, next Handler) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("intent delivery panicked",
					slog.String("intent_id", in.ID.String()),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)
				retErr = fmt.Errorf("panic delivering intent %s: %v", in.ID, r)
			}
		}()
		return next(ctx)
	}
}
