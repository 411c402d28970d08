package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/courier/intent"
)

// Logging logs the start and outcome of each delivery step at debug level,
// and failures at warn.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, in *intent.Intent, next Handler) error {
		logger.Debug("intent delivery started",
			slog.String("intent_id", in.ID.String()),
			slog.String("event_type", in.EventType),
			slog.String("user_id", in.UserID),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Warn("intent delivery failed",
				slog.String("intent_id", in.ID.String()),
				slog.String("event_type", in.EventType),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
			return err
		}
		logger.Debug("intent delivery finished",
			slog.String("intent_id", in.ID.String()),
			slog.Duration("elapsed", elapsed),
		)
		return nil
	}
}
