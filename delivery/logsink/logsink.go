// Package logsink is a delivery.Transport that logs each message and
// reports it delivered. It is meant for local development without
// provider credentials.
package logsink

import (
	"context"
	"log/slog"

	"github.com/xraph/courier/delivery"
)

var _ delivery.Transport = (*Transport)(nil)

// Transport logs messages instead of sending them.
type Transport struct {
	logger *slog.Logger
}

// New returns a log-only transport. A nil logger uses slog.Default.
func New(logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{logger: logger}
}

// Send logs every message and reports it delivered.
func (t *Transport) Send(ctx context.Context, msgs []delivery.Message) ([]delivery.Response, error) {
	out := make([]delivery.Response, len(msgs))
	for i, m := range msgs {
		t.logger.InfoContext(ctx, "push (log sink)",
			slog.String("intent_id", m.IntentID.String()),
			slog.String("token_id", m.Token.ID.String()),
			slog.String("platform", string(m.Token.Platform)),
			slog.String("event_type", m.EventType),
			slog.String("title", m.Title),
			slog.Int("data_bytes", delivery.PayloadSize(m.Data)),
		)
		out[i] = delivery.Response{Verdict: delivery.Delivered}
	}
	return out, nil
}
