package delivery

import (
	"context"
	"log/slog"

	"golang.org/x/time/rate"

	"github.com/xraph/courier/id"
	"github.com/xraph/courier/intent"
	"github.com/xraph/courier/token"
)

// DefaultChunkSize is the largest number of messages handed to the
// transport in one call; it matches the FCM SendEach limit.
const DefaultChunkSize = 500

// Result aggregates the per-token outcomes of one Dispatch call.
type Result struct {
	Delivered       int
	Failed          int
	InvalidTokenIDs []id.TokenID
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithLimits sets the payload bounds.
func WithLimits(l Limits) Option {
	return func(d *Dispatcher) { d.limits = l }
}

// WithChunkSize sets how many messages go to the transport per call.
func WithChunkSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.chunkSize = n
		}
	}
}

// WithRateLimit bounds transport calls to rps per second with the given
// burst. Zero rps disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(d *Dispatcher) {
		if rps <= 0 {
			d.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		d.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// Dispatcher fans one intent out to its recipient's tokens.
type Dispatcher struct {
	transport Transport
	limits    Limits
	chunkSize int
	limiter   *rate.Limiter
	logger    *slog.Logger
}

// New creates a Dispatcher over the given transport.
func New(t Transport, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		transport: t,
		limits:    DefaultLimits(),
		chunkSize: DefaultChunkSize,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch sends in to every token independently and classifies each
// outcome. No tokens means no transport call and a zero Result.
func (d *Dispatcher) Dispatch(ctx context.Context, in *intent.Intent, tokens []*token.Token) Result {
	var res Result
	if len(tokens) == 0 {
		return res
	}

	data := BoundPayload(in.Data, d.limits)
	msgs := make([]Message, len(tokens))
	for i, t := range tokens {
		msgs[i] = Message{
			IntentID:  in.ID,
			EventType: in.EventType,
			Title:     in.Title,
			Body:      in.Body,
			Data:      data,
			Token:     t,
		}
	}

	for start := 0; start < len(msgs); start += d.chunkSize {
		end := min(start+d.chunkSize, len(msgs))
		d.sendChunk(ctx, msgs[start:end], &res)
	}
	return res
}

func (d *Dispatcher) sendChunk(ctx context.Context, chunk []Message, res *Result) {
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			d.logger.Warn("delivery rate limit wait aborted",
				slog.String("intent_id", chunk[0].IntentID.String()),
				slog.Int("tokens", len(chunk)),
				slog.String("error", err.Error()),
			)
			res.Failed += len(chunk)
			return
		}
	}

	responses, err := d.transport.Send(ctx, chunk)
	if err != nil {
		// The call itself failed: nothing is known about individual tokens.
		d.logger.Warn("delivery transport call failed",
			slog.String("intent_id", chunk[0].IntentID.String()),
			slog.Int("tokens", len(chunk)),
			slog.String("error", err.Error()),
		)
		res.Failed += len(chunk)
		return
	}
	if len(responses) != len(chunk) {
		d.logger.Warn("delivery transport returned mismatched responses",
			slog.String("intent_id", chunk[0].IntentID.String()),
			slog.Int("messages", len(chunk)),
			slog.Int("responses", len(responses)),
		)
	}

	for i, msg := range chunk {
		if i >= len(responses) {
			res.Failed++
			continue
		}
		r := responses[i]
		switch r.Verdict {
		case Delivered:
			res.Delivered++
		case PermanentlyInvalidToken:
			res.Failed++
			res.InvalidTokenIDs = append(res.InvalidTokenIDs, msg.Token.ID)
			d.logger.Info("push token rejected by provider",
				slog.String("intent_id", msg.IntentID.String()),
				slog.String("token_id", msg.Token.ID.String()),
				slog.String("platform", string(msg.Token.Platform)),
				errAttr(r.Err),
			)
		default:
			res.Failed++
			d.logger.Debug("push delivery failed",
				slog.String("intent_id", msg.IntentID.String()),
				slog.String("token_id", msg.Token.ID.String()),
				errAttr(r.Err),
			)
		}
	}
}

func errAttr(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}
