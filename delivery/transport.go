package delivery

import (
	"context"

	"github.com/xraph/courier/id"
	"github.com/xraph/courier/token"
)

// Verdict classifies the outcome of one (intent, token) delivery.
type Verdict int

const (
	// Delivered means the provider accepted the message.
	Delivered Verdict = iota
	// TransientFailure covers network, quota, outage and any failure not
	// attributable to token validity. The token is left untouched.
	TransientFailure
	// PermanentlyInvalidToken means the provider reported the token
	// unregistered or invalid. The token will never succeed again.
	PermanentlyInvalidToken
)

func (v Verdict) String() string {
	switch v {
	case Delivered:
		return "delivered"
	case TransientFailure:
		return "transient_failure"
	case PermanentlyInvalidToken:
		return "invalid_token"
	default:
		return "unknown"
	}
}

// Message is one per-token addressed push.
type Message struct {
	IntentID  id.IntentID
	EventType string
	Title     string
	Body      string
	// Data is the bounded string payload.
	Data  map[string]string
	Token *token.Token
}

// Response is the provider's verdict for one Message.
type Response struct {
	Verdict Verdict
	// Err carries the provider error for failures.
	Err error
}

// Transport delivers addressed messages. Send returns one Response per
// message, in order. A non-nil error means the call itself failed and no
// per-message verdicts are available.
type Transport interface {
	Send(ctx context.Context, msgs []Message) ([]Response, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, msgs []Message) ([]Response, error)

// Send calls f.
func (f TransportFunc) Send(ctx context.Context, msgs []Message) ([]Response, error) {
	return f(ctx, msgs)
}
