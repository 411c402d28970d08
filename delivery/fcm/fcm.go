// Package fcm implements delivery.Transport over Firebase Cloud Messaging.
//
// Messages are sent with SendEach, so every token gets its own verdict.
// Unregistered tokens, tokens bound to another sender and tokens FCM
// rejects as malformed are reported as permanently invalid; everything
// else is transient.
package fcm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/token"
)

var _ delivery.Transport = (*Transport)(nil)

// Sender is the subset of *messaging.Client the transport uses.
type Sender interface {
	SendEach(ctx context.Context, messages []*messaging.Message) (*messaging.BatchResponse, error)
}

// Classifier maps a per-message FCM error to a verdict.
type Classifier func(err error) delivery.Verdict

// Hints are platform delivery fields passed through to FCM unchanged.
type Hints struct {
	AndroidPriority  string
	AndroidChannelID string
	APNSPriority     string
	APNSSound        string
	WebUrgency       string
	TTL              time.Duration
}

// DefaultHints requests high-priority delivery on every platform.
func DefaultHints() Hints {
	return Hints{
		AndroidPriority: "high",
		APNSPriority:    "10",
		APNSSound:       "default",
		WebUrgency:      "high",
		TTL:             24 * time.Hour,
	}
}

// Option configures a Transport.
type Option func(*options)

type options struct {
	credentialsFile string
	projectID       string
	sender          Sender
	classify        Classifier
	hints           Hints
	logger          *slog.Logger
}

// WithCredentialsFile sets the service account JSON used to authenticate.
func WithCredentialsFile(path string) Option {
	return func(o *options) { o.credentialsFile = path }
}

// WithProjectID overrides the project id from the credentials.
func WithProjectID(projectID string) Option {
	return func(o *options) { o.projectID = projectID }
}

// WithSender replaces the FCM client. New skips Firebase initialization
// when a sender is supplied.
func WithSender(s Sender) Option {
	return func(o *options) { o.sender = s }
}

// WithClassifier replaces the error classifier.
func WithClassifier(c Classifier) Option {
	return func(o *options) { o.classify = c }
}

// WithHints sets the platform delivery hints.
func WithHints(h Hints) Option {
	return func(o *options) { o.hints = h }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Transport sends delivery messages through FCM.
type Transport struct {
	sender   Sender
	classify Classifier
	hints    Hints
	logger   *slog.Logger
}

// New initializes the Firebase app and messaging client.
func New(ctx context.Context, opts ...Option) (*Transport, error) {
	o := options{
		classify: Classify,
		hints:    DefaultHints(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	if o.sender == nil {
		if o.credentialsFile == "" {
			return nil, errors.New("courier/fcm: credentials file is required")
		}
		var cfg *firebase.Config
		if o.projectID != "" {
			cfg = &firebase.Config{ProjectID: o.projectID}
		}
		app, err := firebase.NewApp(ctx, cfg, option.WithCredentialsFile(o.credentialsFile))
		if err != nil {
			return nil, fmt.Errorf("courier/fcm: init app: %w", err)
		}
		client, err := app.Messaging(ctx)
		if err != nil {
			return nil, fmt.Errorf("courier/fcm: init messaging: %w", err)
		}
		o.sender = client
	}

	return &Transport{
		sender:   o.sender,
		classify: o.classify,
		hints:    o.hints,
		logger:   o.logger,
	}, nil
}

// Send implements delivery.Transport. SendEach rejects the whole call
// when any message is invalid, so a message whose token cannot be a
// registration token gets its own invalid-token verdict and is left out
// of the provider call.
func (t *Transport) Send(ctx context.Context, msgs []delivery.Message) ([]delivery.Response, error) {
	out := make([]delivery.Response, len(msgs))
	fm := make([]*messaging.Message, 0, len(msgs))
	sent := make([]int, 0, len(msgs))
	for i, m := range msgs {
		if err := token.CheckValue(m.Token.Value); err != nil {
			t.logger.Warn("skipping malformed registration token",
				slog.String("intent_id", m.IntentID.String()),
				slog.String("token_id", m.Token.ID.String()),
				slog.String("error", err.Error()),
			)
			out[i] = delivery.Response{Verdict: delivery.PermanentlyInvalidToken, Err: err}
			continue
		}
		fm = append(fm, t.build(m))
		sent = append(sent, i)
	}
	if len(fm) == 0 {
		return out, nil
	}

	br, err := t.sender.SendEach(ctx, fm)
	if err != nil {
		return nil, fmt.Errorf("courier/fcm: send each: %w", err)
	}
	if br == nil {
		return nil, errors.New("courier/fcm: send each: empty batch response")
	}

	for j, i := range sent {
		var r *messaging.SendResponse
		if j < len(br.Responses) {
			r = br.Responses[j]
		}
		switch {
		case r == nil:
			out[i] = delivery.Response{Verdict: delivery.TransientFailure, Err: errors.New("courier/fcm: missing response")}
		case r.Success:
			out[i] = delivery.Response{Verdict: delivery.Delivered}
		default:
			out[i] = delivery.Response{Verdict: t.classify(r.Error), Err: r.Error}
		}
	}
	return out, nil
}

// build converts a delivery message into an FCM message carrying the
// platform hints for the token's platform.
func (t *Transport) build(m delivery.Message) *messaging.Message {
	fm := &messaging.Message{
		Token: m.Token.Value,
		Notification: &messaging.Notification{
			Title: m.Title,
			Body:  m.Body,
		},
		Data: m.Data,
	}

	h := t.hints
	switch m.Token.Platform {
	case token.PlatformAndroid:
		ac := &messaging.AndroidConfig{
			Priority: h.AndroidPriority,
			Notification: &messaging.AndroidNotification{
				ChannelID: h.AndroidChannelID,
				Tag:       m.EventType,
			},
		}
		if h.TTL > 0 {
			ttl := h.TTL
			ac.TTL = &ttl
		}
		fm.Android = ac
	case token.PlatformIOS:
		headers := map[string]string{}
		if h.APNSPriority != "" {
			headers["apns-priority"] = h.APNSPriority
		}
		fm.APNS = &messaging.APNSConfig{
			Headers: headers,
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					Sound:    h.APNSSound,
					ThreadID: m.EventType,
				},
			},
		}
	case token.PlatformWeb:
		headers := map[string]string{}
		if h.WebUrgency != "" {
			headers["Urgency"] = h.WebUrgency
		}
		fm.Webpush = &messaging.WebpushConfig{
			Headers: headers,
			Notification: &messaging.WebpushNotification{
				Title: m.Title,
				Body:  m.Body,
				Tag:   m.EventType,
			},
		}
	}
	return fm
}

// Classify is the default Classifier.
func Classify(err error) delivery.Verdict {
	switch {
	case err == nil:
		return delivery.Delivered
	case messaging.IsUnregistered(err), messaging.IsSenderIDMismatch(err):
		return delivery.PermanentlyInvalidToken
	case messaging.IsInvalidArgument(err) && strings.Contains(strings.ToLower(err.Error()), "registration token"):
		// FCM uses INVALID_ARGUMENT for malformed payloads as well; only
		// treat it as a token verdict when the provider says so.
		return delivery.PermanentlyInvalidToken
	default:
		return delivery.TransientFailure
	}
}
