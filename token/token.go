// Package token defines device push registrations and the token directory
// contract.
//
// A user may hold many active tokens at once, one per device. The
// (user id, token string) pair is unique. Deactivation is a soft state
// change; rows are never deleted by the engine.
package token

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/xraph/courier"
	"github.com/xraph/courier/id"
)

// Platform is the device platform a token was registered from.
type Platform string

const (
	PlatformAndroid Platform = "android"
	PlatformIOS     Platform = "ios"
	PlatformWeb     Platform = "web"
)

// ParsePlatform normalizes s to a known platform.
func ParsePlatform(s string) (Platform, error) {
	switch p := Platform(strings.ToLower(strings.TrimSpace(s))); p {
	case PlatformAndroid, PlatformIOS, PlatformWeb:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", courier.ErrInvalidPlatform, s)
	}
}

// MaxValueBytes bounds a registration token string. Provider tokens are
// a few hundred bytes.
const MaxValueBytes = 4096

// CheckValue reports whether s can be a provider registration token: not
// empty, at most MaxValueBytes, with no whitespace or control characters.
func CheckValue(s string) error {
	switch {
	case s == "":
		return fmt.Errorf("%w: empty token value", courier.ErrInvalidToken)
	case len(s) > MaxValueBytes:
		return fmt.Errorf("%w: token value exceeds %d bytes", courier.ErrInvalidToken, MaxValueBytes)
	}
	for _, r := range s {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return fmt.Errorf("%w: token value contains %q", courier.ErrInvalidToken, r)
		}
	}
	return nil
}

// Validate checks a token before registration and normalizes its
// platform in place.
func (t *Token) Validate() error {
	if strings.TrimSpace(t.UserID) == "" {
		return fmt.Errorf("%w: empty user id", courier.ErrInvalidToken)
	}
	if err := CheckValue(t.Value); err != nil {
		return err
	}
	p, err := ParsePlatform(string(t.Platform))
	if err != nil {
		return err
	}
	t.Platform = p
	return nil
}

// Token is one device registration.
type Token struct {
	ID         id.TokenID `json:"id"`
	UserID     string     `json:"user_id"`
	TenantID   string     `json:"tenant_id"`
	Value      string     `json:"-"`
	Platform   Platform   `json:"platform"`
	Active     bool       `json:"active"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}
