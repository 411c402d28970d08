package courier

import "errors"

var (
	// Wiring errors.
	ErrNoStore     = errors.New("courier: no store configured")
	ErrNoDirectory = errors.New("courier: no token directory configured")
	ErrNoTransport = errors.New("courier: no delivery transport configured")

	// Configuration errors.
	ErrInvalidConfig   = errors.New("courier: invalid configuration")
	ErrInvalidPlatform = errors.New("courier: invalid platform")
	ErrInvalidToken    = errors.New("courier: invalid token")

	// Not found errors.
	ErrIntentNotFound = errors.New("courier: intent not found")
	ErrTokenNotFound  = errors.New("courier: token not found")

	// Conflict errors.
	ErrIntentAlreadyExists = errors.New("courier: intent already exists")

	// Engine state errors.
	ErrAlreadyRunning = errors.New("courier: engine already running")
	ErrNotRunning     = errors.New("courier: engine not running")
	ErrDrainTimeout   = errors.New("courier: drain grace period exceeded")
)
