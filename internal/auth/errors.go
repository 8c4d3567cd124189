package auth

import "errors"

var (
	// ErrInvalidCredentials covers both an unknown username and a wrong
	// password so callers cannot tell them apart.
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrDuplicateUser      = errors.New("username already registered")
	ErrSessionInvalid     = errors.New("session missing or expired")
	ErrCSRFMismatch       = errors.New("invalid csrf token")
	// ErrStoreUnavailable wraps persistence failures. Callers must fail closed.
	ErrStoreUnavailable = errors.New("auth store unavailable")
)
