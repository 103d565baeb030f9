package auth

import "errors"

var (
	// ErrInvalidCredentials is the single error for a failed login, whether
	// the user is unknown or the password is wrong.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUnauthenticated is returned for a missing, invalid or expired token,
	// or a token whose session key is no longer held.
	ErrUnauthenticated = errors.New("authentication failed")
	// ErrInvalidPassword is returned when registering an empty password.
	ErrInvalidPassword = errors.New("password is required")
)
