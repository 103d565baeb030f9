package custody

import "errors"

var (
	// ErrSessionNotFound indicates there is no live key for the identifier:
	// the user never logged in, logged out, or the session expired.
	ErrSessionNotFound = errors.New("session not found")
	// ErrInvalidKey indicates a key of the wrong length was offered.
	ErrInvalidKey = errors.New("session key must be 32 bytes")
	// ErrInvalidUserID indicates an empty identifier was offered.
	ErrInvalidUserID = errors.New("user ID is required")
	// ErrClosed indicates the store has been shut down.
	ErrClosed = errors.New("custody store closed")
)
