package credentials

import "errors"

var (
	// ErrNotFound is returned when no credential exists for a username.
	ErrNotFound = errors.New("credential not found")
	// ErrExists is returned when creating a username that is already taken.
	ErrExists = errors.New("credential already exists")
	// ErrInvalidUsername is returned for empty or non-canonical usernames.
	ErrInvalidUsername = errors.New("invalid username")
)
