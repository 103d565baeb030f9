package crypto

import "errors"

var (
	// ErrHashing indicates the password hash could not be computed. It
	// carries no detail about the cause.
	ErrHashing = errors.New("could not hash password")
	// ErrKeyDerivation indicates a keychain key could not be derived,
	// either because the input was unusable or the primitive failed.
	ErrKeyDerivation = errors.New("could not derive key")
	// ErrDecryption covers every keychain decryption failure: bad
	// encoding, truncated input, bad padding or wrong key.
	ErrDecryption = errors.New("could not decrypt item")
)
