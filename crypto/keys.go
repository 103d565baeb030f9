// Package crypto implements the credential and keychain primitives: Argon2id
// password hashing and verification, password-derived keychain keys, and
// AES-256 encryption of keychain items.
package crypto

import "github.com/jmcleod/ironkeep/internal/util"

// Argon2idParams configures Argon2id hashing and key derivation.
type Argon2idParams = util.Argon2idParams

const (
	// KeySize is the length of a derived keychain key.
	KeySize = util.AESKeySize
	// MinSaltLength is the shortest salt DeriveKeyFromPassword accepts.
	MinSaltLength = 16
	// SaltLength is the length of salts produced by NewSalt and of the
	// salt embedded in password hashes.
	SaltLength = 16
	// IVSize is the CBC initialisation vector length prefixed to every
	// encrypted item.
	IVSize = util.CBCIVSize
)

// DefaultArgon2idParams returns the fixed cost parameters: t=3, m=64 MiB,
// p=4, 32-byte output.
func DefaultArgon2idParams() Argon2idParams {
	return util.DefaultArgon2idParams()
}

// NewSalt returns SaltLength bytes from the system CSPRNG. It is called
// once per credential; the salt must never change afterwards or the
// keychain key can no longer be re-derived.
func NewSalt() ([]byte, error) {
	return util.RandomBytes(SaltLength)
}
