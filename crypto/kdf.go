package crypto

import (
	"fmt"

	"github.com/jmcleod/ironkeep/internal/util"
)

// DeriveKeyFromPassword derives the 32-byte keychain key for password and
// the credential's stored salt using raw Argon2id output (t=3, m=64 MiB,
// p=4). The same inputs always yield the same key, so the key is rebuilt
// at every login and never stored.
//
// Salts shorter than MinSaltLength are rejected. Every failure wraps
// ErrKeyDerivation; no partial or zero key is ever returned.
func DeriveKeyFromPassword(password string, salt []byte) ([]byte, error) {
	if len(salt) < MinSaltLength {
		return nil, fmt.Errorf("%w: salt must be at least %d bytes", ErrKeyDerivation, MinSaltLength)
	}
	key, err := util.DeriveArgon2idKey(password, salt, DefaultArgon2idParams())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyDerivation, err)
	}
	if len(key) != KeySize {
		util.WipeBytes(key)
		return nil, fmt.Errorf("%w: unexpected key length %d", ErrKeyDerivation, len(key))
	}
	return key, nil
}
