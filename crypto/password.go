package crypto

import (
	"crypto/subtle"

	"github.com/jmcleod/ironkeep/internal/util"
)

// timingSalt feeds the throwaway computation VerifyPassword performs for
// hashes it cannot parse.
var timingSalt = make([]byte, SaltLength)

// HashPassword computes an Argon2id hash of password under a fresh random
// salt and returns it as a PHC string:
//
//	$argon2id$v=19$m=65536,t=3,p=4$<salt>$<hash>
//
// On failure it returns ErrHashing and nothing else.
func HashPassword(password string) (string, error) {
	salt, err := util.RandomBytes(SaltLength)
	if err != nil {
		return "", ErrHashing
	}
	params := DefaultArgon2idParams()
	sum, err := util.DeriveArgon2idKey(password, salt, params)
	if err != nil {
		return "", ErrHashing
	}
	defer util.WipeBytes(sum)

	return util.EncodePHC(util.PHCHash{
		Variant: util.Argon2id,
		Version: util.PHCVersion,
		Params:  params,
		Salt:    salt,
		Hash:    sum,
	}), nil
}

// VerifyPassword reports whether password matches the PHC string hash.
// It never fails: a malformed or unsupported hash is a mismatch, and costs
// the same Argon2id work as a wrong password.
func VerifyPassword(hash, password string) bool {
	h, err := util.ParsePHC(hash)
	if err != nil {
		burnDefaultCost(password)
		return false
	}
	sum, err := util.DeriveArgon2Key(h.Variant, password, h.Salt, h.Params)
	if err != nil {
		burnDefaultCost(password)
		return false
	}
	defer util.WipeBytes(sum)
	return subtle.ConstantTimeCompare(sum, h.Hash) == 1
}

// NeedsRehash reports whether hash was produced with anything other than
// the current variant and cost parameters. Unparseable hashes need a rehash.
func NeedsRehash(hash string) bool {
	h, err := util.ParsePHC(hash)
	if err != nil {
		return true
	}
	return h.Variant != util.Argon2id || h.Params != DefaultArgon2idParams()
}

func burnDefaultCost(password string) {
	sum, _ := util.DeriveArgon2idKey(password, timingSalt, DefaultArgon2idParams())
	util.WipeBytes(sum)
}
