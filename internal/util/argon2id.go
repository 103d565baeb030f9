package util

import (
	"fmt"

	"golang.org/x/crypto/argon2"
)

// Argon2 variants understood by the PHC codec.
const (
	Argon2id = "argon2id"
	Argon2i  = "argon2i"
)

type Argon2idParams struct {
	Time        uint32 `json:"time" yaml:"time"`
	MemoryKiB   uint32 `json:"memory" yaml:"memory"`
	Parallelism uint8  `json:"parallelism" yaml:"parallelism"`
	KeyLen      uint32 `json:"key_len" yaml:"key_len"`
}

// DefaultArgon2idParams returns the cost parameters used both for stored
// password hashes and for keychain key derivation: t=3, m=64 MiB, p=4,
// 32-byte output.
func DefaultArgon2idParams() Argon2idParams {
	return Argon2idParams{
		Time:        3,
		MemoryKiB:   64 * 1024,
		Parallelism: 4,
		KeyLen:      32,
	}
}

// ValidateArgon2idParams rejects parameter sets that argon2 would panic on
// or that would produce a degenerate output.
func ValidateArgon2idParams(p Argon2idParams) error {
	if p.Time < 1 {
		return fmt.Errorf("argon2 time cost must be at least 1")
	}
	if p.Parallelism < 1 {
		return fmt.Errorf("argon2 parallelism must be at least 1")
	}
	if p.MemoryKiB < 8*uint32(p.Parallelism) {
		return fmt.Errorf("argon2 memory must be at least %d KiB", 8*uint32(p.Parallelism))
	}
	if p.KeyLen < 16 {
		return fmt.Errorf("argon2 key length must be at least 16 bytes")
	}
	return nil
}

func DeriveArgon2idKey(passphrase string, salt []byte, params Argon2idParams) ([]byte, error) {
	if err := ValidateArgon2idParams(params); err != nil {
		return nil, err
	}
	if len(salt) == 0 {
		return nil, fmt.Errorf("argon2id salt must not be empty")
	}
	key := argon2.IDKey([]byte(passphrase), salt, params.Time, params.MemoryKiB, params.Parallelism, params.KeyLen)
	if uint32(len(key)) != params.KeyLen {
		WipeBytes(key)
		return nil, fmt.Errorf("argon2id returned %d bytes, want %d", len(key), params.KeyLen)
	}
	return key, nil
}

// DeriveArgon2Key computes either variant; argon2d is not offered by
// x/crypto and is rejected.
func DeriveArgon2Key(variant, passphrase string, salt []byte, params Argon2idParams) ([]byte, error) {
	switch variant {
	case Argon2id:
		return DeriveArgon2idKey(passphrase, salt, params)
	case Argon2i:
		if err := ValidateArgon2idParams(params); err != nil {
			return nil, err
		}
		if len(salt) == 0 {
			return nil, fmt.Errorf("argon2i salt must not be empty")
		}
		return argon2.Key([]byte(passphrase), salt, params.Time, params.MemoryKiB, params.Parallelism, params.KeyLen), nil
	default:
		return nil, fmt.Errorf("unsupported argon2 variant %q", variant)
	}
}
