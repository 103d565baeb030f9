package util

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Upper bounds applied when decoding a PHC string. Stored hashes are read
// back from external storage, so the cost parameters are capped before any
// work is done with them.
const (
	phcMaxMemoryKiB = 1 << 20
	phcMaxTime      = 64
	phcMinSaltLen   = 8
	phcMaxSaltLen   = 64
	phcMinHashLen   = 16
	phcMaxHashLen   = 128
)

// PHCVersion is the only argon2 version this package computes.
const PHCVersion = argon2.Version

var errMalformedPHC = errors.New("malformed argon2 hash string")

var phcEncoding = base64.RawStdEncoding

// PHCHash is a decoded argon2 PHC string:
//
//	$argon2id$v=19$m=65536,t=3,p=4$<salt>$<hash>
type PHCHash struct {
	Variant string
	Version int
	Params  Argon2idParams
	Salt    []byte
	Hash    []byte
}

// EncodePHC renders h in the PHC string format with unpadded base64
// segments, which is what the reference argon2 bindings emit.
func EncodePHC(h PHCHash) string {
	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		h.Variant, h.Version,
		h.Params.MemoryKiB, h.Params.Time, h.Params.Parallelism,
		phcEncoding.EncodeToString(h.Salt),
		phcEncoding.EncodeToString(h.Hash))
}

// ParsePHC decodes an argon2 PHC string. Only version 19 of argon2id and
// argon2i is accepted.
func ParsePHC(s string) (PHCHash, error) {
	parts := strings.Split(s, "$")
	if len(parts) != 6 || parts[0] != "" {
		return PHCHash{}, errMalformedPHC
	}

	h := PHCHash{Variant: parts[1]}
	if h.Variant != Argon2id && h.Variant != Argon2i {
		return PHCHash{}, fmt.Errorf("%w: unsupported variant", errMalformedPHC)
	}

	v, ok := strings.CutPrefix(parts[2], "v=")
	if !ok {
		return PHCHash{}, fmt.Errorf("%w: missing version", errMalformedPHC)
	}
	version, err := strconv.Atoi(v)
	if err != nil || version != PHCVersion {
		return PHCHash{}, fmt.Errorf("%w: unsupported version", errMalformedPHC)
	}
	h.Version = version

	if err := parsePHCParams(parts[3], &h.Params); err != nil {
		return PHCHash{}, err
	}

	if h.Salt, err = phcEncoding.DecodeString(parts[4]); err != nil {
		return PHCHash{}, fmt.Errorf("%w: salt encoding", errMalformedPHC)
	}
	if len(h.Salt) < phcMinSaltLen || len(h.Salt) > phcMaxSaltLen {
		return PHCHash{}, fmt.Errorf("%w: salt length", errMalformedPHC)
	}
	if h.Hash, err = phcEncoding.DecodeString(parts[5]); err != nil {
		return PHCHash{}, fmt.Errorf("%w: hash encoding", errMalformedPHC)
	}
	if len(h.Hash) < phcMinHashLen || len(h.Hash) > phcMaxHashLen {
		return PHCHash{}, fmt.Errorf("%w: hash length", errMalformedPHC)
	}
	h.Params.KeyLen = uint32(len(h.Hash))

	if err := ValidateArgon2idParams(h.Params); err != nil {
		return PHCHash{}, fmt.Errorf("%w: %v", errMalformedPHC, err)
	}
	return h, nil
}

func parsePHCParams(s string, p *Argon2idParams) error {
	var seenM, seenT, seenP bool
	for _, kv := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return fmt.Errorf("%w: parameter %q", errMalformedPHC, kv)
		}
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return fmt.Errorf("%w: parameter %q", errMalformedPHC, k)
		}
		switch k {
		case "m":
			if seenM || n > phcMaxMemoryKiB {
				return fmt.Errorf("%w: memory cost", errMalformedPHC)
			}
			p.MemoryKiB, seenM = uint32(n), true
		case "t":
			if seenT || n > phcMaxTime {
				return fmt.Errorf("%w: time cost", errMalformedPHC)
			}
			p.Time, seenT = uint32(n), true
		case "p":
			if seenP || n > 255 {
				return fmt.Errorf("%w: parallelism", errMalformedPHC)
			}
			p.Parallelism, seenP = uint8(n), true
		default:
			return fmt.Errorf("%w: unknown parameter %q", errMalformedPHC, k)
		}
	}
	if !seenM || !seenT || !seenP {
		return fmt.Errorf("%w: missing cost parameter", errMalformedPHC)
	}
	return nil
}
