package util

import (
	"encoding/hex"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// CanonicalName folds a login name to one form so that visually identical
// names map to the same credential: NFKC, trimmed, lower-cased.
func CanonicalName(s string) string {
	return strings.ToLower(norm.NFKC.String(strings.TrimSpace(s)))
}

func HexEncode(b []byte) string {
	return hex.EncodeToString(b)
}

func HexDecode(s string) ([]byte, error) {
	return hex.DecodeString(s)
}
