package crypto

import (
	"fmt"

	"github.com/jmcleod/ironkeep/internal/util"
)

// EncryptBlob encrypts plaintext with AES-256-CBC and PKCS#7 padding under
// a fresh random IV and returns iv||ciphertext.
//
// No MAC is computed: a successful DecryptBlob is not proof that the blob
// is authentic. See SealItem for the authenticated format.
func EncryptBlob(plaintext, key []byte) ([]byte, error) {
	return util.EncryptAESCBC(plaintext, key)
}

// DecryptBlob reverses EncryptBlob. Any failure is reported as
// ErrDecryption without further detail.
func DecryptBlob(blob, key []byte) ([]byte, error) {
	plain, err := util.DecryptAESCBC(blob, key)
	if err != nil {
		return nil, ErrDecryption
	}
	return plain, nil
}

// EncryptItem encrypts a keychain item and returns hex(iv||ciphertext).
func EncryptItem(plaintext string, key []byte) (string, error) {
	blob, err := EncryptBlob([]byte(plaintext), key)
	if err != nil {
		return "", err
	}
	return util.HexEncode(blob), nil
}

// DecryptItem decrypts a hex(iv||ciphertext) item produced by EncryptItem.
func DecryptItem(encoded string, key []byte) (string, error) {
	blob, err := util.HexDecode(encoded)
	if err != nil {
		return "", ErrDecryption
	}
	plain, err := DecryptBlob(blob, key)
	if err != nil {
		return "", err
	}
	defer util.WipeBytes(plain)
	return string(plain), nil
}

// SealItem encrypts a keychain item with AES-256-GCM and returns
// hex(nonce||ciphertext||tag). Items sealed this way are not readable by
// DecryptItem and vice versa.
func SealItem(plaintext string, key []byte) (string, error) {
	blob, err := util.EncryptAES([]byte(plaintext), key)
	if err != nil {
		return "", err
	}
	return util.HexEncode(blob), nil
}

// OpenItem reverses SealItem. Tampered items fail with ErrDecryption.
func OpenItem(encoded string, key []byte) (string, error) {
	blob, err := util.HexDecode(encoded)
	if err != nil {
		return "", ErrDecryption
	}
	plain, err := util.DecryptAES(blob, key)
	if err != nil {
		return "", ErrDecryption
	}
	defer util.WipeBytes(plain)
	return string(plain), nil
}

// Mode selects the keychain item format.
type Mode string

const (
	// ModeCBC is the hex(iv||ciphertext) AES-256-CBC format.
	ModeCBC Mode = "cbc"
	// ModeGCM is the authenticated hex(nonce||ciphertext||tag) format.
	ModeGCM Mode = "gcm"
)

// ParseMode validates a configured mode name. The empty string means ModeCBC.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeCBC:
		return ModeCBC, nil
	case ModeGCM:
		return ModeGCM, nil
	default:
		return "", fmt.Errorf("unknown keychain mode %q", s)
	}
}

// Encrypt encrypts plaintext in the format selected by m.
func (m Mode) Encrypt(plaintext string, key []byte) (string, error) {
	if m == ModeGCM {
		return SealItem(plaintext, key)
	}
	return EncryptItem(plaintext, key)
}

// Decrypt decrypts an item in the format selected by m.
func (m Mode) Decrypt(encoded string, key []byte) (string, error) {
	if m == ModeGCM {
		return OpenItem(encoded, key)
	}
	return DecryptItem(encoded, key)
}
