package crypto

import (
	"crypto/sha256"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const (
	// KeySize is the derived symmetric key length in bytes.
	KeySize = 32
	// MinPairingCodeLength is the shortest accepted pairing code after trimming.
	MinPairingCodeLength = 6
	// MaxPairingCodeLength is the longest accepted pairing code after trimming.
	MaxPairingCodeLength = 64

	// kdfInfo domain-separates share keys from any other use of the code.
	kdfInfo = "memoshare-pairing-v1"
)

// DeriveKey derives the 32-byte shared key from a pairing code.
//
// The code is trimmed before use and must be 6-64 characters long.
// Derivation is deterministic: both devices derive the same key from the
// same code.
func DeriveKey(pairingCode string) ([]byte, error) {
	code := strings.TrimSpace(pairingCode)
	if len(code) < MinPairingCodeLength || len(code) > MaxPairingCodeLength {
		return nil, fmt.Errorf("invalid pairing code length: got %d want %d-%d", len(code), MinPairingCodeLength, MaxPairingCodeLength)
	}

	key := make([]byte, KeySize)
	reader := hkdf.New(sha256.New, []byte(code), nil, []byte(kdfInfo))
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("derive pairing key: %w", err)
	}

	return key, nil
}
