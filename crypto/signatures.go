package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

const (
	// AuthNonceSize is the raw request nonce length in bytes.
	AuthNonceSize = 16
	// TimestampWindow bounds how far a request's auth timestamp may drift
	// from the receiver's clock in either direction.
	TimestampWindow = 2 * time.Minute
)

// SignPayload computes the hex-encoded HMAC-SHA256 of a canonical payload
// under the derived pairing key.
func SignPayload(key []byte, payload string) (string, error) {
	if len(key) != KeySize {
		return "", fmt.Errorf("invalid key length: got %d want %d", len(key), KeySize)
	}
	if payload == "" {
		return "", errors.New("payload is required")
	}

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// VerifyPayload checks a provided signature against a freshly computed one
// in constant time.
func VerifyPayload(key []byte, payload, signature string) bool {
	if len(key) != KeySize || payload == "" {
		return false
	}

	provided, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(payload))
	return hmac.Equal(mac.Sum(nil), provided)
}

// NewAuthNonce returns a fresh random request nonce, hex-encoded.
func NewAuthNonce() (string, error) {
	raw := make([]byte, AuthNonceSize)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate auth nonce: %w", err)
	}
	return hex.EncodeToString(raw), nil
}

// TimestampWithinWindow reports whether an auth timestamp (Unix
// milliseconds) falls inside the replay window around now.
func TimestampWithinWindow(now time.Time, timestampMs int64) bool {
	drift := now.UnixMilli() - timestampMs
	if drift < 0 {
		drift = -drift
	}
	return drift <= TimestampWindow.Milliseconds()
}
