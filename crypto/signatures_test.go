package crypto

import (
	"testing"
	"time"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	key := testKey(t, "abc123")
	payload := "prepare\nAlice's Phone\n2026-01-02T15:04:05Z"

	signature, err := SignPayload(key, payload)
	if err != nil {
		t.Fatalf("SignPayload failed: %v", err)
	}
	if !VerifyPayload(key, payload, signature) {
		t.Fatalf("expected signature to verify")
	}
}

func TestVerifyRejectsAlteredPayload(t *testing.T) {
	key := testKey(t, "abc123")

	signature, err := SignPayload(key, "prepare\nAlice")
	if err != nil {
		t.Fatalf("SignPayload failed: %v", err)
	}
	if VerifyPayload(key, "prepare\nMallory", signature) {
		t.Fatalf("expected altered payload to fail verification")
	}
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	key := testKey(t, "abc123")
	otherKey := testKey(t, "different-code")

	signature, err := SignPayload(key, "prepare\nAlice")
	if err != nil {
		t.Fatalf("SignPayload failed: %v", err)
	}
	if VerifyPayload(otherKey, "prepare\nAlice", signature) {
		t.Fatalf("expected verification under a different key to fail")
	}
}

func TestVerifyRejectsMalformedSignature(t *testing.T) {
	key := testKey(t, "abc123")
	if VerifyPayload(key, "prepare\nAlice", "not-hex!") {
		t.Fatalf("expected malformed signature to fail verification")
	}
	if VerifyPayload(key, "prepare\nAlice", "") {
		t.Fatalf("expected empty signature to fail verification")
	}
}

func TestNewAuthNonce(t *testing.T) {
	first, err := NewAuthNonce()
	if err != nil {
		t.Fatalf("NewAuthNonce failed: %v", err)
	}
	if len(first) != AuthNonceSize*2 {
		t.Fatalf("expected %d hex characters, got %d", AuthNonceSize*2, len(first))
	}

	second, err := NewAuthNonce()
	if err != nil {
		t.Fatalf("NewAuthNonce failed: %v", err)
	}
	if first == second {
		t.Fatalf("expected distinct nonces")
	}
}

func TestTimestampWithinWindow(t *testing.T) {
	now := time.Now()

	if !TimestampWithinWindow(now, now.UnixMilli()) {
		t.Fatalf("expected current timestamp to pass")
	}
	if !TimestampWithinWindow(now, now.Add(-TimestampWindow).UnixMilli()) {
		t.Fatalf("expected timestamp at window edge to pass")
	}
	if TimestampWithinWindow(now, now.Add(-TimestampWindow-time.Second).UnixMilli()) {
		t.Fatalf("expected stale timestamp to fail")
	}
	if TimestampWithinWindow(now, now.Add(TimestampWindow+time.Second).UnixMilli()) {
		t.Fatalf("expected future timestamp to fail")
	}
}
