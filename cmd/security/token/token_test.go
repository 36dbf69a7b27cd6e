package token

import (
	"errors"
	"fmt"
	"testing"
)

func TestHasher_SHA256Deterministic(t *testing.T) {
	t.Parallel()

	h := NewHasher(nil)
	a := h.Hash("refresh-token")
	b := h.Hash("refresh-token")
	if a != b {
		t.Fatalf("expected stable digest, got %q and %q", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("expected 64-char hex digest, got %d chars", len(a))
	}
	if a != HashSHA256Hex("refresh-token") {
		t.Fatalf("unkeyed hasher must use plain SHA-256")
	}
	if h.HMACEnabled() {
		t.Fatalf("unkeyed hasher must report HMAC disabled")
	}
}

func TestHasher_HMACDiffersFromSHA(t *testing.T) {
	t.Parallel()

	key := []byte("0123456789abcdef0123456789abcdef")
	h := NewHasher(key)
	if !h.HMACEnabled() {
		t.Fatalf("expected HMAC mode")
	}
	if h.Hash("tok") == HashSHA256Hex("tok") {
		t.Fatalf("HMAC digest must differ from SHA-256")
	}
	if h.Hash("tok") != HashHMACSHA256Hex("tok", key) {
		t.Fatalf("HMAC digest mismatch")
	}

	// The hasher owns a copy of its key.
	key[0] = 'X'
	if h.Hash("tok") == HashHMACSHA256Hex("tok", key) {
		t.Fatalf("hasher must not alias the caller's key")
	}
}

func TestHasher_Match(t *testing.T) {
	t.Parallel()

	for _, h := range []Hasher{NewHasher(nil), NewHasher([]byte("0123456789abcdef0123456789abcdef"))} {
		for i := 0; i < 50; i++ {
			raw := fmt.Sprintf("raw-%d", i)
			other := fmt.Sprintf("other-%d", i)
			if !h.Match(raw, h.Hash(raw)) {
				t.Fatalf("Match(raw, hash(raw)) must be true for %q", raw)
			}
			if h.Match(raw, h.Hash(other)) {
				t.Fatalf("Match(raw, hash(other)) must be false for %q", raw)
			}
		}
		if h.Match("", h.Hash("")) != true {
			t.Fatalf("empty input must still match its own digest")
		}
		if h.Match("x", "short") {
			t.Fatalf("malformed stored hash must not match")
		}
	}
}

func TestHMACKey(t *testing.T) {
	t.Parallel()

	if _, err := HMACKey("   ", 32); !errors.Is(err, ErrHMACKeyMissing) {
		t.Fatalf("expected ErrHMACKeyMissing, got %v", err)
	}
	if _, err := HMACKey("short", 32); !errors.Is(err, ErrHMACKeyTooShort) {
		t.Fatalf("expected ErrHMACKeyTooShort, got %v", err)
	}
	k, err := HMACKey(" 0123456789abcdef0123456789abcdef ", 32)
	if err != nil {
		t.Fatalf("HMACKey: %v", err)
	}
	if len(k) != 32 {
		t.Fatalf("expected trimmed 32-byte key, got %d", len(k))
	}
}
