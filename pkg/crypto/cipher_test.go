package crypto

import (
	"bytes"
	"errors"
	"testing"
)

func mustSealer(t *testing.T, secret string) *Sealer {
	t.Helper()
	s, err := NewSealer(secret)
	if err != nil {
		t.Fatalf("NewSealer returned error: %v", err)
	}
	return s
}

func TestSealRoundTrip(t *testing.T) {
	s := mustSealer(t, "store-key")
	plaintext := []byte(`{"access_token":"gho_abc123"}`)

	sealed, err := s.Seal(plaintext)
	if err != nil {
		t.Fatalf("Seal returned error: %v", err)
	}
	if bytes.Contains(sealed, []byte("gho_abc123")) {
		t.Fatal("sealed payload leaks plaintext")
	}

	opened, err := s.Open(sealed)
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Fatalf("round trip mismatch: got %q", opened)
	}
}

func TestOpenRejectsWrongKey(t *testing.T) {
	sealed, err := mustSealer(t, "store-key").Seal([]byte("payload"))
	if err != nil {
		t.Fatalf("Seal returned error: %v", err)
	}
	if _, err := mustSealer(t, "other-key").Open(sealed); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed for wrong key, got %v", err)
	}
}

func TestOpenRejectsTamperedPayload(t *testing.T) {
	s := mustSealer(t, "store-key")
	sealed, err := s.Seal([]byte("payload"))
	if err != nil {
		t.Fatalf("Seal returned error: %v", err)
	}
	sealed[len(sealed)-1] ^= 0x01
	if _, err := s.Open(sealed); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed for tampered payload, got %v", err)
	}
}

func TestOpenRejectsTruncatedPayload(t *testing.T) {
	if _, err := mustSealer(t, "store-key").Open([]byte("short")); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed for truncated payload, got %v", err)
	}
}

func TestSealUsesFreshNonces(t *testing.T) {
	s := mustSealer(t, "store-key")
	a, err := s.Seal([]byte("payload"))
	if err != nil {
		t.Fatalf("Seal returned error: %v", err)
	}
	b, err := s.Seal([]byte("payload"))
	if err != nil {
		t.Fatalf("Seal returned error: %v", err)
	}
	if bytes.Equal(a, b) {
		t.Fatal("two seals of the same plaintext produced identical ciphertext")
	}
}
