package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
)

// ErrMalformed is returned by Open when the payload is too short to carry
// a nonce, or fails authentication.
var ErrMalformed = errors.New("crypto: malformed sealed payload")

// Sealer wraps an AES-GCM AEAD derived once from a passphrase. Key material
// of any length is accepted; it is stretched to 32 bytes with SHA-256.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer derives the cipher from secret. The only error path is a broken
// crypto implementation, so callers typically treat failure as fatal.
func NewSealer(secret string) (*Sealer, error) {
	key := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// Seal encrypts plaintext under a fresh random nonce. The nonce is prepended
// to the returned payload.
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open authenticates and decrypts a payload produced by Seal.
func (s *Sealer) Open(payload []byte) ([]byte, error) {
	n := s.aead.NonceSize()
	if len(payload) < n {
		return nil, ErrMalformed
	}
	plain, err := s.aead.Open(nil, payload[:n], payload[n:], nil)
	if err != nil {
		return nil, ErrMalformed
	}
	return plain, nil
}
