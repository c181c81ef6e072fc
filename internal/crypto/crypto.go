// Package crypto seals persisted queue state at rest.
// Uses XChaCha20-Poly1305 with an HKDF-SHA256 derived key.
package crypto

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

var (
	// ErrInvalidCiphertext is returned when opening fails.
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
	// ErrInvalidKey is returned when the key is invalid.
	ErrInvalidKey = errors.New("invalid key")
)

// sealedPrefix marks a sealed slot so plaintext slots written before
// encryption was enabled can still be read.
var sealedPrefix = []byte("ksq1:")

const hkdfInfo = "kiosksync queue at rest"

// Sealer encrypts and decrypts slot contents with a fixed key.
type Sealer struct {
	aead interface {
		NonceSize() int
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
		Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	}
}

// NewSealer derives a 256-bit key from secret and returns a Sealer.
func NewSealer(secret string) (*Sealer, error) {
	if secret == "" {
		return nil, ErrInvalidKey
	}

	key, err := DeriveKey([]byte(secret))
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// DeriveKey expands secret into a chacha20poly1305 key.
func DeriveKey(secret []byte) ([]byte, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	r := hkdf.New(sha256.New, secret, nil, []byte(hkdfInfo))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return key, nil
}

// Seal encrypts plaintext. The output is printable and carries the sealed prefix.
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	sealed := s.aead.Seal(nonce, nonce, plaintext, sealedPrefix)

	out := make([]byte, len(sealedPrefix)+base64.StdEncoding.EncodedLen(len(sealed)))
	copy(out, sealedPrefix)
	base64.StdEncoding.Encode(out[len(sealedPrefix):], sealed)
	return out, nil
}

// Open decrypts data produced by Seal.
func (s *Sealer) Open(data []byte) ([]byte, error) {
	if !IsSealed(data) {
		return nil, ErrInvalidCiphertext
	}

	raw, err := base64.StdEncoding.DecodeString(string(data[len(sealedPrefix):]))
	if err != nil {
		return nil, ErrInvalidCiphertext
	}

	nonceSize := s.aead.NonceSize()
	if len(raw) < nonceSize {
		return nil, ErrInvalidCiphertext
	}

	plaintext, err := s.aead.Open(nil, raw[:nonceSize], raw[nonceSize:], sealedPrefix)
	if err != nil {
		return nil, ErrInvalidCiphertext
	}
	return plaintext, nil
}

// IsSealed reports whether data was produced by Seal.
func IsSealed(data []byte) bool {
	return bytes.HasPrefix(data, sealedPrefix)
}
