// Package crypto tests for at-rest sealing.
package crypto

import (
	"bytes"
	"testing"
)

// TestSealOpen_roundTrip verifies sealed data opens to the original bytes.
func TestSealOpen_roundTrip(t *testing.T) {
	s, err := NewSealer("kiosk-secret")
	if err != nil {
		t.Fatalf("NewSealer() error = %v", err)
	}

	plaintext := []byte(`[{"id":"1-abc","type":"attendance"}]`)
	sealed, err := s.Seal(plaintext)
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	if !IsSealed(sealed) {
		t.Errorf("Seal() output lacks prefix: %q", sealed)
	}
	if bytes.Contains(sealed, []byte("attendance")) {
		t.Error("Seal() output leaks plaintext")
	}

	opened, err := s.Open(sealed)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Errorf("Open() = %q, want %q", opened, plaintext)
	}
}

// TestSeal_randomNonce verifies two seals of the same input differ.
func TestSeal_randomNonce(t *testing.T) {
	s, _ := NewSealer("kiosk-secret")

	a, _ := s.Seal([]byte("same"))
	b, _ := s.Seal([]byte("same"))
	if bytes.Equal(a, b) {
		t.Error("Seal() twice produced same ciphertext (nonce should be random)")
	}
}

// TestOpen_rejects verifies invalid input is rejected.
func TestOpen_rejects(t *testing.T) {
	s, _ := NewSealer("key-one")
	other, _ := NewSealer("key-two")
	sealed, _ := s.Seal([]byte("hello"))

	tampered := append([]byte(nil), sealed...)
	tampered[len("ksq1:")+10] ^= 0x01

	tests := []struct {
		name  string
		input []byte
		open  *Sealer
	}{
		{"plaintext", []byte(`[]`), s},
		{"bad base64", []byte("ksq1:!!!"), s},
		{"too short", []byte("ksq1:YWJj"), s},
		{"wrong key", sealed, other},
		{"tampered", tampered, s},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.open.Open(tt.input); err != ErrInvalidCiphertext {
				t.Errorf("Open() error = %v, want ErrInvalidCiphertext", err)
			}
		})
	}
}

// TestNewSealer_emptyKey verifies an empty secret is refused.
func TestNewSealer_emptyKey(t *testing.T) {
	if _, err := NewSealer(""); err != ErrInvalidKey {
		t.Errorf("NewSealer(\"\") error = %v, want ErrInvalidKey", err)
	}
}

// TestDeriveKey_deterministic verifies the same secret yields the same key.
func TestDeriveKey_deterministic(t *testing.T) {
	a, _ := DeriveKey([]byte("device-1"))
	b, _ := DeriveKey([]byte("device-1"))
	c, _ := DeriveKey([]byte("device-2"))

	if !bytes.Equal(a, b) {
		t.Error("DeriveKey() not deterministic")
	}
	if bytes.Equal(a, c) {
		t.Error("DeriveKey() collides for different secrets")
	}
	if len(a) != 32 {
		t.Errorf("key length = %d, want 32", len(a))
	}
}
