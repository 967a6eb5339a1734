// Package crypto seals credential values before they reach disk.
package crypto

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const keyInfo = "courier/credentials/v1"

var (
	ErrEmptySecret         = errors.New("empty storage secret")
	ErrMalformedCiphertext = errors.New("malformed ciphertext")
)

// Sealer encrypts values with XChaCha20-Poly1305. The nonce is prepended
// to the ciphertext.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer derives a 256-bit key from secret with HKDF-SHA256.
func NewSealer(secret []byte) (*Sealer, error) {
	const op = "crypto.NewSealer"

	if len(secret) == 0 {
		return nil, fmt.Errorf("%s: %w", op, ErrEmptySecret)
	}

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(keyInfo)), key); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Sealer{aead: aead}, nil
}

// Seal encrypts plaintext. additional binds the ciphertext to a context,
// e.g. the storage key, so blobs cannot be swapped between keys.
func (s *Sealer) Seal(plaintext, additional []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plaintext)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto.Seal: %w", err)
	}

	return s.aead.Seal(nonce, nonce, plaintext, additional), nil
}

func (s *Sealer) Open(sealed, additional []byte) ([]byte, error) {
	const op = "crypto.Open"

	if len(sealed) < s.aead.NonceSize()+s.aead.Overhead() {
		return nil, fmt.Errorf("%s: %w", op, ErrMalformedCiphertext)
	}

	nonce, ciphertext := sealed[:s.aead.NonceSize()], sealed[s.aead.NonceSize():]
	plain, err := s.aead.Open(nil, nonce, ciphertext, additional)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, ErrMalformedCiphertext)
	}

	return plain, nil
}
