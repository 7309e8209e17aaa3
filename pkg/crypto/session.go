// Package crypto provides the symmetric cipher session, the direct-mode key
// agreement and the hashing helpers used by zentalk-chat.
package crypto

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// KeySize is the session key size (256 bits)
	KeySize = chacha20poly1305.KeySize

	// NonceSize is the per-message nonce size (96 bits)
	NonceSize = chacha20poly1305.NonceSize

	// Overhead is the authentication tag size appended to every ciphertext
	Overhead = chacha20poly1305.Overhead
)

var (
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrInvalidNonce         = errors.New("invalid nonce size")
)

// Key is a 256-bit symmetric session key
type Key [KeySize]byte

// Nonce is a 96-bit AEAD nonce
type Nonce [NonceSize]byte

// Session owns one symmetric key and seals/opens messages with
// ChaCha20-Poly1305. Every Encrypt call draws a fresh random nonce, so a
// (key, nonce) pair is never reused in practice. Safe for concurrent use.
type Session struct {
	aead cipher.AEAD
}

// NewSession creates a cipher session for key
func NewSession(key Key) (*Session, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create AEAD: %w", err)
	}
	return &Session{aead: aead}, nil
}

// Encrypt seals plaintext under a freshly generated nonce
func (s *Session) Encrypt(plaintext []byte) (Nonce, []byte, error) {
	var nonce Nonce
	if _, err := rand.Read(nonce[:]); err != nil {
		return nonce, nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return nonce, s.aead.Seal(nil, nonce[:], plaintext, nil), nil
}

// Decrypt opens ciphertext produced by Encrypt. It never returns partial or
// unauthenticated data: on a tag mismatch the result is nil and the error is
// ErrAuthenticationFailed.
func (s *Session) Decrypt(nonce Nonce, ciphertext []byte) ([]byte, error) {
	plaintext, err := s.aead.Open(nil, nonce[:], ciphertext, nil)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}
	return plaintext, nil
}

// NonceFromBytes copies a wire nonce into a Nonce
func NonceFromBytes(b []byte) (Nonce, error) {
	var nonce Nonce
	if len(b) != NonceSize {
		return nonce, ErrInvalidNonce
	}
	copy(nonce[:], b)
	return nonce, nil
}
