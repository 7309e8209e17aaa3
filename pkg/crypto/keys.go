package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// PBKDF2 iterations for passphrase-derived pre-shared keys
	PBKDF2Iterations = 100000

	// Salt for passphrase derivation
	DerivationSalt = "zentalk-chat-psk-v1"
)

var (
	ErrInvalidKey        = errors.New("invalid key")
	ErrEmptyPassphrase   = errors.New("empty passphrase")
	ErrLowOrderPublicKey = errors.New("low order public key")
)

// KeyPair is an X25519 key pair
type KeyPair struct {
	Private [32]byte
	Public  [32]byte
}

// GenerateKeyPair generates a new X25519 key pair
func GenerateKeyPair() (*KeyPair, error) {
	kp := &KeyPair{}
	if _, err := rand.Read(kp.Private[:]); err != nil {
		return nil, fmt.Errorf("failed to read random bytes: %w", err)
	}

	// Clamp scalar (RFC 7748)
	kp.Private[0] &= 248
	kp.Private[31] &= 127
	kp.Private[31] |= 64

	pub, err := curve25519.X25519(kp.Private[:], curve25519.Basepoint)
	if err != nil {
		return nil, err
	}
	copy(kp.Public[:], pub)

	return kp, nil
}

// DH computes the X25519 shared secret between priv and a peer public key
func DH(priv, peerPub [32]byte) ([32]byte, error) {
	var out [32]byte
	secret, err := curve25519.X25519(priv[:], peerPub[:])
	if err != nil {
		return out, ErrLowOrderPublicKey
	}
	copy(out[:], secret)
	return out, nil
}

// DeriveKeyFromPassphrase derives a pre-shared key from a passphrase with
// PBKDF2-SHA256. Both peers must use the same passphrase.
func DeriveKeyFromPassphrase(passphrase string) (Key, error) {
	var key Key
	if passphrase == "" {
		return key, ErrEmptyPassphrase
	}

	derived := pbkdf2.Key(
		[]byte(passphrase),
		[]byte(DerivationSalt),
		PBKDF2Iterations,
		KeySize,
		sha256.New,
	)
	copy(key[:], derived)

	return key, nil
}

// ParseKey parses a hex encoded 32-byte key
func ParseKey(s string) (Key, error) {
	var key Key
	b, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil || len(b) != KeySize {
		return key, ErrInvalidKey
	}
	copy(key[:], b)
	return key, nil
}

const redactedKey = "Key(redacted)"

// String hides key material from formatted output
func (k Key) String() string {
	return redactedKey
}

func (k Key) GoString() string {
	return redactedKey
}
