package protocol

import (
	"crypto/rand"
	"encoding/hex"
	"errors"

	"github.com/ZentaChain/zentalk-chat/pkg/crypto"
)

const (
	// PeerIDSize is the size of a peer identifier (BLAKE2b-256 of a public key)
	PeerIDSize = 32

	// TokenSize is the size of a per-message token (128 bits)
	TokenSize = 16

	// ShortIDLength is the number of hex characters in a short peer rendering
	ShortIDLength = 16

	// MaxNameLength bounds display names carried in announcements (bytes)
	MaxNameLength = 64
)

var ErrInvalidPeerID = errors.New("invalid peer id")

// PeerID identifies a peer. It is derived from the peer's public key and
// never changes for the lifetime of that key.
type PeerID [PeerIDSize]byte

// Token uniquely identifies one message instance and can serve as a
// deduplication key.
type Token [TokenSize]byte

// PeerIDFromPublicKey derives a PeerID from raw public key bytes
func PeerIDFromPublicKey(pub []byte) PeerID {
	return PeerID(crypto.Hash(pub))
}

// ParsePeerID parses a hex encoded PeerID
func ParsePeerID(s string) (PeerID, error) {
	var id PeerID
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != PeerIDSize {
		return id, ErrInvalidPeerID
	}
	copy(id[:], b)
	return id, nil
}

// String returns the full hex encoding
func (id PeerID) String() string {
	return hex.EncodeToString(id[:])
}

// Short returns a short deterministic rendering for display
func (id PeerID) Short() string {
	return hex.EncodeToString(id[:ShortIDLength/2])
}

// IsZero reports whether id is unset
func (id PeerID) IsZero() bool {
	return id == PeerID{}
}

// GenerateToken generates a random message token
func GenerateToken() Token {
	var t Token
	// crypto/rand.Read never returns an error on supported platforms
	_, _ = rand.Read(t[:])
	return t
}

// String returns the hex encoding of the token
func (t Token) String() string {
	return hex.EncodeToString(t[:])
}
