package crypto

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// Hash generates a BLAKE2b-256 hash
func Hash(data []byte) [32]byte {
	return blake2b.Sum256(data)
}

// HashString generates a BLAKE2b-256 hash and returns hex string
func HashString(data []byte) string {
	sum := Hash(data)
	return hex.EncodeToString(sum[:])
}

// HashConcat hashes the concatenation of parts
func HashConcat(parts ...[]byte) [32]byte {
	h, _ := blake2b.New256(nil)
	for _, p := range parts {
		h.Write(p)
	}

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
