package crypto

import (
	"encoding/hex"
	"testing"
)

func TestHash(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected string // BLAKE2b-256 hash in hex
	}{
		{
			name:     "empty input",
			input:    []byte{},
			expected: "0e5751c026e543b2e8ab2eb06099daa1d1e5df47778f7787faab45cdf12fe3a8",
		},
		{
			name:     "simple string",
			input:    []byte("hello world"),
			expected: "256c83b297114d201b30179f3f0ef0cace9783622da5974326b436178aeef610",
		},
		{
			name:  "arbitrary data",
			input: []byte("The quick brown fox jumps over the lazy dog"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash := Hash(tt.input)

			if tt.expected != "" {
				got := hex.EncodeToString(hash[:])
				if got != tt.expected {
					t.Errorf("Hash() = %s, want %s", got, tt.expected)
				}
			}
		})
	}
}

func TestHashString(t *testing.T) {
	input := []byte("test data")

	hashStr := HashString(input)
	if len(hashStr) != 64 {
		t.Errorf("HashString() length = %d, want 64", len(hashStr))
	}

	hashBytes := Hash(input)
	if hashStr != hex.EncodeToString(hashBytes[:]) {
		t.Errorf("HashString() = %s, want %x", hashStr, hashBytes)
	}
}

func TestHashConcat(t *testing.T) {
	whole := Hash([]byte("room-name"))
	parts := HashConcat([]byte("room"), []byte("-"), []byte("name"))

	if whole != parts {
		t.Errorf("HashConcat() = %x, want %x", parts, whole)
	}

	if HashConcat() != Hash(nil) {
		t.Error("HashConcat() of nothing should equal Hash(nil)")
	}
}
