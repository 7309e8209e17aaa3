package crypto

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSession(t *testing.T) *Session {
	t.Helper()

	var key Key
	_, err := rand.Read(key[:])
	require.NoError(t, err)

	s, err := NewSession(key)
	require.NoError(t, err)
	return s
}

var testPlaintexts = []struct {
	name string
	data []byte
}{
	{"empty", []byte{}},
	{"single byte", []byte{0x42}},
	{"text line", []byte("hello\n")},
	{"binary", bytes.Repeat([]byte{0x00, 0xFF}, 512)},
	{"large", bytes.Repeat([]byte("A"), 60*1024)},
}

func TestSessionRoundTrip(t *testing.T) {
	s := newTestSession(t)

	for _, tt := range testPlaintexts {
		t.Run(tt.name, func(t *testing.T) {
			nonce, ct, err := s.Encrypt(tt.data)
			require.NoError(t, err)
			assert.Len(t, ct, len(tt.data)+Overhead)

			pt, err := s.Decrypt(nonce, ct)
			require.NoError(t, err)
			assert.True(t, bytes.Equal(tt.data, pt), "decrypted plaintext mismatch")
		})
	}
}

func TestSessionTamperDetection(t *testing.T) {
	s := newTestSession(t)

	for _, tt := range testPlaintexts[:4] {
		t.Run(tt.name, func(t *testing.T) {
			nonce, ct, err := s.Encrypt(tt.data)
			require.NoError(t, err)

			for i := 0; i < len(ct)*8; i++ {
				tampered := append([]byte(nil), ct...)
				tampered[i/8] ^= 1 << (i % 8)

				pt, err := s.Decrypt(nonce, tampered)
				if !assert.ErrorIs(t, err, ErrAuthenticationFailed, "bit %d", i) {
					return
				}
				assert.Nil(t, pt)
			}
		})
	}
}

func TestSessionTamperedNonce(t *testing.T) {
	s := newTestSession(t)

	nonce, ct, err := s.Encrypt([]byte("hello"))
	require.NoError(t, err)

	nonce[0] ^= 0x01
	_, err = s.Decrypt(nonce, ct)
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
}

func TestSessionWrongKey(t *testing.T) {
	s1 := newTestSession(t)
	s2 := newTestSession(t)

	nonce, ct, err := s1.Encrypt([]byte("secret"))
	require.NoError(t, err)

	_, err = s2.Decrypt(nonce, ct)
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
}

func TestSessionFreshNonces(t *testing.T) {
	s := newTestSession(t)

	seen := make(map[Nonce]bool)
	for i := 0; i < 1000; i++ {
		nonce, _, err := s.Encrypt([]byte("same plaintext"))
		require.NoError(t, err)
		require.False(t, seen[nonce], "nonce reused after %d encryptions", i)
		seen[nonce] = true
	}
}

func TestNonceFromBytes(t *testing.T) {
	_, err := NonceFromBytes(make([]byte, NonceSize))
	assert.NoError(t, err)

	_, err = NonceFromBytes(make([]byte, NonceSize-1))
	assert.ErrorIs(t, err, ErrInvalidNonce)
}
