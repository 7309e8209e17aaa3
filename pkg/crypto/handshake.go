package crypto

import (
	"bytes"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	// HelloSize is the handshake hello: static public key + ephemeral public key
	HelloSize = 64

	// HandshakeInfo is the HKDF info string binding keys to this protocol
	HandshakeInfo = "zentalk-chat/direct/v1"

	confirmLabel = "zentalk-chat-confirm"
)

// ConfirmSize is the size of the key-confirmation record
const ConfirmSize = NonceSize + len(confirmLabel) + Overhead

var ErrHandshakeFailed = errors.New("handshake failed")

// Agreement is the outcome of a completed key agreement
type Agreement struct {
	Session      *Session
	RemoteStatic [32]byte
}

// KeyAgreement establishes a Session over a fresh connection before any chat
// traffic flows.
type KeyAgreement interface {
	Agree(rw io.ReadWriter) (*Agreement, error)
}

// Handshake is an ephemeral X25519 key agreement, optionally mixed with a
// pre-shared key. Without a PSK the channel is encrypted but not
// authenticated against an active man-in-the-middle.
type Handshake struct {
	Identity *KeyPair
	PSK      *Key
}

// NewHandshake creates a handshake for identity; psk may be nil
func NewHandshake(identity *KeyPair, psk *Key) *Handshake {
	return &Handshake{Identity: identity, PSK: psk}
}

// Agree runs the handshake over rw. Both sides send before they read, so the
// writes happen concurrently with the reads.
func (h *Handshake) Agree(rw io.ReadWriter) (*Agreement, error) {
	if h.Identity == nil {
		return nil, fmt.Errorf("%w: no identity key", ErrHandshakeFailed)
	}

	ephemeral, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}

	hello := make([]byte, HelloSize)
	copy(hello[:32], h.Identity.Public[:])
	copy(hello[32:], ephemeral.Public[:])

	peerHello := make([]byte, HelloSize)
	if err := exchange(rw, hello, peerHello); err != nil {
		return nil, fmt.Errorf("%w: hello: %v", ErrHandshakeFailed, err)
	}

	var remoteStatic, remoteEphemeral [32]byte
	copy(remoteStatic[:], peerHello[:32])
	copy(remoteEphemeral[:], peerHello[32:])

	shared, err := DH(ephemeral.Private, remoteEphemeral)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}

	key, err := deriveSessionKey(shared, h.PSK, hello, peerHello)
	if err != nil {
		return nil, err
	}

	session, err := NewSession(key)
	if err != nil {
		return nil, err
	}

	if err := confirm(rw, session); err != nil {
		return nil, err
	}

	return &Agreement{Session: session, RemoteStatic: remoteStatic}, nil
}

// deriveSessionKey runs HKDF-SHA256 over the DH output and PSK. The salt is
// a hash of both hellos in a canonical order so that both sides agree.
func deriveSessionKey(shared [32]byte, psk *Key, hello, peerHello []byte) (Key, error) {
	var key Key

	ikm := make([]byte, 0, 64)
	ikm = append(ikm, shared[:]...)
	if psk != nil {
		ikm = append(ikm, psk[:]...)
	}

	first, second := hello, peerHello
	if bytes.Compare(first, second) > 0 {
		first, second = second, first
	}
	salt := HashConcat(first, second)

	r := hkdf.New(sha256.New, ikm, salt[:], []byte(HandshakeInfo))
	if _, err := io.ReadFull(r, key[:]); err != nil {
		return key, fmt.Errorf("failed to derive session key: %w", err)
	}

	return key, nil
}

// confirm proves possession of the derived key. A PSK mismatch surfaces here
// as an authentication failure.
func confirm(rw io.ReadWriter, session *Session) error {
	nonce, ct, err := session.Encrypt([]byte(confirmLabel))
	if err != nil {
		return err
	}
	record := make([]byte, 0, ConfirmSize)
	record = append(record, nonce[:]...)
	record = append(record, ct...)

	peerRecord := make([]byte, ConfirmSize)
	if err := exchange(rw, record, peerRecord); err != nil {
		return fmt.Errorf("%w: confirm: %v", ErrHandshakeFailed, err)
	}

	peerNonce, _ := NonceFromBytes(peerRecord[:NonceSize])
	plaintext, err := session.Decrypt(peerNonce, peerRecord[NonceSize:])
	if err != nil {
		return fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
	}
	if subtle.ConstantTimeCompare(plaintext, []byte(confirmLabel)) != 1 {
		return fmt.Errorf("%w: %w", ErrHandshakeFailed, ErrAuthenticationFailed)
	}

	return nil
}

// exchange writes out while reading exactly len(in) bytes. On a read error
// the pending write is abandoned; the caller closes the connection.
func exchange(rw io.ReadWriter, out, in []byte) error {
	errc := make(chan error, 1)
	go func() {
		_, err := rw.Write(out)
		errc <- err
	}()

	if _, err := io.ReadFull(rw, in); err != nil {
		return err
	}
	return <-errc
}
