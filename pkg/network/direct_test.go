package network

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZentaChain/zentalk-chat/pkg/crypto"
	"github.com/ZentaChain/zentalk-chat/pkg/protocol"
)

type acceptResult struct {
	session *DirectSession
	err     error
}

func newTestDirectConfig(t *testing.T, psk *crypto.Key) *DirectConfig {
	t.Helper()

	identity, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	cfg := DefaultDirectConfig(identity)
	cfg.PSK = psk
	cfg.HandshakeTimeout = 5 * time.Second
	return cfg
}

// directPair sets up a listener on an ephemeral loopback port and dials it
func directPair(t *testing.T, listenCfg, dialCfg *DirectConfig) (acceptResult, acceptResult) {
	t.Helper()

	ln, err := ListenDirect("127.0.0.1:0", listenCfg)
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	accepted := make(chan acceptResult, 1)
	go func() {
		s, err := ln.Accept(ctx)
		accepted <- acceptResult{s, err}
	}()

	s, err := Dial(ctx, ln.Addr().String(), dialCfg)
	dialed := acceptResult{s, err}
	acc := <-accepted

	t.Cleanup(func() {
		if dialed.session != nil {
			dialed.session.Close()
		}
		if acc.session != nil {
			acc.session.Close()
		}
	})

	return acc, dialed
}

func TestDirectSessionHello(t *testing.T) {
	psk, err := crypto.DeriveKeyFromPassphrase("correct horse")
	require.NoError(t, err)

	listenCfg := newTestDirectConfig(t, &psk)
	dialCfg := newTestDirectConfig(t, &psk)

	listener, dialer := directPair(t, listenCfg, dialCfg)
	require.NoError(t, listener.err)
	require.NoError(t, dialer.err)

	// Identities come from the static keys exchanged in the handshake
	assert.Equal(t, protocol.PeerIDFromPublicKey(dialCfg.Identity.Public[:]), listener.session.Remote())
	assert.Equal(t, protocol.PeerIDFromPublicKey(listenCfg.Identity.Public[:]), dialer.session.Remote())
	assert.NotEqual(t, listener.session.ID(), dialer.session.ID())

	require.NoError(t, dialer.session.Send("hello"))

	// The decrypted plaintext carries the newline added by the sender
	plaintext, err := listener.session.in.Receive()
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(plaintext))

	require.NoError(t, listener.session.Send("hi back"))
	line, err := dialer.session.Receive()
	require.NoError(t, err)
	assert.Equal(t, "hi back", line)
}

func TestDirectSessionWithoutPSK(t *testing.T) {
	listener, dialer := directPair(t, newTestDirectConfig(t, nil), newTestDirectConfig(t, nil))
	require.NoError(t, listener.err)
	require.NoError(t, dialer.err)

	require.NoError(t, dialer.session.Send("unauthenticated but encrypted"))
	line, err := listener.session.Receive()
	require.NoError(t, err)
	assert.Equal(t, "unauthenticated but encrypted", line)
}

func TestDirectSessionPSKMismatch(t *testing.T) {
	pskA, err := crypto.DeriveKeyFromPassphrase("alpha")
	require.NoError(t, err)
	pskB, err := crypto.DeriveKeyFromPassphrase("bravo")
	require.NoError(t, err)

	listener, dialer := directPair(t, newTestDirectConfig(t, &pskA), newTestDirectConfig(t, &pskB))

	assert.ErrorIs(t, listener.err, crypto.ErrHandshakeFailed)
	assert.ErrorIs(t, dialer.err, crypto.ErrHandshakeFailed)
	assert.Nil(t, listener.session)
	assert.Nil(t, dialer.session)
}

func TestDirectSessionKeepAliveNotDelivered(t *testing.T) {
	listener, dialer := directPair(t, newTestDirectConfig(t, nil), newTestDirectConfig(t, nil))
	require.NoError(t, listener.err)
	require.NoError(t, dialer.err)

	require.NoError(t, dialer.session.SendKeepAlive())
	require.NoError(t, dialer.session.SendKeepAlive())
	require.NoError(t, dialer.session.Send("after keep-alive"))

	line, err := listener.session.Receive()
	require.NoError(t, err)
	assert.Equal(t, "after keep-alive", line)
}

func TestDirectSessionStripsCRLF(t *testing.T) {
	listener, dialer := directPair(t, newTestDirectConfig(t, nil), newTestDirectConfig(t, nil))
	require.NoError(t, listener.err)
	require.NoError(t, dialer.err)

	require.NoError(t, dialer.session.Send("windows line\r"))

	line, err := listener.session.Receive()
	require.NoError(t, err)
	assert.Equal(t, "windows line", line)
}

func TestDirectSessionReadTimeout(t *testing.T) {
	listenCfg := newTestDirectConfig(t, nil)
	listenCfg.ReadTimeout = 200 * time.Millisecond

	listener, dialer := directPair(t, listenCfg, newTestDirectConfig(t, nil))
	require.NoError(t, listener.err)
	require.NoError(t, dialer.err)

	start := time.Now()
	_, err := listener.session.Receive()
	assert.ErrorIs(t, err, protocol.ErrConnectionClosed)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestDirectSessionPeerClose(t *testing.T) {
	listener, dialer := directPair(t, newTestDirectConfig(t, nil), newTestDirectConfig(t, nil))
	require.NoError(t, listener.err)
	require.NoError(t, dialer.err)

	require.NoError(t, dialer.session.Close())
	// Close is idempotent
	require.NoError(t, dialer.session.Close())

	_, err := listener.session.Receive()
	assert.ErrorIs(t, err, protocol.ErrConnectionClosed)
}

func TestDirectListenerAcceptCancelled(t *testing.T) {
	ln, err := ListenDirect("127.0.0.1:0", newTestDirectConfig(t, nil))
	require.NoError(t, err)
	defer ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := ln.Accept(ctx)
		done <- err
	}()

	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrListenerClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("accept did not return after cancel")
	}
}

func TestDialRefused(t *testing.T) {
	ln, err := ListenDirect("127.0.0.1:0", newTestDirectConfig(t, nil))
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	_, err = Dial(context.Background(), addr, newTestDirectConfig(t, nil))
	assert.Error(t, err)
}
