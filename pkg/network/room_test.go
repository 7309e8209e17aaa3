package network

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZentaChain/zentalk-chat/pkg/protocol"
	"github.com/ZentaChain/zentalk-chat/pkg/registry"
)

func newTestNode(t *testing.T) *Node {
	t.Helper()

	cfg := &NodeConfig{
		ListenAddrs: []string{"/ip4/127.0.0.1/tcp/0"},
	}
	n, err := NewNode(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { n.Close() })
	return n
}

func receiveDelivery(t *testing.T, r *Room) *Delivery {
	t.Helper()

	select {
	case d, ok := <-r.Messages():
		require.True(t, ok, "room closed")
		return d
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for delivery")
		return nil
	}
}

func TestTopicForRoom(t *testing.T) {
	a := TopicForRoom("lobby")
	assert.True(t, strings.HasPrefix(a, TopicPrefix))
	assert.Len(t, a, len(TopicPrefix)+64)
	assert.Equal(t, a, TopicForRoom("lobby"))
	assert.NotEqual(t, a, TopicForRoom("Lobby"))
}

func TestNodeSelfMatchesAuthor(t *testing.T) {
	n := newTestNode(t)

	self, err := senderFromPeer(n.ID())
	require.NoError(t, err)
	assert.Equal(t, n.Self(), self)
	assert.NotEmpty(t, n.Addrs())
}

func TestNodeConnectInvalidAddr(t *testing.T) {
	n := newTestNode(t)
	assert.Error(t, n.Connect(context.Background(), "not-a-multiaddr"))
}

func TestRoomAnnounceThenText(t *testing.T) {
	alice := newTestNode(t)
	bob := newTestNode(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	require.NoError(t, bob.Connect(ctx, alice.Addrs()[0]))

	aliceRoom, err := alice.JoinRoom("test-room")
	require.NoError(t, err)
	defer aliceRoom.Close()

	bobRoom, err := bob.JoinRoom("test-room")
	require.NoError(t, err)
	defer bobRoom.Close()

	require.Eventually(t, func() bool {
		return len(aliceRoom.Peers()) > 0 && len(bobRoom.Peers()) > 0
	}, 10*time.Second, 50*time.Millisecond, "peers never met on the topic")

	reg, err := registry.New(bob.Self(), "bob", 0)
	require.NoError(t, err)

	announce, err := protocol.NewAnnounce(alice.Self(), "alice").Encode()
	require.NoError(t, err)
	require.NoError(t, aliceRoom.Broadcast(ctx, announce))

	d := receiveDelivery(t, bobRoom)
	assert.Equal(t, alice.ID(), d.From)
	assert.Equal(t, alice.Self(), d.Sender)

	env, err := protocol.DecodeEnvelope(d.Data)
	require.NoError(t, err)
	a, ok := env.Body.(*protocol.Announce)
	require.True(t, ok)
	reg.Upsert(a.Sender, a.Name)

	text, err := protocol.NewText(alice.Self(), "hi").Encode()
	require.NoError(t, err)
	require.NoError(t, aliceRoom.Broadcast(ctx, text))

	d = receiveDelivery(t, bobRoom)
	env, err = protocol.DecodeEnvelope(d.Data)
	require.NoError(t, err)
	msg, ok := env.Body.(*protocol.Text)
	require.True(t, ok)

	assert.Equal(t, "hi", msg.Content)
	assert.Equal(t, "alice", reg.Resolve(msg.Sender))
}

func TestRoomFiltersOwnMessages(t *testing.T) {
	n := newTestNode(t)

	room, err := n.JoinRoom("solo")
	require.NoError(t, err)
	defer room.Close()

	payload, err := protocol.NewText(n.Self(), "echo?").Encode()
	require.NoError(t, err)
	require.NoError(t, room.Broadcast(context.Background(), payload))

	select {
	case d := <-room.Messages():
		t.Fatalf("unexpected delivery of own message: %v", d)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestRoomCloseEndsStream(t *testing.T) {
	n := newTestNode(t)

	room, err := n.JoinRoom("closing")
	require.NoError(t, err)
	require.NoError(t, room.Close())
	require.NoError(t, room.Close())

	select {
	case _, ok := <-room.Messages():
		assert.False(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("message stream not closed")
	}

	assert.ErrorIs(t, room.Broadcast(context.Background(), []byte("late")), ErrRoomClosed)

	// Joining again resubscribes
	again, err := n.JoinRoom("closing")
	require.NoError(t, err)
	again.Close()
}
