// Package chat runs a chat session: a send path fed by user input and a
// receive path that dispatches incoming messages, over either transport.
package chat

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/ZentaChain/zentalk-chat/pkg/network"
	"github.com/ZentaChain/zentalk-chat/pkg/protocol"
	"github.com/ZentaChain/zentalk-chat/pkg/registry"
)

var log = logging.Logger("chat/runner")

// DefaultAnnounceInterval is how often gossip mode re-sends the local name
const DefaultAnnounceInterval = 60 * time.Second

// Transport moves chat messages for one session
type Transport interface {
	// Send delivers one line of text
	Send(ctx context.Context, text string) error

	// Receive blocks until the next message. It returns an error once the
	// session is over.
	Receive(ctx context.Context) (protocol.Body, error)

	// Heartbeat keeps the session alive and, where supported, tells peers
	// our display name
	Heartbeat(ctx context.Context) error
	HeartbeatInterval() time.Duration

	Close() error
}

// Description summarizes a transport for status reporting
type Description struct {
	Mode    string `json:"mode"`
	Remote  string `json:"remote,omitempty"`
	Room    string `json:"room,omitempty"`
	Topic   string `json:"topic,omitempty"`
	Peers   int    `json:"peers"`
	Dropped uint64 `json:"dropped"`
}

// Describer is implemented by transports that can report their state
type Describer interface {
	Describe() Description
}

// DirectTransport carries plain text lines over an encrypted direct session
type DirectTransport struct {
	session *network.DirectSession
}

// NewDirectTransport wraps an established session
func NewDirectTransport(session *network.DirectSession) *DirectTransport {
	return &DirectTransport{session: session}
}

func (t *DirectTransport) Send(_ context.Context, text string) error {
	return t.session.Send(text)
}

func (t *DirectTransport) Receive(_ context.Context) (protocol.Body, error) {
	line, err := t.session.Receive()
	if err != nil {
		return nil, err
	}
	return &protocol.Text{Sender: t.session.Remote(), Content: line}, nil
}

func (t *DirectTransport) Heartbeat(_ context.Context) error {
	return t.session.SendKeepAlive()
}

func (t *DirectTransport) HeartbeatInterval() time.Duration {
	return t.session.KeepAliveInterval()
}

func (t *DirectTransport) Close() error {
	return t.session.Close()
}

func (t *DirectTransport) Describe() Description {
	return Description{
		Mode:   "direct",
		Remote: t.session.RemoteAddr().String(),
		Peers:  1,
	}
}

// GossipTransport exchanges envelopes in a gossip room
type GossipTransport struct {
	room     *network.Room
	self     protocol.PeerID
	registry *registry.Registry
	interval time.Duration
	dropped  atomic.Uint64
}

// NewGossipTransport wraps a joined room. Heartbeats announce the current
// local name from reg every interval.
func NewGossipTransport(room *network.Room, self protocol.PeerID, reg *registry.Registry, interval time.Duration) *GossipTransport {
	if interval <= 0 {
		interval = DefaultAnnounceInterval
	}
	return &GossipTransport{
		room:     room,
		self:     self,
		registry: reg,
		interval: interval,
	}
}

func (t *GossipTransport) Send(ctx context.Context, text string) error {
	return t.publish(ctx, protocol.NewText(t.self, text))
}

func (t *GossipTransport) Heartbeat(ctx context.Context) error {
	return t.publish(ctx, protocol.NewAnnounce(t.self, t.registry.SelfName()))
}

func (t *GossipTransport) HeartbeatInterval() time.Duration {
	return t.interval
}

func (t *GossipTransport) publish(ctx context.Context, env *protocol.Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return err
	}
	return t.room.Broadcast(ctx, data)
}

// Receive returns the next well-formed envelope body. Malformed payloads and
// envelopes whose sender does not match the gossip author are dropped.
func (t *GossipTransport) Receive(ctx context.Context) (protocol.Body, error) {
	for {
		var d *network.Delivery
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case msg, ok := <-t.room.Messages():
			if !ok {
				return nil, network.ErrRoomClosed
			}
			d = msg
		}

		env, err := protocol.DecodeEnvelope(d.Data)
		if err != nil {
			t.dropped.Add(1)
			log.Warnw("dropping malformed envelope", "from", d.From.ShortString(), "error", err)
			continue
		}

		if env.Body.SenderID() != d.Sender {
			t.dropped.Add(1)
			log.Warnw("dropping envelope with spoofed sender",
				"from", d.From.ShortString(), "claimed", env.Body.SenderID().Short())
			continue
		}

		return env.Body, nil
	}
}

func (t *GossipTransport) Close() error {
	return t.room.Close()
}

func (t *GossipTransport) Describe() Description {
	return Description{
		Mode:    "gossip",
		Room:    t.room.Name(),
		Topic:   t.room.Topic(),
		Peers:   len(t.room.Peers()),
		Dropped: t.dropped.Load(),
	}
}

// isSessionEnd reports whether err is an ordinary end of a session
func isSessionEnd(err error) bool {
	return errors.Is(err, protocol.ErrConnectionClosed) ||
		errors.Is(err, network.ErrRoomClosed) ||
		errors.Is(err, context.Canceled)
}

func describe(t Transport) Description {
	if d, ok := t.(Describer); ok {
		return d.Describe()
	}
	return Description{Mode: fmt.Sprintf("%T", t)}
}
