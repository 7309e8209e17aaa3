package network

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/peer"

	chatcrypto "github.com/ZentaChain/zentalk-chat/pkg/crypto"
	"github.com/ZentaChain/zentalk-chat/pkg/protocol"
)

// TopicPrefix namespaces room topics
const TopicPrefix = "/zentalk-chat/room/"

// deliveryBuffer bounds deliveries waiting for the receive path
const deliveryBuffer = 128

var ErrRoomClosed = errors.New("room closed")

// TopicForRoom derives the gossip topic of a room. Peers using the same room
// name meet on the same topic.
func TopicForRoom(room string) string {
	return TopicPrefix + chatcrypto.HashString([]byte(room))
}

// Delivery is one message received from the room
type Delivery struct {
	Data       []byte
	From       peer.ID         // libp2p author
	Sender     protocol.PeerID // chat identifier of the author
	ReceivedAt time.Time
}

// Room is a joined gossip topic
type Room struct {
	name  string
	node  *Node
	topic *pubsub.Topic
	sub   *pubsub.Subscription

	ctx    context.Context
	cancel context.CancelFunc

	messages  chan *Delivery
	closeOnce sync.Once
	done      chan struct{}
}

// JoinRoom subscribes to the topic of room. Deliveries flow until Close;
// calling JoinRoom again after Close resubscribes.
func (n *Node) JoinRoom(room string) (*Room, error) {
	name := TopicForRoom(room)

	topic, err := n.pubsub.Join(name)
	if err != nil {
		return nil, fmt.Errorf("failed to join topic %s: %w", name, err)
	}

	sub, err := topic.Subscribe()
	if err != nil {
		topic.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", name, err)
	}

	ctx, cancel := context.WithCancel(n.ctx)
	r := &Room{
		name:     room,
		node:     n,
		topic:    topic,
		sub:      sub,
		ctx:      ctx,
		cancel:   cancel,
		messages: make(chan *Delivery, deliveryBuffer),
		done:     make(chan struct{}),
	}

	go r.readLoop()

	log.Infow("joined room", "room", room, "topic", name)
	return r, nil
}

// Name returns the room name
func (r *Room) Name() string {
	return r.name
}

// Topic returns the gossip topic string
func (r *Room) Topic() string {
	return r.topic.String()
}

// Broadcast publishes data to every subscriber. Delivery is best effort.
func (r *Room) Broadcast(ctx context.Context, data []byte) error {
	select {
	case <-r.done:
		return ErrRoomClosed
	default:
	}
	if err := r.topic.Publish(ctx, data); err != nil {
		return fmt.Errorf("failed to publish: %w", err)
	}
	return nil
}

// Messages returns the receive stream. It is closed when the room closes.
func (r *Room) Messages() <-chan *Delivery {
	return r.messages
}

// Peers returns the peers currently known on the topic
func (r *Room) Peers() []peer.ID {
	return r.topic.ListPeers()
}

func (r *Room) readLoop() {
	defer close(r.messages)

	self := r.node.host.ID()
	for {
		msg, err := r.sub.Next(r.ctx)
		if err != nil {
			if r.ctx.Err() == nil {
				log.Warnw("subscription ended", "room", r.name, "error", err)
			}
			return
		}

		if msg.ReceivedFrom == self || msg.GetFrom() == self {
			continue
		}

		sender, err := senderFromPeer(msg.GetFrom())
		if err != nil {
			log.Warnw("dropping message with unknown author", "error", err)
			continue
		}

		d := &Delivery{
			Data:       msg.Data,
			From:       msg.GetFrom(),
			Sender:     sender,
			ReceivedAt: time.Now(),
		}

		select {
		case r.messages <- d:
		case <-r.ctx.Done():
			return
		}
	}
}

// Close cancels the subscription and leaves the topic
func (r *Room) Close() error {
	r.closeOnce.Do(func() {
		close(r.done)
		r.cancel()
		r.sub.Cancel()
		if cerr := r.topic.Close(); cerr != nil {
			log.Debugw("topic close", "topic", r.topic.String(), "error", cerr)
		}
		log.Infow("left room", "room", r.name)
	})
	return nil
}
