// Package network provides the two transports of zentalk-chat: encrypted
// direct TCP sessions and a GossipSub overlay for room broadcast.
package network

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"

	logging "github.com/ipfs/go-log/v2"
	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	pb "github.com/libp2p/go-libp2p-pubsub/pb"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"

	"github.com/ZentaChain/zentalk-chat/pkg/protocol"
)

var log = logging.Logger("chat/network")

// DefaultListenAddrs are used when NodeConfig.ListenAddrs is empty
var DefaultListenAddrs = []string{
	"/ip4/0.0.0.0/tcp/0",
	"/ip4/0.0.0.0/udp/0/quic-v1",
}

// NodeConfig contains configuration for creating a gossip node
type NodeConfig struct {
	ListenAddrs    []string
	BootstrapPeers []string
	PrivateKey     crypto.PrivKey // Optional: provide your own key
	EnableMDNS     bool
	EnableDHT      bool
}

// DefaultNodeConfig returns default node configuration
func DefaultNodeConfig() *NodeConfig {
	return &NodeConfig{
		ListenAddrs: DefaultListenAddrs,
		EnableMDNS:  true,
		EnableDHT:   true,
	}
}

// Node is a libp2p host with a GossipSub router
type Node struct {
	host   host.Host
	pubsub *pubsub.PubSub
	self   protocol.PeerID
	cfg    *NodeConfig

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	discovery *Discovery
}

// NewNode creates a libp2p host and a GossipSub router on it
func NewNode(ctx context.Context, cfg *NodeConfig) (*Node, error) {
	if cfg == nil {
		cfg = DefaultNodeConfig()
	}

	priv := cfg.PrivateKey
	if priv == nil {
		var err error
		priv, _, err = crypto.GenerateEd25519Key(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("failed to generate key pair: %w", err)
		}
	}

	self, err := peerIDFromPubKey(priv.GetPublic())
	if err != nil {
		return nil, err
	}

	listenAddrs := cfg.ListenAddrs
	if len(listenAddrs) == 0 {
		listenAddrs = DefaultListenAddrs
	}

	h, err := libp2p.New(
		libp2p.Identity(priv),
		libp2p.ListenAddrStrings(listenAddrs...),
		libp2p.DefaultTransports,
		libp2p.DefaultMuxers,
		libp2p.DefaultSecurity,
		libp2p.NATPortMap(),
		libp2p.EnableHolePunching(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create libp2p host: %w", err)
	}

	nodeCtx, cancel := context.WithCancel(ctx)

	ps, err := pubsub.NewGossipSub(nodeCtx, h, pubsub.WithMessageIdFn(envelopeMessageID))
	if err != nil {
		cancel()
		h.Close()
		return nil, fmt.Errorf("failed to create gossipsub: %w", err)
	}

	n := &Node{
		host:   h,
		pubsub: ps,
		self:   self,
		cfg:    cfg,
		ctx:    nodeCtx,
		cancel: cancel,
	}

	log.Infow("node started", "peer", h.ID().String(), "addrs", h.Addrs())

	for _, addr := range cfg.BootstrapPeers {
		if err := n.Connect(nodeCtx, addr); err != nil {
			log.Warnw("failed to connect to bootstrap peer", "addr", addr, "error", err)
		}
	}

	return n, nil
}

// envelopeMessageID keys gossip deduplication on the envelope token so that
// re-published copies of one message collapse. Payloads that do not decode
// fall back to the router default.
func envelopeMessageID(m *pb.Message) string {
	env, err := protocol.DecodeEnvelope(m.GetData())
	if err != nil {
		return pubsub.DefaultMsgIdFn(m)
	}
	return hex.EncodeToString(env.Token[:])
}

// peerIDFromPubKey maps a libp2p public key to the chat identifier
func peerIDFromPubKey(pub crypto.PubKey) (protocol.PeerID, error) {
	raw, err := pub.Raw()
	if err != nil {
		return protocol.PeerID{}, fmt.Errorf("failed to read public key: %w", err)
	}
	return protocol.PeerIDFromPublicKey(raw), nil
}

// senderFromPeer recovers the chat identifier of a libp2p message author
func senderFromPeer(id peer.ID) (protocol.PeerID, error) {
	pub, err := id.ExtractPublicKey()
	if err != nil {
		return protocol.PeerID{}, fmt.Errorf("failed to extract public key from %s: %w", id, err)
	}
	return peerIDFromPubKey(pub)
}

// Self returns the chat identifier of this node
func (n *Node) Self() protocol.PeerID {
	return n.self
}

// ID returns the libp2p peer ID
func (n *Node) ID() peer.ID {
	return n.host.ID()
}

// Host returns the libp2p host
func (n *Node) Host() host.Host {
	return n.host
}

// Addrs returns full multiaddrs including the /p2p component
func (n *Node) Addrs() []string {
	info := peer.AddrInfo{ID: n.host.ID(), Addrs: n.host.Addrs()}
	maddrs, err := peer.AddrInfoToP2pAddrs(&info)
	if err != nil {
		return nil
	}
	addrs := make([]string, len(maddrs))
	for i, a := range maddrs {
		addrs[i] = a.String()
	}
	return addrs
}

// AddrInfo returns this node's address info
func (n *Node) AddrInfo() peer.AddrInfo {
	return peer.AddrInfo{ID: n.host.ID(), Addrs: n.host.Addrs()}
}

// PeerCount returns the number of connected peers
func (n *Node) PeerCount() int {
	return len(n.host.Network().Peers())
}

// Connect connects to a peer given its multiaddr
func (n *Node) Connect(ctx context.Context, peerAddr string) error {
	maddr, err := multiaddr.NewMultiaddr(peerAddr)
	if err != nil {
		return fmt.Errorf("invalid peer address: %w", err)
	}

	peerInfo, err := peer.AddrInfoFromP2pAddr(maddr)
	if err != nil {
		return fmt.Errorf("failed to parse peer info: %w", err)
	}

	return n.ConnectPeer(ctx, *peerInfo)
}

// ConnectPeer connects to a known peer
func (n *Node) ConnectPeer(ctx context.Context, info peer.AddrInfo) error {
	if info.ID == n.host.ID() {
		return nil
	}
	if err := n.host.Connect(ctx, info); err != nil {
		return fmt.Errorf("failed to connect to peer: %w", err)
	}
	log.Debugw("connected to peer", "peer", info.ID.ShortString())
	return nil
}

// StartDiscovery starts mDNS and DHT rendezvous on namespace
func (n *Node) StartDiscovery(namespace string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.discovery != nil {
		return nil
	}

	d, err := NewDiscovery(n.ctx, n, namespace, n.cfg.EnableMDNS, n.cfg.EnableDHT)
	if err != nil {
		return err
	}
	d.Start()
	n.discovery = d
	return nil
}

// Close gracefully shuts down the node
func (n *Node) Close() error {
	n.cancel()

	n.mu.Lock()
	if n.discovery != nil {
		n.discovery.Close()
	}
	n.mu.Unlock()

	if err := n.host.Close(); err != nil {
		return fmt.Errorf("failed to close host: %w", err)
	}
	return nil
}
