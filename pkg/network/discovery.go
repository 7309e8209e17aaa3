package network

import (
	"context"
	"sync"
	"time"

	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/libp2p/go-libp2p/p2p/discovery/routing"
	dutil "github.com/libp2p/go-libp2p/p2p/discovery/util"
	"github.com/multiformats/go-multiaddr"
)

const rendezvousInterval = time.Minute

// mdnsNotifee receives local network peers from the mDNS service
type mdnsNotifee struct {
	onPeerFound func(peer.AddrInfo)
}

func (m *mdnsNotifee) HandlePeerFound(pi peer.AddrInfo) {
	log.Debugw("mdns peer found", "peer", pi.ID.ShortString())
	m.onPeerFound(pi)
}

// Discovery finds room members over mDNS and a DHT rendezvous point.
// Both use the room topic as their namespace.
type Discovery struct {
	node      *Node
	namespace string
	ctx       context.Context
	cancel    context.CancelFunc

	enableMDNS bool
	mdns       mdns.Service
	dht        *dht.IpfsDHT

	wg sync.WaitGroup
}

// NewDiscovery prepares discovery for namespace. Nothing runs until Start.
func NewDiscovery(ctx context.Context, n *Node, namespace string, enableMDNS, enableDHT bool) (*Discovery, error) {
	dctx, cancel := context.WithCancel(ctx)
	d := &Discovery{
		node:       n,
		namespace:  namespace,
		ctx:        dctx,
		cancel:     cancel,
		enableMDNS: enableMDNS,
	}

	if enableDHT {
		kadDHT, err := dht.New(dctx, n.host, dht.Mode(dht.ModeAutoServer))
		if err != nil {
			cancel()
			return nil, err
		}
		d.dht = kadDHT
	}

	return d, nil
}

// Start launches the enabled discovery mechanisms in the background
func (d *Discovery) Start() {
	if d.enableMDNS {
		d.startMDNS()
	}

	if d.dht != nil {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.runRendezvous()
		}()
	}
}

func (d *Discovery) handlePeer(pi peer.AddrInfo) {
	if pi.ID == d.node.host.ID() {
		return
	}
	if err := d.node.ConnectPeer(d.ctx, pi); err != nil {
		log.Debugw("failed to connect to discovered peer", "peer", pi.ID.ShortString(), "error", err)
	}
}

func (d *Discovery) startMDNS() {
	d.mdns = mdns.NewMdnsService(d.node.host, d.namespace, &mdnsNotifee{onPeerFound: d.handlePeer})
	if err := d.mdns.Start(); err != nil {
		log.Errorw("failed to start mdns", "error", err)
		d.mdns = nil
		return
	}
	log.Infow("mdns discovery started", "namespace", d.namespace)
}

func (d *Discovery) runRendezvous() {
	if err := d.dht.Bootstrap(d.ctx); err != nil {
		log.Errorw("dht bootstrap failed", "error", err)
		return
	}

	if len(d.node.cfg.BootstrapPeers) == 0 {
		d.connectDefaultBootstrap()
	}

	rd := routing.NewRoutingDiscovery(d.dht)
	dutil.Advertise(d.ctx, rd, d.namespace)
	log.Infow("advertising rendezvous", "namespace", d.namespace)

	ticker := time.NewTicker(rendezvousInterval)
	defer ticker.Stop()

	for {
		d.findPeers(rd)

		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (d *Discovery) findPeers(rd *routing.RoutingDiscovery) {
	peerChan, err := rd.FindPeers(d.ctx, d.namespace)
	if err != nil {
		log.Warnw("rendezvous lookup failed", "error", err)
		return
	}
	for pi := range peerChan {
		if len(pi.Addrs) == 0 {
			continue
		}
		d.handlePeer(pi)
	}
}

func (d *Discovery) connectDefaultBootstrap() {
	var wg sync.WaitGroup
	for _, maddr := range dht.DefaultBootstrapPeers {
		wg.Add(1)
		go func(addr multiaddr.Multiaddr) {
			defer wg.Done()
			pi, err := peer.AddrInfoFromP2pAddr(addr)
			if err != nil {
				return
			}
			if err := d.node.host.Connect(d.ctx, *pi); err == nil {
				log.Debugw("connected to bootstrap peer", "peer", pi.ID.ShortString())
			}
		}(maddr)
	}
	wg.Wait()
}

// Close stops discovery and waits for the rendezvous loop
func (d *Discovery) Close() {
	d.cancel()
	if d.mdns != nil {
		d.mdns.Close()
	}
	d.wg.Wait()
	if d.dht != nil {
		d.dht.Close()
	}
}
