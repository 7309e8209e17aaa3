// Package registry maps peer identifiers to display names.
//
// Entries are updated from announcements with last-write-wins semantics.
// The table is bounded: once Capacity remote peers are known, the least
// recently touched one is evicted. The local identity is kept outside the
// bounded table and is never evicted.
package registry

import (
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	logging "github.com/ipfs/go-log/v2"

	"github.com/ZentaChain/zentalk-chat/pkg/protocol"
)

// DefaultCapacity is the default number of remote peers remembered
const DefaultCapacity = 4096

var log = logging.Logger("chat/registry")

// Entry is one known peer
type Entry struct {
	ID   protocol.PeerID
	Name string
	Self bool
}

// Registry is safe for concurrent use by the send and receive paths
type Registry struct {
	mu       sync.RWMutex
	self     protocol.PeerID
	selfName string
	names    *lru.Cache // protocol.PeerID -> string
}

// New creates a registry for the local identity. capacity <= 0 selects
// DefaultCapacity.
func New(self protocol.PeerID, selfName string, capacity int) (*Registry, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	names, err := lru.NewWithEvict(capacity, func(key, _ interface{}) {
		log.Debugw("evicted peer", "peer", key.(protocol.PeerID).Short())
	})
	if err != nil {
		return nil, err
	}

	return &Registry{
		self:     self,
		selfName: protocol.TruncateName(selfName),
		names:    names,
	}, nil
}

// Self returns the local peer identifier
func (r *Registry) Self() protocol.PeerID {
	return r.self
}

// SelfName returns the local display name
func (r *Registry) SelfName() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.selfName
}

// Upsert records name for id, overwriting any previous name
func (r *Registry) Upsert(id protocol.PeerID, name string) {
	name = protocol.TruncateName(name)

	if id == r.self {
		r.mu.Lock()
		r.selfName = name
		r.mu.Unlock()
		return
	}

	r.names.Add(id, name)
}

// Lookup returns the stored name for id, if any
func (r *Registry) Lookup(id protocol.PeerID) (string, bool) {
	if id == r.self {
		name := r.SelfName()
		return name, name != ""
	}

	v, ok := r.names.Get(id)
	if !ok {
		return "", false
	}
	name := v.(string)
	return name, name != ""
}

// Resolve returns the display string for id: its name if known, otherwise
// the short hex rendering of the identifier. It never fails.
func (r *Registry) Resolve(id protocol.PeerID) string {
	if name, ok := r.Lookup(id); ok {
		return name
	}
	return id.Short()
}

// Len returns the number of remote peers currently remembered
func (r *Registry) Len() int {
	return r.names.Len()
}

// Snapshot returns all known peers, local identity first, remote peers
// ordered by identifier
func (r *Registry) Snapshot() []Entry {
	entries := []Entry{{ID: r.self, Name: r.SelfName(), Self: true}}

	remote := make([]Entry, 0, r.names.Len())
	for _, k := range r.names.Keys() {
		v, ok := r.names.Peek(k)
		if !ok {
			continue
		}
		remote = append(remote, Entry{ID: k.(protocol.PeerID), Name: v.(string)})
	}
	sort.Slice(remote, func(i, j int) bool {
		return remote[i].ID.String() < remote[j].ID.String()
	})

	return append(entries, remote...)
}
