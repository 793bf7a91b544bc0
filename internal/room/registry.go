package room

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/BioHazard786/Warpcall/internal/media"
	"github.com/thoas/go-funk"
)

// Peer is a remote participant.
type Peer struct {
	ID            string
	DisplayName   string
	Device        json.RawMessage
	Consumers     []PeerConsumer
	DataConsumers []PeerDataConsumer
}

// PeerConsumer is a remote inbound media flow attached to a peer.
type PeerConsumer struct {
	ID         string
	ProducerID string
	Kind       media.Kind
	Type       string
	Codec      string

	SpatialLayers          int
	TemporalLayers         int
	PreferredSpatialLayer  int
	PreferredTemporalLayer int
	// Current layers as last reported by the relay, -1 until then.
	CurrentSpatialLayer    int
	CurrentTemporalLayer   int
	Priority               int

	LocallyPaused  bool
	RemotelyPaused bool

	Track media.Track
}

// Playable reports whether neither side has paused the flow.
func (c PeerConsumer) Playable() bool {
	return !c.LocallyPaused && !c.RemotelyPaused
}

type PeerDataConsumer struct {
	ID             string
	DataProducerID string
	Label          string
	Protocol       string
}

func (p *Peer) clone() Peer {
	out := *p
	out.Consumers = append([]PeerConsumer(nil), p.Consumers...)
	out.DataConsumers = append([]PeerDataConsumer(nil), p.DataConsumers...)
	return out
}

// Registry is the table of known remote peers. Every read returns copies.
type Registry struct {
	mu    sync.RWMutex
	peers map[string]*Peer
}

func NewRegistry() *Registry {
	return &Registry{peers: make(map[string]*Peer)}
}

// Add inserts a peer with empty flow lists, replacing any previous entry
// with the same id.
func (r *Registry) Add(id, displayName string, device json.RawMessage) Peer {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := &Peer{ID: id, DisplayName: displayName, Device: device}
	r.peers[id] = p
	return p.clone()
}

// Remove drops a peer and with it every flow record it owns.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.peers[id]; !ok {
		return false
	}
	delete(r.peers, id)
	return true
}

func (r *Registry) Get(id string) (Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.peers[id]
	if !ok {
		return Peer{}, false
	}
	return p.clone(), true
}

func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.peers[id]
	return ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// Snapshot returns every peer ordered by id.
func (r *Registry) Snapshot() []Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	peers := funk.Values(r.peers).([]*Peer)
	sort.Slice(peers, func(i, j int) bool { return peers[i].ID < peers[j].ID })

	out := make([]Peer, 0, len(peers))
	for _, p := range peers {
		out = append(out, p.clone())
	}
	return out
}

func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers = make(map[string]*Peer)
}

func (r *Registry) SetDisplayName(peerID, name string) (Peer, bool) {
	return r.update(peerID, func(p *Peer) bool {
		p.DisplayName = name
		return true
	})
}

// AddConsumer appends c to the owning peer. It reports false, changing
// nothing, when the peer is unknown.
func (r *Registry) AddConsumer(peerID string, c PeerConsumer) (Peer, bool) {
	return r.update(peerID, func(p *Peer) bool {
		p.Consumers = append(p.Consumers, c)
		return true
	})
}

// UpdateConsumer applies fn to the consumer record wherever it lives.
func (r *Registry) UpdateConsumer(consumerID string, fn func(*PeerConsumer)) (Peer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range r.peers {
		for i := range p.Consumers {
			if p.Consumers[i].ID == consumerID {
				fn(&p.Consumers[i])
				return p.clone(), true
			}
		}
	}
	return Peer{}, false
}

// RemoveConsumer drops the consumer record from its peer.
func (r *Registry) RemoveConsumer(consumerID string) (Peer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range r.peers {
		for i := range p.Consumers {
			if p.Consumers[i].ID == consumerID {
				p.Consumers = append(p.Consumers[:i], p.Consumers[i+1:]...)
				return p.clone(), true
			}
		}
	}
	return Peer{}, false
}

func (r *Registry) AddDataConsumer(peerID string, dc PeerDataConsumer) (Peer, bool) {
	return r.update(peerID, func(p *Peer) bool {
		p.DataConsumers = append(p.DataConsumers, dc)
		return true
	})
}

func (r *Registry) RemoveDataConsumer(dataConsumerID string) (Peer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range r.peers {
		for i := range p.DataConsumers {
			if p.DataConsumers[i].ID == dataConsumerID {
				p.DataConsumers = append(p.DataConsumers[:i], p.DataConsumers[i+1:]...)
				return p.clone(), true
			}
		}
	}
	return Peer{}, false
}

func (r *Registry) update(peerID string, fn func(*Peer) bool) (Peer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.peers[peerID]
	if !ok || !fn(p) {
		return Peer{}, false
	}
	return p.clone(), true
}
