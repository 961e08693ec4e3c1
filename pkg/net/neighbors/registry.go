// Package neighbors implements C2: a bounded, mutex-serialized
// registry of known peers (spec.md §4.2). Grounded on
// _examples/original_source/net/src/neighbourhood.cpp
// (newPeerDiscovered/gotRegistrationRequest/gotPing/MaxNeighbours) for
// the state machine, and on the teacher's pkg/p2p/peer/peermgr/peer.go
// for the mutex-guarded-state-plus-logrus idiom.
package neighbors

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/cleancoindev2/csnode/pkg/identity"
	"github.com/cleancoindev2/csnode/pkg/wire/message"
)

// MaxNeighbours is the registry capacity (spec.md §4.2).
const MaxNeighbours = 128

// LastSeenTimeout is the default idle eviction threshold (spec.md §6).
const LastSeenTimeout = 30 * time.Second

// PeerInfo is the per-peer state the registry tracks (spec.md §3).
type PeerInfo struct {
	Version     uint16
	ChainUUID   uint64
	LastSeq     uint64
	LastRound   uint64
	LastSeen    time.Time
	Established bool
}

// Transport is the capability the registry needs from the network
// layer to answer handshakes and pings; kept minimal and
// unexported-implementation-agnostic so tests can fake it.
type Transport interface {
	Send(peer identity.ID, body message.Body)
}

// EvictReason mirrors message.RefusalReason plus the Timeout case used
// by sweep-driven eviction.
type EvictReason = message.RefusalReason

// Registry is C2's bounded peer map. All operations are serialized by
// mu; Snapshot yields a point-in-time copy for lock-free iteration
// (spec.md §4.2 "operations are serialized by an internal mutex;
// iteration yields a snapshot").
type Registry struct {
	mu        sync.Mutex
	peers     map[identity.ID]*PeerInfo
	capacity  int
	transport Transport

	version         uint16
	chainUUID       uint64
	lastSeenTimeout time.Duration
}

// New creates an empty Registry announcing version/chainUUID in its
// own Registration messages.
func New(transport Transport, version uint16, chainUUID uint64) *Registry {
	return NewWithTimeout(transport, version, chainUUID, LastSeenTimeout)
}

// NewWithTimeout is New with an explicit eviction timeout, used by
// tests that need to observe eviction without waiting out the
// production default.
func NewWithTimeout(transport Transport, version uint16, chainUUID uint64, timeout time.Duration) *Registry {
	return &Registry{
		peers:           make(map[identity.ID]*PeerInfo),
		capacity:        MaxNeighbours,
		transport:       transport,
		version:         version,
		chainUUID:       chainUUID,
		lastSeenTimeout: timeout,
	}
}

// OnDiscovered handles a newly seen peer: if the registry is full it
// is ignored; otherwise an unestablished slot is inserted and a
// Registration is sent (spec.md §4.2).
func (r *Registry) OnDiscovered(peer identity.ID, currentLastSeq, currentRound uint64) {
	r.mu.Lock()
	if len(r.peers) >= r.capacity {
		r.mu.Unlock()
		log.WithFields(log.Fields{"process": "neighbors", "peer": peer.String()}).Debugln("registry full, ignoring discovery")
		return
	}
	if _, ok := r.peers[peer]; ok {
		r.mu.Unlock()
		return
	}
	r.peers[peer] = &PeerInfo{LastSeen: time.Now()}
	r.mu.Unlock()

	r.transport.Send(peer, &message.Registration{
		Version:     r.version,
		ChainUUID:   r.chainUUID,
		LastSeq:     currentLastSeq,
		SenderRound: currentRound,
	})
}

// OnRegistrationRequest handles an inbound Registration, rejecting on
// version/chain mismatch or a full registry, else installing and
// confirming the slot (spec.md §4.2).
func (r *Registry) OnRegistrationRequest(peer identity.ID, req *message.Registration) {
	switch {
	case req.Version != r.version:
		r.refuse(peer, message.ReasonBadClientVersion)
		return
	case req.ChainUUID != r.chainUUID:
		r.refuse(peer, message.ReasonIncompatibleBlockchain)
		return
	}

	r.mu.Lock()
	if _, exists := r.peers[peer]; !exists && len(r.peers) >= r.capacity {
		r.mu.Unlock()
		r.refuse(peer, message.ReasonLimitReached)
		return
	}
	r.peers[peer] = &PeerInfo{
		Version:     req.Version,
		ChainUUID:   req.ChainUUID,
		LastSeq:     req.LastSeq,
		LastRound:   req.SenderRound,
		LastSeen:    time.Now(),
		Established: true,
	}
	r.mu.Unlock()

	r.transport.Send(peer, &message.RegistrationConfirmed{})
}

func (r *Registry) refuse(peer identity.ID, reason message.RefusalReason) {
	log.WithFields(log.Fields{
		"process": "neighbors",
		"peer":    peer.String(),
		"reason":  reason,
	}).Infoln("refusing registration")
	r.transport.Send(peer, &message.RegistrationRefused{Reason: reason})
}

// OnPing updates lastSeq/lastSeen for peer, evicting it if the gap
// since its last activity already exceeds the timeout (spec.md §4.2).
func (r *Registry) OnPing(peer identity.ID, ping *message.Ping) {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, ok := r.peers[peer]
	if !ok {
		return
	}
	now := time.Now()
	if now.Sub(info.LastSeen) > r.lastSeenTimeout {
		delete(r.peers, peer)
		log.WithFields(log.Fields{"process": "neighbors", "peer": peer.String()}).Infoln("evicted: timeout")
		return
	}
	info.LastSeq = ping.LastSeq
	info.LastSeen = now
}

// Sweep evicts every peer whose last activity exceeds the timeout and
// pings every established peer that survives with the caller's current
// chain tip (spec.md §4.2).
func (r *Registry) Sweep(currentLastSeq uint64) (evicted []identity.ID) {
	r.mu.Lock()
	now := time.Now()
	var alive []identity.ID
	for peer, info := range r.peers {
		if now.Sub(info.LastSeen) > r.lastSeenTimeout {
			delete(r.peers, peer)
			evicted = append(evicted, peer)
			continue
		}
		if info.Established {
			alive = append(alive, peer)
		}
	}
	r.mu.Unlock()

	for _, peer := range evicted {
		log.WithFields(log.Fields{"process": "neighbors", "peer": peer.String()}).Infoln("evicted: timeout")
	}
	for _, peer := range alive {
		r.transport.Send(peer, &message.Ping{LastSeq: currentLastSeq})
	}
	return evicted
}

// Snapshot returns a point-in-time copy of the registry's peers.
func (r *Registry) Snapshot() map[identity.ID]PeerInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[identity.ID]PeerInfo, len(r.peers))
	for id, info := range r.peers {
		out[id] = *info
	}
	return out
}

// Peers returns the identities of every established peer, satisfying
// pkg/consensus/sync's NeighborSource capability.
func (r *Registry) Peers() []identity.ID {
	r.mu.Lock()
	defer r.mu.Unlock()

	peers := make([]identity.ID, 0, len(r.peers))
	for id, info := range r.peers {
		if info.Established {
			peers = append(peers, id)
		}
	}
	return peers
}

// Len reports the current peer count.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers)
}
