// Package sync implements C6, the Pool Synchronizer: a windowed
// block-range requester that catches a lagging node up to the rest of
// the network once its observed round outruns its local chain tip
// (spec.md §4.6). Grounded on
// _examples/original_source/csnode/src/poolsynchronizer.cpp for the
// sliding-window request/retry/temporaryStorage algorithm, and on
// pkg/core/chain/chain.go's requestRoundResults (time.NewTimer backed
// retry) for the Go idiom of driving retries off ticks rather than
// inline on every reply.
package sync

import (
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/cleancoindev2/csnode/pkg/core/block"
	"github.com/cleancoindev2/csnode/pkg/identity"
	"github.com/cleancoindev2/csnode/pkg/wire/message"
)

// Config holds the Pool Synchronizer's tunables (spec.md §4.6, SPEC_FULL §E.5).
type Config struct {
	RoundDifferent uint64
	MaxBlockCount  int
	MaxWaitRound   int
	MaxWaitReply   int
}

// DefaultConfig returns the production defaults from spec.md §6's
// configuration table.
func DefaultConfig() Config {
	return Config{
		RoundDifferent: 2,
		MaxBlockCount:  25,
		MaxWaitRound:   4,
		MaxWaitReply:   6,
	}
}

// Chain is the §6 capability this component needs from local storage:
// its current tip and the ability to append a contiguous block.
type Chain interface {
	LastSequence() uint64
	LastHash() []byte
	Append(b block.Block) error
}

// Transport is the outbound half of the §6 transport contract C6 uses
// to address BlockRequests to a specific neighbor.
type Transport interface {
	SendTo(peer identity.ID, body message.Body)
}

// NeighborSource reports the neighbors currently available to serve
// requests, per C2.
type NeighborSource interface {
	Peers() []identity.ID
}

// EventSink receives EventReports for forks and non-contiguous
// deliveries (spec.md §7).
type EventSink interface {
	Report(kind message.EventKind, detail string)
}

// requestState tracks one in-flight sequence request (the original's
// WaitinTimeReply).
type requestState struct {
	roundsRemaining int
	replyBlockCount int
	packCounter     uint32
}

// Synchronizer is C6. All exported methods are serialized by mu and
// are meant to be called from the single processor thread (spec.md §5).
type Synchronizer struct {
	mu sync.Mutex

	cfg       Config
	chain     Chain
	transport Transport
	neighbors NeighborSource
	events    EventSink
	cache     *recentCache

	active      bool
	roundToSync uint64

	requested map[uint64]*requestState
	assigned  map[identity.ID]uint64 // neighbor -> sequence it's serving, 0 if free
	temporary map[uint64]block.Block

	nextPackCounter uint32
}

// New builds a Synchronizer with a bounded recent-block cache of the
// given capacity (SPEC_FULL.md §D).
func New(chain Chain, transport Transport, neighbors NeighborSource, events EventSink, cfg Config, cacheCapacity int) *Synchronizer {
	return &Synchronizer{
		cfg:       cfg,
		chain:     chain,
		transport: transport,
		neighbors: neighbors,
		events:    events,
		cache:     newRecentCache(cacheCapacity),
		requested: make(map[uint64]*requestState),
		assigned:  make(map[identity.ID]uint64),
		temporary: make(map[uint64]block.Block),
	}
}

// Active reports whether a synchronization run is in progress.
func (s *Synchronizer) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// ProcessRound is driven once per observed round-advance (spec.md §4.6
// step 5's "round-advance event", and the original's processingSync).
// If not yet active, it starts a sync run whenever round is far enough
// ahead of the local tip; if already active, it ages outstanding
// requests and retries any that have gone stale.
func (s *Synchronizer) ProcessRound(round uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		if len(s.neighbors.Peers()) == 0 {
			return
		}
		if round >= s.chain.LastSequence()+s.cfg.RoundDifferent {
			log.WithFields(log.Fields{"process": "sync", "round": round}).Infoln("starting block sync")
			s.active = true
			s.roundToSync = round
			s.sendBlockRequest()
		}
		return
	}

	needsRequest := false
	for _, st := range s.requested {
		st.roundsRemaining--
		if st.roundsRemaining <= 0 {
			needsRequest = true
		}
	}
	if needsRequest {
		s.sendBlockRequest()
	}
}

// HandleBlockReply applies an inbound BlockReply (spec.md §4.6 step 4):
// blocks at or below the tip are discarded, the immediate successor is
// applied directly with an in-order drain of temporaryStorage, and
// anything further ahead is buffered. The neighbor that served this
// reply is freed for reassignment.
func (s *Synchronizer) HandleBlockReply(from identity.ID, reply *message.BlockReply) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active || len(reply.Blocks) == 0 {
		return
	}

	sorted := append([]block.Block(nil), reply.Blocks...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Sequence < sorted[j].Sequence })

	s.freeNeighborFor(sorted[0].Sequence)

	for _, b := range sorted {
		delete(s.requested, b.Sequence)

		last := s.chain.LastSequence()
		switch {
		case b.Sequence <= last:
			continue
		case b.Sequence == last+1:
			if !s.applyBlock(b) {
				return
			}
		default:
			s.temporary[b.Sequence] = b
		}
	}
	s.drainTemporary()

	needsRequest := false
	for seq, st := range s.requested {
		if seq == sorted[0].Sequence {
			continue
		}
		st.replyBlockCount--
		if st.replyBlockCount <= 0 {
			needsRequest = true
		}
	}

	if s.finishIfCaughtUp() {
		return
	}
	if needsRequest {
		s.sendBlockRequest()
	}
}

// applyBlock checks the previous-hash linkage before appending. A
// mismatch means the peer's chain has forked from ours somewhere
// before this sequence (spec.md §4.6 "Fork detection"): the
// synchronizer reports it and refuses to apply, leaving local history
// untouched for operator intervention.
func (s *Synchronizer) applyBlock(b block.Block) bool {
	if string(b.PrevHash) != string(s.chain.LastHash()) {
		s.report(message.EventForkDetected, "block sequence mismatched previous hash, refusing to extend local chain")
		return false
	}
	if err := s.chain.Append(b); err != nil {
		s.report(message.EventNonContiguousBlock, err.Error())
		return false
	}
	s.cache.insert(b)
	return true
}

// drainTemporary applies any run of contiguous blocks sitting in
// temporaryStorage now that the tip has advanced (the original's
// processingTemporaryStorage).
func (s *Synchronizer) drainTemporary() {
	for {
		next := s.chain.LastSequence() + 1
		b, ok := s.temporary[next]
		if !ok {
			return
		}
		delete(s.temporary, next)
		if !s.applyBlock(b) {
			return
		}
	}
}

// finishIfCaughtUp clears all synchronizer state and reports completion
// once the local tip has reached the round being synced to.
func (s *Synchronizer) finishIfCaughtUp() bool {
	if s.chain.LastSequence() != s.roundToSync {
		return false
	}
	log.WithFields(log.Fields{"process": "sync", "tip": s.chain.LastSequence()}).Infoln("sync finished")
	s.active = false
	s.roundToSync = 0
	s.requested = make(map[uint64]*requestState)
	s.temporary = make(map[uint64]block.Block)
	s.assigned = make(map[identity.ID]uint64)
	return true
}

// sendBlockRequest refreshes the neighbor set and distributes
// neededSequences round-robin across every currently free neighbor, one
// BlockRequest per neighbor with its own subset of the window (spec.md
// §4.6 steps 1-3 and scenario S3, the original's sendBlockRequest). The
// window is spread across all free neighbors rather than handed whole
// to one, so distinct neighbors can serve distinct sequences of the
// same sync window concurrently.
func (s *Synchronizer) sendBlockRequest() {
	s.refreshNeighbors()
	if len(s.assigned) == 0 {
		return
	}

	needed := s.neededSequences()
	if len(needed) == 0 {
		return
	}
	// A needed sequence whose prior request just expired is still
	// marked against whichever neighbor was serving it; free that
	// neighbor so it (or another) can be reassigned below.
	for _, seq := range needed {
		s.freeNeighborFor(seq)
	}

	freePeers := make([]identity.ID, 0, len(s.assigned))
	for peer, seq := range s.assigned {
		if seq == 0 {
			freePeers = append(freePeers, peer)
		}
	}
	if len(freePeers) == 0 {
		return
	}
	sort.Slice(freePeers, func(i, j int) bool { return freePeers[i].String() < freePeers[j].String() })

	batches := make(map[identity.ID][]uint64, len(freePeers))
	for i, seq := range needed {
		peer := freePeers[i%len(freePeers)]
		batches[peer] = append(batches[peer], seq)
	}

	for _, peer := range freePeers {
		batch, ok := batches[peer]
		if !ok {
			continue
		}
		s.assigned[peer] = batch[0]
		s.nextPackCounter++
		packCounter := s.nextPackCounter
		for _, sq := range batch {
			st, ok := s.requested[sq]
			if !ok {
				st = &requestState{roundsRemaining: s.cfg.MaxWaitRound, replyBlockCount: s.cfg.MaxWaitReply}
				s.requested[sq] = st
			}
			st.packCounter = packCounter
		}
		s.transport.SendTo(peer, &message.BlockRequest{PackCounter: packCounter, Sequences: batch})
	}
}

// neededSequences computes up to MaxBlockCount sequences still owed,
// continuing past any already-requested sequence that hasn't expired
// (the original's getNeededSequences).
func (s *Synchronizer) neededSequences() []uint64 {
	last := s.chain.LastSequence()
	needed := make([]uint64, 0, s.cfg.MaxBlockCount)

	expired := make(map[uint64]bool)
	for seq, st := range s.requested {
		if st.roundsRemaining <= 0 || st.replyBlockCount <= 0 {
			expired[seq] = true
		}
	}

	for seq := last + 1; len(needed) < s.cfg.MaxBlockCount && seq <= s.roundToSync; seq++ {
		if st, ok := s.requested[seq]; ok && !expired[seq] {
			continue
		}
		if _, ok := s.temporary[seq]; ok {
			continue
		}
		needed = append(needed, seq)
		if st, ok := s.requested[seq]; ok {
			st.roundsRemaining = s.cfg.MaxWaitRound
			st.replyBlockCount = s.cfg.MaxWaitReply
		}
	}
	return needed
}

// freeNeighborFor clears the assignment of whichever neighbor was
// serving sequence, making it eligible for reassignment.
func (s *Synchronizer) freeNeighborFor(sequence uint64) {
	for peer, seq := range s.assigned {
		if seq == sequence {
			s.assigned[peer] = 0
		}
	}
}

// refreshNeighbors rebuilds the assignment map from C2's current
// neighbor snapshot, preserving in-flight assignments for neighbors
// that are still present.
func (s *Synchronizer) refreshNeighbors() {
	current := s.neighbors.Peers()
	fresh := make(map[identity.ID]uint64, len(current))
	for _, p := range current {
		fresh[p] = s.assigned[p]
	}
	s.assigned = fresh
}

func (s *Synchronizer) report(kind message.EventKind, detail string) {
	if s.events == nil {
		return
	}
	s.events.Report(kind, detail)
}

// ServeBlockRequest answers another peer's BlockRequest from the
// recent-block cache when possible, falling back to nothing (the
// caller's store-backed responder handles the rest) when a requested
// sequence has already aged out of the ring.
func (s *Synchronizer) ServeBlockRequest(req *message.BlockRequest) *message.BlockReply {
	s.mu.Lock()
	defer s.mu.Unlock()

	var blocks []block.Block
	for _, seq := range req.Sequences {
		if b, ok := s.cache.get(seq); ok {
			blocks = append(blocks, b)
		}
	}
	if len(blocks) == 0 {
		return nil
	}
	return &message.BlockReply{PackCounter: req.PackCounter, Blocks: blocks}
}
