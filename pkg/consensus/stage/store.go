// Package stage implements C4: the per-round Stage Store holding
// Stage-1/2/3 contributions in fixed-size, trusted-index-addressed
// slot arrays (spec.md §4.4). Grounded on
// _examples/original_source/solver/src/states/trustedstage1state.cpp
// for the per-stage slot/quorum bookkeeping, and on the teacher's
// pkg/core/consensus/reputation/moderator.go for the
// reset-map-on-round-update idiom and
// pkg/core/consensus/reduction/committee.go for the quorum-size
// pattern (re-thresholded here to spec.md's ⌊N/2⌋+1).
package stage

import (
	"bytes"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/cleancoindev2/csnode/pkg/core/block"
)

// Number identifies which of the three commit stages a slot belongs
// to.
type Number int

const (
	Stage1 Number = 1
	Stage2 Number = 2
	Stage3 Number = 3
)

// Entry is one validated contribution, kept verbatim so a duplicate
// StageNRequest can be answered by replay.
type Entry struct {
	Payload   interface{}
	Hash      []byte
	WriterIdx uint8 // meaningful only for Stage3 entries
}

type slot struct {
	entry *Entry
}

// Store holds one round's worth of Stage-1/2/3 slots, addressed by
// trusted index. It is owned exclusively by the processor thread
// (spec.md §5) and therefore needs no locking of its own beyond what
// guards concurrent test access; the mutex here exists only so
// findMissing/quorum can be called from outside that thread safely in
// tests and diagnostics.
type Store struct {
	mu    sync.Mutex
	n     int
	slots map[Number][]slot
	// excluded holds trusted indices found equivocating; once
	// excluded, a sender's further contributions (any stage) are
	// retained at their slot's first value but never counted toward
	// quorum for the remainder of the round (spec.md §4.5 Failure
	// semantics).
	excluded map[int]bool
}

// New creates an empty Store sized for a confidant set of n.
func New(n int) *Store {
	return &Store{
		n: n,
		slots: map[Number][]slot{
			Stage1: make([]slot, n),
			Stage2: make([]slot, n),
			Stage3: make([]slot, n),
		},
		excluded: make(map[int]bool),
	}
}

// Put installs entry at (stageN, senderIdx). A duplicate with an
// identical hash is accepted silently; a duplicate with a differing
// hash is an equivocation: the sender is excluded from quorum counting
// for the rest of the round and the slot retains its first value
// (spec.md §4.4, P4).
func (s *Store) Put(stageN Number, senderIdx int, entry Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if senderIdx < 0 || senderIdx >= s.n {
		return
	}
	cur := s.slots[stageN][senderIdx].entry
	if cur == nil {
		s.slots[stageN][senderIdx].entry = &entry
		return
	}
	if bytes.Equal(cur.Hash, entry.Hash) {
		return
	}
	s.excluded[senderIdx] = true
	log.WithFields(log.Fields{
		"process": "stage",
		"stage":   stageN,
		"sender":  senderIdx,
	}).Warnln("equivocation detected, excluding sender for round")
}

// Have counts occupied, non-excluded slots for stageN.
func (s *Store) Have(stageN Number) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.have(stageN)
}

func (s *Store) have(stageN Number) int {
	count := 0
	for idx, sl := range s.slots[stageN] {
		if sl.entry != nil && !s.excluded[idx] {
			count++
		}
	}
	return count
}

// Quorum reports whether stageN has reached ⌊N/2⌋+1 contributions. For
// Stage3, the threshold applies to the largest coalition of matching
// writer choices rather than to raw occupancy (spec.md §4.4).
func (s *Store) Quorum(stageN Number) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	need := block.QuorumSize(s.n)
	if stageN != Stage3 {
		return s.have(stageN) >= need
	}
	_, count := s.winningWriter()
	return count >= need
}

// WinningWriter returns the writer index with the largest coalition of
// matching Stage3 votes and that coalition's size, with ties broken by
// lowest trusted index (SPEC_FULL.md §E).
func (s *Store) WinningWriter() (writerIdx uint8, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.winningWriter()
}

func (s *Store) winningWriter() (uint8, int) {
	tally := make(map[uint8]int)
	for idx, sl := range s.slots[Stage3] {
		if sl.entry == nil || s.excluded[idx] {
			continue
		}
		tally[sl.entry.WriterIdx]++
	}

	var best uint8
	bestCount := -1
	found := false
	for writerIdx, count := range tally {
		if count > bestCount || (count == bestCount && writerIdx < best) {
			best, bestCount, found = writerIdx, count, true
		}
	}
	if !found {
		return 0, 0
	}
	return best, bestCount
}

// FindMissing returns the trusted indices with empty slots for stageN,
// used to drive StageNRequest (spec.md §4.5 Missing-stage requests).
func (s *Store) FindMissing(stageN Number) []int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var missing []int
	for idx, sl := range s.slots[stageN] {
		if sl.entry == nil {
			missing = append(missing, idx)
		}
	}
	return missing
}

// Get returns the stored entry for (stageN, senderIdx), if any —
// used to answer StageNRequest replays.
func (s *Store) Get(stageN Number, senderIdx int) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if senderIdx < 0 || senderIdx >= s.n {
		return Entry{}, false
	}
	sl := s.slots[stageN][senderIdx]
	if sl.entry == nil {
		return Entry{}, false
	}
	return *sl.entry, true
}

// IsExcluded reports whether senderIdx has been excluded from quorum
// counting this round due to equivocation.
func (s *Store) IsExcluded(senderIdx int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.excluded[senderIdx]
}
