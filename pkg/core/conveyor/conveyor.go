// Package conveyor provides the in-memory default for the Conveyor
// collaborator spec.md's glossary names as "the upstream
// transaction-packet pool; treated here as an external collaborator" —
// out of this spec's scope the same way the persistent block store and
// wallet cache are, so csnode ships only a minimal default adequate for
// a single-process node, the way pkg/core/chain ships MemoryLoader.
package conveyor

import (
	"sync"

	"github.com/cleancoindev2/csnode/pkg/core/block"
)

// Conveyor holds one pending packet per round, submitted out of band
// (by an RPC, a wallet client, or a test) and handed to the Round
// Controller once on entering Trusted1 for that round.
type Conveyor struct {
	mu      sync.Mutex
	pending map[uint64]block.Packet
}

// New returns an empty Conveyor.
func New() *Conveyor {
	return &Conveyor{pending: make(map[uint64]block.Packet)}
}

// Submit schedules packet for round, overwriting whatever was
// previously scheduled for it.
func (c *Conveyor) Submit(round uint64, packet block.Packet) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[round] = packet
}

// PacketForRound implements round.PacketSource: the packet scheduled
// for round, if any. Consumed once per round (spec.md §4.5 Stage-1
// production); the entry is removed so a re-entered round doesn't
// re-propose a stale packet.
func (c *Conveyor) PacketForRound(round uint64) (block.Packet, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pkt, ok := c.pending[round]
	if ok {
		delete(c.pending, round)
	}
	return pkt, ok
}

// PendingHashes implements round.PacketSource: spec.md §4.5's
// candidate-hashes field wants up to max packet hashes scheduled for
// future rounds that exclude hasn't already referenced. Without a
// richer packet index to query by arbitrary round this default reports
// none; a node that never receives candidate-hash gossip from
// Conveyor simply relies on its own Stage-1 mask hash to drive the
// round instead.
func (c *Conveyor) PendingHashes(round uint64, exclude [][]byte, max int) [][]byte {
	return nil
}
