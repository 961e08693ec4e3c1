// Package chain implements the §6 chain capability collaborator: the
// single authority for the local block sequence, serving both the
// Round Controller's Append calls (on the processor thread) and
// read-only queries from elsewhere under a shared/exclusive lock
// (spec.md §5 "Shared resources"). Adapted from the teacher's
// pkg/core/chain/chain.go, trimmed of its gRPC/rusk/rpcbus/eventbus
// wiring: that plumbing served the teacher's own candidate-block and
// certificate-agreement flow, which spec.md's Non-goals exclude
// (§1/§9, "the thrift/gRPC RPC façade").
package chain

import (
	"errors"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/cleancoindev2/csnode/pkg/core/block"
	"github.com/cleancoindev2/csnode/pkg/identity"
)

// Loader abstracts away the persistence used to store the blockchain.
// Kept as a capability interface per spec.md §9 ("the persistent
// store's on-disk format" is out of scope) — production wiring is free
// to back it with any store; pkg/core/chain ships only the in-memory
// MemoryLoader default, adequate for tests and single-process
// operation.
type Loader interface {
	// LoadTip returns the highest block currently stored, or nil if
	// the store is empty (genesis has not been written yet).
	LoadTip() (*block.Block, error)
	// BlockAt returns the block at the given sequence.
	BlockAt(sequence uint64) (block.Block, error)
	// Append persists b. The caller has already checked contiguity.
	Append(b block.Block) error
}

// Verifier performs the consensus-rule checks a block must pass before
// it is appended: signature quorum against the confidant set that was
// active for its round, and any other stateful rule the node enforces.
// The Round Controller's own Stage-3 quorum check already screens
// blocks it writes itself; Verifier exists for blocks arriving via the
// Pool Synchronizer or gossip, which carry no such provenance.
type Verifier interface {
	SanityCheckBlock(prev block.Block, blk block.Block) error
}

// ErrEmptyChain is returned by queries that require a tip when the
// chain has not yet been seeded with a genesis block.
var ErrEmptyChain = errors.New("chain: no blocks have been appended yet")

// Chain is the §6 capability collaborator. It satisfies both
// pkg/consensus/round's ChainAppender and pkg/consensus/sync's Chain
// interfaces.
type Chain struct {
	mu sync.RWMutex

	loader   Loader
	verifier Verifier

	tip    block.Block
	hasTip bool
}

// New loads the current tip from loader (if any) and returns a Chain
// ready to serve queries and appends.
func New(loader Loader, verifier Verifier) (*Chain, error) {
	c := &Chain{loader: loader, verifier: verifier}

	tip, err := loader.LoadTip()
	if err != nil {
		return nil, err
	}
	if tip != nil {
		c.tip = *tip
		c.hasTip = true
	}
	return c, nil
}

// LastSequence returns the chain tip's sequence, or 0 before genesis.
func (c *Chain) LastSequence() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.hasTip {
		return 0
	}
	return c.tip.Sequence
}

// LastHash returns the chain tip's digest, or nil before genesis.
func (c *Chain) LastHash() []byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.hasTip {
		return nil
	}
	return c.tip.Hash()
}

// LastWriterKey returns the identity that wrote the chain tip, used by
// the Round Controller's tail-catch exchange (spec.md §4.5) to address
// BlockHash queries at the node most likely to still have the answer.
func (c *Chain) LastWriterKey() identity.ID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tip.WriterKey
}

// Tip returns a copy of the current tip and whether one exists.
func (c *Chain) Tip() (block.Block, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tip, c.hasTip
}

// BlockAt returns the block at the given sequence from the backing
// store.
func (c *Chain) BlockAt(sequence uint64) (block.Block, error) {
	return c.loader.BlockAt(sequence)
}

// Append validates b against the current tip and persists it
// (spec.md §6's chain.append capability): Err(NonContiguous) if b does
// not immediately follow the tip, Err(DuplicateSequence) if b repeats
// an already-written sequence, otherwise delegates stateful checks to
// the Verifier before writing through to the Loader and advancing the
// in-memory tip.
func (c *Chain) Append(b block.Block) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.hasTip && b.Sequence <= c.tip.Sequence:
		return block.ErrDuplicateSequence
	case c.hasTip && b.Sequence != c.tip.Sequence+1:
		return block.ErrNonContiguous
	case !c.hasTip && b.Sequence != 0:
		return block.ErrNonContiguous
	}

	if c.verifier != nil {
		if err := c.verifier.SanityCheckBlock(c.tip, b); err != nil {
			return err
		}
	}

	if err := c.loader.Append(b); err != nil {
		return err
	}

	c.tip = b
	c.hasTip = true

	log.WithFields(log.Fields{"process": "chain", "sequence": b.Sequence}).Infoln("block appended")
	return nil
}

// MemoryLoader is an in-memory Loader, the default store for tests and
// single-process operation. The persisted block list simply grows with
// the process lifetime; only BlockAt errors, for a sequence it does not
// hold.
type MemoryLoader struct {
	mu     sync.RWMutex
	blocks map[uint64]block.Block
}

// NewMemoryLoader returns an empty MemoryLoader.
func NewMemoryLoader() *MemoryLoader {
	return &MemoryLoader{blocks: make(map[uint64]block.Block)}
}

func (m *MemoryLoader) LoadTip() (*block.Block, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.blocks) == 0 {
		return nil, nil
	}
	var tip block.Block
	first := true
	for seq, b := range m.blocks {
		if first || seq >= tip.Sequence {
			tip = b
			first = false
		}
	}
	return &tip, nil
}

func (m *MemoryLoader) BlockAt(sequence uint64) (block.Block, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.blocks[sequence]
	if !ok {
		return block.Block{}, errors.New("chain: no block at that sequence")
	}
	return b, nil
}

func (m *MemoryLoader) Append(b block.Block) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocks[b.Sequence] = b
	return nil
}
