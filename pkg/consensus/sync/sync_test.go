package sync_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleancoindev2/csnode/pkg/consensus/sync"
	"github.com/cleancoindev2/csnode/pkg/core/block"
	"github.com/cleancoindev2/csnode/pkg/identity"
	"github.com/cleancoindev2/csnode/pkg/wire/message"
)

type fakeChain struct {
	seq      uint64
	hash     []byte
	applied  []block.Block
	appendErr error
}

func (c *fakeChain) LastSequence() uint64 { return c.seq }
func (c *fakeChain) LastHash() []byte     { return c.hash }
func (c *fakeChain) Append(b block.Block) error {
	if c.appendErr != nil {
		return c.appendErr
	}
	c.applied = append(c.applied, b)
	c.seq = b.Sequence
	c.hash = b.Hash()
	return nil
}

type sentRequest struct {
	peer identity.ID
	req  *message.BlockRequest
}

type fakeTransport struct {
	sent []sentRequest
}

func (t *fakeTransport) SendTo(peer identity.ID, body message.Body) {
	if req, ok := body.(*message.BlockRequest); ok {
		t.sent = append(t.sent, sentRequest{peer: peer, req: req})
	}
}

type fakeNeighbors struct {
	peers []identity.ID
}

func (n *fakeNeighbors) Peers() []identity.ID { return n.peers }

type fakeEvents struct {
	reports []message.EventKind
}

func (e *fakeEvents) Report(kind message.EventKind, detail string) {
	e.reports = append(e.reports, kind)
}

func mkID(b byte) identity.ID {
	var id identity.ID
	id[0] = b
	return id
}

func childBlock(parent []byte, seq uint64) block.Block {
	b := block.Block{Sequence: seq, PrevHash: parent, WriterKey: mkID(1), RoundTimestamp: seq}
	return b
}

func chainOfBlocks(genesisHash []byte, from, to uint64) []block.Block {
	blocks := make([]block.Block, 0, to-from+1)
	prev := genesisHash
	for seq := from; seq <= to; seq++ {
		b := childBlock(prev, seq)
		blocks = append(blocks, b)
		prev = b.Hash()
	}
	return blocks
}

// S3 (§8): two free neighbors simultaneously serve distinct subsets of
// the same sync window, rather than the whole window going to one.
func TestProcessRoundDistributesWindowAcrossFreeNeighbors(t *testing.T) {
	chain := &fakeChain{seq: 5, hash: []byte("genesis")}
	transport := &fakeTransport{}
	neighbors := &fakeNeighbors{peers: []identity.ID{mkID(1), mkID(2)}}

	s := sync.New(chain, transport, neighbors, nil, sync.DefaultConfig(), 8)

	s.ProcessRound(8) // 8 >= 5 + RoundDifferent(2)

	require.True(t, s.Active())
	require.Len(t, transport.sent, 2)
	assert.NotEqual(t, transport.sent[0].peer, transport.sent[1].peer)

	seen := make(map[uint64]identity.ID)
	for _, sent := range transport.sent {
		for _, seq := range sent.req.Sequences {
			_, dup := seen[seq]
			require.False(t, dup, "sequence %d requested from more than one neighbor", seq)
			seen[seq] = sent.peer
		}
	}
	assert.Equal(t, map[uint64]bool{6: true, 7: true, 8: true}, toSeqSet(seen))
}

func toSeqSet(seen map[uint64]identity.ID) map[uint64]bool {
	out := make(map[uint64]bool, len(seen))
	for seq := range seen {
		out[seq] = true
	}
	return out
}

func TestProcessRoundDoesNotActivateWhenWithinRoundDifferent(t *testing.T) {
	chain := &fakeChain{seq: 5, hash: []byte("genesis")}
	transport := &fakeTransport{}
	neighbors := &fakeNeighbors{peers: []identity.ID{mkID(1)}}

	s := sync.New(chain, transport, neighbors, nil, sync.DefaultConfig(), 8)
	s.ProcessRound(6) // only 1 ahead, RoundDifferent is 2

	assert.False(t, s.Active())
	assert.Empty(t, transport.sent)
}

func TestHandleBlockReplyAppliesInOrderAndDrainsTemporaryStorage(t *testing.T) {
	chain := &fakeChain{seq: 0, hash: []byte("genesis")}
	transport := &fakeTransport{}
	neighbors := &fakeNeighbors{peers: []identity.ID{mkID(1)}}

	s := sync.New(chain, transport, neighbors, nil, sync.DefaultConfig(), 8)
	s.ProcessRound(3)
	require.True(t, s.Active())

	blocks := chainOfBlocks([]byte("genesis"), 1, 3)
	// Deliver out of order: seq 3 first (buffered), then 1 and 2 (applies all three).
	s.HandleBlockReply(mkID(1), &message.BlockReply{PackCounter: 1, Blocks: []block.Block{blocks[2]}})
	assert.Equal(t, uint64(0), chain.seq)

	s.HandleBlockReply(mkID(1), &message.BlockReply{PackCounter: 1, Blocks: []block.Block{blocks[0], blocks[1]}})
	assert.Equal(t, uint64(3), chain.seq)
	assert.Len(t, chain.applied, 3)

	// roundToSync reached: synchronizer should have finished and reset.
	assert.False(t, s.Active())
}

func TestHandleBlockReplyReportsForkOnHashMismatch(t *testing.T) {
	chain := &fakeChain{seq: 0, hash: []byte("genesis")}
	transport := &fakeTransport{}
	neighbors := &fakeNeighbors{peers: []identity.ID{mkID(1)}}
	events := &fakeEvents{}

	s := sync.New(chain, transport, neighbors, events, sync.DefaultConfig(), 8)
	s.ProcessRound(3)

	forked := childBlock([]byte("not-genesis"), 1)
	s.HandleBlockReply(mkID(1), &message.BlockReply{PackCounter: 1, Blocks: []block.Block{forked}})

	assert.Equal(t, uint64(0), chain.seq)
	require.Len(t, events.reports, 1)
	assert.Equal(t, message.EventForkDetected, events.reports[0])
}

func TestServeBlockRequestAnswersFromRecentCache(t *testing.T) {
	chain := &fakeChain{seq: 0, hash: []byte("genesis")}
	transport := &fakeTransport{}
	neighbors := &fakeNeighbors{peers: []identity.ID{mkID(1)}}

	s := sync.New(chain, transport, neighbors, nil, sync.DefaultConfig(), 8)
	s.ProcessRound(3)

	blocks := chainOfBlocks([]byte("genesis"), 1, 3)
	s.HandleBlockReply(mkID(1), &message.BlockReply{PackCounter: 1, Blocks: blocks})
	require.Len(t, chain.applied, 3)

	reply := s.ServeBlockRequest(&message.BlockRequest{PackCounter: 9, Sequences: []uint64{1, 2}})
	require.NotNil(t, reply)
	assert.Len(t, reply.Blocks, 2)

	assert.Nil(t, s.ServeBlockRequest(&message.BlockRequest{PackCounter: 9, Sequences: []uint64{99}}))
}

func TestProcessRoundReissuesExpiredSequenceRequests(t *testing.T) {
	chain := &fakeChain{seq: 5, hash: []byte("genesis")}
	transport := &fakeTransport{}
	neighbors := &fakeNeighbors{peers: []identity.ID{mkID(1), mkID(2)}}

	cfg := sync.DefaultConfig()
	cfg.MaxWaitRound = 1
	s := sync.New(chain, transport, neighbors, nil, cfg, 8)

	s.ProcessRound(8)
	initialSends := len(transport.sent)
	require.NotZero(t, initialSends)

	// First tick expires roundsRemaining (MaxWaitRound=1), triggering a retry.
	s.ProcessRound(8)
	assert.Greater(t, len(transport.sent), initialSends)
}
