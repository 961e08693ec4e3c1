package stage_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cleancoindev2/csnode/pkg/consensus/stage"
)

func TestPutIsIdempotentOnIdenticalPayload(t *testing.T) {
	s := stage.New(4)
	e := stage.Entry{Hash: []byte{0x01}}

	s.Put(stage.Stage1, 0, e)
	s.Put(stage.Stage1, 0, e)

	assert.Equal(t, 1, s.Have(stage.Stage1))
	assert.False(t, s.IsExcluded(0))
}

func TestPutDetectsEquivocation(t *testing.T) {
	s := stage.New(4)
	s.Put(stage.Stage1, 0, stage.Entry{Hash: []byte{0x01}})
	s.Put(stage.Stage1, 0, stage.Entry{Hash: []byte{0x02}})

	assert.True(t, s.IsExcluded(0))
	// excluded sender no longer counts toward quorum
	assert.Equal(t, 0, s.Have(stage.Stage1))

	got, ok := s.Get(stage.Stage1, 0)
	assert.True(t, ok)
	assert.Equal(t, []byte{0x01}, got.Hash) // first value retained
}

func TestQuorumStage1And2(t *testing.T) {
	s := stage.New(4) // quorum = 3
	for i := 0; i < 2; i++ {
		s.Put(stage.Stage1, i, stage.Entry{Hash: []byte{byte(i)}})
	}
	assert.False(t, s.Quorum(stage.Stage1))

	s.Put(stage.Stage1, 2, stage.Entry{Hash: []byte{2}})
	assert.True(t, s.Quorum(stage.Stage1))
}

func TestQuorumStage3CountsMatchingWriterChoice(t *testing.T) {
	s := stage.New(4) // quorum = 3
	s.Put(stage.Stage3, 0, stage.Entry{Hash: []byte{1}, WriterIdx: 2})
	s.Put(stage.Stage3, 1, stage.Entry{Hash: []byte{2}, WriterIdx: 2})
	s.Put(stage.Stage3, 2, stage.Entry{Hash: []byte{3}, WriterIdx: 3})
	assert.False(t, s.Quorum(stage.Stage3))

	s.Put(stage.Stage3, 3, stage.Entry{Hash: []byte{4}, WriterIdx: 2})
	assert.True(t, s.Quorum(stage.Stage3))

	writer, count := s.WinningWriter()
	assert.Equal(t, uint8(2), writer)
	assert.Equal(t, 3, count)
}

func TestWinningWriterTieBreaksOnLowestIndex(t *testing.T) {
	s := stage.New(4)
	s.Put(stage.Stage3, 0, stage.Entry{Hash: []byte{1}, WriterIdx: 5})
	s.Put(stage.Stage3, 1, stage.Entry{Hash: []byte{2}, WriterIdx: 1})

	writer, count := s.WinningWriter()
	assert.Equal(t, uint8(1), writer)
	assert.Equal(t, 1, count)
}

func TestFindMissing(t *testing.T) {
	s := stage.New(3)
	s.Put(stage.Stage2, 1, stage.Entry{Hash: []byte{1}})

	missing := s.FindMissing(stage.Stage2)
	assert.Equal(t, []int{0, 2}, missing)
}
