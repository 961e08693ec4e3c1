package dispatch_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleancoindev2/csnode/pkg/consensus/dispatch"
	"github.com/cleancoindev2/csnode/pkg/wire/topics"
)

func TestClassifyProcessesRoundAgnosticTopicsRegardlessOfRound(t *testing.T) {
	d := dispatch.New(100)

	env := dispatch.Envelope{Topic: topics.BlockRequest, SenderRound: 1}
	assert.Equal(t, dispatch.Process, d.Classify(9999, env))
}

func TestClassifyDropsStaleSmartStageMessage(t *testing.T) {
	d := dispatch.New(100)

	env := dispatch.Envelope{Topic: topics.Stage1, SenderRound: 10}
	// 10 + 100 = 110 >= 111? 10+100 < 111 is true -> drop.
	assert.Equal(t, dispatch.Drop, d.Classify(111, env))
	// One round earlier it's still within the smart-stage window.
	assert.Equal(t, dispatch.Process, d.Classify(110, env))
}

func TestClassifyDropsStaleDefaultMessageAfterFiveRounds(t *testing.T) {
	d := dispatch.New(100)

	env := dispatch.Envelope{Topic: topics.Ping, SenderRound: 10}
	assert.Equal(t, dispatch.Process, d.Classify(15, env))
	assert.Equal(t, dispatch.Drop, d.Classify(16, env))
}

func TestClassifyUsesMetaCapacityForTransactionPacketTopic(t *testing.T) {
	d := dispatch.New(3)

	env := dispatch.Envelope{Topic: topics.Gossip, SenderRound: 10}
	assert.Equal(t, dispatch.Process, d.Classify(13, env))
	assert.Equal(t, dispatch.Drop, d.Classify(14, env))
}

func TestClassifyPostponesFutureRoundMessage(t *testing.T) {
	d := dispatch.New(100)

	env := dispatch.Envelope{Topic: topics.Stage2, SenderRound: 20}
	assert.Equal(t, dispatch.Postpone, d.Classify(19, env))
}

func TestDispatchStashesPostponedAndAdvanceReplaysOnMatchingRound(t *testing.T) {
	d := dispatch.New(100)

	var delivered []dispatch.Envelope
	deliver := func(env dispatch.Envelope) { delivered = append(delivered, env) }

	env := dispatch.Envelope{Topic: topics.Stage1, SenderRound: 5}
	action := d.Dispatch(3, env, deliver)

	require.Equal(t, dispatch.Postpone, action)
	assert.Empty(t, delivered)
	assert.Equal(t, 1, d.PendingCount())

	d.Advance(4, deliver) // round 4 hasn't reached the bucket's key (5) yet
	assert.Empty(t, delivered)
	assert.Equal(t, 1, d.PendingCount())

	d.Advance(5, deliver)
	require.Len(t, delivered, 1)
	assert.Equal(t, env.SenderRound, delivered[0].SenderRound)
	assert.Zero(t, d.PendingCount())
}

func TestAdvanceReplaysBucketsSkippedPastByALargeRoundJump(t *testing.T) {
	d := dispatch.New(100)

	var delivered []dispatch.Envelope
	deliver := func(env dispatch.Envelope) { delivered = append(delivered, env) }

	d.Dispatch(3, dispatch.Envelope{Topic: topics.Stage1, SenderRound: 5}, deliver)
	d.Dispatch(3, dispatch.Envelope{Topic: topics.Stage2, SenderRound: 6}, deliver)

	// The node's round jumps straight from 3 to 10, skipping 5 and 6
	// entirely; both postponed buckets must still be drained.
	d.Advance(10, deliver)
	assert.Len(t, delivered, 2)
	assert.Zero(t, d.PendingCount())
}

func TestDispatchDropsWithoutInvokingDeliver(t *testing.T) {
	d := dispatch.New(100)

	called := false
	deliver := func(dispatch.Envelope) { called = true }

	action := d.Dispatch(200, dispatch.Envelope{Topic: topics.Ping, SenderRound: 1}, deliver)
	assert.Equal(t, dispatch.Drop, action)
	assert.False(t, called)
}
