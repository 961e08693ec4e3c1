package message_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleancoindev2/csnode/pkg/core/block"
	"github.com/cleancoindev2/csnode/pkg/wire/message"
	"github.com/cleancoindev2/csnode/pkg/wire/topics"
)

func hash32(b byte) []byte {
	h := make([]byte, 32)
	h[0] = b
	return h
}

func sig64(b byte) []byte {
	s := make([]byte, 64)
	s[0] = b
	return s
}

// P6 — decode-encode round trip for every well-formed message.
func TestStage1RoundTrip(t *testing.T) {
	env := message.Envelope{
		Flags: message.FlagNodeTraffic,
		Round: 77,
		Body: &message.Stage1{
			SenderIdx:        3,
			MaskHash:         hash32(0x01),
			CandidateTrusted: [][]byte{hash32(0x02), hash32(0x03)},
			CandidateHashes:  [][]byte{hash32(0x04)},
			Signature:        sig64(0x05),
		},
	}

	raw, err := message.Encode(env)
	require.NoError(t, err)

	decoded, err := message.Decode(raw)
	require.NoError(t, err)

	assert.Equal(t, env.Round, decoded.Round)
	assert.Equal(t, topics.Stage1, decoded.Body.Topic())

	s1, ok := decoded.Body.(*message.Stage1)
	require.True(t, ok)
	assert.Equal(t, uint8(3), s1.SenderIdx)
	assert.Equal(t, hash32(0x01), s1.MaskHash)
	assert.Len(t, s1.CandidateTrusted, 2)
	assert.Len(t, s1.CandidateHashes, 1)
}

func TestBlockRequestReplyRoundTrip(t *testing.T) {
	req := message.Envelope{Round: 1, Body: &message.BlockRequest{PackCounter: 9, Sequences: []uint64{10, 11, 12}}}
	raw, err := message.Encode(req)
	require.NoError(t, err)
	decoded, err := message.Decode(raw)
	require.NoError(t, err)
	br, ok := decoded.Body.(*message.BlockRequest)
	require.True(t, ok)
	assert.Equal(t, []uint64{10, 11, 12}, br.Sequences)

	b := block.Block{Sequence: 11, PrevHash: hash32(0xAA), RoundTimestamp: 5}
	reply := message.Envelope{Round: 1, Body: &message.BlockReply{PackCounter: 9, Blocks: []block.Block{b}}}
	raw2, err := message.Encode(reply)
	require.NoError(t, err)
	decoded2, err := message.Decode(raw2)
	require.NoError(t, err)
	bre, ok := decoded2.Body.(*message.BlockReply)
	require.True(t, ok)
	require.Len(t, bre.Blocks, 1)
	assert.Equal(t, uint64(11), bre.Blocks[0].Sequence)
}

func TestStageRequestRoundTrip(t *testing.T) {
	env := message.Envelope{Round: 4, Body: message.NewStageRequest(topics.Stage2Request, 1, 2)}
	raw, err := message.Encode(env)
	require.NoError(t, err)
	decoded, err := message.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, topics.Stage2Request, decoded.Body.Topic())
	sr, ok := decoded.Body.(*message.StageRequest)
	require.True(t, ok)
	assert.Equal(t, uint8(1), sr.From)
	assert.Equal(t, uint8(2), sr.Required)
}

func TestDecodeRejectsTruncatedPayload(t *testing.T) {
	env := message.Envelope{Round: 1, Body: &message.Ping{LastSeq: 5}}
	raw, err := message.Encode(env)
	require.NoError(t, err)

	_, err = message.Decode(raw[:len(raw)-2])
	assert.Error(t, err)
}

func TestDecodeRejectsUnknownTopic(t *testing.T) {
	buf := new(bytes.Buffer)
	buf.WriteByte(0)
	buf.WriteByte(255)
	buf.Write(make([]byte, 8)) // round, so decoding reaches the topic
	_, err := message.Decode(buf.Bytes())
	assert.Error(t, err)
}

func TestEventReportRoundTrip(t *testing.T) {
	env := message.Envelope{Round: 1, Body: &message.EventReport{Kind: message.EventEquivocation, Detail: "sender 4"}}
	raw, err := message.Encode(env)
	require.NoError(t, err)
	decoded, err := message.Decode(raw)
	require.NoError(t, err)
	er, ok := decoded.Body.(*message.EventReport)
	require.True(t, ok)
	assert.Equal(t, message.EventEquivocation, er.Kind)
	assert.Equal(t, "sender 4", er.Detail)
}
