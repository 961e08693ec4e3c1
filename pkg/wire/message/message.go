// Package message implements C1: the wire-format tagged union of
// spec.md §4.1 and §6, plus the envelope every message travels in once
// decoded. Grounded on the teacher's pkg/p2p/wire/payload wire tests
// and pkg/p2p/wire/event.go topic framing, rebuilt against
// pkg/wire/encoding since the teacher's own codec package was not part
// of the retrieved file set.
package message

import (
	"bytes"
	"io"

	"github.com/cleancoindev2/csnode/pkg/core/block"
	"github.com/cleancoindev2/csnode/pkg/wire/encoding"
	"github.com/cleancoindev2/csnode/pkg/wire/topics"
)

// MaxPayload is the transport ceiling from spec.md §6.
const MaxPayload = 64 << 10

// Body is implemented by every concrete payload type.
type Body interface {
	Topic() topics.Topic
	Encode(w io.Writer) error
	Decode(r io.Reader) error
}

// Envelope is a decoded message together with the routing metadata
// every message on the wire carries: flags, command, and the
// originating round (spec.md §4.1, §6). Registration and Ping carry
// the sender's current round rather than a consensus round, but the
// field is populated the same way for uniformity.
type Envelope struct {
	Flags uint8
	Round uint64
	Body  Body
}

// Flag bits distinguish network-control traffic from node/consensus
// traffic, per spec.md §6.
const (
	FlagNetworkControl uint8 = 1 << 0
	FlagNodeTraffic    uint8 = 1 << 1
)

// Encode writes flags || command || round || body to w.
func Encode(e Envelope) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := encoding.WriteUint8(buf, e.Flags); err != nil {
		return nil, err
	}
	if err := encoding.WriteUint8(buf, uint8(e.Body.Topic())); err != nil {
		return nil, err
	}
	if err := encoding.WriteUint64LE(buf, e.Round); err != nil {
		return nil, err
	}
	if err := e.Body.Encode(buf); err != nil {
		return nil, err
	}
	if buf.Len() > MaxPayload {
		return nil, encoding.ErrMalformed
	}
	return buf.Bytes(), nil
}

// Decode reads an envelope back from raw bytes. It does not verify
// signatures embedded in the body — that is the Round Controller's
// responsibility post-decode (spec.md §4.1).
func Decode(raw []byte) (Envelope, error) {
	if len(raw) > MaxPayload {
		return Envelope{}, encoding.ErrMalformed
	}
	r := bytes.NewReader(raw)
	flags, err := encoding.ReadUint8(r)
	if err != nil {
		return Envelope{}, err
	}
	cmd, err := encoding.ReadUint8(r)
	if err != nil {
		return Envelope{}, err
	}
	round, err := encoding.ReadUint64LE(r)
	if err != nil {
		return Envelope{}, err
	}
	body, err := newBody(topics.Topic(cmd))
	if err != nil {
		return Envelope{}, err
	}
	if err := body.Decode(r); err != nil {
		return Envelope{}, err
	}
	return Envelope{Flags: flags, Round: round, Body: body}, nil
}

func newBody(t topics.Topic) (Body, error) {
	switch t {
	case topics.Registration:
		return &Registration{}, nil
	case topics.RegistrationConfirmed:
		return &RegistrationConfirmed{}, nil
	case topics.RegistrationRefused:
		return &RegistrationRefused{}, nil
	case topics.Ping:
		return &Ping{}, nil
	case topics.BlockRequest:
		return &BlockRequest{}, nil
	case topics.BlockReply:
		return &BlockReply{}, nil
	case topics.Stage1:
		return &Stage1{}, nil
	case topics.Stage2:
		return &Stage2{}, nil
	case topics.Stage3:
		return &Stage3{}, nil
	case topics.Stage1Request, topics.Stage2Request, topics.Stage3Request:
		return &StageRequest{topic: t}, nil
	case topics.BlockHash:
		return &BlockHash{}, nil
	case topics.HashReply:
		return &HashReply{}, nil
	case topics.RoundTable:
		return &RoundTable{}, nil
	case topics.RoundTableRequest:
		return &RoundTableRequest{}, nil
	case topics.RoundTableReply:
		return &RoundTableReply{}, nil
	case topics.BigBang:
		return &BigBang{}, nil
	case topics.EmptyRoundPack:
		return &EmptyRoundPack{}, nil
	case topics.BlockAlarm:
		return &BlockAlarm{}, nil
	case topics.EventReport:
		return &EventReport{}, nil
	case topics.NodeStopRequest:
		return &NodeStopRequest{}, nil
	case topics.Utility:
		return &Utility{}, nil
	default:
		return nil, encoding.ErrMalformed
	}
}

// RefusalReason enumerates C2's registration-rejection taxonomy
// (spec.md §4.2, §6).
type RefusalReason uint8

const (
	ReasonBadClientVersion RefusalReason = iota + 1
	ReasonIncompatibleBlockchain
	ReasonLimitReached
	ReasonTimeout
)

// Registration is the handshake request a newly discovered peer
// receives, carrying the sender's current round (spec.md §6).
type Registration struct {
	Version     uint16
	ChainUUID   uint64
	LastSeq     uint64
	SenderRound uint64
}

func (*Registration) Topic() topics.Topic { return topics.Registration }

func (m *Registration) Encode(w io.Writer) error {
	if err := encoding.WriteUint16LE(w, m.Version); err != nil {
		return err
	}
	if err := encoding.WriteUint64LE(w, m.ChainUUID); err != nil {
		return err
	}
	if err := encoding.WriteUint64LE(w, m.LastSeq); err != nil {
		return err
	}
	return encoding.WriteUint64LE(w, m.SenderRound)
}

func (m *Registration) Decode(r io.Reader) error {
	var err error
	if m.Version, err = encoding.ReadUint16LE(r); err != nil {
		return err
	}
	if m.ChainUUID, err = encoding.ReadUint64LE(r); err != nil {
		return err
	}
	if m.LastSeq, err = encoding.ReadUint64LE(r); err != nil {
		return err
	}
	m.SenderRound, err = encoding.ReadUint64LE(r)
	return err
}

// RegistrationConfirmed has no payload beyond the envelope.
type RegistrationConfirmed struct{}

func (*RegistrationConfirmed) Topic() topics.Topic  { return topics.RegistrationConfirmed }
func (*RegistrationConfirmed) Encode(io.Writer) error { return nil }
func (*RegistrationConfirmed) Decode(io.Reader) error { return nil }

// RegistrationRefused carries why C2 rejected a peer.
type RegistrationRefused struct {
	Reason RefusalReason
}

func (*RegistrationRefused) Topic() topics.Topic { return topics.RegistrationRefused }

func (m *RegistrationRefused) Encode(w io.Writer) error {
	return encoding.WriteUint8(w, uint8(m.Reason))
}

func (m *RegistrationRefused) Decode(r io.Reader) error {
	v, err := encoding.ReadUint8(r)
	m.Reason = RefusalReason(v)
	return err
}

// Ping reports the sender's current chain tip.
type Ping struct {
	LastSeq uint64
}

func (*Ping) Topic() topics.Topic { return topics.Ping }

func (m *Ping) Encode(w io.Writer) error { return encoding.WriteUint64LE(w, m.LastSeq) }

func (m *Ping) Decode(r io.Reader) error {
	v, err := encoding.ReadUint64LE(r)
	m.LastSeq = v
	return err
}

// BlockRequest asks for a set of sequences, tagged with a pack counter
// so replies can be matched back to the request that triggered them
// (spec.md §6, §4.6).
type BlockRequest struct {
	PackCounter uint32
	Sequences   []uint64
}

func (*BlockRequest) Topic() topics.Topic { return topics.BlockRequest }

func (m *BlockRequest) Encode(w io.Writer) error {
	if err := encoding.WriteUint32LE(w, m.PackCounter); err != nil {
		return err
	}
	if err := encoding.WriteUint32LE(w, uint32(len(m.Sequences))); err != nil {
		return err
	}
	for _, seq := range m.Sequences {
		if err := encoding.WriteUint64LE(w, seq); err != nil {
			return err
		}
	}
	return nil
}

func (m *BlockRequest) Decode(r io.Reader) error {
	var err error
	if m.PackCounter, err = encoding.ReadUint32LE(r); err != nil {
		return err
	}
	n, err := encoding.ReadUint32LE(r)
	if err != nil {
		return err
	}
	m.Sequences = make([]uint64, n)
	for i := range m.Sequences {
		if m.Sequences[i], err = encoding.ReadUint64LE(r); err != nil {
			return err
		}
	}
	return nil
}

// BlockReply carries the blocks satisfying a prior BlockRequest.
type BlockReply struct {
	PackCounter uint32
	Blocks      []block.Block
}

func (*BlockReply) Topic() topics.Topic { return topics.BlockReply }

func (m *BlockReply) Encode(w io.Writer) error {
	if err := encoding.WriteUint32LE(w, m.PackCounter); err != nil {
		return err
	}
	if err := encoding.WriteUint32LE(w, uint32(len(m.Blocks))); err != nil {
		return err
	}
	for _, b := range m.Blocks {
		buf := new(bytes.Buffer)
		if err := b.Encode(buf); err != nil {
			return err
		}
		if err := encoding.WriteVarBytes(w, buf.Bytes()); err != nil {
			return err
		}
	}
	return nil
}

func (m *BlockReply) Decode(r io.Reader) error {
	var err error
	if m.PackCounter, err = encoding.ReadUint32LE(r); err != nil {
		return err
	}
	n, err := encoding.ReadUint32LE(r)
	if err != nil {
		return err
	}
	m.Blocks = make([]block.Block, n)
	for i := range m.Blocks {
		raw, err := encoding.ReadVarBytes(r, MaxPayload)
		if err != nil {
			return err
		}
		if err := m.Blocks[i].Decode(bytes.NewReader(raw)); err != nil {
			return err
		}
	}
	return nil
}

// MaxCandidateHashes is H from spec.md §3: the cap on Stage-1's
// candidate packet hash list.
const MaxCandidateHashes = 25

// Stage1 is produced on entering Trusted1 (spec.md §3, §4.5).
type Stage1 struct {
	SenderIdx        uint8
	MaskHash         []byte
	CandidateTrusted [][]byte
	CandidateHashes  [][]byte
	Signature        []byte
}

func (*Stage1) Topic() topics.Topic { return topics.Stage1 }

func (m *Stage1) Encode(w io.Writer) error {
	if err := encoding.WriteUint8(w, m.SenderIdx); err != nil {
		return err
	}
	if err := encoding.WriteHash(w, m.MaskHash); err != nil {
		return err
	}
	if err := encoding.WriteUint8(w, uint8(len(m.CandidateTrusted))); err != nil {
		return err
	}
	for _, key := range m.CandidateTrusted {
		if err := encoding.WriteHash(w, key); err != nil {
			return err
		}
	}
	if err := encoding.WriteUint8(w, uint8(len(m.CandidateHashes))); err != nil {
		return err
	}
	for _, h := range m.CandidateHashes {
		if err := encoding.WriteHash(w, h); err != nil {
			return err
		}
	}
	return encoding.WriteSignature(w, m.Signature)
}

func (m *Stage1) Decode(r io.Reader) error {
	var err error
	if m.SenderIdx, err = encoding.ReadUint8(r); err != nil {
		return err
	}
	if m.MaskHash, err = encoding.ReadHash(r); err != nil {
		return err
	}
	nTrusted, err := encoding.ReadUint8(r)
	if err != nil {
		return err
	}
	m.CandidateTrusted = make([][]byte, nTrusted)
	for i := range m.CandidateTrusted {
		if m.CandidateTrusted[i], err = encoding.ReadHash(r); err != nil {
			return err
		}
	}
	nHashes, err := encoding.ReadUint8(r)
	if err != nil {
		return err
	}
	if nHashes > MaxCandidateHashes {
		return encoding.ErrMalformed
	}
	m.CandidateHashes = make([][]byte, nHashes)
	for i := range m.CandidateHashes {
		if m.CandidateHashes[i], err = encoding.ReadHash(r); err != nil {
			return err
		}
	}
	m.Signature, err = encoding.ReadSignature(r)
	return err
}

// SigningBytes is the payload Signature is produced and verified over
// — every field but the signature itself.
func (m *Stage1) SigningBytes(round uint64) []byte {
	buf := new(bytes.Buffer)
	_ = encoding.WriteUint8(buf, m.SenderIdx)
	_ = encoding.WriteUint64LE(buf, round)
	_ = encoding.WriteHash(buf, m.MaskHash)
	for _, key := range m.CandidateTrusted {
		buf.Write(key)
	}
	for _, h := range m.CandidateHashes {
		buf.Write(h)
	}
	return buf.Bytes()
}

// Stage2 carries the Stage-1 hashes the sender observed, used to
// detect equivocation (spec.md §3, §4.5).
type Stage2 struct {
	SenderIdx  uint8
	Stage1Hash [][]byte
	Signatures [][]byte
}

func (*Stage2) Topic() topics.Topic { return topics.Stage2 }

func (m *Stage2) Encode(w io.Writer) error {
	if err := encoding.WriteUint8(w, m.SenderIdx); err != nil {
		return err
	}
	if err := encoding.WriteUint8(w, uint8(len(m.Stage1Hash))); err != nil {
		return err
	}
	for _, h := range m.Stage1Hash {
		if err := encoding.WriteHash(w, h); err != nil {
			return err
		}
	}
	for _, sig := range m.Signatures {
		if err := encoding.WriteSignature(w, sig); err != nil {
			return err
		}
	}
	return nil
}

func (m *Stage2) Decode(r io.Reader) error {
	var err error
	if m.SenderIdx, err = encoding.ReadUint8(r); err != nil {
		return err
	}
	n, err := encoding.ReadUint8(r)
	if err != nil {
		return err
	}
	m.Stage1Hash = make([][]byte, n)
	for i := range m.Stage1Hash {
		if m.Stage1Hash[i], err = encoding.ReadHash(r); err != nil {
			return err
		}
	}
	m.Signatures = make([][]byte, n)
	for i := range m.Signatures {
		if m.Signatures[i], err = encoding.ReadSignature(r); err != nil {
			return err
		}
	}
	return nil
}

// Stage3 carries the sender's writer choice and its block signature
// (spec.md §3, §4.5).
type Stage3 struct {
	SenderIdx      uint8
	WriterIdx      uint8
	BlockSignature []byte
	UntrustedMask  []byte
}

func (*Stage3) Topic() topics.Topic { return topics.Stage3 }

func (m *Stage3) Encode(w io.Writer) error {
	if err := encoding.WriteUint8(w, m.SenderIdx); err != nil {
		return err
	}
	if err := encoding.WriteUint8(w, m.WriterIdx); err != nil {
		return err
	}
	if err := encoding.WriteSignature(w, m.BlockSignature); err != nil {
		return err
	}
	return encoding.WriteVarBytes(w, m.UntrustedMask)
}

func (m *Stage3) Decode(r io.Reader) error {
	var err error
	if m.SenderIdx, err = encoding.ReadUint8(r); err != nil {
		return err
	}
	if m.WriterIdx, err = encoding.ReadUint8(r); err != nil {
		return err
	}
	if m.BlockSignature, err = encoding.ReadSignature(r); err != nil {
		return err
	}
	m.UntrustedMask, err = encoding.ReadVarBytes(r, 1<<16)
	return err
}

// StageRequest implements Stage1Request/Stage2Request/Stage3Request:
// one wire shape shared by all three, discriminated by topic (spec.md
// §4.5's "Missing-stage requests").
type StageRequest struct {
	topic    topics.Topic
	From     uint8
	Required uint8
}

// NewStageRequest builds a StageRequest for the given stage topic.
func NewStageRequest(t topics.Topic, from, required uint8) *StageRequest {
	return &StageRequest{topic: t, From: from, Required: required}
}

func (m *StageRequest) Topic() topics.Topic { return m.topic }

func (m *StageRequest) Encode(w io.Writer) error {
	if err := encoding.WriteUint8(w, m.From); err != nil {
		return err
	}
	return encoding.WriteUint8(w, m.Required)
}

func (m *StageRequest) Decode(r io.Reader) error {
	var err error
	if m.From, err = encoding.ReadUint8(r); err != nil {
		return err
	}
	m.Required, err = encoding.ReadUint8(r)
	return err
}

// BlockHash is a Normal-role (non-confidant) node's tail-catch reply to the writer
// of the previous round, reporting its own last-block hash (spec.md
// §4.5 "Stage-1 hash exchange and tail-catch").
type BlockHash struct {
	LastHash []byte
}

func (*BlockHash) Topic() topics.Topic { return topics.BlockHash }

func (m *BlockHash) Encode(w io.Writer) error { return encoding.WriteHash(w, m.LastHash) }

func (m *BlockHash) Decode(r io.Reader) error {
	v, err := encoding.ReadHash(r)
	m.LastHash = v
	return err
}

// HashReply is sent back by a writer that observes a BlockHash
// mismatch, carrying a domain-separated SpoiledHash (SPEC_FULL.md §E.2)
// rather than its own plain last-block hash, so the recipient cannot
// mistake the reply for a second BlockHash report.
type HashReply struct {
	SpoiledHash []byte
}

func (*HashReply) Topic() topics.Topic { return topics.HashReply }

func (m *HashReply) Encode(w io.Writer) error { return encoding.WriteHash(w, m.SpoiledHash) }

func (m *HashReply) Decode(r io.Reader) error {
	v, err := encoding.ReadHash(r)
	m.SpoiledHash = v
	return err
}

// RoundTable wraps block.RoundTable as a wire body.
type RoundTable struct {
	Table block.RoundTable
}

func (*RoundTable) Topic() topics.Topic { return topics.RoundTable }

func (m *RoundTable) Encode(w io.Writer) error { return m.Table.Encode(w) }
func (m *RoundTable) Decode(r io.Reader) error { return m.Table.Decode(r) }

// RoundTableRequest asks a peer to resend the round table for the
// requester's current round (round-agnostic, spec.md §4.7).
type RoundTableRequest struct{}

func (*RoundTableRequest) Topic() topics.Topic  { return topics.RoundTableRequest }
func (*RoundTableRequest) Encode(io.Writer) error { return nil }
func (*RoundTableRequest) Decode(io.Reader) error { return nil }

// RoundTableReply answers a RoundTableRequest.
type RoundTableReply struct {
	Table block.RoundTable
}

func (*RoundTableReply) Topic() topics.Topic { return topics.RoundTableReply }

func (m *RoundTableReply) Encode(w io.Writer) error { return m.Table.Encode(w) }
func (m *RoundTableReply) Decode(r io.Reader) error { return m.Table.Decode(r) }

// BigBang is the network-wide "round R is now starting" broadcast
// (spec.md §3 transition table).
type BigBang struct {
	StartingRound uint64
}

func (*BigBang) Topic() topics.Topic { return topics.BigBang }

func (m *BigBang) Encode(w io.Writer) error { return encoding.WriteUint64LE(w, m.StartingRound) }

func (m *BigBang) Decode(r io.Reader) error {
	v, err := encoding.ReadUint64LE(r)
	m.StartingRound = v
	return err
}

// EmptyRoundPack signals that a round produced no packet (spec.md
// §4.5 tie-breaks and edge cases, empty-packet handling).
type EmptyRoundPack struct{}

func (*EmptyRoundPack) Topic() topics.Topic  { return topics.EmptyRoundPack }
func (*EmptyRoundPack) Encode(io.Writer) error { return nil }
func (*EmptyRoundPack) Decode(io.Reader) error { return nil }

// BlockAlarm is broadcast by a Writer that aborts without appending
// (spec.md §4.5 Failure semantics).
type BlockAlarm struct {
	Round uint64
}

func (*BlockAlarm) Topic() topics.Topic { return topics.BlockAlarm }

func (m *BlockAlarm) Encode(w io.Writer) error { return encoding.WriteUint64LE(w, m.Round) }

func (m *BlockAlarm) Decode(r io.Reader) error {
	v, err := encoding.ReadUint64LE(r)
	m.Round = v
	return err
}

// EventKind mirrors the error taxonomy of spec.md §7, broadcastable as
// a first-class wire event per SPEC_FULL.md §D ("EventReport as a
// first-class emitted event").
type EventKind uint8

const (
	EventWrongSignature EventKind = iota + 1
	EventInsufficientMaxFee
	EventNegativeResult
	EventSourceIsTarget
	EventDisabledInnerID
	EventDuplicatedInnerID
	EventMalformedContractAddress
	EventMalformedTransaction
	EventContractClosed
	EventNewStateOutOfFee
	EventEmittedOutOfFee
	EventCompleteReject
	EventRoundStateExpired
	EventEquivocation
	EventNonContiguousBlock
	EventForkDetected
)

// EventReport is csnode's dual local-log/network-broadcast report:
// built by pkg/consensus/events.LogBroadcastSink and optionally re-emitted
// on the wire (SPEC_FULL.md §D).
type EventReport struct {
	Kind   EventKind
	Detail string
}

func (*EventReport) Topic() topics.Topic { return topics.EventReport }

func (m *EventReport) Encode(w io.Writer) error {
	if err := encoding.WriteUint8(w, uint8(m.Kind)); err != nil {
		return err
	}
	return encoding.WriteVarBytes(w, []byte(m.Detail))
}

func (m *EventReport) Decode(r io.Reader) error {
	kind, err := encoding.ReadUint8(r)
	if err != nil {
		return err
	}
	m.Kind = EventKind(kind)
	detail, err := encoding.ReadVarBytes(r, 4096)
	if err != nil {
		return err
	}
	m.Detail = string(detail)
	return nil
}

// NodeStopRequest is a round-agnostic operator control message.
type NodeStopRequest struct{}

func (*NodeStopRequest) Topic() topics.Topic  { return topics.NodeStopRequest }
func (*NodeStopRequest) Encode(io.Writer) error { return nil }
func (*NodeStopRequest) Decode(io.Reader) error { return nil }

// Utility is a free-form, round-agnostic diagnostic payload.
type Utility struct {
	Payload []byte
}

func (*Utility) Topic() topics.Topic { return topics.Utility }

func (m *Utility) Encode(w io.Writer) error { return encoding.WriteVarBytes(w, m.Payload) }

func (m *Utility) Decode(r io.Reader) error {
	v, err := encoding.ReadVarBytes(r, MaxPayload)
	m.Payload = v
	return err
}
