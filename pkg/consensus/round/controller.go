// Package round implements C5: the per-round BFT state machine driving
// a node through Stage-1/2/3 commit and, for the elected Writer, block
// assembly and the next round table (spec.md §4.5). Grounded on the
// teacher's pkg/core/consensus/phase.go PhaseFn idiom and
// reduction/secondstep/step.go's collect-verify-aggregate-handoff
// shape, generalized here into an explicit State field plus
// event-handling methods: spec.md §5 requires the processor thread to
// dispatch Stage-N/timeout/RoundTable events one at a time rather than
// block inside a single select loop, so the state lives in the
// Controller rather than in a closure chain. Also grounded on
// original_source/solver/src/solvercore.cpp and solvercontext.cpp for
// the state transitions themselves.
package round

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/cleancoindev2/csnode/pkg/consensus/stage"
	"github.com/cleancoindev2/csnode/pkg/core/block"
	"github.com/cleancoindev2/csnode/pkg/core/txvalidator"
	"github.com/cleancoindev2/csnode/pkg/core/wallet"
	"github.com/cleancoindev2/csnode/pkg/crypto"
	"github.com/cleancoindev2/csnode/pkg/identity"
	"github.com/cleancoindev2/csnode/pkg/wire/message"
	"github.com/cleancoindev2/csnode/pkg/wire/topics"
)

// State is one of the seven states of spec.md §4.5's transition table.
type State uint8

const (
	NoState State = iota
	Normal
	Trusted1
	Trusted2
	Trusted3
	Writer
	PostRound
)

func (s State) String() string {
	switch s {
	case NoState:
		return "NoState"
	case Normal:
		return "Normal"
	case Trusted1:
		return "Trusted1"
	case Trusted2:
		return "Trusted2"
	case Trusted3:
		return "Trusted3"
	case Writer:
		return "Writer"
	case PostRound:
		return "PostRound"
	default:
		return "Unknown"
	}
}

// Signer is the §6 sign capability as the Round Controller consumes
// it: production of a node's own signatures, keyed to its own public
// identity.
type Signer interface {
	Sign(msg []byte) []byte
	Public() identity.ID
}

// Broadcaster is the outbound half of the §6 transport contract used by
// C5: Broadcast reaches every confidant, SendTo reaches one peer.
type Broadcaster interface {
	Broadcast(body message.Body)
	SendTo(peer identity.ID, body message.Body)
}

// ChainAppender is the §6 chain.* capability contract, extended with
// LastWriterKey so the tail-catch exchange (spec.md §4.5) can address
// the previous round's writer without the Round Controller tracking
// block history itself.
type ChainAppender interface {
	LastSequence() uint64
	LastHash() []byte
	LastWriterKey() identity.ID
	Append(b block.Block) error
}

// PacketSource is C5's upstream Conveyor collaborator (spec.md §4.5
// Stage-1 production): it hands the Round Controller the packet
// scheduled for a round and the pending candidate packet hashes not
// yet referenced by the incoming round table.
type PacketSource interface {
	PacketForRound(round uint64) (block.Packet, bool)
	PendingHashes(round uint64, exclude [][]byte, max int) [][]byte
}

// Connectivity reports which confidants C2 currently considers well
// connected, feeding Stage-1's candidate-trusted list (spec.md §4.5).
// A nil Connectivity is treated as "every table confidant is well
// connected".
type Connectivity interface {
	WellConnected(confidants []identity.ID) []identity.ID
}

// EventSink receives every EventReport the Round Controller raises
// (spec.md §7) rather than the controller logging it directly, so the
// sink implementation (pkg/consensus/events.LogBroadcastSink) decides
// whether to log, broadcast, or both (SPEC_FULL.md §D).
type EventSink interface {
	Report(kind message.EventKind, detail string)
}

// SyncTrigger is how C5 hands control to the Pool Synchronizer (C6)
// when a HashReply reveals this node is lagging (spec.md §4.5). A nil
// SyncTrigger is a no-op.
type SyncTrigger interface {
	TriggerSync()
}

// Controller drives exactly one round at a time and is owned
// exclusively by the processor thread (spec.md §5): none of its
// methods take their own lock for cross-call serialization, only for
// safe read access from diagnostics/tests. Callers on the processor
// thread must not call Controller methods concurrently with each
// other.
type Controller struct {
	self identity.ID

	signer  Signer
	chain   ChainAppender
	packets PacketSource
	snap    wallet.Snapshot
	sink    EventSink
	out     Broadcaster
	conn    Connectivity
	sync    SyncTrigger

	maxTrusted   int
	stateTimeout time.Duration
	requestDelay time.Duration

	mu         sync.Mutex
	round      uint64
	table      block.RoundTable
	state      State
	trustedIdx int

	store     *stage.Store
	candidate candidateState

	stateEntered time.Time
}

type candidateState struct {
	packet    block.Packet
	mask      []byte
	maskHash  []byte
	writerIdx uint8
}

// Config carries the consensusConfiguration tunables the Round
// Controller needs (pkg/config).
type Config struct {
	MaxTrustedNodes     int
	DefaultStateTimeout time.Duration
	StageRequestDelay   time.Duration
}

// NewController builds a Controller for self, wiring its §6
// capability collaborators. Conn and Sync may be nil.
func NewController(self identity.ID, signer Signer, chain ChainAppender, packets PacketSource, snap wallet.Snapshot, sink EventSink, out Broadcaster, conn Connectivity, sync SyncTrigger, cfg Config) *Controller {
	return &Controller{
		self:         self,
		signer:       signer,
		chain:        chain,
		packets:      packets,
		snap:         snap,
		sink:         sink,
		out:          out,
		conn:         conn,
		sync:         sync,
		maxTrusted:   cfg.MaxTrustedNodes,
		stateTimeout: cfg.DefaultStateTimeout,
		requestDelay: cfg.StageRequestDelay,
		state:        NoState,
	}
}

// State reports the Controller's current state, for diagnostics.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Round reports the round currently being driven.
func (c *Controller) Round() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.round
}

// TrustedIndexOf reports peer's confidant index in the current round
// table, or -1 if it is not a confidant this round. Node wiring uses
// this to translate a message's sender identity into the senderIdx
// the Stage-N handlers expect.
func (c *Controller) TrustedIndexOf(peer identity.ID) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.table.TrustedIndex(peer)
}

// StartRound implements the "NoState --Start--> Normal or Trusted1 per
// role" transition (spec.md §4.5). Rejecting a round table for a round
// lower than current is the caller's responsibility (SPEC_FULL.md
// §E.3); StartRound drives whatever table it is given.
func (c *Controller) StartRound(table block.RoundTable) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.round = table.Round
	c.table = table
	c.store = stage.New(len(table.Confidants))
	c.candidate = candidateState{}
	c.trustedIdx = table.TrustedIndex(c.self)
	c.stateEntered = time.Now()

	if c.trustedIdx < 0 {
		c.state = Normal
		log.WithFields(log.Fields{"process": "round", "round": c.round}).Debugln("observing round as non-confidant")
		c.emitTailCatch()
		return
	}
	c.state = Trusted1
	log.WithFields(log.Fields{"process": "round", "round": c.round, "trustedIdx": c.trustedIdx}).Infoln("entering Trusted1")
	c.enterTrusted1()
}

// emitTailCatch sends our last-block hash to the previous round's
// writer so it can detect whether we are lagging (spec.md §4.5
// "Stage-1 hash exchange and tail-catch").
func (c *Controller) emitTailCatch() {
	writer := c.chain.LastWriterKey()
	c.out.SendTo(writer, &message.BlockHash{LastHash: c.chain.LastHash()})
}

// HandleBlockHash is the writer side of the tail-catch exchange: a
// mismatch between the sender's reported last-block hash and our own
// means the sender is lagging or has forked, and is told so via a
// domain-separated HashReply (spec.md §4.5).
func (c *Controller) HandleBlockHash(sender identity.ID, msg *message.BlockHash) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ours := c.chain.LastHash()
	if bytes.Equal(ours, msg.LastHash) {
		return
	}
	c.out.SendTo(sender, &message.HashReply{SpoiledHash: crypto.SpoiledHash(ours, c.self.Bytes())})
}

// HandleHashReply lets this node discover it is the one lagging,
// handing control to the Pool Synchronizer (spec.md §4.5).
func (c *Controller) HandleHashReply(*message.HashReply) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sink.Report(message.EventNonContiguousBlock, "hash mismatch reported by confidant, deferring to pool synchronizer")
	if c.sync != nil {
		c.sync.TriggerSync()
	}
}

// enterTrusted1 implements Stage-1 production (spec.md §4.5).
func (c *Controller) enterTrusted1() {
	pkt, ok := c.packets.PacketForRound(c.round)
	if !ok {
		pkt = block.Packet{}
	}
	result := txvalidator.Validate(pkt.Transactions, c.snap)
	for _, rej := range result.Rejections {
		c.sink.Report(reasonToEvent(rej.Reason), fmt.Sprintf("tx %d: %s", rej.Index, rej.Reason))
	}

	mask := result.Mask
	mh := maskHash(mask, c.round)

	trusted := c.table.Confidants
	if c.conn != nil {
		trusted = c.conn.WellConnected(trusted)
	}
	candidateTrusted := make([][]byte, 0, len(trusted))
	for _, conf := range trusted {
		candidateTrusted = append(candidateTrusted, conf.Bytes())
	}

	hashes := c.packets.PendingHashes(c.round, c.table.PacketHashes, message.MaxCandidateHashes)

	s1 := &message.Stage1{
		SenderIdx:        uint8(c.trustedIdx),
		MaskHash:         mh,
		CandidateTrusted: candidateTrusted,
		CandidateHashes:  hashes,
	}
	s1.Signature = c.signer.Sign(s1.SigningBytes(c.round))

	c.candidate.packet = pkt
	c.candidate.mask = mask
	c.candidate.maskHash = mh

	c.store.Put(stage.Stage1, c.trustedIdx, stage.Entry{Payload: s1, Hash: mh})
	c.out.Broadcast(s1)
	c.checkStage1Quorum()
}

// maskHash implements the empty-packet tie-break of spec.md §4.5
// Tie-breaks and edge cases: H(empty) is defined as H(round_number).
func maskHash(mask []byte, round uint64) []byte {
	if len(mask) == 0 {
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, round)
		return crypto.HashBytes(buf)
	}
	return crypto.HashBytes(mask)
}

func reasonToEvent(r txvalidator.Reason) message.EventKind {
	switch r {
	case txvalidator.ReasonWrongSignature:
		return message.EventWrongSignature
	case txvalidator.ReasonInsufficientMaxFee:
		return message.EventInsufficientMaxFee
	case txvalidator.ReasonSourceIsTarget:
		return message.EventSourceIsTarget
	case txvalidator.ReasonDisabledInnerID:
		return message.EventDisabledInnerID
	case txvalidator.ReasonDuplicatedInnerID:
		return message.EventDuplicatedInnerID
	case txvalidator.ReasonContractClosed:
		return message.EventContractClosed
	case txvalidator.ReasonMalformedContractAddr:
		return message.EventMalformedContractAddress
	case txvalidator.ReasonNewStateOutOfFee:
		return message.EventNewStateOutOfFee
	case txvalidator.ReasonEmittedOutOfFee:
		return message.EventEmittedOutOfFee
	default:
		return message.EventMalformedTransaction
	}
}

// verifyStage checks signed/sig against senderIdx's table-derived
// public key — never a key carried in the message itself — and raises
// EventWrongSignature on failure (spec.md §4.5 Failure semantics).
func (c *Controller) verifyStage(senderIdx int, signed, sig []byte) bool {
	if senderIdx < 0 || senderIdx >= len(c.table.Confidants) {
		return false
	}
	key := c.table.Confidants[senderIdx]
	if !crypto.Verify(key.Bytes(), signed, sig) {
		c.sink.Report(message.EventWrongSignature, fmt.Sprintf("stage from confidant %d", senderIdx))
		return false
	}
	return true
}

// HandleStage1 processes an inbound Stage-1 from senderIdx (spec.md
// §4.4 put, §4.5 failure semantics).
func (c *Controller) HandleStage1(senderIdx int, msg *message.Stage1) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Trusted1 && c.state != Normal {
		return
	}
	if !c.verifyStage(senderIdx, msg.SigningBytes(c.round), msg.Signature) {
		return
	}
	c.store.Put(stage.Stage1, senderIdx, stage.Entry{Payload: msg, Hash: msg.MaskHash})
	c.checkStage1Quorum()
}

// checkStage1Quorum applies the Stage1Enough transition the instant
// quorum(1) holds, whether the triggering contribution was this
// node's own or a received one (spec.md §4.5 transition table).
func (c *Controller) checkStage1Quorum() {
	if c.state == Trusted1 && c.store.Quorum(stage.Stage1) {
		c.enterTrusted2()
	}
}

// enterTrusted2 implements spec.md §4.5's Stage-2 transition: collect
// the observed Stage-1 hashes and signatures, broadcast.
func (c *Controller) enterTrusted2() {
	c.state = Trusted2
	c.stateEntered = time.Now()

	var hashes, sigs [][]byte
	for idx := range c.table.Confidants {
		e, ok := c.store.Get(stage.Stage1, idx)
		if !ok {
			continue
		}
		s1 := e.Payload.(*message.Stage1)
		hashes = append(hashes, s1.MaskHash)
		sigs = append(sigs, s1.Signature)
	}

	s2 := &message.Stage2{SenderIdx: uint8(c.trustedIdx), Stage1Hash: hashes, Signatures: sigs}
	c.store.Put(stage.Stage2, c.trustedIdx, stage.Entry{Payload: s2, Hash: stage2Digest(s2)})
	c.out.Broadcast(s2)
	c.checkStage2Quorum()
}

// checkStage2Quorum applies the Stage2Enough transition the instant
// quorum(2) holds (spec.md §4.5 transition table).
func (c *Controller) checkStage2Quorum() {
	if c.state == Trusted2 && c.store.Quorum(stage.Stage2) {
		c.enterTrusted3()
	}
}

func stage2Digest(s2 *message.Stage2) []byte {
	buf := new(bytes.Buffer)
	for _, h := range s2.Stage1Hash {
		buf.Write(h)
	}
	return crypto.HashBytes(buf.Bytes())
}

// HandleStage2 processes an inbound Stage-2 from senderIdx. Stage-2
// carries no signature of its own — it relays the Stage-1 signatures
// already verified when each was received — so only bounds-checking
// and equivocation tracking apply here.
func (c *Controller) HandleStage2(senderIdx int, msg *message.Stage2) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Trusted2 {
		return
	}
	if senderIdx < 0 || senderIdx >= len(c.table.Confidants) {
		return
	}
	c.store.Put(stage.Stage2, senderIdx, stage.Entry{Payload: msg, Hash: stage2Digest(msg)})
	c.checkStage2Quorum()
}

// enterTrusted3 implements spec.md §4.5's Stage-3 transition: pick the
// writer-candidate this node proposes (SPEC_FULL.md §E.4), sign the
// candidate block, broadcast.
func (c *Controller) enterTrusted3() {
	c.state = Trusted3
	c.stateEntered = time.Now()

	c.candidate.writerIdx = uint8(c.round % uint64(len(c.table.Confidants)))
	blockHash := c.candidateBlockHash()
	sig := c.signer.Sign(blockHash)

	s3 := &message.Stage3{
		SenderIdx:      uint8(c.trustedIdx),
		WriterIdx:      c.candidate.writerIdx,
		BlockSignature: sig,
		UntrustedMask:  c.candidate.mask,
	}
	c.store.Put(stage.Stage3, c.trustedIdx, stage.Entry{
		Payload:   s3,
		Hash:      stage3Digest(s3),
		WriterIdx: c.candidate.writerIdx,
	})
	c.out.Broadcast(s3)
	c.checkStage3Quorum()
}

func stage3Digest(s3 *message.Stage3) []byte {
	buf := new(bytes.Buffer)
	buf.WriteByte(s3.WriterIdx)
	buf.Write(s3.BlockSignature)
	return crypto.HashBytes(buf.Bytes())
}

// buildCandidateBlock assembles the provisional block this node
// proposes: the packet under the agreed mask, addressed to the
// round's chosen writer (spec.md §4.5 Stage-3: "candidate block formed
// from packet-by-roundtable, mask-majority").
func (c *Controller) buildCandidateBlock() block.Block {
	txs := make([]block.Transaction, 0, len(c.candidate.packet.Transactions))
	for i, tx := range c.candidate.packet.Transactions {
		if i < len(c.candidate.mask) && c.candidate.mask[i] == 1 {
			txs = append(txs, tx)
		}
	}
	var writerKey identity.ID
	if int(c.candidate.writerIdx) < len(c.table.Confidants) {
		writerKey = c.table.Confidants[c.candidate.writerIdx]
	}
	return block.Block{
		Sequence:       c.chain.LastSequence() + 1,
		PrevHash:       c.chain.LastHash(),
		WriterKey:      writerKey,
		RoundTimestamp: c.table.StartingTimestamp,
		Transactions:   txs,
	}
}

func (c *Controller) candidateBlockHash() []byte {
	return c.buildCandidateBlock().Hash()
}

// HandleStage3 processes an inbound Stage-3 from senderIdx. A
// confidant can only verify a BlockSignature against a block hash it
// has itself derived, which only holds for its own writer choice; a
// vote for a different writer is counted toward the coalition without
// local signature verification; signatures are re-checked only by the
// winning writer itself, when becomeWriter runs collectBlockSignatures
// and DistinctValidSignatureCount (spec.md §4.4 quorum(3), §4.5).
func (c *Controller) HandleStage3(senderIdx int, msg *message.Stage3) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Trusted3 {
		return
	}
	if senderIdx < 0 || senderIdx >= len(c.table.Confidants) {
		return
	}
	if msg.WriterIdx == c.candidate.writerIdx {
		key := c.table.Confidants[senderIdx]
		if !crypto.Verify(key.Bytes(), c.candidateBlockHash(), msg.BlockSignature) {
			c.sink.Report(message.EventWrongSignature, fmt.Sprintf("stage3 from confidant %d", senderIdx))
			return
		}
	}
	c.store.Put(stage.Stage3, senderIdx, stage.Entry{
		Payload:   msg,
		Hash:      stage3Digest(msg),
		WriterIdx: msg.WriterIdx,
	})
	c.checkStage3Quorum()
}

// checkStage3Quorum applies the Stage3Enough transition the instant
// quorum(3) holds with a writer decided, whether the triggering vote
// was this node's own or a received one: Writer if self, else
// PostRound (spec.md §4.5 transition table).
func (c *Controller) checkStage3Quorum() {
	if c.state != Trusted3 || !c.store.Quorum(stage.Stage3) {
		return
	}
	winner, _ := c.store.WinningWriter()
	if int(winner) == c.trustedIdx {
		c.becomeWriter()
		return
	}
	c.state = PostRound
	c.stateEntered = time.Now()
	log.WithFields(log.Fields{"process": "round", "round": c.round, "writer": winner}).Infoln("round decided, not this node's turn to write")
}

// collectBlockSignatures gathers every stored Stage-3 vote matching
// this node's own trusted index as winning writer, for assembly into
// the final block (spec.md §4.5 Writer actions).
func (c *Controller) collectBlockSignatures() []block.Signature {
	var sigs []block.Signature
	for idx := range c.table.Confidants {
		if c.store.IsExcluded(idx) {
			continue
		}
		e, ok := c.store.Get(stage.Stage3, idx)
		if !ok {
			continue
		}
		s3 := e.Payload.(*message.Stage3)
		if s3.WriterIdx != uint8(c.trustedIdx) {
			continue
		}
		sigs = append(sigs, block.Signature{Signer: c.table.Confidants[idx], Sig: s3.BlockSignature})
	}
	return sigs
}

// becomeWriter implements spec.md §4.5's Writer actions: assemble,
// sign-check, append, derive and broadcast the next round table.
func (c *Controller) becomeWriter() {
	c.state = Writer
	c.stateEntered = time.Now()
	log.WithFields(log.Fields{"process": "round", "round": c.round}).Infoln("elected writer")

	blk := c.buildCandidateBlock()
	blk.Signatures = c.collectBlockSignatures()

	need := block.QuorumSize(len(c.table.Confidants))
	if blk.DistinctValidSignatureCount(c.table.Confidants) < need {
		c.abortWrite("insufficient confidant signatures")
		return
	}
	if err := c.chain.Append(blk); err != nil {
		c.abortWrite(err.Error())
		return
	}

	next := c.deriveNextRoundTable()
	c.out.Broadcast(&message.RoundTable{Table: next})
	c.state = PostRound
}

// abortWrite implements the Writer-state failure path of spec.md
// §4.5: do not append, broadcast BlockAlarm, fall back to PostRound.
func (c *Controller) abortWrite(detail string) {
	c.sink.Report(message.EventRoundStateExpired, "writer: "+detail)
	c.out.Broadcast(&message.BlockAlarm{Round: c.round})
	c.state = PostRound
}

// deriveNextRoundTable implements spec.md §4.5's next-round-table
// rule: confidants and hashes reaching the same ⌊N/2⌋+1 multiplicity
// threshold across every observed Stage-1, clamped to table limits.
func (c *Controller) deriveNextRoundTable() block.RoundTable {
	need := block.QuorumSize(len(c.table.Confidants))

	confidantVotes := make(map[identity.ID]int)
	hashVotes := make(map[string]int)
	hashBytes := make(map[string][]byte)

	for idx := range c.table.Confidants {
		e, ok := c.store.Get(stage.Stage1, idx)
		if !ok {
			continue
		}
		s1 := e.Payload.(*message.Stage1)
		for _, raw := range s1.CandidateTrusted {
			id, err := identity.NewID(raw)
			if err != nil {
				continue
			}
			confidantVotes[id]++
		}
		for _, h := range s1.CandidateHashes {
			key := string(h)
			hashVotes[key]++
			hashBytes[key] = h
		}
	}

	var confidants []identity.ID
	for id, count := range confidantVotes {
		if count >= need {
			confidants = append(confidants, id)
		}
	}
	confidants = identity.SortIDs(confidants)
	if len(confidants) > c.maxTrusted {
		confidants = confidants[:c.maxTrusted]
	}

	var hashes [][]byte
	for key, count := range hashVotes {
		if count >= need {
			hashes = append(hashes, hashBytes[key])
		}
	}
	if len(hashes) > message.MaxCandidateHashes {
		hashes = hashes[:message.MaxCandidateHashes]
	}

	return block.RoundTable{
		Round:             c.round + 1,
		StartingTimestamp: uint64(time.Now().Unix()),
		Confidants:        confidants,
		PacketHashes:      hashes,
	}
}

// pendingStage reports the stage whose quorum the current Trusted*
// state is waiting on, for the missing-stage-request timer.
func (c *Controller) pendingStage() (stage.Number, bool) {
	switch c.state {
	case Trusted1:
		return stage.Stage1, true
	case Trusted2:
		return stage.Stage2, true
	case Trusted3:
		return stage.Stage3, true
	default:
		return 0, false
	}
}

func stageRequestTopic(n stage.Number) topics.Topic {
	switch n {
	case stage.Stage1:
		return topics.Stage1Request
	case stage.Stage2:
		return topics.Stage2Request
	default:
		return topics.Stage3Request
	}
}

func requestedStage(t topics.Topic) stage.Number {
	switch t {
	case topics.Stage1Request:
		return stage.Stage1
	case topics.Stage2Request:
		return stage.Stage2
	default:
		return stage.Stage3
	}
}

// CheckStageRequestDelay implements spec.md §4.5's missing-stage
// requests: after StageRequestDelay without reaching the next quorum,
// request the missing contributions directly from their senders. It is
// driven by the scheduler thread's posted-back timer callback (spec.md
// §5), at a shorter period than CheckTimeout.
func (c *Controller) CheckStageRequestDelay(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stageN, ok := c.pendingStage()
	if !ok || now.Sub(c.stateEntered) < c.requestDelay {
		return
	}

	topic := stageRequestTopic(stageN)
	for _, missingIdx := range c.store.FindMissing(stageN) {
		if missingIdx == c.trustedIdx {
			continue
		}
		req := message.NewStageRequest(topic, uint8(c.trustedIdx), uint8(missingIdx))
		c.out.SendTo(c.table.Confidants[missingIdx], req)
	}
}

// HandleStageRequest answers a StageNRequest from the Stage Store if
// the requested entry is present (spec.md §4.5 "The receiver replies
// from its Stage Store if present").
func (c *Controller) HandleStageRequest(topic topics.Topic, req *message.StageRequest) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if int(req.From) >= len(c.table.Confidants) {
		return
	}
	stageN := requestedStage(topic)
	e, ok := c.store.Get(stageN, int(req.Required))
	if !ok {
		return
	}
	requester := c.table.Confidants[req.From]
	c.out.SendTo(requester, e.Payload.(message.Body))
}

// CheckTimeout implements the Expired transition of spec.md §4.5: a
// Trusted* state that exceeds DefaultStateTimeout reverts to NoState
// to await a fresh RoundTable; a Writer that times out aborts without
// appending. It is driven by the scheduler thread's posted-back timer
// callback (spec.md §5).
func (c *Controller) CheckTimeout(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case NoState, PostRound, Normal:
		return
	}
	if now.Sub(c.stateEntered) < c.stateTimeout {
		return
	}

	if c.state == Writer {
		c.abortWrite("state timed out")
		return
	}
	c.sink.Report(message.EventRoundStateExpired, fmt.Sprintf("state %s timed out", c.state))
	c.state = NoState
}
