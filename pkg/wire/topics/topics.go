// Package topics enumerates the message discriminators exchanged between
// csnode peers and used by the Event Dispatcher to classify decoded
// messages.
package topics

// Topic identifies the kind of message carried by an envelope, both on
// the wire (as the codec's discriminator byte) and internally (as the
// Event Dispatcher's classification key).
type Topic uint8

// The full tagged union of consensus and network-control messages, per
// spec.md §4.1.
const (
	Unknown Topic = iota

	// Network control.
	Registration
	RegistrationConfirmed
	RegistrationRefused
	Ping

	// Block synchronization (C6).
	BlockRequest
	BlockReply

	// Consensus stages (C5).
	Stage1
	Stage2
	Stage3
	Stage1Request
	Stage2Request
	Stage3Request

	// Stage-1 hash exchange and tail-catch (spec.md §4.5).
	BlockHash
	HashReply

	// Round table exchange.
	RoundTable
	RoundTableRequest
	RoundTableReply

	// Out-of-band control.
	BigBang
	EmptyRoundPack
	BlockAlarm
	EventReport
	NodeStopRequest
	Utility

	// Internal-only topics, never seen on the wire: no Body type in
	// pkg/wire/message carries them.
	Gossip
	Quit

	// Internal-only names for the §6 capability queries
	// (chain.last_sequence, chain.last_hash, chain.append,
	// wallets.snapshot); no Body type in pkg/wire/message carries them.
	GetLastSequence
	GetLastHash
	AppendBlock
	GetWalletSnapshot
)

var names = map[Topic]string{
	Unknown:                "Unknown",
	Registration:           "Registration",
	RegistrationConfirmed:  "RegistrationConfirmed",
	RegistrationRefused:    "RegistrationRefused",
	Ping:                   "Ping",
	BlockRequest:           "BlockRequest",
	BlockReply:             "BlockReply",
	Stage1:                 "Stage1",
	Stage2:                 "Stage2",
	Stage3:                 "Stage3",
	Stage1Request:          "Stage1Request",
	Stage2Request:          "Stage2Request",
	Stage3Request:          "Stage3Request",
	BlockHash:              "BlockHash",
	HashReply:              "HashReply",
	RoundTable:             "RoundTable",
	RoundTableRequest:      "RoundTableRequest",
	RoundTableReply:        "RoundTableReply",
	BigBang:                "BigBang",
	EmptyRoundPack:         "EmptyRoundPack",
	BlockAlarm:             "BlockAlarm",
	EventReport:            "EventReport",
	NodeStopRequest:        "NodeStopRequest",
	Utility:                "Utility",
	Gossip:                 "Gossip",
	Quit:                   "Quit",
	GetLastSequence:        "GetLastSequence",
	GetLastHash:            "GetLastHash",
	AppendBlock:            "AppendBlock",
	GetWalletSnapshot:      "GetWalletSnapshot",
}

// String implements fmt.Stringer for readable logging.
func (t Topic) String() string {
	if n, ok := names[t]; ok {
		return n
	}
	return "Topic(unrecognized)"
}

// IsStage reports whether t is one of the smart-stage message types
// (Stage-1/2/3 or their replay requests). Used by the Event Dispatcher
// to select the `roundTimeout` bucket of 100 rounds per spec.md §4.7.
func (t Topic) IsStage() bool {
	switch t {
	case Stage1, Stage2, Stage3, Stage1Request, Stage2Request, Stage3Request:
		return true
	default:
		return false
	}
}

// IsRoundAgnostic reports whether t must be processed regardless of the
// node's current round, per spec.md §4.7.
func (t Topic) IsRoundAgnostic() bool {
	switch t {
	case BlockRequest, BlockReply, BigBang, RoundTableRequest, RoundTable, NodeStopRequest, Utility:
		return true
	default:
		return false
	}
}

// IsTransactionPacket reports whether t carries gossiped transaction
// packets, the class spec.md §4.7 gives the `MetaCapacity` staleness
// bucket. Gossip is the only topic in that class (Stage-1 itself only
// ever carries hashes, never packet bodies).
func (t Topic) IsTransactionPacket() bool {
	return t == Gossip
}
