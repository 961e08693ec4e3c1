package config

import "time"

// generalConfiguration mirrors the teacher's groups.go shape, trimmed to
// what a csnode process needs to identify its network.
type generalConfiguration struct {
	Network string
	// KeyFile is the path to this node's ed25519 key pair (raw 64-byte
	// seed||public, the format crypto.KeyPair round-trips). Generated on
	// first run if absent.
	KeyFile string
}

type loggerConfiguration struct {
	Level  string
	Output string
}

type networkConfiguration struct {
	Seeder    seedersConfiguration
	Monitor   monitorConfiguration
	Port      string
	Version   uint16
	ChainUUID uint64
}

type monitorConfiguration struct {
	Address string
}

type seedersConfiguration struct {
	Addresses []string
	Fixed     []string
}

// databaseConfiguration configures the persistent block store and wallet
// cache collaborators (§6) — csnode itself never opens the database, it
// only carries the options the collaborator expects.
type databaseConfiguration struct {
	Driver string
	Dir    string
}

// consensusConfiguration carries every tunable named in spec.md §6.
type consensusConfiguration struct {
	// MinTrustedNodes is the minimum confidant set size for a round to
	// form.
	MinTrustedNodes int
	// MaxTrustedNodes is the upper bound on the confidant set (M in
	// spec.md §3).
	MaxTrustedNodes int
	// DefaultStateTimeout is the per-state time budget for the Round
	// Controller (§4.5).
	DefaultStateTimeout time.Duration
	// StageRequestDelay is how long a Trusted* state waits without
	// reaching quorum before requesting missing stages (§4.5).
	StageRequestDelay time.Duration
	// RoundDifferent is the lag threshold (in rounds) that activates
	// the Pool Synchronizer (§4.6).
	RoundDifferent uint64
	// MaxBlockCount is the Pool Synchronizer's sliding window size.
	MaxBlockCount int
	// MaxWaitRound is how many rounds a sync request survives before
	// re-issue.
	MaxWaitRound int
	// MaxWaitReply is how many unrelated replies a sync request
	// survives before re-issue.
	MaxWaitReply int
	// MetaCapacity is the round-lookahead tolerance for transaction-
	// packet-type messages in the Event Dispatcher (§4.7).
	MetaCapacity uint64
	// CandidateHashLimit is H in spec.md §3, the max candidate packet
	// hashes a Stage-1 message may carry.
	CandidateHashLimit int
	// LagThreshold is K in spec.md §3, the sequence lag that marks a
	// node as "lagging".
	LagThreshold uint64
}

// networkPeersConfiguration carries the Neighbor Registry's tunables
// (§4.2) and the permissioned network's fixed membership list: unlike
// the teacher's voucher-seeder discovery protocol (out of scope per
// spec.md's transport Non-goals), a permissioned node's confidant set
// is known up front rather than discovered.
type networkPeersConfiguration struct {
	MaxNeighbours   int
	LastSeenTimeout time.Duration
	SweepInterval   time.Duration
	Seeds           []SeedPeer
}

// SeedPeer names one statically configured peer this node dials at
// startup: its network address and its identity's hex-encoded public
// key (32 bytes).
type SeedPeer struct {
	Address   string
	PublicKey string
}
