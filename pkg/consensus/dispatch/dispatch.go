// Package dispatch implements C7, the Event Dispatcher: the
// process/drop/postpone classification that decides whether a decoded
// packet is handed to its consumer now, discarded as stale, or queued
// for replay once the node's round catches up (spec.md §4.7). Grounded
// on the teacher's pkg/util/nativeutils/eventbus (SafeProcessorRegistry,
// TopicListener.Accept) for the registry-of-queues shape, and on
// pkg/core/consensus/notary/sigset.go's sigSetCollector.futureRounds
// map[uint64][]*SigSetEvent for the postpone-by-round-bucket idiom.
package dispatch

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/cleancoindev2/csnode/pkg/identity"
	"github.com/cleancoindev2/csnode/pkg/wire/message"
	"github.com/cleancoindev2/csnode/pkg/wire/topics"
)

// Action is the classification result for one inbound packet.
type Action uint8

const (
	Process Action = iota
	Drop
	Postpone
)

func (a Action) String() string {
	switch a {
	case Process:
		return "process"
	case Drop:
		return "drop"
	case Postpone:
		return "postpone"
	default:
		return "unknown"
	}
}

// smartStageTimeout and defaultTimeout are the fixed roundTimeout
// values spec.md §4.7 names; only the transaction-packet bucket is
// externally configurable (MetaCapacity).
const (
	smartStageTimeout uint64 = 100
	defaultTimeout    uint64 = 5
)

// Envelope is one decoded packet awaiting classification.
type Envelope struct {
	Topic       topics.Topic
	SenderRound uint64
	Sender      identity.ID
	Body        message.Body
}

// Dispatcher holds the postponed-message buckets; all methods are
// meant to be called from the single processor thread (spec.md §5),
// but are mutex-guarded so a scheduler-thread Advance call is safe.
type Dispatcher struct {
	mu           sync.Mutex
	metaCapacity uint64
	postponed    map[uint64][]Envelope
}

// New builds a Dispatcher using metaCapacity as the transaction-packet
// staleness bucket (spec.md §6 `MetaCapacity`).
func New(metaCapacity uint64) *Dispatcher {
	return &Dispatcher{
		metaCapacity: metaCapacity,
		postponed:    make(map[uint64][]Envelope),
	}
}

// Classify computes the action for env given the node's currentRound,
// without mutating any dispatcher state (spec.md §4.7's `choose`).
func (d *Dispatcher) Classify(currentRound uint64, env Envelope) Action {
	if env.Topic.IsRoundAgnostic() {
		return Process
	}
	if env.SenderRound+d.roundTimeout(env.Topic) < currentRound {
		return Drop
	}
	if env.SenderRound > currentRound {
		return Postpone
	}
	return Process
}

func (d *Dispatcher) roundTimeout(t topics.Topic) uint64 {
	switch {
	case t.IsStage():
		return smartStageTimeout
	case t.IsTransactionPacket():
		return d.metaCapacity
	default:
		return defaultTimeout
	}
}

// Dispatch classifies env and either invokes deliver immediately
// (Process), stashes it under its sender round for later replay
// (Postpone), or drops it, logging the outcome for anything other
// than the common Process case.
func (d *Dispatcher) Dispatch(currentRound uint64, env Envelope, deliver func(Envelope)) Action {
	action := d.Classify(currentRound, env)
	switch action {
	case Process:
		deliver(env)
	case Postpone:
		d.mu.Lock()
		d.postponed[env.SenderRound] = append(d.postponed[env.SenderRound], env)
		d.mu.Unlock()
		log.WithFields(log.Fields{
			"process":      "dispatch",
			"topic":        env.Topic.String(),
			"sender_round": env.SenderRound,
			"current_round": currentRound,
		}).Debugln("postponed")
	case Drop:
		log.WithFields(log.Fields{
			"process":      "dispatch",
			"topic":        env.Topic.String(),
			"sender_round": env.SenderRound,
			"current_round": currentRound,
		}).Debugln("dropped stale packet")
	}
	return action
}

// Advance replays every postponed bucket whose round has been reached
// now that the node's round is currentRound, per spec.md §4.7
// ("Postponed buckets are replayed whenever currentRound reaches their
// key"). Buckets for rounds the node skipped past (currentRound jumped
// by more than one) are replayed too, since they can never become
// current again otherwise.
func (d *Dispatcher) Advance(currentRound uint64, deliver func(Envelope)) {
	d.mu.Lock()
	var ready []Envelope
	for round, envs := range d.postponed {
		if round > currentRound {
			continue
		}
		ready = append(ready, envs...)
		delete(d.postponed, round)
	}
	d.mu.Unlock()

	for _, env := range ready {
		deliver(env)
	}
}

// PendingCount reports how many envelopes are currently postponed,
// for diagnostics.
func (d *Dispatcher) PendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, envs := range d.postponed {
		n += len(envs)
	}
	return n
}
