// Package node wires C1-C7 into the single-threaded processor loop
// spec.md §5 describes: one goroutine (the "processor thread") drains
// an inbox of closures and calls into the Round Controller, Pool
// Synchronizer, Neighbor Registry and Stage Store serially; timer checks
// run from a ticker in that same goroutine's select loop, not from a
// separate scheduler goroutine. Grounded on the
// teacher's pkg/core/chain/chain.go Listen() select loop (one goroutine,
// one select, fully serialized handling) and
// pkg/p2p/peer/peermgr/peer.go's StartProtocol/ReadLoop/WriteLoop split
// between an I/O goroutine and a single serialized protocol goroutine.
package node

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/cleancoindev2/csnode/pkg/consensus/dispatch"
	"github.com/cleancoindev2/csnode/pkg/consensus/round"
	"github.com/cleancoindev2/csnode/pkg/consensus/sync"
	"github.com/cleancoindev2/csnode/pkg/identity"
	"github.com/cleancoindev2/csnode/pkg/net/neighbors"
	"github.com/cleancoindev2/csnode/pkg/wire/message"
)

// Chain is the read-only sliver of the §6 chain capability the
// scheduler needs to announce this node's tip in its Ping sweep.
type Chain interface {
	LastSequence() uint64
}

// Transport is the outbound half of the §6 transport contract, shared
// by C2, C5 and C6; node wiring needs only the addressed send used to
// answer another peer's BlockRequest from the cache.
type Transport interface {
	SendTo(peer identity.ID, body message.Body)
}

// Config bundles the processor's own tunables (distinct from the
// Round Controller's and Pool Synchronizer's own Config types, which
// it also receives at construction).
type Config struct {
	// TickInterval is the scheduler's poll period, spec.md §5's "50 ms
	// poll for timer inspection".
	TickInterval time.Duration
}

// DefaultConfig returns spec.md §5's 50ms poll interval.
func DefaultConfig() Config {
	return Config{TickInterval: 50 * time.Millisecond}
}

// Processor is the single-threaded dispatcher. All of Controller,
// Synchronizer, Registry, and Dispatcher are only ever touched from
// the goroutine running Run, preserving spec.md §5's non-reentrancy
// guarantee without any locking of its own.
type Processor struct {
	cfg Config

	controller *round.Controller
	syncer     *sync.Synchronizer
	registry   *neighbors.Registry
	dispatcher *dispatch.Dispatcher
	transport  Transport
	chain      Chain

	inbox chan func()
}

// New builds a Processor. inboxCapacity is the inbox channel's buffer
// (spec.md §5's "inbox queue: guarded by mutex; single producer
// (transport), single consumer (processor)" — a buffered channel gives
// the same guarantee without a separate mutex+condvar).
func New(controller *round.Controller, syncer *sync.Synchronizer, registry *neighbors.Registry, dispatcher *dispatch.Dispatcher, transport Transport, chain Chain, cfg Config, inboxCapacity int) *Processor {
	if inboxCapacity <= 0 {
		inboxCapacity = 256
	}
	return &Processor{
		cfg:        cfg,
		controller: controller,
		syncer:     syncer,
		registry:   registry,
		dispatcher: dispatcher,
		transport:  transport,
		chain:      chain,
		inbox:      make(chan func(), inboxCapacity),
	}
}

// Run drains the inbox until ctx is cancelled. This is the single
// "processor thread" of spec.md §5.
func (p *Processor) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-p.inbox:
			fn()
		case now := <-ticker.C:
			p.onTick(now)
		}
	}
}

// onTick is the scheduler's callback, itself running on the processor
// goroutine (it's only ever invoked from Run's own select, never from
// a separate thread) — every timer-driven check it performs is
// therefore already serialized against inbound-message handling with
// no extra posting required.
func (p *Processor) onTick(now time.Time) {
	p.controller.CheckStageRequestDelay(now)
	p.controller.CheckTimeout(now)
	p.registry.Sweep(p.chain.LastSequence())
	if p.syncer.Active() {
		p.syncer.ProcessRound(p.controller.Round())
	}
	p.dispatcher.Advance(p.controller.Round(), p.deliver)
}

// Deliver is the transport's entry point: called from the I/O
// goroutine for every decoded message, it posts the actual handling
// onto the processor's inbox rather than touching any component
// directly (spec.md §5's thread split).
func (p *Processor) Deliver(sender identity.ID, env *message.Envelope) {
	p.inbox <- func() {
		p.dispatcher.Dispatch(p.controller.Round(), dispatch.Envelope{
			Topic:       env.Body.Topic(),
			SenderRound: env.Round,
			Sender:      sender,
			Body:        env.Body,
		}, p.deliver)
	}
}

// deliver routes one classified envelope to its owning component by
// message type, translating sender identity to confidant index for
// the Stage-N handlers (spec.md §4.1's tagged union).
func (p *Processor) deliver(env dispatch.Envelope) {
	switch body := env.Body.(type) {
	case *message.Stage1:
		p.controller.HandleStage1(p.trustedIndex(env.Sender), body)
	case *message.Stage2:
		p.controller.HandleStage2(p.trustedIndex(env.Sender), body)
	case *message.Stage3:
		p.controller.HandleStage3(p.trustedIndex(env.Sender), body)
	case *message.StageRequest:
		p.controller.HandleStageRequest(body.Topic(), body)
	case *message.BlockHash:
		p.controller.HandleBlockHash(env.Sender, body)
	case *message.HashReply:
		p.controller.HandleHashReply(body)
	case *message.RoundTable:
		if body.Table.Round < p.controller.Round() {
			log.WithFields(log.Fields{"process": "node", "round": body.Table.Round}).Debugln("dropping round table for a past round")
			break
		}
		p.controller.StartRound(body.Table)
		p.syncer.ProcessRound(body.Table.Round)
	case *message.BlockRequest:
		if reply := p.syncer.ServeBlockRequest(body); reply != nil {
			p.transport.SendTo(env.Sender, reply)
		}
	case *message.BlockReply:
		p.syncer.HandleBlockReply(env.Sender, body)
	case *message.Registration:
		p.registry.OnRegistrationRequest(env.Sender, body)
	case *message.Ping:
		p.registry.OnPing(env.Sender, body)
	case *message.BigBang:
		log.WithFields(log.Fields{"process": "node", "round": body.StartingRound}).Warnln("received BigBang, awaiting next RoundTable")
	default:
		log.WithFields(log.Fields{"process": "node", "topic": env.Topic.String()}).Debugln("no handler for topic")
	}
}

// trustedIndex resolves peer to its Stage-N sender index, or -1 if it
// is not a confidant in the current round table. Handlers that require
// a valid index reject negative ones on their own (verifyStage fails
// an out-of-range index).
func (p *Processor) trustedIndex(peer identity.ID) int {
	return p.controller.TrustedIndexOf(peer)
}

// OnDiscovered forwards a newly seen peer to the Neighbor Registry,
// run on the processor goroutine like every other state mutation.
func (p *Processor) OnDiscovered(peer identity.ID) {
	p.inbox <- func() {
		p.registry.OnDiscovered(peer, p.chain.LastSequence(), p.controller.Round())
	}
}
