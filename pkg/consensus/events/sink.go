// Package events provides the production EventSink the Round
// Controller (C5) and Pool Synchronizer (C6) report into: every
// EventReport is logged locally and, per SPEC_FULL.md §D ("EventReport
// as a first-class emitted event"), re-broadcast on the wire so other
// confidants observe the same fault. Grounded on the teacher's
// pkg/util/nativeutils/eventbus logging idiom (structured logrus
// fields keyed by "process").
package events

import (
	log "github.com/sirupsen/logrus"

	"github.com/cleancoindev2/csnode/pkg/wire/message"
)

// Broadcaster is the outbound half of the §6 transport contract this
// sink needs: EventReports go to every confidant, never to one peer.
type Broadcaster interface {
	Broadcast(body message.Body)
}

// LogBroadcastSink is the default EventSink: it logs at Warn level and
// broadcasts an EventReport for every call.
type LogBroadcastSink struct {
	out Broadcaster
}

// NewLogBroadcastSink builds a sink that broadcasts through out. A nil
// out disables broadcasting and only logs, useful for a node running
// without a live transport (e.g. in tests).
func NewLogBroadcastSink(out Broadcaster) *LogBroadcastSink {
	return &LogBroadcastSink{out: out}
}

// Report implements pkg/consensus/round.EventSink and
// pkg/consensus/sync.EventSink.
func (s *LogBroadcastSink) Report(kind message.EventKind, detail string) {
	log.WithFields(log.Fields{
		"process": "events",
		"kind":    kind,
		"detail":  detail,
	}).Warnln("event reported")

	if s.out != nil {
		s.out.Broadcast(&message.EventReport{Kind: kind, Detail: detail})
	}
}
