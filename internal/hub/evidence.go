package hub

import (
	"iter"
	"math"
	"strings"

	"github.com/aixgo-dev/swarm/agent"
	"github.com/aixgo-dev/swarm/internal/clock"
	"github.com/aixgo-dev/swarm/pkg/swarmerr"
)

// Evidence is a sourced finding with a confidence in [0,1].
type Evidence struct {
	Finding    string  `json:"finding"`
	Source     string  `json:"source,omitempty"`
	Confidence float64 `json:"confidence"`
}

// Clone implements Record.
func (e Evidence) Clone() Evidence { return e }

// EvidenceLedger is an append-only record of findings.
type EvidenceLedger struct {
	store *Store[Evidence]
}

func newEvidenceLedger(halt *Switch, c clock.Clock) *EvidenceLedger {
	return &EvidenceLedger{store: NewStore[Evidence](Policy{Name: StoreEvidenceLedger}, halt, c)}
}

// Append records a finding.
func (l *EvidenceLedger) Append(author agent.ID, ev Evidence) (Entry[Evidence], error) {
	ev.Finding = strings.TrimSpace(ev.Finding)
	ev.Source = strings.TrimSpace(ev.Source)
	if ev.Finding == "" {
		return Entry[Evidence]{}, swarmerr.Invalid("evidence finding is required")
	}
	if math.IsNaN(ev.Confidence) || ev.Confidence < 0 || ev.Confidence > 1 {
		return Entry[Evidence]{}, swarmerr.Invalid("confidence %v is outside [0,1]", ev.Confidence)
	}
	return l.store.Append(author, ev)
}

// Get returns one finding.
func (l *EvidenceLedger) Get(id string) (Entry[Evidence], error) { return l.store.Get(id) }

// List yields findings with at least minConfidence.
func (l *EvidenceLedger) List(opts ListOptions, minConfidence float64) iter.Seq[Entry[Evidence]] {
	return l.store.List(opts, func(e Entry[Evidence]) bool {
		return e.Record.Confidence >= minConfidence
	})
}
