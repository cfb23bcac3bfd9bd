package hub

import (
	"fmt"
	"iter"
	"strings"

	"github.com/aixgo-dev/swarm/agent"
	"github.com/aixgo-dev/swarm/internal/clock"
	"github.com/aixgo-dev/swarm/pkg/swarmerr"
)

// Decision is an immutable rationale snapshot.
type Decision struct {
	// DecisionID is an optional caller-chosen key, unique within the log.
	DecisionID string `json:"decision_id,omitempty"`
	Summary   string `json:"summary"`
	Rationale string `json:"rationale,omitempty"`
}

// Clone implements Record.
func (d Decision) Clone() Decision { return d }

// DecisionLog is the append-only log of decisions.
type DecisionLog struct {
	store *Store[Decision]
}

func newDecisionLog(halt *Switch, c clock.Clock) *DecisionLog {
	return &DecisionLog{store: NewStore[Decision](Policy{Name: StoreDecisionLog}, halt, c)}
}

// Append records a decision. A DecisionID already present in the log fails
// with ErrDuplicateRecord.
func (l *DecisionLog) Append(author agent.ID, d Decision) (Entry[Decision], error) {
	d.DecisionID = strings.TrimSpace(d.DecisionID)
	d.Summary = strings.TrimSpace(d.Summary)
	d.Rationale = strings.TrimSpace(d.Rationale)
	if d.Summary == "" {
		return Entry[Decision]{}, swarmerr.Invalid("decision summary is required")
	}

	var out Entry[Decision]
	err := l.store.Update(func(tx *Txn[Decision]) error {
		if d.DecisionID != "" {
			for e := range tx.All() {
				if e.Record.DecisionID == d.DecisionID {
					return fmt.Errorf("%w: decision %q", swarmerr.ErrDuplicateRecord, d.DecisionID)
				}
			}
		}
		out = tx.Append(author, d)
		return nil
	})
	return out, err
}

// Get returns one decision by record id.
func (l *DecisionLog) Get(id string) (Entry[Decision], error) { return l.store.Get(id) }

// Lookup returns the decision recorded under a caller-chosen DecisionID.
func (l *DecisionLog) Lookup(decisionID string) (Entry[Decision], error) {
	for e := range l.store.List(ListOptions{}, func(e Entry[Decision]) bool { return e.Record.DecisionID == decisionID }) {
		return e, nil
	}
	return Entry[Decision]{}, swarmerr.NotFound(StoreDecisionLog, decisionID)
}

// List yields decisions.
func (l *DecisionLog) List(opts ListOptions) iter.Seq[Entry[Decision]] {
	return l.store.List(opts, nil)
}
