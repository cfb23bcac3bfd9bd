package hub

import (
	"fmt"
	"iter"
	"slices"
	"strings"

	"github.com/aixgo-dev/swarm/agent"
	"github.com/aixgo-dev/swarm/internal/clock"
	"github.com/aixgo-dev/swarm/pkg/swarmerr"
)

// Level grades risk severity and likelihood.
type Level string

const (
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

var levels = []Level{LevelLow, LevelMedium, LevelHigh, LevelCritical}

// ParseLevel parses a level name case-insensitively.
func ParseLevel(s string) (Level, error) {
	l := Level(strings.ToLower(strings.TrimSpace(s)))
	if !slices.Contains(levels, l) {
		return "", swarmerr.Invalid("unknown level %q (want low, medium, high or critical)", s)
	}
	return l, nil
}

// Rank orders levels from 0 (low) upward; unknown levels rank -1.
func (l Level) Rank() int { return slices.Index(levels, l) }

// Risk is an entry in the risk register.
type Risk struct {
	Description string   `json:"description"`
	Severity    Level    `json:"severity"`
	Likelihood  Level    `json:"likelihood"`
	Owner       agent.ID `json:"owner"`
	Mitigation  string   `json:"mitigation,omitempty"`
}

// Clone implements Record.
func (r Risk) Clone() Risk { return r }

// RiskPatch carries the fields an owner may change. Empty fields are kept.
type RiskPatch struct {
	Severity   Level
	Likelihood Level
	Mitigation string
}

// RiskRegister tracks risks. Only a risk's owner may update it.
type RiskRegister struct {
	store *Store[Risk]
}

func newRiskRegister(halt *Switch, c clock.Clock) *RiskRegister {
	return &RiskRegister{store: NewStore[Risk](Policy{Name: StoreRiskRegister, Mutable: true}, halt, c)}
}

// Append registers a risk. The owner defaults to the author.
func (g *RiskRegister) Append(author agent.ID, r Risk) (Entry[Risk], error) {
	r.Description = strings.TrimSpace(r.Description)
	r.Mitigation = strings.TrimSpace(r.Mitigation)
	if r.Description == "" {
		return Entry[Risk]{}, swarmerr.Invalid("risk description is required")
	}
	var err error
	if r.Severity, err = ParseLevel(string(r.Severity)); err != nil {
		return Entry[Risk]{}, err
	}
	if r.Likelihood, err = ParseLevel(string(r.Likelihood)); err != nil {
		return Entry[Risk]{}, err
	}
	if r.Owner == "" {
		r.Owner = author
	}
	return g.store.Append(author, r)
}

// Update applies patch on behalf of caller, who must own the risk.
func (g *RiskRegister) Update(caller agent.ID, id string, patch RiskPatch) (Entry[Risk], error) {
	var err error
	if patch.Severity != "" {
		if patch.Severity, err = ParseLevel(string(patch.Severity)); err != nil {
			return Entry[Risk]{}, err
		}
	}
	if patch.Likelihood != "" {
		if patch.Likelihood, err = ParseLevel(string(patch.Likelihood)); err != nil {
			return Entry[Risk]{}, err
		}
	}
	return g.store.Mutate(id, func(_ Entry[Risk], r *Risk) error {
		if r.Owner != caller {
			return fmt.Errorf("%w: risk %s is owned by %s", swarmerr.ErrPermissionDenied, id, r.Owner)
		}
		if patch.Severity != "" {
			r.Severity = patch.Severity
		}
		if patch.Likelihood != "" {
			r.Likelihood = patch.Likelihood
		}
		if m := strings.TrimSpace(patch.Mitigation); m != "" {
			r.Mitigation = m
		}
		return nil
	})
}

// Get returns one risk.
func (g *RiskRegister) Get(id string) (Entry[Risk], error) { return g.store.Get(id) }

// List yields risks at or above minSeverity (all when empty).
func (g *RiskRegister) List(opts ListOptions, minSeverity Level) iter.Seq[Entry[Risk]] {
	return g.store.List(opts, func(e Entry[Risk]) bool {
		return minSeverity == "" || e.Record.Severity.Rank() >= minSeverity.Rank()
	})
}
