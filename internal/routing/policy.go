package routing

import (
	"github.com/aixgo-dev/swarm/agent"
	"github.com/aixgo-dev/swarm/pkg/config"
	"github.com/aixgo-dev/swarm/pkg/swarmerr"
)

// Relation classifies a sender/recipient tier pair.
type Relation int

const (
	Downward Relation = iota
	SameTier
	Upward
)

func (r Relation) String() string {
	switch r {
	case Downward:
		return "downward"
	case SameTier:
		return "same_tier"
	case Upward:
		return "upward"
	}
	return "unknown"
}

// Relate classifies a send from tier tf to tier tt.
func Relate(tf, tt int) Relation {
	switch {
	case tf > tt:
		return Downward
	case tf == tt:
		return SameTier
	default:
		return Upward
	}
}

// Policy decides which tier relations may carry a message.
type Policy struct {
	AllowUpward   bool
	AllowSameTier bool
}

// PolicyFrom builds a policy from the hierarchy flags.
func PolicyFrom(h config.Hierarchy) Policy {
	return Policy{AllowUpward: h.AllowUpwardCalls, AllowSameTier: h.AllowSameTierCalls}
}

// Allows reports whether a sender at tier tf may message tier tt.
func (p Policy) Allows(tf, tt int) bool {
	switch Relate(tf, tt) {
	case Downward:
		return true
	case SameTier:
		return p.AllowSameTier
	default:
		return p.AllowUpward
	}
}

// Check authorizes a send between two resolved agents. Self-sends skip
// the hierarchy check.
func (p Policy) Check(from, to agent.Summary) error {
	if from.ID == to.ID || p.Allows(from.Tier, to.Tier) {
		return nil
	}
	return &swarmerr.RoutingError{
		From:     string(from.ID),
		To:       string(to.ID),
		FromTier: from.Tier,
		ToTier:   to.Tier,
	}
}
