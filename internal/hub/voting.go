package hub

import (
	"iter"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/aixgo-dev/swarm/agent"
	"github.com/aixgo-dev/swarm/internal/clock"
	"github.com/aixgo-dev/swarm/pkg/config"
	"github.com/aixgo-dev/swarm/pkg/swarmerr"
)

// Ballot is one agent's vote on a proposal.
type Ballot struct {
	Choice string    `json:"choice"`
	Weight int       `json:"weight"`
	Tier   int       `json:"tier"`
	Role   string    `json:"role"`
	CastAt time.Time `json:"cast_at"`
}

// Proposal is a question put to a vote.
type Proposal struct {
	Topic string `json:"topic"`
	// Options restricts valid choices; empty accepts any choice.
	Options []string            `json:"options,omitempty"`
	Ballots map[agent.ID]Ballot `json:"ballots,omitempty"`
}

// Clone implements Record.
func (p Proposal) Clone() Proposal {
	p.Options = slices.Clone(p.Options)
	p.Ballots = maps.Clone(p.Ballots)
	return p
}

// Outcome is the result of a weighted tally. Consensus is false when no
// choice has a strictly greater total than every other, including when
// no ballots were cast.
type Outcome struct {
	Proposal  string         `json:"proposal"`
	Consensus bool           `json:"consensus"`
	Winner    string         `json:"winner,omitempty"`
	Totals    map[string]int `json:"totals"`
	Voters    int            `json:"voters"`
}

// NoConsensus is the Outcome label used when the tally has no winner.
const NoConsensus = "no_consensus"

// Result returns the winning choice or NoConsensus.
func (o Outcome) Result() string {
	if !o.Consensus {
		return NoConsensus
	}
	return o.Winner
}

// VotingStore holds proposals and their ballots.
type VotingStore struct {
	store   *Store[Proposal]
	weights config.Voting
}

func newVotingStore(halt *Switch, c clock.Clock, weights config.Voting) *VotingStore {
	return &VotingStore{
		store:   NewStore[Proposal](Policy{Name: StoreVoting, Mutable: true}, halt, c),
		weights: weights,
	}
}

// Propose opens a proposal. Options are trimmed and deduplicated.
func (s *VotingStore) Propose(author agent.ID, topic string, options []string) (Entry[Proposal], error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return Entry[Proposal]{}, swarmerr.Invalid("proposal topic is required")
	}
	var opts []string
	for _, o := range options {
		o = strings.TrimSpace(o)
		if o != "" && !slices.Contains(opts, o) {
			opts = append(opts, o)
		}
	}
	if len(options) > 0 && len(opts) < 2 {
		return Entry[Proposal]{}, swarmerr.Invalid("a proposal with options needs at least two distinct options")
	}
	return s.store.Append(author, Proposal{Topic: topic, Options: opts})
}

// Cast records voter's choice, replacing any earlier ballot by the same
// voter. The ballot weight comes from the voter's tier.
func (s *VotingStore) Cast(proposalID string, voter agent.Summary, choice string) (Entry[Proposal], error) {
	choice = strings.TrimSpace(choice)
	if choice == "" {
		return Entry[Proposal]{}, swarmerr.Invalid("vote choice is required")
	}

	var out Entry[Proposal]
	err := s.store.Update(func(tx *Txn[Proposal]) error {
		var err error
		out, err = tx.Mutate(proposalID, func(_ Entry[Proposal], p *Proposal) error {
			if len(p.Options) > 0 {
				i := slices.IndexFunc(p.Options, func(o string) bool { return strings.EqualFold(o, choice) })
				if i < 0 {
					return swarmerr.Invalid("choice %q is not one of %v", choice, p.Options)
				}
				choice = p.Options[i]
			}
			if p.Ballots == nil {
				p.Ballots = make(map[agent.ID]Ballot)
			}
			p.Ballots[voter.ID] = Ballot{
				Choice: choice,
				Weight: s.weights.Weight(voter.Tier),
				Tier:   voter.Tier,
				Role:   voter.Role,
				CastAt: tx.Now(),
			}
			return nil
		})
		return err
	})
	return out, err
}

// Tally sums ballot weights per choice.
func (s *VotingStore) Tally(proposalID string) (Outcome, error) {
	e, err := s.store.Get(proposalID)
	if err != nil {
		return Outcome{}, err
	}
	return tally(proposalID, e.Record), nil
}

func tally(id string, p Proposal) Outcome {
	out := Outcome{Proposal: id, Totals: make(map[string]int), Voters: len(p.Ballots)}
	for _, o := range p.Options {
		out.Totals[o] = 0
	}
	for _, b := range p.Ballots {
		out.Totals[b.Choice] += b.Weight
	}

	best, leaders := 0, 0
	for choice, total := range out.Totals {
		switch {
		case total > best:
			best, leaders = total, 1
			out.Winner = choice
		case total == best:
			leaders++
		}
	}
	if best == 0 || leaders != 1 {
		out.Winner = ""
		return out
	}
	out.Consensus = true
	return out
}

// Get returns one proposal.
func (s *VotingStore) Get(id string) (Entry[Proposal], error) { return s.store.Get(id) }

// List yields proposals.
func (s *VotingStore) List(opts ListOptions) iter.Seq[Entry[Proposal]] {
	return s.store.List(opts, nil)
}
