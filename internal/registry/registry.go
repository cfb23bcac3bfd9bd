// Package registry tracks agent identity, role, lifecycle status and
// hierarchy position for one swarm session.
//
// Agents live in a flat table keyed by id; parent and children are id
// references. The registry is the only writer of agent records.
package registry

import (
	"fmt"
	"iter"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aixgo-dev/swarm/agent"
	"github.com/aixgo-dev/swarm/internal/clock"
	"github.com/aixgo-dev/swarm/pkg/config"
	"github.com/aixgo-dev/swarm/pkg/observability"
	"github.com/aixgo-dev/swarm/pkg/swarmerr"
)

// Observer is notified of mailbox-relevant lifecycle events. Callbacks run
// while the registry lock is held, so they must not call back into the
// registry.
type Observer interface {
	AgentSpawned(id agent.ID)
	AgentClosed(id agent.ID)
}

type record struct {
	summary agent.Summary
}

// Registry owns every agent record of a session.
type Registry struct {
	mu        sync.RWMutex
	cfg       *config.Config
	clock     clock.Clock
	logger    zerolog.Logger
	agents    map[agent.ID]*record
	order     []agent.ID
	observers []Observer
	newID     func() agent.ID
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(r *Registry) { r.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithIDGenerator overrides uuid id assignment.
func WithIDGenerator(fn func() agent.ID) Option {
	return func(r *Registry) { r.newID = fn }
}

// New creates an empty registry for the given role configuration.
func New(cfg *config.Config, opts ...Option) *Registry {
	r := &Registry{
		cfg:    cfg,
		clock:  clock.Real(),
		logger: zerolog.Nop(),
		agents: make(map[agent.ID]*record),
		newID:  func() agent.ID { return agent.ID(uuid.New().String()) },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Observe registers o for spawn and close notifications.
func (r *Registry) Observe(o Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, o)
}

func (r *Registry) now() time.Time {
	return r.clock.Now().UTC().Round(0)
}

// Spawn creates an agent in Spawned status under parent.
//
// Passing agent.NoParent spawns the root; only one live root may exist.
// An empty role selects the configured root role for the root and the
// default spawn role for children. Empty instructions fall back to the
// role's base instructions.
func (r *Registry) Spawn(parent agent.ID, role, instructions string) (agent.ID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if strings.TrimSpace(role) == "" {
		if parent == agent.NoParent {
			role = r.cfg.RootRoleName()
		} else {
			role = r.cfg.DefaultSpawnRoleName()
		}
	}
	roleCfg, ok := r.cfg.Role(role)
	if !ok {
		observability.RecordSpawn(role, "unknown_role")
		return "", fmt.Errorf("%w: %q", swarmerr.ErrUnknownRole, role)
	}

	var p *record
	if parent == agent.NoParent {
		if root, ok := r.liveRootLocked(); ok {
			observability.RecordSpawn(roleCfg.Name, "root_exists")
			return "", fmt.Errorf("%w: %s", swarmerr.ErrRootExists, root)
		}
	} else {
		p = r.agents[parent]
		if p == nil || p.summary.Status.Terminal() {
			observability.RecordSpawn(roleCfg.Name, "unknown_parent")
			return "", fmt.Errorf("%w: %s", swarmerr.ErrUnknownParent, parent)
		}
		parentRole, _ := r.cfg.Role(p.summary.Role)
		if r.liveChildrenLocked(p) >= parentRole.SpawnLimit {
			observability.RecordSpawn(roleCfg.Name, "limit")
			return "", &swarmerr.SpawnLimitError{
				Parent: string(parent),
				Role:   p.summary.Role,
				Limit:  parentRole.SpawnLimit,
			}
		}
	}

	if strings.TrimSpace(instructions) == "" {
		instructions = roleCfg.Instructions
	}
	id := r.newID()
	now := r.now()
	rec := &record{
		summary: agent.Summary{
			ID:           id,
			Role:         roleCfg.Name,
			Model:        roleCfg.Model,
			Tier:         roleCfg.TierValue(),
			Instructions: instructions,
			Status:       agent.StatusSpawned,
			Parent:       parent,
			CreatedAt:    now,
			LastActivity: now,
		},
	}
	r.agents[id] = rec
	r.order = append(r.order, id)
	if p != nil {
		p.summary.Children = append(p.summary.Children, id)
		p.summary.LastActivity = now
	}

	for _, o := range r.observers {
		o.AgentSpawned(id)
	}
	observability.RecordSpawn(roleCfg.Name, "ok")
	observability.RecordAgentStatusChange("", string(agent.StatusSpawned))
	r.logger.Debug().
		Str("agent", string(id)).
		Str("parent", string(parent)).
		Str("role", roleCfg.Name).
		Int("tier", roleCfg.TierValue()).
		Msg("agent spawned")
	return id, nil
}

func (r *Registry) liveRootLocked() (agent.ID, bool) {
	for _, id := range r.order {
		rec := r.agents[id]
		if rec.summary.IsRoot() && rec.summary.Live() {
			return id, true
		}
	}
	return "", false
}

func (r *Registry) liveChildrenLocked(p *record) int {
	n := 0
	for _, c := range p.summary.Children {
		if child := r.agents[c]; child != nil && child.summary.Live() {
			n++
		}
	}
	return n
}

// Transition moves an agent to status. Setting the current status is a
// no-op. Moving to Closed or Failed cascades to live descendants like Close.
func (r *Registry) Transition(id agent.ID, status agent.Status) error {
	if !status.Valid() {
		return swarmerr.Invalid("unknown status %q", status)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec := r.agents[id]
	if rec == nil {
		return fmt.Errorf("%w: %s", swarmerr.ErrUnknownAgent, id)
	}
	from := rec.summary.Status
	if from == status {
		return nil
	}
	if from.Terminal() || !agent.CanTransition(from, status) {
		return &swarmerr.TransitionError{Agent: string(id), From: string(from), To: string(status)}
	}

	if status.Terminal() {
		r.closeLocked(rec, agent.CloseReason{Failed: status == agent.StatusFailed, Message: "transition"})
		return nil
	}
	r.setStatusLocked(rec, status)
	return nil
}

// Close terminates an agent and all of its live descendants, children
// first, and evicts their mailboxes. Closing a terminal agent is a no-op.
func (r *Registry) Close(id agent.ID, reason agent.CloseReason) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := r.agents[id]
	if rec == nil {
		return fmt.Errorf("%w: %s", swarmerr.ErrUnknownAgent, id)
	}
	if rec.summary.Status.Terminal() {
		return nil
	}
	r.closeLocked(rec, reason)
	return nil
}

func (r *Registry) closeLocked(rec *record, reason agent.CloseReason) {
	for _, c := range rec.summary.Children {
		child := r.agents[c]
		if child == nil || child.summary.Status.Terminal() {
			continue
		}
		r.closeLocked(child, agent.CloseReason{Message: "parent closed"})
	}

	r.setStatusLocked(rec, reason.Status())
	rec.summary.CloseReason = reason.Message
	for _, o := range r.observers {
		o.AgentClosed(rec.summary.ID)
	}
	r.logger.Debug().
		Str("agent", string(rec.summary.ID)).
		Str("status", string(rec.summary.Status)).
		Str("reason", reason.Message).
		Msg("agent closed")
}

func (r *Registry) setStatusLocked(rec *record, status agent.Status) {
	observability.RecordAgentStatusChange(string(rec.summary.Status), string(status))
	rec.summary.Status = status
	rec.summary.LastActivity = r.now()
}

// Get returns the summary of any known agent, terminal or not.
func (r *Registry) Get(id agent.ID) (agent.Summary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec := r.agents[id]
	if rec == nil {
		return agent.Summary{}, fmt.Errorf("%w: %s", swarmerr.ErrUnknownAgent, id)
	}
	return cloneSummary(rec.summary), nil
}

// Resolve returns the summary of a live agent. Absent and terminal agents
// both fail with ErrUnknownAgent.
func (r *Registry) Resolve(id agent.ID) (agent.Summary, error) {
	s, err := r.Get(id)
	if err != nil {
		return agent.Summary{}, err
	}
	if !s.Live() {
		return agent.Summary{}, fmt.Errorf("%w: %s is %s", swarmerr.ErrUnknownAgent, id, s.Status)
	}
	return s, nil
}

// Touch refreshes a live agent's last-activity timestamp.
func (r *Registry) Touch(id agent.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec := r.agents[id]; rec != nil && rec.summary.Live() {
		rec.summary.LastActivity = r.now()
	}
}

// Root returns the live root agent, if any.
func (r *Registry) Root() (agent.ID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.liveRootLocked()
}

// Len returns the number of agents ever spawned in the session.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// List yields agent summaries in creation order. The sequence is lazy and
// restartable: each iteration observes the registry as of its first step.
func (r *Registry) List(filter agent.Filter) iter.Seq[agent.Summary] {
	return func(yield func(agent.Summary) bool) {
		r.mu.RLock()
		matched := make([]agent.Summary, 0, len(r.order))
		for _, id := range r.order {
			rec := r.agents[id]
			if r.matchLocked(rec, filter) {
				matched = append(matched, cloneSummary(rec.summary))
			}
		}
		r.mu.RUnlock()

		for _, s := range matched {
			if !yield(s) {
				return
			}
		}
	}
}

func (r *Registry) matchLocked(rec *record, f agent.Filter) bool {
	if f.Role != "" && !strings.EqualFold(rec.summary.Role, strings.TrimSpace(f.Role)) {
		return false
	}
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, rec.summary.Status) {
		return false
	}
	if f.Ancestor != "" && !r.descendsLocked(rec, f.Ancestor) {
		return false
	}
	return true
}

func (r *Registry) descendsLocked(rec *record, ancestor agent.ID) bool {
	for p := rec.summary.Parent; p != agent.NoParent; {
		if p == ancestor {
			return true
		}
		parent := r.agents[p]
		if parent == nil {
			return false
		}
		p = parent.summary.Parent
	}
	return false
}

// Capture holds the registry lock while fn inspects a copy of every agent
// in creation order. Used to take consistent multi-resource snapshots.
func (r *Registry) Capture(fn func(agents []agent.Summary) error) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agents := make([]agent.Summary, 0, len(r.order))
	for _, id := range r.order {
		agents = append(agents, cloneSummary(r.agents[id].summary))
	}
	return fn(agents)
}

// Load replaces the registry content with agents, which must be in
// creation order. Observers are notified for every live agent.
func (r *Registry) Load(agents []agent.Summary) error {
	table := make(map[agent.ID]*record, len(agents))
	order := make([]agent.ID, 0, len(agents))
	for i, s := range agents {
		if s.ID == "" {
			return swarmerr.Invalid("agent %d has no id", i)
		}
		if _, dup := table[s.ID]; dup {
			return swarmerr.Invalid("duplicate agent %s", s.ID)
		}
		if !s.Status.Valid() {
			return swarmerr.Invalid("agent %s has unknown status %q", s.ID, s.Status)
		}
		if s.Parent != agent.NoParent {
			if _, ok := table[s.Parent]; !ok {
				return swarmerr.Invalid("agent %s references unknown parent %s", s.ID, s.Parent)
			}
		}
		table[s.ID] = &record{summary: cloneSummary(s)}
		order = append(order, s.ID)
	}
	for _, rec := range table {
		for _, c := range rec.summary.Children {
			if _, ok := table[c]; !ok {
				return swarmerr.Invalid("agent %s references unknown child %s", rec.summary.ID, c)
			}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents = table
	r.order = order

	observability.ResetAgentStatuses()
	for _, id := range order {
		rec := table[id]
		observability.RecordAgentStatusChange("", string(rec.summary.Status))
		if rec.summary.Live() {
			for _, o := range r.observers {
				o.AgentSpawned(id)
			}
		}
	}
	return nil
}

func cloneSummary(s agent.Summary) agent.Summary {
	s.Children = slices.Clone(s.Children)
	return s
}
