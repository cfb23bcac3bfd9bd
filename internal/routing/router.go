// Package routing delivers messages between agents under the tier
// hierarchy policy. Every live agent owns one mailbox; each mailbox is
// locked independently so sends to different recipients never contend.
package routing

import (
	"fmt"
	"iter"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aixgo-dev/swarm/agent"
	"github.com/aixgo-dev/swarm/internal/clock"
	"github.com/aixgo-dev/swarm/pkg/observability"
	"github.com/aixgo-dev/swarm/pkg/security"
	"github.com/aixgo-dev/swarm/pkg/swarmerr"
)

// Directory resolves agents for the router. It is satisfied by
// *registry.Registry.
type Directory interface {
	Resolve(id agent.ID) (agent.Summary, error)
	Touch(id agent.ID)
	List(filter agent.Filter) iter.Seq[agent.Summary]
}

// MailboxState is the persisted form of one mailbox.
type MailboxState struct {
	Agent    agent.ID        `json:"agent"`
	LastSeq  uint64          `json:"last_seq"`
	Messages []agent.Message `json:"messages,omitempty"`
}

type mailbox struct {
	mu      sync.Mutex
	lastSeq uint64
	queue   []agent.Message
	closed  bool
}

// Router owns every mailbox of a session.
type Router struct {
	dir      Directory
	policy   Policy
	capacity int
	limiter  *security.RateLimiter
	clock    clock.Clock
	logger   zerolog.Logger
	audit    security.AuditLogger

	mu    sync.RWMutex
	boxes map[agent.ID]*mailbox
}

// Option configures a Router.
type Option func(*Router)

// WithCapacity bounds each mailbox; sends beyond it fail with ErrMailboxFull.
func WithCapacity(n int) Option {
	return func(r *Router) { r.capacity = n }
}

// WithRateLimit throttles each sender to perSecond messages with burst.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(r *Router) {
		if perSecond > 0 {
			r.limiter = security.NewRateLimiter(perSecond, burst, 0)
		}
	}
}

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(r *Router) { r.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// WithAuditLogger records denied sends.
func WithAuditLogger(a security.AuditLogger) Option {
	return func(r *Router) { r.audit = a }
}

// New creates a router. The caller must register it as a registry observer
// before agents are spawned so that every live agent has a mailbox.
func New(dir Directory, policy Policy, opts ...Option) *Router {
	r := &Router{
		dir:      dir,
		policy:   policy,
		capacity: 1024,
		clock:    clock.Real(),
		logger:   zerolog.Nop(),
		audit:    security.NewNoOpAuditLogger(),
		boxes:    make(map[agent.ID]*mailbox),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AgentSpawned creates the agent's mailbox.
func (r *Router) AgentSpawned(id agent.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.boxes[id]; !ok {
		r.boxes[id] = &mailbox{}
	}
}

// AgentClosed evicts the agent's mailbox and discards pending messages.
// Sends racing the eviction fail with ErrUnknownAgent.
func (r *Router) AgentClosed(id agent.ID) {
	r.mu.Lock()
	box := r.boxes[id]
	delete(r.boxes, id)
	r.mu.Unlock()

	if box == nil {
		return
	}
	box.mu.Lock()
	dropped := len(box.queue)
	box.closed = true
	box.queue = nil
	box.mu.Unlock()

	if r.limiter != nil {
		r.limiter.Forget(string(id))
	}
	if dropped > 0 {
		observability.AddMailboxPending(-dropped)
		r.logger.Debug().Str("agent", string(id)).Int("dropped", dropped).Msg("mailbox evicted")
	}
}

func (r *Router) box(id agent.ID) (*mailbox, error) {
	r.mu.RLock()
	box := r.boxes[id]
	r.mu.RUnlock()
	if box == nil {
		return nil, fmt.Errorf("%w: %s has no mailbox", swarmerr.ErrUnknownAgent, id)
	}
	return box, nil
}

// Send delivers msg from one agent to another and returns the delivered
// copy carrying its sequence number. Delivery is at-most-once; the router
// never retries.
func (r *Router) Send(from, to agent.ID, msg agent.Message) (agent.Message, error) {
	sender, err := r.dir.Resolve(from)
	if err != nil {
		observability.RecordMessage("unknown_agent")
		return agent.Message{}, err
	}
	recipient, err := r.dir.Resolve(to)
	if err != nil {
		observability.RecordMessage("unknown_agent")
		return agent.Message{}, err
	}
	if err := r.policy.Check(sender, recipient); err != nil {
		observability.RecordMessage("denied")
		r.audit.Log(security.NewAuditEvent(security.EventRoutingDenied, string(from), "router", "send", err).
			WithTarget(string(to)).
			WithMetadata("relation", Relate(sender.Tier, recipient.Tier).String()))
		return agent.Message{}, err
	}
	if r.limiter != nil && !r.limiter.Allow(string(from)) {
		observability.RecordMessage("rate_limited")
		return agent.Message{}, fmt.Errorf("%w: %s", swarmerr.ErrRateLimited, from)
	}

	delivered, err := r.deliver(from, to, msg)
	if err != nil {
		return agent.Message{}, err
	}
	r.dir.Touch(from)
	return delivered, nil
}

func (r *Router) deliver(from, to agent.ID, msg agent.Message) (agent.Message, error) {
	box, err := r.box(to)
	if err != nil {
		observability.RecordMessage("unknown_agent")
		return agent.Message{}, err
	}

	box.mu.Lock()
	defer box.mu.Unlock()

	if box.closed {
		observability.RecordMessage("unknown_agent")
		return agent.Message{}, fmt.Errorf("%w: %s closed", swarmerr.ErrUnknownAgent, to)
	}
	if len(box.queue) >= r.capacity {
		observability.RecordMessage("mailbox_full")
		return agent.Message{}, fmt.Errorf("%w: %s holds %d messages", swarmerr.ErrMailboxFull, to, len(box.queue))
	}

	box.lastSeq++
	out := *msg.Clone()
	if out.ID == "" {
		out.ID = uuid.New().String()
	}
	out.From = from
	out.To = to
	out.Seq = box.lastSeq
	out.SentAt = r.clock.Now().UTC().Round(0)
	box.queue = append(box.queue, out)

	observability.RecordMessage("delivered")
	observability.AddMailboxPending(1)
	return *out.Clone(), nil
}

// Broadcast sends msg to every live agent the policy lets from reach,
// excluding itself, and returns the delivered copies. Recipients whose
// mailbox rejects the message are skipped.
func (r *Router) Broadcast(from agent.ID, msg agent.Message) ([]agent.Message, error) {
	sender, err := r.dir.Resolve(from)
	if err != nil {
		return nil, err
	}
	if r.limiter != nil && !r.limiter.Allow(string(from)) {
		observability.RecordMessage("rate_limited")
		return nil, fmt.Errorf("%w: %s", swarmerr.ErrRateLimited, from)
	}

	var out []agent.Message
	for s := range r.dir.List(agent.Filter{}) {
		if s.ID == from || !s.Live() || !r.policy.Allows(sender.Tier, s.Tier) {
			continue
		}
		delivered, err := r.deliver(from, s.ID, msg)
		if err != nil {
			r.logger.Debug().Err(err).Str("from", string(from)).Str("to", string(s.ID)).Msg("broadcast skipped recipient")
			continue
		}
		out = append(out, delivered)
	}
	if len(out) > 0 {
		r.dir.Touch(from)
	}
	return out, nil
}

// Receive returns the messages queued for id in sequence order. The
// sequence is lazy: each yielded message is removed from the mailbox as it
// is consumed, and only messages queued before the call are yielded.
// Receive never waits for new messages.
func (r *Router) Receive(id agent.ID) (iter.Seq[agent.Message], error) {
	if _, err := r.dir.Resolve(id); err != nil {
		return nil, err
	}
	box, err := r.box(id)
	if err != nil {
		return nil, err
	}

	box.mu.Lock()
	watermark := box.lastSeq
	box.mu.Unlock()

	return func(yield func(agent.Message) bool) {
		for {
			msg, ok := box.pop(watermark)
			if !ok {
				return
			}
			observability.AddMailboxPending(-1)
			if !yield(msg) {
				return
			}
		}
	}, nil
}

// Drain consumes up to max queued messages (all when max <= 0).
func (r *Router) Drain(id agent.ID, max int) ([]agent.Message, error) {
	seq, err := r.Receive(id)
	if err != nil {
		return nil, err
	}
	var out []agent.Message
	for msg := range seq {
		out = append(out, msg)
		if max > 0 && len(out) >= max {
			break
		}
	}
	r.dir.Touch(id)
	return out, nil
}

func (b *mailbox) pop(watermark uint64) (agent.Message, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || len(b.queue) == 0 || b.queue[0].Seq > watermark {
		return agent.Message{}, false
	}
	msg := b.queue[0]
	b.queue[0] = agent.Message{}
	b.queue = b.queue[1:]
	return msg, true
}

// Pending returns the number of queued messages for id.
func (r *Router) Pending(id agent.ID) (int, error) {
	box, err := r.box(id)
	if err != nil {
		return 0, err
	}
	box.mu.Lock()
	defer box.mu.Unlock()
	return len(box.queue), nil
}

// Capture holds the router lock and every mailbox lock, in id order,
// while fn inspects a copy of all mailboxes.
func (r *Router) Capture(fn func([]MailboxState) error) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]agent.ID, 0, len(r.boxes))
	for id := range r.boxes {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	states := make([]MailboxState, 0, len(ids))
	for _, id := range ids {
		box := r.boxes[id]
		box.mu.Lock()
		defer box.mu.Unlock()
		st := MailboxState{Agent: id, LastSeq: box.lastSeq}
		for _, m := range box.queue {
			st.Messages = append(st.Messages, *m.Clone())
		}
		states = append(states, st)
	}
	return fn(states)
}

// Load restores mailbox contents. Mailboxes must already exist, so the
// registry is loaded first; states for agents without a mailbox are ignored.
func (r *Router) Load(states []MailboxState) error {
	for _, st := range states {
		var prev uint64
		for _, m := range st.Messages {
			if m.Seq <= prev || m.Seq > st.LastSeq {
				return swarmerr.Invalid("mailbox %s: message sequence %d out of order", st.Agent, m.Seq)
			}
			prev = m.Seq
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	pending := 0
	for _, st := range states {
		box := r.boxes[st.Agent]
		if box == nil {
			continue
		}
		box.mu.Lock()
		pending -= len(box.queue)
		box.lastSeq = st.LastSeq
		box.queue = make([]agent.Message, 0, len(st.Messages))
		for _, m := range st.Messages {
			box.queue = append(box.queue, *m.Clone())
		}
		pending += len(box.queue)
		box.mu.Unlock()
	}
	observability.AddMailboxPending(pending)
	return nil
}

// Stats reports mailbox counts for health checks.
func (r *Router) Stats() (mailboxes, pending int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, box := range r.boxes {
		box.mu.Lock()
		pending += len(box.queue)
		box.mu.Unlock()
	}
	return len(r.boxes), pending
}
