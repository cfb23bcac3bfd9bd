// Package swarm coordinates a session of cooperating agents: the agent
// registry, hierarchy-constrained routing, the shared collaboration hub and
// checkpointing of all of it.
//
// A Session is the single handle callers pass around. The hub is created
// when the first agent is spawned and torn down by Close.
package swarm

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/aixgo-dev/swarm/agent"
	"github.com/aixgo-dev/swarm/internal/clock"
	"github.com/aixgo-dev/swarm/internal/codec"
	"github.com/aixgo-dev/swarm/internal/hub"
	"github.com/aixgo-dev/swarm/internal/observability"
	"github.com/aixgo-dev/swarm/internal/persistence"
	"github.com/aixgo-dev/swarm/internal/registry"
	"github.com/aixgo-dev/swarm/internal/routing"
	"github.com/aixgo-dev/swarm/pkg/config"
	"github.com/aixgo-dev/swarm/pkg/logging"
	"github.com/aixgo-dev/swarm/pkg/security"
	"github.com/aixgo-dev/swarm/pkg/swarmerr"
)

// ErrSessionClosed is returned by operations on a closed session.
var ErrSessionClosed = errors.New("session closed")

// ErrNoBackend is returned by Checkpoint when the session has no backend.
var ErrNoBackend = errors.New("no checkpoint backend configured")

// Session owns every component of one swarm.
type Session struct {
	cfg    *config.Config
	clock  clock.Clock
	logger zerolog.Logger
	audit  security.AuditLogger

	registry *registry.Registry
	router   *routing.Router

	hubMu sync.Mutex
	hub   *hub.Hub

	backend      persistence.Backend
	checkpointer *persistence.Checkpointer

	closed atomic.Bool
}

// Option configures a Session.
type Option func(*Session)

// WithClock sets the time source for every component.
func WithClock(c clock.Clock) Option {
	return func(s *Session) { s.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithAuditLogger records security-relevant events.
func WithAuditLogger(a security.AuditLogger) Option {
	return func(s *Session) { s.audit = a }
}

// WithBackend enables checkpoints to b using the persistence settings of
// the session configuration.
func WithBackend(b persistence.Backend) Option {
	return func(s *Session) { s.backend = b }
}

// New creates an empty session. cfg must not be modified afterwards.
func New(cfg *config.Config, opts ...Option) *Session {
	s := &Session{
		cfg:    cfg,
		clock:  clock.Real(),
		logger: zerolog.Nop(),
		audit:  security.NewNoOpAuditLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.registry = registry.New(cfg,
		registry.WithClock(s.clock),
		registry.WithLogger(logging.Component(s.logger, "registry")),
	)
	routerOpts := []routing.Option{
		routing.WithCapacity(cfg.Routing.MailboxCapacity),
		routing.WithClock(s.clock),
		routing.WithLogger(logging.Component(s.logger, "router")),
		routing.WithAuditLogger(s.audit),
	}
	if cfg.Routing.SendRate > 0 {
		routerOpts = append(routerOpts, routing.WithRateLimit(cfg.Routing.SendRate, cfg.Routing.SendBurst))
	}
	s.router = routing.New(s.registry, routing.PolicyFrom(cfg.Hierarchy), routerOpts...)
	s.registry.Observe(s.router)

	if s.backend != nil {
		s.checkpointer = persistence.NewCheckpointer(s, s.backend,
			persistence.WithKeep(cfg.Persistence.Keep),
			persistence.WithSchedule(cfg.Persistence.Schedule),
			persistence.WithBackendName(cfg.Persistence.Backend),
			persistence.WithCheckpointLogger(logging.Component(s.logger, "checkpoint")),
			persistence.WithCheckpointAudit(s.audit),
		)
	}
	return s
}

// Config returns the session configuration.
func (s *Session) Config() *config.Config { return s.cfg }

// Checkpointer returns the session checkpointer, or nil without a backend.
func (s *Session) Checkpointer() *persistence.Checkpointer { return s.checkpointer }

func (s *Session) newHub() *hub.Hub {
	return hub.New(s.cfg,
		hub.WithClock(s.clock),
		hub.WithLogger(logging.Component(s.logger, "hub")),
		hub.WithAuditLogger(s.audit),
	)
}

func (s *Session) ensureHub() *hub.Hub {
	s.hubMu.Lock()
	defer s.hubMu.Unlock()
	if s.hub == nil {
		s.hub = s.newHub()
		s.logger.Debug().Msg("hub created")
	}
	return s.hub
}

// Hub returns the session hub, or nil before the first spawn.
func (s *Session) Hub() *hub.Hub {
	s.hubMu.Lock()
	defer s.hubMu.Unlock()
	return s.hub
}

// Halted reports whether the kill switch has tripped.
func (s *Session) Halted() bool {
	h := s.Hub()
	return h != nil && h.Halted()
}

func (s *Session) checkOpen() error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	return nil
}

// Spawn creates an agent under parent; agent.NoParent spawns the root.
func (s *Session) Spawn(ctx context.Context, parent agent.ID, role, instructions string) (agent.Summary, error) {
	_, span := observability.StartSpan(ctx, "swarm.spawn", map[string]any{"parent": string(parent), "role": role})
	defer span.End()

	if err := s.checkOpen(); err != nil {
		return agent.Summary{}, err
	}
	id, err := s.registry.Spawn(parent, role, instructions)
	s.audit.Log(security.NewAuditEvent(security.EventAgentSpawn, string(parent), role, "spawn", err).WithTarget(string(id)))
	if err != nil {
		span.SetError(err)
		s.logger.Warn().Err(err).Str("parent", string(parent)).Str("role", role).Msg("spawn rejected")
		return agent.Summary{}, err
	}
	s.ensureHub()

	sum, err := s.registry.Get(id)
	if err != nil {
		return agent.Summary{}, err
	}
	span.SetAttribute("agent", string(id))
	s.logger.Debug().Str("agent", string(id)).Str("role", sum.Role).Int("tier", sum.Tier).Msg("agent spawned")
	return sum, nil
}

// Agent returns any known agent, live or terminal.
func (s *Session) Agent(id agent.ID) (agent.Summary, error) { return s.registry.Get(id) }

// Resolve returns a live agent.
func (s *Session) Resolve(id agent.ID) (agent.Summary, error) { return s.registry.Resolve(id) }

// Agents yields agents matching filter in creation order.
func (s *Session) Agents(filter agent.Filter) iter.Seq[agent.Summary] {
	return s.registry.List(filter)
}

// Root returns the live root agent.
func (s *Session) Root() (agent.ID, bool) { return s.registry.Root() }

// Transition changes an agent's status.
func (s *Session) Transition(ctx context.Context, id agent.ID, status agent.Status) error {
	_, span := observability.StartSpan(ctx, "swarm.transition", map[string]any{"agent": string(id), "status": string(status)})
	defer span.End()

	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := s.registry.Transition(id, status); err != nil {
		span.SetError(err)
		return err
	}
	return nil
}

// CloseAgent terminates id and its live descendants.
func (s *Session) CloseAgent(ctx context.Context, id agent.ID, reason agent.CloseReason) error {
	_, span := observability.StartSpan(ctx, "swarm.close", map[string]any{"agent": string(id), "failed": reason.Failed})
	defer span.End()

	if err := s.checkOpen(); err != nil {
		return err
	}
	err := s.registry.Close(id, reason)
	ev := security.NewAuditEvent(security.EventAgentClose, string(id), "agent", "close", err)
	if reason.Message != "" {
		ev.WithMetadata("reason", reason.Message)
	}
	s.audit.Log(ev)
	if err != nil {
		span.SetError(err)
		return err
	}
	return nil
}

// Send routes msg from one agent to another.
func (s *Session) Send(ctx context.Context, from, to agent.ID, msg agent.Message) (agent.Message, error) {
	_, span := observability.StartSpan(ctx, "swarm.send", map[string]any{"from": string(from), "to": string(to)})
	defer span.End()

	if err := s.checkOpen(); err != nil {
		return agent.Message{}, err
	}
	out, err := s.router.Send(from, to, msg)
	if err != nil {
		span.SetError(err)
		if errors.Is(err, swarmerr.ErrRoutingDenied) {
			s.logger.Warn().Err(err).Str("from", string(from)).Str("to", string(to)).Msg("send denied")
		}
		return agent.Message{}, err
	}
	span.SetAttribute("seq", out.Seq)
	return out, nil
}

// Broadcast sends msg to every agent from may reach.
func (s *Session) Broadcast(ctx context.Context, from agent.ID, msg agent.Message) ([]agent.Message, error) {
	_, span := observability.StartSpan(ctx, "swarm.broadcast", map[string]any{"from": string(from)})
	defer span.End()

	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	out, err := s.router.Broadcast(from, msg)
	if err != nil {
		span.SetError(err)
		return nil, err
	}
	span.SetAttribute("recipients", len(out))
	return out, nil
}

// Receive consumes up to max queued messages for id; max <= 0 takes all.
func (s *Session) Receive(ctx context.Context, id agent.ID, max int) ([]agent.Message, error) {
	_, span := observability.StartSpan(ctx, "swarm.receive", map[string]any{"agent": string(id)})
	defer span.End()

	msgs, err := s.router.Drain(id, max)
	if err != nil {
		span.SetError(err)
		return nil, err
	}
	span.SetAttribute("messages", len(msgs))
	return msgs, nil
}

// Pending reports the queue depth of id's mailbox.
func (s *Session) Pending(id agent.ID) (int, error) { return s.router.Pending(id) }

// Capture takes a consistent view of the whole session. Locks are taken in
// a fixed order: the registry, then every hub store, then the mailboxes.
func (s *Session) Capture() (persistence.State, error) {
	h := s.Hub()
	var st persistence.State
	err := s.registry.Capture(func(agents []agent.Summary) error {
		st.Agents = agents
		captureRouter := func() error {
			return s.router.Capture(func(boxes []routing.MailboxState) error {
				st.Mailboxes = boxes
				return nil
			})
		}
		if h == nil {
			return captureRouter()
		}
		return h.Capture(func(stores map[string]codec.RawMessage) error {
			st.Hub = stores
			return captureRouter()
		})
	})
	return st, err
}

// Snapshot encodes the session into a durable blob.
func (s *Session) Snapshot(ctx context.Context) ([]byte, error) {
	_, span := observability.StartSpan(ctx, "swarm.snapshot", nil)
	defer span.End()

	st, err := s.Capture()
	if err != nil {
		span.SetError(err)
		return nil, fmt.Errorf("capture: %w", err)
	}
	blob, err := persistence.Encode(st, s.clock.Now())
	if err != nil {
		span.SetError(err)
		return nil, err
	}
	span.SetAttribute("bytes", len(blob))
	return blob, nil
}

// Checkpoint snapshots the session to its backend.
func (s *Session) Checkpoint(ctx context.Context) (persistence.Info, error) {
	if s.checkpointer == nil {
		return persistence.Info{}, ErrNoBackend
	}
	return s.checkpointer.Checkpoint(ctx)
}

// Restore builds a session from a snapshot blob. Restoring the same blob
// twice yields observably identical sessions. A blob that cannot be decoded
// fails with swarmerr.ErrSnapshotCorrupt; callers should then start a fresh
// session with New.
func Restore(ctx context.Context, cfg *config.Config, blob []byte, opts ...Option) (*Session, error) {
	_, span := observability.StartSpan(ctx, "swarm.restore", map[string]any{"bytes": len(blob)})
	defer span.End()

	st, meta, err := persistence.Decode(blob)
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	s := New(cfg, opts...)
	if err := s.load(st); err != nil {
		span.SetError(err)
		s.audit.Log(security.NewAuditEvent(security.EventRestore, "", "snapshot", "restore", err))
		return nil, &swarmerr.CorruptError{Stage: "state", Err: err}
	}
	s.audit.Log(security.NewAuditEvent(security.EventRestore, "", "snapshot", "restore", nil).
		WithMetadata("taken_at", meta.TakenAt.Format(time.RFC3339)))
	s.logger.Info().
		Time("taken_at", meta.TakenAt).
		Int("agents", len(st.Agents)).
		Bool("halted", s.Halted()).
		Msg("session restored")
	return s, nil
}

func (s *Session) load(st persistence.State) error {
	if err := s.registry.Load(st.Agents); err != nil {
		return fmt.Errorf("registry: %w", err)
	}
	if err := s.router.Load(st.Mailboxes); err != nil {
		return fmt.Errorf("router: %w", err)
	}
	if st.Hub == nil && len(st.Agents) == 0 {
		return nil
	}
	if err := s.ensureHub().Load(st.Hub); err != nil {
		return fmt.Errorf("hub: %w", err)
	}
	return nil
}

// Resume restores the latest checkpoint in backend and keeps checkpointing
// to it. It fails with persistence.ErrNotFound when the backend is empty and
// with swarmerr.ErrSnapshotCorrupt when the latest blob cannot be decoded.
func Resume(ctx context.Context, cfg *config.Config, backend persistence.Backend, opts ...Option) (*Session, error) {
	info, blob, err := backend.Latest(ctx)
	if err != nil {
		return nil, err
	}
	s, err := Restore(ctx, cfg, blob, append(opts, WithBackend(backend))...)
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("checkpoint", info.ID).Msg("session resumed")
	return s, nil
}

// Close takes a final checkpoint and exports the leak tracker in
// parallel, then makes the hub reject writes. Close is idempotent.
func (s *Session) Close(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if s.checkpointer != nil {
		s.checkpointer.Stop()
	}

	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	h := s.Hub()
	g, gctx := errgroup.WithContext(ctx)
	if s.checkpointer != nil {
		g.Go(func() error {
			_, err := s.checkpointer.Checkpoint(gctx)
			return err
		})
	}
	if h != nil && s.cfg.Hub.LeakExportPath() != "" {
		g.Go(func() error {
			path, n, err := h.Leaks.Export()
			if err != nil {
				return fmt.Errorf("leak export: %w", err)
			}
			s.logger.Info().Str("path", path).Int("entries", n).Msg("leak tracker exported")
			return nil
		})
	}
	err := g.Wait()

	if h != nil {
		h.Close()
	}
	s.logger.Info().Err(err).Msg("session closed")
	return err
}
