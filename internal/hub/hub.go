// Package hub implements the session's shared collaboration stores. Each
// store is a Store[T] with its own record type and rules; the Hub owns
// exactly one of each and snapshots them in a fixed order.
package hub

import (
	"errors"
	"fmt"
	"slices"

	"github.com/rs/zerolog"

	"github.com/aixgo-dev/swarm/agent"
	"github.com/aixgo-dev/swarm/internal/clock"
	"github.com/aixgo-dev/swarm/internal/codec"
	"github.com/aixgo-dev/swarm/pkg/config"
	"github.com/aixgo-dev/swarm/pkg/observability"
	"github.com/aixgo-dev/swarm/pkg/security"
)

// Store names, in snapshot lock order.
const (
	StoreTimer          = "timer"
	StoreVoting         = "voting"
	StoreLounge         = "lounge"
	StoreLeakTracker    = "leak_tracker"
	StoreTaskQueue      = "task_queue"
	StoreEvidenceLedger = "evidence_ledger"
	StoreDecisionLog    = "decision_log"
	StoreArtifactIndex  = "artifact_index"
	StoreRiskRegister   = "risk_register"
	StoreBudgetGuard    = "budget_guard"
)

// StoreNames lists every store in snapshot lock order.
func StoreNames() []string {
	return []string{
		StoreTimer, StoreVoting, StoreLounge, StoreLeakTracker, StoreTaskQueue,
		StoreEvidenceLedger, StoreDecisionLog, StoreArtifactIndex, StoreRiskRegister, StoreBudgetGuard,
	}
}

type persistent interface {
	Name() string
	rlock()
	runlock()
	encodeLocked() (codec.RawMessage, error)
	decode(raw codec.RawMessage) error
}

type closer interface{ Close() }

// Hub holds one instance of every store for a session.
type Hub struct {
	halt *Switch

	Timers    *TimerStore
	Votes     *VotingStore
	Lounge    *LoungeStore
	Leaks     *LeakStore
	Tasks     *TaskQueue
	Evidence  *EvidenceLedger
	Decisions *DecisionLog
	Artifacts *ArtifactIndex
	Risks     *RiskRegister
	Budget    *BudgetGuard

	ordered []persistent
	logger  zerolog.Logger
	audit   security.AuditLogger
}

type options struct {
	clock  clock.Clock
	logger zerolog.Logger
	audit  security.AuditLogger
}

// Option configures a Hub.
type Option func(*options)

// WithClock sets the time source for every store.
func WithClock(c clock.Clock) Option { return func(o *options) { o.clock = c } }

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option { return func(o *options) { o.logger = l } }

// WithAuditLogger records privileged hub operations.
func WithAuditLogger(a security.AuditLogger) Option { return func(o *options) { o.audit = a } }

// New creates an empty hub from the session configuration.
func New(cfg *config.Config, opts ...Option) *Hub {
	o := options{clock: clock.Real(), logger: zerolog.Nop(), audit: security.NewNoOpAuditLogger()}
	for _, opt := range opts {
		opt(&o)
	}

	halt := &Switch{}
	observability.SetHalted(false)
	h := &Hub{
		halt:      halt,
		Timers:    newTimerStore(halt, o.clock),
		Votes:     newVotingStore(halt, o.clock, cfg.Voting),
		Lounge:    newLoungeStore(halt, o.clock, cfg.Hub.LoungeCapacity),
		Leaks:     newLeakStore(halt, o.clock, cfg.Hub.LeakFields, cfg.Hub.LeakExportPath()),
		Tasks:     newTaskQueue(halt, o.clock),
		Evidence:  newEvidenceLedger(halt, o.clock),
		Decisions: newDecisionLog(halt, o.clock),
		Artifacts: newArtifactIndex(halt, o.clock),
		Risks:     newRiskRegister(halt, o.clock),
		Budget:    newBudgetGuard(halt, o.clock, cfg.Budget.Limit),
		logger:    o.logger,
		audit:     o.audit,
	}
	h.ordered = []persistent{
		h.Timers.store, h.Votes.store, h.Lounge.store, h.Leaks.store, h.Tasks.store,
		h.Evidence.store, h.Decisions.store, h.Artifacts.store, h.Risks.store, h.Budget,
	}
	return h
}

// Halted reports whether the kill switch has tripped.
func (h *Hub) Halted() bool { return h.halt.Halted() }

// Kill trips the kill switch on behalf of caller. Every store rejects
// writes afterwards; reads stay legal.
func (h *Hub) Kill(caller agent.ID, reason string) BudgetStatus {
	st, tripped := h.Budget.Kill(caller, reason)
	if tripped {
		h.logger.Warn().Str("agent", string(caller)).Str("reason", st.KillReason).Msg("kill switch tripped")
		h.audit.Log(security.NewAuditEvent(security.EventKillSwitch, string(caller), StoreBudgetGuard, "kill", nil).
			WithMetadata("reason", st.KillReason))
	}
	return st
}

// ClearLounge empties the lounge for the root agent.
func (h *Hub) ClearLounge(caller agent.Summary) (int, error) {
	n, err := h.Lounge.Clear(caller)
	h.auditClear(caller, StoreLounge, n, err)
	return n, err
}

// ClearLeaks empties the leak tracker for the root agent.
func (h *Hub) ClearLeaks(caller agent.Summary) (int, error) {
	n, err := h.Leaks.Clear(caller)
	h.auditClear(caller, StoreLeakTracker, n, err)
	return n, err
}

func (h *Hub) auditClear(caller agent.Summary, store string, n int, err error) {
	ev := security.NewAuditEvent(security.EventStoreClear, string(caller.ID), store, "clear", err).
		WithMetadata("removed", fmt.Sprint(n))
	if err != nil {
		h.logger.Warn().Err(err).Str("agent", string(caller.ID)).Str("store", store).Msg("clear rejected")
	}
	h.audit.Log(ev)
}

// Capture read-locks every store in StoreNames order and passes the
// encoded contents to fn while the locks are held.
func (h *Hub) Capture(fn func(map[string]codec.RawMessage) error) error {
	for _, s := range h.ordered {
		s.rlock()
	}
	defer func() {
		for _, s := range slices.Backward(h.ordered) {
			s.runlock()
		}
	}()

	out := make(map[string]codec.RawMessage, len(h.ordered))
	for _, s := range h.ordered {
		raw, err := s.encodeLocked()
		if err != nil {
			return fmt.Errorf("encode %s: %w", s.Name(), err)
		}
		out[s.Name()] = raw
	}
	return fn(out)
}

// Load replaces every store's content. Stores missing from state come back
// empty; names this hub does not know are ignored.
func (h *Hub) Load(state map[string]codec.RawMessage) error {
	var errs []error
	for _, s := range h.ordered {
		if err := s.decode(state[s.Name()]); err != nil {
			errs = append(errs, err)
		}
	}
	for name := range state {
		if !slices.Contains(StoreNames(), name) {
			h.logger.Debug().Str("store", name).Msg("ignoring unknown store in snapshot")
		}
	}
	return errors.Join(errs...)
}

// Counts returns the number of records per store.
func (h *Hub) Counts() map[string]int {
	return map[string]int{
		StoreTimer:          h.Timers.store.Len(),
		StoreVoting:         h.Votes.store.Len(),
		StoreLounge:         h.Lounge.store.Len(),
		StoreLeakTracker:    h.Leaks.store.Len(),
		StoreTaskQueue:      h.Tasks.store.Len(),
		StoreEvidenceLedger: h.Evidence.store.Len(),
		StoreDecisionLog:    h.Decisions.store.Len(),
		StoreArtifactIndex:  h.Artifacts.store.Len(),
		StoreRiskRegister:   h.Risks.store.Len(),
		StoreBudgetGuard:    h.Budget.store.Len(),
	}
}

// Close makes every store reject writes.
func (h *Hub) Close() {
	for _, s := range h.ordered {
		if c, ok := s.(closer); ok {
			c.Close()
		}
	}
}
