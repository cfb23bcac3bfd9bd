package persistence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/aixgo-dev/swarm/pkg/observability"
	"github.com/aixgo-dev/swarm/pkg/security"
)

// Snapshotter produces a checkpoint blob. It is satisfied by *swarm.Session.
type Snapshotter interface {
	Snapshot(ctx context.Context) ([]byte, error)
}

// Checkpointer saves snapshots to a backend on demand or on a cron schedule
// and prunes old checkpoints.
type Checkpointer struct {
	src      Snapshotter
	backend  Backend
	name     string
	keep     int
	schedule string
	timeout  time.Duration
	logger   zerolog.Logger
	audit    security.AuditLogger

	mu   sync.Mutex
	cron *cron.Cron
}

// CheckpointerOption configures a Checkpointer.
type CheckpointerOption func(*Checkpointer)

// WithKeep retains at most n checkpoints; n <= 0 keeps everything.
func WithKeep(n int) CheckpointerOption { return func(c *Checkpointer) { c.keep = n } }

// WithSchedule sets the cron expression used by Start.
func WithSchedule(expr string) CheckpointerOption {
	return func(c *Checkpointer) { c.schedule = expr }
}

// WithBackendName labels metrics and logs.
func WithBackendName(name string) CheckpointerOption {
	return func(c *Checkpointer) { c.name = name }
}

// WithCheckpointLogger sets the logger.
func WithCheckpointLogger(l zerolog.Logger) CheckpointerOption {
	return func(c *Checkpointer) { c.logger = l }
}

// WithCheckpointAudit records every checkpoint attempt.
func WithCheckpointAudit(a security.AuditLogger) CheckpointerOption {
	return func(c *Checkpointer) { c.audit = a }
}

// NewCheckpointer creates a checkpointer writing src's snapshots to backend.
func NewCheckpointer(src Snapshotter, backend Backend, opts ...CheckpointerOption) *Checkpointer {
	c := &Checkpointer{
		src:     src,
		backend: backend,
		name:    "custom",
		timeout: time.Minute,
		logger:  zerolog.Nop(),
		audit:   security.NewNoOpAuditLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Checkpoint takes a snapshot and saves it under a new time-ordered id.
func (c *Checkpointer) Checkpoint(ctx context.Context) (Info, error) {
	start := time.Now()
	info, err := c.checkpoint(ctx)
	status := "success"
	if err != nil {
		status = "error"
	}
	observability.RecordCheckpoint(c.name, status, info.Size, time.Since(start))
	c.audit.Log(security.NewAuditEvent(security.EventCheckpoint, "", c.name, "save", err).WithTarget(info.ID))

	if err != nil {
		c.logger.Error().Err(err).Str("backend", c.name).Msg("checkpoint failed")
		return Info{}, err
	}
	c.logger.Info().
		Str("backend", c.name).
		Str("id", info.ID).
		Int("bytes", info.Size).
		Dur("duration", time.Since(start)).
		Msg("checkpoint saved")
	return info, nil
}

func (c *Checkpointer) checkpoint(ctx context.Context) (Info, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Info{}, fmt.Errorf("checkpoint id: %w", err)
	}
	blob, err := c.src.Snapshot(ctx)
	if err != nil {
		return Info{}, fmt.Errorf("snapshot: %w", err)
	}
	info := Info{ID: id.String(), SavedAt: time.Now().UTC(), Size: len(blob)}
	if err := c.backend.Save(ctx, info.ID, blob); err != nil {
		return info, err
	}
	if err := c.prune(ctx); err != nil {
		c.logger.Warn().Err(err).Str("backend", c.name).Msg("checkpoint retention failed")
	}
	return info, nil
}

func (c *Checkpointer) prune(ctx context.Context) error {
	if c.keep <= 0 {
		return nil
	}
	all, err := c.backend.List(ctx)
	if err != nil {
		return err
	}
	for len(all) > c.keep {
		if err := c.backend.Delete(ctx, all[0].ID); err != nil {
			return err
		}
		all = all[1:]
	}
	return nil
}

// Start schedules checkpoints. It is a no-op without a schedule. Runs
// that would overlap a checkpoint still in progress are skipped.
func (c *Checkpointer) Start() error {
	if c.schedule == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cron != nil {
		return nil
	}

	sched := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := sched.AddFunc(c.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()
		_, _ = c.Checkpoint(ctx)
	}); err != nil {
		return fmt.Errorf("invalid checkpoint schedule %q: %w", c.schedule, err)
	}
	sched.Start()
	c.cron = sched
	c.logger.Info().Str("schedule", c.schedule).Msg("scheduled checkpoints started")
	return nil
}

// Stop halts the schedule and waits for a running checkpoint to finish.
func (c *Checkpointer) Stop() {
	c.mu.Lock()
	sched := c.cron
	c.cron = nil
	c.mu.Unlock()
	if sched != nil {
		<-sched.Stop().Done()
	}
}
