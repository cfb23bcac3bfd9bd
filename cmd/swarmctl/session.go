package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/aixgo-dev/swarm"
	"github.com/aixgo-dev/swarm/agent"
	"github.com/aixgo-dev/swarm/internal/observability"
	"github.com/aixgo-dev/swarm/internal/persistence"
	"github.com/aixgo-dev/swarm/pkg/config"
	"github.com/aixgo-dev/swarm/pkg/logging"
	metrics "github.com/aixgo-dev/swarm/pkg/observability"
	"github.com/aixgo-dev/swarm/pkg/security"
	"github.com/aixgo-dev/swarm/pkg/swarmerr"
)

// defaultStorageDir holds checkpoints and the leak export when the
// configuration names no storage directory.
const defaultStorageDir = ".swarm"

// app is a bootstrapped session plus the resources it borrows.
type app struct {
	cfg     *config.Config
	logger  zerolog.Logger
	backend persistence.Backend
	session *swarm.Session
	root    agent.ID
}

// bootstrap loads the configuration, resumes the latest checkpoint when
// one is usable and makes sure a root agent exists.
func bootstrap(ctx context.Context, path string, logOut io.Writer) (*app, error) {
	cfg, err := swarm.NewConfigLoader(&swarm.OSFileReader{}).LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if cfg.Hub.StorageDir == "" {
		cfg.Hub.StorageDir = defaultStorageDir
		cfg.ApplyDefaults()
	}
	a := &app{cfg: cfg, logger: logging.New(cfg.Logging, logOut)}

	metrics.InitMetrics()
	if err := observability.Init(ctx, cfg.Observability, logging.Component(a.logger, "tracing")); err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}

	a.backend, err = persistence.Open(ctx, cfg.Persistence)
	if err != nil {
		return nil, fmt.Errorf("open %s backend: %w", cfg.Persistence.Backend, err)
	}

	opts := []swarm.Option{
		swarm.WithLogger(a.logger),
		swarm.WithAuditLogger(security.NewLogAuditLogger(a.logger)),
	}
	a.session, err = a.open(ctx, opts)
	if err != nil {
		a.release(ctx)
		return nil, err
	}

	if id, ok := a.session.Root(); ok {
		a.root = id
		return a, nil
	}
	sum, err := a.session.Spawn(ctx, agent.NoParent, "", "")
	if err != nil {
		_ = a.Close(ctx)
		return nil, fmt.Errorf("spawn root: %w", err)
	}
	a.root = sum.ID
	a.logger.Info().Str("agent", string(sum.ID)).Str("role", sum.Role).Msg("root agent spawned")
	return a, nil
}

func (a *app) open(ctx context.Context, opts []swarm.Option) (*swarm.Session, error) {
	if a.backend == nil {
		return swarm.New(a.cfg, opts...), nil
	}
	s, err := swarm.Resume(ctx, a.cfg, a.backend, opts...)
	switch {
	case err == nil:
		return s, nil
	case errors.Is(err, persistence.ErrNotFound):
		a.logger.Info().Msg("no checkpoint found, starting a fresh session")
	case errors.Is(err, swarmerr.ErrSnapshotCorrupt):
		a.logger.Warn().Err(err).Msg("latest checkpoint is corrupt, starting a fresh session")
	default:
		return nil, fmt.Errorf("resume: %w", err)
	}
	return swarm.New(a.cfg, append(opts, swarm.WithBackend(a.backend))...), nil
}

// Close shuts the session down with a final checkpoint, then releases the
// backend and tracer.
func (a *app) Close(ctx context.Context) error {
	err := a.session.Close(ctx)
	a.release(ctx)
	return err
}

func (a *app) release(ctx context.Context) {
	if a.backend != nil {
		if err := a.backend.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("closing backend")
		}
	}
	if err := observability.Shutdown(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("tracing shutdown")
	}
}

// ping checks backend reachability for the health endpoint.
func ping(b persistence.Backend) func(context.Context) error {
	if p, ok := b.(interface{ Ping(context.Context) error }); ok {
		return p.Ping
	}
	return func(ctx context.Context) error {
		_, err := b.List(ctx)
		return err
	}
}
