package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	metrics "github.com/aixgo-dev/swarm/pkg/observability"
)

func newRunCmd() *cobra.Command {
	var httpPort int
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a swarm session with scheduled checkpoints and a health server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configPath(cmd), httpPort, cmd.Flags().Changed("http-port"))
		},
	}
	cmd.Flags().IntVar(&httpPort, "http-port", getEnvInt("PORT", 8080), "health and metrics port")
	return cmd
}

func run(ctx context.Context, path string, port int, portSet bool) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := bootstrap(ctx, path, os.Stderr)
	if err != nil {
		return err
	}
	if !portSet && a.cfg.Observability.HTTPPort != 0 {
		port = a.cfg.Observability.HTTPPort
	}
	a.logger.Info().Str("version", Version).Str("root", string(a.root)).Int("http_port", port).Msg("starting swarm")

	hc := metrics.NewHealthChecker(Version)
	hc.RegisterCheck(metrics.HaltCheck(a.session.Halted))
	if a.backend != nil {
		hc.RegisterCheck(metrics.BackendCheck(a.cfg.Persistence.Backend, ping(a.backend)))
	}

	if cp := a.session.Checkpointer(); cp != nil {
		if err := cp.Start(); err != nil {
			_ = a.Close(context.Background())
			return err
		}
	}

	srv := metrics.NewServer(port, hc)
	errChan := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err = <-errChan:
		a.logger.Error().Err(err).Msg("server failed")
	case <-ctx.Done():
		a.logger.Info().Msg("shutting down swarm")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		a.logger.Warn().Err(serr).Msg("HTTP server shutdown")
	}
	if cerr := a.Close(shutdownCtx); cerr != nil {
		a.logger.Error().Err(cerr).Msg("session close")
		if err == nil {
			err = cerr
		}
	}
	a.logger.Info().Msg("swarm stopped")
	return err
}
