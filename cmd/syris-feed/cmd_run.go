package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/domody/syris/config"
	"github.com/domody/syris/feed"
	gatewayhttp "github.com/domody/syris/gateway/http"
	"github.com/domody/syris/metric"
	"github.com/domody/syris/mirror"
)

func newRunCmd(flags *globalFlags) *cobra.Command {
	var shutdownTimeout time.Duration

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Follow the feed and serve the HTTP API until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := flags.load(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return runFeed(ctx, cfg, logger, shutdownTimeout)
		},
	}
	cmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", gatewayhttp.DefaultShutdownTimeout,
		"Graceful shutdown timeout")
	return cmd
}

// runFeed wires the feed, the optional mirror and the optional HTTP API,
// then blocks until ctx is done.
func runFeed(ctx context.Context, cfg *config.Config, logger *slog.Logger, shutdownTimeout time.Duration) error {
	f, registry, err := openFeed(cfg, logger)
	if err != nil {
		return err
	}

	var m *mirror.Mirror
	if cfg.Mirror.Enabled() {
		m, err = mirror.Connect(ctx, cfg.Mirror, mirror.WithLogger(logger), mirror.WithMetrics(registry))
		if err != nil {
			return fmt.Errorf("start mirror: %w", err)
		}
		f.OnIngest(m.Handle)
	}

	gw, err := startGateway(ctx, cfg.HTTP, f, logger, registry)
	if err != nil {
		closeMirror(m, logger)
		return err
	}

	if err := f.Start(ctx); err != nil {
		stopGateway(gw, shutdownTimeout, logger)
		closeMirror(m, logger)
		return fmt.Errorf("start feed: %w", err)
	}

	<-ctx.Done()
	logger.Info("Received shutdown signal")

	if err := shutdown(gw, f, m, shutdownTimeout); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	logger.Info("Shutdown complete")
	return nil
}

// shutdown stops the API and the feed in parallel, then drains the mirror
// once no more events can arrive.
func shutdown(gw *gatewayhttp.Gateway, f *feed.Feed, m *mirror.Mirror, timeout time.Duration) error {
	var g errgroup.Group
	if gw != nil {
		g.Go(func() error { return gw.Stop(timeout) })
	}
	g.Go(f.Close)
	err := g.Wait()

	if m != nil {
		if cerr := m.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func startGateway(
	ctx context.Context,
	cfg gatewayhttp.Config,
	f *feed.Feed,
	logger *slog.Logger,
	registry *metric.MetricsRegistry,
) (*gatewayhttp.Gateway, error) {
	if cfg.Addr == "" {
		return nil, nil
	}
	gw, err := gatewayhttp.NewGateway(cfg, f, gatewayhttp.WithLogger(logger), gatewayhttp.WithMetrics(registry))
	if err != nil {
		return nil, fmt.Errorf("create HTTP API: %w", err)
	}
	if err := gw.Start(ctx); err != nil {
		return nil, fmt.Errorf("start HTTP API: %w", err)
	}
	return gw, nil
}

func stopGateway(gw *gatewayhttp.Gateway, timeout time.Duration, logger *slog.Logger) {
	if gw == nil {
		return
	}
	if err := gw.Stop(timeout); err != nil {
		logger.Warn("HTTP API shutdown failed", "error", err)
	}
}

func closeMirror(m *mirror.Mirror, logger *slog.Logger) {
	if m == nil {
		return
	}
	if err := m.Close(); err != nil {
		logger.Warn("Mirror close failed", "error", err)
	}
}
