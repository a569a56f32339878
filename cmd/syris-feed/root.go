package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/domody/syris/config"
	"github.com/domody/syris/feed"
	"github.com/domody/syris/metric"
	"github.com/domody/syris/transport"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	logLevel   string
	logFormat  string
}

// newRootCmd creates the root command with all subcommands attached.
func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Client for the SYRIS observability feed",
		Long: "syris-feed connects to the SYRIS websocket feed, keeps a bounded window of\n" +
			"events, tracks the commands it sends and serves them over a local HTTP API.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate(appName + " {{.Version}}\n")

	pf := cmd.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", os.Getenv("SYRIS_CONFIG"),
		"Path to a JSON or YAML configuration file (env: SYRIS_CONFIG)")
	pf.StringVar(&flags.logLevel, "log-level", "", "Log level: debug, info, warn, error (env: SYRIS_LOG_LEVEL)")
	pf.StringVar(&flags.logFormat, "log-format", "", "Log format: json, text (env: SYRIS_LOG_FORMAT)")

	cmd.AddCommand(
		newRunCmd(flags),
		newSendCmd(flags),
		newTailCmd(flags),
		newBackoffCmd(flags),
		newConfigCmd(flags),
	)
	return cmd
}

// load reads the configuration and builds the logger. Flags win over the
// file and the environment.
func (g *globalFlags) load(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	loader := config.NewLoader()
	if g.configPath != "" {
		loader.AddLayer(g.configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, err
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	if g.logFormat != "" {
		cfg.Log.Format = g.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return cfg, setupLogger(cfg.Log.Level, cfg.Log.Format, cmd.ErrOrStderr()), nil
}

// openFeed builds a feed and a metrics registry from cfg.
func openFeed(cfg *config.Config, logger *slog.Logger) (*feed.Feed, *metric.MetricsRegistry, error) {
	registry := metric.NewMetricsRegistry()
	f, err := feed.New(cfg.Feed(), feed.WithLogger(logger), feed.WithMetrics(registry))
	if err != nil {
		return nil, nil, err
	}
	return f, registry, nil
}

// waitConnected starts f and blocks until the first connection or until
// timeout elapses.
func waitConnected(ctx context.Context, f *feed.Feed, timeout time.Duration) error {
	connected := make(chan struct{})
	var once sync.Once
	f.OnStatus(func(s transport.Status) {
		if s == transport.StatusConnected {
			once.Do(func() { close(connected) })
		}
	})

	if err := f.Start(ctx); err != nil {
		return err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-connected:
		return nil
	case <-timer.C:
		return fmt.Errorf("not connected to %s after %s", f.Target(), timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}
