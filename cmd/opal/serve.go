package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/opalhq/opal/internal/bus"
	"github.com/opalhq/opal/internal/config"
	"github.com/opalhq/opal/internal/observability"
	"github.com/opalhq/opal/internal/provideradapter/anthropic"
	"github.com/opalhq/opal/internal/rpc"
	"github.com/opalhq/opal/internal/session"
	"github.com/opalhq/opal/internal/taskstore"
)

// buildServeCmd wires the "serve" subcommand: the only long-running
// command in this CLI. The RunE stays a thin argument-resolution layer
// over the real startup logic.
func buildServeCmd() *cobra.Command {
	var (
		configPath  string
		debug       bool
		metricsAddr string
		idleTTL     time.Duration
		sweepSpec   string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the Opal agent server on stdio",
		Long: `Start the Opal JSON-RPC server, reading newline-delimited requests from
stdin and writing responses and agent/event notifications to stdout.

The server will:
1. Load configuration from the given file (or defaults)
2. Construct the Anthropic provider, event bus, session store, and task store
3. Start the idle-session sweep on its own schedule
4. Optionally serve Prometheus metrics over HTTP
5. Read JSON-RPC frames from stdin until EOF or a shutdown signal

Graceful shutdown is handled on SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), serveOptions{
				configPath:  configPath,
				debug:       debug,
				metricsAddr: metricsAddr,
				idleTTL:     idleTTL,
				sweepSpec:   sweepSpec,
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file (defaults applied if omitted)")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Address to serve Prometheus metrics on (e.g. :9090); empty disables it")
	cmd.Flags().DurationVar(&idleTTL, "idle-ttl", 30*time.Minute, "Evict an idle, in-memory session after this long with no activity")
	cmd.Flags().StringVar(&sweepSpec, "sweep-schedule", "@every 5m", "Cron schedule for the idle-session sweep")

	return cmd
}

type serveOptions struct {
	configPath  string
	debug       bool
	metricsAddr string
	idleTTL     time.Duration
	sweepSpec   string
}

// runServe builds every process-wide collaborator and blocks on the
// stdio read loop until EOF or a shutdown signal arrives.
func runServe(ctx context.Context, opts serveOptions) error {
	logger := observability.NewLogger(opts.debug)

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("opal: load config: %w", err)
	}

	dataDir := cfg.DataDir
	if dataDir == "" {
		dataDir, err = config.DataDir()
		if err != nil {
			return fmt.Errorf("opal: resolve data dir: %w", err)
		}
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("opal: create data dir: %w", err)
	}

	logger.Info("opal: starting", "version", config.Version, "data_dir", dataDir, "debug", opts.debug)

	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	prov, err := anthropic.New(anthropic.Config{APIKey: apiKey, DefaultModel: cfg.Model.ID})
	if err != nil {
		return fmt.Errorf("opal: construct provider: %w", err)
	}

	hub := bus.NewHub()
	persister := session.NewJSONLPersister(dataDir)
	store := session.NewStore(persister)
	tasks := taskstore.Open(dataDir)
	defer tasks.Close()

	server := rpc.NewServer(cfg, prov, hub, store, tasks, logger, dataDir, os.Stdout)

	sweep, err := server.StartIdleSweep(opts.sweepSpec, opts.idleTTL)
	if err != nil {
		return fmt.Errorf("opal: start idle sweep: %w", err)
	}
	defer sweep.Stop()

	var metricsSrv *http.Server
	if opts.metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(server.Metrics().Registry, promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{Addr: opts.metricsAddr, Handler: mux}
		go func() {
			logger.Info("opal: serving metrics", "addr", opts.metricsAddr)
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("opal: metrics server failed", "error", err)
			}
		}()
	}

	runCtx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- server.Run(runCtx, os.Stdin) }()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("opal: server loop exited", "error", err)
		}
	case <-runCtx.Done():
		logger.Info("opal: shutdown signal received")
	}

	if metricsSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}

	logger.Info("opal: stopped")
	return nil
}
