package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/hugo-lorenzo-mato/openhands-runner/internal/adapters/github"
	"github.com/hugo-lorenzo-mato/openhands-runner/internal/adapters/gitlab"
	"github.com/hugo-lorenzo-mato/openhands-runner/internal/adapters/openhands"
	"github.com/hugo-lorenzo-mato/openhands-runner/internal/adapters/store"
	"github.com/hugo-lorenzo-mato/openhands-runner/internal/api"
	"github.com/hugo-lorenzo-mato/openhands-runner/internal/config"
	"github.com/hugo-lorenzo-mato/openhands-runner/internal/diagnostics"
	"github.com/hugo-lorenzo-mato/openhands-runner/internal/events"
	"github.com/hugo-lorenzo-mato/openhands-runner/internal/logging"
	"github.com/hugo-lorenzo-mato/openhands-runner/internal/service/query"
	"github.com/hugo-lorenzo-mato/openhands-runner/internal/service/reconcile"
	"github.com/hugo-lorenzo-mato/openhands-runner/internal/service/webhook"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and the reconciliation engine",
	Long: `Start the runner service.

The service exposes the run API and webhook endpoints over HTTP and sweeps
active runs on a fixed interval until interrupted. The log level follows
edits to the config file without a restart.

Examples:
  # Start with defaults (127.0.0.1:8080, sqlite at .runner/runner.db)
  runner serve

  # Listen on all interfaces
  runner serve --host 0.0.0.0 --port 9000

  # Use PostgreSQL
  RUNNER_STORE_DRIVER=postgres RUNNER_STORE_DSN=postgres://... runner serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "", "Host address to bind to")
	serveCmd.Flags().IntP("port", "p", 0, "Port to listen on")
	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, loader, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	for _, secret := range []string{cfg.Remote.Token, cfg.Webhook.GitHubSecret, cfg.Webhook.GitLabToken} {
		logger.Sanitizer().AddSecret(secret)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, store.Options{
		Driver:       cfg.Store.Driver,
		DSN:          cfg.Store.DSN,
		MaxOpenConns: cfg.Store.MaxOpenConns,
	})
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Warn("failed to close store", slog.String("error", closeErr.Error()))
		}
	}()

	remote, err := openhands.New(openhands.Config{
		BaseURL:        cfg.Remote.BaseURL,
		Token:          cfg.Remote.Token,
		RequestTimeout: cfg.Remote.RequestTimeout,
		RateLimit:      cfg.Remote.RateLimit,
		Burst:          cfg.Remote.Burst,
	}, logger)
	if err != nil {
		return fmt.Errorf("creating remote client: %w", err)
	}

	eventBus := events.New(cfg.Events.BufferSize)
	defer eventBus.Close()

	engine := reconcile.New(reconcile.Config{
		Store:         st,
		Remote:        remote,
		Bus:           eventBus,
		Logger:        logger,
		PollInterval:  cfg.Poll.Interval,
		MaxFailures:   cfg.Poll.MaxFailures,
		Concurrency:   cfg.Poll.Concurrency,
		SettleWindow:  cfg.Poll.SettleWindow,
		StartTimeout:  cfg.Remote.StartTimeout,
		QueuedTimeout: cfg.Poll.QueuedTimeout,
	})

	server := api.NewServer(api.Deps{
		Runs:     engine,
		Queries:  query.New(st),
		Ingestor: webhook.NewIngestor(st, engine, logger),
		Remote:   remote,
		Store:    st,
		Bus:      eventBus,
	}, serverOptions(cfg, engine, logger)...)

	if loader.Watch(func(next *config.Config) {
		logger.SetLevel(next.Log.Level)
		logger.Info("configuration reloaded", slog.String("log_level", next.Log.Level))
	}, func(err error) {
		logger.Warn("ignoring invalid configuration", slog.String("error", err.Error()))
	}) {
		logger.Debug("watching config file", slog.String("path", loader.ConfigFile()))
	}

	logger.Info("runner starting",
		slog.String("version", appVersion),
		slog.String("addr", cfg.Server.Addr()),
		slog.String("store", cfg.Store.Driver),
		slog.String("remote", remote.BaseURL()),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return engine.Run(gctx)
	})
	g.Go(func() error {
		return server.ListenAndServe(gctx, cfg.Server.Addr(), cfg.Server.ShutdownTimeout)
	})

	err = g.Wait()
	engine.Close()
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("server: %w", err)
	}

	logger.Info("runner stopped")
	return nil
}

func serverOptions(cfg *config.Config, engine *reconcile.Engine, logger *logging.Logger) []api.ServerOption {
	if cfg.Webhook.GitHubSecret == "" && !cfg.Webhook.AllowUnsigned {
		logger.Warn("no GitHub webhook secret configured, GitHub deliveries will be rejected")
	}
	if cfg.Webhook.GitLabToken == "" && !cfg.Webhook.AllowUnsigned {
		logger.Warn("no GitLab webhook token configured, GitLab deliveries will be rejected")
	}

	diskPath := ""
	if cfg.Store.Driver == store.DriverSQLite {
		if abs, err := filepath.Abs(filepath.Dir(cfg.Store.DSN)); err == nil {
			diskPath = abs
		}
	}

	return []api.ServerOption{
		api.WithLogger(logger),
		api.WithProvider(github.NewWebhook(cfg.Webhook.GitHubSecret, cfg.Webhook.AllowUnsigned)),
		api.WithProvider(gitlab.NewWebhook(cfg.Webhook.GitLabToken, cfg.Webhook.AllowUnsigned)),
		api.WithMetrics(engine.Metrics()),
		api.WithSystemMetrics(diagnostics.NewSystemMetricsCollector(diskPath)),
		api.WithRemoteURL(cfg.Remote.BaseURL),
		api.WithCORSOrigins(cfg.Server.CORSOrigins),
		api.WithRequestTimeout(cfg.Server.RequestTimeout),
	}
}
