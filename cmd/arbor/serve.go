package main

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/arborhq/arbor/internal/activity"
	"github.com/arborhq/arbor/internal/collab"
	"github.com/arborhq/arbor/internal/config"
	"github.com/arborhq/arbor/internal/ephemeral"
	"github.com/arborhq/arbor/internal/gateway"
	"github.com/arborhq/arbor/internal/jobs"
	"github.com/arborhq/arbor/internal/observability"
	"github.com/arborhq/arbor/internal/sessions"
)

func buildServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the collaboration server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return runServe(cfg)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "Path to configuration file")
	return cmd
}

func runServe(cfg *config.Config) error {
	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Observability.LogLevel,
		Format: cfg.Observability.LogFormat,
	})
	slog.SetDefault(logger)

	metrics := observability.NewMetrics()
	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName: "arbor",
		Endpoint:    cfg.Observability.OTLPEndpoint,
		SampleRate:  cfg.Observability.SampleRate,
	})

	ess, degraded := connectEphemeral(cfg, logger)
	defer ess.Close()

	durable, activityStore, err := connectDurable(cfg, logger)
	if err != nil {
		return err
	}
	defer durable.Close()
	defer activityStore.Close()

	collabSvc := collab.NewService(ess, durable, cfg.Collaboration, logger, metrics)

	server := gateway.NewServer(gateway.Options{
		Config:   cfg,
		Logger:   logger,
		Metrics:  metrics,
		Tracer:   tracer,
		Collab:   collabSvc,
		ESS:      ess,
		Sessions: durable,
		Degraded: degraded,
	})
	activitySvc := activity.NewService(activityStore, server, cfg.Activity, logger, metrics)
	server.SetActivity(activitySvc)

	runner := jobs.NewRunner(collabSvc, activitySvc, durable, cfg, logger)
	if err := runner.Start(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return server.Run(ctx)
	})

	err = group.Wait()

	// Ordered shutdown: stop accepting work, flush pending activity, then
	// tear down exporters and stores.
	runner.Stop()
	activitySvc.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if terr := shutdownTracer(shutdownCtx); terr != nil {
		logger.Warn("tracer shutdown", "error", terr)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("server stopped")
	return nil
}

// connectEphemeral connects the redis store. An empty URL is dev mode on the
// in-process memory store; a failed connection past the ready timeout starts
// the server database-only degraded, with an ephemeral store whose operations
// all fail so callers take their durable fallbacks instead of reading
// process-local state no other instance can see.
func connectEphemeral(cfg *config.Config, logger *slog.Logger) (ephemeral.Store, bool) {
	if cfg.Ephemeral.URL == "" {
		logger.Info("no ephemeral store configured, using in-process memory store")
		return ephemeral.NewMemoryStore(), false
	}
	store, err := ephemeral.NewRedisStore(cfg.Ephemeral.URL, ephemeral.Options{
		ReadyTimeout: cfg.Ephemeral.ReadyTimeout,
		MaxRetries:   cfg.Ephemeral.MaxRetries,
		Logger:       logger,
	})
	if err != nil {
		logger.Error("ephemeral store unreachable, starting degraded (database only)",
			"error", err)
		return ephemeral.NewUnavailableStore(), true
	}
	logger.Info("ephemeral store connected")
	return store, false
}

// connectDurable opens the Postgres stores, or their memory twins when no
// database is configured (dev mode).
func connectDurable(cfg *config.Config, logger *slog.Logger) (sessions.Store, activity.Store, error) {
	if cfg.Database.URL == "" {
		logger.Info("no database configured, using in-process memory stores")
		return sessions.NewMemoryStore(), activity.NewMemoryStore(), nil
	}

	durable, err := sessions.NewPostgresStore(cfg.Database.URL, sessions.PostgresConfig{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return nil, nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	activityStore, err := activity.NewPostgresStore(ctx, durable.DB())
	if err != nil {
		_ = durable.Close()
		return nil, nil, err
	}
	logger.Info("database connected")
	return durable, activityStore, nil
}
