package main

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/xsync/xsync/internal/cloudsql"
	"github.com/xsync/xsync/internal/config"
	"github.com/xsync/xsync/internal/database"
	"github.com/xsync/xsync/internal/ingestion"
	"github.com/xsync/xsync/internal/logging"
	"github.com/xsync/xsync/internal/metrics"
	"github.com/xsync/xsync/internal/relay"
	"github.com/xsync/xsync/internal/scheduler"
	"github.com/xsync/xsync/internal/server"
	"github.com/xsync/xsync/internal/service"
	"github.com/xsync/xsync/internal/social"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("failed to init logger", "error", err)
		os.Exit(1)
	}

	logger.Info("starting xsync")

	ctx := context.Background()

	dbCfg := database.DefaultConfig()
	dbCfg.URL = cfg.Database.URL
	dbCfg.MaxConnections = cfg.Database.MaxConnections

	logger.Info("connecting to database", "url", cloudsql.Redact(dbCfg.URL))
	db, err := database.Connect(ctx, dbCfg)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	logger.Info("database connected", "stats", database.Stats(db))

	if err := database.RunMigrations(ctx, db, cfg.Database.MigrationsDir, logger); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	twitter := social.NewTwitterClient(cfg.Twitter, cfg.Sync.MaxResults, logger)
	if err := twitter.ValidateCredentials(ctx); err != nil {
		logger.Warn("twitter credentials rejected, runs will fail until fixed", "error", err)
	}

	// A nil *relay.Client must not reach the service as a non-nil interface.
	var publisher ingestion.Publisher
	if cfg.Relay.URL != "" {
		publisher = relay.NewClient(cfg.Relay.URL, cfg.Relay.PublishTimeout, logger)
		logger.Info("relay publishing enabled", "url", cfg.Relay.URL)
	} else {
		logger.Warn("RELAY_URL not set, interactions will be stored unpublished")
	}

	httpCollector, err := metrics.NewHTTPCollector()
	if err != nil {
		logger.Error("failed to init metrics", "error", err)
		os.Exit(1)
	}
	syncCollector, err := metrics.NewSyncCollector(httpCollector.Registry())
	if err != nil {
		logger.Error("failed to init sync metrics", "error", err)
		os.Exit(1)
	}

	svc := service.New(service.Dependencies{
		Client:       twitter,
		Interactions: database.NewInteractionRepository(db),
		Jobs:         database.NewSyncJobRepository(db),
		Publisher:    publisher,
		Recorder:     syncCollector,
	}, service.ConfigFrom(cfg), logger)

	if err := svc.Start(ctx); err != nil {
		logger.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	if cfg.Sync.AccountsFile != "" {
		watcher := scheduler.NewWatcher(cfg.Sync.AccountsFile, svc, logger)
		go func() {
			if err := watcher.Run(watchCtx); err != nil {
				logger.Error("accounts watcher stopped", "path", cfg.Sync.AccountsFile, "error", err)
			}
		}()
	}

	checks := map[string]server.HealthFunc{
		"database": func(ctx context.Context) error { return database.HealthCheck(ctx, db) },
	}
	accounts := func() int { return len(svc.Accounts()) }
	srv := server.New(cfg.Server, logger, server.NewHandler(checks, accounts, httpCollector, logger))

	go func() {
		if err := srv.Start(); err != nil {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	logger.Info("xsync started", "port", cfg.Server.Port, "accounts", len(svc.Accounts()))

	waitForSignal(logger)

	logger.Info("shutting down")
	stopWatch()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	shutdown(svc, db, cfg.Server.ShutdownTimeout, logger)
	logger.Info("shutdown complete")
}

// shutdown lets in-flight runs finish before the database closes.
func shutdown(svc *service.SyncService, db *sql.DB, timeout time.Duration, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := svc.Shutdown(ctx); err != nil {
		logger.Warn("sync runs still in flight at shutdown", "error", err)
	}
	if err := db.Close(); err != nil {
		logger.Error("failed to close database", "error", err)
	}
}

func waitForSignal(logger *slog.Logger) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	sig := <-c
	logger.Info("received signal", "signal", sig.String())
	signal.Stop(c)
	close(c)
}
