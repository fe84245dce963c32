package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/xsync/xsync/internal/config"
	"github.com/xsync/xsync/internal/database"
	"github.com/xsync/xsync/internal/ingestion"
	"github.com/xsync/xsync/internal/logging"
	"github.com/xsync/xsync/internal/relay"
	"github.com/xsync/xsync/internal/service"
	"github.com/xsync/xsync/internal/social"
)

// Backend is what commands operate on. Service is never started: the CLI runs
// collection synchronously and leaves scheduling to the daemon.
type Backend struct {
	Service *service.SyncService
	Jobs    ingestion.SyncJobRepository
	Close   func() error
}

// Opener builds a Backend for one command invocation.
type Opener func(ctx context.Context) (*Backend, error)

// OpenFromEnv builds a Backend from the same environment the daemon reads.
// Logs go to stderr so JSON output stays parseable.
func OpenFromEnv(ctx context.Context) (*Backend, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.NewWithWriter(cfg.Logging, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	dbCfg := database.DefaultConfig()
	dbCfg.URL = cfg.Database.URL
	dbCfg.MaxConnections = cfg.Database.MaxConnections
	db, err := database.Connect(ctx, dbCfg)
	if err != nil {
		return nil, err
	}
	if err := database.RunMigrations(ctx, db, cfg.Database.MigrationsDir, logger); err != nil {
		db.Close()
		return nil, err
	}

	var publisher ingestion.Publisher
	if cfg.Relay.URL != "" {
		publisher = relay.NewClient(cfg.Relay.URL, cfg.Relay.PublishTimeout, logger)
	}

	jobs := database.NewSyncJobRepository(db)
	svc := service.New(service.Dependencies{
		Client:       social.NewTwitterClient(cfg.Twitter, cfg.Sync.MaxResults, logger),
		Interactions: database.NewInteractionRepository(db),
		Jobs:         jobs,
		Publisher:    publisher,
	}, service.ConfigFrom(cfg), logger)

	return &Backend{Service: svc, Jobs: jobs, Close: db.Close}, nil
}

func (o *RootOptions) withBackend(ctx context.Context, fn func(*Backend) error) error {
	if o.Open == nil {
		return NewExitError(ExitCommandError, "no backend configured")
	}
	b, err := o.Open(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "open backend", err)
	}
	if b.Close != nil {
		defer b.Close()
	}
	return fn(b)
}
