// Package service exposes the sync operations used by the daemon, the CLI and
// the accounts file watcher.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/xsync/xsync/internal/config"
	"github.com/xsync/xsync/internal/ingestion"
	"github.com/xsync/xsync/internal/models"
	"github.com/xsync/xsync/internal/scheduler"
)

// Trigger label for on-demand runs.
const triggerAdhoc = "adhoc"

// Pagination bounds for ListInteractions.
const (
	DefaultPerPage = 20
	MaxPerPage     = 100
)

// startTimeLayout is the accepted backfill start format: UTC with a literal Z.
const startTimeLayout = "2006-01-02T15:04:05Z"

// Config holds configuration for the sync service.
type Config struct {
	// AdhocLookback is the default RunOnce window when no since time is given.
	AdhocLookback time.Duration
	Collector     ingestion.CollectorConfig
	Coordinator   ingestion.CoordinatorConfig
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		AdhocLookback: 7 * 24 * time.Hour,
		Collector:     ingestion.DefaultCollectorConfig(),
		Coordinator:   ingestion.CoordinatorConfig{PublishTimeout: 10 * time.Second},
	}
}

// ConfigFrom maps the process configuration onto service settings.
func ConfigFrom(cfg config.Config) Config {
	c := DefaultConfig()
	c.AdhocLookback = cfg.Sync.AdhocLookback
	c.Collector.PostLookback = cfg.Sync.PostLookback
	c.Collector.ConcurrentPosts = cfg.Sync.ConcurrentPosts
	c.Collector.Fetcher.PageDelay = cfg.Sync.PageDelay
	c.Coordinator.PubKey = cfg.Relay.PublicKey
	c.Coordinator.PublishTimeout = cfg.Relay.PublishTimeout
	return c
}

// Dependencies are the collaborators a SyncService is built from. Publisher
// and Recorder may be nil.
type Dependencies struct {
	Client       ingestion.SocialClient
	Interactions ingestion.InteractionRepository
	Jobs         ingestion.SyncJobRepository
	Publisher    ingestion.Publisher
	Recorder     ingestion.Recorder
}

// SyncService ties the collector, the coordinator and the job registry together.
type SyncService struct {
	client       ingestion.SocialClient
	interactions ingestion.InteractionRepository
	collector    *ingestion.Collector
	coordinator  *ingestion.Coordinator
	registry     *scheduler.Registry
	recorder     ingestion.Recorder
	cfg          Config
	logger       *slog.Logger
	now          func() time.Time
}

// New creates a sync service. Start must be called before scheduled runs fire.
func New(deps Dependencies, cfg Config, logger *slog.Logger) *SyncService {
	recorder := deps.Recorder
	if recorder == nil {
		recorder = ingestion.NopRecorder()
	}

	s := &SyncService{
		client:       deps.Client,
		interactions: deps.Interactions,
		collector:    ingestion.NewCollector(deps.Client, cfg.Collector, recorder, logger),
		coordinator:  ingestion.NewCoordinator(deps.Interactions, deps.Publisher, cfg.Coordinator, recorder, logger),
		recorder:     recorder,
		cfg:          cfg,
		logger:       logger,
		now:          time.Now,
	}
	s.registry = scheduler.NewRegistry(deps.Jobs, s.runScheduled, logger)
	return s
}

// Start restores persisted schedules and begins dispatching runs.
func (s *SyncService) Start(ctx context.Context) error {
	return s.registry.Start(ctx)
}

// Shutdown stops scheduling and waits for in-flight runs.
func (s *SyncService) Shutdown(ctx context.Context) error {
	return s.registry.Shutdown(ctx)
}

// RegisterSync validates the request, confirms the account exists and installs
// its schedule, replacing any previous one.
func (s *SyncService) RegisterSync(ctx context.Context, account, frequency, startTime string) error {
	account = normalizeAccount(account)
	if account == "" {
		return fmt.Errorf("media account is required")
	}

	interval, err := scheduler.ParseFrequency(frequency)
	if err != nil {
		return err
	}

	start, err := parseStartTime(startTime, s.now())
	if err != nil {
		return err
	}

	if _, err := s.client.ResolveAccountID(ctx, account); err != nil {
		return fmt.Errorf("resolve %s: %w", account, err)
	}

	return s.registry.Register(ctx, models.SyncJob{
		Account:       account,
		Frequency:     strings.TrimSpace(frequency),
		Interval:      interval,
		BackfillStart: start,
	})
}

// UnregisterSync cancels the account's schedule.
func (s *SyncService) UnregisterSync(ctx context.Context, account string) error {
	return s.registry.Unregister(ctx, normalizeAccount(account))
}

// Job returns the active schedule for account.
func (s *SyncService) Job(account string) (models.SyncJob, bool) {
	return s.registry.Job(normalizeAccount(account))
}

// Accounts lists the scheduled accounts in sorted order.
func (s *SyncService) Accounts() []string {
	return s.registry.Accounts()
}

// RunOnce collects the account's interactions since the given time (default:
// the configured ad-hoc lookback), optionally keeping only one actor, and
// stores them. It returns what was stored. Only account resolution and
// cancellation fail the call; channel and publish failures yield partial results.
func (s *SyncService) RunOnce(ctx context.Context, account, username string, since *time.Time) ([]models.Interaction, error) {
	account = normalizeAccount(account)
	if account == "" {
		return nil, fmt.Errorf("media account is required")
	}

	now := s.now().UTC()
	lower := now.Add(-s.cfg.AdhocLookback)
	if since != nil {
		if !since.Before(now) {
			return nil, fmt.Errorf("%w: since must be in the past", models.ErrInvalidStartTime)
		}
		lower = since.UTC()
	}

	started := time.Now()
	coll, err := s.collector.Collect(ctx, ingestion.CollectRequest{
		Account:  account,
		Window:   models.SyncWindow{Lower: lower, Upper: now},
		Username: username,
	})
	if err != nil {
		s.recorder.RunFinished(triggerAdhoc, time.Since(started), err)
		return nil, err
	}

	res := s.coordinator.Process(ctx, coll.Interactions, ingestion.PersistMerge)
	s.recorder.RunFinished(triggerAdhoc, time.Since(started), nil)

	s.logger.Info("ad-hoc sync finished",
		"run_id", coll.RunID,
		"account", account,
		"username", username,
		"stored", len(res.Stored),
		"published", res.Published,
		"failed", res.Failed,
	)

	if res.Stored == nil {
		return []models.Interaction{}, nil
	}
	return res.Stored, nil
}

// ListInteractions returns one page of stored interactions, newest first.
func (s *SyncService) ListInteractions(ctx context.Context, q models.InteractionQuery) (models.InteractionPage, error) {
	q.Account = normalizeAccount(q.Account)
	q.Username = normalizeAccount(q.Username)
	if q.Page == 0 {
		q.Page = 1
	}
	if q.PerPage == 0 {
		q.PerPage = DefaultPerPage
	}

	if q.Page < 1 {
		return models.InteractionPage{}, fmt.Errorf("%w: page must be at least 1", models.ErrInvalidQuery)
	}
	if q.PerPage < 1 || q.PerPage > MaxPerPage {
		return models.InteractionPage{}, fmt.Errorf("%w: per_page must be between 1 and %d", models.ErrInvalidQuery, MaxPerPage)
	}
	if q.Start != nil && q.End != nil && q.Start.After(*q.End) {
		return models.InteractionPage{}, fmt.Errorf("%w: start is after end", models.ErrInvalidQuery)
	}

	items, total, err := s.interactions.List(ctx, q)
	if err != nil {
		return models.InteractionPage{}, err
	}

	return models.InteractionPage{
		Account:      q.Account,
		Username:     q.Username,
		Pagination:   models.NewPagination(q.Page, q.PerPage, total),
		Interactions: items,
	}, nil
}

// InteractionStats counts one actor's stored interactions per type.
func (s *SyncService) InteractionStats(ctx context.Context, userID string) (models.InteractionStats, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return models.InteractionStats{}, fmt.Errorf("%w: user id is required", models.ErrInvalidQuery)
	}
	return s.interactions.Stats(ctx, userID)
}

// runScheduled is the registry's RunFunc.
func (s *SyncService) runScheduled(ctx context.Context, run scheduler.Run) error {
	started := time.Now()
	trigger := string(run.Trigger)

	coll, err := s.collector.Collect(ctx, ingestion.CollectRequest{
		Account:       run.Job.Account,
		Window:        run.Window,
		BackfillStart: run.Job.BackfillStart,
	})
	if err != nil {
		s.recorder.RunFinished(trigger, time.Since(started), err)
		return err
	}

	res := s.coordinator.Process(ctx, coll.Interactions, ingestion.PersistNew)
	s.recorder.RunFinished(trigger, time.Since(started), nil)

	s.logger.Info("sync run finished",
		"run_id", coll.RunID,
		"account", run.Job.Account,
		"trigger", trigger,
		"window_start", run.Window.Lower,
		"window_end", run.Window.Upper,
		"collected", len(coll.Interactions),
		"stored", len(res.Stored),
		"skipped", res.Skipped,
		"published", res.Published,
		"failed", res.Failed,
		"duration", time.Since(started),
	)
	return nil
}

func parseStartTime(raw string, now time.Time) (time.Time, error) {
	start, err := time.Parse(startTimeLayout, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q must look like 2025-01-23T12:00:00Z", models.ErrInvalidStartTime, raw)
	}
	if !start.Before(now) {
		return time.Time{}, fmt.Errorf("%w: %s is not in the past", models.ErrInvalidStartTime, raw)
	}
	return start, nil
}

func normalizeAccount(account string) string {
	return strings.TrimPrefix(strings.TrimSpace(account), "@")
}

// IsValidationError reports whether err stems from caller input rather than
// an upstream or storage failure.
func IsValidationError(err error) bool {
	return errors.Is(err, models.ErrInvalidFrequency) ||
		errors.Is(err, models.ErrInvalidStartTime) ||
		errors.Is(err, models.ErrInvalidQuery)
}
