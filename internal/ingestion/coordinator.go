package ingestion

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/xsync/xsync/internal/models"
	"github.com/xsync/xsync/internal/relay"
)

// PersistMode selects how the coordinator treats interactions that are
// already stored.
type PersistMode int

const (
	// PersistNew skips stored interactions and inserts the rest.
	PersistNew PersistMode = iota
	// PersistMerge refreshes stored interactions in place, keeping their
	// publish outcome, and inserts the rest.
	PersistMerge
)

// CoordinatorConfig configures publishing.
type CoordinatorConfig struct {
	PubKey         string
	PublishTimeout time.Duration
}

// ProcessResult summarizes one coordinator pass.
type ProcessResult struct {
	Stored    []models.Interaction
	Skipped   int
	Published int
	Failed    int
}

// Coordinator publishes each new interaction to the relay and then persists
// it. Items are handled one at a time; a failure affects only that item.
type Coordinator struct {
	repo      InteractionRepository
	publisher Publisher
	cfg       CoordinatorConfig
	recorder  Recorder
	logger    *slog.Logger
}

// NewCoordinator creates a coordinator. A nil publisher disables publishing:
// interactions are stored unpublished. recorder may be nil.
func NewCoordinator(repo InteractionRepository, publisher Publisher, cfg CoordinatorConfig, recorder Recorder, logger *slog.Logger) *Coordinator {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Coordinator{
		repo:      repo,
		publisher: publisher,
		cfg:       cfg,
		recorder:  recorder,
		logger:    logger,
	}
}

// Process runs publish-then-persist over items in order.
func (c *Coordinator) Process(ctx context.Context, items []models.Interaction, mode PersistMode) ProcessResult {
	var result ProcessResult

	for i, in := range items {
		if ctx.Err() != nil {
			c.logger.Warn("processing interrupted", "remaining", len(items)-i)
			break
		}

		if err := in.Validate(); err != nil {
			c.recorder.PersistOutcome(PersistFailed)
			c.logger.Error("dropping invalid interaction",
				"interaction_id", in.InteractionID,
				"error", err,
			)
			result.Failed++
			continue
		}

		existing, err := c.lookup(ctx, in.InteractionID, mode)
		if err != nil {
			c.recorder.PersistOutcome(PersistFailed)
			c.logger.Error("failed to check stored interaction",
				"interaction_id", in.InteractionID,
				"error", err,
			)
			result.Failed++
			continue
		}

		if existing != nil {
			if mode == PersistNew {
				c.recorder.PersistOutcome(PersistSkipped)
				result.Skipped++
				continue
			}
			in.Published = existing.Published
			in.PublishEventID = existing.PublishEventID
			if err := c.repo.Upsert(ctx, in); err != nil {
				c.recorder.PersistOutcome(PersistFailed)
				c.logger.Error("failed to merge interaction",
					"interaction_id", in.InteractionID,
					"error", err,
				)
				result.Failed++
				continue
			}
			c.recorder.PersistOutcome(PersistMerged)
			result.Stored = append(result.Stored, in)
			continue
		}

		in = c.publish(ctx, in)
		if in.Published {
			result.Published++
		}

		if err := c.persist(ctx, in, mode); err != nil {
			if errors.Is(err, models.ErrUniqueViolation) {
				c.recorder.PersistOutcome(PersistDuplicate)
				c.logger.Info("interaction stored concurrently by another writer",
					"interaction_id", in.InteractionID,
				)
				result.Stored = append(result.Stored, in)
				continue
			}
			c.recorder.PersistOutcome(PersistFailed)
			c.logger.Error("failed to persist interaction",
				"interaction_id", in.InteractionID,
				"error", err,
			)
			result.Failed++
			continue
		}

		c.recorder.PersistOutcome(PersistInserted)
		result.Stored = append(result.Stored, in)
	}

	return result
}

func (c *Coordinator) lookup(ctx context.Context, id string, mode PersistMode) (*models.Interaction, error) {
	if mode == PersistMerge {
		return c.repo.Get(ctx, id)
	}
	ok, err := c.repo.Exists(ctx, id)
	if err != nil || !ok {
		return nil, err
	}
	return &models.Interaction{InteractionID: id}, nil
}

func (c *Coordinator) persist(ctx context.Context, in models.Interaction, mode PersistMode) error {
	if mode == PersistMerge {
		return c.repo.Upsert(ctx, in)
	}
	return c.repo.Insert(ctx, in)
}

// publish submits the interaction and records the outcome on it. Every
// outcome is non-fatal; only an acked success marks it published.
func (c *Coordinator) publish(ctx context.Context, in models.Interaction) models.Interaction {
	in.Published = false
	in.PublishEventID = nil

	if c.publisher == nil {
		c.recorder.PublishOutcome(PublishDisabled)
		return in
	}

	ev := relay.NewEvent(in, c.cfg.PubKey)

	pctx := ctx
	if c.cfg.PublishTimeout > 0 {
		var cancel context.CancelFunc
		pctx, cancel = context.WithTimeout(ctx, c.cfg.PublishTimeout)
		defer cancel()
	}

	ack, err := c.publisher.Publish(pctx, ev)
	switch {
	case err == nil && ack.Accepted:
		id := ack.EventID
		if id == "" {
			id = ev.ID
		}
		in.Published = true
		in.PublishEventID = &id
		c.recorder.PublishOutcome(PublishAcked)

	case errors.Is(err, models.ErrPublishTimeout) || errors.Is(err, context.DeadlineExceeded):
		c.recorder.PublishOutcome(PublishTimeout)
		c.logger.Warn("publish not acknowledged in time",
			"interaction_id", in.InteractionID,
			"event_id", ev.ID,
		)

	case errors.Is(err, models.ErrPublishRejected) || (err == nil && !ack.Accepted):
		c.recorder.PublishOutcome(PublishRejected)
		c.logger.Warn("publish rejected by relay",
			"interaction_id", in.InteractionID,
			"event_id", ev.ID,
			"message", ack.Message,
		)

	default:
		c.recorder.PublishOutcome(PublishError)
		c.logger.Error("publish failed",
			"interaction_id", in.InteractionID,
			"event_id", ev.ID,
			"error", err,
		)
	}

	return in
}
