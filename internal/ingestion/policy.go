package ingestion

import (
	"context"
	"errors"
	"log/slog"

	"github.com/xsync/xsync/internal/models"
)

// ErrorPolicy decides what a failed channel scan means for the run. Only an
// unresolvable account or a canceled run escapes; every other failure empties
// the channel and the run continues with partial results.
type ErrorPolicy struct {
	recorder Recorder
	logger   *slog.Logger
}

// NewErrorPolicy creates a policy. recorder may be nil.
func NewErrorPolicy(recorder Recorder, logger *slog.Logger) *ErrorPolicy {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &ErrorPolicy{recorder: recorder, logger: logger}
}

// Apply runs fetch and classifies its failure.
func (p *ErrorPolicy) Apply(ctx context.Context, channel models.InteractionType, anchorID string, fetch func() ([]models.Interaction, error)) ([]models.Interaction, error) {
	items, err := fetch()
	if err != nil {
		return nil, p.Classify(ctx, channel, anchorID, err)
	}
	p.recorder.ChannelCollected(channel, len(items))
	return items, nil
}

// Classify returns err when it must abort the run, or nil once the failure
// has been logged and the channel can be treated as empty.
func (p *ErrorPolicy) Classify(ctx context.Context, channel models.InteractionType, anchorID string, err error) error {
	switch {
	case errors.Is(err, models.ErrAccountNotFound):
		return err

	case ctx.Err() != nil:
		return ctx.Err()

	case errors.Is(err, models.ErrRateLimited):
		p.recorder.ChannelFailed(channel, ReasonRateLimited)
		p.logger.Warn("channel rate limited, deferring to next run",
			"channel", channel,
			"anchor", anchorID,
			"error", err,
		)
		return nil

	default:
		p.recorder.ChannelFailed(channel, ReasonError)
		p.logger.Error("channel fetch failed, skipping",
			"channel", channel,
			"anchor", anchorID,
			"error", err,
		)
		return nil
	}
}
