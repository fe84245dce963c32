package ingestion

import (
	"context"
	"time"

	"github.com/xsync/xsync/internal/models"
	"github.com/xsync/xsync/internal/relay"
	"github.com/xsync/xsync/internal/social"
)

// SocialClient is the read side of the social platform the collector depends on.
// List calls take a page cursor ("" for the first page) and return the next one.
type SocialClient interface {
	// ResolveAccountID maps a handle to the platform id. It returns an error
	// matching models.ErrAccountNotFound for unknown handles.
	ResolveAccountID(ctx context.Context, handle string) (string, error)

	ListRecentPosts(ctx context.Context, userID string, since time.Time, token string) (social.Page, error)
	ListQuotes(ctx context.Context, postID, token string) (social.Page, error)
	ListRetweets(ctx context.Context, postID, token string) (social.Page, error)
	ListReplies(ctx context.Context, postID string, since time.Time, token string) (social.Page, error)
	ListMentions(ctx context.Context, userID string, since time.Time, token string) (social.Page, error)
}

// Publisher submits events to the external event log and waits for the ack.
type Publisher interface {
	Publish(ctx context.Context, ev relay.Event) (relay.Ack, error)
}

// Recorder receives sync telemetry. Implementations must be safe for
// concurrent use.
type Recorder interface {
	ChannelCollected(channel models.InteractionType, n int)
	ChannelFailed(channel models.InteractionType, reason string)
	PublishOutcome(outcome string)
	PersistOutcome(outcome string)
	RunFinished(trigger string, duration time.Duration, err error)
}

// Failure reasons and outcomes reported to the Recorder.
const (
	ReasonRateLimited = "rate_limited"
	ReasonError       = "error"

	PublishAcked    = "acked"
	PublishRejected = "rejected"
	PublishTimeout  = "timeout"
	PublishError    = "error"
	PublishDisabled = "disabled"

	PersistInserted  = "inserted"
	PersistMerged    = "merged"
	PersistDuplicate = "duplicate"
	PersistSkipped   = "skipped"
	PersistFailed    = "failed"
)

// NopRecorder returns a Recorder that discards everything.
func NopRecorder() Recorder { return nopRecorder{} }

type nopRecorder struct{}

func (nopRecorder) ChannelCollected(models.InteractionType, int) {}
func (nopRecorder) ChannelFailed(models.InteractionType, string) {}
func (nopRecorder) PublishOutcome(string) {}
func (nopRecorder) PersistOutcome(string) {}
func (nopRecorder) RunFinished(string, time.Duration, error) {}

// Anchor is the object a channel is scanned for: a post for quotes, retweets
// and replies, or the tracked account itself for mentions.
type Anchor struct {
	ID        string
	CreatedAt *time.Time
}
