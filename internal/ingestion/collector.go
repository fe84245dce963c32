package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xsync/xsync/internal/models"
)

// postsChannel labels failures of the account's own post listing.
const postsChannel models.InteractionType = "posts"

// CollectorConfig holds configuration for a collection run.
type CollectorConfig struct {
	// PostLookback is how far before the window the account's own posts are
	// scanned; interactions on older posts can still be new.
	PostLookback time.Duration
	// ConcurrentPosts bounds how many posts are scanned in parallel.
	ConcurrentPosts int
	Fetcher         FetcherConfig
}

// DefaultCollectorConfig returns sensible defaults.
func DefaultCollectorConfig() CollectorConfig {
	return CollectorConfig{
		PostLookback:    7 * 24 * time.Hour,
		ConcurrentPosts: 3,
		Fetcher: FetcherConfig{
			PageDelay: time.Second,
			Retry:     DefaultRetryPolicy(),
		},
	}
}

// CollectRequest describes one collection run.
type CollectRequest struct {
	Account string
	Window  models.SyncWindow
	// BackfillStart bounds how far back posts are listed. Zero means the
	// window's lower bound minus the post lookback.
	BackfillStart time.Time
	// Username keeps only interactions by this actor when set.
	Username string
}

// Collection is the deduplicated result of one run, in channel precedence order.
type Collection struct {
	RunID        string
	Account      string
	AccountID    string
	Posts        int
	Raw          int
	Interactions []models.Interaction
}

// Collector orchestrates the channel fetchers for one account.
type Collector struct {
	client  SocialClient
	fetcher *ChannelFetcher
	policy  *ErrorPolicy
	cfg     CollectorConfig
	logger  *slog.Logger
}

// NewCollector creates a collector. recorder may be nil.
func NewCollector(client SocialClient, cfg CollectorConfig, recorder Recorder, logger *slog.Logger) *Collector {
	if cfg.ConcurrentPosts <= 0 {
		cfg.ConcurrentPosts = 1
	}
	return &Collector{
		client:  client,
		fetcher: NewChannelFetcher(client, cfg.Fetcher, logger),
		policy:  NewErrorPolicy(recorder, logger),
		cfg:     cfg,
		logger:  logger,
	}
}

// Collect runs every channel for req.Account. It fails only when the account
// cannot be resolved or ctx is canceled; channel failures yield partial results.
func (c *Collector) Collect(ctx context.Context, req CollectRequest) (Collection, error) {
	result := Collection{RunID: uuid.NewString(), Account: req.Account}
	logger := c.logger.With("run_id", result.RunID, "account", req.Account)
	watermark := req.Window.Lower

	accountID, err := c.client.ResolveAccountID(ctx, req.Account)
	if err != nil {
		return result, fmt.Errorf("resolve %s: %w", req.Account, err)
	}
	result.AccountID = accountID

	since := watermark.Add(-c.cfg.PostLookback)
	if since.Before(req.BackfillStart) {
		since = req.BackfillStart
	}

	anchors, err := c.fetcher.Posts(ctx, accountID, since)
	if err != nil {
		if err := c.policy.Classify(ctx, postsChannel, accountID, err); err != nil {
			return result, err
		}
		anchors = nil
	}
	result.Posts = len(anchors)

	logger.Info("collecting interactions",
		"posts", len(anchors),
		"posts_since", since,
		"watermark", watermark,
	)

	perPost, err := c.collectPosts(ctx, req.Account, anchors, watermark)
	if err != nil {
		return result, err
	}

	mentions, err := c.policy.Apply(ctx, models.InteractionMention, accountID, func() ([]models.Interaction, error) {
		return c.fetcher.Fetch(ctx, req.Account, models.InteractionMention, Anchor{ID: accountID}, watermark)
	})
	if err != nil {
		return result, err
	}

	dedup := NewDeduplicator()
	var merged []models.Interaction
	for _, ch := range models.Channels {
		if ch == models.InteractionMention {
			merged = dedup.Filter(merged, mentions)
			continue
		}
		for i := range anchors {
			merged = dedup.Filter(merged, perPost[i][ch])
		}
	}

	stats := dedup.Stats()
	result.Raw = stats.TotalProcessed
	result.Interactions = FilterByUsername(merged, req.Username)

	logger.Info("collection complete",
		"raw", stats.TotalProcessed,
		"duplicates", stats.Duplicates,
		"unique", len(result.Interactions),
	)
	return result, nil
}

// collectPosts scans the post-scoped channels of every post, a bounded number
// of posts at a time. Results are indexed by post so the merge order does not
// depend on goroutine scheduling.
func (c *Collector) collectPosts(ctx context.Context, account string, anchors []Anchor, watermark time.Time) ([]map[models.InteractionType][]models.Interaction, error) {
	results := make([]map[models.InteractionType][]models.Interaction, len(anchors))

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		fatalErr error
	)
	semaphore := make(chan struct{}, c.cfg.ConcurrentPosts)

	for i, anchor := range anchors {
		wg.Add(1)
		go func(i int, anchor Anchor) {
			defer wg.Done()

			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			byChannel := make(map[models.InteractionType][]models.Interaction, 3)
			for _, ch := range models.Channels {
				if !ch.PostScoped() {
					continue
				}
				items, err := c.policy.Apply(ctx, ch, anchor.ID, func() ([]models.Interaction, error) {
					return c.fetcher.Fetch(ctx, account, ch, anchor, watermark)
				})
				if err != nil {
					mu.Lock()
					if fatalErr == nil {
						fatalErr = err
					}
					mu.Unlock()
					return
				}
				byChannel[ch] = items
			}
			results[i] = byChannel
		}(i, anchor)
	}

	wg.Wait()
	return results, fatalErr
}
