package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/xsync/xsync/internal/models"
	"github.com/xsync/xsync/internal/social"
)

// pageFunc requests the page at cursor token.
type pageFunc func(ctx context.Context, token string) (social.Page, error)

// FetcherConfig tunes channel pagination.
type FetcherConfig struct {
	// PageDelay is the minimum spacing between page requests of one scan.
	PageDelay time.Duration
	Retry     RetryPolicy
}

// ChannelFetcher scans one channel for one anchor: it follows the source's
// cursor until the last page, or until an item older than the watermark shows
// up. Pages are assumed to be newest first, so that item and everything after
// it are dropped.
type ChannelFetcher struct {
	client SocialClient
	cfg    FetcherConfig
	logger *slog.Logger
}

// NewChannelFetcher creates a fetcher over client.
func NewChannelFetcher(client SocialClient, cfg FetcherConfig, logger *slog.Logger) *ChannelFetcher {
	return &ChannelFetcher{client: client, cfg: cfg, logger: logger}
}

// Fetch collects the channel's interactions for anchor at or after watermark.
func (f *ChannelFetcher) Fetch(ctx context.Context, account string, channel models.InteractionType, anchor Anchor, watermark time.Time) ([]models.Interaction, error) {
	next, err := f.pages(channel, anchor.ID, watermark)
	if err != nil {
		return nil, err
	}

	var out []models.Interaction
	err = f.scan(ctx, next, watermark, func(tw social.Tweet, users map[string]social.User) {
		out = append(out, normalize(account, channel, anchor, tw, users))
	})
	if err != nil {
		return nil, fmt.Errorf("%s for %s: %w", channel, anchor.ID, err)
	}
	return out, nil
}

// Posts lists the account's own posts created at or after since. Posts are the
// anchors for the post-scoped channels.
func (f *ChannelFetcher) Posts(ctx context.Context, accountID string, since time.Time) ([]Anchor, error) {
	next := func(ctx context.Context, token string) (social.Page, error) {
		return f.client.ListRecentPosts(ctx, accountID, since, token)
	}

	var posts []Anchor
	err := f.scan(ctx, next, since, func(tw social.Tweet, _ map[string]social.User) {
		created := tw.CreatedAt.UTC()
		posts = append(posts, Anchor{ID: tw.ID, CreatedAt: &created})
	})
	if err != nil {
		return nil, fmt.Errorf("posts for %s: %w", accountID, err)
	}
	return posts, nil
}

func (f *ChannelFetcher) pages(channel models.InteractionType, anchorID string, watermark time.Time) (pageFunc, error) {
	switch channel {
	case models.InteractionQuote:
		return func(ctx context.Context, token string) (social.Page, error) {
			return f.client.ListQuotes(ctx, anchorID, token)
		}, nil
	case models.InteractionRetweet:
		return func(ctx context.Context, token string) (social.Page, error) {
			return f.client.ListRetweets(ctx, anchorID, token)
		}, nil
	case models.InteractionReply:
		return func(ctx context.Context, token string) (social.Page, error) {
			return f.client.ListReplies(ctx, anchorID, watermark, token)
		}, nil
	case models.InteractionMention:
		return func(ctx context.Context, token string) (social.Page, error) {
			return f.client.ListMentions(ctx, anchorID, watermark, token)
		}, nil
	default:
		return nil, fmt.Errorf("unknown channel %q", channel)
	}
}

// scan walks pages until the cursor runs out or the early-stop rule fires.
func (f *ChannelFetcher) scan(ctx context.Context, next pageFunc, watermark time.Time, emit func(social.Tweet, map[string]social.User)) error {
	limit := rate.Inf
	if f.cfg.PageDelay > 0 {
		limit = rate.Every(f.cfg.PageDelay)
	}
	limiter := rate.NewLimiter(limit, 1)

	token := ""
	for pageNum := 1; ; pageNum++ {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}

		var page social.Page
		err := Retry(ctx, f.cfg.Retry, func() error {
			p, err := next(ctx, token)
			if err != nil {
				return classifyUpstream(err)
			}
			page = p
			return nil
		})
		if err != nil {
			return err
		}

		if len(page.Errors) > 0 && len(page.Tweets) == 0 {
			f.logger.Warn("skipping error page",
				"page", pageNum,
				"error", page.Errors[0].String(),
			)
			if page.NextToken == "" || page.NextToken == token {
				return nil
			}
			token = page.NextToken
			continue
		}

		for _, tw := range page.Tweets {
			if tw.CreatedAt.Before(watermark) {
				f.logger.Debug("early stop",
					"page", pageNum,
					"item_time", tw.CreatedAt,
					"watermark", watermark,
				)
				return nil
			}
			emit(tw, page.Users)
		}

		if page.NextToken == "" || page.NextToken == token {
			return nil
		}
		token = page.NextToken
	}
}

func normalize(account string, channel models.InteractionType, anchor Anchor, tw social.Tweet, users map[string]social.User) models.Interaction {
	in := models.Interaction{
		InteractionID:   tw.ID,
		Account:         account,
		UserID:          tw.AuthorID,
		Type:            channel,
		Content:         tw.Text,
		InteractionTime: tw.CreatedAt.UTC(),
	}

	if u, ok := users[tw.AuthorID]; ok {
		in.Username = u.Username
		in.AvatarURL = u.ProfileImageURL
	}

	if channel.PostScoped() {
		in.PostID = anchor.ID
		in.PostTime = anchor.CreatedAt
	} else {
		in.PostID = tw.ConversationID
		if in.PostID == "" {
			in.PostID = tw.ID
		}
	}

	return in
}
