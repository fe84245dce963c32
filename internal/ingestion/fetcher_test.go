package ingestion

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xsync/xsync/internal/logging"
	"github.com/xsync/xsync/internal/models"
	"github.com/xsync/xsync/internal/social"
)

func newTestFetcher(client SocialClient) *ChannelFetcher {
	return NewChannelFetcher(client, FetcherConfig{Retry: fastPolicy(2)}, logging.Discard())
}

func ids(items []models.Interaction) []string {
	out := make([]string, len(items))
	for i, in := range items {
		out[i] = in.InteractionID
	}
	return out
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestFetchFollowsCursor(t *testing.T) {
	client := newFakeClient()
	client.pages["quote:p1"] = chainPages(
		[]social.Tweet{tweet("q3", "u1", t0.Add(-1*time.Minute)), tweet("q2", "u2", t0.Add(-2*time.Minute))},
		[]social.Tweet{tweet("q1", "u1", t0.Add(-3*time.Minute))},
	)

	created := t0.Add(-time.Hour)
	got, err := newTestFetcher(client).Fetch(context.Background(), "acme", models.InteractionQuote,
		Anchor{ID: "p1", CreatedAt: &created}, t0.Add(-10*time.Minute))
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}

	if want := []string{"q3", "q2", "q1"}; !equalIDs(ids(got), want) {
		t.Fatalf("expected %v, got %v", want, ids(got))
	}
	if client.callCount("quote:p1") != 2 {
		t.Errorf("expected 2 page requests, got %d", client.callCount("quote:p1"))
	}

	first := got[0]
	if first.Username != "alice" || first.AvatarURL != "https://img/alice.png" {
		t.Errorf("expected expanded author, got %+v", first)
	}
	if first.Account != "acme" || first.PostID != "p1" || first.PostTime == nil || !first.PostTime.Equal(created) {
		t.Errorf("expected post reference on interaction, got %+v", first)
	}
	if first.Type != models.InteractionQuote {
		t.Errorf("expected quote type, got %s", first.Type)
	}
}

func TestFetchEarlyStop(t *testing.T) {
	watermark := t0.Add(-10 * time.Minute)

	client := newFakeClient()
	client.pages["retweet:p1"] = chainPages(
		[]social.Tweet{tweet("r4", "u1", t0.Add(-1*time.Minute))},
		[]social.Tweet{
			tweet("r3", "u1", t0.Add(-5*time.Minute)),
			tweet("r2", "u2", watermark.Add(-time.Second)),
			tweet("r1", "u2", t0.Add(-2*time.Minute)),
		},
		[]social.Tweet{tweet("r0", "u1", t0.Add(-1*time.Minute))},
	)

	got, err := newTestFetcher(client).Fetch(context.Background(), "acme", models.InteractionRetweet, Anchor{ID: "p1"}, watermark)
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}

	if want := []string{"r4", "r3"}; !equalIDs(ids(got), want) {
		t.Fatalf("expected %v, got %v", want, ids(got))
	}
	if client.callCount("retweet:p1") != 2 {
		t.Errorf("expected pagination to stop after the straddling page, got %d requests", client.callCount("retweet:p1"))
	}
	for _, in := range got {
		if in.InteractionTime.Before(watermark) {
			t.Errorf("interaction %s older than watermark", in.InteractionID)
		}
	}
}

func TestFetchItemAtWatermarkIsKept(t *testing.T) {
	watermark := t0.Add(-10 * time.Minute)
	client := newFakeClient()
	client.pages["reply:p1"] = chainPages([]social.Tweet{tweet("a", "u1", watermark)})

	got, err := newTestFetcher(client).Fetch(context.Background(), "acme", models.InteractionReply, Anchor{ID: "p1"}, watermark)
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected item exactly at the watermark to be kept, got %v", ids(got))
	}
	if !client.since["reply:p1"].Equal(watermark) {
		t.Errorf("expected replies to be queried from the watermark, got %v", client.since["reply:p1"])
	}
}

func TestFetchSkipsErrorPage(t *testing.T) {
	client := newFakeClient()
	ps := chainPages(
		nil,
		[]social.Tweet{tweet("m1", "u1", t0)},
	)
	ps[0].Errors = []social.APIError{{Title: "Authorization Error", Detail: "Sorry, you are not authorized"}}
	client.pages["mention:42"] = ps

	got, err := newTestFetcher(client).Fetch(context.Background(), "acme", models.InteractionMention, Anchor{ID: "42"}, t0.Add(-time.Hour))
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if want := []string{"m1"}; !equalIDs(ids(got), want) {
		t.Fatalf("expected %v, got %v", want, ids(got))
	}
	if got[0].PostTime != nil {
		t.Errorf("mentions have no post time, got %v", got[0].PostTime)
	}
}

func TestFetchRetriesServerErrors(t *testing.T) {
	client := &flakyClient{fakeClient: newFakeClient(), failures: 2}
	client.pages["quote:p1"] = chainPages([]social.Tweet{tweet("q1", "u1", t0)})

	got, err := newTestFetcher(client).Fetch(context.Background(), "acme", models.InteractionQuote, Anchor{ID: "p1"}, t0.Add(-time.Hour))
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 item after retries, got %d", len(got))
	}
	if client.attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", client.attempts)
	}
}

func TestFetchSurfacesRateLimit(t *testing.T) {
	client := newFakeClient()
	client.errs["retweet:p1"] = &social.RateLimitError{Endpoint: "/2/tweets/p1/retweets"}

	_, err := newTestFetcher(client).Fetch(context.Background(), "acme", models.InteractionRetweet, Anchor{ID: "p1"}, t0)
	if !errors.Is(err, models.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if client.callCount("retweet:p1") != 1 {
		t.Errorf("rate limits must not be retried within the run, got %d calls", client.callCount("retweet:p1"))
	}
}

func TestFetchPacesPages(t *testing.T) {
	client := newFakeClient()
	client.pages["quote:p1"] = chainPages(
		[]social.Tweet{tweet("q3", "u1", t0)},
		[]social.Tweet{tweet("q2", "u1", t0)},
		[]social.Tweet{tweet("q1", "u1", t0)},
	)
	fetcher := NewChannelFetcher(client, FetcherConfig{PageDelay: 20 * time.Millisecond}, logging.Discard())

	start := time.Now()
	if _, err := fetcher.Fetch(context.Background(), "acme", models.InteractionQuote, Anchor{ID: "p1"}, t0.Add(-time.Hour)); err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 35*time.Millisecond {
		t.Fatalf("expected two paced waits between three pages, took %v", elapsed)
	}
}

func TestPostsStopAtSince(t *testing.T) {
	since := t0.Add(-24 * time.Hour)
	client := newFakeClient()
	client.pages["posts:42"] = chainPages([]social.Tweet{
		tweet("p2", "42", t0.Add(-time.Hour)),
		tweet("p1", "42", since.Add(-time.Minute)),
	})

	posts, err := newTestFetcher(client).Posts(context.Background(), "42", since)
	if err != nil {
		t.Fatalf("Posts returned error: %v", err)
	}
	if len(posts) != 1 || posts[0].ID != "p2" {
		t.Fatalf("expected only p2, got %+v", posts)
	}
	if !client.since["posts:42"].Equal(since) {
		t.Errorf("expected posts listed since %v, got %v", since, client.since["posts:42"])
	}
}

// flakyClient fails the first n quote requests with a 503.
type flakyClient struct {
	*fakeClient
	failures int
	attempts int
}

func (f *flakyClient) ListQuotes(ctx context.Context, postID, token string) (social.Page, error) {
	f.attempts++
	if f.attempts <= f.failures {
		return social.Page{}, &social.StatusError{StatusCode: 503, Body: "over capacity"}
	}
	return f.fakeClient.ListQuotes(ctx, postID, token)
}
