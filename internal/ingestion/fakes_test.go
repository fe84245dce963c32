package ingestion

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/xsync/xsync/internal/models"
	"github.com/xsync/xsync/internal/relay"
	"github.com/xsync/xsync/internal/social"
)

var t0 = time.Date(2025, 1, 23, 12, 0, 0, 0, time.UTC)

func tweet(id, author string, at time.Time) social.Tweet {
	return social.Tweet{ID: id, Text: "text " + id, AuthorID: author, CreatedAt: at}
}

// chainPages chains tweet batches into cursor pages "", "p1", "p2", ...
func chainPages(batches ...[]social.Tweet) []social.Page {
	out := make([]social.Page, len(batches))
	for i, b := range batches {
		out[i] = social.Page{
			Tweets: b,
			Users: map[string]social.User{
				"u1": {ID: "u1", Username: "alice", ProfileImageURL: "https://img/alice.png"},
				"u2": {ID: "u2", Username: "bob"},
			},
		}
		if i < len(batches)-1 {
			out[i].NextToken = "p" + strconv.Itoa(i+1)
		}
	}
	return out
}

// fakeClient serves canned pages keyed by "<channel>:<anchor>".
type fakeClient struct {
	mu         sync.Mutex
	accountID  string
	resolveErr error
	pages      map[string][]social.Page
	errs       map[string]error
	calls      map[string]int
	since      map[string]time.Time
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		accountID: "42",
		pages:     make(map[string][]social.Page),
		errs:      make(map[string]error),
		calls:     make(map[string]int),
		since:     make(map[string]time.Time),
	}
}

func (f *fakeClient) serve(key, token string, since time.Time) (social.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[key]++
	if !since.IsZero() {
		f.since[key] = since
	}
	if err, ok := f.errs[key]; ok {
		return social.Page{}, err
	}
	idx := 0
	if token != "" {
		n, err := strconv.Atoi(strings.TrimPrefix(token, "p"))
		if err != nil {
			return social.Page{}, fmt.Errorf("bad token %q", token)
		}
		idx = n
	}
	ps := f.pages[key]
	if idx >= len(ps) {
		return social.Page{}, nil
	}
	return ps[idx], nil
}

func (f *fakeClient) callCount(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

func (f *fakeClient) ResolveAccountID(ctx context.Context, handle string) (string, error) {
	if f.resolveErr != nil {
		return "", f.resolveErr
	}
	return f.accountID, nil
}

func (f *fakeClient) ListRecentPosts(ctx context.Context, userID string, since time.Time, token string) (social.Page, error) {
	return f.serve("posts:"+userID, token, since)
}

func (f *fakeClient) ListQuotes(ctx context.Context, postID, token string) (social.Page, error) {
	return f.serve("quote:"+postID, token, time.Time{})
}

func (f *fakeClient) ListRetweets(ctx context.Context, postID, token string) (social.Page, error) {
	return f.serve("retweet:"+postID, token, time.Time{})
}

func (f *fakeClient) ListReplies(ctx context.Context, postID string, since time.Time, token string) (social.Page, error) {
	return f.serve("reply:"+postID, token, since)
}

func (f *fakeClient) ListMentions(ctx context.Context, userID string, since time.Time, token string) (social.Page, error) {
	return f.serve("mention:"+userID, token, since)
}

// fakePublisher acks, rejects or stalls according to mode.
type fakePublisher struct {
	mu     sync.Mutex
	mode   string
	events []relay.Event
}

func (p *fakePublisher) Publish(ctx context.Context, ev relay.Event) (relay.Ack, error) {
	p.mu.Lock()
	p.events = append(p.events, ev)
	mode := p.mode
	p.mu.Unlock()

	switch mode {
	case "reject":
		return relay.Ack{EventID: ev.ID, Message: "blocked"}, fmt.Errorf("%w: blocked", models.ErrPublishRejected)
	case "stall":
		<-ctx.Done()
		return relay.Ack{}, fmt.Errorf("%w: read ack", models.ErrPublishTimeout)
	case "broken":
		return relay.Ack{}, fmt.Errorf("dial relay: connection refused")
	default:
		return relay.Ack{EventID: ev.ID, Accepted: true}, nil
	}
}

// fakeRecorder counts telemetry calls.
type fakeRecorder struct {
	mu      sync.Mutex
	failed  map[string]int
	publish map[string]int
	persist map[string]int
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{
		failed:  make(map[string]int),
		publish: make(map[string]int),
		persist: make(map[string]int),
	}
}

func (r *fakeRecorder) ChannelCollected(models.InteractionType, int) {}

func (r *fakeRecorder) ChannelFailed(ch models.InteractionType, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed[string(ch)+":"+reason]++
}

func (r *fakeRecorder) PublishOutcome(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.publish[outcome]++
}

func (r *fakeRecorder) PersistOutcome(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.persist[outcome]++
}

func (r *fakeRecorder) RunFinished(string, time.Duration, error) {}

// racingRepo reports a unique violation on insert, as if another writer won.
type racingRepo struct {
	*MemoryInteractionRepository
}

func (r racingRepo) Insert(ctx context.Context, in models.Interaction) error {
	r.MemoryInteractionRepository.Upsert(ctx, in)
	return fmt.Errorf("insert %s: %w", in.InteractionID, models.ErrUniqueViolation)
}

// failingRepo fails inserts for one id.
type failingRepo struct {
	*MemoryInteractionRepository
	failID string
}

func (r failingRepo) Insert(ctx context.Context, in models.Interaction) error {
	if in.InteractionID == r.failID {
		return fmt.Errorf("disk full")
	}
	return r.MemoryInteractionRepository.Insert(ctx, in)
}
