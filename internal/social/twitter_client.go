package social

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/xsync/xsync/internal/config"
	"github.com/xsync/xsync/internal/models"
)

const (
	tweetFields = "created_at,author_id,conversation_id"
	userFields  = "profile_image_url"
	expansions  = "author_id"
)

// TwitterClient reads posts and interactions from the Twitter API v2.
type TwitterClient struct {
	baseURL    string
	cfg        config.TwitterConfig
	maxResults int
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
}

// NewTwitterClient creates a new Twitter API client. maxResults is the page size
// requested from paginated endpoints.
func NewTwitterClient(cfg config.TwitterConfig, maxResults int, logger *slog.Logger) *TwitterClient {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = "https://api.twitter.com"
	}
	if maxResults <= 0 || maxResults > 100 {
		maxResults = 100
	}
	return &TwitterClient{
		baseURL:    base,
		cfg:        cfg,
		maxResults: maxResults,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
		now:    time.Now,
	}
}

// Tweet is a post as returned by the API.
type Tweet struct {
	ID             string    `json:"id"`
	Text           string    `json:"text"`
	AuthorID       string    `json:"author_id"`
	ConversationID string    `json:"conversation_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// User is an expanded author.
type User struct {
	ID              string `json:"id"`
	Username        string `json:"username"`
	Name            string `json:"name"`
	ProfileImageURL string `json:"profile_image_url"`
}

// APIError is a partial error reported inside a 200 response.
type APIError struct {
	Title   string `json:"title"`
	Detail  string `json:"detail"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (e APIError) String() string {
	if e.Detail != "" {
		return e.Detail
	}
	if e.Message != "" {
		return e.Message
	}
	return e.Title
}

// Page is one page of a paginated listing. Users is keyed by user id.
type Page struct {
	Tweets    []Tweet
	Users     map[string]User
	NextToken string
	Errors    []APIError
}

type pageResponse struct {
	Data     []Tweet `json:"data"`
	Includes struct {
		Users []User `json:"users"`
	} `json:"includes"`
	Meta struct {
		ResultCount int    `json:"result_count"`
		NextToken   string `json:"next_token"`
	} `json:"meta"`
	Errors []APIError `json:"errors"`
}

// RateLimitError reports an HTTP 429. It matches models.ErrRateLimited.
type RateLimitError struct {
	Endpoint string
	Reset    time.Time
}

func (e *RateLimitError) Error() string {
	if e.Reset.IsZero() {
		return fmt.Sprintf("twitter rate limit hit on %s", e.Endpoint)
	}
	return fmt.Sprintf("twitter rate limit hit on %s (resets %s)", e.Endpoint, e.Reset.UTC().Format(time.RFC3339))
}

func (e *RateLimitError) Unwrap() error { return models.ErrRateLimited }

// StatusError is a non-2xx response other than 429.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("twitter API error: %d - %s", e.StatusCode, e.Body)
}

// Temporary reports whether retrying the same request may succeed.
func (e *StatusError) Temporary() bool {
	return e.StatusCode >= 500
}

// ResolveAccountID maps a handle to the platform user id.
func (c *TwitterClient) ResolveAccountID(ctx context.Context, handle string) (string, error) {
	handle = strings.TrimPrefix(strings.TrimSpace(handle), "@")
	if handle == "" {
		return "", fmt.Errorf("%w: empty handle", models.ErrAccountNotFound)
	}

	var result struct {
		Data   *User      `json:"data"`
		Errors []APIError `json:"errors"`
	}
	err := c.get(ctx, "/2/users/by/username/"+url.PathEscape(handle), url.Values{
		"user.fields": {userFields},
	}, &result)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && (se.StatusCode == http.StatusNotFound || se.StatusCode == http.StatusBadRequest) {
			return "", fmt.Errorf("%w: %s", models.ErrAccountNotFound, handle)
		}
		return "", err
	}

	if result.Data == nil || result.Data.ID == "" {
		return "", fmt.Errorf("%w: %s", models.ErrAccountNotFound, handle)
	}
	return result.Data.ID, nil
}

// ListRecentPosts lists the account's own posts created at or after since,
// excluding replies.
func (c *TwitterClient) ListRecentPosts(ctx context.Context, userID string, since time.Time, token string) (Page, error) {
	q := c.pageQuery(token, "pagination_token")
	q.Set("exclude", "replies")
	setStartTime(q, since)
	return c.page(ctx, "/2/users/"+url.PathEscape(userID)+"/tweets", q)
}

// ListQuotes lists quote posts of postID.
func (c *TwitterClient) ListQuotes(ctx context.Context, postID, token string) (Page, error) {
	q := c.pageQuery(token, "pagination_token")
	q.Set("exclude", "retweets")
	return c.page(ctx, "/2/tweets/"+url.PathEscape(postID)+"/quote_tweets", q)
}

// ListRetweets lists reposts of postID.
func (c *TwitterClient) ListRetweets(ctx context.Context, postID, token string) (Page, error) {
	q := c.pageQuery(token, "pagination_token")
	return c.page(ctx, "/2/tweets/"+url.PathEscape(postID)+"/retweets", q)
}

// ListReplies searches the conversation rooted at postID for replies created at
// or after since.
func (c *TwitterClient) ListReplies(ctx context.Context, postID string, since time.Time, token string) (Page, error) {
	q := c.pageQuery(token, "next_token")
	q.Set("query", fmt.Sprintf("conversation_id:%s is:reply", postID))
	setStartTime(q, since)
	return c.page(ctx, "/2/tweets/search/all", q)
}

// ListMentions lists posts mentioning userID created at or after since.
func (c *TwitterClient) ListMentions(ctx context.Context, userID string, since time.Time, token string) (Page, error) {
	q := c.pageQuery(token, "pagination_token")
	setStartTime(q, since)
	return c.page(ctx, "/2/users/"+url.PathEscape(userID)+"/mentions", q)
}

// ValidateCredentials checks if the configured credentials are accepted.
func (c *TwitterClient) ValidateCredentials(ctx context.Context) error {
	var result struct {
		Data *User `json:"data"`
	}
	if err := c.get(ctx, "/2/users/me", nil, &result); err != nil {
		return fmt.Errorf("invalid credentials: %w", err)
	}
	c.logger.Info("twitter credentials validated successfully")
	return nil
}

func (c *TwitterClient) pageQuery(token, tokenParam string) url.Values {
	q := url.Values{}
	q.Set("max_results", strconv.Itoa(c.maxResults))
	q.Set("tweet.fields", tweetFields)
	q.Set("expansions", expansions)
	q.Set("user.fields", userFields)
	if token != "" {
		q.Set(tokenParam, token)
	}
	return q
}

func setStartTime(q url.Values, since time.Time) {
	if !since.IsZero() {
		q.Set("start_time", since.UTC().Format(time.RFC3339))
	}
}

func (c *TwitterClient) page(ctx context.Context, path string, q url.Values) (Page, error) {
	var resp pageResponse
	if err := c.get(ctx, path, q, &resp); err != nil {
		return Page{}, err
	}

	users := make(map[string]User, len(resp.Includes.Users))
	for _, u := range resp.Includes.Users {
		users[u.ID] = u
	}

	return Page{
		Tweets:    resp.Data,
		Users:     users,
		NextToken: resp.Meta.NextToken,
		Errors:    resp.Errors,
	}, nil
}

func (c *TwitterClient) get(ctx context.Context, path string, q url.Values, out any) error {
	endpoint := c.baseURL + path
	reqURL := endpoint
	if len(q) > 0 {
		reqURL += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if c.cfg.HasUserAuth() {
		params := make(map[string]string, len(q))
		for k := range q {
			params[k] = q.Get(k)
		}
		authHeader, err := c.generateOAuthHeader(http.MethodGet, endpoint, params)
		if err != nil {
			return fmt.Errorf("failed to generate OAuth header: %w", err)
		}
		req.Header.Set("Authorization", authHeader)
	} else {
		req.Header.Set("Authorization", "Bearer "+c.cfg.BearerToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		rl := &RateLimitError{Endpoint: path}
		if v := resp.Header.Get("x-rate-limit-reset"); v != "" {
			if sec, err := strconv.ParseInt(v, 10, 64); err == nil {
				rl.Reset = time.Unix(sec, 0)
			}
		}
		return rl
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response from %s: %w", path, err)
	}
	return nil
}
