// Package commentfeed fetches commit comments from a source-hosting API
// using a rotating credential pool.
package commentfeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/sethvargo/go-retry"

	"statusrelay/internal/model"
)

const (
	maxBodySize    = 5 * 1024 * 1024
	maxFetchTries  = 3
	backoffStep    = 500 * time.Millisecond
	requestTimeout = 30 * time.Second
	eventPageSize  = 100
	maxEventPages  = 10
)

// ErrNoCredentials is returned when every token in the pool is
// deactivated or parked. Callers skip the pass and log once.
var ErrNoCredentials = errors.New("no usable credentials")

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client fetches commit comments for one repository.
type Client struct {
	client  HTTPClient
	baseURL string
	owner   string
	repo    string
	pool    *TokenPool
}

// New creates a Client for the given owner/repo backed by the token pool.
func New(client HTTPClient, baseURL, owner, repo string, pool *TokenPool) *Client {
	return &Client{client: client, baseURL: baseURL, owner: owner, repo: repo, pool: pool}
}

type commentDoc struct {
	ID        int64     `json:"id"`
	Body      string    `json:"body"`
	HTMLURL   string    `json:"html_url"`
	CommitID  string    `json:"commit_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	User      struct {
		Login string `json:"login"`
	} `json:"user"`
}

type commitDoc struct {
	SHA string `json:"sha"`
}

type eventDoc struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Payload struct {
		Comment commentDoc `json:"comment"`
	} `json:"payload"`
}

// RecentCommitComments walks the n most recent commits and fetches each
// commit's comments. This catches comments the event-log strategy can
// miss once the log's retention window has passed.
func (c *Client) RecentCommitComments(ctx context.Context, n int) ([]model.Entity, error) {
	body, err := c.get(ctx, fmt.Sprintf("%s/repos/%s/%s/commits?per_page=%d", c.baseURL, c.owner, c.repo, n))
	if err != nil {
		return nil, fmt.Errorf("list commits: %w", err)
	}
	var commits []commitDoc
	if err := json.Unmarshal(body, &commits); err != nil {
		return nil, fmt.Errorf("parse commits: %w", err)
	}

	var entities []model.Entity
	for _, commit := range commits {
		body, err := c.get(ctx, fmt.Sprintf("%s/repos/%s/%s/commits/%s/comments", c.baseURL, c.owner, c.repo, commit.SHA))
		if err != nil {
			// One bad commit does not sink the strategy.
			if errors.Is(err, ErrNoCredentials) {
				return nil, err
			}
			continue
		}
		var comments []commentDoc
		if err := json.Unmarshal(body, &comments); err != nil {
			continue
		}
		for _, doc := range comments {
			entities = append(entities, normalize(doc))
		}
	}
	return entities, nil
}

// EventComments walks the repository's public event log newest first,
// collecting commit-comment events and stopping as soon as an event id
// is at or below sinceID. This is the fast path for the common case of
// an up-to-date checkpoint.
func (c *Client) EventComments(ctx context.Context, sinceID int64) ([]model.Entity, error) {
	var entities []model.Entity
	for page := 1; page <= maxEventPages; page++ {
		body, err := c.get(ctx, fmt.Sprintf("%s/repos/%s/%s/events?page=%d&per_page=%d", c.baseURL, c.owner, c.repo, page, eventPageSize))
		if err != nil {
			return nil, fmt.Errorf("list events page %d: %w", page, err)
		}
		var events []eventDoc
		if err := json.Unmarshal(body, &events); err != nil {
			return nil, fmt.Errorf("parse events: %w", err)
		}
		if len(events) == 0 {
			return entities, nil
		}
		for _, ev := range events {
			id, err := strconv.ParseInt(ev.ID, 10, 64)
			if err == nil && id <= sinceID {
				return entities, nil
			}
			if ev.Type != "CommitCommentEvent" {
				continue
			}
			entities = append(entities, normalize(ev.Payload.Comment))
		}
	}
	return entities, nil
}

// Discover unions both strategies, deduplicates by id, and returns the
// candidates in ascending id order so checkpoints advance monotonically.
func (c *Client) Discover(ctx context.Context, recentCommits int, sinceID int64) ([]model.Entity, error) {
	byID := make(map[int64]model.Entity)

	fromCommits, err := c.RecentCommitComments(ctx, recentCommits)
	if err != nil {
		return nil, err
	}
	for _, e := range fromCommits {
		byID[e.NumericID] = e
	}

	fromEvents, err := c.EventComments(ctx, sinceID)
	if err != nil {
		return nil, err
	}
	for _, e := range fromEvents {
		byID[e.NumericID] = e
	}

	entities := make([]model.Entity, 0, len(byID))
	for _, e := range byID {
		entities = append(entities, e)
	}
	sort.Slice(entities, func(i, j int) bool { return entities[i].NumericID < entities[j].NumericID })
	return entities, nil
}

// InstallationID probes whether the push integration is installed for
// the repository. A nil id with a nil error means not installed; an
// error means the probe itself failed and push reliability is unknown.
func (c *Client) InstallationID(ctx context.Context) (*int64, error) {
	body, err := c.get(ctx, fmt.Sprintf("%s/repos/%s/%s/installation", c.baseURL, c.owner, c.repo))
	if err != nil {
		var se *statusError
		if errors.As(err, &se) && se.code == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	var doc struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("parse installation: %w", err)
	}
	return &doc.ID, nil
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.code)
}

// get performs one GET with credential rotation and bounded retries.
// 401 deactivates the current token and rotates; a rate limit parks the
// token until its reset and rotates; 5xx and transport errors retry with
// linearly growing backoff.
func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	var body []byte
	err := retry.Do(ctx, retry.WithMaxRetries(maxFetchTries, linearBackoff(backoffStep)), func(ctx context.Context) error {
		for {
			tok, ok := c.pool.Next()
			if !ok {
				return ErrNoCredentials
			}

			reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
			resp, err := c.do(reqCtx, url, tok)
			if err != nil {
				cancel()
				return retry.RetryableError(fmt.Errorf("http get: %w", err))
			}

			switch {
			case resp.StatusCode == http.StatusUnauthorized:
				drain(resp)
				cancel()
				if tok == "" {
					return &statusError{code: resp.StatusCode}
				}
				c.pool.Deactivate(tok)
				continue
			case rateLimited(resp):
				reset := resetTime(resp)
				drain(resp)
				cancel()
				if tok == "" {
					return &statusError{code: resp.StatusCode}
				}
				c.pool.Park(tok, reset)
				continue
			case resp.StatusCode >= 500:
				drain(resp)
				cancel()
				return retry.RetryableError(&statusError{code: resp.StatusCode})
			case resp.StatusCode != http.StatusOK:
				code := resp.StatusCode
				drain(resp)
				cancel()
				return &statusError{code: code}
			}

			body, err = io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
			_ = resp.Body.Close()
			cancel()
			if err != nil {
				return retry.RetryableError(fmt.Errorf("read body: %w", err))
			}
			return nil
		}
	})
	return body, err
}

func (c *Client) do(ctx context.Context, url, token string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "statusrelay/1.0")
	req.Header.Set("Accept", "application/vnd.github+json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return c.client.Do(req)
}

func rateLimited(resp *http.Response) bool {
	if resp.StatusCode != http.StatusForbidden && resp.StatusCode != http.StatusTooManyRequests {
		return false
	}
	return resp.Header.Get("X-RateLimit-Remaining") == "0"
}

func resetTime(resp *http.Response) time.Time {
	secs, err := strconv.ParseInt(resp.Header.Get("X-RateLimit-Reset"), 10, 64)
	if err != nil {
		// No usable reset header: park for a conservative minute.
		return time.Now().Add(time.Minute)
	}
	return time.Unix(secs, 0)
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize))
	_ = resp.Body.Close()
}

func linearBackoff(step time.Duration) retry.Backoff {
	attempt := 0
	return retry.BackoffFunc(func() (time.Duration, bool) {
		attempt++
		return time.Duration(attempt) * step, false
	})
}

func normalize(doc commentDoc) model.Entity {
	sha := doc.CommitID
	if len(sha) > 7 {
		sha = sha[:7]
	}
	return model.Entity{
		ID:        strconv.FormatInt(doc.ID, 10),
		NumericID: doc.ID,
		Kind:      model.FeedComments,
		Title:     "Comment on " + sha,
		Body:      doc.Body,
		Author:    doc.User.Login,
		URL:       doc.HTMLURL,
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}
}
