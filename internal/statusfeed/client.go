// Package statusfeed fetches incident and maintenance data from a
// status-page API.
package statusfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/sethvargo/go-retry"

	"statusrelay/internal/model"
)

const (
	maxBodySize    = 5 * 1024 * 1024
	perPage        = 50
	maxFetchTries  = 3
	backoffStep    = 500 * time.Millisecond
	requestTimeout = 30 * time.Second
)

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client fetches incident data from a status page.
type Client struct {
	client  HTTPClient
	baseURL string
}

// New creates a Client for the status page at baseURL.
func New(client HTTPClient, baseURL string) *Client {
	return &Client{client: client, baseURL: baseURL}
}

type incidentDoc struct {
	ID              string      `json:"id"`
	Name            string      `json:"name"`
	Status          string      `json:"status"`
	Impact          string      `json:"impact"`
	Shortlink       string      `json:"shortlink"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
	IncidentUpdates []updateDoc `json:"incident_updates"`
}

type updateDoc struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// Active returns the current truth of unresolved incidents and active
// scheduled maintenances, unioned by id. Both endpoints are single
// unpaginated calls.
func (c *Client) Active(ctx context.Context) ([]model.Entity, error) {
	byID := make(map[string]model.Entity)

	incidents, err := c.fetchList(ctx, c.baseURL+"/api/v2/incidents/unresolved.json")
	if err != nil {
		return nil, fmt.Errorf("fetch unresolved incidents: %w", err)
	}
	for _, e := range incidents {
		byID[e.ID] = e
	}

	maints, err := c.fetchList(ctx, c.baseURL+"/api/v2/scheduled-maintenances/active.json")
	if err != nil {
		return nil, fmt.Errorf("fetch active maintenances: %w", err)
	}
	for _, e := range maints {
		byID[e.ID] = e
	}

	return sortedByCreation(byID), nil
}

// History walks the paginated historical incident and maintenance feeds,
// following pages until an empty page or the page cap, merging duplicate
// ids across the two sub-feeds last-write-wins.
func (c *Client) History(ctx context.Context, maxPages int) ([]model.Entity, error) {
	byID := make(map[string]model.Entity)

	for _, path := range []string{"/api/v2/incidents.json", "/api/v2/scheduled-maintenances.json"} {
		for page := 1; page <= maxPages; page++ {
			url := fmt.Sprintf("%s%s?page=%d&per_page=%d", c.baseURL, path, page, perPage)
			entities, err := c.fetchList(ctx, url)
			if err != nil {
				return nil, fmt.Errorf("fetch history page %d of %s: %w", page, path, err)
			}
			if len(entities) == 0 {
				break
			}
			for _, e := range entities {
				byID[e.ID] = e
			}
		}
	}

	return sortedByCreation(byID), nil
}

// Incident fetches the terminal state of a single incident.
func (c *Client) Incident(ctx context.Context, id string) (*model.Entity, error) {
	body, err := c.get(ctx, fmt.Sprintf("%s/api/v2/incidents/%s.json", c.baseURL, id))
	if err != nil {
		return nil, fmt.Errorf("fetch incident %s: %w", id, err)
	}

	var doc struct {
		Incident incidentDoc `json:"incident"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("parse incident %s: %w", id, err)
	}
	e := normalize(doc.Incident)
	return &e, nil
}

func (c *Client) fetchList(ctx context.Context, url string) ([]model.Entity, error) {
	body, err := c.get(ctx, url)
	if err != nil {
		return nil, err
	}

	var doc struct {
		Incidents             []incidentDoc `json:"incidents"`
		ScheduledMaintenances []incidentDoc `json:"scheduled_maintenances"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	var entities []model.Entity
	for _, d := range doc.Incidents {
		entities = append(entities, normalize(d))
	}
	for _, d := range doc.ScheduledMaintenances {
		entities = append(entities, normalize(d))
	}
	return entities, nil
}

// get performs one GET with bounded retries. A 5xx or a transport error
// is retried with linearly growing backoff; any other failure aborts
// only this sub-fetch.
func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	var body []byte
	err := retry.Do(ctx, retry.WithMaxRetries(maxFetchTries, linearBackoff(backoffStep)), func(ctx context.Context) error {
		reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("User-Agent", "statusrelay/1.0")

		resp, err := c.client.Do(req)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("http get: %w", err))
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode >= 500 {
			return retry.RetryableError(fmt.Errorf("unexpected status %d", resp.StatusCode))
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("unexpected status %d", resp.StatusCode)
		}

		body, err = io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
		if err != nil {
			return retry.RetryableError(fmt.Errorf("read body: %w", err))
		}
		return nil
	})
	return body, err
}

// linearBackoff waits step, 2*step, 3*step, ... between attempts.
func linearBackoff(step time.Duration) retry.Backoff {
	attempt := 0
	return retry.BackoffFunc(func() (time.Duration, bool) {
		attempt++
		return time.Duration(attempt) * step, false
	})
}

func normalize(d incidentDoc) model.Entity {
	e := model.Entity{
		ID:        d.ID,
		Kind:      model.FeedStatus,
		Status:    model.EntityStatus(d.Status),
		Impact:    d.Impact,
		Title:     d.Name,
		URL:       d.Shortlink,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
	// The API lists updates newest first; entities carry them oldest first.
	for i := len(d.IncidentUpdates) - 1; i >= 0; i-- {
		u := d.IncidentUpdates[i]
		e.Updates = append(e.Updates, model.SubUpdate{
			ID:        u.ID,
			Status:    model.EntityStatus(u.Status),
			Body:      u.Body,
			CreatedAt: u.CreatedAt,
		})
	}
	if last := e.LatestUpdate(); last != nil {
		e.Body = last.Body
	}
	return e
}

func sortedByCreation(byID map[string]model.Entity) []model.Entity {
	entities := make([]model.Entity, 0, len(byID))
	for _, e := range byID {
		entities = append(entities, e)
	}
	sort.Slice(entities, func(i, j int) bool {
		if entities[i].CreatedAt.Equal(entities[j].CreatedAt) {
			return entities[i].ID < entities[j].ID
		}
		return entities[i].CreatedAt.Before(entities[j].CreatedAt)
	})
	return entities
}
