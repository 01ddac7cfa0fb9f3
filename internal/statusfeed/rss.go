package statusfeed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"statusrelay/internal/model"
)

// rssStaleCutoff drops history items whose status cannot be parsed and
// whose last update is older than this. A live incident always carries a
// recent update, so only long-dead history falls outside the window.
const rssStaleCutoff = 48 * time.Hour

// ActiveFromRSS discovers incidents from the status page's history RSS
// feed. It is a degraded fallback for when the JSON API is unreachable:
// the entities it returns are skeletal (no sub-updates, no impact), but
// enough to keep new incidents from going unnoticed. The feed lists
// resolved history too; each item's status is parsed from its
// description so the caller can filter terminal entries.
func (c *Client) ActiveFromRSS(ctx context.Context) ([]model.Entity, error) {
	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.baseURL+"/history.rss", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "statusrelay/1.0")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	feed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	var entities []model.Entity
	for _, item := range feed.Items {
		id := incidentIDFromLink(item.Link)
		if id == "" {
			continue
		}
		e := model.Entity{
			ID:     id,
			Kind:   model.FeedStatus,
			Status: rssStatus(item.Description),
			Title:  item.Title,
			Body:   item.Description,
			URL:    item.Link,
		}
		if item.PublishedParsed != nil {
			e.CreatedAt = *item.PublishedParsed
			e.UpdatedAt = *item.PublishedParsed
		}
		if item.UpdatedParsed != nil {
			e.UpdatedAt = *item.UpdatedParsed
		}
		// An item whose status cannot be determined and whose last update
		// is old is history, not a live incident.
		if e.Status == model.StatusNone && (e.UpdatedAt.IsZero() || time.Since(e.UpdatedAt) > rssStaleCutoff) {
			continue
		}
		entities = append(entities, e)
	}
	return entities, nil
}

// incidentIDFromLink extracts the incident id from a history item link of
// the form https://<page>/incidents/<id>.
func incidentIDFromLink(link string) string {
	link = strings.TrimRight(link, "/")
	i := strings.LastIndex(link, "/")
	if i < 0 || i == len(link)-1 {
		return ""
	}
	return link[i+1:]
}

var rssStatusLabels = map[string]model.EntityStatus{
	"investigating": model.StatusInvestigating,
	"identified":    model.StatusIdentified,
	"monitoring":    model.StatusMonitoring,
	"resolved":      model.StatusResolved,
	"scheduled":     model.StatusScheduled,
	"in progress":   model.StatusInProgress,
	"verifying":     model.StatusVerifying,
	"completed":     model.StatusCompleted,
}

// rssStatus extracts the item's current status from its description.
// History descriptions list updates newest first, each introduced by a
// <strong>Label</strong> marker; labels like "Update" that carry no
// status change are skipped in favor of the next recognized one.
func rssStatus(description string) model.EntityStatus {
	rest := description
	for {
		i := strings.Index(rest, "<strong>")
		if i < 0 {
			return model.StatusNone
		}
		rest = rest[i+len("<strong>"):]
		j := strings.Index(rest, "</strong>")
		if j < 0 {
			return model.StatusNone
		}
		if s, ok := rssStatusLabels[strings.ToLower(strings.TrimSpace(rest[:j]))]; ok {
			return s
		}
		rest = rest[j:]
	}
}
