// Package scrape implements the producer side: polling the upstream
// telemetry API, scraping the stop-event tables, and publishing one queue
// message per record.
package scrape

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Publisher publishes one message to the queue.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Client fetches records from the upstream telemetry API.
type Client struct {
	// BaseURL is the endpoint prefix; the vehicle ID is appended directly,
	// e.g. "https://busdata.example.edu/api/getBreadCrumbs?vehicle_id=".
	BaseURL string

	HTTPClient *http.Client
}

// NewClient returns a Client with a sane request timeout.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// FetchBreadcrumbs fetches all breadcrumb records for one vehicle. A 404
// means the vehicle has no data today; that is nil records, not an error.
func (c *Client) FetchBreadcrumbs(ctx context.Context, vehicleID int) ([]json.RawMessage, error) {
	url := fmt.Sprintf("%s%d", c.BaseURL, vehicleID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch vehicle %d: %w", vehicleID, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, nil
	default:
		return nil, fmt.Errorf("fetch vehicle %d: unexpected status %d", vehicleID, resp.StatusCode)
	}

	var records []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, fmt.Errorf("decode vehicle %d response: %w", vehicleID, err)
	}
	return records, nil
}

// PublishBreadcrumbs fetches every vehicle's breadcrumbs and publishes one
// message per record. Per-vehicle failures are logged and skipped; the
// remaining roster still runs. Returns the number of published records.
func PublishBreadcrumbs(ctx context.Context, c *Client, pub Publisher, subject string, vehicles []int, log zerolog.Logger) int {
	published := 0
	for _, id := range vehicles {
		records, err := c.FetchBreadcrumbs(ctx, id)
		if err != nil {
			log.Warn().Err(err).Int("vehicle_id", id).Msg("fetch failed, skipping vehicle")
			continue
		}
		if len(records) == 0 {
			log.Debug().Int("vehicle_id", id).Msg("no data for vehicle")
			continue
		}
		for _, rec := range records {
			if err := pub.Publish(subject, rec); err != nil {
				log.Warn().Err(err).Int("vehicle_id", id).Msg("publish failed")
				continue
			}
			published++
		}
	}
	return published
}
