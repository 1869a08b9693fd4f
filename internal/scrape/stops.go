package scrape

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/net/html"
)

// StopRow is one scraped stop-event table row, keyed by the table's column
// headers, with the trip ID taken from the preceding heading.
type StopRow struct {
	TripID string
	Fields map[string]string
}

// ParseStopEvents extracts stop-event rows from the upstream HTML page. The
// page interleaves h2 headings ("Stop events for trip NNN") with one table
// of rows per trip.
func ParseStopEvents(r io.Reader) ([]StopRow, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse stop events page: %w", err)
	}

	var rows []StopRow
	var currentTrip string

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "h2":
				heading := strings.Fields(nodeText(n))
				if len(heading) > 0 {
					currentTrip = heading[len(heading)-1]
				}
			case "table":
				rows = append(rows, tableRows(n, currentTrip)...)
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return rows, nil
}

// tableRows reads one trip's table: headers from th cells, one StopRow per
// tr whose td count matches the header count.
func tableRows(table *html.Node, tripID string) []StopRow {
	var headers []string
	var rows []StopRow

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "tr" {
			var ths, tds []string
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if c.Type != html.ElementNode {
					continue
				}
				switch c.Data {
				case "th":
					ths = append(ths, strings.TrimSpace(nodeText(c)))
				case "td":
					tds = append(tds, strings.TrimSpace(nodeText(c)))
				}
			}
			if len(ths) > 0 && headers == nil {
				headers = ths
			}
			if len(tds) > 0 && len(tds) == len(headers) {
				fields := make(map[string]string, len(headers))
				for i, h := range headers {
					fields[h] = tds[i]
				}
				rows = append(rows, StopRow{TripID: tripID, Fields: fields})
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(table)

	return rows
}

func nodeText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

// FetchStopEvents fetches and parses the stop-event page for one vehicle.
// 404 means no data, returned as nil rows.
func (c *Client) FetchStopEvents(ctx context.Context, vehicleID int) ([]StopRow, error) {
	url := fmt.Sprintf("%s%d", c.BaseURL, vehicleID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch stop events for vehicle %d: %w", vehicleID, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, nil
	default:
		return nil, fmt.Errorf("fetch stop events for vehicle %d: unexpected status %d", vehicleID, resp.StatusCode)
	}

	return ParseStopEvents(resp.Body)
}

// PublishStopEvents fetches every vehicle's stop events and publishes one
// message per row, with the trip ID folded into the payload. Returns the
// number of published rows.
func PublishStopEvents(ctx context.Context, c *Client, pub Publisher, subject string, vehicles []int, log zerolog.Logger) int {
	published := 0
	for _, id := range vehicles {
		rows, err := c.FetchStopEvents(ctx, id)
		if err != nil {
			log.Warn().Err(err).Int("vehicle_id", id).Msg("fetch failed, skipping vehicle")
			continue
		}
		if len(rows) == 0 {
			log.Debug().Int("vehicle_id", id).Msg("no stop events for vehicle")
			continue
		}
		for _, row := range rows {
			payload := make(map[string]string, len(row.Fields)+1)
			for k, v := range row.Fields {
				payload[k] = v
			}
			payload["trip_id"] = row.TripID

			data, err := json.Marshal(payload)
			if err != nil {
				log.Warn().Err(err).Int("vehicle_id", id).Msg("encode failed")
				continue
			}
			if err := pub.Publish(subject, data); err != nil {
				log.Warn().Err(err).Int("vehicle_id", id).Msg("publish failed")
				continue
			}
			published++
		}
	}
	return published
}
