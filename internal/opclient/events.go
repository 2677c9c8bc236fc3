// ABOUTME: Event history retrieval calls for the operator API.

package opclient

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ghostwire/ghostwire/internal/console"
)

type eventPayload struct {
	Kind      string    `json:"kind"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

// ListEvents returns recent coordinator events, oldest first. An empty kind
// matches all kinds.
func (c *Client) ListEvents(ctx context.Context, kind string, limit int) ([]console.EventInfo, error) {
	q := url.Values{}
	if kind != "" {
		q.Set("kind", kind)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/events"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var payload []eventPayload
	if err := c.do(ctx, http.MethodGet, path, nil, &payload); err != nil {
		return nil, err
	}

	infos := make([]console.EventInfo, 0, len(payload))
	for _, p := range payload {
		infos = append(infos, console.EventInfo{
			Kind:      p.Kind,
			Source:    p.Source,
			Timestamp: p.Timestamp,
		})
	}
	return infos, nil
}
