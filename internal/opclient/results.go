// ABOUTME: Work result retrieval calls for the operator API.

package opclient

import (
	"context"
	"net/http"
	"time"

	"github.com/ghostwire/ghostwire/internal/console"
)

type resultPayload struct {
	ID         string    `json:"id"`
	WorkItemID string    `json:"workItemId"`
	AgentID    string    `json:"agentId"`
	Success    bool      `json:"success"`
	Output     string    `json:"output"`
	ReceivedAt time.Time `json:"receivedAt"`
}

func (p resultPayload) toInfo() console.ResultInfo {
	return console.ResultInfo{
		WorkItemID: p.WorkItemID,
		Success:    p.Success,
		Output:     p.Output,
		ReceivedAt: p.ReceivedAt,
	}
}

// ListResults returns the most recent results for an agent.
func (c *Client) ListResults(ctx context.Context, agentID string) ([]console.ResultInfo, error) {
	var payload []resultPayload
	if err := c.do(ctx, http.MethodGet, "/api/agents/"+agentID+"/results", nil, &payload); err != nil {
		return nil, err
	}

	infos := make([]console.ResultInfo, 0, len(payload))
	for _, p := range payload {
		infos = append(infos, p.toInfo())
	}
	return infos, nil
}

// GetResult returns the result for one work item, if it has arrived.
func (c *Client) GetResult(ctx context.Context, workItemID string) (*console.ResultInfo, error) {
	var payload resultPayload
	if err := c.do(ctx, http.MethodGet, "/api/work/"+workItemID+"/result", nil, &payload); err != nil {
		return nil, err
	}
	info := payload.toInfo()
	return &info, nil
}
