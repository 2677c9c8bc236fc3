// ABOUTME: Work enqueue and work item lookup calls for the operator API.

package opclient

import (
	"context"
	"net/http"

	"github.com/ghostwire/ghostwire/internal/console"
)

type enqueueRequest struct {
	Verb string            `json:"verb"`
	Args map[string]string `json:"args,omitempty"`
}

type enqueueResponse struct {
	WorkItemID string `json:"workItemId"`
}

type workItemPayload struct {
	ID      string `json:"id"`
	AgentID string `json:"agentId"`
	Verb    string `json:"verb"`
	Status  string `json:"status"`
}

// EnqueueWork queues a verb for an agent and returns the new work item id.
func (c *Client) EnqueueWork(ctx context.Context, agentID, verb string, args map[string]string) (string, error) {
	var resp enqueueResponse
	err := c.do(ctx, http.MethodPost, "/api/agents/"+agentID+"/work", enqueueRequest{
		Verb: verb,
		Args: args,
	}, &resp)
	if err != nil {
		return "", err
	}
	return resp.WorkItemID, nil
}

// GetWorkItem returns one work item with its delivery status.
func (c *Client) GetWorkItem(ctx context.Context, id string) (*console.WorkItemInfo, error) {
	var payload workItemPayload
	if err := c.do(ctx, http.MethodGet, "/api/work/"+id, nil, &payload); err != nil {
		return nil, err
	}
	return &console.WorkItemInfo{
		ID:      payload.ID,
		AgentID: payload.AgentID,
		Verb:    payload.Verb,
		Status:  payload.Status,
	}, nil
}
