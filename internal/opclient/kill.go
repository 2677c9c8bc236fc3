// ABOUTME: Agent kill call for the operator API.

package opclient

import (
	"context"
	"net/http"
)

type killResponse struct {
	WorkItemID string `json:"workItemId"`
}

// KillAgent queues a terminate order for the agent and marks it killed.
// Returns the id of the terminate work item.
func (c *Client) KillAgent(ctx context.Context, agentID string) (string, error) {
	var resp killResponse
	if err := c.do(ctx, http.MethodPost, "/api/agents/"+agentID+"/kill", struct{}{}, &resp); err != nil {
		return "", err
	}
	return resp.WorkItemID, nil
}
