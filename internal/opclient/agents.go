// ABOUTME: Agent listing and lookup calls for the operator API.

package opclient

import (
	"context"
	"net/http"
	"time"

	"github.com/ghostwire/ghostwire/internal/console"
)

type agentPayload struct {
	ID            string    `json:"id"`
	Hostname      string    `json:"hostname"`
	Username      string    `json:"username"`
	OS            string    `json:"os"`
	Arch          string    `json:"arch"`
	PID           int       `json:"pid"`
	Status        string    `json:"status"`
	SleepInterval int       `json:"sleepInterval"`
	FirstSeen     time.Time `json:"firstSeen"`
	LastSeen      time.Time `json:"lastSeen"`
}

func (p agentPayload) toInfo() console.AgentInfo {
	return console.AgentInfo{
		ID:       p.ID,
		Hostname: p.Hostname,
		Username: p.Username,
		OS:       p.OS,
		Status:   p.Status,
		LastSeen: p.LastSeen,
	}
}

// ListAgents returns every agent known to the coordinator.
func (c *Client) ListAgents(ctx context.Context) ([]console.AgentInfo, error) {
	var payload []agentPayload
	if err := c.do(ctx, http.MethodGet, "/api/agents", nil, &payload); err != nil {
		return nil, err
	}

	infos := make([]console.AgentInfo, 0, len(payload))
	for _, p := range payload {
		infos = append(infos, p.toInfo())
	}
	return infos, nil
}

// GetAgent returns one agent by id.
func (c *Client) GetAgent(ctx context.Context, id string) (*console.AgentInfo, error) {
	var payload agentPayload
	if err := c.do(ctx, http.MethodGet, "/api/agents/"+id, nil, &payload); err != nil {
		return nil, err
	}
	info := payload.toInfo()
	return &info, nil
}
