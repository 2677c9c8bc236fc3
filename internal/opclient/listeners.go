// ABOUTME: Listener management calls for the operator API.

package opclient

import (
	"context"
	"net/http"

	"github.com/ghostwire/ghostwire/internal/console"
)

type listenerPayload struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Protocol string `json:"protocol"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Status   string `json:"status"`
}

type startListenerRequest struct {
	Name string `json:"name"`
	Host string `json:"host"`
	Port int    `json:"port"`
}

func (p listenerPayload) toInfo() console.ListenerInfo {
	return console.ListenerInfo{
		ID:       p.ID,
		Name:     p.Name,
		Protocol: p.Protocol,
		Host:     p.Host,
		Port:     p.Port,
		Status:   p.Status,
	}
}

// ListListeners returns all listener records.
func (c *Client) ListListeners(ctx context.Context) ([]console.ListenerInfo, error) {
	var payload []listenerPayload
	if err := c.do(ctx, http.MethodGet, "/api/listeners", nil, &payload); err != nil {
		return nil, err
	}

	infos := make([]console.ListenerInfo, 0, len(payload))
	for _, p := range payload {
		infos = append(infos, p.toInfo())
	}
	return infos, nil
}

// StartListener binds a new agent-facing listener on the coordinator.
func (c *Client) StartListener(ctx context.Context, name, host string, port int) (*console.ListenerInfo, error) {
	var payload listenerPayload
	err := c.do(ctx, http.MethodPost, "/api/listeners", startListenerRequest{
		Name: name,
		Host: host,
		Port: port,
	}, &payload)
	if err != nil {
		return nil, err
	}
	info := payload.toInfo()
	return &info, nil
}

// StopListener stops a running listener by id.
func (c *Client) StopListener(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/listeners/"+id+"/stop", nil, nil)
}
