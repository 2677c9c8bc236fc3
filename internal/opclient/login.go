// ABOUTME: Operator login call exchanging credentials for a session token.

package opclient

import (
	"context"
	"net/http"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

// Login authenticates against the API and stores the session token on the
// client for subsequent calls.
func (c *Client) Login(ctx context.Context, username, password string) error {
	var resp loginResponse
	if err := c.do(ctx, http.MethodPost, "/api/login", loginRequest{
		Username: username,
		Password: password,
	}, &resp); err != nil {
		return err
	}
	c.token = resp.Token
	return nil
}
