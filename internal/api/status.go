package api

import "context"

// StatusResponse is the runtime's reachability report.
type StatusResponse struct {
	Connected bool   `json:"connected"`
	AccountID string `json:"accountId,omitempty"`
}

// Status calls GET /status.
func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.get(ctx, "/status", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
