package api

import (
	"context"
	"fmt"
)

// ConnectRequest registers a runtime endpoint with a gateway.
type ConnectRequest struct {
	Endpoint string `json:"endpoint"`
	APIKey   string `json:"apiKey,omitempty"`
}

// ConnectResponse carries the proxy key the gateway routes under.
type ConnectResponse struct {
	Connected bool   `json:"connected"`
	ProxyKey  string `json:"proxyKey"`
}

// DisconnectRequest drops a registration.
type DisconnectRequest struct {
	Endpoint string `json:"endpoint"`
}

// DisconnectResponse reports whether a registration was removed.
type DisconnectResponse struct {
	Disconnected bool `json:"disconnected"`
}

// HealthResponse is the gateway's GET /health body.
type HealthResponse struct {
	Status        string `json:"status"`
	Registrations int    `json:"registrations"`
}

// ErrorResponse is the body of gateway error replies.
type ErrorResponse struct {
	Error string `json:"error"`
}

// RegisterProxy posts POST /connect. c must point at the gateway.
func (c *Client) RegisterProxy(ctx context.Context, endpoint, apiKey string) (*ConnectResponse, error) {
	var resp ConnectResponse
	if err := c.post(ctx, "/connect", ConnectRequest{Endpoint: endpoint, APIKey: apiKey}, &resp); err != nil {
		return nil, err
	}
	if resp.ProxyKey == "" {
		return nil, fmt.Errorf("gateway returned empty proxy key for %s", endpoint)
	}
	return &resp, nil
}

// UnregisterProxy posts POST /disconnect.
func (c *Client) UnregisterProxy(ctx context.Context, endpoint string) (*DisconnectResponse, error) {
	var resp DisconnectResponse
	if err := c.post(ctx, "/disconnect", DisconnectRequest{Endpoint: endpoint}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GatewayHealth calls GET /health.
func (c *Client) GatewayHealth(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.get(ctx, "/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
