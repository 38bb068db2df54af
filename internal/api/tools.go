package api

import (
	"context"
	"encoding/json"
	"fmt"
)

// ToolInvokeRequest is the body of POST /tools/invoke.
type ToolInvokeRequest struct {
	Tool       string         `json:"tool"`
	Args       map[string]any `json:"args,omitempty"`
	SessionKey string         `json:"sessionKey,omitempty"`
	Action     string         `json:"action,omitempty"`
	DryRun     bool           `json:"dryRun,omitempty"`
}

// ToolError is the structured failure reported by the runtime.
type ToolError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (e *ToolError) Error() string {
	if e.Type == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ToolInvokeResponse is the runtime's answer to a tool invocation.
type ToolInvokeResponse struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ToolError      `json:"error,omitempty"`
}

// InvokeTool posts a tool invocation. A response with ok=false is not an
// error here; callers inspect Error.
func (c *Client) InvokeTool(ctx context.Context, req ToolInvokeRequest) (*ToolInvokeResponse, error) {
	var resp ToolInvokeResponse
	if err := c.post(ctx, "/tools/invoke", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
