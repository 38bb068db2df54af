package proxy

import (
	"errors"
	"fmt"

	"github.com/rickgao/agentlink/internal/api"
	"github.com/rickgao/agentlink/internal/connection"
)

// ProxyNotFoundError means the gateway still reports the registration
// missing after one re-registration and retry.
type ProxyNotFoundError struct {
	ProxyKey string
	Endpoint string
	Err      error
}

func (e *ProxyNotFoundError) Error() string {
	return fmt.Sprintf("proxy %s for %s not found after re-registration: %v", e.ProxyKey, e.Endpoint, e.Err)
}

func (e *ProxyNotFoundError) Unwrap() error {
	return e.Err
}

// IsStale reports whether err indicates the gateway lost the
// registration: an HTTP 404 or "not found" body, or a 404 on the
// WebSocket upgrade.
func IsStale(err error) bool {
	if err == nil {
		return false
	}

	var pnf *ProxyNotFoundError
	if errors.As(err, &pnf) {
		return false
	}

	if apiErr, ok := api.AsAPIError(err); ok {
		return apiErr.IsNotFound()
	}

	var hsErr *connection.HandshakeError
	if errors.As(err, &hsErr) {
		return hsErr.NotFound()
	}

	return false
}
