package pool

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/rickgao/agentlink/internal/adapter"
	"github.com/rickgao/agentlink/internal/api"
	"github.com/rickgao/agentlink/internal/connection"
	"github.com/rickgao/agentlink/internal/proxy"
)

// ErrPoolClosed is returned after Stop.
var ErrPoolClosed = errors.New("pool closed")

// PoolExhaustedError means no slot was free even after the idle sweep.
type PoolExhaustedError struct {
	Max    int
	Active int
}

func (e *PoolExhaustedError) Error() string {
	return fmt.Sprintf("connection pool exhausted (%d/%d in use)", e.Active, e.Max)
}

// IsRetryable reports whether err is a transient failure worth retrying.
// Logical failures, request timeouts and an unrecoverable proxy
// registration are terminal.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var (
		toolErr    *adapter.ToolInvocationError
		timeoutErr *connection.RequestTimeoutError
		pnfErr     *proxy.ProxyNotFoundError
	)
	if errors.As(err, &toolErr) || errors.As(err, &timeoutErr) || errors.As(err, &pnfErr) {
		return false
	}

	var (
		exhausted *PoolExhaustedError
		connErr   *adapter.ConnectionError
		cooldown  *connection.CooldownError
		handshake *connection.HandshakeError
	)
	switch {
	case errors.As(err, &exhausted),
		errors.As(err, &connErr),
		errors.As(err, &cooldown),
		errors.As(err, &handshake),
		errors.Is(err, connection.ErrConnectionClosed),
		errors.Is(err, connection.ErrNotConnected):
		return true
	}

	if apiErr, ok := api.AsAPIError(err); ok {
		return apiErr.IsRetryable()
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
