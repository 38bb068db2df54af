package adapter

import (
	"errors"
	"fmt"
)

// ErrRuntimeNotConnected is wrapped by ConnectionError when the runtime
// answers but reports itself disconnected.
var ErrRuntimeNotConnected = errors.New("runtime reports not connected")

// ErrExecuteUnsupported is reported by transports without multiplexed RPC.
var ErrExecuteUnsupported = errors.New("execute requires a gateway connection")

// ConnectionError means the runtime could not be reached or reported
// itself disconnected.
type ConnectionError struct {
	Identity Identity
	Op       string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Identity, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ToolInvocationError is a logical tool failure reported by the runtime.
type ToolInvocationError struct {
	Tool    string
	Type    string
	Message string
}

func (e *ToolInvocationError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("tool %s failed: %s", e.Tool, e.Message)
	}
	return fmt.Sprintf("tool %s failed (%s): %s", e.Tool, e.Type, e.Message)
}
