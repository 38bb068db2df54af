package connection

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Errors
var (
	ErrNotConnected     = errors.New("not connected")
	ErrStaleConnection  = errors.New("connection stale (no pong)")
	ErrAlreadyClosed    = errors.New("already closed")
	ErrConnectionClosed = errors.New("connection closed")
	ErrDuplicateRequest = errors.New("duplicate request id")
)

// RequestTimeoutError is returned when no correlated response arrives in time.
type RequestTimeoutError struct {
	RequestID string
	Timeout   time.Duration
}

func (e *RequestTimeoutError) Error() string {
	return fmt.Sprintf("request %s timed out after %s", e.RequestID, e.Timeout)
}

// FrameError is an error reported by the peer in a response frame.
type FrameError struct {
	RequestID string
	Type      string
	Message   string
}

func (e *FrameError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("remote error (%s): %s", e.Type, e.Message)
	}
	return "remote error: " + e.Message
}

// HandshakeError is returned when the WebSocket upgrade is refused.
type HandshakeError struct {
	StatusCode int
	Err        error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("websocket handshake failed (status %d): %v", e.StatusCode, e.Err)
}

func (e *HandshakeError) Unwrap() error {
	return e.Err
}

// NotFound reports whether the upgrade was refused with 404.
func (e *HandshakeError) NotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// FrameType is the "type" field of a frame.
type FrameType string

const (
	FrameText     FrameType = "text"
	FrameTool     FrameType = "tool"
	FrameResponse FrameType = "response"
	FrameErr      FrameType = "error"
	FrameEvent    FrameType = "event"
	FramePing     FrameType = "ping"
	FramePong     FrameType = "pong"
)

// Frame is one JSON message on the persistent connection.
type Frame struct {
	Type      FrameType       `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	Message   string          `json:"message,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Error     json.RawMessage `json:"error,omitempty"` // string or {"type","message"}
}

// Err returns the peer-reported error carried by the frame, or nil.
func (f Frame) Err() *FrameError {
	raw := bytes.TrimSpace(f.Error)
	hasErr := len(raw) > 0 && !bytes.Equal(raw, []byte("null"))
	if f.Type != FrameErr && !hasErr {
		return nil
	}

	fe := &FrameError{RequestID: f.RequestID}
	if hasErr {
		var msg string
		if err := json.Unmarshal(raw, &msg); err == nil {
			fe.Message = msg
		} else {
			var body struct {
				Type    string `json:"type"`
				Code    string `json:"code"`
				Message string `json:"message"`
			}
			if err := json.Unmarshal(raw, &body); err == nil {
				fe.Type = body.Type
				if fe.Type == "" {
					fe.Type = body.Code
				}
				fe.Message = body.Message
			} else {
				fe.Message = string(raw)
			}
		}
	}
	if fe.Message == "" {
		fe.Message = f.Message
	}
	if fe.Message == "" {
		fe.Message = "unknown error"
	}
	return fe
}

// Text returns the most useful textual body of a frame: Message, then
// Content decoded as a JSON string, then raw Content.
func (f Frame) Text() string {
	if f.Message != "" {
		return f.Message
	}
	if len(f.Content) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(f.Content, &s); err == nil {
		return s
	}
	return string(f.Content)
}

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL              string        // ws:// or wss:// URL
	Header           http.Header   // Extra handshake headers (credentials, agent id)
	HandshakeTimeout time.Duration // Dial + upgrade deadline
	PingInterval     time.Duration // How often we send a ping
	PingTimeout      time.Duration // Max time without ping/pong before considering connection stale
	WriteTimeout     time.Duration // Write deadline for sends
	BufferSize       int           // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		PingInterval:     30 * time.Second,
		PingTimeout:      90 * time.Second,
		WriteTimeout:     5 * time.Second,
		BufferSize:       1024,
	}
}

// SessionConfig configures a multiplexed session.
type SessionConfig struct {
	Client         ClientConfig
	RequestTimeout time.Duration // Per-request deadline (default 30s)
}

// DefaultSessionConfig returns sensible defaults.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Client:         DefaultClientConfig(),
		RequestTimeout: 30 * time.Second,
	}
}
