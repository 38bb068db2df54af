// Package runtimetest provides an in-process agent runtime for tests.
//
// It serves the runtime HTTP surface (/status, /tools/invoke,
// /v1/chat/completions) and the persistent connection on /ws.
package runtimetest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/agentlink/internal/api"
	"github.com/rickgao/agentlink/internal/connection"
)

// ToolFunc implements a tool. A non-nil *api.ToolError is a logical failure.
type ToolFunc func(args map[string]any) (any, *api.ToolError)

// Runtime is a fake agent runtime.
type Runtime struct {
	server    *httptest.Server
	accountID string
	upgrader  websocket.Upgrader

	mu        sync.Mutex
	connected bool
	wsEnabled bool
	tools     map[string]ToolFunc
	conns     map[*wsConn]struct{}
	lastAgent string

	statusCalls atomic.Int32
	toolCalls   atomic.Int32
	chatCalls   atomic.Int32
	frames      atomic.Int32
	wsOpened    atomic.Int32
}

type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *wsConn) write(f connection.Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// New starts a runtime reporting accountID. It has an "echo" tool that
// returns its args and a "sleep" tool that waits args["ms"] milliseconds.
func New(accountID string) *Runtime {
	r := &Runtime{
		accountID: accountID,
		connected: true,
		wsEnabled: true,
		tools:     make(map[string]ToolFunc),
		conns:     make(map[*wsConn]struct{}),
	}
	r.HandleTool("echo", func(args map[string]any) (any, *api.ToolError) {
		return args, nil
	})
	r.HandleTool("sleep", func(args map[string]any) (any, *api.ToolError) {
		ms, _ := args["ms"].(float64)
		time.Sleep(time.Duration(ms) * time.Millisecond)
		return map[string]any{"slept": ms}, nil
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/status", r.handleStatus)
	mux.HandleFunc("/tools/invoke", r.handleTool)
	mux.HandleFunc("/v1/chat/completions", r.handleChat)
	mux.HandleFunc("/ws", r.handleWS)
	r.server = httptest.NewServer(mux)

	return r
}

// URL returns the runtime base URL.
func (r *Runtime) URL() string {
	return r.server.URL
}

// Close shuts the runtime down.
func (r *Runtime) Close() {
	r.DropConnections()
	r.server.Close()
}

// SetConnected controls the "connected" field of /status.
func (r *Runtime) SetConnected(v bool) {
	r.mu.Lock()
	r.connected = v
	r.mu.Unlock()
}

// SetWebSocket enables or disables /ws. Disabled upgrades get 404.
func (r *Runtime) SetWebSocket(enabled bool) {
	r.mu.Lock()
	r.wsEnabled = enabled
	r.mu.Unlock()
}

// HandleTool registers fn under name.
func (r *Runtime) HandleTool(name string, fn ToolFunc) {
	r.mu.Lock()
	r.tools[name] = fn
	r.mu.Unlock()
}

// Push sends an event frame to every open WebSocket and returns how many
// received it.
func (r *Runtime) Push(f connection.Frame) int {
	if f.Type == "" {
		f.Type = connection.FrameEvent
	}

	r.mu.Lock()
	conns := make([]*wsConn, 0, len(r.conns))
	for c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.Unlock()

	sent := 0
	for _, c := range conns {
		if c.write(f) == nil {
			sent++
		}
	}
	return sent
}

// DropConnections closes every open WebSocket.
func (r *Runtime) DropConnections() {
	r.mu.Lock()
	conns := r.conns
	r.conns = make(map[*wsConn]struct{})
	r.mu.Unlock()

	for c := range conns {
		c.conn.Close()
	}
}

// OpenConnections returns the number of live WebSockets.
func (r *Runtime) OpenConnections() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// LastAgent returns the X-Agent-Id of the last chat request.
func (r *Runtime) LastAgent() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastAgent
}

// Counters.
func (r *Runtime) StatusCalls() int { return int(r.statusCalls.Load()) }
func (r *Runtime) ToolCalls() int   { return int(r.toolCalls.Load()) }
func (r *Runtime) ChatCalls() int   { return int(r.chatCalls.Load()) }
func (r *Runtime) Frames() int      { return int(r.frames.Load()) }
func (r *Runtime) WSOpened() int    { return int(r.wsOpened.Load()) }

func (r *Runtime) handleStatus(w http.ResponseWriter, req *http.Request) {
	r.statusCalls.Add(1)
	r.mu.Lock()
	connected := r.connected
	r.mu.Unlock()

	writeJSON(w, http.StatusOK, api.StatusResponse{Connected: connected, AccountID: r.accountID})
}

func (r *Runtime) handleTool(w http.ResponseWriter, req *http.Request) {
	r.toolCalls.Add(1)

	var in api.ToolInvokeRequest
	if err := json.NewDecoder(req.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, api.ErrorResponse{Error: err.Error()})
		return
	}

	result, toolErr := r.runTool(in)
	if toolErr != nil {
		writeJSON(w, http.StatusOK, api.ToolInvokeResponse{OK: false, Error: toolErr})
		return
	}
	writeJSON(w, http.StatusOK, api.ToolInvokeResponse{OK: true, Result: result})
}

// runTool runs a tool and wraps its JSON result in a text envelope.
func (r *Runtime) runTool(in api.ToolInvokeRequest) (json.RawMessage, *api.ToolError) {
	r.mu.Lock()
	fn, ok := r.tools[in.Tool]
	r.mu.Unlock()
	if !ok {
		return nil, &api.ToolError{Type: "unknown_tool", Message: "no tool named " + in.Tool}
	}

	v, toolErr := fn(in.Args)
	if toolErr != nil {
		return nil, toolErr
	}

	text, _ := json.Marshal(v)
	envelope, _ := json.Marshal(map[string]any{
		"content": []api.ContentPart{{Type: "text", Text: string(text)}},
	})
	return envelope, nil
}

func (r *Runtime) handleChat(w http.ResponseWriter, req *http.Request) {
	r.chatCalls.Add(1)

	var body struct {
		Model    string            `json:"model"`
		Stream   bool              `json:"stream"`
		Messages []api.ChatMessage `json:"messages"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, api.ErrorResponse{Error: err.Error()})
		return
	}

	r.mu.Lock()
	r.lastAgent = req.Header.Get(api.AgentHeader)
	r.mu.Unlock()

	last := ""
	if n := len(body.Messages); n > 0 {
		last = body.Messages[n-1].Content
	}
	parts := []string{"echo: ", last}

	if !body.Stream {
		writeJSON(w, http.StatusOK, map[string]any{
			"id":      "chatcmpl-test",
			"object":  "chat.completion",
			"model":   body.Model,
			"choices": []any{map[string]any{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": strings.Join(parts, "")},
			}},
		})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	flusher, _ := w.(http.Flusher)
	for _, p := range parts {
		chunk, _ := json.Marshal(map[string]any{
			"id":      "chatcmpl-test",
			"object":  "chat.completion.chunk",
			"choices": []any{map[string]any{"index": 0, "delta": map[string]any{"content": p}}},
		})
		fmt.Fprintf(w, "data: %s\n\n", chunk)
		if flusher != nil {
			flusher.Flush()
		}
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
}

func (r *Runtime) handleWS(w http.ResponseWriter, req *http.Request) {
	r.mu.Lock()
	enabled := r.wsEnabled
	r.mu.Unlock()
	if !enabled {
		http.NotFound(w, req)
		return
	}

	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}
	r.wsOpened.Add(1)

	c := &wsConn{conn: conn}
	r.mu.Lock()
	r.conns[c] = struct{}{}
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.conns, c)
		r.mu.Unlock()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var f connection.Frame
		if json.Unmarshal(data, &f) != nil {
			continue
		}
		r.frames.Add(1)
		// Frames are served concurrently so slow tools answer out of order.
		go r.serveFrame(c, f)
	}
}

func (r *Runtime) serveFrame(c *wsConn, f connection.Frame) {
	switch f.Type {
	case connection.FramePing:
		c.write(connection.Frame{Type: connection.FramePong, RequestID: f.RequestID})

	case connection.FrameText:
		c.write(connection.Frame{
			Type:      connection.FrameResponse,
			RequestID: f.RequestID,
			Message:   "echo: " + f.Message,
		})

	case connection.FrameTool:
		var in api.ToolInvokeRequest
		if len(f.Payload) > 0 {
			json.Unmarshal(f.Payload, &in)
		}
		if in.Tool == "" {
			in.Tool = f.Message
		}

		result, toolErr := r.runTool(in)
		if toolErr != nil {
			raw, _ := json.Marshal(toolErr)
			c.write(connection.Frame{Type: connection.FrameErr, RequestID: f.RequestID, Error: raw})
			return
		}
		c.write(connection.Frame{Type: connection.FrameResponse, RequestID: f.RequestID, Content: result})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
