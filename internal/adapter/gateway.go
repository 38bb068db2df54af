package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/openai/openai-go"

	"github.com/rickgao/agentlink/internal/api"
	"github.com/rickgao/agentlink/internal/connection"
	"github.com/rickgao/agentlink/internal/proxy"
	"github.com/rickgao/agentlink/internal/version"
)

// WebSocketPath is the runtime path bridged by the gateway for the
// persistent connection.
const WebSocketPath = "/ws"

// Gateway reaches a runtime through a gateway. Requests prefer the
// multiplexed WebSocket and fall back to the HTTP proxy.
type Gateway struct {
	*base

	runtime     *api.Client // rebased onto the proxy URL for every call
	registrar   *proxy.Registrar
	reconnector *connection.Reconnector
	sessCfg     connection.SessionConfig

	mu           sync.Mutex
	session      *connection.Session
	disconnected bool
}

// NewGateway creates a Gateway adapter. No connection is made until Connect.
func NewGateway(cfg Config, opts ...Option) *Gateway {
	cfg.Kind = KindGateway
	o := buildOptions(opts)

	timeout := DefaultRemoteTimeout
	if cfg.HTTPTimeout > 0 {
		timeout = cfg.HTTPTimeout
	}
	gwOpts := []api.ClientOption{
		api.WithLogger(o.logger),
		api.WithTimeout(timeout),
		api.WithRetries(0, 0),
	}
	if o.httpClient != nil {
		gwOpts = append(gwOpts, api.WithHTTPClient(o.httpClient))
	}
	gw := api.NewClient(cfg.GatewayURL, "", gwOpts...)

	reqTimeout := cfg.RequestTimeout
	if reqTimeout <= 0 {
		reqTimeout = DefaultRequestTimeout
	}
	sessCfg := connection.DefaultSessionConfig()
	sessCfg.RequestTimeout = reqTimeout
	sessCfg.Client.Header = handshakeHeader(cfg)

	b := newBase(KindGateway, cfg, o.logger)
	return &Gateway{
		base:        b,
		runtime:     runtimeClient(cfg, o, cfg.GatewayURL, timeout),
		registrar:   proxy.NewRegistrar(gw, cfg.Endpoint, cfg.APIKey, b.logger),
		reconnector: connection.NewReconnector(cfg.reconnectCooldown()),
		sessCfg:     sessCfg,
	}
}

func handshakeHeader(cfg Config) http.Header {
	h := make(http.Header)
	h.Set("User-Agent", version.UserAgent())
	if cfg.APIKey != "" {
		h.Set("Authorization", "Bearer "+cfg.APIKey)
	}
	if cfg.AgentID != "" {
		h.Set(api.AgentHeader, cfg.AgentID)
	}
	return h
}

// ProxyKey returns the current gateway proxy key.
func (g *Gateway) ProxyKey() string {
	return g.registrar.Key()
}

// Connect registers with the gateway, checks the runtime through the
// proxy, then opens the persistent connection. A WebSocket failure is not
// fatal; calls use the HTTP proxy until it comes up.
func (g *Gateway) Connect(ctx context.Context) error {
	g.mu.Lock()
	g.disconnected = false
	g.mu.Unlock()

	if _, err := g.registrar.Register(ctx); err != nil {
		return &ConnectionError{Identity: g.identity, Op: "register", Err: err}
	}

	err := g.registrar.Do(ctx, func(ctx context.Context, baseURL string) error {
		return g.connectVia(ctx, g.runtime.WithBaseURL(baseURL))
	})
	if err != nil {
		var ce *ConnectionError
		if !errors.As(err, &ce) {
			err = &ConnectionError{Identity: g.identity, Op: "connect", Err: err}
		}
		return err
	}

	if _, err := g.ensureSession(ctx); err != nil {
		g.logger.Warn("persistent connection unavailable, using HTTP proxy", "error", err)
	}
	return nil
}

// Disconnect closes the persistent connection, rejecting its pending
// requests, ends event subscriptions and releases the gateway
// registration.
func (g *Gateway) Disconnect(ctx context.Context) error {
	return g.release(ctx, true)
}

// Detach is Disconnect without releasing the gateway registration. The
// registration is keyed by endpoint, so other identities on the same
// endpoint keep routing through it.
func (g *Gateway) Detach(ctx context.Context) error {
	return g.release(ctx, false)
}

func (g *Gateway) release(ctx context.Context, unregister bool) error {
	g.mu.Lock()
	s := g.session
	g.session = nil
	g.disconnected = true
	g.mu.Unlock()

	if s != nil {
		s.Close()
	}
	g.closeEvents()
	g.reconnector.Reset(g.identity.Key())

	if unregister {
		if err := g.registrar.Unregister(ctx); err != nil {
			g.logger.Warn("failed to release proxy registration", "error", err)
			return err
		}
	}

	g.logger.Debug("disconnected", "registration_released", unregister)
	return nil
}

// Status checks the runtime through the proxy, re-registering if the
// gateway lost the registration.
func (g *Gateway) Status(ctx context.Context) Status {
	if g.isDisconnected() {
		return g.failedStatus(connection.ErrConnectionClosed)
	}

	var st Status
	err := g.registrar.Do(ctx, func(ctx context.Context, baseURL string) error {
		var err error
		st, err = g.statusOf(ctx, g.runtime.WithBaseURL(baseURL))
		return err
	})
	if err != nil {
		st = g.failedStatus(err)
	}

	if s := g.currentSession(); s != nil && s.LastActive().After(st.LastActive) {
		st.LastActive = s.LastActive()
	}
	return st
}

// Pending returns the number of requests in flight on the persistent
// connection.
func (g *Gateway) Pending() int {
	if s := g.currentSession(); s != nil {
		return s.Pending()
	}
	return 0
}

// Execute sends action as a tool frame, falling back to POST /tools/invoke
// through the proxy when the persistent connection is unusable.
func (g *Gateway) Execute(ctx context.Context, action Action) Result {
	data, err := g.callTool(ctx, action.Method, action.Params, ToolOptions{})
	return resultOf(data, err)
}

// InvokeTool calls a tool over the persistent connection or the proxy.
func (g *Gateway) InvokeTool(ctx context.Context, tool string, args map[string]any, opts ToolOptions) (any, error) {
	return g.callTool(ctx, tool, args, opts)
}

func (g *Gateway) callTool(ctx context.Context, tool string, args map[string]any, opts ToolOptions) (any, error) {
	payload, err := json.Marshal(toolRequest(tool, args, opts))
	if err != nil {
		return nil, fmt.Errorf("encode tool call: %w", err)
	}

	resp, err := g.request(ctx, connection.Frame{
		Type:    connection.FrameTool,
		Message: tool,
		Payload: payload,
	})
	if err == nil {
		return frameResult(resp)
	}

	var fe *connection.FrameError
	if errors.As(err, &fe) {
		return nil, &ToolInvocationError{Tool: tool, Type: fe.Type, Message: fe.Message}
	}
	if !g.shouldFallback(ctx, err) {
		return nil, err
	}

	g.logger.Debug("multiplexed tool call failed, using HTTP proxy", "tool", tool, "error", err)

	var out any
	err = g.registrar.Do(ctx, func(ctx context.Context, baseURL string) error {
		var err error
		out, err = g.invokeTool(ctx, g.runtime.WithBaseURL(baseURL), tool, args, opts)
		return err
	})
	return out, err
}

// SendMessage sends a text frame, falling back to a chat completion
// through the proxy.
func (g *Gateway) SendMessage(ctx context.Context, message string, opts MessageOptions) (string, error) {
	req := g.messageRequest(message, opts)

	meta, err := json.Marshal(messageMeta{SessionKey: opts.SessionKey, AgentID: req.AgentID, Model: opts.Model})
	if err != nil {
		return "", fmt.Errorf("encode message: %w", err)
	}

	resp, err := g.request(ctx, connection.Frame{
		Type:    connection.FrameText,
		Message: message,
		Payload: meta,
	})
	if err == nil {
		return resp.Text(), nil
	}
	if !g.shouldFallback(ctx, err) {
		return "", err
	}

	g.logger.Debug("multiplexed message failed, using HTTP proxy", "error", err)

	var text string
	err = g.registrar.Do(ctx, func(ctx context.Context, baseURL string) error {
		var err error
		text, err = g.sendMessage(ctx, g.runtime.WithBaseURL(baseURL), message, opts)
		return err
	})
	return text, err
}

type messageMeta struct {
	SessionKey string `json:"sessionKey,omitempty"`
	AgentID    string `json:"agentId,omitempty"`
	Model      string `json:"model,omitempty"`
}

// ChatCompletion posts a chat completion through the proxy.
func (g *Gateway) ChatCompletion(ctx context.Context, req api.ChatRequest) (*openai.ChatCompletion, error) {
	if g.isDisconnected() {
		return nil, connection.ErrConnectionClosed
	}
	req = g.withAgent(req)

	var completion *openai.ChatCompletion
	err := g.registrar.Do(ctx, func(ctx context.Context, baseURL string) error {
		var err error
		completion, err = g.runtime.WithBaseURL(baseURL).ChatCompletion(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	g.touch()
	return completion, nil
}

// StreamChatCompletion streams a chat completion through the proxy. A
// stale registration is detected before any chunk is delivered, so the
// single retry never repeats chunks.
func (g *Gateway) StreamChatCompletion(ctx context.Context, req api.ChatRequest, onChunk func(string)) (string, error) {
	if g.isDisconnected() {
		return "", connection.ErrConnectionClosed
	}
	req = g.withAgent(req)

	var text string
	err := g.registrar.Do(ctx, func(ctx context.Context, baseURL string) error {
		var err error
		text, err = g.runtime.WithBaseURL(baseURL).StreamChatCompletion(ctx, req, onChunk)
		return err
	})
	if err != nil {
		return text, err
	}
	g.touch()
	return text, nil
}

// request sends f on the persistent connection, opening it if needed.
func (g *Gateway) request(ctx context.Context, f connection.Frame) (connection.Frame, error) {
	s, err := g.ensureSession(ctx)
	if err != nil {
		return connection.Frame{}, err
	}

	resp, err := s.Request(ctx, f)
	if err != nil {
		return connection.Frame{}, err
	}
	g.touch()
	return resp, nil
}

func (g *Gateway) isDisconnected() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.disconnected
}

func (g *Gateway) currentSession() *connection.Session {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.session
}

// ensureSession returns a live session, reopening it through the shared
// reconnector. A 404 on the upgrade means the gateway lost our
// registration: re-register and dial once more.
func (g *Gateway) ensureSession(ctx context.Context) (*connection.Session, error) {
	g.mu.Lock()
	s, disconnected := g.session, g.disconnected
	g.mu.Unlock()

	if disconnected {
		return nil, connection.ErrConnectionClosed
	}
	if s != nil && s.Alive() {
		return s, nil
	}

	err := g.reconnector.Do(ctx, g.identity.Key(), func(ctx context.Context) error {
		if cur := g.currentSession(); cur != nil && cur.Alive() {
			return nil
		}

		next, err := g.dial(ctx)
		if proxy.IsStale(err) {
			g.logger.Warn("websocket upgrade not found, re-registering", "error", err)
			if _, regErr := g.registrar.Register(ctx); regErr != nil {
				return regErr
			}
			next, err = g.dial(ctx)
		}
		if err != nil {
			return err
		}

		g.mu.Lock()
		if g.disconnected {
			g.mu.Unlock()
			next.Close()
			return connection.ErrConnectionClosed
		}
		old := g.session
		g.session = next
		g.mu.Unlock()

		if old != nil {
			old.Close()
		}
		g.logger.Info("persistent connection open")
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s := g.currentSession(); s != nil {
		return s, nil
	}
	return nil, connection.ErrConnectionClosed
}

func (g *Gateway) dial(ctx context.Context) (*connection.Session, error) {
	if g.registrar.Key() == "" {
		if _, err := g.registrar.Register(ctx); err != nil {
			return nil, err
		}
	}

	cfg := g.sessCfg
	cfg.Client.URL = proxy.WebSocketURL(g.registrar.BaseURL() + WebSocketPath)

	dialCtx, cancel := context.WithTimeout(ctx, cfg.Client.HandshakeTimeout+time.Second)
	defer cancel()

	return connection.Dial(dialCtx, cfg, g.eventBus(), g.logger)
}

// shouldFallback reports whether a failed multiplexed call may be retried
// over HTTP. Timeouts are not: the runtime may already be executing it.
// Nothing is retried once the adapter has been disconnected.
func (g *Gateway) shouldFallback(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}

	if g.isDisconnected() {
		return false
	}

	var te *connection.RequestTimeoutError
	return !errors.As(err, &te)
}

// frameResult decodes a tool response frame.
func frameResult(f connection.Frame) (any, error) {
	switch {
	case len(f.Content) > 0:
		return api.DecodeToolResult(f.Content)
	case len(f.Payload) > 0:
		return api.DecodeToolResult(f.Payload)
	case f.Message != "":
		return api.DecodeText(f.Message), nil
	default:
		return nil, nil
	}
}
