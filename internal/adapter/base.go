package adapter

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/agentlink/internal/api"
	"github.com/rickgao/agentlink/internal/connection"
	"github.com/rickgao/agentlink/internal/events"
)

// base holds state shared by every transport.
type base struct {
	kind     Kind
	cfg      Config
	identity Identity
	logger   *slog.Logger

	lastActive atomic.Int64 // unix nanos

	busMu sync.Mutex
	bus   *events.Broadcaster[connection.Frame]
}

func newBase(kind Kind, cfg Config, logger *slog.Logger) *base {
	id := cfg.Identity()
	return &base{
		kind:     kind,
		cfg:      cfg,
		identity: id,
		logger:   logger.With("component", "adapter", "kind", string(kind), "identity", id.Key()),
		bus:      events.NewBroadcaster[connection.Frame](events.DefaultBuffer),
	}
}

func (b *base) Kind() Kind {
	return b.kind
}

func (b *base) Identity() Identity {
	return b.identity
}

func (b *base) Subscribe() *events.Subscription[connection.Frame] {
	return b.eventBus().Subscribe()
}

func (b *base) eventBus() *events.Broadcaster[connection.Frame] {
	b.busMu.Lock()
	defer b.busMu.Unlock()
	return b.bus
}

// closeEvents ends every current subscription. Later subscribers attach
// to a fresh broadcaster.
func (b *base) closeEvents() {
	b.busMu.Lock()
	old := b.bus
	b.bus = events.NewBroadcaster[connection.Frame](events.DefaultBuffer)
	b.busMu.Unlock()

	old.Close()
}

func (b *base) touch() {
	b.lastActive.Store(time.Now().UnixNano())
}

func (b *base) lastActiveTime() time.Time {
	n := b.lastActive.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// checkStatus asks the runtime behind c for its status. It never fails.
func (b *base) checkStatus(ctx context.Context, c *api.Client) Status {
	st, _ := b.statusOf(ctx, c)
	return st
}

// statusOf is checkStatus that also returns the transport error, if any.
func (b *base) statusOf(ctx context.Context, c *api.Client) (Status, error) {
	resp, err := c.Status(ctx)
	if err != nil {
		return b.failedStatus(err), err
	}

	b.touch()
	st := Status{
		Connected:  resp.Connected,
		AccountID:  resp.AccountID,
		LastActive: b.lastActiveTime(),
	}
	if st.AccountID == "" {
		st.AccountID = b.identity.AccountID
	}
	if !resp.Connected {
		st.Error = ErrRuntimeNotConnected.Error()
	}
	return st, nil
}

func (b *base) failedStatus(err error) Status {
	return Status{
		AccountID:  b.identity.AccountID,
		LastActive: b.lastActiveTime(),
		Error:      err.Error(),
	}
}

// connectVia runs the reachability check against c.
func (b *base) connectVia(ctx context.Context, c *api.Client) error {
	resp, err := c.Status(ctx)
	if err != nil {
		return &ConnectionError{Identity: b.identity, Op: "connect", Err: err}
	}
	if !resp.Connected {
		return &ConnectionError{Identity: b.identity, Op: "connect", Err: ErrRuntimeNotConnected}
	}

	b.touch()
	b.logger.Debug("runtime reachable", "account_id", resp.AccountID)
	return nil
}

func (b *base) invokeTool(ctx context.Context, c *api.Client, tool string, args map[string]any, opts ToolOptions) (any, error) {
	resp, err := c.InvokeTool(ctx, toolRequest(tool, args, opts))
	if err != nil {
		return nil, err
	}
	b.touch()
	return toolResult(tool, resp)
}

func (b *base) sendMessage(ctx context.Context, c *api.Client, message string, opts MessageOptions) (string, error) {
	completion, err := c.ChatCompletion(ctx, b.messageRequest(message, opts))
	if err != nil {
		return "", err
	}
	b.touch()
	return api.CompletionText(completion), nil
}

func (b *base) messageRequest(message string, opts MessageOptions) api.ChatRequest {
	agentID := opts.AgentID
	if agentID == "" {
		agentID = b.cfg.AgentID
	}
	return api.ChatRequest{
		Model:    opts.Model,
		AgentID:  agentID,
		User:     opts.SessionKey,
		Messages: []api.ChatMessage{{Role: api.RoleUser, Content: message}},
	}
}

// withAgent fills the configured agent id when req names none.
func (b *base) withAgent(req api.ChatRequest) api.ChatRequest {
	if req.AgentID == "" {
		req.AgentID = b.cfg.AgentID
	}
	return req
}

func toolRequest(tool string, args map[string]any, opts ToolOptions) api.ToolInvokeRequest {
	return api.ToolInvokeRequest{
		Tool:       tool,
		Args:       args,
		SessionKey: opts.SessionKey,
		Action:     opts.Action,
		DryRun:     opts.DryRun,
	}
}

// toolResult maps an HTTP tool response to a value or ToolInvocationError.
func toolResult(tool string, resp *api.ToolInvokeResponse) (any, error) {
	if !resp.OK {
		te := &ToolInvocationError{Tool: tool, Message: "tool invocation failed"}
		if resp.Error != nil {
			te.Type = resp.Error.Type
			if resp.Error.Message != "" {
				te.Message = resp.Error.Message
			}
		}
		return nil, te
	}
	return api.DecodeToolResult(resp.Result)
}

// resultOf converts a typed call into an Execute result.
func resultOf(data any, err error) Result {
	if err != nil {
		return Result{Success: false, Error: err.Error()}
	}
	return Result{Success: true, Data: data}
}
