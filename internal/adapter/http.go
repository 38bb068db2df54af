package adapter

import (
	"context"
	"time"

	"github.com/openai/openai-go"

	"github.com/rickgao/agentlink/internal/api"
)

// httpAdapter talks to a runtime directly over HTTP.
type httpAdapter struct {
	*base
	client *api.Client
}

func newHTTPAdapter(kind Kind, cfg Config, o options, timeout time.Duration) *httpAdapter {
	if cfg.HTTPTimeout > 0 {
		timeout = cfg.HTTPTimeout
	}
	return &httpAdapter{
		base:   newBase(kind, cfg, o.logger),
		client: runtimeClient(cfg, o, cfg.Endpoint, timeout),
	}
}

func (a *httpAdapter) Connect(ctx context.Context) error {
	return a.connectVia(ctx, a.client)
}

func (a *httpAdapter) Disconnect(ctx context.Context) error {
	a.closeEvents()
	a.logger.Debug("disconnected")
	return nil
}

func (a *httpAdapter) Status(ctx context.Context) Status {
	return a.checkStatus(ctx, a.client)
}

func (a *httpAdapter) InvokeTool(ctx context.Context, tool string, args map[string]any, opts ToolOptions) (any, error) {
	return a.invokeTool(ctx, a.client, tool, args, opts)
}

func (a *httpAdapter) SendMessage(ctx context.Context, message string, opts MessageOptions) (string, error) {
	return a.sendMessage(ctx, a.client, message, opts)
}

func (a *httpAdapter) ChatCompletion(ctx context.Context, req api.ChatRequest) (*openai.ChatCompletion, error) {
	completion, err := a.client.ChatCompletion(ctx, a.withAgent(req))
	if err != nil {
		return nil, err
	}
	a.touch()
	return completion, nil
}

func (a *httpAdapter) StreamChatCompletion(ctx context.Context, req api.ChatRequest, onChunk func(string)) (string, error) {
	text, err := a.client.StreamChatCompletion(ctx, a.withAgent(req), onChunk)
	if err != nil {
		return text, err
	}
	a.touch()
	return text, nil
}

// Local is a co-located runtime over loopback HTTP.
type Local struct {
	*httpAdapter
}

// NewLocal creates a Local adapter. No connection is made until Connect.
func NewLocal(cfg Config, opts ...Option) *Local {
	cfg.Kind = KindLocal
	return &Local{httpAdapter: newHTTPAdapter(KindLocal, cfg, buildOptions(opts), DefaultLocalTimeout)}
}

// Execute invokes action.Method as a tool with action.Params as its args.
func (a *Local) Execute(ctx context.Context, action Action) Result {
	return resultOf(a.invokeTool(ctx, a.client, action.Method, action.Params, ToolOptions{}))
}

// Remote is a runtime reached over HTTP/TLS. It has no multiplexed RPC.
type Remote struct {
	*httpAdapter
}

// NewRemote creates a Remote adapter. No connection is made until Connect.
func NewRemote(cfg Config, opts ...Option) *Remote {
	cfg.Kind = KindRemote
	return &Remote{httpAdapter: newHTTPAdapter(KindRemote, cfg, buildOptions(opts), DefaultRemoteTimeout)}
}

// Execute always fails: generic actions need a gateway's persistent
// connection.
func (a *Remote) Execute(ctx context.Context, action Action) Result {
	return Result{Success: false, Error: ErrExecuteUnsupported.Error()}
}
