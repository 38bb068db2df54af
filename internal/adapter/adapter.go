package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"

	"github.com/rickgao/agentlink/internal/api"
	"github.com/rickgao/agentlink/internal/connection"
	"github.com/rickgao/agentlink/internal/events"
)

// Kind selects a transport.
type Kind string

const (
	KindLocal   Kind = "local"
	KindRemote  Kind = "remote"
	KindGateway Kind = "gateway"
)

// ParseKind validates a configured transport name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindLocal, KindRemote, KindGateway:
		return k, nil
	default:
		return "", fmt.Errorf("unknown adapter kind %q (want local, remote or gateway)", s)
	}
}

// Default timeouts.
const (
	DefaultLocalTimeout   = 10 * time.Second
	DefaultRemoteTimeout  = 60 * time.Second
	DefaultRequestTimeout = 30 * time.Second
)

// Config describes one runtime connection.
type Config struct {
	Kind       Kind
	Endpoint   string
	AccountID  string
	APIKey     string
	GatewayURL string // required for KindGateway
	AgentID    string // default X-Agent-Id

	HTTPTimeout       time.Duration // 0 uses the per-kind default
	RequestTimeout    time.Duration // persistent-connection request deadline
	ReconnectCooldown time.Duration // WebSocket reopen cooldown; < 0 disables, 0 uses the default
}

// Identity returns the pool identity for c.
func (c Config) Identity() Identity {
	return NewIdentity(c.Endpoint, c.AccountID)
}

func (c Config) reconnectCooldown() time.Duration {
	switch {
	case c.ReconnectCooldown < 0:
		return 0
	case c.ReconnectCooldown == 0:
		return connection.DefaultReconnectCooldown
	default:
		return c.ReconnectCooldown
	}
}

// Validate checks that c can build an adapter.
func (c Config) Validate() error {
	kind, err := ParseKind(string(c.Kind))
	if err != nil {
		return err
	}
	if strings.TrimSpace(c.Endpoint) == "" {
		return fmt.Errorf("endpoint is required")
	}
	if kind == KindGateway && strings.TrimSpace(c.GatewayURL) == "" {
		return fmt.Errorf("gateway_url is required for gateway adapters")
	}
	return nil
}

// Identity names a runtime connection: one pooled adapter per identity.
type Identity struct {
	Endpoint  string
	AccountID string
}

// NewIdentity normalizes endpoint (trailing "/" removed).
func NewIdentity(endpoint, accountID string) Identity {
	return Identity{
		Endpoint:  strings.TrimRight(strings.TrimSpace(endpoint), "/"),
		AccountID: accountID,
	}
}

// Key is the deterministic pool key "accountId@endpoint".
func (i Identity) Key() string {
	return i.AccountID + "@" + i.Endpoint
}

func (i Identity) String() string {
	return i.Key()
}

// Status is a point-in-time view of an adapter.
type Status struct {
	Connected  bool
	AccountID  string
	LastActive time.Time
	Error      string
}

// Action is a generic method call.
type Action struct {
	Method string
	Params map[string]any
}

// Result is the outcome of Execute. Failures are reported in Error, not
// as a Go error.
type Result struct {
	Success bool
	Data    any
	Error   string
}

// ToolOptions are optional tool invocation parameters.
type ToolOptions struct {
	SessionKey string
	Action     string
	DryRun     bool
}

// MessageOptions are optional SendMessage parameters.
type MessageOptions struct {
	SessionKey string
	AgentID    string // overrides Config.AgentID
	Model      string
}

// Adapter is the uniform runtime contract.
type Adapter interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error

	// Status never fails; problems are reported in Status.Error.
	Status(ctx context.Context) Status

	Execute(ctx context.Context, action Action) Result
	InvokeTool(ctx context.Context, tool string, args map[string]any, opts ToolOptions) (any, error)
	SendMessage(ctx context.Context, message string, opts MessageOptions) (string, error)
	ChatCompletion(ctx context.Context, req api.ChatRequest) (*openai.ChatCompletion, error)
	StreamChatCompletion(ctx context.Context, req api.ChatRequest, onChunk func(string)) (string, error)

	// Subscribe returns push events from the persistent connection. The
	// subscription closes on Unsubscribe or Disconnect.
	Subscribe() *events.Subscription[connection.Frame]

	Kind() Kind
	Identity() Identity
}

// Detacher is implemented by adapters holding a registration that other
// identities may share. Detach disconnects but leaves the registration.
type Detacher interface {
	Detach(ctx context.Context) error
}

type options struct {
	logger     *slog.Logger
	httpClient *http.Client
}

// Option configures New.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithHTTPClient sets the HTTP client used for runtime and gateway calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) {
		o.httpClient = hc
	}
}

// New builds the adapter selected by cfg.Kind.
func New(cfg Config, opts ...Option) (Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid adapter config: %w", err)
	}
	cfg.Kind, _ = ParseKind(string(cfg.Kind))

	switch cfg.Kind {
	case KindLocal:
		return NewLocal(cfg, opts...), nil
	case KindRemote:
		return NewRemote(cfg, opts...), nil
	default:
		return NewGateway(cfg, opts...), nil
	}
}

func buildOptions(opts []Option) options {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

// runtimeClient builds the api.Client used for runtime calls. It never
// retries on its own; retries belong to the pool.
func runtimeClient(cfg Config, o options, baseURL string, timeout time.Duration) *api.Client {
	clientOpts := []api.ClientOption{
		api.WithLogger(o.logger),
		api.WithTimeout(timeout),
		api.WithRetries(0, 0),
	}
	if o.httpClient != nil {
		clientOpts = append(clientOpts, api.WithHTTPClient(o.httpClient))
	}
	if cfg.AgentID != "" {
		clientOpts = append(clientOpts, api.WithHeader(api.AgentHeader, cfg.AgentID))
	}
	return api.NewClient(baseURL, cfg.APIKey, clientOpts...)
}
