package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/rickgao/agentlink/internal/adapter"
	"github.com/rickgao/agentlink/internal/pool"
)

// Config is the root configuration shared by agentctl and the gateway.
type Config struct {
	Log         LogConfig          `yaml:"log"`
	Pool        PoolConfig         `yaml:"pool"`
	Adapter     AdapterDefaults    `yaml:"adapter"`
	Gateway     GatewayConfig      `yaml:"gateway"`
	Connections []ConnectionConfig `yaml:"connections"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// PoolConfig mirrors pool.Config.
type PoolConfig struct {
	MaxConnections      int           `yaml:"max_connections"`
	IdleTimeout         time.Duration `yaml:"idle_timeout"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
	HealthCheckTimeout  time.Duration `yaml:"health_check_timeout"`
	ErrorThreshold      int           `yaml:"error_threshold"`
	ReconnectAttempts   int           `yaml:"reconnect_attempts"`
	ReconnectBaseDelay  time.Duration `yaml:"reconnect_base_delay"`
	ReconnectCooldown   time.Duration `yaml:"reconnect_cooldown"`
	RetryAttempts       int           `yaml:"retry_attempts"`
	RetryBaseDelay      time.Duration `yaml:"retry_base_delay"`
}

// AdapterDefaults apply to every connection that leaves them unset.
type AdapterDefaults struct {
	AgentID           string        `yaml:"agent_id"`
	HTTPTimeout       time.Duration `yaml:"http_timeout"` // 0 keeps the per-kind default
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	ReconnectCooldown time.Duration `yaml:"reconnect_cooldown"`
}

// GatewayConfig configures cmd/gateway and the default gateway URL for
// gateway connections.
type GatewayConfig struct {
	Listen          string        `yaml:"listen"`
	URL             string        `yaml:"url"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// ConnectionConfig is one named runtime connection.
type ConnectionConfig struct {
	Name           string        `yaml:"name"`
	Kind           string        `yaml:"kind"` // local, remote or gateway
	Endpoint       string        `yaml:"endpoint"`
	AccountID      string        `yaml:"account_id"`
	APIKey         string        `yaml:"api_key"`
	GatewayURL     string        `yaml:"gateway_url"`
	AgentID        string        `yaml:"agent_id"`
	HTTPTimeout    time.Duration `yaml:"http_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// ReconnectCooldown throttles WebSocket reopens; negative disables it.
	ReconnectCooldown time.Duration `yaml:"reconnect_cooldown"`
}

// PoolConfig converts to pool.Config.
func (p PoolConfig) PoolConfig() pool.Config {
	return pool.Config{
		MaxConnections:      p.MaxConnections,
		IdleTimeout:         p.IdleTimeout,
		HealthCheckInterval: p.HealthCheckInterval,
		HealthCheckTimeout:  p.HealthCheckTimeout,
		ErrorThreshold:      p.ErrorThreshold,
		ReconnectAttempts:   p.ReconnectAttempts,
		ReconnectBaseDelay:  p.ReconnectBaseDelay,
		ReconnectCooldown:   p.ReconnectCooldown,
		RetryAttempts:       p.RetryAttempts,
		RetryBaseDelay:      p.RetryBaseDelay,
	}
}

// AdapterConfig converts to adapter.Config.
func (c ConnectionConfig) AdapterConfig() adapter.Config {
	return adapter.Config{
		Kind:           adapter.Kind(strings.ToLower(c.Kind)),
		Endpoint:       c.Endpoint,
		AccountID:      c.AccountID,
		APIKey:         c.APIKey,
		GatewayURL:     c.GatewayURL,
		AgentID:        c.AgentID,
		HTTPTimeout:    c.HTTPTimeout,
		RequestTimeout: c.RequestTimeout,

		ReconnectCooldown: c.ReconnectCooldown,
	}
}

// Connection returns the named connection. An empty name selects the
// only connection when exactly one is configured.
func (c *Config) Connection(name string) (ConnectionConfig, error) {
	if name == "" {
		if len(c.Connections) == 1 {
			return c.Connections[0], nil
		}
		return ConnectionConfig{}, fmt.Errorf("%d connections configured, pick one by name", len(c.Connections))
	}
	for _, conn := range c.Connections {
		if conn.Name == name {
			return conn, nil
		}
	}
	return ConnectionConfig{}, fmt.Errorf("unknown connection %q", name)
}

// Handler builds the slog handler described by l.
func (l LogConfig) Handler(w io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{Level: l.level()}
	if strings.EqualFold(l.Format, "json") {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// Logger returns a logger writing to w.
func (l LogConfig) Logger(w io.Writer) *slog.Logger {
	return slog.New(l.Handler(w))
}

func (l LogConfig) level() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
