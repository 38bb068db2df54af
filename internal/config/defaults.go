package config

import (
	"time"

	"github.com/rickgao/agentlink/internal/adapter"
	"github.com/rickgao/agentlink/internal/pool"
)

// Default values for optional configuration fields.
const (
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "text"
	DefaultKind            = string(adapter.KindLocal)
	DefaultGatewayListen   = ":8090"
	DefaultShutdownTimeout = 10 * time.Second
)

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}

	applyPoolDefaults(&c.Pool)

	if c.Adapter.RequestTimeout == 0 {
		c.Adapter.RequestTimeout = adapter.DefaultRequestTimeout
	}

	if c.Gateway.Listen == "" {
		c.Gateway.Listen = DefaultGatewayListen
	}
	if c.Gateway.ShutdownTimeout == 0 {
		c.Gateway.ShutdownTimeout = DefaultShutdownTimeout
	}

	for i := range c.Connections {
		c.applyConnectionDefaults(&c.Connections[i])
	}
}

func applyPoolDefaults(p *PoolConfig) {
	def := pool.DefaultConfig()
	if p.MaxConnections == 0 {
		p.MaxConnections = def.MaxConnections
	}
	if p.IdleTimeout == 0 {
		p.IdleTimeout = def.IdleTimeout
	}
	if p.HealthCheckInterval == 0 {
		p.HealthCheckInterval = def.HealthCheckInterval
	}
	if p.HealthCheckTimeout == 0 {
		p.HealthCheckTimeout = def.HealthCheckTimeout
	}
	if p.ErrorThreshold == 0 {
		p.ErrorThreshold = def.ErrorThreshold
	}
	if p.ReconnectAttempts == 0 {
		p.ReconnectAttempts = def.ReconnectAttempts
	}
	if p.ReconnectBaseDelay == 0 {
		p.ReconnectBaseDelay = def.ReconnectBaseDelay
	}
	if p.ReconnectCooldown == 0 {
		p.ReconnectCooldown = def.ReconnectCooldown
	}
	if p.RetryAttempts == 0 {
		p.RetryAttempts = def.RetryAttempts
	}
	if p.RetryBaseDelay == 0 {
		p.RetryBaseDelay = def.RetryBaseDelay
	}
}

func (c *Config) applyConnectionDefaults(conn *ConnectionConfig) {
	if conn.Kind == "" {
		conn.Kind = DefaultKind
	}
	if conn.Kind == string(adapter.KindGateway) && conn.GatewayURL == "" {
		conn.GatewayURL = c.Gateway.URL
	}
	if conn.AgentID == "" {
		conn.AgentID = c.Adapter.AgentID
	}
	if conn.HTTPTimeout == 0 {
		conn.HTTPTimeout = c.Adapter.HTTPTimeout
	}
	if conn.RequestTimeout == 0 {
		conn.RequestTimeout = c.Adapter.RequestTimeout
	}
	if conn.ReconnectCooldown == 0 {
		conn.ReconnectCooldown = c.Adapter.ReconnectCooldown
	}
}
