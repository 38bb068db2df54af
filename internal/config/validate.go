package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error, got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	if err := c.Pool.validate(); err != nil {
		return err
	}

	if c.Gateway.Listen == "" {
		return errors.New("gateway.listen is required")
	}

	seen := make(map[string]bool, len(c.Connections))
	for i, conn := range c.Connections {
		if conn.Name == "" {
			return fmt.Errorf("connections[%d].name is required", i)
		}
		if seen[conn.Name] {
			return fmt.Errorf("connections[%d]: duplicate name %q", i, conn.Name)
		}
		seen[conn.Name] = true

		if err := conn.AdapterConfig().Validate(); err != nil {
			return fmt.Errorf("connections[%d] (%s): %w", i, conn.Name, err)
		}
	}

	return nil
}

func (p *PoolConfig) validate() error {
	if p.MaxConnections < 1 {
		return errors.New("pool.max_connections must be >= 1")
	}
	if p.ErrorThreshold < 1 {
		return errors.New("pool.error_threshold must be >= 1")
	}
	if p.ReconnectAttempts < 1 {
		return errors.New("pool.reconnect_attempts must be >= 1")
	}
	if p.RetryAttempts < 1 {
		return errors.New("pool.retry_attempts must be >= 1")
	}
	if p.IdleTimeout < 0 || p.HealthCheckInterval < 0 {
		return errors.New("pool durations must not be negative")
	}
	return nil
}
