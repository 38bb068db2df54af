package pool

import "time"

// Config holds pool configuration.
type Config struct {
	MaxConnections      int           // Max live adapters, counting ones being created (default: 10)
	IdleTimeout         time.Duration // Evict adapters unused for this long (default: 5m)
	HealthCheckInterval time.Duration // Status check interval (default: 30s)
	HealthCheckTimeout  time.Duration // Per-check deadline (default: 10s)
	ErrorThreshold      int           // Consecutive failures before "error" (default: 3)

	ReconnectAttempts  int           // Connect attempts per reconnect (default: 3)
	ReconnectBaseDelay time.Duration // Backoff base between attempts (default: 1s)
	ReconnectCooldown  time.Duration // Fail-fast window after a failed reconnect (default: 3s)

	RetryAttempts  int           // ExecuteWithRetry attempts (default: 3)
	RetryBaseDelay time.Duration // ExecuteWithRetry backoff base (default: 500ms)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxConnections:      10,
		IdleTimeout:         5 * time.Minute,
		HealthCheckInterval: 30 * time.Second,
		HealthCheckTimeout:  10 * time.Second,
		ErrorThreshold:      3,
		ReconnectAttempts:   3,
		ReconnectBaseDelay:  time.Second,
		ReconnectCooldown:   3 * time.Second,
		RetryAttempts:       3,
		RetryBaseDelay:      500 * time.Millisecond,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxConnections <= 0 {
		c.MaxConnections = def.MaxConnections
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = def.IdleTimeout
	}
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = def.HealthCheckInterval
	}
	if c.HealthCheckTimeout <= 0 {
		c.HealthCheckTimeout = def.HealthCheckTimeout
	}
	if c.ErrorThreshold <= 0 {
		c.ErrorThreshold = def.ErrorThreshold
	}
	if c.ReconnectAttempts <= 0 {
		c.ReconnectAttempts = def.ReconnectAttempts
	}
	if c.ReconnectBaseDelay <= 0 {
		c.ReconnectBaseDelay = def.ReconnectBaseDelay
	}
	if c.ReconnectCooldown < 0 {
		c.ReconnectCooldown = 0
	} else if c.ReconnectCooldown == 0 {
		c.ReconnectCooldown = def.ReconnectCooldown
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = def.RetryAttempts
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = def.RetryBaseDelay
	}
	return c
}
