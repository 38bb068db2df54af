package proxy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/rickgao/agentlink/internal/api"
)

// Registrar owns one endpoint's registration with a gateway.
type Registrar struct {
	gateway  *api.Client
	endpoint string
	apiKey   string
	logger   *slog.Logger

	group singleflight.Group

	mu  sync.RWMutex
	key string
}

// NewRegistrar creates a registrar for endpoint. gateway must point at the
// gateway's base URL.
func NewRegistrar(gateway *api.Client, endpoint, apiKey string, logger *slog.Logger) *Registrar {
	if logger == nil {
		logger = slog.Default()
	}
	endpoint = NormalizeEndpoint(endpoint)
	return &Registrar{
		gateway:  gateway,
		endpoint: endpoint,
		apiKey:   apiKey,
		logger:   logger.With("component", "proxy_registrar", "endpoint", endpoint),
	}
}

// Endpoint returns the registered runtime endpoint.
func (r *Registrar) Endpoint() string {
	return r.endpoint
}

// Key returns the current proxy key, or "" before registration.
func (r *Registrar) Key() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.key
}

// BaseURL returns the proxy base URL, or "" before registration.
func (r *Registrar) BaseURL() string {
	key := r.Key()
	if key == "" {
		return ""
	}
	return BaseURL(r.gateway.BaseURL(), key)
}

// Register posts the endpoint to the gateway and stores the returned key.
// Concurrent calls share one request.
func (r *Registrar) Register(ctx context.Context) (string, error) {
	ch := r.group.DoChan("register", func() (any, error) {
		resp, err := r.gateway.RegisterProxy(context.WithoutCancel(ctx), r.endpoint, r.apiKey)
		if err != nil {
			return "", err
		}

		if derived := DeriveKey(r.endpoint); resp.ProxyKey != derived {
			r.logger.Debug("gateway proxy key differs from derived key",
				"proxy_key", resp.ProxyKey,
				"derived", derived,
			)
		}

		r.mu.Lock()
		r.key = resp.ProxyKey
		r.mu.Unlock()

		r.logger.Info("registered with gateway", "proxy_key", resp.ProxyKey)
		return resp.ProxyKey, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", fmt.Errorf("register proxy: %w", res.Err)
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Do runs fn against the proxy base URL, registering first if needed.
// If fn fails because the registration is stale, Do re-registers exactly
// once and retries fn exactly once. A second stale failure is returned
// as *ProxyNotFoundError.
func (r *Registrar) Do(ctx context.Context, fn func(ctx context.Context, baseURL string) error) error {
	if r.Key() == "" {
		if _, err := r.Register(ctx); err != nil {
			return err
		}
	}

	key := r.Key()
	err := fn(ctx, BaseURL(r.gateway.BaseURL(), key))
	if !IsStale(err) {
		return err
	}

	r.logger.Warn("proxy registration stale, re-registering",
		"proxy_key", key,
		"error", err,
	)

	if _, regErr := r.Register(ctx); regErr != nil {
		return fmt.Errorf("recover stale proxy %s: %w", key, regErr)
	}

	key = r.Key()
	err = fn(ctx, BaseURL(r.gateway.BaseURL(), key))
	if IsStale(err) {
		return &ProxyNotFoundError{ProxyKey: key, Endpoint: r.endpoint, Err: err}
	}
	return err
}

// Unregister removes the registration from the gateway and forgets the key.
func (r *Registrar) Unregister(ctx context.Context) error {
	r.mu.Lock()
	had := r.key != ""
	r.key = ""
	r.mu.Unlock()

	if !had {
		return nil
	}

	if _, err := r.gateway.UnregisterProxy(ctx, r.endpoint); err != nil {
		return fmt.Errorf("unregister proxy: %w", err)
	}

	r.logger.Info("unregistered from gateway")
	return nil
}
