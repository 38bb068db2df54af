package gateway

import (
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/rickgao/agentlink/internal/proxy"
)

// Registration is one endpoint the gateway forwards to.
type Registration struct {
	Key       string
	Endpoint  string
	APIKey    string
	Target    *url.URL
	CreatedAt time.Time
}

// Registry is the in-memory registration table.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Registration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Registration)}
}

// Register adds or refreshes endpoint and returns its registration.
// Registering the same endpoint again keeps its key.
func (r *Registry) Register(endpoint, apiKey string) (Registration, error) {
	endpoint = proxy.NormalizeEndpoint(endpoint)
	target, err := url.Parse(endpoint)
	if err != nil {
		return Registration{}, fmt.Errorf("parse endpoint: %w", err)
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return Registration{}, fmt.Errorf("endpoint %q: scheme must be http or https", endpoint)
	}
	if target.Host == "" {
		return Registration{}, fmt.Errorf("endpoint %q: missing host", endpoint)
	}

	reg := Registration{
		Key:       proxy.DeriveKey(endpoint),
		Endpoint:  endpoint,
		APIKey:    apiKey,
		Target:    target,
		CreatedAt: time.Now(),
	}

	r.mu.Lock()
	r.entries[reg.Key] = reg
	r.mu.Unlock()

	return reg, nil
}

// Lookup finds a registration by proxy key.
func (r *Registry) Lookup(key string) (Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.entries[key]
	return reg, ok
}

// Remove drops the registration for endpoint.
func (r *Registry) Remove(endpoint string) bool {
	key := proxy.DeriveKey(endpoint)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[key]; !ok {
		return false
	}
	delete(r.entries, key)
	return true
}

// Len returns the number of registrations.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Reset drops every registration, as a restart would.
func (r *Registry) Reset() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.entries)
	r.entries = make(map[string]Registration)
	return n
}
