package pool

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/rickgao/agentlink/internal/adapter"
	"github.com/rickgao/agentlink/internal/connection"
)

// State is the pool's view of an adapter.
type State string

const (
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateError        State = "error"
	StateReconnecting State = "reconnecting"
)

// ConnectionInfo describes one pooled adapter.
type ConnectionInfo struct {
	Identity          adapter.Identity
	Kind              adapter.Kind
	State             State
	CreatedAt         time.Time
	LastUsedAt        time.Time
	ConsecutiveErrors int
	LastError         string
}

// Stats is a snapshot of pool occupancy and lifetime counters.
type Stats struct {
	Max          int
	Total        int
	Creating     int
	Connected    int
	Errored      int
	Reconnecting int

	Created    int64
	Evicted    int64
	Reconnects int64
}

// Factory builds an unconnected adapter.
type Factory func(cfg adapter.Config) (adapter.Adapter, error)

// Option configures a Pool.
type Option func(*Pool)

// WithLogger sets the pool logger. It is also handed to adapters built by
// the default factory.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithFactory replaces adapter.New as the adapter constructor.
func WithFactory(f Factory) Option {
	return func(p *Pool) {
		p.factory = f
	}
}

// WithAdapterOptions passes options to the default factory.
func WithAdapterOptions(opts ...adapter.Option) Option {
	return func(p *Pool) {
		p.adapterOpts = append(p.adapterOpts, opts...)
	}
}

type entry struct {
	adapter adapter.Adapter
	info    ConnectionInfo
}

// Pool owns at most one adapter per identity.
type Pool struct {
	cfg         Config
	logger      *slog.Logger
	factory     Factory
	adapterOpts []adapter.Option

	mu       sync.Mutex
	entries  map[string]*entry
	creating int
	closed   bool

	group       singleflight.Group
	reconnector *connection.Reconnector

	created    atomic.Int64
	evicted    atomic.Int64
	reconnects atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Pool. Zero config fields take their defaults.
func New(cfg Config, opts ...Option) *Pool {
	cfg = cfg.withDefaults()
	p := &Pool{
		cfg:         cfg,
		logger:      slog.Default(),
		entries:     make(map[string]*entry),
		reconnector: connection.NewReconnector(cfg.ReconnectCooldown),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "pool")
	if p.factory == nil {
		adapterOpts := append([]adapter.Option{adapter.WithLogger(p.logger)}, p.adapterOpts...)
		p.factory = func(cfg adapter.Config) (adapter.Adapter, error) {
			return adapter.New(cfg, adapterOpts...)
		}
	}
	return p
}

// Config returns the effective configuration.
func (p *Pool) Config() Config {
	return p.cfg
}

// GetAdapter returns the pooled adapter for cfg's identity, connecting a
// new one if needed. Concurrent calls for one identity share a single
// creation. An adapter in the error state is reconnected first.
func (p *Pool) GetAdapter(ctx context.Context, cfg adapter.Config) (adapter.Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	key := cfg.Identity().Key()

	a, state, ok, err := p.acquire(key)
	if err != nil {
		return nil, err
	}
	if ok && state == StateConnected {
		return a, nil
	}
	if ok {
		if err := p.reconnect(ctx, key); err != nil {
			return nil, err
		}
		if a, _, ok, err = p.acquire(key); err != nil {
			return nil, err
		} else if ok {
			return a, nil
		}
	}

	ch := p.group.DoChan(key, func() (any, error) {
		return p.create(context.WithoutCancel(ctx), key, cfg)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		p.touch(key)
		return res.Val.(adapter.Adapter), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// acquire looks up key and marks it used.
func (p *Pool) acquire(key string) (adapter.Adapter, State, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, "", false, ErrPoolClosed
	}
	e, ok := p.entries[key]
	if !ok {
		return nil, "", false, nil
	}
	e.info.LastUsedAt = time.Now()
	return e.adapter, e.info.State, true, nil
}

func (p *Pool) create(ctx context.Context, key string, cfg adapter.Config) (adapter.Adapter, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	if e, ok := p.entries[key]; ok {
		p.mu.Unlock()
		return e.adapter, nil
	}
	if p.full() {
		p.mu.Unlock()
		p.evictIdle(ctx)
		p.mu.Lock()
		if p.full() {
			err := &PoolExhaustedError{Max: p.cfg.MaxConnections, Active: len(p.entries) + p.creating}
			p.mu.Unlock()
			p.logger.Warn("pool exhausted", "identity", key, "max", err.Max)
			return nil, err
		}
	}
	p.creating++
	p.mu.Unlock()

	a, err := p.factory(cfg)
	if err == nil {
		if err = a.Connect(ctx); err != nil {
			_ = p.release(ctx, a)
		}
	}

	p.mu.Lock()
	p.creating--
	if err != nil {
		p.mu.Unlock()
		p.logger.Warn("adapter connect failed", "identity", key, "err", err)
		return nil, err
	}
	if p.closed {
		p.mu.Unlock()
		_ = p.release(ctx, a)
		return nil, ErrPoolClosed
	}
	now := time.Now()
	p.entries[key] = &entry{
		adapter: a,
		info: ConnectionInfo{
			Identity:   cfg.Identity(),
			Kind:       cfg.Kind,
			State:      StateConnected,
			CreatedAt:  now,
			LastUsedAt: now,
		},
	}
	p.mu.Unlock()

	p.created.Add(1)
	p.logger.Info("adapter connected", "identity", key, "kind", string(cfg.Kind))
	return a, nil
}

// full must be called with p.mu held.
func (p *Pool) full() bool {
	return len(p.entries)+p.creating >= p.cfg.MaxConnections
}

func (p *Pool) touch(key string) {
	p.mu.Lock()
	if e, ok := p.entries[key]; ok {
		e.info.LastUsedAt = time.Now()
	}
	p.mu.Unlock()
}

// ReleaseAdapter marks the adapter for id as just used. The adapter stays
// pooled.
func (p *Pool) ReleaseAdapter(id adapter.Identity) {
	p.touch(id.Key())
}

// RemoveAdapter disconnects and forgets the adapter for id. Removing an
// unknown identity is a no-op.
func (p *Pool) RemoveAdapter(ctx context.Context, id adapter.Identity) error {
	key := id.Key()

	p.mu.Lock()
	e, ok := p.entries[key]
	delete(p.entries, key)
	p.mu.Unlock()

	if !ok {
		return nil
	}
	p.reconnector.Reset(key)
	p.logger.Info("adapter removed", "identity", key)
	return p.release(ctx, e.adapter)
}

// release disconnects an adapter that is no longer pooled. A gateway
// adapter whose endpoint another pooled identity still uses is detached
// instead, so the shared registration keeps routing.
func (p *Pool) release(ctx context.Context, a adapter.Adapter) error {
	d, ok := a.(adapter.Detacher)
	if !ok || !p.endpointInUse(a.Identity()) {
		return a.Disconnect(ctx)
	}
	p.logger.Debug("keeping shared gateway registration", "identity", a.Identity().Key())
	return d.Detach(ctx)
}

func (p *Pool) endpointInUse(id adapter.Identity) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	for key, e := range p.entries {
		if key != id.Key() && e.info.Kind == adapter.KindGateway && e.info.Identity.Endpoint == id.Endpoint {
			return true
		}
	}
	return false
}

// DisconnectAll disconnects and forgets every adapter.
func (p *Pool) DisconnectAll(ctx context.Context) error {
	p.mu.Lock()
	entries := p.entries
	p.entries = make(map[string]*entry)
	p.mu.Unlock()

	var errs []error
	for key, e := range entries {
		p.reconnector.Reset(key)
		if err := p.release(ctx, e.adapter); err != nil {
			errs = append(errs, err)
		}
	}
	if len(entries) > 0 {
		p.logger.Info("all adapters disconnected", "count", len(entries))
	}
	return errors.Join(errs...)
}

// Stats returns current occupancy.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Stats{
		Max:        p.cfg.MaxConnections,
		Total:      len(p.entries),
		Creating:   p.creating,
		Created:    p.created.Load(),
		Evicted:    p.evicted.Load(),
		Reconnects: p.reconnects.Load(),
	}
	for _, e := range p.entries {
		switch e.info.State {
		case StateConnected:
			s.Connected++
		case StateError:
			s.Errored++
		case StateReconnecting:
			s.Reconnecting++
		}
	}
	return s
}

// ConnectionInfo returns every pooled adapter's info, sorted by identity.
func (p *Pool) ConnectionInfo() []ConnectionInfo {
	p.mu.Lock()
	infos := make([]ConnectionInfo, 0, len(p.entries))
	for _, e := range p.entries {
		infos = append(infos, e.info)
	}
	p.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Identity.Key() < infos[j].Identity.Key()
	})
	return infos
}

// Info returns the info for one identity.
func (p *Pool) Info(id adapter.Identity) (ConnectionInfo, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[id.Key()]
	if !ok {
		return ConnectionInfo{}, false
	}
	return e.info, true
}

// ExecuteWithRetry runs fn against the adapter for cfg, retrying
// retryable failures with exponential backoff. Each retryable failure
// counts toward ErrorThreshold; once the adapter is in the error state the
// next attempt reconnects it.
func (p *Pool) ExecuteWithRetry(ctx context.Context, cfg adapter.Config, fn func(ctx context.Context, a adapter.Adapter) error) error {
	key := cfg.Identity().Key()

	policy := RetryPolicy{
		Attempts:  p.cfg.RetryAttempts,
		BaseDelay: p.cfg.RetryBaseDelay,
		OnRetry: func(err error, attempt int, delay time.Duration) {
			p.logger.Warn("retrying operation",
				"identity", key,
				"attempt", attempt,
				"delay", delay,
				"err", err,
			)
		},
	}

	_, err := Retry(ctx, policy, func(ctx context.Context) (struct{}, error) {
		a, err := p.GetAdapter(ctx, cfg)
		if err != nil {
			return struct{}{}, err
		}
		defer p.ReleaseAdapter(cfg.Identity())

		err = fn(ctx, a)
		switch {
		case err == nil:
			p.recordSuccess(key)
		case IsRetryable(err):
			p.recordFailure(key, err)
		}
		return struct{}{}, err
	})
	return err
}

// recordSuccess clears the failure streak of a connected adapter. An
// adapter in the error state stays there until reconnect succeeds.
func (p *Pool) recordSuccess(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[key]
	if !ok || e.info.State != StateConnected {
		return
	}
	e.info.ConsecutiveErrors = 0
	e.info.LastError = ""
}

// recordFailure extends the failure streak and returns the resulting
// state. Reaching ErrorThreshold moves a connected adapter to error.
func (p *Pool) recordFailure(key string, err error) State {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[key]
	if !ok {
		return ""
	}
	e.info.ConsecutiveErrors++
	e.info.LastError = err.Error()
	if e.info.State == StateConnected && e.info.ConsecutiveErrors >= p.cfg.ErrorThreshold {
		e.info.State = StateError
		p.logger.Warn("adapter marked unhealthy",
			"identity", key,
			"consecutive_errors", e.info.ConsecutiveErrors,
			"err", err,
		)
	}
	return e.info.State
}

// reconnect re-runs Connect on the pooled adapter for key with bounded
// exponential backoff. Concurrent callers share one attempt; after a
// failure further attempts fail fast until the cooldown passes.
func (p *Pool) reconnect(ctx context.Context, key string) error {
	return p.reconnector.Do(ctx, key, func(ctx context.Context) error {
		p.mu.Lock()
		e, ok := p.entries[key]
		if ok {
			e.info.State = StateReconnecting
		}
		p.mu.Unlock()
		if !ok {
			return nil
		}

		p.reconnects.Add(1)
		start := time.Now()

		policy := RetryPolicy{
			Attempts:  p.cfg.ReconnectAttempts,
			BaseDelay: p.cfg.ReconnectBaseDelay,
			Retryable: func(error) bool { return true },
			OnRetry: func(err error, attempt int, delay time.Duration) {
				p.logger.Debug("reconnect attempt failed",
					"identity", key,
					"attempt", attempt,
					"delay", delay,
					"err", err,
				)
			},
		}
		_, err := Retry(ctx, policy, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, e.adapter.Connect(ctx)
		})

		p.mu.Lock()
		if cur, ok := p.entries[key]; ok && cur == e {
			if err != nil {
				e.info.State = StateError
				e.info.LastError = err.Error()
			} else {
				e.info.State = StateConnected
				e.info.ConsecutiveErrors = 0
				e.info.LastError = ""
			}
		}
		p.mu.Unlock()

		if err != nil {
			p.logger.Warn("reconnect failed", "identity", key, "err", err)
			return err
		}
		p.logger.Info("adapter reconnected", "identity", key, "duration", time.Since(start))
		return nil
	})
}

// evictIdle disconnects adapters unused for IdleTimeout and returns how
// many were removed. Adapters mid-reconnect are left alone.
func (p *Pool) evictIdle(ctx context.Context) int {
	now := time.Now()

	p.mu.Lock()
	var idle []*entry
	for key, e := range p.entries {
		if e.info.State == StateReconnecting {
			continue
		}
		if now.Sub(e.info.LastUsedAt) >= p.cfg.IdleTimeout {
			idle = append(idle, e)
			delete(p.entries, key)
		}
	}
	p.mu.Unlock()

	for _, e := range idle {
		key := e.info.Identity.Key()
		p.reconnector.Reset(key)
		if err := p.release(ctx, e.adapter); err != nil {
			p.logger.Debug("idle disconnect failed", "identity", key, "err", err)
		}
		p.logger.Info("evicted idle adapter",
			"identity", key,
			"idle", now.Sub(e.info.LastUsedAt).Round(time.Millisecond),
		)
	}
	p.evicted.Add(int64(len(idle)))
	return len(idle)
}
