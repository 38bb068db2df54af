package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/agentlink/internal/adapter"
)

// healthConcurrency bounds simultaneous status checks.
const healthConcurrency = 8

// Start begins the background health loop. Each tick evicts idle
// adapters, checks the rest and reconnects those that crossed the error
// threshold.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	p.mu.Unlock()

	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	p.logger.Info("pool health loop started",
		"interval", p.cfg.HealthCheckInterval,
		"idle_timeout", p.cfg.IdleTimeout,
		"max_connections", p.cfg.MaxConnections,
	)

	return nil
}

// Stop ends the health loop and disconnects every adapter. The pool
// refuses new work afterwards.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	err := p.DisconnectAll(ctx)
	p.logger.Info("pool stopped")
	return err
}

func (p *Pool) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.checkAll(p.ctx)
		}
	}
}

type healthTarget struct {
	key     string
	adapter adapter.Adapter
	state   State
}

// checkAll runs one health cycle.
func (p *Pool) checkAll(ctx context.Context) {
	start := time.Now()

	evicted := p.evictIdle(ctx)

	p.mu.Lock()
	targets := make([]healthTarget, 0, len(p.entries))
	for key, e := range p.entries {
		if e.info.State == StateReconnecting {
			continue
		}
		targets = append(targets, healthTarget{key: key, adapter: e.adapter, state: e.info.State})
	}
	p.mu.Unlock()

	if len(targets) == 0 {
		p.logger.Debug("no adapters to check", "evicted", evicted)
		return
	}

	sem := make(chan struct{}, healthConcurrency)
	var wg sync.WaitGroup
	var healthy, unhealthy atomic.Int64

	for _, t := range targets {
		wg.Add(1)
		go func(t healthTarget) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}

			if p.check(ctx, t) {
				healthy.Add(1)
			} else {
				unhealthy.Add(1)
			}
		}(t)
	}

	wg.Wait()

	p.logger.Debug("health check complete",
		"adapters", len(targets),
		"healthy", healthy.Load(),
		"unhealthy", unhealthy.Load(),
		"evicted", evicted,
		"duration", time.Since(start),
	)
}

// check asks one adapter for its status and reports whether it ended up
// healthy. An adapter already in the error state is reconnected instead.
func (p *Pool) check(ctx context.Context, t healthTarget) bool {
	if t.state == StateError {
		return p.recover(ctx, t.key)
	}

	checkCtx, cancel := context.WithTimeout(ctx, p.cfg.HealthCheckTimeout)
	st := t.adapter.Status(checkCtx)
	cancel()

	if st.Connected {
		p.recordSuccess(t.key)
		return true
	}

	reason := st.Error
	if reason == "" {
		reason = "runtime not connected"
	}
	if p.recordFailure(t.key, errors.New(reason)) != StateError {
		return false
	}
	return p.recover(ctx, t.key)
}

func (p *Pool) recover(ctx context.Context, key string) bool {
	if err := p.reconnect(ctx, key); err != nil {
		p.logger.Debug("health reconnect skipped", "identity", key, "err", err)
		return false
	}
	return true
}
