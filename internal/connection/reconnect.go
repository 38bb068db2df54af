package connection

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultReconnectCooldown is how long a failed attempt blocks new ones.
const DefaultReconnectCooldown = 3 * time.Second

// CooldownError is returned when a reconnect is requested while the
// previous failed attempt's cooldown is still active.
type CooldownError struct {
	Key       string
	Remaining time.Duration
	Last      error
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("reconnect %s in cooldown for %s: %v", e.Key, e.Remaining.Round(time.Millisecond), e.Last)
}

func (e *CooldownError) Unwrap() error {
	return e.Last
}

type failure struct {
	at  time.Time
	err error
}

// Reconnector runs at most one reconnect per key at a time and refuses new
// attempts for a cooldown period after a failure.
type Reconnector struct {
	cooldown time.Duration
	group    singleflight.Group

	mu       sync.Mutex
	failures map[string]failure
}

// NewReconnector creates a Reconnector. A cooldown <= 0 disables the
// cooldown but keeps in-flight sharing.
func NewReconnector(cooldown time.Duration) *Reconnector {
	return &Reconnector{
		cooldown: cooldown,
		failures: make(map[string]failure),
	}
}

// Do runs fn for key unless a failed attempt is cooling down. Concurrent
// callers for the same key share one execution of fn and its outcome.
// fn runs detached from the caller's cancellation so that one caller
// giving up does not fail the others.
func (r *Reconnector) Do(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	if err := r.checkCooldown(key); err != nil {
		return err
	}

	attemptCtx := context.WithoutCancel(ctx)
	ch := r.group.DoChan(key, func() (any, error) {
		err := fn(attemptCtx)

		r.mu.Lock()
		if err != nil {
			r.failures[key] = failure{at: time.Now(), err: err}
		} else {
			delete(r.failures, key)
		}
		r.mu.Unlock()

		return nil, err
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reset clears any recorded failure for key.
func (r *Reconnector) Reset(key string) {
	r.mu.Lock()
	delete(r.failures, key)
	r.mu.Unlock()
}

func (r *Reconnector) checkCooldown(key string) error {
	if r.cooldown <= 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.failures[key]
	if !ok {
		return nil
	}
	remaining := r.cooldown - time.Since(f.at)
	if remaining <= 0 {
		return nil
	}
	return &CooldownError{Key: key, Remaining: remaining, Last: f.err}
}
