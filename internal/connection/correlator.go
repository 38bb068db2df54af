package connection

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Result is the outcome delivered to a waiting request.
type Result struct {
	Frame Frame
	Err   error
}

// pending is one in-flight request.
type pending struct {
	ch    chan Result // buffered, receives exactly one Result
	timer *time.Timer
}

// Correlator matches inbound frames to the requests that triggered them.
//
// Every registered id is settled exactly once: by a response, an error
// response, its timeout, an explicit Reject, or Close. The map entry is
// removed at that moment.
type Correlator struct {
	seq atomic.Uint64

	mu       sync.Mutex
	pending  map[string]*pending
	closed   bool
	closeErr error
}

// NewCorrelator creates an empty correlator.
func NewCorrelator() *Correlator {
	return &Correlator{
		pending: make(map[string]*pending),
	}
}

// NextID returns a request id unique to this correlator: a monotonic
// counter plus the current unix milliseconds.
func (c *Correlator) NextID() string {
	n := c.seq.Add(1)
	return fmt.Sprintf("%d-%d", n, time.Now().UnixMilli())
}

// Register starts tracking id. The returned channel receives exactly one
// Result. A timeout <= 0 disables the local deadline.
func (c *Correlator) Register(id string, timeout time.Duration) (<-chan Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, c.closeErr
	}
	if _, exists := c.pending[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateRequest, id)
	}

	p := &pending{ch: make(chan Result, 1)}
	if timeout > 0 {
		p.timer = time.AfterFunc(timeout, func() {
			c.settle(id, Result{Err: &RequestTimeoutError{RequestID: id, Timeout: timeout}})
		})
	}
	c.pending[id] = p

	return p.ch, nil
}

// Resolve settles the request named by f.RequestID. Error frames reject it
// with a *FrameError. Returns false for unknown or already settled ids.
func (c *Correlator) Resolve(f Frame) bool {
	if f.RequestID == "" {
		return false
	}
	if ferr := f.Err(); ferr != nil {
		return c.settle(f.RequestID, Result{Frame: f, Err: ferr})
	}
	return c.settle(f.RequestID, Result{Frame: f})
}

// Reject settles id with err. Returns false if id was not pending.
func (c *Correlator) Reject(id string, err error) bool {
	return c.settle(id, Result{Err: err})
}

// RejectAll settles every pending request with err and returns how many
// were rejected. New registrations are still accepted.
func (c *Correlator) RejectAll(err error) int {
	c.mu.Lock()
	drained := c.pending
	c.pending = make(map[string]*pending)
	c.mu.Unlock()

	for _, p := range drained {
		if p.timer != nil {
			p.timer.Stop()
		}
		p.ch <- Result{Err: err}
	}
	return len(drained)
}

// Close rejects every pending request with err and refuses new
// registrations with the same error.
func (c *Correlator) Close(err error) int {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0
	}
	c.closed = true
	c.closeErr = err
	c.mu.Unlock()

	return c.RejectAll(err)
}

// Pending returns the number of in-flight requests.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Correlator) settle(id string, r Result) bool {
	c.mu.Lock()
	p, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if !ok {
		return false
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	p.ch <- r
	return true
}
