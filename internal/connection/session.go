package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/agentlink/internal/events"
)

// Session multiplexes many logical requests over one Client.
//
// Frames carrying a requestId settle the matching pending request; "event"
// frames are published to the session's broadcaster; "ping" frames are
// answered with "pong".
type Session struct {
	client  Client
	corr    *Correlator
	bus     *events.Broadcaster[Frame]
	timeout time.Duration
	logger  *slog.Logger

	lastActive atomic.Int64 // unix nanos

	done      chan struct{}
	closeOnce sync.Once
	mu        sync.RWMutex
	cause     error
}

// Dial connects a new Client and starts a session on it. Events are
// published to bus; a nil bus gets a private broadcaster.
func Dial(ctx context.Context, cfg SessionConfig, bus *events.Broadcaster[Frame], logger *slog.Logger) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}

	client := NewClient(cfg.Client, logger)
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}

	return NewSession(client, cfg, bus, logger), nil
}

// NewSession starts dispatching on an already connected client.
func NewSession(client Client, cfg SessionConfig, bus *events.Broadcaster[Frame], logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	if bus == nil {
		bus = events.NewBroadcaster[Frame](events.DefaultBuffer)
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultSessionConfig().RequestTimeout
	}

	s := &Session{
		client:  client,
		corr:    NewCorrelator(),
		bus:     bus,
		timeout: timeout,
		logger:  logger,
		done:    make(chan struct{}),
	}
	s.touch()

	go s.dispatch()

	return s
}

// Request sends f with a fresh request id and waits for the correlated
// response, the request timeout, ctx cancellation, or session close.
func (s *Session) Request(ctx context.Context, f Frame) (Frame, error) {
	id := s.corr.NextID()
	f.RequestID = id

	wait, err := s.corr.Register(id, s.timeout)
	if err != nil {
		return Frame{}, err
	}

	data, err := json.Marshal(f)
	if err != nil {
		s.corr.Reject(id, err)
		<-wait
		return Frame{}, fmt.Errorf("encode frame: %w", err)
	}

	if err := s.client.Send(data); err != nil {
		s.corr.Reject(id, err)
		<-wait
		return Frame{}, fmt.Errorf("send frame: %w", err)
	}

	select {
	case res := <-wait:
		return res.Frame, res.Err
	case <-ctx.Done():
		// Either we reject it here or a concurrent settle already did;
		// the buffered channel holds whichever came first.
		s.corr.Reject(id, ctx.Err())
		res := <-wait
		return res.Frame, res.Err
	}
}

// Notify sends f without waiting for a response.
func (s *Session) Notify(f Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	return s.client.Send(data)
}

// Close closes the connection and rejects every pending request with
// ErrConnectionClosed.
func (s *Session) Close() error {
	s.shutdown(nil)
	return nil
}

// Done is closed once the session has shut down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Alive reports whether the session is still usable.
func (s *Session) Alive() bool {
	select {
	case <-s.done:
		return false
	default:
		return s.client.IsConnected()
	}
}

// Err returns the transport error that ended the session, if any.
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cause
}

// Pending returns the number of in-flight requests.
func (s *Session) Pending() int {
	return s.corr.Pending()
}

// LastActive returns when a frame was last received.
func (s *Session) LastActive() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

func (s *Session) touch() {
	s.lastActive.Store(time.Now().UnixNano())
}

func (s *Session) dispatch() {
	for {
		select {
		case <-s.done:
			return

		case err := <-s.client.Errors():
			s.logger.Warn("persistent connection error", "error", err)
			s.shutdown(err)
			return

		case msg, ok := <-s.client.Messages():
			if !ok {
				s.shutdown(ErrConnectionClosed)
				return
			}
			s.handle(msg)
		}
	}
}

func (s *Session) handle(msg TimestampedMessage) {
	var f Frame
	if err := json.Unmarshal(msg.Data, &f); err != nil {
		s.logger.Debug("ignoring malformed frame", "error", err)
		return
	}
	s.touch()

	switch {
	case f.Type == FramePing:
		if err := s.Notify(Frame{Type: FramePong, RequestID: f.RequestID}); err != nil {
			s.logger.Debug("failed to send pong", "error", err)
		}

	case f.Type == FramePong:

	case f.Type == FrameEvent || f.RequestID == "":
		s.bus.Publish(f)

	default:
		if !s.corr.Resolve(f) {
			s.logger.Debug("dropping frame for unknown request",
				"request_id", f.RequestID,
				"type", f.Type,
			)
		}
	}
}

func (s *Session) shutdown(cause error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.cause = cause
		s.mu.Unlock()

		close(s.done)
		rejected := s.corr.Close(ErrConnectionClosed)
		s.client.Close()

		s.logger.Debug("session closed",
			"rejected", rejected,
			"cause", cause,
		)
	})
}
