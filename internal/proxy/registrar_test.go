package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/agentlink/internal/api"
	"github.com/rickgao/agentlink/internal/connection"
)

// fakeGateway tracks registrations and answers proxied calls for known keys.
type fakeGateway struct {
	server    *httptest.Server
	registers atomic.Int32
	proxied   atomic.Int32

	mu   sync.Mutex
	keys map[string]bool
	// forget, when set, drops registrations right after they are made.
	forget bool
}

func newFakeGateway(t *testing.T) *fakeGateway {
	t.Helper()
	g := &fakeGateway{keys: make(map[string]bool)}

	mux := http.NewServeMux()
	mux.HandleFunc("/connect", func(w http.ResponseWriter, r *http.Request) {
		var req api.ConnectRequest
		json.NewDecoder(r.Body).Decode(&req)
		g.registers.Add(1)

		key := DeriveKey(req.Endpoint)
		g.mu.Lock()
		if !g.forget {
			g.keys[key] = true
		}
		g.mu.Unlock()

		json.NewEncoder(w).Encode(api.ConnectResponse{Connected: true, ProxyKey: key})
	})
	mux.HandleFunc("/disconnect", func(w http.ResponseWriter, r *http.Request) {
		var req api.DisconnectRequest
		json.NewDecoder(r.Body).Decode(&req)
		g.mu.Lock()
		delete(g.keys, DeriveKey(req.Endpoint))
		g.mu.Unlock()
		json.NewEncoder(w).Encode(api.DisconnectResponse{Disconnected: true})
	})
	mux.HandleFunc("/proxy/", func(w http.ResponseWriter, r *http.Request) {
		g.proxied.Add(1)
		key := strings.SplitN(strings.TrimPrefix(r.URL.Path, "/proxy/"), "/", 2)[0]
		g.mu.Lock()
		ok := g.keys[key]
		g.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(api.ErrorResponse{Error: "proxy not found"})
			return
		}
		json.NewEncoder(w).Encode(api.StatusResponse{Connected: true, AccountID: "acct"})
	})

	g.server = httptest.NewServer(mux)
	t.Cleanup(g.server.Close)
	return g
}

// restart simulates a gateway restart losing every registration.
func (g *fakeGateway) restart() {
	g.mu.Lock()
	g.keys = make(map[string]bool)
	g.mu.Unlock()
}

func (g *fakeGateway) registered(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.keys[key]
}

func statusVia(ctx context.Context, base string) error {
	_, err := api.NewClient(base, "", api.WithRetries(0, 0)).Status(ctx)
	return err
}

func newTestRegistrar(g *fakeGateway) *Registrar {
	return NewRegistrar(api.NewClient(g.server.URL, ""), "http://runtime.internal:9000/", "secret", nil)
}

func TestDeriveKey(t *testing.T) {
	a := DeriveKey("http://runtime:9000")
	assert.Equal(t, a, DeriveKey("http://runtime:9000/"), "trailing slash must not change the key")
	assert.Equal(t, a, DeriveKey("  http://runtime:9000 "))
	assert.NotEqual(t, a, DeriveKey("http://runtime:9001"))
	assert.Len(t, a, 22)
	assert.NotContains(t, a, "=")
	assert.NotContains(t, a, "/")
}

func TestWebSocketURL(t *testing.T) {
	assert.Equal(t, "ws://gw:8080/proxy/k/ws", WebSocketURL("http://gw:8080/proxy/k/ws"))
	assert.Equal(t, "wss://gw/proxy/k", WebSocketURL("https://gw/proxy/k"))
	assert.Equal(t, "ws://already", WebSocketURL("ws://already"))
	assert.Equal(t, "http://gw/proxy/abc", BaseURL("http://gw/", "abc"))
}

func TestIsStale(t *testing.T) {
	assert.False(t, IsStale(nil))
	assert.True(t, IsStale(&api.APIError{StatusCode: 404}))
	assert.True(t, IsStale(&api.APIError{StatusCode: 400, Message: "Proxy Not Found"}))
	assert.False(t, IsStale(&api.APIError{StatusCode: 500}))
	assert.True(t, IsStale(&connection.HandshakeError{StatusCode: 404, Err: errors.New("bad handshake")}))
	assert.False(t, IsStale(&connection.HandshakeError{StatusCode: 401, Err: errors.New("bad handshake")}))
	assert.False(t, IsStale(&ProxyNotFoundError{Err: &api.APIError{StatusCode: 404}}))
	assert.False(t, IsStale(errors.New("dial tcp: refused")))
}

func TestRegistrar_Register(t *testing.T) {
	g := newFakeGateway(t)
	r := newTestRegistrar(g)

	assert.Empty(t, r.Key())
	assert.Empty(t, r.BaseURL())

	key, err := r.Register(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DeriveKey("http://runtime.internal:9000"), key)
	assert.Equal(t, key, r.Key())
	assert.Equal(t, g.server.URL+"/proxy/"+key, r.BaseURL())
	assert.Equal(t, "http://runtime.internal:9000", r.Endpoint())
}

func TestRegistrar_DoRegistersLazily(t *testing.T) {
	g := newFakeGateway(t)
	r := newTestRegistrar(g)

	err := r.Do(context.Background(), statusVia)
	require.NoError(t, err)
	assert.EqualValues(t, 1, g.registers.Load())
	assert.EqualValues(t, 1, g.proxied.Load())
}

func TestRegistrar_RecoversStaleRegistrationOnce(t *testing.T) {
	g := newFakeGateway(t)
	r := newTestRegistrar(g)
	ctx := context.Background()

	_, err := r.Register(ctx)
	require.NoError(t, err)

	g.restart()

	err = r.Do(ctx, statusVia)
	require.NoError(t, err)
	assert.EqualValues(t, 2, g.registers.Load(), "exactly one re-registration")
	assert.EqualValues(t, 2, g.proxied.Load(), "exactly one retry")
	assert.True(t, g.registered(r.Key()))
}

func TestRegistrar_SecondStaleFailureIsTerminal(t *testing.T) {
	g := newFakeGateway(t)
	g.forget = true
	r := newTestRegistrar(g)

	err := r.Do(context.Background(), statusVia)

	var pnf *ProxyNotFoundError
	require.ErrorAs(t, err, &pnf)
	assert.Equal(t, r.Key(), pnf.ProxyKey)
	assert.Equal(t, "http://runtime.internal:9000", pnf.Endpoint)
	assert.False(t, IsStale(err))

	// 1 lazy register + 1 re-register, 2 proxied attempts.
	assert.EqualValues(t, 2, g.registers.Load())
	assert.EqualValues(t, 2, g.proxied.Load())
}

func TestRegistrar_NonStaleErrorsPassThrough(t *testing.T) {
	g := newFakeGateway(t)
	r := newTestRegistrar(g)
	boom := errors.New("boom")

	calls := 0
	err := r.Do(context.Background(), func(ctx context.Context, base string) error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
	assert.EqualValues(t, 1, g.registers.Load())
}

func TestRegistrar_ConcurrentRecoveryReregistersOnce(t *testing.T) {
	g := newFakeGateway(t)
	r := newTestRegistrar(g)
	ctx := context.Background()

	_, err := r.Register(ctx)
	require.NoError(t, err)
	g.restart()

	// Both callers see the stale key before either re-registers.
	var staleSeen sync.WaitGroup
	staleSeen.Add(2)
	var first sync.Map

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = r.Do(ctx, func(ctx context.Context, base string) error {
				err := statusVia(ctx, base)
				if _, loaded := first.LoadOrStore(i, true); !loaded {
					staleSeen.Done()
					staleSeen.Wait()
				}
				return err
			})
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.LessOrEqual(t, g.registers.Load(), int32(3))
	assert.True(t, g.registered(r.Key()))
}

func TestRegistrar_Unregister(t *testing.T) {
	g := newFakeGateway(t)
	r := newTestRegistrar(g)
	ctx := context.Background()

	require.NoError(t, r.Unregister(ctx), "unregister before register is a no-op")

	key, err := r.Register(ctx)
	require.NoError(t, err)
	require.True(t, g.registered(key))

	require.NoError(t, r.Unregister(ctx))
	assert.False(t, g.registered(key))
	assert.Empty(t, r.Key())
}

func TestRegistrar_RegisterFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	r := NewRegistrar(api.NewClient(server.URL, ""), "http://runtime", "", nil)
	err := r.Do(context.Background(), func(ctx context.Context, base string) error {
		t.Fatal("fn must not run without a registration")
		return nil
	})

	apiErr, ok := api.AsAPIError(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
}
