package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewClient(t *testing.T) {
	c := NewClient("http://127.0.0.1:18789/", "")
	if c.BaseURL() != "http://127.0.0.1:18789" {
		t.Errorf("BaseURL() = %q, want trailing slash trimmed", c.BaseURL())
	}
	if c.maxRetries != 3 || c.retryBackoff != time.Second {
		t.Errorf("retries = %d/%v, want 3/1s", c.maxRetries, c.retryBackoff)
	}

	c = NewClient("http://runtime", "", WithRetries(0, 0))
	if c.maxRetries != 0 {
		t.Errorf("maxRetries = %d, want 0", c.maxRetries)
	}
	if c.retryBackoff != time.Second {
		t.Errorf("retryBackoff = %v, zero backoff must keep the default", c.retryBackoff)
	}
}

func TestWithHeader(t *testing.T) {
	var gotAgent, gotAuth atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAgent.Store(r.Header.Get(AgentHeader))
		gotAuth.Store(r.Header.Get("Authorization"))
		w.Write([]byte(`{"connected":true}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, "k", WithHeader(AgentHeader, "ops"))
	if _, err := c.Status(context.Background()); err != nil {
		t.Fatalf("Status: %v", err)
	}
	if gotAgent.Load() != "ops" {
		t.Errorf("%s = %v, want ops", AgentHeader, gotAgent.Load())
	}
	if gotAuth.Load() != "Bearer k" {
		t.Errorf("Authorization = %v, want Bearer k", gotAuth.Load())
	}
}

func TestWithBaseURL(t *testing.T) {
	var hits [2]atomic.Int32
	var extra atomic.Value
	extra.Store("")
	servers := make([]*httptest.Server, 2)
	for i := range servers {
		i := i
		servers[i] = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits[i].Add(1)
			if i == 0 {
				extra.Store(r.Header.Get("X-Extra"))
			}
			if r.Header.Get(AgentHeader) != "ops" {
				t.Errorf("server %d: %s = %q, want ops", i, AgentHeader, r.Header.Get(AgentHeader))
			}
			w.Write([]byte(`{"connected":true}`))
		}))
		defer servers[i].Close()
	}

	base := NewClient(servers[0].URL, "", WithHeader(AgentHeader, "ops"))
	proxied := base.WithBaseURL(servers[1].URL + "/")
	proxied.header.Set("X-Extra", "copy-only")

	if proxied.BaseURL() != servers[1].URL {
		t.Errorf("BaseURL() = %q, want %q", proxied.BaseURL(), servers[1].URL)
	}
	if proxied.httpClient != base.httpClient {
		t.Error("copy should share the http.Client")
	}

	ctx := context.Background()
	if _, err := proxied.Status(ctx); err != nil {
		t.Fatalf("proxied Status: %v", err)
	}
	if _, err := base.Status(ctx); err != nil {
		t.Fatalf("base Status: %v", err)
	}

	if hits[0].Load() != 1 || hits[1].Load() != 1 {
		t.Errorf("hits = %d/%d, want 1/1", hits[0].Load(), hits[1].Load())
	}
	if extra.Load() != "" {
		t.Errorf("header set on the copy leaked to the original: X-Extra = %v", extra.Load())
	}
}

func TestNewAPIError(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantMsg   string
		retryable bool
		notFound  bool
	}{
		{"string error", 400, `{"error":"bad args"}`, "bad args", false, false},
		{"object error", 502, `{"error":{"message":"upstream unavailable"}}`, "upstream unavailable", true, false},
		{"message field", 429, `{"message":"slow down"}`, "slow down", true, false},
		{"plain body", 503, `oops`, "Service Unavailable", true, false},
		{"missing route", 404, ``, "Not Found", false, true},
		{"not found message", 400, `{"error":"proxy not found"}`, "proxy not found", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := newAPIError(tt.status, []byte(tt.body))
			if err.Message != tt.wantMsg {
				t.Errorf("Message = %q, want %q", err.Message, tt.wantMsg)
			}
			if err.IsRetryable() != tt.retryable {
				t.Errorf("IsRetryable() = %v, want %v", err.IsRetryable(), tt.retryable)
			}
			if err.IsNotFound() != tt.notFound {
				t.Errorf("IsNotFound() = %v, want %v", err.IsNotFound(), tt.notFound)
			}
			if got, ok := AsAPIError(fmt.Errorf("wrapped: %w", err)); !ok || got != err {
				t.Error("AsAPIError should unwrap")
			}
		})
	}
}

// TestDoRequest tests the HTTP request functionality.
func TestDoRequest(t *testing.T) {
	t.Run("successful request", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Accept") != "application/json" {
				t.Errorf("Accept header = %q, want %q", r.Header.Get("Accept"), "application/json")
			}
			if r.Header.Get("Authorization") != "Bearer test-key" {
				t.Errorf("Authorization header = %q, want %q", r.Header.Get("Authorization"), "Bearer test-key")
			}
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status": "ok"}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, "test-key")
		body, err := c.doRequest(context.Background(), http.MethodGet, "/test", nil, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(body) != `{"status": "ok"}` {
			t.Errorf("body = %q, want %q", string(body), `{"status": "ok"}`)
		}
	})

	t.Run("request without API key", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "" {
				t.Errorf("Authorization header should be empty, got %q", r.Header.Get("Authorization"))
			}
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, "")
		_, err := c.doRequest(context.Background(), http.MethodGet, "/test", nil, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("request with query parameters", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("limit") != "10" {
				t.Errorf("limit = %q, want %q", r.URL.Query().Get("limit"), "10")
			}
			if r.URL.Query().Get("cursor") != "abc123" {
				t.Errorf("cursor = %q, want %q", r.URL.Query().Get("cursor"), "abc123")
			}
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, "key")
		query := make(map[string][]string)
		query["limit"] = []string{"10"}
		query["cursor"] = []string{"abc123"}
		_, err := c.doRequest(context.Background(), http.MethodGet, "/test", query, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("4xx error returns APIError", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error": "not found"}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, "key")
		_, err := c.doRequest(context.Background(), http.MethodGet, "/test", nil, nil)
		if err == nil {
			t.Fatal("expected error, got nil")
		}

		apiErr, ok := err.(*APIError)
		if !ok {
			t.Fatalf("expected *APIError, got %T", err)
		}
		if apiErr.StatusCode != 404 {
			t.Errorf("StatusCode = %d, want %d", apiErr.StatusCode, 404)
		}
		if !strings.Contains(string(apiErr.Body), "not found") {
			t.Errorf("Body should contain 'not found', got %q", string(apiErr.Body))
		}
	})

	t.Run("5xx error returns APIError", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`internal error`))
		}))
		defer server.Close()

		c := NewClient(server.URL, "key")
		_, err := c.doRequest(context.Background(), http.MethodGet, "/test", nil, nil)
		if err == nil {
			t.Fatal("expected error, got nil")
		}

		apiErr, ok := err.(*APIError)
		if !ok {
			t.Fatalf("expected *APIError, got %T", err)
		}
		if apiErr.StatusCode != 500 {
			t.Errorf("StatusCode = %d, want %d", apiErr.StatusCode, 500)
		}
	})

	t.Run("context cancellation", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(100 * time.Millisecond)
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		c := NewClient(server.URL, "key")
		ctx, cancel := context.WithCancel(context.Background())
		cancel() // Cancel immediately

		_, err := c.doRequest(ctx, http.MethodGet, "/test", nil, nil)
		if err == nil {
			t.Fatal("expected error, got nil")
		}
		if !strings.Contains(err.Error(), "context canceled") {
			t.Errorf("error should contain 'context canceled', got %v", err)
		}
	})
}

// TestDoWithRetry tests the retry logic.
func TestDoWithRetry(t *testing.T) {
	t.Run("succeeds on first try", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&attempts, 1)
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"ok": true}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, "key", WithRetries(3, 10*time.Millisecond))
		body, err := c.doWithRetry(context.Background(), http.MethodGet, "/test", nil, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(body) != `{"ok": true}` {
			t.Errorf("body = %q, want %q", string(body), `{"ok": true}`)
		}
		if attempts != 1 {
			t.Errorf("attempts = %d, want 1", attempts)
		}
	})

	t.Run("retries on 5xx and succeeds", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			n := atomic.AddInt32(&attempts, 1)
			if n < 3 {
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte(`error`))
				return
			}
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"ok": true}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, "key", WithRetries(3, 10*time.Millisecond))
		body, err := c.doWithRetry(context.Background(), http.MethodGet, "/test", nil, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(body) != `{"ok": true}` {
			t.Errorf("body = %q, want %q", string(body), `{"ok": true}`)
		}
		if attempts != 3 {
			t.Errorf("attempts = %d, want 3", attempts)
		}
	})

	t.Run("retries on 429 and succeeds", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			n := atomic.AddInt32(&attempts, 1)
			if n == 1 {
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`rate limited`))
				return
			}
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"ok": true}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, "key", WithRetries(3, 10*time.Millisecond))
		_, err := c.doWithRetry(context.Background(), http.MethodGet, "/test", nil, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if attempts != 2 {
			t.Errorf("attempts = %d, want 2", attempts)
		}
	})

	t.Run("does not retry on 4xx (except 429)", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&attempts, 1)
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`bad request`))
		}))
		defer server.Close()

		c := NewClient(server.URL, "key", WithRetries(3, 10*time.Millisecond))
		_, err := c.doWithRetry(context.Background(), http.MethodGet, "/test", nil, nil)
		if err == nil {
			t.Fatal("expected error, got nil")
		}
		if attempts != 1 {
			t.Errorf("attempts = %d, want 1", attempts)
		}
	})

	t.Run("max retries exceeded", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&attempts, 1)
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`error`))
		}))
		defer server.Close()

		c := NewClient(server.URL, "key", WithRetries(2, 10*time.Millisecond))
		_, err := c.doWithRetry(context.Background(), http.MethodGet, "/test", nil, nil)
		if err == nil {
			t.Fatal("expected error, got nil")
		}
		if !strings.Contains(err.Error(), "max retries exceeded") {
			t.Errorf("error should contain 'max retries exceeded', got %v", err)
		}
		// 1 initial + 2 retries = 3 attempts
		if attempts != 3 {
			t.Errorf("attempts = %d, want 3", attempts)
		}
	})

	t.Run("context cancellation during retry", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&attempts, 1)
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		c := NewClient(server.URL, "key", WithRetries(5, 50*time.Millisecond))
		ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
		defer cancel()

		_, err := c.doWithRetry(ctx, http.MethodGet, "/test", nil, nil)
		if err == nil {
			t.Fatal("expected error, got nil")
		}
		if !strings.Contains(err.Error(), "context") {
			t.Errorf("error should be context-related, got %v", err)
		}
	})
}


// TestAPIErrorMessage tests message extraction from error bodies.
func TestAPIErrorMessage(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		expected string
		notFound bool
	}{
		{"string error", 404, `{"error":"proxy not found"}`, "proxy not found", true},
		{"object error", 400, `{"error":{"type":"invalid","message":"bad args"}}`, "bad args", false},
		{"message field", 500, `{"message":"boom"}`, "boom", false},
		{"plain text", 502, `bad gateway`, "Bad Gateway", false},
		{"not found text on 400", 400, `{"error":"session not found"}`, "session not found", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := newAPIError(tt.status, []byte(tt.body))
			if err.Message != tt.expected {
				t.Errorf("Message = %q, want %q", err.Message, tt.expected)
			}
			if err.IsNotFound() != tt.notFound {
				t.Errorf("IsNotFound() = %v, want %v", err.IsNotFound(), tt.notFound)
			}
		})
	}

	t.Run("AsAPIError through wrapping", func(t *testing.T) {
		wrapped := fmt.Errorf("invoke: %w", &APIError{StatusCode: 503})
		apiErr, ok := AsAPIError(wrapped)
		if !ok || apiErr.StatusCode != 503 {
			t.Errorf("AsAPIError = %v, %v", apiErr, ok)
		}
		if _, ok := AsAPIError(errors.New("plain")); ok {
			t.Error("plain error should not be an APIError")
		}
	})
}

// TestRequestHeaders tests the standard headers sent on every request.
func TestRequestHeaders(t *testing.T) {
	ids := make(chan string, 2)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ids <- r.Header.Get("X-Request-Id")
		if !strings.HasPrefix(r.Header.Get("User-Agent"), "agentlink/") {
			t.Errorf("User-Agent = %q", r.Header.Get("User-Agent"))
		}
		if r.Header.Get("X-Custom") != "yes" {
			t.Errorf("X-Custom = %q, want %q", r.Header.Get("X-Custom"), "yes")
		}
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, "", WithHeader("X-Custom", "yes"))
	for i := 0; i < 2; i++ {
		if _, err := c.doRequest(context.Background(), http.MethodGet, "/", nil, nil); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	first, second := <-ids, <-ids
	if first == "" || first == second {
		t.Errorf("request ids should be unique and non-empty: %q, %q", first, second)
	}
}

// TestWithBaseURL_KeepsOptions tests that copies keep options but change the target.
func TestWithBaseURL_KeepsOptions(t *testing.T) {
	c := NewClient("http://runtime:8080/", "key", WithHeader("X-Agent-Id", "a1"))
	if c.BaseURL() != "http://runtime:8080" {
		t.Errorf("BaseURL = %q, want trailing slash trimmed", c.BaseURL())
	}

	proxied := c.WithBaseURL("http://gw/proxy/abc/")
	if proxied.BaseURL() != "http://gw/proxy/abc" {
		t.Errorf("BaseURL = %q", proxied.BaseURL())
	}
	if proxied.apiKey != "key" || proxied.header.Get("X-Agent-Id") != "a1" {
		t.Error("copy should keep credentials and headers")
	}
	if c.BaseURL() != "http://runtime:8080" {
		t.Error("original client should be unchanged")
	}
}

// TestStatus tests the GET /status call.
func TestStatus(t *testing.T) {
	t.Run("connected", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/status" {
				t.Errorf("path = %q, want %q", r.URL.Path, "/status")
			}
			json.NewEncoder(w).Encode(StatusResponse{Connected: true, AccountID: "acct-1"})
		}))
		defer server.Close()

		c := NewClient(server.URL, "key")
		status, err := c.Status(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !status.Connected || status.AccountID != "acct-1" {
			t.Errorf("status = %+v", status)
		}
	})

	t.Run("error response", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		c := NewClient(server.URL, "key", WithRetries(0, time.Millisecond))
		if _, err := c.Status(context.Background()); err == nil {
			t.Fatal("expected error, got nil")
		}
	})
}

// TestInvokeTool tests POST /tools/invoke.
func TestInvokeTool(t *testing.T) {
	t.Run("ok result", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost || r.URL.Path != "/tools/invoke" {
				t.Errorf("got %s %s", r.Method, r.URL.Path)
			}
			var req ToolInvokeRequest
			json.NewDecoder(r.Body).Decode(&req)
			if req.Tool != "search" || req.Args["q"] != "go" || req.SessionKey != "s1" || !req.DryRun {
				t.Errorf("request = %+v", req)
			}
			w.Write([]byte(`{"ok":true,"result":{"hits":3}}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, "key")
		resp, err := c.InvokeTool(context.Background(), ToolInvokeRequest{
			Tool:       "search",
			Args:       map[string]any{"q": "go"},
			SessionKey: "s1",
			DryRun:     true,
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !resp.OK || string(resp.Result) != `{"hits":3}` {
			t.Errorf("resp = %+v", resp)
		}
	})

	t.Run("logical failure is not an error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"ok":false,"error":{"type":"not_allowed","message":"tool disabled"}}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, "key")
		resp, err := c.InvokeTool(context.Background(), ToolInvokeRequest{Tool: "rm"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if resp.OK || resp.Error == nil || resp.Error.Error() != "not_allowed: tool disabled" {
			t.Errorf("resp = %+v", resp)
		}
	})

	t.Run("posts are not retried", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&attempts, 1)
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()

		c := NewClient(server.URL, "key", WithRetries(3, time.Millisecond))
		_, err := c.InvokeTool(context.Background(), ToolInvokeRequest{Tool: "x"})
		if _, ok := AsAPIError(err); !ok {
			t.Fatalf("expected *APIError, got %v", err)
		}
		if attempts != 1 {
			t.Errorf("attempts = %d, want 1", attempts)
		}
	})
}
