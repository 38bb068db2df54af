package gateway

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rickgao/agentlink/internal/api"
	"github.com/rickgao/agentlink/internal/proxy"
)

// forwardedHeaders are copied from the client handshake to the upstream one.
var forwardedHeaders = []string{"Authorization", api.AgentHeader, "User-Agent", "X-Request-Id"}

// bridge upgrades the client connection and pipes frames to and from the
// runtime's WebSocket at path.
func (s *Server) bridge(c *gin.Context, reg Registration, path string) {
	id := uuid.NewString()
	logger := s.logger.With("bridge_id", id, "endpoint", reg.Endpoint)

	upstreamURL := proxy.WebSocketURL(joinURL(reg.Endpoint, path))
	if q := c.Request.URL.RawQuery; q != "" {
		upstreamURL += "?" + q
	}

	header := make(http.Header)
	for _, name := range forwardedHeaders {
		if v := c.GetHeader(name); v != "" {
			header.Set(name, v)
		}
	}
	if reg.APIKey != "" && header.Get("Authorization") == "" {
		header.Set("Authorization", "Bearer "+reg.APIKey)
	}

	upstream, resp, err := s.dialer.DialContext(c.Request.Context(), upstreamURL, header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		// A missing runtime route must not look like a missing registration.
		logger.Warn("upstream websocket dial failed", "url", upstreamURL, "error", err)
		c.JSON(http.StatusBadGateway, api.ErrorResponse{Error: "upstream websocket unavailable"})
		return
	}

	downstream, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("client websocket upgrade failed", "error", err)
		upstream.Close()
		return
	}

	s.bridges.Add(1)
	defer s.bridges.Add(-1)
	logger.Debug("websocket bridge open")

	var once sync.Once
	closeBoth := func() {
		once.Do(func() {
			deadline := time.Now().Add(time.Second)
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			upstream.WriteControl(websocket.CloseMessage, msg, deadline)
			downstream.WriteControl(websocket.CloseMessage, msg, deadline)
			upstream.Close()
			downstream.Close()
		})
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer closeBoth()
		pipe(downstream, upstream)
	}()
	go func() {
		defer wg.Done()
		defer closeBoth()
		pipe(upstream, downstream)
	}()
	wg.Wait()

	logger.Debug("websocket bridge closed")
}

// pipe copies messages from src to dst until either side fails. Each
// connection has exactly one reader and one writer goroutine.
func pipe(dst, src *websocket.Conn) {
	for {
		msgType, data, err := src.ReadMessage()
		if err != nil {
			return
		}
		if err := dst.WriteMessage(msgType, data); err != nil {
			return
		}
	}
}

func joinURL(endpoint, path string) string {
	return strings.TrimRight(endpoint, "/") + "/" + strings.TrimLeft(path, "/")
}
