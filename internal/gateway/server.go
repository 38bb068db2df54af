package gateway

import (
	"errors"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"strings"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/rickgao/agentlink/internal/api"
)

// Server serves the gateway HTTP surface.
type Server struct {
	registry *Registry
	logger   *slog.Logger

	upgrader websocket.Upgrader
	dialer   websocket.Dialer

	bridges atomic.Int64
}

// NewServer creates a gateway server over registry.
func NewServer(registry *Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		registry: registry,
		logger:   logger.With("component", "gateway"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		dialer: websocket.Dialer{
			HandshakeTimeout: websocket.DefaultDialer.HandshakeTimeout,
		},
	}
}

// Registry returns the registration table.
func (s *Server) Registry() *Registry {
	return s.registry
}

// ActiveBridges returns the number of open WebSocket bridges.
func (s *Server) ActiveBridges() int64 {
	return s.bridges.Load()
}

// Router builds the gin engine.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", s.handleHealth)
	router.POST("/connect", s.handleConnect)
	router.POST("/disconnect", s.handleDisconnect)
	router.Any("/proxy/:proxyKey/*path", s.handleProxy)

	return router
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, api.HealthResponse{
		Status:        "ok",
		Registrations: s.registry.Len(),
	})
}

func (s *Server) handleConnect(c *gin.Context) {
	var req api.ConnectRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Endpoint) == "" {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "endpoint is required"})
		return
	}

	reg, err := s.registry.Register(req.Endpoint, req.APIKey)
	if err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: err.Error()})
		return
	}

	s.logger.Info("registered endpoint", "endpoint", reg.Endpoint, "proxy_key", reg.Key)
	c.JSON(http.StatusOK, api.ConnectResponse{Connected: true, ProxyKey: reg.Key})
}

func (s *Server) handleDisconnect(c *gin.Context) {
	var req api.DisconnectRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Endpoint) == "" {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "endpoint is required"})
		return
	}

	removed := s.registry.Remove(req.Endpoint)
	if removed {
		s.logger.Info("unregistered endpoint", "endpoint", req.Endpoint)
	}
	c.JSON(http.StatusOK, api.DisconnectResponse{Disconnected: removed})
}

func (s *Server) handleProxy(c *gin.Context) {
	reg, ok := s.registry.Lookup(c.Param("proxyKey"))
	if !ok {
		c.JSON(http.StatusNotFound, api.ErrorResponse{Error: "proxy not found"})
		return
	}

	path := c.Param("path")
	if path == "" {
		path = "/"
	}

	if websocket.IsWebSocketUpgrade(c.Request) {
		s.bridge(c, reg, path)
		return
	}

	s.reverseProxy(reg, path).ServeHTTP(c.Writer, c.Request)
}

// reverseProxy forwards one request verbatim to the registered endpoint.
func (s *Server) reverseProxy(reg Registration, path string) *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Rewrite: func(r *httputil.ProxyRequest) {
			r.SetURL(reg.Target)
			r.Out.URL.Path = joinPath(reg.Target.Path, path)
			r.Out.URL.RawPath = ""
			r.Out.URL.RawQuery = r.In.URL.RawQuery
			r.SetXForwarded()
			if reg.APIKey != "" && r.Out.Header.Get("Authorization") == "" {
				r.Out.Header.Set("Authorization", "Bearer "+reg.APIKey)
			}
		},
		// Flush immediately so streamed completions are not buffered.
		FlushInterval: -1,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			if errors.Is(err, r.Context().Err()) {
				return
			}
			s.logger.Warn("proxy upstream failed", "endpoint", reg.Endpoint, "error", err)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte(`{"error":"upstream unavailable"}`))
		},
	}
}

func joinPath(base, path string) string {
	if base == "" {
		return path
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}
