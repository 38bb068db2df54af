package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/rickgao/agentlink/internal/config"
	"github.com/rickgao/agentlink/internal/gateway"
	"github.com/rickgao/agentlink/internal/version"
)

// newApp wires the gateway. extra options are appended last.
func newApp(cfg *config.Config, extra ...fx.Option) *fx.App {
	return fx.New(
		fx.Supply(cfg),
		fx.StopTimeout(cfg.Gateway.ShutdownTimeout),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With("component", "fx")}
		}),

		LoggingModule,
		GatewayModule,
		HTTPServerModule,

		fx.Options(extra...),
	)
}

var LoggingModule = fx.Module("logging",
	fx.Provide(newLogger),
)

var GatewayModule = fx.Module("gateway",
	fx.Provide(
		gateway.NewRegistry,
		gateway.NewServer,
		newRouter,
	),
)

var HTTPServerModule = fx.Module("http_server",
	fx.Provide(newListener),
	fx.Invoke(invokeHTTPServer),
)

func newLogger(cfg *config.Config) *slog.Logger {
	logger := cfg.Log.Logger(os.Stdout)
	slog.SetDefault(logger)
	logger.Info("starting gateway",
		"version", version.Version,
		"commit", version.Commit,
	)
	return logger
}

func newRouter(cfg *config.Config, server *gateway.Server) http.Handler {
	if !strings.EqualFold(cfg.Log.Level, "debug") {
		gin.SetMode(gin.ReleaseMode)
	}
	return server.Router()
}

// newListener binds eagerly so a busy port fails startup.
func newListener(cfg *config.Config) (net.Listener, error) {
	return net.Listen("tcp", cfg.Gateway.Listen)
}

func invokeHTTPServer(lc fx.Lifecycle, ln net.Listener, h http.Handler, registry *gateway.Registry, logger *slog.Logger) {
	server := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("gateway listening", "addr", ln.Addr().String())
			go func() {
				if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("gateway server error", "error", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("stopping gateway", "registrations", registry.Len())
			return server.Shutdown(ctx)
		},
	})
}
