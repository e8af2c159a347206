// Package api assembles the HTTP surface of the gateway: the Gin engine, its
// middleware chain, and the route table.
package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sessionbridge/sessionbridge/internal/api/handlers"
	"github.com/sessionbridge/sessionbridge/internal/api/middleware"
	"github.com/sessionbridge/sessionbridge/internal/config"
	"github.com/sessionbridge/sessionbridge/internal/logging"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/context"
)

// Server wraps the HTTP server and its routes.
type Server struct {
	engine *gin.Engine
	server *http.Server
}

// NewServer builds the engine, wires the middleware chain and registers the
// routes.
func NewServer(cfg *config.Config, chat *handlers.ChatHandler) *Server {
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	middleware.SetMetricsEnabled(cfg.Metrics)
	if cfg.Metrics {
		middleware.RegisterMetrics()
	}

	engine := gin.New()
	engine.Use(
		logging.GinLogrusRecovery(),
		logging.GinLogrusLogger(),
		middleware.PrometheusMiddleware(),
	)

	engine.GET("/healthz", chat.Health)
	engine.GET("/metrics", middleware.MetricsHandler())

	v1 := engine.Group("/v1", middleware.APIKeyAuth(cfg.APIKeys))
	v1.POST("/chat/completions", chat.ChatCompletions)
	v1.GET("/models", chat.Models)

	return &Server{
		engine: engine,
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Run starts serving and blocks until the listener stops.
func (s *Server) Run() error {
	log.WithField("addr", s.server.Addr).Info("gateway listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
