// Package http provides the admin HTTP API for remindmine.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kkzk/remindmine/internal/logging"
	"github.com/kkzk/remindmine/internal/services"
)

// Server provides HTTP endpoints for remindmine.
type Server struct {
	echo    *echo.Echo
	reg     services.Registry
	logger  *zap.Logger
	config  *Config
	metrics *HTTPMetrics
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// NewServer creates a new HTTP server.
func NewServer(reg services.Registry, logger *zap.Logger, cfg *Config) (*Server, error) {
	if reg == nil {
		return nil, fmt.Errorf("registry cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "0.0.0.0",
			Port: 8000,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:    e,
		reg:     reg,
		logger:  logger,
		config:  cfg,
		metrics: NewHTTPMetrics(nil, logger),
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.metrics.MetricsMiddleware())
	e.Use(s.requestLogger)

	s.registerRoutes()
	return s, nil
}

// requestLogger logs every request and carries the request id in the
// request context.
func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		rid := c.Response().Header().Get(echo.HeaderXRequestID)
		req := c.Request()
		c.SetRequest(req.WithContext(logging.WithRequestID(req.Context(), rid)))

		err := next(c)
		if err != nil {
			c.Error(err)
		}

		s.logger.Info("http request",
			zap.String("method", req.Method),
			zap.String("uri", req.RequestURI),
			zap.Int("status", c.Response().Status),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", rid),
		)
		return nil
	}
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/reindex", s.handleReindex)
	v1.GET("/search", s.handleSearch)
	v1.GET("/stats", s.handleStats)
	v1.GET("/collections", s.handleCollections)

	v1.GET("/advice", s.handleListAdvice)
	v1.DELETE("/advice", s.handleClearAdvice)
	v1.GET("/advice/:id", s.handleGetAdvice)
	v1.POST("/advice/:id/approve", s.handleApproveAdvice)
	v1.POST("/advice/:id/reject", s.handleRejectAdvice)

	v1.POST("/issues/:id/advice", s.handleGenerateAdvice)
	v1.GET("/issues/:id/summary", s.handleSummary)

	v1.GET("/settings", s.handleGetSettings)
	v1.POST("/settings/auto-advice", s.handleSetAutoAdvice)
}

// Handler exposes the router, mainly for tests and embedding.
func (s *Server) Handler() http.Handler { return s.echo }

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
