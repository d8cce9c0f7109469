// Package http exposes the approval engine over a JSON API.
// Handlers translate requests into orchestrator calls and map typed errors onto status codes.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/garyjia/approval-engine/internal/application/workflow"
)

// HealthChecker reports whether the service's dependencies are usable
type HealthChecker interface {
	Health(ctx context.Context) error
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string
	Port         int
	Mode         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// RateLimitQPS throttles action submission per actor; zero disables it
	RateLimitQPS   float64
	RateLimitBurst int
	// IntakeRole lets a token file transactions for another requester; empty disables it
	IntakeRole string
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:           "0.0.0.0",
		Port:           8080,
		Mode:           gin.ReleaseMode,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		RateLimitQPS:   5,
		RateLimitBurst: 10,
		IntakeRole:     "intake",
	}
}

// Server is the HTTP server adapter
type Server struct {
	config     ServerConfig
	httpServer *http.Server
	router     *gin.Engine
	engine     workflow.Orchestrator
	auth       *Authenticator
	limiter    *actorLimiter
	health     HealthChecker
	logger     *zap.Logger
}

// NewServer creates a new HTTP server over the orchestrator
func NewServer(
	config ServerConfig,
	engine workflow.Orchestrator,
	auth *Authenticator,
	health HealthChecker,
	logger *zap.Logger,
) *Server {
	if config.Mode == "" {
		config.Mode = gin.ReleaseMode
	}
	gin.SetMode(config.Mode)

	server := &Server{
		config: config,
		router: gin.New(),
		engine: engine,
		auth:   auth,
		health: health,
		logger: logger,
	}
	if config.RateLimitQPS > 0 {
		server.limiter = newActorLimiter(config.RateLimitQPS, config.RateLimitBurst)
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server
}

func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) setupRoutes() {
	h := NewHandlers(s.engine, s.health, s.config.IntakeRole, s.logger)

	s.router.GET("/health", h.HealthCheck)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.router.Group("/api/v1", s.authMiddleware())
	{
		api.POST("/workflows", h.CreateWorkflow)
		api.GET("/workflows", h.ListWorkflows)
		api.GET("/workflows/:id", h.GetWorkflow)
		api.POST("/workflows/:id/actions", s.rateLimitMiddleware(), h.SubmitAction)
		api.GET("/workflows/:id/actions", h.History)
		api.POST("/workflows/:id/verify", h.Verify)
	}
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	addr := s.Address()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Starting HTTP server", zap.String("address", addr))

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("HTTP server shutdown requested")
		return s.Stop()
	case err := <-errCh:
		s.logger.Error("HTTP server error", zap.Error(err))
		return err
	}
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	s.logger.Info("Stopping HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", zap.Error(err))
		return err
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// Router returns the underlying gin router (for testing)
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Address returns the server address
func (s *Server) Address() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}
