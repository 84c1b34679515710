// Package http provides the HTTP adapter for sessions, uploads and submitted receipts.
// It translates HTTP requests to session and application service calls.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dajor/bewirtungsbeleg-sub003/internal/application/service"
	"github.com/dajor/bewirtungsbeleg-sub003/internal/derivation"
)

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	Mode            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	MaxUploadSize   int64
	RateLimit       RateLimitConfig
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:            "0.0.0.0",
		Port:            8080,
		Mode:            gin.ReleaseMode,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		MaxUploadSize:   20 << 20,
	}
}

// Services are the collaborators of the HTTP adapter. Metrics may be nil.
type Services struct {
	Sessions    SessionManager
	Submissions service.SubmissionService
	Receipts    service.ReceiptService
	Rules       *derivation.Rules
	Metrics     http.Handler
}

// Server is the HTTP server adapter
type Server struct {
	config     ServerConfig
	httpServer *http.Server
	router     *gin.Engine
	handlers   *Handlers
	limiter    *ClientRateLimiter
	metrics    http.Handler
	logger     *zap.Logger
}

// NewServer creates a new HTTP server with the given services
func NewServer(config ServerConfig, services Services, logger *zap.Logger) *Server {
	if config.Mode != "" {
		gin.SetMode(config.Mode)
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 10 * time.Second
	}

	router := gin.New()
	router.MaxMultipartMemory = config.MaxUploadSize

	server := &Server{
		config:   config,
		router:   router,
		handlers: NewHandlers(services.Sessions, services.Submissions, services.Receipts, services.Rules, config.MaxUploadSize, logger),
		metrics:  services.Metrics,
		logger:   logger,
	}
	if config.RateLimit.Enabled {
		server.limiter = NewClientRateLimiter(config.RateLimit)
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server
}

// setupMiddleware configures middleware for the router
func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(loggingMiddleware(s.logger))
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	h := s.handlers

	s.router.GET("/health", h.HealthCheck)
	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics))
	}

	api := s.router.Group("/api/v1")

	sessions := api.Group("/sessions")
	{
		sessions.POST("", h.CreateSession)
		sessions.GET("/:id", h.GetSession)
		sessions.DELETE("/:id", h.EndSession)
		sessions.POST("/:id/reset", h.ResetSession)
		sessions.PATCH("/:id/fields", h.EditFields)
		sessions.GET("/:id/fields/:field", h.GetField)
		sessions.GET("/:id/uploads", h.ListUploads)
		sessions.DELETE("/:id/uploads/:source", h.RemoveUpload)
		sessions.POST("/:id/submit", h.Submit)

		if s.limiter != nil {
			sessions.POST("/:id/uploads", s.limiter.Middleware(s.logger), h.Upload)
		} else {
			sessions.POST("/:id/uploads", h.Upload)
		}
	}

	receipts := api.Group("/receipts")
	{
		receipts.GET("", h.ListReceipts)
		receipts.GET("/:id", h.GetReceipt)
		receipts.GET("/:id/history", h.GetReceiptHistory)
		receipts.GET("/:id/export", h.ExportReceipt)
	}
}

// Start starts the HTTP server and blocks until ctx is cancelled or the listener fails
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
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
	if s.limiter != nil {
		s.limiter.Stop()
	}
	if s.httpServer == nil {
		return nil
	}

	s.logger.Info("Stopping HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
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
