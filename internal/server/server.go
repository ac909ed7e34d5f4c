// Package server provides the HTTP server for the blob service.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/blobmux/blobmux/internal/config"
	apierrors "github.com/blobmux/blobmux/internal/errors"
	"github.com/blobmux/blobmux/internal/handler"
	"github.com/blobmux/blobmux/internal/health"
	"github.com/blobmux/blobmux/internal/middleware"
)

// Server represents the HTTP server.
type Server struct {
	router       *mux.Router
	httpServer   *http.Server
	handlers     *handler.Handlers
	healthCheck  *health.HealthCheck
	errorHandler *apierrors.Handler
	logger       *zap.Logger
	cfg          *config.Config
}

// NewServer creates a new HTTP server.
func NewServer(cfg *config.Config, handlers *handler.Handlers, healthCheck *health.HealthCheck, errorHandler *apierrors.Handler, logger *zap.Logger) *Server {
	router := mux.NewRouter()

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return &Server{
		router:       router,
		httpServer:   httpServer,
		handlers:     handlers,
		healthCheck:  healthCheck,
		errorHandler: errorHandler,
		logger:       logger,
		cfg:          cfg,
	}
}

// SetupRoutes configures all HTTP routes.
func (s *Server) SetupRoutes() {
	middlewareChain := []func(http.Handler) http.Handler{
		middleware.Recovery(s.logger),
		middleware.RequestID,
		middleware.Logging(s.logger),
	}

	if s.cfg.Server.RateLimit > 0 {
		rateLimiter := middleware.NewRateLimiter(
			s.cfg.Server.RateLimit,
			s.cfg.Server.RateBurst,
			s.logger,
		)
		middlewareChain = append(middlewareChain, rateLimiter.Limit)
	}

	chain := middleware.Chain(middlewareChain...)
	s.router.Use(func(next http.Handler) http.Handler {
		return chain(next)
	})

	// Health check endpoints
	s.router.HandleFunc("/health", s.healthCheck.LivenessHandler).Methods(http.MethodGet)
	s.router.HandleFunc("/ready", s.healthCheck.ReadinessHandler).Methods(http.MethodGet)

	// API v1 routes
	v1 := s.router.PathPrefix("/v1").Subrouter()

	v1.HandleFunc("/blob/{key}", s.handlers.PutBlob).Methods(http.MethodPut)
	v1.HandleFunc("/blob/{key}", s.handlers.GetBlob).Methods(http.MethodGet)
	v1.HandleFunc("/blob/{key}", s.handlers.HeadBlob).Methods(http.MethodHead)
	v1.HandleFunc("/scrub/{key}", s.handlers.ScrubBlob).Methods(http.MethodPost)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		s.errorHandler.WriteErrorResponse(w, http.StatusNotFound, apierrors.ErrorCodeUnknown, "endpoint not found", requestID)
	})

	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		s.errorHandler.WriteErrorResponse(w, http.StatusMethodNotAllowed, apierrors.ErrorCodeUnknown, "method not allowed", requestID)
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server",
		zap.String("host", s.cfg.Server.Host),
		zap.Int("port", s.cfg.Server.Port),
	)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// GetRouter returns the router for testing purposes.
func (s *Server) GetRouter() *mux.Router {
	return s.router
}
