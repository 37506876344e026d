// Package http provides the HTTP API for catalog runs, inspection and scans.
package http //nolint:revive // package name conflicts with stdlib but is acceptable in this context

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/jobrunner/zipcat/internal/application"
	"github.com/jobrunner/zipcat/internal/config"
	"github.com/jobrunner/zipcat/internal/ports/input"
)

// ScanTrigger is a scanner that can be started on request.
type ScanTrigger interface {
	input.Scanner
	TriggerScan(ctx context.Context) (application.ScanResult, error)
}

// Option configures optional parts of the server.
type Option func(*Server)

// WithMetrics mounts the metrics handler at path and instruments all routes.
func WithMetrics(path string, handler http.Handler, middleware mux.MiddlewareFunc) Option {
	return func(s *Server) {
		s.metricsPath = path
		s.metricsHandler = handler
		s.metricsMiddleware = middleware
	}
}

// WithScanner enables the scan endpoints.
func WithScanner(scanner ScanTrigger) Option {
	return func(s *Server) { s.scanner = scanner }
}

// WithTLS serves HTTPS with the given configuration.
func WithTLS(tc *tls.Config) Option {
	return func(s *Server) { s.tlsConfig = tc }
}

// WithDefaults fills project and bucket of catalog requests that omit them.
func WithDefaults(project, bucket string) Option {
	return func(s *Server) {
		s.defaultProject = project
		s.defaultBucket = bucket
	}
}

// Server wraps the HTTP server with application handlers.
type Server struct {
	server    *http.Server
	router    *mux.Router
	cataloger input.Cataloger
	inspector input.Inspector
	health    input.HealthChecker
	scanner   ScanTrigger
	logger    *slog.Logger
	config    config.ServerConfig

	metricsPath       string
	metricsHandler    http.Handler
	metricsMiddleware mux.MiddlewareFunc
	tlsConfig         *tls.Config

	defaultProject string
	defaultBucket  string
}

// NewServer creates a new HTTP server.
func NewServer(
	cfg config.ServerConfig,
	cataloger input.Cataloger,
	inspector input.Inspector,
	health input.HealthChecker,
	logger *slog.Logger,
	opts ...Option,
) *Server {
	s := &Server{
		cataloger: cataloger,
		inspector: inspector,
		health:    health,
		logger:    logger,
		config:    cfg,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.router = s.setupRoutes()

	s.server = &http.Server{
		Addr:              cfg.Address(),
		Handler:           s.router,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.WriteTimeout,
		TLSConfig:         s.tlsConfig,
	}

	return s
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() *mux.Router {
	r := mux.NewRouter()

	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	if s.metricsMiddleware != nil {
		r.Use(s.metricsMiddleware)
	}
	if s.config.CORS.Enabled() {
		r.Use(s.corsMiddleware)
	}

	// Health endpoints
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/health/live", s.handleLiveness).Methods(http.MethodGet)
	r.HandleFunc("/health/ready", s.handleReadiness).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/catalog", s.handleCatalog).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/inventory", s.handleInventory).Methods(http.MethodGet, http.MethodOptions)

	if s.scanner != nil {
		api.HandleFunc("/scan", s.handleScan).Methods(http.MethodPost, http.MethodOptions)
		api.HandleFunc("/scan/recent", s.handleRecentScans).Methods(http.MethodGet)
	}

	if s.metricsHandler != nil {
		r.Handle(s.metricsPath, s.metricsHandler).Methods(http.MethodGet)
	}

	r.HandleFunc("/openapi.json", s.handleOpenAPI).Methods(http.MethodGet)
	r.HandleFunc("/docs", s.handleDocs).Methods(http.MethodGet)

	return r
}

// Router returns the mux router.
func (s *Server) Router() *mux.Router {
	return s.router
}

// Start starts the HTTP server. It serves HTTPS when a TLS configuration
// was given.
func (s *Server) Start() error {
	if s.tlsConfig != nil {
		s.logger.Info("starting HTTPS server", "address", s.config.Address())
		return s.server.ListenAndServeTLS("", "")
	}
	s.logger.Info("starting HTTP server", "address", s.config.Address())
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs incoming requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration", time.Since(start),
			"remote_addr", r.RemoteAddr,
		)
	})
}

// recoveryMiddleware recovers from panics.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("panic recovered", "error", err, "path", r.URL.Path)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// responseWriter captures the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
