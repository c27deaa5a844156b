// Package http provides the ops HTTP server of watch mode.
package http //nolint:revive // package name conflicts with stdlib but is acceptable in this context

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/jobrunner/gpkgindex/internal/application"
	"github.com/jobrunner/gpkgindex/internal/config"
	"github.com/jobrunner/gpkgindex/internal/ports/input"
)

// Syncer triggers a pull from remote storage.
type Syncer interface {
	TriggerSync(ctx context.Context) (application.SyncResult, error)
}

// Server serves health, metrics, package status and the sync trigger.
type Server struct {
	server      *http.Server
	router      *mux.Router
	registry    input.PackageRegistry
	health      input.HealthChecker
	syncer      Syncer
	metrics     http.Handler
	metricsPath string
	logger      *slog.Logger
	config      config.ServerConfig
}

// Options holds the optional parts of the server.
type Options struct {
	Syncer      Syncer       // nil disables POST /api/v1/sync
	Metrics     http.Handler // nil disables the metrics endpoint
	MetricsPath string
}

// NewServer creates a new HTTP server.
func NewServer(
	cfg config.ServerConfig,
	registry input.PackageRegistry,
	health input.HealthChecker,
	opts Options,
	logger *slog.Logger,
) *Server {
	if opts.MetricsPath == "" {
		opts.MetricsPath = "/metrics"
	}
	s := &Server{
		registry:    registry,
		health:      health,
		syncer:      opts.Syncer,
		metrics:     opts.Metrics,
		metricsPath: opts.MetricsPath,
		logger:      logger,
		config:      cfg,
	}

	s.router = s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.Address(),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s
}

func (s *Server) setupRoutes() *mux.Router {
	r := mux.NewRouter()

	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)

	// Health endpoints
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/health/live", s.handleLiveness).Methods(http.MethodGet)
	r.HandleFunc("/health/ready", s.handleReadiness).Methods(http.MethodGet)

	if s.metrics != nil {
		r.Handle(s.metricsPath, s.metrics).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/packages", s.handleListPackages).Methods(http.MethodGet)
	api.HandleFunc("/packages/{packageId}", s.handleGetPackage).Methods(http.MethodGet)
	api.HandleFunc("/packages/{packageId}/status", s.handlePackageStatus).Methods(http.MethodGet)
	if s.syncer != nil {
		api.HandleFunc("/sync", s.handleSync).Methods(http.MethodPost)
	}

	return r
}

// Router returns the mux router.
func (s *Server) Router() *mux.Router {
	return s.router
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "address", s.config.Address())
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration", time.Since(start),
			"remote_addr", r.RemoteAddr,
		)
	})
}

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

// responseWriter captures the status code for the request log.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
