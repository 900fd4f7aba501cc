// Package api exposes the actuation gateway over HTTP.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/unison-os/actuation/internal/audit"
	"github.com/unison-os/actuation/internal/auth"
	"github.com/unison-os/actuation/internal/dispatch"
	"github.com/unison-os/actuation/internal/telemetry"
	"github.com/unison-os/actuation/internal/vdi"
)

// Config holds API server configuration.
type Config struct {
	Listen string
	// RequireAuth gates all mutating endpoints behind bearer tokens.
	RequireAuth bool
	// ServiceToken is the single admin bearer token.
	ServiceToken string
	// Tokens is an optional list of scoped bearer tokens.
	Tokens []auth.TokenConfig
}

// Server represents the HTTP API server.
type Server struct {
	config     Config
	dispatcher *dispatch.Dispatcher
	publisher  *telemetry.Publisher
	proxy      *vdi.Proxy
	auditor    *audit.Store
	logger     *slog.Logger
	server     *http.Server
	startedAt  time.Time
}

// New creates a new API server instance. auditor may be nil when the audit
// trail is disabled.
func New(config Config, dispatcher *dispatch.Dispatcher, publisher *telemetry.Publisher, proxy *vdi.Proxy, auditor *audit.Store, logger *slog.Logger) *Server {
	return &Server{
		config:     config,
		dispatcher: dispatcher,
		publisher:  publisher,
		proxy:      proxy,
		auditor:    auditor,
		logger:     logger,
		startedAt:  time.Now(),
	}
}

// Start starts the HTTP server (blocking).
func (s *Server) Start(ctx context.Context) error {
	router := s.setupRoutes()

	s.server = &http.Server{
		Addr:        s.config.Listen,
		Handler:     router,
		ReadTimeout: 10 * time.Second,
		// Long to support streamed telemetry and slow VDI tasks.
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// setupRoutes configures the HTTP router.
func (s *Server) setupRoutes() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Routes
	// Unauthenticated ops endpoints.
	r.Get("/health", s.handleHealth)
	r.Get("/readyz", s.handleReadyz)

	// Protected API.
	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.With(s.requireScopes("actuate:rw", "*")).Post("/actuate", s.handleActuate)
		r.With(s.requireScopes("telemetry:ro", "*")).Get("/telemetry/recent", s.handleTelemetryRecent)
		r.With(s.requireScopes("telemetry:ro", "*")).Get("/telemetry/events", s.handleTelemetryEvents)
		r.With(s.requireScopes("actions:ro", "*")).Get("/actions/recent", s.handleActionsRecent)
		r.With(s.requireScopes("actions:ro", "*")).Get("/actions/{actionID}", s.handleGetAction)
		r.With(s.requireScopes("vdi:rw", "*")).Post("/vdi/tasks/browse", s.handleVdiBrowse)
		r.With(s.requireScopes("vdi:rw", "*")).Post("/vdi/tasks/form-submit", s.handleVdiFormSubmit)
		r.With(s.requireScopes("vdi:rw", "*")).Post("/vdi/tasks/download", s.handleVdiDownload)
	})

	// The gateway sits behind trusted orchestrators; CORS is wide open.
	return cors.AllowAll().Handler(r)
}

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
