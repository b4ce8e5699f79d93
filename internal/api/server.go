// Package api exposes the REST surface: send endpoints, tag and server
// management, email history and the live progress stream.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mailburst/mailburst/internal/config"
	"github.com/mailburst/mailburst/internal/dispatch"
	"github.com/mailburst/mailburst/internal/events"
	"github.com/mailburst/mailburst/internal/metrics"
	"github.com/mailburst/mailburst/internal/smtpx"
	"github.com/mailburst/mailburst/internal/store"
	"github.com/mailburst/mailburst/internal/vault"
)

// Deps carries everything the HTTP layer serves.
type Deps struct {
	Scheduler   *dispatch.Scheduler
	Servers     *store.ServerRepository
	Emails      *store.EmailRepository
	Templates   *store.TemplateRepository
	Vault       *vault.Vault
	Broadcaster *events.Broadcaster
	Dialer      *smtpx.Dialer
	Metrics     *metrics.Metrics
	Auth        config.AuthConfig
	Defaults    config.DispatchConfig
	ListenAddr  string
	Version     string
	Logger      *slog.Logger
}

// Server is the HTTP API server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server

	scheduler   *dispatch.Scheduler
	servers     *store.ServerRepository
	emails      *store.EmailRepository
	templates   *store.TemplateRepository
	vault       *vault.Vault
	broadcaster *events.Broadcaster
	dialer      *smtpx.Dialer
	metrics     *metrics.Metrics
	auth        config.AuthConfig
	defaults    config.DispatchConfig
	listenAddr  string
	version     string
	logger      *slog.Logger
	startTime   time.Time
}

// NewServer creates a new API server
func NewServer(d Deps) *Server {
	s := &Server{
		router:      chi.NewRouter(),
		scheduler:   d.Scheduler,
		servers:     d.Servers,
		emails:      d.Emails,
		templates:   d.Templates,
		vault:       d.Vault,
		broadcaster: d.Broadcaster,
		dialer:      d.Dialer,
		metrics:     d.Metrics,
		auth:        d.Auth,
		defaults:    d.Defaults,
		listenAddr:  d.ListenAddr,
		version:     d.Version,
		logger:      d.Logger,
		startTime:   time.Now(),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Recoverer)

	// Health, metrics and the progress stream are unauthenticated; the
	// stream is consumed by the UI before any job starts.
	s.router.Get("/health", s.handleHealth)
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler())
	}
	s.router.Get("/ws/sending-logs", s.handleEventStream)

	s.router.Route("/api", func(r chi.Router) {
		if s.auth.Enabled {
			r.Use(s.basicAuthMiddleware)
		}

		r.Route("/emails", func(r chi.Router) {
			r.Get("/", s.handleListEmails)
			r.Post("/send", s.handleSend)
			r.Post("/send-bulk", s.handleSendBulk)
			r.Post("/stop-bulk", s.handleStopBulk)
		})

		r.Route("/tags", func(r chi.Router) {
			r.Get("/", s.handleListTags)
			r.Post("/", s.handleCreateTag)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetTag)
				r.Delete("/", s.handleDeleteTag)
				r.Post("/values", s.handleAddTagValues)
				r.Post("/reset", s.handleResetTag)
				r.Get("/download", s.handleDownloadTag)
			})
		})

		r.Route("/smtp", func(r chi.Router) {
			r.Get("/configs", s.handleListServers)
			r.Post("/configs", s.handleCreateServer)
			r.Put("/configs/{id}", s.handleUpdateServer)
			r.Delete("/configs/{id}", s.handleDeleteServer)
			r.Post("/configs/{id}/test", s.handleTestServer)
			r.Post("/reset-sent-counts", s.handleResetSentCounts)
		})

		r.Route("/templates", func(r chi.Router) {
			r.Get("/", s.handleListTemplates)
			r.Post("/", s.handleCreateTemplate)
			r.Get("/{id}", s.handleGetTemplate)
			r.Delete("/{id}", s.handleDeleteTemplate)
		})
	})
}

// Router returns the configured handler, used by tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:        s.listenAddr,
		Handler:     s.router,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	s.logger.Info("starting HTTP API server", "addr", s.listenAddr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP API server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// ErrorResponse is the error body for 4xx/5xx answers
type ErrorResponse struct {
	Message string `json:"message"`
}

func (s *Server) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) sendError(w http.ResponseWriter, status int, message string) {
	s.sendJSON(w, status, ErrorResponse{Message: message})
}
