// Package api exposes the worker bridge to the front-end over a local HTTP
// surface: REST for the synchronous commands, SSE for streaming queries and
// the live event feed.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/mirrorhost/internal/bridge"
	"github.com/mattjoyce/mirrorhost/internal/events"
	"github.com/mattjoyce/mirrorhost/internal/history"
	"github.com/mattjoyce/mirrorhost/internal/protocol"
)

// Bridge is the slice of the worker bridge the handlers consume.
type Bridge interface {
	ListSessions() ([]bridge.Session, error)
	GetMessages(talker string, limit, offset int) ([]bridge.Message, error)
	ImportFile(path string) (*bridge.ImportReceipt, error)
	DeleteSession(talker string) error
	StreamQuery(ctx context.Context, spec bridge.QuerySpec, onProgress func(*protocol.Response)) (*protocol.Response, error)
}

// Config holds API server configuration.
type Config struct {
	Listen string
	// APIKey, when non-empty, is required as a bearer token on /v1 routes.
	APIKey string
}

// Server is the HTTP API server.
type Server struct {
	config    Config
	bridge    Bridge
	hub       *events.Hub
	journal   *history.Store // may be nil when history is disabled
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates an API server. journal may be nil.
func New(config Config, b Bridge, hub *events.Hub, journal *history.Store, logger *slog.Logger) *Server {
	return &Server{
		config:    config,
		bridge:    b,
		hub:       hub,
		journal:   journal,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Start runs the server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:        s.config.Listen,
		Handler:     s.setupRoutes(),
		ReadTimeout: 10 * time.Second,
		// No write timeout: /v1/query and /v1/events hold SSE streams open
		// for as long as the worker computes or the client listens.
		IdleTimeout: 60 * time.Second,
	}

	s.logger.Info("api server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("api server shutting down")
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

func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Get("/sessions", s.handleSessions)
		r.Get("/sessions/{talker}/messages", s.handleMessages)
		r.Delete("/sessions/{talker}", s.handleDeleteSession)
		r.Post("/import", s.handleImport)
		r.Post("/query", s.handleQuery)
		r.Get("/events", s.handleEvents)
		r.Get("/history", s.handleHistory)
	})

	return r
}

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

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.config.APIKey == "" {
			next.ServeHTTP(w, r)
			return
		}
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token != s.config.APIKey {
			s.writeError(w, http.StatusUnauthorized, "invalid or missing bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}
