// Package debughttp provides an optional read-only introspection HTTP
// surface: session and track state served as JSON over a chi router.
// Operator tooling only — the media HTTP stack stays the injected
// transport.Downloader throughout.
package debughttp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/streamcore/corestream/internal/config"
	"github.com/streamcore/corestream/internal/session"
	"github.com/streamcore/corestream/internal/version"
)

// Server is the debug/introspection HTTP server. It has no write paths:
// every route renders a Snapshot of one or more registered sessions.
type Server struct {
	cfg    config.ServerConfig
	router *chi.Mux
	http   *http.Server
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*session.Session
}

// NewServer builds a Server bound to cfg. Sessions are registered/
// unregistered as playback sessions start and stop (Register/Unregister).
func NewServer(cfg config.ServerConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	router := chi.NewRouter()
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.Recoverer)
	router.Use(chimiddleware.Timeout(30 * time.Second))

	s := &Server{
		cfg:      cfg,
		router:   router,
		logger:   logger,
		sessions: make(map[string]*session.Session),
	}

	router.Get("/healthz", s.handleHealthz)
	router.Get("/version", s.handleVersion)
	router.Get("/sessions", s.handleListSessions)
	router.Get("/sessions/{id}", s.handleGetSession)

	return s
}

// Register adds a session to the introspection surface under its own ID.
func (s *Server) Register(sess *session.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID.String()] = sess
}

// Unregister removes a session from the introspection surface.
func (s *Server) Unregister(sess *session.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sess.ID.String())
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(version.GetInfo())
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	snaps := make([]session.Snapshot, 0, len(s.sessions))
	for _, sess := range s.sessions {
		snaps = append(snaps, sess.Snapshot())
	}
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(snaps)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()

	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(sess.Snapshot())
}

// Router exposes the underlying chi router for tests or embedding.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// ListenAndServe starts the server and blocks until ctx is cancelled,
// then gracefully shuts down within cfg.ShutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := s.cfg.Address()
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("debughttp: listening", slog.String("address", addr))
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("debughttp: serving: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("debughttp: shutting down: %w", err)
		}
		return nil
	case err := <-errCh:
		return err
	}
}
