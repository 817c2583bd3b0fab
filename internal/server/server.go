// Package server sets up the HTTP server, router, and all route definitions.
//
// SERVER ARCHITECTURE:
// This package is the "wiring" layer. It connects the persister, store,
// service, handlers and middleware, and decides:
// - Which URL patterns map to which handler functions
// - Which routes sit behind the API key gate
// - How the server starts and stops gracefully
//
// DEPENDENCY INJECTION FLOW:
// main.go reads config.Config and passes it to New, which builds:
//
//	OpenPersister (file or sqlite) → store.Store → service.ProfileService → handler.ProfileHandler
//	config API key                  → auth.Gate
//
// This is the "composition root" pattern: all dependencies are wired in
// one place rather than scattered across the codebase.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/hashicorp/go-multierror"

	"github.com/sakif/profile-server/internal/auth"
	"github.com/sakif/profile-server/internal/config"
	"github.com/sakif/profile-server/internal/handler"
	"github.com/sakif/profile-server/internal/middleware"
	"github.com/sakif/profile-server/internal/repository"
	"github.com/sakif/profile-server/internal/repository/file"
	sqliteRepo "github.com/sakif/profile-server/internal/repository/sqlite"
	"github.com/sakif/profile-server/internal/service"
	"github.com/sakif/profile-server/internal/store"
)

// shutdownTimeout is how long in-flight requests get to finish after SIGINT/SIGTERM.
const shutdownTimeout = 30 * time.Second

// Server represents the HTTP server and all its dependencies.
//
// RESOURCE MANAGEMENT:
// The Server owns the store, and through it the persister (an open SQLite
// connection for the sqlite backend). Close releases it; Start calls Close
// on the way out.
type Server struct {
	router *chi.Mux
	config config.Config
	logger *slog.Logger
	store  *store.Store
}

// OpenPersister opens the storage backend named by cfg.Backend.
//
// IMPORT ALIAS:
// We import repository/sqlite as `sqliteRepo` to avoid confusion with
// the sqlite driver package.
//
// A database file that SQLite cannot read is moved aside and replaced with an
// empty one (see sqliteRepo.Open), matching the file backend, which treats a
// malformed JSON file as "no profile".
func OpenPersister(cfg config.Config, logger *slog.Logger) (repository.ProfilePersister, error) {
	switch cfg.Backend {
	case config.BackendFile:
		return file.New(cfg.DataPath), nil
	case config.BackendSQLite:
		if dir := filepath.Dir(cfg.DataPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("creating database directory: %w", err)
			}
		}
		db, err := sqliteRepo.Open(cfg.DataPath, logger)
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// New creates a Server from cfg. cfg must already have passed Validate.
//
// WIRING ORDER:
//  1. Build the gate first: a bad API_KEY_HASH should fail before we touch storage
//  2. Open the persister and load the store
//  3. Create the service and handler
//  4. Wire handlers to routes
func New(cfg config.Config, logger *slog.Logger) (*Server, error) {
	gate, err := newGate(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("creating auth gate: %w", err)
	}

	persister, err := OpenPersister(cfg, logger)
	if err != nil {
		return nil, err
	}

	st := store.New(context.Background(), persister, logger, store.WithWritePolicy(cfg.WritePolicy))

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		store:  st,
	}
	s.setupRoutes(gate)

	return s, nil
}

// newGate prefers the bcrypt hash so the plaintext key never has to live
// in the process environment.
func newGate(cfg config.Config, logger *slog.Logger) (*auth.Gate, error) {
	if cfg.APIKeyHash != "" {
		return auth.NewGateFromHash(cfg.APIKeyHash, logger)
	}
	return auth.NewGate(cfg.APIKey, logger)
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
// GET    /healthz     → liveness (open)
// GET    /profile     → read the profile (open)
// POST   /profile     → create the profile   [API key]
// PUT    /profile     → replace the profile  [API key]
// DELETE /profile     → delete the profile   [API key]
//
// The same three writes are also served on /protected, the path older
// clients of this service were written against.
//
// MIDDLEWARE ORDER MATTERS:
// 1. RequestID assigns a unique ID to each request (the logger reads it)
// 2. RealIP extracts the real client IP from proxy headers
// 3. Recoverer catches panics and returns 500 instead of crashing
// 4. Logger logs each request with timing info
func (s *Server) setupRoutes(gate *auth.Gate) {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logger(s.logger))

	profileService := service.NewProfileService(s.store, s.logger)
	profileHandler := handler.NewProfileHandler(profileService, s.logger)

	s.router.Get("/healthz", handler.HandleHealth)
	s.router.Get("/profile", profileHandler.HandleGet)

	// Everything in this group must present "Authorization: Bearer <key>".
	s.router.Group(func(r chi.Router) {
		r.Use(gate.Require)

		for _, path := range []string{"/profile", "/protected"} {
			r.Post(path, profileHandler.HandleCreate)
			r.Put(path, profileHandler.HandleUpdate)
			r.Delete(path, profileHandler.HandleDelete)
		}
	})
}

// Handler returns the root HTTP handler. Tests drive it with httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases the store and its persister.
func (s *Server) Close() error {
	return s.store.Close()
}

// Start starts the HTTP server and handles graceful shutdown.
//
// GRACEFUL SHUTDOWN:
// 1. Stop accepting new HTTP connections
// 2. Wait for in-flight requests to finish (30s timeout)
// 3. Close the store (releases the SQLite connection for that backend)
//
// A failed shutdown and a failed close are both reported.
func (s *Server) Start() (err error) {
	defer func() {
		if closeErr := s.Close(); closeErr != nil {
			err = multierror.Append(err, fmt.Errorf("closing store: %w", closeErr)).ErrorOrNil()
		}
	}()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.config.Port)),
			slog.String("backend", s.config.Backend),
			slog.String("data", s.config.DataPath),
			slog.String("writePolicy", s.config.WritePolicy.String()),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
