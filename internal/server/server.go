// Package server exposes the admin and search HTTP API. Admin routes
// are bearer-protected; ingestion happens through the task runner so
// uploads never block a request.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"lockstep/internal/auth"
	"lockstep/internal/config"
	"lockstep/internal/engine"
	"lockstep/internal/search"
	"lockstep/internal/tasks"
)

// Server wires the engine, task runner and searcher behind HTTP.
type Server struct {
	cfg      *config.Config
	eng      *engine.Engine
	runner   *tasks.Runner
	searcher *search.Searcher

	signer       *auth.Signer
	authMW       *auth.Middleware
	loginLimiter *auth.LoginLimiter
	hub          *hub

	uploadsDir string
	started    time.Time
}

// New builds a Server. The uploads directory is created if missing.
func New(cfg *config.Config, eng *engine.Engine, runner *tasks.Runner, searcher *search.Searcher) (*Server, error) {
	if err := os.MkdirAll(cfg.UploadsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create uploads dir: %w", err)
	}

	ttl := time.Duration(cfg.Auth.TokenTTLMinutes) * time.Minute
	signer := auth.NewSigner(cfg.Auth.Secret, ttl)

	return &Server{
		cfg:          cfg,
		eng:          eng,
		runner:       runner,
		searcher:     searcher,
		signer:       signer,
		authMW:       auth.NewMiddleware(signer, cfg.Auth.Username),
		loginLimiter: auth.NewLoginLimiter(cfg.Auth.LoginPerMinute, cfg.Auth.LoginBurst),
		hub:          newHub(),
		uploadsDir:   cfg.UploadsDir,
		started:      time.Now(),
	}, nil
}

// Handler returns the full route table wrapped in CORS.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Public endpoints.
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/version", s.handleVersion)
	mux.HandleFunc("/api/search", s.handleSearch)
	mux.HandleFunc("/api/admin/login", s.handleLogin)

	// Protected admin endpoints.
	mux.Handle("/api/admin/upload/preview", s.authMW.WrapFunc(s.handleUploadPreview))
	mux.Handle("/api/admin/ingest", s.authMW.WrapFunc(s.handleIngest))
	mux.Handle("/api/admin/uploads", s.authMW.WrapFunc(s.handleUploads))
	mux.Handle("/api/admin/tasks/ws", s.authMW.WrapFunc(s.hub.handleTasksWS))

	return corsMiddleware(s.cfg.Server.CORSOrigins, mux)
}

// StreamTasks forwards task runner events to connected websocket
// clients until ctx is cancelled.
func (s *Server) StreamTasks(ctx context.Context) {
	events, cancel := s.runner.Subscribe()
	defer cancel()
	s.hub.run(ctx, events)
}

// Start serves HTTP until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	go s.StreamTasks(ctx)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler: s.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	log.Printf("[Server] listening on port %d", s.cfg.Server.Port)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	log.Printf("[Server] shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	s.hub.closeAll()
	return nil
}

// writeJSON encodes v with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[Server] encode response: %v", err)
	}
}

// writeJSONError sends the generic error envelope used across the API.
func writeJSONError(w http.ResponseWriter, code int, errID, message string) {
	writeJSON(w, code, struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}{Error: errID, Message: message})
}
