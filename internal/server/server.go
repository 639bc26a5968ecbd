// Package server provides the local HTTP surface for janken: health, the
// current result, stored history and live streams of results and preview
// frames.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/ayusman/janken/internal/capture"
	"github.com/ayusman/janken/internal/dispatch"
	"github.com/ayusman/janken/internal/present"
	"github.com/ayusman/janken/internal/server/api"
	"github.com/ayusman/janken/internal/store"
)

const (
	readHeaderTimeout    = 5 * time.Second
	readTimeout          = 15 * time.Second
	idleTimeout          = 60 * time.Second
	shutdownGraceTimeout = 10 * time.Second
)

// Config holds the server configuration. Nil fields disable their routes.
type Config struct {
	StaticDir string
	Store     *store.Store
	// Label is read by /api/result.
	Label *present.Label
	// Hub backs the /api/results WebSocket.
	Hub *ResultsHub
	// Preview backs the /api/stream MJPEG endpoint.
	Preview *capture.Preview
	// Stats reports dispatcher counters on /api/health.
	Stats func() dispatch.Stats
}

// Server represents the HTTP server for the janken application.
type Server struct {
	config Config
	mux    *http.ServeMux
	start  time.Time
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	s := &Server{
		config: config,
		mux:    http.NewServeMux(),
		start:  time.Now(),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)

	if s.config.Label != nil {
		s.mux.HandleFunc("/api/result", s.handleResult)
	}

	if s.config.Store != nil {
		history := api.NewHistoryHandler(s.config.Store)
		s.mux.Handle("/api/history", history)
		s.mux.Handle("/api/history/", history)
	}

	if s.config.Hub != nil {
		s.mux.Handle("/api/results", s.config.Hub)
	}

	if s.config.Preview != nil {
		s.mux.Handle("/api/stream", NewStreamHandler(s.config.Preview))
	}

	if s.config.StaticDir != "" {
		fs := http.FileServer(http.Dir(s.config.StaticDir))
		s.mux.Handle("/", fs)
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

type healthResponse struct {
	Status string          `json:"status"`
	Uptime string          `json:"uptime"`
	Stats  *dispatch.Stats `json:"stats,omitempty"`
}

// handleHealth handles GET requests to /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := healthResponse{
		Status: "ok",
		Uptime: time.Since(s.start).Round(time.Second).String(),
	}
	if s.config.Stats != nil {
		stats := s.config.Stats()
		response.Stats = &stats
	}

	writeJSON(w, response)
}

type resultResponse struct {
	present.Update
	Text string `json:"text"`
}

// handleResult handles GET requests to /api/result.
func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	u := s.config.Label.Current()
	writeJSON(w, resultResponse{Update: u, Text: u.Text()})
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// ListenAndServe starts the HTTP server on the given address.
func (s *Server) ListenAndServe(addr string) error {
	return s.Run(context.Background(), addr)
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
// WriteTimeout is left unset because /api/stream responses never end.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		IdleTimeout:       idleTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("HTTP server listening on %s", ln.Addr())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGraceTimeout)
	defer cancel()
	if s.config.Hub != nil {
		s.config.Hub.Close()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Println("HTTP server stopped")
	return <-errCh
}
