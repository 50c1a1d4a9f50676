// Package web provides an HTTP status server for the unitd daemon.
package web

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/openunitstate/unitd/internal/status"
)

// Options holds optional handlers mounted next to the status pages.
type Options struct {
	// Metrics serves /metrics when set.
	Metrics http.Handler

	// Update accepts POST /update when set.
	Update http.Handler
}

// Server serves the status page over HTTP.
type Server struct {
	httpServer *http.Server
	router     chi.Router
	tracker    *status.Tracker
	hasMetrics bool
}

// New creates a Server that reads state from the given tracker.
func New(addr string, tracker *status.Tracker, opts Options) *Server {
	s := &Server{tracker: tracker, router: chi.NewRouter()}

	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)

	s.router.Get("/", s.handleIndex)
	s.router.Get("/index.html", s.handleIndex)
	s.router.Get("/index.json", s.handleJSON)
	if opts.Metrics != nil {
		s.router.Handle("/metrics", opts.Metrics)
		s.hasMetrics = true
	}
	if opts.Update != nil {
		s.router.Post("/update", opts.Update.ServeHTTP)
	}

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	renderHTML(w, snap, s.hasMetrics)
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}
