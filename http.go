package judgewire

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// StatsServer exposes worker diagnostics over HTTP. It is meant for a local
// or private address: the lock endpoints are not authenticated.
type StatsServer struct {
	worker *Worker
	server *Server

	// AllowedOrigins enables CORS for browser dashboards. Empty disables it.
	AllowedOrigins []string
}

func NewStatsServer(worker *Worker, server *Server) *StatsServer {
	return &StatsServer{worker: worker, server: server}
}

// Handler returns the stats routes with logging, recovery and CORS applied.
func (s *StatsServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	if len(s.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
	}

	s.RegisterRoutes(r)
	return r
}

// RegisterRoutes registers the stats routes on r.
func (s *StatsServer) RegisterRoutes(r chi.Router) {
	r.Get("/stats", s.statsHandler)
	r.Get("/sessions", s.sessionsHandler)
	r.Post("/lock", s.lockHandler)
	r.Post("/unlock", s.unlockHandler)
}

// ListenAndServe serves the stats routes on addr until ctx is done.
func (s *StatsServer) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	slog.Info("Stats server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Helper function to send JSON responses
func sendJSONResponse(rw http.ResponseWriter, data any) {
	buf, err := json.Marshal(data)
	if err != nil {
		http.Error(rw, err.Error(), http.StatusInternalServerError)
		return
	}

	rw.Header().Set("Content-Type", "application/json")
	rw.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
	rw.Write(buf)
}

// statsHandler provides statistics about the worker via HTTP
func (s *StatsServer) statsHandler(rw http.ResponseWriter, req *http.Request) {
	stats := s.worker.Stats()
	if s.server != nil {
		stats["connections"] = s.server.ConnectionCount()
	}
	sendJSONResponse(rw, stats)
}

func (s *StatsServer) sessionsHandler(rw http.ResponseWriter, req *http.Request) {
	sendJSONResponse(rw, s.worker.Sessions().Dump())
}

func (s *StatsServer) lockHandler(rw http.ResponseWriter, req *http.Request) {
	s.worker.Lock()
	sendJSONResponse(rw, map[string]any{"status": "OK", "locked": true})
}

func (s *StatsServer) unlockHandler(rw http.ResponseWriter, req *http.Request) {
	s.worker.Unlock()
	sendJSONResponse(rw, map[string]any{"status": "OK", "locked": false})
}
