// Package server exposes the recall HTTP API.
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lazypower/recall/internal/pipeline"
	"github.com/lazypower/recall/internal/store"
)

// Server is the recall HTTP API server.
type Server struct {
	db       *store.DB
	pipeline *pipeline.Pipeline
	router   chi.Router
	version  string
	started  time.Time
}

// New creates a new Server over the database and answer pipeline.
func New(db *store.DB, p *pipeline.Pipeline, version string) *Server {
	s := &Server{
		db:       db,
		pipeline: p,
		version:  version,
		started:  time.Now(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Post("/query", s.handleQuery)
		r.Post("/chunks", s.handleIngestChunks)
		r.Get("/memory/{userID}", s.handleGetMemory)
		r.Post("/maintenance/decay", s.handleDecay)
	})

	r.Handle("/metrics", promhttp.Handler())

	s.router = r
}
