// Package server implements the Tallyline HTTP API server.
package server

import (
	"context"
	"expvar"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tallyline/tallyline/internal/anomaly"
	"github.com/tallyline/tallyline/internal/pipeline"
	"github.com/tallyline/tallyline/internal/store"
	"github.com/tallyline/tallyline/pkg/types"
)

const defaultMaxBodyBytes = 1 << 20 // 1 MiB

// Server is the Tallyline HTTP API server.
type Server struct {
	pipeline *pipeline.Pipeline
	store    store.Store
	router   chi.Router
	addr     string
	srv      *http.Server
}

// New creates a new HTTP server.
func New(cfg types.ServerConfig, p *pipeline.Pipeline, st store.Store, scanCfg anomaly.Config) *Server {
	s := &Server{
		pipeline: p,
		store:    st,
		addr:     cfg.Addr,
	}

	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}

	r := chi.NewRouter()
	r.Use(RequestIDMiddleware)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(MaxBodyMiddleware(maxBody))
	r.Use(APIKeyMiddleware(cfg.APIKey))
	r.Use(middleware.SetHeader("Content-Type", "application/json"))

	s.router = r
	s.registerRoutes(r, scanCfg)

	if cfg.ExposeExpvar {
		r.Method(http.MethodGet, "/debug/vars", expvar.Handler())
	}
	return s
}

// Router returns the underlying router (for tests).
func (s *Server) Router() http.Handler {
	return s.router
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.srv = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s.srv.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv != nil {
		return s.srv.Shutdown(ctx)
	}
	return nil
}
