// Package api exposes the agent's HTTP surface: incident queries, manual
// overrides, metric push ingestion, catalog inspection, and service
// registration.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opsforge/remedy/internal/config"
)

// Server wraps the HTTP listener and lifecycle helpers.
type Server struct {
	cfg        config.ServerConfig
	httpServer *http.Server
	listener   net.Listener
}

// NewServer binds the configured address and mounts the API routes.
func NewServer(cfg config.ServerConfig, h *Handlers) (*Server, error) {
	lis, err := net.Listen("tcp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", cfg.Address, err)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)

	router.Get("/healthz", h.Healthz)
	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/incidents", h.ListIncidents)
		r.Get("/incidents/{id}", h.GetIncident)
		r.Get("/incidents/{id}/actions", h.IncidentActions)
		r.Post("/incidents/{id}/override", h.OverrideIncident)
		r.Post("/metrics", h.PushMetrics)
		r.Get("/catalog", h.ListCatalog)
		r.Put("/catalog", h.UpsertCatalog)
		r.Get("/catalog/trend", h.CatalogTrend)
		r.Get("/services", h.ListServices)
		r.Post("/services", h.RegisterService)
	})

	return &Server{
		cfg: cfg,
		httpServer: &http.Server{
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
		listener: lis,
	}, nil
}

// Start serves requests until Shutdown is invoked.
func (s *Server) Start() error {
	if s.httpServer == nil || s.listener == nil {
		return fmt.Errorf("server not initialised")
	}
	if err := s.httpServer.Serve(s.listener); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown attempts a graceful shutdown, closing outright when the context
// expires first.
func (s *Server) Shutdown(ctx context.Context) {
	if s.httpServer == nil {
		return
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.httpServer.Close()
	}
}

// Address exposes the bound listener address (useful for tests).
func (s *Server) Address() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// GracefulTimeout returns the configured graceful timeout duration.
func (s *Server) GracefulTimeout() time.Duration {
	return s.cfg.GracefulTimeout
}
