// Package server exposes the assistant over HTTP: the chat surface used by
// the mobile and web channels, the escalation surface, and the ops
// endpoints (health, metrics, agent webhooks).
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/atlaspay/concierge/pkg/assistant"
	"github.com/atlaspay/concierge/pkg/auth"
	"github.com/atlaspay/concierge/pkg/config"
	"github.com/atlaspay/concierge/pkg/metrics"
)

// AgentDirectory is the slice of the human-agent pool the webhook surface
// manages.
type AgentDirectory interface {
	SetStatus(ctx context.Context, agentID, status string) error
	Release(ctx context.Context, agentID string) error
	BusyCount(ctx context.Context) (int, error)
}

// Server is the HTTP surface.
type Server struct {
	cfg        config.ServerConfig
	pipeline   *assistant.Pipeline
	auth       *auth.Authenticator
	collector  *metrics.Collector
	agents     AgentDirectory
	httpServer *http.Server
}

// New wires the router. collector and agents may be nil; the matching
// endpoints then respond 404.
func New(cfg config.ServerConfig, pipeline *assistant.Pipeline, authenticator *auth.Authenticator, collector *metrics.Collector, agents AgentDirectory) *Server {
	cfg.SetDefaults()

	s := &Server{
		cfg:       cfg,
		pipeline:  pipeline,
		auth:      authenticator,
		collector: collector,
		agents:    agents,
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.router(),
		ReadTimeout:  time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
	}

	return s
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware(s.cfg.CORSAllowedOrigins))

	// Public endpoints.
	r.Get("/api/v1/health", s.handleHealth)
	if s.collector != nil {
		r.Method(http.MethodGet, "/metrics", s.collector.Handler())
	}

	// Authenticated API.
	r.Group(func(r chi.Router) {
		r.Use(s.auth.Middleware)

		r.Post("/api/v1/chat", s.handleChat)
		r.Post("/api/v1/escalate", s.handleEscalate)
		r.Get("/api/v1/conversation/{sessionID}/history", s.handleHistory)

		r.With(auth.RequireAdmin).Get("/api/v1/metrics", s.handleMetrics)
		if s.agents != nil {
			r.With(auth.RequireAdmin).Post("/api/v1/webhooks/agents/{agentID}/status", s.handleAgentStatus)
			r.With(auth.RequireAdmin).Post("/api/v1/webhooks/agents/{agentID}/release", s.handleAgentRelease)
		}
	})

	return r
}

// Start serves until ctx is canceled, then drains connections within the
// configured grace period.
func (s *Server) Start(ctx context.Context) error {
	errChan := make(chan error, 1)

	go func() {
		slog.Info("HTTP server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(s.cfg.ShutdownGrace)*time.Second)
	defer cancel()

	slog.Info("Shutting down HTTP server")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}

// refreshBusyGauge re-reads the busy-agent count after a pool mutation.
// Best effort; the gauge heals on the next webhook or reconcile pass.
func (s *Server) refreshBusyGauge(ctx context.Context) {
	if s.collector == nil || s.agents == nil {
		return
	}
	n, err := s.agents.BusyCount(ctx)
	if err != nil {
		slog.Warn("Failed to refresh busy agent gauge", "error", err)
		return
	}
	s.collector.SetBusyAgents(n)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
