// Package http serves the operational endpoints of the fintrack workers:
// liveness, readiness and Prometheus metrics.
package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"fintrack/internal/middleware/security"
	"fintrack/internal/middleware/trace"
)

// ReadinessCheck probes one dependency. Probe returns nil when healthy.
type ReadinessCheck struct {
	Name  string
	Probe func(context.Context) error
}

type Server struct {
	http.Server
	checks    []ReadinessCheck
	startedAt time.Time
}

// NewServer builds the ops server. A nil registry disables /metrics.
func NewServer(addr string, registry *prometheus.Registry, checks ...ReadinessCheck) *Server {
	s := &Server{
		Server: http.Server{
			Addr:              addr,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		checks:    checks,
		startedAt: time.Now(),
	}
	s.Handler = s.routes(registry)
	return s
}

func (s *Server) routes(registry *prometheus.Registry) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(trace.NewMiddleware().Middleware)
	r.Use(security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	if registry != nil {
		r.Handle("/metrics", metricsHandler(registry))
	}
	return r
}

// Start serves in the background. Failures other than a normal shutdown
// are logged.
func (s *Server) Start() {
	go func() {
		slog.Info("Ops server listening", "addr", s.Addr)
		if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Ops server failed", "error", err, "addr", s.Addr)
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	slog.InfoContext(ctx, "Shutting down ops server")
	return s.Server.Shutdown(ctx)
}
