// Package core is the HTTP chassis for the TurfWatch API. It owns the chi
// router, the global middleware chain, and the cross-cutting concerns every
// handler relies on: request correlation, structured logging, auth, metrics,
// and uniform error rendering. The same router serves net/http locally and
// API Gateway through chiadapter in Lambda.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"turfwatch/internal/config"
	"turfwatch/internal/db"
)

// MetricsCollector records request telemetry. The CloudWatch-backed
// implementation lives in internal/telemetry; tests swap in a recorder.
type MetricsCollector interface {
	RecordRequest(method, endpoint, status string, duration time.Duration)
}

// Server bundles everything the API needs at request time. Fields are
// exported so the entry point and tests can wire their own implementations
// before MountRoutes runs.
type Server struct {
	Config        *config.Config
	Repos         *db.Registry
	Logger        *slog.Logger
	Validator     *Validator
	Metrics       MetricsCollector
	Authenticator Authenticator

	// V1RouteRegistrars attach handler routes under /v1 when MountRoutes
	// runs. The entry point populates this; the indirection keeps core
	// free of handler package imports.
	V1RouteRegistrars []func(chi.Router)

	// HealthProbes are the subsystem checks the /health endpoint runs.
	HealthProbes []HealthProbe

	router *chi.Mux
}

// NewServer wires the non-optional dependencies and prepares the router.
// Routes are not mounted here; the caller runs MountRoutes after wiring
// optional fields, which lets tests register their own routes instead.
func NewServer(cfg *config.Config, repos *db.Registry, logger *slog.Logger) (*Server, error) {
	switch {
	case cfg == nil:
		return nil, errors.New("config must not be nil")
	case repos == nil:
		return nil, errors.New("repository registry must not be nil")
	case logger == nil:
		return nil, errors.New("logger must not be nil")
	}

	return &Server{
		Config:    cfg,
		Repos:     repos,
		Logger:    logger,
		Validator: NewValidator(logger),
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the router for http.ListenAndServe or chiadapter.New.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router exposes the chi mux for route registration in tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Shutdown releases server-held resources, currently the database pool.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.Info("closing server resources")

	if s.Repos != nil {
		if err := s.Repos.Close(); err != nil {
			s.Logger.Error("failed to close repository pool", "error", err)
			return fmt.Errorf("closing repository pool: %w", err)
		}
	}

	s.Logger.Info("server resources closed")
	return nil
}
