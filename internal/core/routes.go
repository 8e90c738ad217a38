package core

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"turfwatch/internal/types"
)

// defaultRequestTimeout applies when the config leaves RequestTimeout
// unset. Production sets it to the Lambda timeout minus one second.
const defaultRequestTimeout = 29 * time.Second

// defaultRedactedHeaders are masked in request logs so API keys never land
// in CloudWatch.
var defaultRedactedHeaders = []string{
	"Authorization",
	"Cookie",
}

// MountRoutes installs the global middleware chain, the /v1 group, and the
// top-level health and OpenAPI endpoints.
func (s *Server) MountRoutes() {
	s.registerGlobalMiddleware()

	s.router.Route("/v1", s.mountV1)

	s.router.Get("/health", s.HandleHealth)
	s.router.Get("/openapi.json", s.ServeOpenAPISpec)
}

// registerGlobalMiddleware applies middleware in dependency order. Recoverer
// wraps everything; the timeout and request ID must precede logging so the
// logger sees both; auth runs last so every earlier layer also covers
// unauthenticated traffic.
func (s *Server) registerGlobalMiddleware() {
	s.router.Use(s.Recoverer)
	s.router.Use(ContextTimeoutMiddleware(s.requestTimeout()))
	s.router.Use(RequestIDMiddleware)
	s.router.Use(s.SecurityHeadersMiddleware)
	s.router.Use(RequestLogger(s.Logger, defaultRedactedHeaders))
	s.router.Use(NewCORSMiddleware(s.corsAllowedOrigins()))
	s.router.Use(s.MetricsMiddleware)
	s.router.Use(s.AuthMiddleware)
}

// mountV1 runs the registrars collected by the entry point. Handlers live
// in their own packages and register themselves here, which keeps core from
// importing them.
func (s *Server) mountV1(r chi.Router) {
	for _, registrar := range s.V1RouteRegistrars {
		registrar(r)
	}
}

func (s *Server) requestTimeout() time.Duration {
	if s.Config != nil && s.Config.Server.RequestTimeout > 0 {
		return s.Config.Server.RequestTimeout
	}
	return defaultRequestTimeout
}

func (s *Server) corsAllowedOrigins() []string {
	if s.Config != nil && len(s.Config.Security.CorsAllowedOrigins) > 0 {
		return s.Config.Security.CorsAllowedOrigins
	}
	return []string{"*"}
}

// ContextTimeoutMiddleware puts a deadline on every request context. The
// duration sits just under the Lambda hard timeout so handlers see a
// cancelled context and can answer cleanly instead of being killed.
func ContextTimeoutMiddleware(duration time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), duration)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestIDMiddleware reuses an incoming X-Request-Id or generates one, puts
// it in the context for logs and outbound calls, and echoes it back in the
// response header so clients can quote it when reporting problems.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			requestID = newRequestID()
		}

		ctx := types.WithRequestID(r.Context(), requestID)
		w.Header().Set("X-Request-Id", requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// newRequestID returns 16 random bytes hex encoded. crypto/rand.Read cannot
// fail as of Go 1.24.
func newRequestID() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// ServeOpenAPISpec returns a minimal OpenAPI 3.0 document. The version
// field carries the build version stamped at compile time.
func (s *Server) ServeOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	version := "dev"
	if s.Config != nil && s.Config.Build.Version != "" {
		version = s.Config.Build.Version
	}
	JSON(w, r, http.StatusOK, map[string]any{
		"openapi": "3.0.0",
		"info": map[string]string{
			"title":       "TurfWatch API",
			"description": "Lawn telemetry ingestion, rules evaluation, and care recommendations.",
			"version":     version,
		},
	})
}
