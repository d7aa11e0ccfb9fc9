// Package server implements the HTTP transport layer for the CF-X router.
package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	gateway "github.com/cfx-labs/cfx-router/internal"
	"github.com/cfx-labs/cfx-router/internal/concurrency"
	"github.com/cfx-labs/cfx-router/internal/config"
	"github.com/cfx-labs/cfx-router/internal/quota"
	"github.com/cfx-labs/cfx-router/internal/telemetry"
)

// UpstreamClient calls the model multiplexer.
type UpstreamClient interface {
	ChatCompletion(ctx context.Context, body map[string]any) ([]byte, error)
	ChatCompletionStream(ctx context.Context, body map[string]any) (<-chan gateway.StreamChunk, error)
}

// LogEnqueuer accepts request log records without blocking.
type LogEnqueuer interface {
	Enqueue(gateway.RequestLog) bool
}

// ReadyChecker reports whether the system is ready to serve traffic.
type ReadyChecker func(ctx context.Context) error

// Deps holds all dependencies for the HTTP server.
type Deps struct {
	Auth        gateway.Authenticator
	Stages      *config.Stages
	Quota       *quota.Checker
	Slots       *concurrency.Limiter
	Upstream    UpstreamClient
	Logs        LogEnqueuer        // nil = no usage logging
	ReadyCheck  ReadyChecker       // nil = always ready (for tests)
	Metrics     *telemetry.Metrics // nil = no metrics
	CORSOrigins []string           // nil = allow all
}

// New creates an http.Handler with all routes and middleware wired.
func New(deps Deps) http.Handler {
	s := &server{deps: deps}

	r := chi.NewRouter()

	// Global middleware
	r.Use(s.recovery)
	r.Use(s.requestID)
	r.Use(s.logging)
	if deps.Metrics != nil {
		r.Use(metricsMiddleware(deps.Metrics))
	}
	r.Use(corsMiddleware(deps.CORSOrigins))

	// System endpoints (no auth)
	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)

	// Client-facing API (auth required)
	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Post("/v1/chat/completions", s.handleChatCompletions)
	})

	return r
}

// MountMetrics attaches the Prometheus scrape endpoint for the given
// gatherer to a mux alongside the main handler.
func MountMetrics(r chi.Router, g prometheus.Gatherer) {
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
}

// corsMiddleware builds the CORS policy from the configured origins.
func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-CFX-Stage"},
		ExposedHeaders: []string{
			"X-CFX-Request-Id", "X-CFX-Stage", "X-CFX-Model-Used",
			"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset",
		},
		MaxAge: 300,
	})
}

type server struct {
	deps Deps
}
