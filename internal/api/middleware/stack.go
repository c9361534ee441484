// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package middleware

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// StackConfig configures the HTTP ingress middleware stack.
type StackConfig struct {
	EnableMetrics bool
	// TracingService names the otel service; empty disables tracing.
	TracingService string
	EnableLogging  bool
	// RateLimitPerMin of zero disables rate limiting.
	RateLimitPerMin int
}

// NewRouter constructs a chi router with the middleware stack applied.
func NewRouter(cfg StackConfig) *chi.Mux {
	r := chi.NewRouter()
	ApplyStack(r, cfg)
	return r
}

// ApplyStack applies the middleware stack to r, outermost first.
func ApplyStack(r chi.Router, cfg StackConfig) {
	r.Use(chimw.Recoverer)
	r.Use(chimw.RequestID)
	r.Use(SecurityHeaders())
	if cfg.EnableMetrics {
		r.Use(Metrics())
	}
	if cfg.TracingService != "" {
		r.Use(OTelHTTP(cfg.TracingService))
	}
	if cfg.EnableLogging {
		r.Use(AccessLog())
	}
	if cfg.RateLimitPerMin > 0 {
		r.Use(ControlRateLimit(cfg.RateLimitPerMin))
	}
}
