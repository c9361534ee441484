// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package api is the control surface for the UI layer: capture supervisor
// start/stop, forced capture, pause/resume, recording jobs and groups, the
// channel settings round trip and a status stream.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/ManuGH/tvscribe/internal/api/middleware"
	"github.com/ManuGH/tvscribe/internal/capture"
	"github.com/ManuGH/tvscribe/internal/channels"
	xglog "github.com/ManuGH/tvscribe/internal/log"
	"github.com/ManuGH/tvscribe/internal/recording"
	"github.com/ManuGH/tvscribe/internal/status"
)

// Supervisor is the capture pool as seen by the API.
type Supervisor interface {
	StartAll(ctx context.Context, set map[string]channels.Channel) (capture.StartReport, error)
	StopAll(timeout time.Duration) capture.StopReport
	Running() bool
	ForceCaptureAll()
	ClearForceCapture()
	ForceActive() bool
	SetPaused(name string, paused bool) error
}

// Recorder starts and cancels recording jobs.
type Recorder interface {
	StartJob(ch channels.Channel, d time.Duration, trigger string) (*recording.Job, error)
	CancelJob(id string) error
	CancelAll(timeout time.Duration) (cancelled, hung []string)
	Get(id string) (*recording.Job, bool)
	StartGroup(group string, chans []channels.Channel, d time.Duration) ([]*recording.Job, error)
	StopGroup(group string) int
}

// Registry is the channel configuration.
type Registry interface {
	Channels() map[string]channels.Channel
	Get(name string) (channels.Channel, bool)
	Put(previous string, ch channels.Channel) error
	Delete(name string) error
}

// StatusSource serves snapshots and pushes.
type StatusSource interface {
	Snapshot() status.Snapshot
	Subscribe(buffer int) (<-chan status.Event, func())
}

// Deps bundles the collaborators of a Server.
type Deps struct {
	Supervisor  Supervisor
	Recorder    Recorder
	Registry    Registry
	Status      StatusSource
	StopTimeout time.Duration
	// Health serves /healthz and /readyz when set.
	Health HealthProbe
}

// HealthProbe serves liveness and readiness.
type HealthProbe interface {
	ServeHealth(w http.ResponseWriter, r *http.Request)
	ServeReady(w http.ResponseWriter, r *http.Request)
}

// Config controls the HTTP stack.
type Config struct {
	RateLimitPerMin int
	TracingService  string
}

// Server serves the control API.
type Server struct {
	deps   Deps
	cfg    Config
	logger zerolog.Logger
	// base bounds long-lived handlers such as the status stream.
	base   context.Context
	cancel context.CancelFunc
}

func New(cfg Config, deps Deps) *Server {
	if deps.StopTimeout <= 0 {
		deps.StopTimeout = capture.DefaultStopTimeout
	}
	base, cancel := context.WithCancel(context.Background())
	return &Server{deps: deps, cfg: cfg, logger: xglog.WithComponent("api"), base: base, cancel: cancel}
}

// Close ends open status streams.
func (s *Server) Close() { s.cancel() }

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := middleware.NewRouter(middleware.StackConfig{
		EnableMetrics:  true,
		EnableLogging:  true,
		TracingService: s.cfg.TracingService,
	})
	if s.deps.Health != nil {
		r.Get("/healthz", s.deps.Health.ServeHealth)
		r.Get("/readyz", s.deps.Health.ServeReady)
	} else {
		r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/status/ws", s.handleStatusStream)

		r.Group(func(r chi.Router) {
			if s.cfg.RateLimitPerMin > 0 {
				r.Use(middleware.ControlRateLimit(s.cfg.RateLimitPerMin))
			}
			r.Post("/capture/start", s.handleCaptureStart)
			r.Post("/capture/stop", s.handleCaptureStop)
			r.Post("/capture/force", s.handleForce)
			r.Delete("/capture/force", s.handleClearForce)
			r.Post("/channels/{name}/pause", s.handlePause(true))
			r.Post("/channels/{name}/resume", s.handlePause(false))

			r.Get("/channels", s.handleListChannels)
			r.Get("/channels/{name}", s.handleGetChannel)
			r.Put("/channels/{name}", s.handlePutChannel)
			r.Delete("/channels/{name}", s.handleDeleteChannel)

			r.Post("/recordings", s.handleStartRecording)
			r.Get("/recordings/{id}", s.handleGetRecording)
			r.Delete("/recordings/{id}", s.handleCancelRecording)
			r.Post("/groups/{group}", s.handleStartGroup)
			r.Delete("/groups/{group}", s.handleStopGroup)
		})
	})
	return r
}
