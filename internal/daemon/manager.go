// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ShutdownHook releases one component. Hooks run in reverse registration order.
type ShutdownHook func(ctx context.Context) error

// Manager serves the HTTP endpoints and tears the daemon down.
type Manager interface {
	// Start serves until ctx ends or an endpoint fails, then shuts down.
	Start(ctx context.Context) error
	// Shutdown stops the endpoints and runs the hooks. Only the first call acts.
	Shutdown(ctx context.Context) error
	RegisterShutdownHook(name string, hook ShutdownHook)
}

// endpoint is one HTTP listener owned by the manager.
type endpoint struct {
	name string
	srv  *http.Server
}

type namedHook struct {
	name string
	hook ShutdownHook
}

type manager struct {
	cfg    ServerConfig
	deps   Deps
	logger zerolog.Logger

	mu        sync.Mutex
	state     managerState
	endpoints []endpoint
	hooks     []namedHook
}

type managerState int

const (
	stateIdle managerState = iota
	stateServing
	stateStopped
)

// NewManager validates deps and returns an idle manager.
func NewManager(cfg ServerConfig, deps Deps) (Manager, error) {
	if err := deps.Validate(); err != nil {
		return nil, fmt.Errorf("invalid dependencies: %w", err)
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	return &manager{
		cfg:    cfg,
		deps:   deps,
		logger: deps.Logger.With().Str("component", "manager").Logger(),
	}, nil
}

func (m *manager) buildEndpoints() []endpoint {
	eps := []endpoint{{
		name: "api",
		srv: &http.Server{
			Addr:              m.cfg.ListenAddr,
			Handler:           m.deps.APIHandler,
			ReadTimeout:       m.cfg.ReadTimeout,
			ReadHeaderTimeout: m.cfg.ReadTimeout / 2,
			WriteTimeout:      m.cfg.WriteTimeout,
			IdleTimeout:       m.cfg.IdleTimeout,
			MaxHeaderBytes:    m.cfg.MaxHeaderBytes,
		},
	}}
	if m.deps.MetricsHandler != nil && m.deps.MetricsAddr != "" {
		eps = append(eps, endpoint{
			name: "metrics",
			srv: &http.Server{
				Addr:              m.deps.MetricsAddr,
				Handler:           m.deps.MetricsHandler,
				ReadHeaderTimeout: 5 * time.Second,
			},
		})
	}
	return eps
}

func (m *manager) Start(ctx context.Context) error {
	if ctx == nil {
		return errors.New("start context is nil")
	}

	m.mu.Lock()
	if m.state != stateIdle {
		m.mu.Unlock()
		return errors.New("manager already started")
	}
	m.state = stateServing
	m.endpoints = m.buildEndpoints()
	eps := m.endpoints
	m.mu.Unlock()

	failed := make(chan error, len(eps))
	for _, ep := range eps {
		go m.serve(ep, failed)
	}

	var serveErr error
	select {
	case serveErr = <-failed:
		m.logger.Error().Err(serveErr).Str("event", "daemon.endpoint_failed").Msg("endpoint failed, shutting down")
	case <-ctx.Done():
		m.logger.Info().Str("event", "daemon.stop_requested").Msg("stop requested")
	}

	// Detached from ctx so teardown completes after a signal.
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.ShutdownTimeout)
	defer cancel()
	stopErr := m.Shutdown(stopCtx)
	if serveErr != nil {
		return errors.Join(serveErr, stopErr)
	}
	return stopErr
}

func (m *manager) serve(ep endpoint, failed chan<- error) {
	m.logger.Info().Str("event", "daemon.listen").Str("endpoint", ep.name).Str("addr", ep.srv.Addr).Msg("endpoint listening")
	if err := ep.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		failed <- fmt.Errorf("%s endpoint: %w", ep.name, err)
	}
}

func (m *manager) Shutdown(ctx context.Context) error {
	if ctx == nil {
		return errors.New("shutdown context is nil")
	}

	m.mu.Lock()
	switch m.state {
	case stateIdle:
		m.mu.Unlock()
		return ErrManagerNotStarted
	case stateStopped:
		m.mu.Unlock()
		return nil
	}
	m.state = stateStopped
	eps := m.endpoints
	hooks := append([]namedHook(nil), m.hooks...)
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.ShutdownTimeout)
	defer cancel()

	var errs []error
	for _, ep := range eps {
		if err := ep.srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s endpoint: %w", ep.name, err))
		}
	}
	for i := len(hooks) - 1; i >= 0; i-- {
		h := hooks[i]
		began := time.Now()
		err := h.hook(ctx)
		ev := m.logger.Debug()
		if err != nil {
			ev = m.logger.Error().Err(err)
			errs = append(errs, fmt.Errorf("hook %s: %w", h.name, err))
		}
		ev.Str("event", "daemon.hook").Str("hook", h.name).Dur("took", time.Since(began)).Msg("shutdown hook ran")
	}

	if err := errors.Join(errs...); err != nil {
		m.logger.Error().Int("errors", len(errs)).Str("event", "daemon.stopped").Msg("daemon stopped with errors")
		return fmt.Errorf("shutdown: %w", err)
	}
	m.logger.Info().Str("event", "daemon.stopped").Msg("daemon stopped")
	return nil
}

func (m *manager) RegisterShutdownHook(name string, hook ShutdownHook) {
	m.mu.Lock()
	m.hooks = append(m.hooks, namedHook{name: name, hook: hook})
	m.mu.Unlock()
}
