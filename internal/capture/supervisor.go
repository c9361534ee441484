// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package capture

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/tvscribe/internal/channels"
	"github.com/ManuGH/tvscribe/internal/clock"
	xglog "github.com/ManuGH/tvscribe/internal/log"
	"github.com/ManuGH/tvscribe/internal/metrics"
	"github.com/ManuGH/tvscribe/internal/status"
)

// DefaultStopTimeout bounds how long StopAll waits for workers.
const DefaultStopTimeout = 5 * time.Second

var (
	// ErrNoChannels is returned by StartAll when no channel could be started.
	ErrNoChannels = errors.New("no capturable channels configured")
	// ErrAlreadyRunning is returned by StartAll on a running supervisor.
	ErrAlreadyRunning = errors.New("capture supervisor already running")
	// ErrUnknownChannel is returned for operations on channels without a worker.
	ErrUnknownChannel = errors.New("no capture worker for channel")
)

// SupervisorStatus receives supervisor level state.
type SupervisorStatus interface {
	StatusSink
	SetRunning(bool)
	RemoveChannel(name string)
}

// StartReport lists started channels and the reason each skipped one was skipped.
type StartReport struct {
	Started []string
	Skipped map[string]string
}

// StopReport lists workers that exited in time and those abandoned as possibly hung.
type StopReport struct {
	Stopped []string
	Hung    []string
}

type handle struct {
	worker *Worker
	cancel context.CancelFunc
	done   chan struct{}
}

// Supervisor owns the worker pool, keyed by channel name.
type Supervisor struct {
	opener  Opener
	sink    Sink
	clock   clock.Clock
	status  SupervisorStatus
	backoff time.Duration
	force   *ForceFlag
	logger  zerolog.Logger

	mu      sync.Mutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	workers map[string]*handle
	paused  map[string]bool
}

// SupervisorConfig bundles the collaborators shared by every worker.
type SupervisorConfig struct {
	Opener  Opener
	Sink    Sink
	Clock   clock.Clock
	Status  SupervisorStatus
	Backoff time.Duration
}

func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	return &Supervisor{
		opener:  cfg.Opener,
		sink:    cfg.Sink,
		clock:   cfg.Clock,
		status:  cfg.Status,
		backoff: cfg.Backoff,
		force:   &ForceFlag{},
		logger:  xglog.WithComponent("capture.supervisor"),
		workers: map[string]*handle{},
		paused:  map[string]bool{},
	}
}

// StartAll spawns one worker per enabled channel with a URL. Channels without
// a URL are skipped and reported. The workers live until StopAll, independent of ctx's deadline.
func (s *Supervisor) StartAll(ctx context.Context, set map[string]channels.Channel) (StartReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	report := StartReport{Skipped: map[string]string{}}
	if s.running {
		return report, ErrAlreadyRunning
	}

	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	for _, name := range channels.Names(set) {
		ch := set[name]
		if reason := skipReason(ch); reason != "" {
			report.Skipped[name] = reason
			s.logger.Warn().Str("event", "capture.skip").Str(xglog.FieldChannel, name).Str(xglog.FieldReason, reason).Msg("channel not started")
			continue
		}
		s.spawnLocked(ch)
		report.Started = append(report.Started, name)
	}

	if len(report.Started) == 0 {
		s.cancel()
		s.ctx, s.cancel = nil, nil
		s.logger.Error().Str("event", "capture.idle").Int("skipped", len(report.Skipped)).Msg("no channels to capture, staying idle")
		return report, ErrNoChannels
	}

	s.running = true
	metrics.SetWorkersRunning(len(s.workers))
	if s.status != nil {
		s.status.SetRunning(true)
	}
	s.logger.Info().Str("event", "capture.started").Int("workers", len(report.Started)).Int("skipped", len(report.Skipped)).Msg("capture supervisor started")
	return report, nil
}

func skipReason(ch channels.Channel) string {
	switch {
	case ch.Disabled:
		return "disabled"
	case ch.URL == "":
		return "no stream url"
	}
	if err := channels.ValidateURL(ch.URL); err != nil {
		return err.Error()
	}
	return ""
}

// Caller must hold lock.
func (s *Supervisor) spawnLocked(ch channels.Channel) {
	w := NewWorker(ch, WorkerConfig{
		Opener:  s.opener,
		Sink:    s.sink,
		Force:   s.force,
		Clock:   s.clock,
		Status:  s.status,
		Backoff: s.backoff,
	})
	w.SetPaused(s.paused[ch.Name])
	ctx, cancel := context.WithCancel(s.ctx)
	h := &handle{worker: w, cancel: cancel, done: make(chan struct{})}
	s.workers[ch.Name] = h
	go func() {
		defer close(h.done)
		w.Run(ctx)
	}()
}

// StopAll cancels every worker and waits at most timeout for them to exit.
// Workers still running afterwards are reported as hung and abandoned.
// Calling StopAll on a stopped supervisor is a no-op.
func (s *Supervisor) StopAll(timeout time.Duration) StopReport {
	if timeout <= 0 {
		timeout = DefaultStopTimeout
	}
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return StopReport{}
	}
	s.running = false
	workers := s.workers
	s.workers = map[string]*handle{}
	s.cancel()
	s.mu.Unlock()

	report := waitAll(workers, timeout)
	for _, name := range report.Hung {
		s.logger.Warn().Str("event", "capture.hung").Str(xglog.FieldChannel, name).Dur("timeout", timeout).Msg("worker did not exit in time, possibly hung")
	}
	metrics.SetWorkersRunning(0)
	if s.status != nil {
		s.status.SetRunning(false)
	}
	s.logger.Info().Str("event", "capture.stopped").Int("stopped", len(report.Stopped)).Int("hung", len(report.Hung)).Msg("capture supervisor stopped")
	return report
}

// waitAll waits on every handle against one shared deadline.
func waitAll(workers map[string]*handle, timeout time.Duration) StopReport {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	var report StopReport
	expired := false
	for _, name := range sortedKeys(workers) {
		h := workers[name]
		if expired {
			select {
			case <-h.done:
				report.Stopped = append(report.Stopped, name)
			default:
				report.Hung = append(report.Hung, name)
			}
			continue
		}
		select {
		case <-h.done:
			report.Stopped = append(report.Stopped, name)
		case <-deadline.C:
			expired = true
			report.Hung = append(report.Hung, name)
		}
	}
	return report
}

func sortedKeys(m map[string]*handle) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Running reports whether workers are active.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// ForceCaptureAll makes every worker take one snapshot at its next cycle.
func (s *Supervisor) ForceCaptureAll() {
	s.force.Set()
	s.logger.Info().Str("event", "capture.force").Msg("forced capture requested")
}

// ClearForceCapture withdraws a pending forced capture.
func (s *Supervisor) ClearForceCapture() {
	s.force.Clear()
}

// ForceActive reports whether the forced-capture signal is raised.
func (s *Supervisor) ForceActive() bool { return s.force.Active() }

// SetPaused pauses or resumes one channel. The choice survives restarts of the pool.
func (s *Supervisor) SetPaused(name string, paused bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.workers[name]
	if !ok && s.running {
		return fmt.Errorf("%w: %s", ErrUnknownChannel, name)
	}
	s.paused[name] = paused
	if ok {
		h.worker.SetPaused(paused)
	}
	return nil
}

// Statuses returns a snapshot per running worker.
func (s *Supervisor) Statuses() []status.Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]status.Channel, 0, len(s.workers))
	for _, name := range sortedKeys(s.workers) {
		out = append(out, s.workers[name].worker.Status())
	}
	return out
}

// Reconcile applies a reloaded channel set to a running pool: removed or
// disabled channels are stopped, new ones started and changed ones restarted.
// Retired workers are awaited without holding the pool lock, against one
// shared deadline, so a concurrent StopAll keeps its bound.
func (s *Supervisor) Reconcile(set map[string]channels.Channel, timeout time.Duration) {
	if timeout <= 0 {
		timeout = DefaultStopTimeout
	}
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	retired := map[string]*handle{}
	for name, h := range s.workers {
		ch, ok := set[name]
		if ok && skipReason(ch) == "" && reflect.DeepEqual(ch, h.worker.Channel()) {
			continue
		}
		h.cancel()
		retired[name] = h
		delete(s.workers, name)
	}
	var started, restart []string
	for _, name := range channels.Names(set) {
		if _, ok := s.workers[name]; ok || skipReason(set[name]) != "" {
			continue
		}
		if _, ok := retired[name]; ok {
			// A restarted channel must not hold two stream handles.
			restart = append(restart, name)
			continue
		}
		s.spawnLocked(set[name])
		started = append(started, name)
	}
	s.mu.Unlock()

	report := waitAll(retired, timeout)
	for _, name := range report.Hung {
		s.logger.Warn().Str("event", "capture.hung").Str(xglog.FieldChannel, name).Dur("timeout", timeout).Msg("retired worker did not exit in time")
	}
	for name := range retired {
		if _, ok := set[name]; !ok && s.status != nil {
			s.status.RemoveChannel(name)
		}
	}

	s.mu.Lock()
	if s.running {
		for _, name := range restart {
			if _, ok := s.workers[name]; ok {
				continue
			}
			s.spawnLocked(set[name])
			started = append(started, name)
		}
		metrics.SetWorkersRunning(len(s.workers))
	}
	s.mu.Unlock()

	if len(started) > 0 || len(retired) > 0 {
		s.logger.Info().
			Str("event", "capture.reconciled").
			Strs("started", started).
			Int("retired", len(retired)).
			Int("hung", len(report.Hung)).
			Msg("capture pool reconciled")
	}
}
