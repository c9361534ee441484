// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package capture

import (
	"context"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/tvscribe/internal/channels"
	"github.com/ManuGH/tvscribe/internal/clock"
	xglog "github.com/ManuGH/tvscribe/internal/log"
	"github.com/ManuGH/tvscribe/internal/metrics"
	"github.com/ManuGH/tvscribe/internal/status"
)

const (
	// DefaultReconnectBackoff is the wait between a failed read and the next open.
	DefaultReconnectBackoff = 5 * time.Second
	// maxPoll bounds how long a worker sleeps before re-checking its signals.
	maxPoll = time.Second
)

// StatusSink receives session snapshots.
type StatusSink interface {
	PublishChannel(status.Channel)
}

// WorkerConfig bundles a worker's collaborators.
type WorkerConfig struct {
	Opener  Opener
	Sink    Sink
	Force   *ForceFlag
	Clock   clock.Clock
	Status  StatusSink
	Backoff time.Duration
}

// Worker owns the capture session of one channel.
type Worker struct {
	channel channels.Channel
	cfg     WorkerConfig
	logger  zerolog.Logger

	paused atomic.Bool
	wake   chan struct{}

	mu          sync.Mutex
	state       State
	lastCapture time.Time
	failures    int
	lastErr     string
}

// NewWorker creates a worker for ch. The channel snapshot is fixed for the worker's lifetime.
func NewWorker(ch channels.Channel, cfg WorkerConfig) *Worker {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultReconnectBackoff
	}
	return &Worker{
		channel: ch,
		cfg:     cfg,
		logger:  xglog.WithChannel("capture", ch.Name),
		wake:    make(chan struct{}, 1),
		state:   StateConnecting,
	}
}

// Channel returns the snapshot the worker runs with.
func (w *Worker) Channel() channels.Channel { return w.channel }

// SetPaused toggles the user pause. A paused worker releases its stream.
func (w *Worker) SetPaused(p bool) {
	if w.paused.Swap(p) != p {
		select {
		case w.wake <- struct{}{}:
		default:
		}
	}
}

// Paused reports the user pause.
func (w *Worker) Paused() bool { return w.paused.Load() }

// Status returns the current session snapshot.
func (w *Worker) Status() status.Channel {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.statusLocked()
}

func (w *Worker) statusLocked() status.Channel {
	return status.Channel{
		Name:        w.channel.Name,
		State:       w.state.String(),
		Paused:      w.paused.Load(),
		LastCapture: w.lastCapture,
		Failures:    w.failures,
		Error:       w.lastErr,
	}
}

// Run captures until ctx is cancelled. It never returns an error: read and
// open failures become reconnects and panics are treated the same way.
func (w *Worker) Run(ctx context.Context) {
	var stream Stream
	defer func() {
		if stream != nil {
			_ = stream.Close()
		}
		w.setState(StateStopped, "")
	}()

	period := w.channel.CaptureInterval().Period()
	last := w.cfg.Clock.Now()
	var forceSeen uint64

	w.logger.Info().Str("event", "capture.start").Dur("period", period).Msg("capture worker started")
	for ctx.Err() == nil {
		if w.paused.Load() {
			if stream != nil {
				_ = stream.Close()
				stream = nil
			}
			w.setState(StatePaused, "")
			w.sleep(ctx, maxPoll)
			continue
		}

		if stream == nil {
			s, err := w.open(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				w.disconnected(ctx, "open", err)
				continue
			}
			stream = s
			if w.State() == StatePaused {
				w.setState(StateConnecting, "")
			}
		}

		now := w.cfg.Clock.Now()
		due := !now.Before(last.Add(period))
		forced := w.cfg.Force.consume(&forceSeen)
		if !due && !forced {
			wait := last.Add(period).Sub(now)
			if wait > maxPoll {
				wait = maxPoll
			}
			w.sleep(ctx, wait)
			continue
		}

		img, err := w.read(ctx, stream)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			_ = stream.Close()
			stream = nil
			w.disconnected(ctx, "read", err)
			continue
		}

		at := w.cfg.Clock.Now()
		last = at
		w.mu.Lock()
		w.state = StateStreaming
		w.lastCapture = at
		w.failures = 0
		w.lastErr = ""
		snap := w.statusLocked()
		w.mu.Unlock()
		w.publish(snap)

		outcome := "ok"
		if forced {
			outcome = "forced"
		}
		metrics.IncCapture(w.channel.Name, outcome)
		w.cfg.Sink.Submit(ctx, Frame{
			Channel: w.channel.Name,
			At:      at,
			Image:   Preprocess(img, w.channel.Crop, w.logger),
			Forced:  forced,
		})
	}
}

func (w *Worker) open(ctx context.Context) (s Stream, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic opening stream: %v", r)
		}
	}()
	return w.cfg.Opener.Open(ctx, w.channel.URL)
}

func (w *Worker) read(ctx context.Context, s Stream) (img image.Image, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic reading frame: %v", r)
		}
	}()
	img, err = s.ReadFrame(ctx)
	if err == nil && img == nil {
		err = ErrStreamClosed
	}
	return img, err
}

// disconnected marks the session as reconnecting and waits out the backoff.
func (w *Worker) disconnected(ctx context.Context, op string, err error) {
	w.mu.Lock()
	w.state = StateReconnecting
	w.failures++
	w.lastErr = err.Error()
	failures := w.failures
	snap := w.statusLocked()
	w.mu.Unlock()
	w.publish(snap)

	metrics.IncReconnect(w.channel.Name)
	if op == "read" {
		metrics.IncCapture(w.channel.Name, "error")
	}
	w.logger.Warn().
		Err(err).
		Str("event", "capture.disconnected").
		Str("op", op).
		Int("failures", failures).
		Dur("backoff", w.cfg.Backoff).
		Msg("stream unavailable, reconnecting")
	w.sleep(ctx, w.cfg.Backoff)
}

// sleep waits for d, a pause toggle or cancellation.
func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	t := w.cfg.Clock.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-w.wake:
	case <-t.C():
	}
}

// State returns the current session state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Worker) setState(s State, errMsg string) {
	w.mu.Lock()
	if w.state == s {
		w.mu.Unlock()
		return
	}
	old := w.state
	w.state = s
	if errMsg != "" {
		w.lastErr = errMsg
	}
	snap := w.statusLocked()
	w.mu.Unlock()

	w.logger.Debug().
		Str("event", "capture.state").
		Str(xglog.FieldOldState, old.String()).
		Str(xglog.FieldNewState, s.String()).
		Msg("session state changed")
	w.publish(snap)
}

func (w *Worker) publish(c status.Channel) {
	if w.cfg.Status != nil {
		w.cfg.Status.PublishChannel(c)
	}
}
