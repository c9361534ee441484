// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package recognition

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/tvscribe/internal/capture"
	xglog "github.com/ManuGH/tvscribe/internal/log"
	"github.com/ManuGH/tvscribe/internal/metrics"
)

// Forwarder hands accepted artifacts to distribution.
type Forwarder interface {
	Forward(ctx context.Context, paths []string, caption string)
}

// Intake receives captured frames, stores them in the intake directory and
// runs them through the pipeline on a fixed pool of workers.
type Intake struct {
	dir       string
	pipeline  *Pipeline
	disposer  *Disposer
	forwarder Forwarder
	workers   int
	queue     chan capture.Frame
	logger    zerolog.Logger
}

var _ capture.Sink = (*Intake)(nil)

// NewIntake creates an intake with a queue of queueSize frames.
func NewIntake(dir string, p *Pipeline, d *Disposer, f Forwarder, workers, queueSize int) *Intake {
	if workers <= 0 {
		workers = 2
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Intake{
		dir:       dir,
		pipeline:  p,
		disposer:  d,
		forwarder: f,
		workers:   workers,
		queue:     make(chan capture.Frame, queueSize),
		logger:    xglog.WithComponent("recognition.intake"),
	}
}

// Submit enqueues f without blocking. A full queue drops the frame.
func (in *Intake) Submit(_ context.Context, f capture.Frame) {
	select {
	case in.queue <- f:
	default:
		metrics.IncIntakeDropped(f.Channel)
		in.logger.Warn().Str("event", "intake.dropped").Str(xglog.FieldChannel, f.Channel).Msg("recognition queue full, frame dropped")
	}
}

// Run processes frames until ctx is cancelled. Frames still queued are discarded.
func (in *Intake) Run(ctx context.Context) error {
	if err := os.MkdirAll(in.dir, 0o755); err != nil {
		return fmt.Errorf("create intake dir: %w", err)
	}
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < in.workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case f := <-in.queue:
					in.handle(ctx, f)
				}
			}
		})
	}
	return g.Wait()
}

func (in *Intake) handle(ctx context.Context, f capture.Frame) {
	path, err := in.store(f)
	if err != nil {
		in.logger.Error().Err(err).Str("event", "intake.store_failed").Str(xglog.FieldChannel, f.Channel).Msg("frame not stored")
		return
	}
	out := in.pipeline.Process(ctx, Artifact{Path: path, Channel: f.Channel, Source: "frame", At: f.At, Image: f.Image})
	ready, err := in.disposer.Dispose(out, f.Channel, path)
	if err != nil {
		in.logger.Error().Err(err).Str("event", "intake.dispose_failed").Str(xglog.FieldArtifact, path).Msg("artifact disposal failed")
		return
	}
	if out.Kind == Accepted && in.forwarder != nil {
		in.forwarder.Forward(ctx, []string{ready}, out.Text)
	}
}

func (in *Intake) store(f capture.Frame) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, f.Image); err != nil {
		return "", fmt.Errorf("encode frame: %w", err)
	}
	name := fmt.Sprintf("%s_%s_%s.png", safeName(f.Channel), f.At.Format("20060102-150405"), uuid.NewString()[:8])
	path := filepath.Join(in.dir, name)
	if err := renameio.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return "", err
	}
	return path, nil
}
