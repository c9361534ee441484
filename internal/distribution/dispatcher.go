// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package distribution

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	xglog "github.com/ManuGH/tvscribe/internal/log"
	"github.com/ManuGH/tvscribe/internal/metrics"
	"github.com/ManuGH/tvscribe/internal/recognition"
)

// FailedDir is the subdirectory of the ready area for artifacts that ran out
// of delivery attempts.
const FailedDir = "failed"

// Dispatcher forwards accepted artifacts to a Distributor. Delivered files are
// deleted; undelivered ones stay in the ready area for the sweeper.
type Dispatcher struct {
	dist        Distributor
	readyDir    string
	maxAttempts int
	logger      zerolog.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
	attempts map[string]int
}

var _ recognition.Forwarder = (*Dispatcher)(nil)

// NewDispatcher returns a dispatcher. maxAttempts bounds sweeper retries per
// artifact; values <= 0 default to 5.
func NewDispatcher(dist Distributor, readyDir string, maxAttempts int) *Dispatcher {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Dispatcher{
		dist:        dist,
		readyDir:    readyDir,
		maxAttempts: maxAttempts,
		logger:      xglog.WithComponent("distribution"),
		inflight:    map[string]struct{}{},
		attempts:    map[string]int{},
	}
}

// Forward delivers paths and deletes them on success.
func (d *Dispatcher) Forward(ctx context.Context, paths []string, caption string) {
	if !d.claim(paths) {
		return
	}
	defer d.release(paths)
	d.deliver(ctx, paths, caption)
}

func (d *Dispatcher) deliver(ctx context.Context, paths []string, caption string) bool {
	ok := d.dist.Deliver(ctx, paths, caption)
	metrics.IncDelivery(d.dist.Name(), ok)
	if !ok {
		d.logger.Warn().Str("event", "distribution.undelivered").Strs("paths", paths).Msg("delivery failed, artifact kept for retry")
		return false
	}
	for _, p := range paths {
		if err := recognition.Remove(p); err != nil {
			d.logger.Warn().Err(err).Str("event", "distribution.cleanup_failed").Str(xglog.FieldArtifact, p).Msg("delivered artifact not removed")
		}
	}
	d.mu.Lock()
	for _, p := range paths {
		delete(d.attempts, p)
	}
	d.mu.Unlock()
	d.logger.Info().Str("event", "distribution.delivered").Strs("paths", paths).Str("backend", d.dist.Name()).Msg("artifact delivered")
	return true
}

// Sweep retries every artifact left in the ready area. Artifacts that exceed
// the attempt budget are moved to the failed subdirectory.
func (d *Dispatcher) Sweep(ctx context.Context) {
	entries, err := os.ReadDir(d.readyDir)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			d.logger.Warn().Err(err).Str("event", "distribution.sweep_failed").Msg("ready area unreadable")
		}
		return
	}
	var pending []string
	for _, e := range entries {
		if e.IsDir() || strings.HasSuffix(e.Name(), recognition.CaptionExt) || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		pending = append(pending, filepath.Join(d.readyDir, e.Name()))
	}
	sort.Strings(pending)

	for _, p := range pending {
		if ctx.Err() != nil {
			return
		}
		if !d.claim([]string{p}) {
			continue
		}
		caption, _ := os.ReadFile(p + recognition.CaptionExt)
		if !d.deliver(ctx, []string{p}, string(caption)) {
			d.failed(p)
		}
		d.release([]string{p})
	}
}

// RunSweeper calls Sweep every interval until ctx is cancelled.
func (d *Dispatcher) RunSweeper(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			d.Sweep(ctx)
		}
	}
}

func (d *Dispatcher) failed(path string) {
	d.mu.Lock()
	d.attempts[path]++
	n := d.attempts[path]
	if n >= d.maxAttempts {
		delete(d.attempts, path)
	}
	d.mu.Unlock()
	if n < d.maxAttempts {
		return
	}

	dir := filepath.Join(d.readyDir, FailedDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		d.logger.Error().Err(err).Str("event", "distribution.park_failed").Msg("failed area unavailable")
		return
	}
	dst := filepath.Join(dir, filepath.Base(path))
	if err := os.Rename(path, dst); err != nil {
		d.logger.Error().Err(err).Str("event", "distribution.park_failed").Str(xglog.FieldArtifact, path).Msg("artifact not parked")
		return
	}
	_ = os.Rename(path+recognition.CaptionExt, dst+recognition.CaptionExt)
	d.logger.Error().Str("event", "distribution.gave_up").Str(xglog.FieldArtifact, dst).Int("attempts", n).Msg("delivery attempts exhausted")
}

// claim marks paths in flight. It fails if any of them already is.
func (d *Dispatcher) claim(paths []string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, p := range paths {
		if _, busy := d.inflight[p]; busy {
			return false
		}
	}
	for _, p := range paths {
		d.inflight[p] = struct{}{}
	}
	return true
}

func (d *Dispatcher) release(paths []string) {
	d.mu.Lock()
	for _, p := range paths {
		delete(d.inflight, p)
	}
	d.mu.Unlock()
}
