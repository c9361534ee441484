// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package recording

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/ManuGH/tvscribe/internal/channels"
	"github.com/ManuGH/tvscribe/internal/clock"
	xglog "github.com/ManuGH/tvscribe/internal/log"
	"github.com/ManuGH/tvscribe/internal/metrics"
	"github.com/ManuGH/tvscribe/internal/recognition"
	"github.com/ManuGH/tvscribe/internal/schedule"
	"github.com/ManuGH/tvscribe/internal/status"
	"github.com/ManuGH/tvscribe/internal/telemetry"
	"github.com/ManuGH/tvscribe/internal/transcoder"
)

// ManualTrigger labels jobs started through the control surface.
const ManualTrigger = "manual"

// Transcoder is the external media tool.
type Transcoder interface {
	Record(ctx context.Context, url string, d time.Duration, crop channels.Rect, out string, onProgress func(time.Duration)) (transcoder.RecordResult, error)
	ExtractClip(ctx context.Context, source string, crop channels.Rect, tr transcoder.TimeRange, out string) (string, error)
	ExtractFrames(ctx context.Context, source string, every time.Duration, dir string) ([]string, error)
	ExtractAudio(ctx context.Context, source, out string) (string, error)
}

// Screener recognizes keyword-bearing content in clips and audio.
type Screener interface {
	Screen(ctx context.Context, channel string, frames []string) recognition.Outcome
	Transcribe(ctx context.Context, audioPath string) ([]recognition.Segment, error)
	Keywords() map[string]struct{}
}

// StatusSink receives job and recording-indicator updates.
type StatusSink interface {
	PublishJob(status.Job)
	SetRecording(channel string, recording bool)
}

// Options configures an Orchestrator.
type Options struct {
	Transcoder Transcoder
	Screener   Screener
	Forwarder  recognition.Forwarder
	Status     StatusSink
	Clock      clock.Clock

	RecordingsDir string
	ClipsDir      string
	// CropEligible names the channels whose triggers may run crop screening.
	CropEligible []string
	// SegmentPadding widens keyword windows on both sides.
	SegmentPadding time.Duration
	// FrameSampleEvery is the frame interval used when screening sub-clips.
	FrameSampleEvery time.Duration
	// MaxConcurrent bounds simultaneously recording jobs. Zero means unbounded.
	MaxConcurrent int
}

// Orchestrator launches recording jobs. At most one job per schedule trigger
// key runs at a time; manual jobs are not deduplicated.
type Orchestrator struct {
	opts   Options
	crop   map[string]struct{}
	sem    *semaphore.Weighted
	tracer trace.Tracer
	logger zerolog.Logger

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	closed    bool
	jobs      map[string]*Job
	byTrigger map[string]*Job
	recording map[string]int
}

var _ schedule.Dispatcher = (*Orchestrator)(nil)

func New(opts Options) *Orchestrator {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.FrameSampleEvery <= 0 {
		opts.FrameSampleEvery = 2 * time.Second
	}
	crop := make(map[string]struct{}, len(opts.CropEligible))
	for _, name := range opts.CropEligible {
		crop[name] = struct{}{}
	}
	base, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		opts:      opts,
		crop:      crop,
		tracer:    telemetry.Tracer("tvscribe/recording"),
		logger:    xglog.WithComponent("recording"),
		base:      base,
		cancel:    cancel,
		jobs:      map[string]*Job{},
		byTrigger: map[string]*Job{},
		recording: map[string]int{},
	}
	if opts.MaxConcurrent > 0 {
		o.sem = semaphore.NewWeighted(int64(opts.MaxConcurrent))
	}
	return o
}

// Dispatch starts the job for a due trigger. Crop screening is requested when
// the minute matched both the schedule and lines sets.
func (o *Orchestrator) Dispatch(_ context.Context, t schedule.Trigger) {
	_, err := o.start(Request{
		Channel:  t.Channel,
		Duration: t.Duration,
		Trigger:  t.Key(),
		Screen:   t.Schedule && t.Lines,
	}, true)
	if err != nil {
		evt := o.logger.Warn()
		if errors.Is(err, ErrJobActive) {
			evt = o.logger.Debug()
		}
		evt.Err(err).Str("event", "recording.trigger_skipped").
			Str(xglog.FieldChannel, t.Channel.Name).
			Str(xglog.FieldTrigger, t.Key()).
			Msg("trigger did not start a job")
	}
}

// StartJob starts a manual recording of ch for d. A non-positive d uses the
// channel's resolved duration for the current minute.
func (o *Orchestrator) StartJob(ch channels.Channel, d time.Duration, trigger string) (*Job, error) {
	if trigger == "" {
		trigger = ManualTrigger
	}
	return o.start(Request{Channel: ch, Duration: d, Trigger: trigger}, false)
}

// StartGroup starts one manual job per channel under a shared group name.
// Channels that cannot start are reported in the returned error.
func (o *Orchestrator) StartGroup(group string, chans []channels.Channel, d time.Duration) ([]*Job, error) {
	var (
		jobs []*Job
		errs []error
	)
	for _, ch := range chans {
		j, err := o.start(Request{Channel: ch, Duration: d, Trigger: ManualTrigger, Group: group}, false)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ch.Name, err))
			continue
		}
		jobs = append(jobs, j)
	}
	return jobs, errors.Join(errs...)
}

// StopGroup cancels every active job of group and returns how many it cancelled.
func (o *Orchestrator) StopGroup(group string) int {
	n := 0
	for _, j := range o.Jobs() {
		if j.Group == group && j.requestCancel() {
			n++
		}
	}
	return n
}

// CancelJob cancels a job. It is safe to call concurrently with completion;
// cancelling a finished job is a no-op.
func (o *Orchestrator) CancelJob(id string) error {
	o.mu.Lock()
	j, ok := o.jobs[id]
	o.mu.Unlock()
	if !ok {
		return ErrJobNotFound
	}
	if j.requestCancel() {
		o.logger.Info().Str("event", "recording.cancel").Str(xglog.FieldJobID, id).Str(xglog.FieldChannel, j.Channel.Name).Msg("recording job cancelled")
	}
	return nil
}

// Get returns a live or recently finished job.
func (o *Orchestrator) Get(id string) (*Job, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	j, ok := o.jobs[id]
	return j, ok
}

// Jobs returns the known jobs ordered by start time.
func (o *Orchestrator) Jobs() []*Job {
	o.mu.Lock()
	out := make([]*Job, 0, len(o.jobs))
	for _, j := range o.jobs {
		out = append(out, j)
	}
	o.mu.Unlock()
	sort.Slice(out, func(i, k int) bool { return out[i].Start.Before(out[k].Start) })
	return out
}

// CancelAll cancels every active job and waits up to timeout, shared by all
// of them, for the jobs to finish. Unlike Shutdown it leaves the orchestrator
// open, so later triggers still start jobs.
func (o *Orchestrator) CancelAll(timeout time.Duration) (cancelled, hung []string) {
	var jobs []*Job
	for _, j := range o.Jobs() {
		if j.requestCancel() {
			jobs = append(jobs, j)
			cancelled = append(cancelled, j.ID)
		}
	}
	if len(jobs) == 0 {
		return nil, nil
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	expired := false
	for _, j := range jobs {
		if !expired {
			select {
			case <-j.done:
				continue
			case <-deadline.C:
				expired = true
			}
		}
		select {
		case <-j.done:
		default:
			hung = append(hung, j.ID)
		}
	}
	o.logger.Info().Str("event", "recording.cancel_all").Int("cancelled", len(cancelled)).Strs("hung", hung).Msg("active recording jobs cancelled")
	return cancelled, hung
}

// Shutdown cancels all jobs and waits up to timeout for them to finish. It
// returns the ids of jobs that were still running. Later calls are no-ops.
func (o *Orchestrator) Shutdown(timeout time.Duration) []string {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	live := make([]*Job, 0, len(o.jobs))
	for _, j := range o.jobs {
		live = append(live, j)
	}
	o.mu.Unlock()

	for _, j := range live {
		j.requestCancel()
	}
	o.cancel()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
	}

	var hung []string
	for _, j := range live {
		select {
		case <-j.done:
		default:
			hung = append(hung, j.ID)
		}
	}
	sort.Strings(hung)
	o.logger.Warn().Str("event", "recording.shutdown_timeout").Strs("jobs", hung).Msg("recording jobs possibly hung, abandoning")
	return hung
}

func (o *Orchestrator) start(req Request, dedupe bool) (*Job, error) {
	if req.Channel.URL == "" {
		return nil, ErrNoURL
	}
	if req.Duration <= 0 {
		req.Duration = schedule.ResolveDurationValue(req.Channel, channels.Clock(o.opts.Clock.Now()))
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, ErrShutdown
	}
	if dedupe {
		if prev, ok := o.byTrigger[req.Trigger]; ok && !prev.Status().Terminal() {
			o.mu.Unlock()
			return nil, ErrJobActive
		}
	}
	now := o.opts.Clock.Now()
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(o.base)
	j := &Job{
		ID:       id,
		Channel:  req.Channel.Clone(),
		Trigger:  req.Trigger,
		Group:    req.Group,
		Start:    now,
		Duration: req.Duration,
		Output:   filepath.Join(o.opts.RecordingsDir, fmt.Sprintf("%s_%s_%s.mp4", safeName(req.Channel.Name), now.Format("20060102-150405"), id[:8])),
		screen:   req.Screen,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	o.jobs[id] = j
	if dedupe {
		o.byTrigger[req.Trigger] = j
	}
	o.wg.Add(1)
	o.mu.Unlock()

	o.publish(j)
	o.logger.Info().Str("event", "recording.start").
		Str(xglog.FieldJobID, id).
		Str(xglog.FieldChannel, j.Channel.Name).
		Str(xglog.FieldTrigger, j.Trigger).
		Dur("duration", j.Duration).
		Msg("recording job created")

	go o.run(ctx, j)
	return j, nil
}

func (o *Orchestrator) run(ctx context.Context, j *Job) {
	ctx = xglog.ContextWithJobID(xglog.ContextWithChannel(ctx, j.Channel.Name), j.ID)
	logger := xglog.WithContext(ctx, xglog.WithComponent("recording"))
	final := Failed
	var finalErr error
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Str("event", "recording.panic").Msg("recording job panicked")
			final, finalErr = Failed, fmt.Errorf("panic: %v", r)
		}
		j.cancel()
		s := j.finish(final, finalErr)
		metrics.IncJob(s.String())
		o.publish(j)
		o.release(j)
		close(j.done)
		o.wg.Done()
		logger.Info().Str("event", "recording.finish").Str(xglog.FieldOutcome, s.String()).Err(finalErr).Msg("recording job finished")
	}()

	ctx, span := o.tracer.Start(ctx, "recording.job",
		trace.WithAttributes(telemetry.JobAttributes(j.ID, j.Channel.Name, j.Trigger)...))
	defer span.End()

	if o.sem != nil {
		if err := o.sem.Acquire(ctx, 1); err != nil {
			final, finalErr = Cancelled, nil
			return
		}
		defer o.sem.Release(1)
	}

	res, err := o.record(ctx, j, logger)
	if err != nil {
		telemetry.RecordError(span, err)
		if j.isCancelled() || ctx.Err() != nil {
			final = Cancelled
			if res.Path != "" {
				_ = os.Remove(res.Path)
			}
			return
		}
		final, finalErr = Failed, err
		logger.Error().Err(err).Str("event", "recording.failed").Msg("recording failed")
		_ = recognition.Remove(res.Path)
		return
	}
	if res.Truncated {
		logger.Warn().Str("event", "recording.truncated").Str(xglog.FieldPath, res.Path).Msg("stream ended early, processing truncated recording")
	}

	o.postProcess(ctx, j, res.Path, logger)
	// The full recording does not outlive its post-processing.
	if err := recognition.Remove(res.Path); err != nil {
		logger.Warn().Err(err).Str("event", "recording.cleanup_failed").Str(xglog.FieldPath, res.Path).Msg("could not remove recording")
	}
	final = Completed
}

func (o *Orchestrator) record(ctx context.Context, j *Job, logger zerolog.Logger) (transcoder.RecordResult, error) {
	if err := os.MkdirAll(o.opts.RecordingsDir, 0o755); err != nil {
		return transcoder.RecordResult{}, fmt.Errorf("create recordings dir: %w", err)
	}

	j.setStatus(Recording)
	o.setRecording(j.Channel.Name, true)
	metrics.AddActiveJobs(1)
	defer func() {
		metrics.AddActiveJobs(-1)
		o.setRecording(j.Channel.Name, false)
	}()
	o.publish(j)

	stop := make(chan struct{})
	progressDone := make(chan struct{})
	go func() {
		defer close(progressDone)
		o.pushProgress(j, stop)
	}()
	defer func() {
		close(stop)
		<-progressDone
	}()

	logger.Debug().Str("event", "recording.open").Str(xglog.FieldPath, j.Output).Msg("recording stream")
	return o.opts.Transcoder.Record(ctx, j.Channel.URL, j.Duration, channels.Rect{}, j.Output, func(recorded time.Duration) {
		if j.Duration > 0 {
			j.setProgress(int(recorded * 100 / j.Duration))
		}
	})
}

// pushProgress publishes the job once per second while its progress changes.
func (o *Orchestrator) pushProgress(j *Job, stop <-chan struct{}) {
	t := o.opts.Clock.NewTimer(time.Second)
	defer t.Stop()
	last := -1
	for {
		select {
		case <-stop:
			return
		case <-t.C():
			if p := j.Progress(); p != last {
				last = p
				o.publish(j)
			}
			t.Reset(time.Second)
		}
	}
}

func (o *Orchestrator) publish(j *Job) {
	if o.opts.Status != nil {
		o.opts.Status.PublishJob(j.snapshot())
	}
}

func (o *Orchestrator) setRecording(channel string, on bool) {
	o.mu.Lock()
	if on {
		o.recording[channel]++
	} else if o.recording[channel] > 0 {
		o.recording[channel]--
	}
	active := o.recording[channel] > 0
	if !active {
		delete(o.recording, channel)
	}
	o.mu.Unlock()
	if o.opts.Status != nil {
		o.opts.Status.SetRecording(channel, active)
	}
}

// release drops the trigger reservation. Finished jobs stay listed until
// Prune removes them.
func (o *Orchestrator) release(j *Job) {
	o.mu.Lock()
	if o.byTrigger[j.Trigger] == j {
		delete(o.byTrigger, j.Trigger)
	}
	o.mu.Unlock()
}

// Prune forgets finished jobs that started before cutoff.
func (o *Orchestrator) Prune(cutoff time.Time) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for id, j := range o.jobs {
		if j.Start.Before(cutoff) && j.Status().Terminal() {
			delete(o.jobs, id)
			n++
		}
	}
	return n
}

// Recording reports whether channel has a job currently recording.
func (o *Orchestrator) Recording(channel string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.recording[channel] > 0
}

func safeName(s string) string {
	b := []byte(s)
	for i, c := range b {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-':
		default:
			b[i] = '_'
		}
	}
	return string(b)
}
