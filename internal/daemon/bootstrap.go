// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package daemon wires the capture, recognition, recording and delivery
// components and owns their lifecycle.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/tvscribe/internal/api"
	"github.com/ManuGH/tvscribe/internal/capture"
	"github.com/ManuGH/tvscribe/internal/channels"
	"github.com/ManuGH/tvscribe/internal/clock"
	"github.com/ManuGH/tvscribe/internal/config"
	"github.com/ManuGH/tvscribe/internal/dedup"
	"github.com/ManuGH/tvscribe/internal/distribution"
	"github.com/ManuGH/tvscribe/internal/health"
	"github.com/ManuGH/tvscribe/internal/log"
	"github.com/ManuGH/tvscribe/internal/metrics"
	"github.com/ManuGH/tvscribe/internal/persistence/sqlite"
	"github.com/ManuGH/tvscribe/internal/procgroup"
	"github.com/ManuGH/tvscribe/internal/recognition"
	"github.com/ManuGH/tvscribe/internal/recording"
	"github.com/ManuGH/tvscribe/internal/schedule"
	"github.com/ManuGH/tvscribe/internal/status"
	"github.com/ManuGH/tvscribe/internal/stream"
	"github.com/ManuGH/tvscribe/internal/telemetry"
	"github.com/ManuGH/tvscribe/internal/transcoder"
)

const (
	// jobRetention is how long finished jobs stay visible after a day change.
	jobRetention = 24 * time.Hour
	// tickerStale marks the schedule loop as stuck.
	tickerStale = 30 * time.Second
)

// Runtime holds the wired components of one daemon instance.
type Runtime struct {
	Config config.AppConfig

	Store        *channels.Store
	Registry     *channels.Registry
	Hub          *status.Hub
	Index        *dedup.Index
	Gate         *recognition.FrameGate
	Pipeline     *recognition.Pipeline
	Intake       *recognition.Intake
	Dispatcher   *distribution.Dispatcher
	Supervisor   *capture.Supervisor
	Orchestrator *recording.Orchestrator
	Ticker       *schedule.Ticker
	API          *api.Server
	Health       *health.Manager
	Telemetry    *telemetry.Provider

	corpus dedup.Corpus
	logger zerolog.Logger
}

// Build creates every component described by cfg. The caller owns the result
// and must call Close once the runtime has stopped.
func Build(ctx context.Context, cfg config.AppConfig) (*Runtime, error) {
	logger := log.WithComponent("daemon")
	procgroup.SetObserver(metrics.ProcObserver{})

	for _, dir := range []string{cfg.DataDir, cfg.Paths.Intake, cfg.Paths.Ready, cfg.Paths.Recordings, cfg.Paths.Clips} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "tvscribe",
		ServiceVersion: cfg.Version,
		ExporterType:   cfg.Telemetry.ExporterType,
		Endpoint:       cfg.Telemetry.Endpoint,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	corpus, err := openCorpus(ctx, cfg.Dedup)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, fmt.Errorf("corpus: %w", err)
	}

	rt := &Runtime{Config: cfg, Telemetry: tp, corpus: corpus, logger: logger}
	if err := rt.wire(ctx); err != nil {
		_ = rt.Close(ctx)
		return nil, err
	}
	return rt, nil
}

func (rt *Runtime) wire(ctx context.Context) error {
	cfg := rt.Config

	rt.Store = channels.NewStore(cfg.ChannelsFile)
	rt.Registry = channels.NewRegistry(rt.Store)
	rt.Hub = status.NewHub()

	rt.Index = dedup.NewIndex(rt.corpus, dedup.Options{
		CorpusThreshold:  cfg.Dedup.CorpusThreshold,
		SessionThreshold: cfg.Dedup.SessionThreshold,
	})
	if n, err := rt.Index.Seed(ctx); err != nil {
		rt.logger.Warn().Err(err).Str("event", "dedup.seed_failed").Msg("starting with an empty session index")
	} else {
		metrics.SetCorpusSize(n)
		rt.logger.Info().Str("event", "dedup.seeded").Int("entries", n).Msg("duplicate index seeded from corpus")
	}

	recognizer, judge, err := newRecognizer(cfg.Recognition)
	if err != nil {
		return err
	}
	rt.Gate = recognition.NewFrameGate(cfg.Recognition.FrameHashDistance)
	rt.Pipeline = recognition.NewPipeline(recognition.Options{
		Recognizer:    recognizer,
		Judge:         judge,
		Index:         rt.Index,
		Keywords:      rt.Registry,
		Gate:          rt.Gate,
		MinConfidence: cfg.Recognition.MinConfidence,
		MaxConcurrent: cfg.Recognition.Workers,
		Backend:       cfg.Recognition.Backend,
	})

	dist, err := newDistributor(cfg.Distribution)
	if err != nil {
		return err
	}
	rt.Dispatcher = distribution.NewDispatcher(dist, cfg.Paths.Ready, cfg.Distribution.MaxAttempts)
	rt.Intake = recognition.NewIntake(cfg.Paths.Intake, rt.Pipeline, recognition.NewDisposer(cfg.Paths.Ready), rt.Dispatcher, cfg.Recognition.Workers, 0)

	rt.Supervisor = capture.NewSupervisor(capture.SupervisorConfig{
		Opener: &stream.Opener{
			Bin:         cfg.FFmpeg.Bin,
			FrameRate:   cfg.Capture.FrameRate,
			ReadTimeout: cfg.Capture.ReadTimeout,
			KillTimeout: cfg.FFmpeg.KillTimeout,
		},
		Sink:    rt.Intake,
		Status:  rt.Hub,
		Backoff: cfg.Capture.ReconnectBackoff,
	})

	rt.Orchestrator = recording.New(recording.Options{
		Transcoder:       transcoder.New(cfg.FFmpeg.Bin, cfg.FFmpeg.KillTimeout),
		Screener:         rt.Pipeline,
		Forwarder:        rt.Dispatcher,
		Status:           rt.Hub,
		RecordingsDir:    cfg.Paths.Recordings,
		ClipsDir:         cfg.Paths.Clips,
		CropEligible:     cfg.Recording.CropEligible,
		SegmentPadding:   cfg.Recording.SegmentPadding,
		FrameSampleEvery: cfg.Recording.FrameSampleEvery,
		MaxConcurrent:    cfg.Recording.MaxConcurrent,
	})

	rt.Ticker = schedule.NewTicker(rt.Registry, rt.Orchestrator, clock.Real{})
	rt.Ticker.OnNewDay = rt.newDay

	rt.Health = health.NewManager(cfg.Version)
	rt.Health.RegisterChecker(health.NewFileChecker("channels_file", cfg.ChannelsFile))
	for name, dir := range map[string]string{
		"intake_dir":     cfg.Paths.Intake,
		"ready_dir":      cfg.Paths.Ready,
		"recordings_dir": cfg.Paths.Recordings,
		"clips_dir":      cfg.Paths.Clips,
	} {
		rt.Health.RegisterChecker(health.NewDirChecker(name, dir))
	}
	rt.Health.RegisterChecker(health.NewHeartbeatChecker("schedule_ticker", rt.Ticker.LastTick, tickerStale))
	if cfg.Dedup.Backend == "sqlite" {
		rt.Health.RegisterChecker(health.CheckFunc("corpus_integrity", func(context.Context) error {
			return corpusIntegrity(cfg.Dedup.Path)
		}))
	}

	rt.API = api.New(api.Config{
		RateLimitPerMin: cfg.API.RateLimitPerMin,
		TracingService:  "tvscribe",
	}, api.Deps{
		Supervisor:  rt.Supervisor,
		Recorder:    rt.Orchestrator,
		Registry:    rt.Registry,
		Status:      rt.Hub,
		StopTimeout: cfg.Capture.StopTimeout,
		Health:      rt.Health,
	})
	return nil
}

// newDay rotates every piece of per-day state.
func (rt *Runtime) newDay(ctx context.Context, now time.Time) {
	if err := rt.Index.Rotate(ctx, now); err != nil {
		rt.logger.Warn().Err(err).Str("event", "dedup.rotate_failed").Msg("corpus purge failed")
	}
	metrics.SetCorpusSize(0)
	rt.Gate.Reset()
	pruned := rt.Orchestrator.Prune(now.Add(-jobRetention))
	rt.Hub.PruneJobs(now, jobRetention)
	rt.logger.Info().Str("event", "daemon.new_day").Int("jobs_pruned", pruned).Msg("daily state rotated")
}

// Reload re-reads the channels file and applies it to running capture workers.
func (rt *Runtime) Reload() {
	rt.Store.Invalidate()
	rt.Supervisor.Reconcile(rt.Registry.Channels(), rt.Config.Capture.StopTimeout)
}

// RegisterShutdownHooks installs the component teardown on m. Hooks run LIFO,
// so the API stops first and the corpus closes last.
func (rt *Runtime) RegisterShutdownHooks(m Manager) {
	m.RegisterShutdownHook("runtime", rt.Close)
	m.RegisterShutdownHook("recordings", func(context.Context) error {
		if hung := rt.Orchestrator.Shutdown(rt.Config.Capture.StopTimeout); len(hung) > 0 {
			return fmt.Errorf("%d recording jobs did not stop: %v", len(hung), hung)
		}
		return nil
	})
	m.RegisterShutdownHook("capture", func(context.Context) error {
		report := rt.Supervisor.StopAll(rt.Config.Capture.StopTimeout)
		if len(report.Hung) > 0 {
			rt.logger.Warn().Str("event", "capture.hung").Strs("channels", report.Hung).Msg("capture workers abandoned")
		}
		return nil
	})
	m.RegisterShutdownHook("status_streams", func(context.Context) error {
		rt.API.Close()
		return nil
	})
}

// Close releases the corpus and flushes telemetry.
func (rt *Runtime) Close(ctx context.Context) error {
	var errs []error
	if rt.corpus != nil {
		if err := rt.corpus.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close corpus: %w", err))
		}
		rt.corpus = nil
	}
	if rt.Telemetry != nil {
		if err := rt.Telemetry.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("telemetry shutdown: %w", err))
		}
		rt.Telemetry = nil
	}
	return errors.Join(errs...)
}

// corpusIntegrity runs a quick_check against the sqlite corpus file.
func corpusIntegrity(path string) error {
	problems, err := sqlite.VerifyIntegrity(path, "quick")
	if err != nil {
		return err
	}
	if len(problems) > 0 {
		return fmt.Errorf("corpus integrity: %s", strings.Join(problems, "; "))
	}
	return nil
}

func openCorpus(ctx context.Context, cfg config.DedupConfig) (dedup.Corpus, error) {
	switch cfg.Backend {
	case "sqlite":
		return dedup.OpenSQLiteCorpus(cfg.Path)
	case "badger":
		return dedup.OpenBadgerCorpus(cfg.Path)
	case "redis":
		return dedup.NewRedisCorpus(ctx, dedup.RedisConfig{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	case "memory":
		return dedup.NewMemoryCorpus(), nil
	default:
		return nil, fmt.Errorf("%w: corpus %q", ErrUnknownBackend, cfg.Backend)
	}
}

func newRecognizer(cfg config.RecognitionConfig) (recognition.Recognizer, recognition.Judge, error) {
	var (
		rec    recognition.Recognizer
		remote *recognition.HTTPRecognizer
	)
	if cfg.Endpoint != "" {
		remote = recognition.NewHTTPRecognizer(cfg.Endpoint, cfg.Timeout)
	}
	switch cfg.Backend {
	case "http":
		if remote == nil {
			return nil, nil, fmt.Errorf("%w: http recognizer without endpoint", ErrUnknownBackend)
		}
		rec = remote
	case "tesseract":
		rec = &recognition.Tesseract{Bin: cfg.TesseractBin, Languages: cfg.Languages, Timeout: cfg.Timeout}
	default:
		return nil, nil, fmt.Errorf("%w: recognizer %q", ErrUnknownBackend, cfg.Backend)
	}
	if cfg.JudgeEnabled && remote != nil {
		return rec, remote, nil
	}
	return rec, nil, nil
}

func newDistributor(cfg config.DistributionConfig) (distribution.Distributor, error) {
	switch cfg.Backend {
	case "telegram":
		return distribution.NewTelegram(distribution.TelegramConfig{
			BaseURL:       cfg.BaseURL,
			Token:         cfg.Token,
			ChatID:        cfg.ChatID,
			RatePerMinute: cfg.RatePerMinute,
		})
	case "outbox":
		return distribution.NewOutbox(cfg.OutboxDir), nil
	default:
		return nil, fmt.Errorf("%w: distribution %q", ErrUnknownBackend, cfg.Backend)
	}
}
