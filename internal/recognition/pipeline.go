// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package recognition

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	xglog "github.com/ManuGH/tvscribe/internal/log"
	"github.com/ManuGH/tvscribe/internal/metrics"
	"github.com/ManuGH/tvscribe/internal/telemetry"
)

// Options configures a Pipeline.
type Options struct {
	Recognizer Recognizer
	// Judge is optional.
	Judge    Judge
	Index    DuplicateIndex
	Keywords KeywordSource
	// Gate is the optional frame-hash short circuit.
	Gate *FrameGate
	// MinConfidence marks recognitions below it as borderline: they pass only
	// when the judge confirms them. Zero disables the check.
	MinConfidence float64
	// MaxConcurrent bounds concurrent recognizer calls. Defaults to 4.
	MaxConcurrent int
	// Backend labels latency metrics.
	Backend string
}

// Pipeline decides recognize, readability, duplicate and keyword checks in
// that order, stopping at the first rejection.
type Pipeline struct {
	opts   Options
	sem    *semaphore.Weighted
	tracer trace.Tracer
	logger zerolog.Logger
}

func NewPipeline(opts Options) *Pipeline {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 4
	}
	if opts.Backend == "" {
		opts.Backend = "default"
	}
	return &Pipeline{
		opts:   opts,
		sem:    semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		tracer: telemetry.Tracer("tvscribe/recognition"),
		logger: xglog.WithComponent("recognition"),
	}
}

// Process decides the fate of one artifact. On acceptance the text is
// admitted into the duplicate index; the artifact itself is left untouched.
func (p *Pipeline) Process(ctx context.Context, a Artifact) Outcome {
	ctx, span := p.tracer.Start(ctx, "recognition.process",
		trace.WithAttributes(telemetry.ArtifactAttributes(a.Channel, a.Source, a.Path)...))
	defer span.End()

	out := p.process(ctx, a)
	span.SetAttributes(attribute.String(telemetry.OutcomeKey, out.Kind.String()))
	metrics.IncOutcome(a.Source, out.Kind.String())

	evt := p.logger.Debug()
	if out.Kind == Accepted {
		evt = p.logger.Info()
	}
	evt.Str("event", "recognition.outcome").
		Str(xglog.FieldChannel, a.Channel).
		Str(xglog.FieldArtifact, a.Path).
		Str(xglog.FieldOutcome, out.Kind.String()).
		Str(xglog.FieldReason, out.Reason).
		Strs("keywords", out.Keywords).
		Msg("artifact processed")
	return out
}

func (p *Pipeline) process(ctx context.Context, a Artifact) Outcome {
	if p.opts.Gate.Unchanged(a.Channel, a.Image) {
		return Outcome{Kind: RejectedDuplicate, Reason: "frame unchanged"}
	}

	rec, err := p.recognize(ctx, a.Path)
	if err != nil {
		return Outcome{Kind: RejectedUnreadable, Reason: "recognition failed: " + err.Error()}
	}
	raw := strings.TrimSpace(rec.Text)
	if raw == "" {
		return Outcome{Kind: RejectedUnreadable, Reason: "empty text"}
	}

	text, ok, reason := p.readable(ctx, raw, rec.Confidence)
	if !ok {
		return Outcome{Kind: RejectedUnreadable, Raw: raw, Reason: reason}
	}

	if p.opts.Index != nil && p.opts.Index.IsDuplicate(ctx, text, a.Channel) {
		return Outcome{Kind: RejectedDuplicate, Raw: raw, Text: text, Reason: "seen today"}
	}

	hits := MatchKeywords(text, p.keywords())
	if len(hits) == 0 {
		return Outcome{Kind: RejectedNoKeyword, Raw: raw, Text: text}
	}

	if p.opts.Index != nil {
		if err := p.opts.Index.Admit(ctx, text, a.Channel); err != nil {
			p.logger.Warn().Err(err).Str("event", "recognition.admit_failed").Str(xglog.FieldChannel, a.Channel).Msg("accepted text not persisted to corpus")
		}
	}
	return Outcome{Kind: Accepted, Raw: raw, Text: text, Keywords: hits}
}

// readable applies the floor, then lets the judge correct the text or
// confirm a borderline recognition. The judge can never lower the floor.
func (p *Pipeline) readable(ctx context.Context, raw string, confidence float64) (string, bool, string) {
	if !Readable(raw) {
		return "", false, "below readability floor"
	}
	borderline := p.opts.MinConfidence > 0 && confidence < p.opts.MinConfidence
	if p.opts.Judge == nil {
		if borderline {
			return "", false, "low confidence"
		}
		return raw, true, ""
	}

	v, err := p.opts.Judge.Judge(ctx, raw)
	if err != nil {
		p.logger.Debug().Err(err).Str("event", "recognition.judge_failed").Msg("judge unavailable, using floor only")
		if borderline {
			return "", false, "low confidence"
		}
		return raw, true, ""
	}
	text := raw
	if c := strings.TrimSpace(v.Corrected); c != "" && Readable(c) {
		text = c
	}
	if borderline && !v.Readable {
		return "", false, "low confidence"
	}
	return text, true, ""
}

// Screen recognizes frames of a clip until one carries a keyword. It checks
// readability and keywords only; clips are not admitted to the duplicate index.
func (p *Pipeline) Screen(ctx context.Context, channel string, frames []string) Outcome {
	ctx, span := p.tracer.Start(ctx, "recognition.screen",
		trace.WithAttributes(telemetry.ArtifactAttributes(channel, "clip", "")...))
	defer span.End()

	keywords := p.keywords()
	out := Outcome{Kind: RejectedUnreadable, Reason: "no readable frame"}
	for _, f := range frames {
		if ctx.Err() != nil {
			break
		}
		rec, err := p.recognize(ctx, f)
		if err != nil || !Readable(rec.Text) {
			continue
		}
		text := strings.TrimSpace(rec.Text)
		if hits := MatchKeywords(text, keywords); len(hits) > 0 {
			out = Outcome{Kind: Accepted, Raw: text, Text: text, Keywords: hits}
			break
		}
		out = Outcome{Kind: RejectedNoKeyword, Raw: text, Text: text}
	}
	span.SetAttributes(attribute.String(telemetry.OutcomeKey, out.Kind.String()))
	metrics.IncOutcome("clip", out.Kind.String())
	return out
}

// Transcribe delegates to the recognizer under the concurrency bound.
func (p *Pipeline) Transcribe(ctx context.Context, audioPath string) ([]Segment, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer p.sem.Release(1)
	return p.opts.Recognizer.Transcribe(ctx, audioPath)
}

// Keywords returns the current keyword set.
func (p *Pipeline) Keywords() map[string]struct{} { return p.keywords() }

func (p *Pipeline) keywords() map[string]struct{} {
	if p.opts.Keywords == nil {
		return nil
	}
	return p.opts.Keywords.Keywords()
}

func (p *Pipeline) recognize(ctx context.Context, path string) (Recognition, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return Recognition{}, err
	}
	defer p.sem.Release(1)

	start := time.Now()
	rec, err := p.opts.Recognizer.Recognize(ctx, path)
	metrics.ObserveRecognition(p.opts.Backend, time.Since(start).Seconds())
	return rec, err
}
