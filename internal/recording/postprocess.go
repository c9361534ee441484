// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package recording

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ManuGH/tvscribe/internal/channels"
	xglog "github.com/ManuGH/tvscribe/internal/log"
	"github.com/ManuGH/tvscribe/internal/recognition"
	"github.com/ManuGH/tvscribe/internal/transcoder"
)

// postProcess runs crop screening, when requested and eligible, and then
// segment extraction over the full recording. The two are independent passes.
func (o *Orchestrator) postProcess(ctx context.Context, j *Job, recording string, logger zerolog.Logger) {
	if o.cropEligible(j) {
		o.screenCrop(ctx, j, recording, logger)
	}
	if ctx.Err() != nil {
		return
	}
	o.extractSegments(ctx, j, recording, logger)
}

func (o *Orchestrator) cropEligible(j *Job) bool {
	if !j.screen || j.Channel.Crop.IsZero() {
		return false
	}
	_, ok := o.crop[j.Channel.Name]
	return ok
}

// screenCrop cuts the crop rectangle out of the recording, screens sampled
// frames for keywords and forwards the sub-clip only on a hit. The sub-clip
// is deleted afterwards in every case.
func (o *Orchestrator) screenCrop(ctx context.Context, j *Job, recording string, logger zerolog.Logger) {
	if o.opts.Screener == nil {
		return
	}
	if err := os.MkdirAll(o.opts.ClipsDir, 0o755); err != nil {
		logger.Error().Err(err).Str("event", "recording.crop_failed").Msg("clips dir unavailable")
		return
	}
	base := strings.TrimSuffix(filepath.Base(recording), filepath.Ext(recording))
	clipPath := filepath.Join(o.opts.ClipsDir, base+"_crop.mp4")
	framesDir := filepath.Join(o.opts.ClipsDir, base+"_frames")
	defer func() {
		_ = os.RemoveAll(framesDir)
		_ = recognition.Remove(clipPath)
	}()

	clip, err := o.opts.Transcoder.ExtractClip(ctx, recording, j.Channel.Crop, transcoder.TimeRange{End: j.Duration}, clipPath)
	if err != nil {
		logger.Warn().Err(err).Str("event", "recording.crop_failed").Msg("crop extraction failed")
		return
	}
	frames, err := o.opts.Transcoder.ExtractFrames(ctx, clip, o.opts.FrameSampleEvery, framesDir)
	if err != nil {
		logger.Warn().Err(err).Str("event", "recording.crop_failed").Msg("frame sampling failed")
		return
	}

	out := o.opts.Screener.Screen(ctx, j.Channel.Name, frames)
	logger.Info().Str("event", "recording.crop_screened").
		Str(xglog.FieldOutcome, out.Kind.String()).
		Strs("keywords", out.Keywords).
		Int("frames", len(frames)).
		Msg("crop screening done")
	if out.Kind == recognition.Accepted && o.opts.Forwarder != nil {
		o.opts.Forwarder.Forward(ctx, []string{clip}, caption(j, out.Text))
	}
}

// extractSegments transcribes the recording and forwards a cut per keyword window.
func (o *Orchestrator) extractSegments(ctx context.Context, j *Job, recording string, logger zerolog.Logger) {
	if o.opts.Screener == nil {
		return
	}
	audio := strings.TrimSuffix(recording, filepath.Ext(recording)) + ".wav"
	defer func() { _ = os.Remove(audio) }()

	if _, err := o.opts.Transcoder.ExtractAudio(ctx, recording, audio); err != nil {
		logger.Warn().Err(err).Str("event", "recording.segments_failed").Msg("audio extraction failed")
		return
	}
	segs, err := o.opts.Screener.Transcribe(ctx, audio)
	if err != nil {
		if errors.Is(err, recognition.ErrUnsupported) {
			logger.Debug().Str("event", "recording.segments_skipped").Msg("recognizer cannot transcribe")
			return
		}
		logger.Warn().Err(err).Str("event", "recording.segments_failed").Msg("transcription failed")
		return
	}

	windows := KeywordWindows(segs, o.opts.Screener.Keywords(), o.opts.SegmentPadding, j.Duration)
	logger.Info().Str("event", "recording.segments").Int("segments", len(segs)).Int("windows", len(windows)).Msg("segment extraction done")

	if len(windows) == 0 {
		return
	}
	if err := os.MkdirAll(o.opts.ClipsDir, 0o755); err != nil {
		logger.Error().Err(err).Str("event", "recording.segments_failed").Msg("clips dir unavailable")
		return
	}
	base := strings.TrimSuffix(filepath.Base(recording), filepath.Ext(recording))
	for i, w := range windows {
		if ctx.Err() != nil {
			return
		}
		out := filepath.Join(o.opts.ClipsDir, fmt.Sprintf("%s_seg%02d.mp4", base, i+1))
		cut, err := o.opts.Transcoder.ExtractClip(ctx, recording, channels.Rect{}, w.Range, out)
		if err != nil {
			logger.Warn().Err(err).Str("event", "recording.segment_cut_failed").Int("window", i+1).Msg("segment cut failed")
			continue
		}
		if o.opts.Forwarder != nil {
			o.opts.Forwarder.Forward(ctx, []string{cut}, caption(j, w.Text))
		}
		_ = recognition.Remove(cut)
	}
}

func caption(j *Job, text string) string {
	return fmt.Sprintf("%s %s\n%s", j.Channel.Name, j.Start.Format("2006-01-02 15:04"), text)
}
