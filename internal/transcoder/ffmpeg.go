// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package transcoder drives ffmpeg for recording, cropping, cutting and
// frame/audio extraction.
package transcoder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/ManuGH/tvscribe/internal/channels"
	xglog "github.com/ManuGH/tvscribe/internal/log"
)

// ErrStreamOpen means a recording produced no output at all.
var ErrStreamOpen = errors.New("stream could not be opened")

// TimeRange is an offset window inside a media file.
type TimeRange struct {
	Start time.Duration
	End   time.Duration
}

// Len returns End-Start, never negative.
func (r TimeRange) Len() time.Duration {
	if r.End <= r.Start {
		return 0
	}
	return r.End - r.Start
}

// RecordResult describes a finished recording.
type RecordResult struct {
	Path string
	// Truncated is set when the stream failed before the requested duration.
	Truncated bool
}

// FFmpeg implements the transcoder collaborator with the ffmpeg CLI.
type FFmpeg struct {
	runner Runner
	// RWTimeout bounds a stalled network read inside ffmpeg.
	RWTimeout time.Duration
}

// New creates an FFmpeg transcoder using bin (default "ffmpeg").
func New(bin string, killTimeout time.Duration) *FFmpeg {
	if bin == "" {
		bin = "ffmpeg"
	}
	return &FFmpeg{
		runner:    Runner{Bin: bin, KillTimeout: killTimeout, Logger: xglog.WithComponent("transcoder")},
		RWTimeout: 15 * time.Second,
	}
}

// Record writes duration of url to out, cropped when crop is set.
// onProgress receives the recorded media time.
func (f *FFmpeg) Record(ctx context.Context, url string, duration time.Duration, crop channels.Rect, out string, onProgress func(time.Duration)) (RecordResult, error) {
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return RecordResult{}, fmt.Errorf("create output dir: %w", err)
	}
	var progress func(Progress)
	if onProgress != nil {
		progress = func(p Progress) { onProgress(p.OutTime) }
	}
	runErr := f.runner.Run(ctx, recordArgs(url, duration, crop, out, f.RWTimeout), progress)

	res := RecordResult{Path: out}
	st, err := os.Stat(out)
	if err != nil || st.Size() == 0 {
		_ = os.Remove(out)
		if ctx.Err() != nil {
			return RecordResult{}, ctx.Err()
		}
		return RecordResult{}, fmt.Errorf("%w: %v", ErrStreamOpen, runErr)
	}
	if ctx.Err() != nil {
		res.Truncated = true
		return res, ctx.Err()
	}
	if runErr != nil {
		res.Truncated = true
	}
	return res, nil
}

// ExtractClip writes the crop of source over tr to out and returns out.
func (f *FFmpeg) ExtractClip(ctx context.Context, source string, crop channels.Rect, tr TimeRange, out string) (string, error) {
	if err := f.runner.Run(ctx, clipArgs(source, crop, tr, out), nil); err != nil {
		_ = os.Remove(out)
		return "", fmt.Errorf("extract clip: %w", err)
	}
	return out, nil
}

// ExtractFrames writes one PNG per every of source into dir and returns them in order.
func (f *FFmpeg) ExtractFrames(ctx context.Context, source string, every time.Duration, dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create frame dir: %w", err)
	}
	if err := f.runner.Run(ctx, framesArgs(source, every, dir), nil); err != nil {
		return nil, fmt.Errorf("extract frames: %w", err)
	}
	frames, err := filepath.Glob(filepath.Join(dir, "frame_*.png"))
	if err != nil {
		return nil, err
	}
	sort.Strings(frames)
	return frames, nil
}

// ExtractAudio writes 16 kHz mono PCM audio of source to out.
func (f *FFmpeg) ExtractAudio(ctx context.Context, source, out string) (string, error) {
	if err := f.runner.Run(ctx, audioArgs(source, out), nil); err != nil {
		_ = os.Remove(out)
		return "", fmt.Errorf("extract audio: %w", err)
	}
	return out, nil
}

func seconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}

func cropFilter(r channels.Rect) string {
	return fmt.Sprintf("crop=%d:%d:%d:%d", r.Width, r.Height, r.X, r.Y)
}

func recordArgs(url string, d time.Duration, crop channels.Rect, out string, rwTimeout time.Duration) []string {
	args := []string{"-y"}
	if rwTimeout > 0 {
		args = append(args, "-rw_timeout", strconv.FormatInt(rwTimeout.Microseconds(), 10))
	}
	args = append(args, "-i", url, "-t", seconds(d))
	if crop.IsZero() {
		args = append(args, "-c", "copy")
	} else {
		args = append(args, "-vf", cropFilter(crop), "-c:v", "libx264", "-preset", "veryfast", "-c:a", "aac")
	}
	return append(args, "-f", "mp4", "-movflags", "+frag_keyframe+empty_moov", out)
}

func clipArgs(source string, crop channels.Rect, tr TimeRange, out string) []string {
	args := []string{"-y", "-ss", seconds(tr.Start), "-i", source}
	if tr.Len() > 0 {
		args = append(args, "-t", seconds(tr.Len()))
	}
	if !crop.IsZero() {
		args = append(args, "-vf", cropFilter(crop))
	}
	return append(args, "-c:v", "libx264", "-preset", "veryfast", "-c:a", "aac", out)
}

func framesArgs(source string, every time.Duration, dir string) []string {
	if every <= 0 {
		every = time.Second
	}
	return []string{"-y", "-i", source, "-vf", "fps=1/" + seconds(every), filepath.Join(dir, "frame_%05d.png")}
}

func audioArgs(source, out string) []string {
	return []string{"-y", "-i", source, "-vn", "-ac", "1", "-ar", "16000", "-c:a", "pcm_s16le", out}
}
