// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package stream opens live channel streams as frame sources. The decoder
// runs continuously and only the most recent frame is kept.
package stream

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/tvscribe/internal/capture"
	xglog "github.com/ManuGH/tvscribe/internal/log"
	"github.com/ManuGH/tvscribe/internal/procgroup"
	"github.com/ManuGH/tvscribe/internal/transcoder"
)

// ErrReadTimeout is returned when no new frame arrived within the read timeout.
var ErrReadTimeout = errors.New("no frame within read timeout")

// Opener starts one ffmpeg decoder per stream handle.
type Opener struct {
	Bin         string
	FrameRate   int
	ReadTimeout time.Duration
	KillTimeout time.Duration
}

var _ capture.Opener = (*Opener)(nil)

// Open starts decoding url. The handle is independent of any other handle on the same URL.
func (o *Opener) Open(ctx context.Context, url string) (capture.Stream, error) {
	bin := o.Bin
	if bin == "" {
		bin = "ffmpeg"
	}
	cmd := exec.Command(bin, decoderArgs(url, o.FrameRate)...)
	procgroup.Set(cmd)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	ring := transcoder.NewRingBuffer(20)
	cmd.Stderr = ring
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start decoder: %w", err)
	}

	s := newFrameSlot(o.ReadTimeout)
	s.logger = xglog.WithComponent("stream").With().Str(xglog.FieldURL, url).Logger()
	s.stop = func() error {
		return procgroup.Terminate(cmd, s.waitCh, o.killTimeout())
	}
	go func() {
		decodeLoop(stdout, s)
		err := cmd.Wait()
		if err == nil {
			err = io.EOF
		}
		s.fail(fmt.Errorf("%w: %v %s", capture.ErrStreamClosed, err, ring.Tail()))
		s.waitCh <- err
	}()
	return s, nil
}

func (o *Opener) killTimeout() time.Duration {
	if o.KillTimeout > 0 {
		return o.KillTimeout
	}
	return 2 * time.Second
}

func decoderArgs(url string, fps int) []string {
	if fps <= 0 {
		fps = 1
	}
	return []string{
		"-nostdin", "-hide_banner", "-loglevel", "error",
		"-rw_timeout", "15000000",
		"-i", url,
		"-an", "-sn",
		"-vf", "fps=" + strconv.Itoa(fps),
		"-f", "image2pipe", "-c:v", "png", "-",
	}
}

// decodeLoop decodes concatenated PNGs until r ends or a frame is corrupt.
func decodeLoop(r io.Reader, s *frameSlot) {
	br := bufio.NewReaderSize(r, 1<<20)
	for {
		img, err := png.Decode(br)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				s.logger.Debug().Err(err).Str("event", "stream.decode_error").Msg("frame decode failed")
			}
			_, _ = io.Copy(io.Discard, br)
			return
		}
		s.put(img)
	}
}

// frameSlot holds the most recent frame. A read returns only frames newer
// than the previous read.
type frameSlot struct {
	mu      sync.Mutex
	cond    chan struct{}
	img     image.Image
	seq     uint64
	readSeq uint64
	err     error
	timeout time.Duration
	logger  zerolog.Logger

	stop     func() error
	waitCh   chan error
	stopOnce sync.Once
	stopErr  error
}

func newFrameSlot(timeout time.Duration) *frameSlot {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &frameSlot{
		cond:    make(chan struct{}),
		timeout: timeout,
		waitCh:  make(chan error, 1),
		logger:  zerolog.Nop(),
	}
}

func (s *frameSlot) put(img image.Image) {
	s.mu.Lock()
	s.img = img
	s.seq++
	close(s.cond)
	s.cond = make(chan struct{})
	s.mu.Unlock()
}

func (s *frameSlot) fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	close(s.cond)
	s.cond = make(chan struct{})
	s.mu.Unlock()
}

// ReadFrame blocks until a frame newer than the last one read is available.
func (s *frameSlot) ReadFrame(ctx context.Context) (image.Image, error) {
	timer := time.NewTimer(s.timeout)
	defer timer.Stop()
	for {
		s.mu.Lock()
		if s.seq > s.readSeq {
			s.readSeq = s.seq
			img := s.img
			s.mu.Unlock()
			return img, nil
		}
		if s.err != nil {
			err := s.err
			s.mu.Unlock()
			return nil, err
		}
		wait := s.cond
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, ErrReadTimeout
		case <-wait:
		}
	}
}

// Close stops the decoder and reaps its process group.
func (s *frameSlot) Close() error {
	s.stopOnce.Do(func() {
		if s.stop != nil {
			s.stopErr = s.stop()
		}
		s.fail(capture.ErrStreamClosed)
	})
	return nil
}
