// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package transcoder

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	xglog "github.com/ManuGH/tvscribe/internal/log"
	"github.com/ManuGH/tvscribe/internal/procgroup"
)

// ErrExit wraps a non-zero helper exit.
var ErrExit = errors.New("helper process failed")

// Progress is one `-progress pipe:1` block.
type Progress struct {
	OutTime   time.Duration
	TotalSize int64
	Frame     int
}

// Runner starts helper processes in their own process group and stops them
// with SIGTERM followed by SIGKILL after KillTimeout.
type Runner struct {
	Bin         string
	KillTimeout time.Duration
	Logger      zerolog.Logger
}

// Run executes Bin with args. When onProgress is set, ffmpeg progress is
// requested on stdout and parsed. Cancelling ctx terminates the group
// gracefully and Run returns ctx.Err().
func (r *Runner) Run(ctx context.Context, args []string, onProgress func(Progress)) error {
	full := append([]string{"-nostdin", "-hide_banner", "-loglevel", "error"}, args...)
	if onProgress != nil {
		full = append([]string{"-progress", "pipe:1"}, full...)
	}
	cmd := exec.Command(r.Bin, full...)
	procgroup.Set(cmd)

	ring := NewRingBuffer(50)
	cmd.Stderr = ring
	var stdout io.ReadCloser
	if onProgress != nil {
		var err error
		if stdout, err = cmd.StdoutPipe(); err != nil {
			return fmt.Errorf("stdout pipe: %w", err)
		}
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", r.Bin, err)
	}

	parsed := make(chan struct{})
	if stdout != nil {
		go func() {
			defer close(parsed)
			parseProgress(stdout, onProgress)
		}()
	} else {
		close(parsed)
	}

	waitCh := make(chan error, 1)
	go func() {
		<-parsed
		waitCh <- cmd.Wait()
	}()

	select {
	case err := <-waitCh:
		if err != nil {
			return fmt.Errorf("%w: %v: %s", ErrExit, err, ring.Tail())
		}
		return nil
	case <-ctx.Done():
		grace := r.KillTimeout
		if grace <= 0 {
			grace = 5 * time.Second
		}
		_ = procgroup.Terminate(cmd, waitCh, grace)
		logger := xglog.WithContext(ctx, r.Logger)
		logger.Debug().Str("event", "transcoder.terminated").Strs("stderr", ring.Lines()).Msg("helper terminated on cancel")
		return ctx.Err()
	}
}

// parseProgress reads key=value lines and emits one Progress per block.
func parseProgress(r io.Reader, emit func(Progress)) {
	scanner := bufio.NewScanner(r)
	var cur Progress
	for scanner.Scan() {
		key, val, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if !ok {
			continue
		}
		switch key {
		case "frame":
			cur.Frame, _ = strconv.Atoi(val)
		case "total_size":
			cur.TotalSize, _ = strconv.ParseInt(val, 10, 64)
		case "out_time_us", "out_time_ms":
			// ffmpeg reports microseconds under both keys.
			if us, err := strconv.ParseInt(val, 10, 64); err == nil {
				cur.OutTime = time.Duration(us) * time.Microsecond
			}
		case "progress":
			emit(cur)
		}
	}
	_, _ = io.Copy(io.Discard, r)
}
