// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package recognition

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/ManuGH/tvscribe/internal/procgroup"
)

// Tesseract runs the tesseract CLI per image. It cannot transcribe audio.
type Tesseract struct {
	Bin       string
	Languages string
	Timeout   time.Duration
}

var _ Recognizer = (*Tesseract)(nil)

func (t *Tesseract) Recognize(ctx context.Context, imagePath string) (Recognition, error) {
	if t.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.Timeout)
		defer cancel()
	}
	bin := t.Bin
	if bin == "" {
		bin = "tesseract"
	}
	args := []string{imagePath, "stdout"}
	if t.Languages != "" {
		args = append(args, "-l", t.Languages)
	}
	cmd := exec.CommandContext(ctx, bin, args...)
	procgroup.Set(cmd)
	cmd.Cancel = func() error { return procgroup.Kill(cmd, syscall.SIGKILL) }
	cmd.WaitDelay = 2 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return Recognition{}, ctx.Err()
		}
		return Recognition{}, fmt.Errorf("tesseract: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	text := strings.Join(strings.Fields(stdout.String()), " ")
	return Recognition{Text: text, Confidence: 1}, nil
}

func (t *Tesseract) Transcribe(context.Context, string) ([]Segment, error) {
	return nil, ErrUnsupported
}
