// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package recognition

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	xglog "github.com/ManuGH/tvscribe/internal/log"
)

// CaptionExt is the suffix of the caption sidecar written next to a ready artifact.
const CaptionExt = ".caption.txt"

// Disposer performs the filesystem side of an Outcome: accepted artifacts
// move into the ready area with a caption sidecar, everything else is deleted.
type Disposer struct {
	readyDir string
	logger   zerolog.Logger
}

func NewDisposer(readyDir string) *Disposer {
	return &Disposer{readyDir: readyDir, logger: xglog.WithComponent("recognition.disposer")}
}

// Dispose moves or deletes path according to o. For accepted outcomes it
// returns the new location.
func (d *Disposer) Dispose(o Outcome, channel, path string) (string, error) {
	if o.Kind != Accepted {
		return "", Remove(path)
	}
	if err := os.MkdirAll(d.readyDir, 0o755); err != nil {
		_ = Remove(path)
		return "", fmt.Errorf("create ready dir: %w", err)
	}
	name := fmt.Sprintf("%s_%s_%s%s", time.Now().Format("20060102-150405"), safeName(channel), uuid.NewString()[:8], filepath.Ext(path))
	dst := filepath.Join(d.readyDir, name)
	if err := move(path, dst); err != nil {
		_ = Remove(path)
		return "", fmt.Errorf("move to ready: %w", err)
	}
	if err := renameio.WriteFile(dst+CaptionExt, []byte(o.Text), 0o644); err != nil {
		d.logger.Warn().Err(err).Str("event", "disposer.caption_failed").Str(xglog.FieldPath, dst).Msg("caption sidecar not written")
	}
	d.logger.Debug().Str("event", "disposer.ready").Str(xglog.FieldPath, dst).Msg("artifact ready for distribution")
	return dst, nil
}

// Remove deletes path and its caption sidecar. Missing files are not an error.
func Remove(path string) error {
	if path == "" {
		return nil
	}
	_ = os.Remove(path + CaptionExt)
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// move renames src to dst, copying when they are on different filesystems.
func move(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := renameio.TempFile("", dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Cleanup() }()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	if err := out.CloseAtomicallyReplace(); err != nil {
		return err
	}
	return os.Remove(src)
}

func safeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			return r
		}
		return '_'
	}, s)
}
