// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package distribution

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	xglog "github.com/ManuGH/tvscribe/internal/log"
)

// Outbox delivers by copying files into a fresh directory under Dir together
// with a caption.txt. An external agent picks the directories up.
type Outbox struct {
	dir    string
	now    func() time.Time
	logger zerolog.Logger
}

var _ Distributor = (*Outbox)(nil)

func NewOutbox(dir string) *Outbox {
	return &Outbox{dir: dir, now: time.Now, logger: xglog.WithComponent("distribution.outbox")}
}

func (o *Outbox) Name() string { return "outbox" }

func (o *Outbox) Deliver(ctx context.Context, paths []string, caption string) bool {
	if len(paths) == 0 {
		return false
	}
	dir, err := o.deliver(ctx, paths, caption)
	if err != nil {
		o.logger.Warn().Err(err).Str("event", "outbox.write_failed").Msg("delivery failed")
		if dir != "" {
			_ = os.RemoveAll(dir)
		}
		return false
	}
	o.logger.Debug().Str("event", "outbox.delivered").Str(xglog.FieldPath, dir).Int("files", len(paths)).Msg("delivered to outbox")
	return true
}

func (o *Outbox) deliver(ctx context.Context, paths []string, caption string) (string, error) {
	name := fmt.Sprintf("%s_%s", o.now().Format("20060102-150405"), uuid.NewString()[:8])
	staging := filepath.Join(o.dir, "."+name)
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return "", err
	}
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return staging, err
		}
		if err := copyFile(p, filepath.Join(staging, filepath.Base(p))); err != nil {
			return staging, err
		}
	}
	if err := renameio.WriteFile(filepath.Join(staging, "caption.txt"), []byte(caption), 0o644); err != nil {
		return staging, err
	}
	final := filepath.Join(o.dir, name)
	if err := os.Rename(staging, final); err != nil {
		return staging, err
	}
	return final, nil
}

func copyFile(src, dst string) error {
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
	return out.CloseAtomicallyReplace()
}
