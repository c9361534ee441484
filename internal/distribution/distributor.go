// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package distribution delivers accepted artifacts to their audience.
package distribution

import (
	"context"
	"path/filepath"
	"strings"
)

// Distributor delivers files with a caption. It reports success only when
// every file was accepted by the remote side.
type Distributor interface {
	Deliver(ctx context.Context, paths []string, caption string) bool
	// Name labels metrics and logs.
	Name() string
}

type mediaKind int

const (
	mediaDocument mediaKind = iota
	mediaPhoto
	mediaVideo
)

func kindOf(path string) mediaKind {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png", ".jpg", ".jpeg":
		return mediaPhoto
	case ".mp4", ".mkv", ".ts", ".mov":
		return mediaVideo
	}
	return mediaDocument
}
