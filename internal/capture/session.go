// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package capture runs one snapshot worker per channel and supervises the pool.
package capture

import (
	"context"
	"errors"
	"image"
	"sync"
	"time"
)

// State of a capture session.
type State int

const (
	StateConnecting State = iota
	StateStreaming
	StatePaused
	StateReconnecting
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StatePaused:
		return "paused"
	case StateReconnecting:
		return "disconnected"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// ErrStreamClosed is returned by a Stream whose handle was closed underneath a read.
var ErrStreamClosed = errors.New("stream closed")

// Stream is a single live-stream handle. ReadFrame is never called concurrently.
type Stream interface {
	ReadFrame(ctx context.Context) (image.Image, error)
	Close() error
}

// Opener opens stream handles.
type Opener interface {
	Open(ctx context.Context, url string) (Stream, error)
}

// Frame is one captured snapshot, already cropped.
type Frame struct {
	Channel string
	At      time.Time
	Image   image.Image
	Forced  bool
}

// Sink receives captured frames. Submit must not block for long.
type Sink interface {
	Submit(ctx context.Context, f Frame)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, f Frame)

func (fn SinkFunc) Submit(ctx context.Context, f Frame) { fn(ctx, f) }

// ForceFlag is the shared forced-capture signal. Every worker consumes each
// Set at most once; Clear withdraws a signal not yet consumed.
type ForceFlag struct {
	mu     sync.Mutex
	gen    uint64
	active bool
}

// Set raises the signal for all workers.
func (f *ForceFlag) Set() {
	f.mu.Lock()
	f.gen++
	f.active = true
	f.mu.Unlock()
}

// Clear lowers the signal.
func (f *ForceFlag) Clear() {
	f.mu.Lock()
	f.active = false
	f.mu.Unlock()
}

// Active reports whether the signal is raised.
func (f *ForceFlag) Active() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

// consume returns true once per Set for the caller owning seen.
func (f *ForceFlag) consume(seen *uint64) bool {
	if f == nil {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.active || *seen == f.gen {
		return false
	}
	*seen = f.gen
	return true
}
