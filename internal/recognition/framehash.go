// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package recognition

import (
	"image"
	"sync"

	"github.com/corona10/goimagehash"
)

// FrameGate remembers the perceptual hash of each channel's previous frame.
// A frame within Distance bits of its predecessor is considered unchanged.
type FrameGate struct {
	distance int

	mu   sync.Mutex
	last map[string]*goimagehash.ImageHash
}

// NewFrameGate returns nil for a negative distance, which disables the gate.
func NewFrameGate(distance int) *FrameGate {
	if distance < 0 {
		return nil
	}
	return &FrameGate{distance: distance, last: map[string]*goimagehash.ImageHash{}}
}

// Unchanged hashes img, stores it as the channel's latest frame and reports
// whether it matches the previous one.
func (g *FrameGate) Unchanged(channel string, img image.Image) bool {
	if g == nil || img == nil {
		return false
	}
	h, err := goimagehash.PerceptionHash(img)
	if err != nil {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	prev := g.last[channel]
	g.last[channel] = h
	if prev == nil {
		return false
	}
	d, err := prev.Distance(h)
	return err == nil && d <= g.distance
}

// Reset forgets every channel.
func (g *FrameGate) Reset() {
	if g == nil {
		return
	}
	g.mu.Lock()
	g.last = map[string]*goimagehash.ImageHash{}
	g.mu.Unlock()
}
