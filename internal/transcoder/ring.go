// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package transcoder

import (
	"strings"
	"sync"
)

// RingBuffer keeps the last N stderr lines of a helper process.
type RingBuffer struct {
	lines []string
	pos   int
	full  bool
	mu    sync.Mutex
}

func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = 32
	}
	return &RingBuffer{lines: make([]string, size)}
}

// Write splits p into lines so the buffer can be used as cmd.Stderr.
func (r *RingBuffer) Write(p []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			r.Add(line)
		}
	}
	return len(p), nil
}

func (r *RingBuffer) Add(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines[r.pos] = line
	r.pos = (r.pos + 1) % len(r.lines)
	if r.pos == 0 {
		r.full = true
	}
}

// Lines returns the buffered lines, oldest first.
func (r *RingBuffer) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		return append([]string(nil), r.lines[:r.pos]...)
	}
	res := make([]string, len(r.lines))
	copy(res, r.lines[r.pos:])
	copy(res[len(r.lines)-r.pos:], r.lines[:r.pos])
	return res
}

// Tail returns the last line or "".
func (r *RingBuffer) Tail() string {
	lines := r.Lines()
	if len(lines) == 0 {
		return ""
	}
	return lines[len(lines)-1]
}
