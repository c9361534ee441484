// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package status keeps the latest channel and job snapshots for the UI layer
// and pushes every change to subscribers.
package status

import (
	"sort"
	"sync"
	"time"
)

// Channel is the observable state of one capture session.
type Channel struct {
	Name        string    `json:"name"`
	State       string    `json:"state"`
	Paused      bool      `json:"paused"`
	Recording   bool      `json:"recording"`
	LastCapture time.Time `json:"last_capture,omitempty"`
	Failures    int       `json:"failures"`
	Error       string    `json:"error,omitempty"`
}

// Job is the observable state of one recording job.
type Job struct {
	ID        string        `json:"id"`
	Channel   string        `json:"channel"`
	Group     string        `json:"group,omitempty"`
	Trigger   string        `json:"trigger"`
	Status    string        `json:"status"`
	Progress  int           `json:"progress"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Output    string        `json:"output,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// Event is pushed to subscribers. Exactly one of Channel and Job is set.
type Event struct {
	Kind    string   `json:"kind"` // channel|job|supervisor
	Channel *Channel `json:"channel,omitempty"`
	Job     *Job     `json:"job,omitempty"`
	Running *bool    `json:"running,omitempty"`
}

// Snapshot is the full state at one instant.
type Snapshot struct {
	Running  bool      `json:"running"`
	Channels []Channel `json:"channels"`
	Jobs     []Job     `json:"jobs"`
}

// Hub stores snapshots and fans events out. Slow subscribers lose events
// rather than blocking publishers.
type Hub struct {
	mu       sync.RWMutex
	running  bool
	channels map[string]Channel
	jobs     map[string]Job
	subs     map[chan Event]struct{}
}

func NewHub() *Hub {
	return &Hub{
		channels: map[string]Channel{},
		jobs:     map[string]Job{},
		subs:     map[chan Event]struct{}{},
	}
}

// PublishChannel replaces the snapshot of c.Name, keeping the recording flag
// owned by the recording side.
func (h *Hub) PublishChannel(c Channel) {
	h.mu.Lock()
	if prev, ok := h.channels[c.Name]; ok {
		c.Recording = prev.Recording
	}
	h.channels[c.Name] = c
	h.broadcastLocked(Event{Kind: "channel", Channel: &c})
	h.mu.Unlock()
}

// SetRecording toggles the per-channel recording indicator.
func (h *Hub) SetRecording(name string, recording bool) {
	h.mu.Lock()
	c := h.channels[name]
	c.Name = name
	if c.State == "" {
		c.State = "idle"
	}
	c.Recording = recording
	h.channels[name] = c
	h.broadcastLocked(Event{Kind: "channel", Channel: &c})
	h.mu.Unlock()
}

// RemoveChannel forgets a channel that left the configuration.
func (h *Hub) RemoveChannel(name string) {
	h.mu.Lock()
	delete(h.channels, name)
	h.mu.Unlock()
}

// PublishJob replaces the snapshot of j.ID.
func (h *Hub) PublishJob(j Job) {
	h.mu.Lock()
	h.jobs[j.ID] = j
	h.broadcastLocked(Event{Kind: "job", Job: &j})
	h.mu.Unlock()
}

// PruneJobs drops finished jobs older than maxAge.
func (h *Hub) PruneJobs(now time.Time, maxAge time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, j := range h.jobs {
		if isTerminal(j.Status) && now.Sub(j.StartedAt.Add(j.Duration)) > maxAge {
			delete(h.jobs, id)
		}
	}
}

// SetRunning records whether the capture supervisor is running.
func (h *Hub) SetRunning(running bool) {
	h.mu.Lock()
	h.running = running
	h.broadcastLocked(Event{Kind: "supervisor", Running: &running})
	h.mu.Unlock()
}

// Snapshot returns channels and jobs sorted by name and start time.
func (h *Hub) Snapshot() Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s := Snapshot{Running: h.running, Channels: make([]Channel, 0, len(h.channels)), Jobs: make([]Job, 0, len(h.jobs))}
	for _, c := range h.channels {
		s.Channels = append(s.Channels, c)
	}
	for _, j := range h.jobs {
		s.Jobs = append(s.Jobs, j)
	}
	sort.Slice(s.Channels, func(i, j int) bool { return s.Channels[i].Name < s.Channels[j].Name })
	sort.Slice(s.Jobs, func(i, j int) bool { return s.Jobs[i].StartedAt.Before(s.Jobs[j].StartedAt) })
	return s
}

// Channel returns the snapshot of one channel.
func (h *Hub) Channel(name string) (Channel, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.channels[name]
	return c, ok
}

// Subscribe returns a buffered event stream and its cancel function.
func (h *Hub) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 32
	}
	ch := make(chan Event, buffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Caller must hold lock.
func (h *Hub) broadcastLocked(e Event) {
	for ch := range h.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func isTerminal(s string) bool {
	switch s {
	case "completed", "cancelled", "failed":
		return true
	}
	return false
}
