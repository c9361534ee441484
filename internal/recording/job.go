// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package recording runs bounded-duration recording jobs and their
// post-processing: crop screening and keyword segment extraction.
package recording

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ManuGH/tvscribe/internal/channels"
	"github.com/ManuGH/tvscribe/internal/status"
)

// Status is the lifecycle state of a Job.
type Status int

const (
	Pending Status = iota
	Recording
	Cancelled
	Completed
	Failed
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Recording:
		return "recording"
	case Cancelled:
		return "cancelled"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool { return s >= Cancelled }

var (
	ErrJobNotFound = errors.New("recording job not found")
	// ErrJobActive is returned when a job for the same trigger is still running.
	ErrJobActive = errors.New("recording job already active for trigger")
	ErrNoURL     = errors.New("channel has no stream url")
	ErrShutdown  = errors.New("orchestrator is shut down")
)

// Request describes a job to start.
type Request struct {
	Channel  channels.Channel
	Duration time.Duration
	// Trigger is "manual" or the schedule trigger key.
	Trigger string
	Group   string
	// Screen requests crop screening after recording. It only takes effect for
	// crop-eligible channels with a crop rectangle.
	Screen bool
}

// Job is the handle of one recording. Its exported fields are immutable.
type Job struct {
	ID       string
	Channel  channels.Channel
	Trigger  string
	Group    string
	Start    time.Time
	Duration time.Duration
	Output   string
	screen   bool

	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	status    Status
	progress  int
	err       error
	cancelled bool
}

// Done is closed once the job reached a terminal state.
func (j *Job) Done() <-chan struct{} { return j.done }

func (j *Job) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// Progress returns the recorded share of Duration in percent.
func (j *Job) Progress() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.progress
}

// Err returns the failure cause of a Failed job.
func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// Wait blocks until the job finished or ctx is done.
func (j *Job) Wait(ctx context.Context) (Status, error) {
	select {
	case <-j.done:
		return j.Status(), nil
	case <-ctx.Done():
		return j.Status(), ctx.Err()
	}
}

// requestCancel marks the job cancelled unless it already finished. The
// first of cancel and completion to arrive wins.
func (j *Job) requestCancel() bool {
	j.mu.Lock()
	if j.status.Terminal() {
		j.mu.Unlock()
		return false
	}
	j.cancelled = true
	j.mu.Unlock()
	j.cancel()
	return true
}

func (j *Job) isCancelled() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cancelled
}

func (j *Job) setStatus(s Status) {
	j.mu.Lock()
	j.status = s
	j.mu.Unlock()
}

func (j *Job) setProgress(p int) bool {
	if p > 100 {
		p = 100
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if p <= j.progress {
		return false
	}
	j.progress = p
	return true
}

// finish moves the job to its terminal state. A pending cancellation
// overrides completion or failure.
func (j *Job) finish(s Status, err error) Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cancelled {
		s, err = Cancelled, nil
	}
	if s == Completed {
		j.progress = 100
	}
	j.status, j.err = s, err
	return s
}

func (j *Job) snapshot() status.Job {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := status.Job{
		ID:        j.ID,
		Channel:   j.Channel.Name,
		Group:     j.Group,
		Trigger:   j.Trigger,
		Status:    j.status.String(),
		Progress:  j.progress,
		StartedAt: j.Start,
		Duration:  j.Duration,
		Output:    j.Output,
	}
	if j.err != nil {
		out.Error = j.err.Error()
	}
	return out
}
