// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package clock abstracts wall-clock time so that loops driven by timers can
// be tested deterministically.
package clock

import (
	"sort"
	"sync"
	"time"
)

// Clock interface for mocking time
type Clock interface {
	Now() time.Time
	NewTimer(d time.Duration) Timer
}

// Timer interface for mocking time.Timer
type Timer interface {
	C() <-chan time.Time
	Stop() bool
	Reset(d time.Duration) bool
}

// Real implements Clock using the time package.
type Real struct{}

func (Real) Now() time.Time { return time.Now() }
func (Real) NewTimer(d time.Duration) Timer {
	return &realTimer{t: time.NewTimer(d)}
}

type realTimer struct {
	t *time.Timer
}

func (r *realTimer) C() <-chan time.Time        { return r.t.C }
func (r *realTimer) Stop() bool                 { return r.t.Stop() }
func (r *realTimer) Reset(d time.Duration) bool { return r.t.Reset(d) }

// Fake is a manually advanced Clock. Timers fire during Advance once their
// deadline is reached.
type Fake struct {
	mu      sync.Mutex
	cond    *sync.Cond
	now     time.Time
	pending []*fakeTimer
}

// NewFake returns a Fake clock set to start.
func NewFake(start time.Time) *Fake {
	f := &Fake{now: start}
	f.cond = sync.NewCond(&f.mu)
	return f
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) NewTimer(d time.Duration) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTimer{clock: f, ch: make(chan time.Time, 1)}
	f.scheduleLocked(t, d)
	return t
}

// Advance moves the clock forward by d and fires every due timer in deadline order.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
	sort.Slice(f.pending, func(i, j int) bool { return f.pending[i].deadline.Before(f.pending[j].deadline) })
	kept := f.pending[:0]
	for _, t := range f.pending {
		if t.deadline.After(f.now) {
			kept = append(kept, t)
			continue
		}
		t.active = false
		select {
		case t.ch <- f.now:
		default:
		}
	}
	f.pending = kept
	f.cond.Broadcast()
}

// BlockUntil waits until at least n timers are pending.
func (f *Fake) BlockUntil(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for len(f.pending) < n {
		f.cond.Wait()
	}
}

// Pending returns the number of armed timers.
func (f *Fake) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}

func (f *Fake) scheduleLocked(t *fakeTimer, d time.Duration) {
	t.deadline = f.now.Add(d)
	t.active = true
	f.pending = append(f.pending, t)
	f.cond.Broadcast()
}

func (f *Fake) removeLocked(t *fakeTimer) bool {
	for i, p := range f.pending {
		if p == t {
			f.pending = append(f.pending[:i], f.pending[i+1:]...)
			t.active = false
			f.cond.Broadcast()
			return true
		}
	}
	return false
}

type fakeTimer struct {
	clock    *Fake
	ch       chan time.Time
	deadline time.Time
	active   bool
}

func (t *fakeTimer) C() <-chan time.Time { return t.ch }

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	return t.clock.removeLocked(t)
}

func (t *fakeTimer) Reset(d time.Duration) bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	was := t.clock.removeLocked(t)
	t.clock.scheduleLocked(t, d)
	return was
}
