// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package capture

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/tvscribe/internal/channels"
	"github.com/ManuGH/tvscribe/internal/clock"
)

func testFrame(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(5, 5, color.RGBA{R: 255, A: 255})
	return img
}

// mockStream fails the test when two reads overlap.
type mockStream struct {
	t        *testing.T
	inflight atomic.Bool
	reads    atomic.Int32
	failAt   int32
	delay    time.Duration
	closed   atomic.Bool
}

func (m *mockStream) ReadFrame(ctx context.Context) (image.Image, error) {
	if !m.inflight.CompareAndSwap(false, true) {
		m.t.Error("concurrent ReadFrame on one stream handle")
	}
	defer m.inflight.Store(false)
	n := m.reads.Add(1)
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.failAt > 0 && n == m.failAt {
		return nil, errors.New("codec error")
	}
	return testFrame(64, 48), nil
}

func (m *mockStream) Close() error {
	m.closed.Store(true)
	return nil
}

type mockOpener struct {
	mu      sync.Mutex
	opens   int
	failFor int
	streams []*mockStream
	newFn   func() *mockStream
}

func (o *mockOpener) Open(context.Context, string) (Stream, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opens++
	if o.opens <= o.failFor {
		return nil, errors.New("connection refused")
	}
	s := o.newFn()
	o.streams = append(o.streams, s)
	return s, nil
}

func (o *mockOpener) openCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opens
}

type frameLog struct {
	mu     sync.Mutex
	frames []Frame
}

func (f *frameLog) Submit(_ context.Context, fr Frame) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, fr)
}

func (f *frameLog) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

func (f *frameLog) times() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]time.Time, 0, len(f.frames))
	for _, fr := range f.frames {
		out = append(out, fr.At)
	}
	return out
}

func TestPreprocess(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	img := testFrame(100, 80)

	out := Preprocess(img, channels.Rect{Width: 10, Height: 20, X: 5, Y: 5}, logger)
	assert.Equal(t, image.Rect(5, 5, 15, 25), out.Bounds())
	assert.Empty(t, buf.String())

	out = Preprocess(img, channels.Rect{Width: 200, Height: 20, X: 0, Y: 0}, logger)
	assert.Same(t, img, out)
	assert.Equal(t, 1, strings.Count(buf.String(), "capture.crop_clamped"))

	buf.Reset()
	out = Preprocess(img, channels.Rect{Width: 10, Height: 10, X: 95, Y: 0}, logger)
	assert.Same(t, img, out)
	assert.Equal(t, 1, strings.Count(buf.String(), "\n"))

	buf.Reset()
	assert.Same(t, img, Preprocess(img, channels.Rect{}, logger))
	assert.Empty(t, buf.String())
}

func TestForceFlag_OncePerWorker(t *testing.T) {
	var f ForceFlag
	var a, b uint64
	assert.False(t, f.consume(&a))
	f.Set()
	assert.True(t, f.consume(&a))
	assert.False(t, f.consume(&a))
	assert.True(t, f.consume(&b))

	f.Set()
	f.Clear()
	assert.False(t, f.consume(&a))
}

// Scenario: interval 1/10, 25 simulated seconds, captures at t=10 and t=20.
func TestWorker_IntervalWithFakeClock(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	start := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	clk := clock.NewFake(start)
	opener := &mockOpener{newFn: func() *mockStream { return &mockStream{t: t} }}
	sink := &frameLog{}

	w := NewWorker(channels.Channel{Name: "X", URL: "http://x/live", Interval: channels.Interval{Captures: 1, Seconds: 10}},
		WorkerConfig{Opener: opener, Sink: sink, Force: &ForceFlag{}, Clock: clk})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	for i := 0; i < 25; i++ {
		clk.BlockUntil(1)
		clk.Advance(time.Second)
	}
	clk.BlockUntil(1)
	cancel()
	<-done

	assert.Equal(t, []time.Time{start.Add(10 * time.Second), start.Add(20 * time.Second)}, sink.times())
	assert.Equal(t, StateStopped, w.State())
}

func TestWorker_ForcedCaptureIsOneShot(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	clk := clock.NewFake(time.Unix(0, 0))
	opener := &mockOpener{newFn: func() *mockStream { return &mockStream{t: t} }}
	sink := &frameLog{}
	force := &ForceFlag{}
	w := NewWorker(channels.Channel{Name: "X", URL: "http://x", Interval: channels.Interval{Captures: 1, Seconds: 60}},
		WorkerConfig{Opener: opener, Sink: sink, Force: force, Clock: clk})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	clk.BlockUntil(1)
	force.Set()
	for i := 0; i < 3; i++ {
		clk.Advance(time.Second)
		clk.BlockUntil(1)
	}
	cancel()
	<-done

	require.Equal(t, 1, sink.count())
	assert.True(t, sink.frames[0].Forced)
}

func TestWorker_ReconnectsAfterReadFailure(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	clk := clock.NewFake(time.Unix(0, 0))
	var made atomic.Int32
	opener := &mockOpener{failFor: 1, newFn: func() *mockStream {
		if made.Add(1) == 1 {
			return &mockStream{t: t, failAt: 1}
		}
		return &mockStream{t: t}
	}}
	sink := &frameLog{}
	w := NewWorker(channels.Channel{Name: "X", URL: "http://x"},
		WorkerConfig{Opener: opener, Sink: sink, Clock: clk, Backoff: 5 * time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	// open fails, backoff
	clk.BlockUntil(1)
	assert.Equal(t, StateReconnecting, w.State())
	clk.Advance(5 * time.Second)

	// second open succeeds but its first read fails, backoff again
	clk.BlockUntil(1)
	assert.Equal(t, StateReconnecting, w.State())
	assert.Equal(t, 2, w.Status().Failures)
	clk.Advance(5 * time.Second)

	// third open, one good frame
	clk.BlockUntil(1)
	cancel()
	<-done

	assert.Equal(t, 3, opener.openCount())
	assert.Equal(t, 1, sink.count())
	assert.True(t, opener.streams[0].closed.Load())
	assert.Equal(t, 0, w.Status().Failures)
}

func TestWorker_PauseReleasesStream(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	clk := clock.NewFake(time.Unix(0, 0))
	opener := &mockOpener{newFn: func() *mockStream { return &mockStream{t: t} }}
	sink := &frameLog{}
	w := NewWorker(channels.Channel{Name: "X", URL: "http://x"}, WorkerConfig{Opener: opener, Sink: sink, Clock: clk})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	clk.BlockUntil(1)
	w.SetPaused(true)
	require.Eventually(t, func() bool { return w.State() == StatePaused }, time.Second, time.Millisecond)
	assert.True(t, opener.streams[0].closed.Load())

	for i := 0; i < 5; i++ {
		clk.BlockUntil(1)
		clk.Advance(time.Second)
	}
	assert.Equal(t, 0, sink.count())

	cancel()
	<-done
}

func TestSupervisor_StartSkipsChannelsWithoutURL(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	opener := &mockOpener{newFn: func() *mockStream { return &mockStream{t: t, delay: 10 * time.Millisecond} }}
	sup := NewSupervisor(SupervisorConfig{Opener: opener, Sink: &frameLog{}})

	report, err := sup.StartAll(context.Background(), map[string]channels.Channel{
		"a":   {Name: "a", URL: "http://a/live"},
		"b":   {Name: "b"},
		"off": {Name: "off", URL: "http://off", Disabled: true},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, report.Started)
	assert.Equal(t, "no stream url", report.Skipped["b"])
	assert.Contains(t, report.Skipped, "off")

	_, err = sup.StartAll(context.Background(), nil)
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	stop := sup.StopAll(time.Second)
	assert.Equal(t, []string{"a"}, stop.Stopped)
}

func TestSupervisor_NoChannelsStaysIdle(t *testing.T) {
	sup := NewSupervisor(SupervisorConfig{Opener: &mockOpener{}, Sink: &frameLog{}})
	_, err := sup.StartAll(context.Background(), map[string]channels.Channel{"b": {Name: "b"}})
	assert.ErrorIs(t, err, ErrNoChannels)
	assert.False(t, sup.Running())
	assert.Equal(t, StopReport{}, sup.StopAll(time.Second))
}

type stuckStream struct{ release chan struct{} }

func (s *stuckStream) ReadFrame(context.Context) (image.Image, error) {
	<-s.release
	return nil, ErrStreamClosed
}
func (s *stuckStream) Close() error { return nil }

func TestSupervisor_StopAllIsBoundedAndIdempotent(t *testing.T) {
	release := make(chan struct{})
	opener := &mockOpener{newFn: func() *mockStream { return &mockStream{t: t} }}
	stuck := &stuckStream{release: release}

	set := map[string]channels.Channel{}
	for _, n := range []string{"a", "b", "c"} {
		set[n] = channels.Channel{Name: n, URL: "http://" + n}
	}
	sup := NewSupervisor(SupervisorConfig{
		Opener: openerFunc(func(ctx context.Context, url string) (Stream, error) {
			if url == "http://b" {
				return stuck, nil
			}
			return opener.Open(ctx, url)
		}),
		Sink: &frameLog{},
	})
	_, err := sup.StartAll(context.Background(), set)
	require.NoError(t, err)
	time.Sleep(1100 * time.Millisecond)

	begin := time.Now()
	report := sup.StopAll(300 * time.Millisecond)
	elapsed := time.Since(begin)
	assert.Less(t, elapsed, 300*time.Millisecond+200*time.Millisecond)
	assert.Equal(t, []string{"b"}, report.Hung)
	assert.ElementsMatch(t, []string{"a", "c"}, report.Stopped)

	assert.NotPanics(t, func() {
		assert.Equal(t, StopReport{}, sup.StopAll(300*time.Millisecond))
	})
	close(release)
}

type openerFunc func(ctx context.Context, url string) (Stream, error)

func (f openerFunc) Open(ctx context.Context, url string) (Stream, error) { return f(ctx, url) }

func TestSupervisor_ForceCaptureReachesEveryWorker(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	opener := &mockOpener{newFn: func() *mockStream { return &mockStream{t: t} }}
	sink := &frameLog{}
	sup := NewSupervisor(SupervisorConfig{Opener: opener, Sink: sink})
	_, err := sup.StartAll(context.Background(), map[string]channels.Channel{
		"a": {Name: "a", URL: "http://a", Interval: channels.Interval{Captures: 1, Seconds: 600}},
		"b": {Name: "b", URL: "http://b", Interval: channels.Interval{Captures: 1, Seconds: 600}},
	})
	require.NoError(t, err)

	sup.ForceCaptureAll()
	require.Eventually(t, func() bool { return sink.count() == 2 }, 3*time.Second, 10*time.Millisecond)
	assert.True(t, sup.ForceActive())
	sup.ClearForceCapture()
	assert.False(t, sup.ForceActive())

	sup.StopAll(time.Second)
}

func TestSupervisor_ReconcileRestartsChangedChannels(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	opener := &mockOpener{newFn: func() *mockStream { return &mockStream{t: t, delay: 5 * time.Millisecond} }}
	sup := NewSupervisor(SupervisorConfig{Opener: opener, Sink: &frameLog{}})
	_, err := sup.StartAll(context.Background(), map[string]channels.Channel{
		"a": {Name: "a", URL: "http://a"},
		"b": {Name: "b", URL: "http://b"},
	})
	require.NoError(t, err)

	sup.Reconcile(map[string]channels.Channel{
		"a": {Name: "a", URL: "http://a"},
		"c": {Name: "c", URL: "http://c"},
	}, time.Second)

	var names []string
	for _, st := range sup.Statuses() {
		names = append(names, st.Name)
	}
	assert.Equal(t, []string{"a", "c"}, names)

	require.NoError(t, sup.SetPaused("a", true))
	assert.ErrorIs(t, sup.SetPaused("zzz", true), ErrUnknownChannel)
	sup.StopAll(time.Second)
}

func TestSupervisor_StopAllBoundedDuringReconcile(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	set := map[string]channels.Channel{}
	for _, n := range []string{"a", "b", "c"} {
		set[n] = channels.Channel{Name: n, URL: "http://" + n}
	}
	sup := NewSupervisor(SupervisorConfig{
		Opener: openerFunc(func(context.Context, string) (Stream, error) {
			return &stuckStream{release: release}, nil
		}),
		Sink: &frameLog{},
	})
	_, err := sup.StartAll(context.Background(), set)
	require.NoError(t, err)
	time.Sleep(1100 * time.Millisecond)

	changed := map[string]channels.Channel{}
	for n := range set {
		changed[n] = channels.Channel{Name: n, URL: "http://" + n + "/v2"}
	}
	reconciled := make(chan struct{})
	go func() {
		defer close(reconciled)
		sup.Reconcile(changed, 300*time.Millisecond)
	}()
	time.Sleep(50 * time.Millisecond)

	begin := time.Now()
	sup.StopAll(300 * time.Millisecond)
	assert.Less(t, time.Since(begin), 300*time.Millisecond+200*time.Millisecond)

	select {
	case <-reconciled:
	case <-time.After(2 * time.Second):
		t.Fatal("Reconcile did not return")
	}
	assert.False(t, sup.Running())
	assert.Empty(t, sup.Statuses(), "no replacement is spawned into a stopped pool")
}
