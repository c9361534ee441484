// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package schedule

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/tvscribe/internal/channels"
	"github.com/ManuGH/tvscribe/internal/clock"
	xglog "github.com/ManuGH/tvscribe/internal/log"
)

// ChannelSource yields the current channel snapshot.
type ChannelSource interface {
	Channels() map[string]channels.Channel
}

// Dispatcher receives due triggers. Dispatch must not block the tick.
type Dispatcher interface {
	Dispatch(ctx context.Context, t Trigger)
}

// DispatchFunc adapts a function to Dispatcher.
type DispatchFunc func(ctx context.Context, t Trigger)

func (f DispatchFunc) Dispatch(ctx context.Context, t Trigger) { f(ctx, t) }

// Ticker evaluates triggers once per second and fires each channel at most
// once per trigger minute, however many ticks land in that minute.
type Ticker struct {
	source     ChannelSource
	dispatcher Dispatcher
	clock      clock.Clock
	logger     zerolog.Logger

	// Interval between evaluations. Defaults to one second.
	Interval time.Duration
	// OnNewDay runs when the local calendar day changes between ticks.
	OnNewDay func(ctx context.Context, now time.Time)

	lastTick   atomic.Int64
	lastMinute time.Time
	lastDay    string
	fired      map[string]struct{}
}

// NewTicker creates a ticker over source that dispatches to d.
func NewTicker(source ChannelSource, d Dispatcher, clk clock.Clock) *Ticker {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Ticker{
		source:     source,
		dispatcher: d,
		clock:      clk,
		logger:     xglog.WithComponent("schedule"),
		Interval:   time.Second,
		fired:      map[string]struct{}{},
	}
}

// Run loops until ctx is cancelled.
func (t *Ticker) Run(ctx context.Context) {
	t.logger.Info().Str("event", "schedule.start").Msg("schedule ticker started")
	t.lastDay = t.clock.Now().Format("2006-01-02")

	timer := t.clock.NewTimer(t.Interval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			t.logger.Info().Str("event", "schedule.stop").Msg("schedule ticker stopped")
			return
		case <-timer.C():
			t.Tick(ctx, t.clock.Now())
			timer.Reset(t.Interval)
		}
	}
}

// LastTick returns the time of the most recent evaluation, or zero before the first.
func (t *Ticker) LastTick() time.Time {
	n := t.lastTick.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Tick evaluates the triggers for now. It is exported for tests and manual runs.
func (t *Ticker) Tick(ctx context.Context, now time.Time) {
	if day := now.Format("2006-01-02"); day != t.lastDay {
		t.lastDay = day
		if t.OnNewDay != nil {
			t.OnNewDay(ctx, now)
		}
	}

	t.lastTick.Store(now.UnixNano())

	minute := now.Truncate(time.Minute)
	if !minute.Equal(t.lastMinute) {
		t.lastMinute = minute
		// Keys from earlier minutes can never match again.
		t.fired = map[string]struct{}{}
	}

	for _, trig := range DueTriggers(now, t.source.Channels()) {
		key := trig.Key()
		if _, done := t.fired[key]; done {
			continue
		}
		t.fired[key] = struct{}{}
		t.logger.Info().
			Str("event", "schedule.trigger").
			Str(xglog.FieldChannel, trig.Channel.Name).
			Str(xglog.FieldTrigger, trig.Clock).
			Bool("schedule", trig.Schedule).
			Bool("lines", trig.Lines).
			Dur("duration", trig.Duration).
			Msg("trigger due")
		t.dispatcher.Dispatch(ctx, trig)
	}
}
