// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package schedule

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/tvscribe/internal/channels"
	"github.com/ManuGH/tvscribe/internal/clock"
)

func TestResolveDuration(t *testing.T) {
	ch := channels.Channel{Name: "ch", DefaultDuration: 10, SpecialDurations: map[string]int{"14:00": 20}}
	assert.Equal(t, 20, ResolveDuration(ch, "14:00"))
	assert.Equal(t, 10, ResolveDuration(ch, "09:00"))
	assert.Equal(t, 10, ResolveDuration(channels.Channel{Name: "bare"}, "09:00"))
	assert.Equal(t, 20*time.Minute, ResolveDurationValue(ch, "14:00"))
}

func TestDueTriggers(t *testing.T) {
	set := map[string]channels.Channel{
		"Y":   {Name: "Y", Schedule: []string{"08:00"}, Lines: []string{"08:00"}},
		"A":   {Name: "A", Lines: []string{"08:00"}, DefaultDuration: 3},
		"off": {Name: "off", Schedule: []string{"08:00"}, Disabled: true},
		"Z":   {Name: "Z", Schedule: []string{"09:00"}},
	}
	now := time.Date(2026, 5, 4, 8, 0, 42, 0, time.Local)

	got := DueTriggers(now, set)
	require.Len(t, got, 2)
	assert.Equal(t, "A", got[0].Channel.Name)
	assert.False(t, got[0].Schedule)
	assert.True(t, got[0].Lines)
	assert.Equal(t, 3*time.Minute, got[0].Duration)

	assert.Equal(t, "Y", got[1].Channel.Name)
	assert.True(t, got[1].Schedule)
	assert.True(t, got[1].Lines)
	assert.Equal(t, "08:00", got[1].Clock)
	assert.Equal(t, time.Date(2026, 5, 4, 8, 0, 0, 0, time.Local), got[1].At)

	assert.Empty(t, DueTriggers(now.Add(time.Minute), set))
}

type staticSource map[string]channels.Channel

func (s staticSource) Channels() map[string]channels.Channel { return s }

type collector struct {
	mu   sync.Mutex
	keys []string
}

func (c *collector) Dispatch(_ context.Context, t Trigger) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys = append(c.keys, t.Key())
}

func (c *collector) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.keys...)
}

func TestTicker_OncePerMinute(t *testing.T) {
	src := staticSource{"Y": {Name: "Y", Schedule: []string{"08:00"}}}
	col := &collector{}
	tk := NewTicker(src, col, clock.NewFake(time.Time{}))
	assert.True(t, tk.LastTick().IsZero())

	base := time.Date(2026, 5, 4, 8, 0, 0, 0, time.Local)
	for s := 0; s < 90; s++ {
		tk.Tick(context.Background(), base.Add(time.Duration(s)*time.Second))
	}
	assert.Equal(t, []string{"Y@2026-05-04T08:00"}, col.snapshot())
	assert.True(t, tk.LastTick().Equal(base.Add(89*time.Second)))

	// Next day, same trigger time fires again.
	tk.Tick(context.Background(), base.AddDate(0, 0, 1))
	assert.Len(t, col.snapshot(), 2)
}

func TestTicker_RunWithFakeClock(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	start := time.Date(2026, 5, 4, 7, 59, 58, 0, time.Local)
	clk := clock.NewFake(start)
	src := staticSource{"Y": {Name: "Y", Schedule: []string{"08:00"}, Lines: []string{"08:00"}}}
	col := &collector{}

	var days []time.Time
	var dmu sync.Mutex
	tk := NewTicker(src, col, clk)
	tk.OnNewDay = func(_ context.Context, now time.Time) {
		dmu.Lock()
		days = append(days, now)
		dmu.Unlock()
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		tk.Run(ctx)
		close(done)
	}()

	for i := 0; i < 5; i++ {
		clk.BlockUntil(1)
		clk.Advance(time.Second)
	}
	clk.BlockUntil(1)
	cancel()
	<-done

	assert.Equal(t, []string{"Y@2026-05-04T08:00"}, col.snapshot())
	dmu.Lock()
	assert.Empty(t, days)
	dmu.Unlock()
}

func TestTicker_NewDayHook(t *testing.T) {
	tk := NewTicker(staticSource{}, &collector{}, clock.NewFake(time.Time{}))
	var calls int
	tk.OnNewDay = func(context.Context, time.Time) { calls++ }
	tk.lastDay = "2026-05-04"

	tk.Tick(context.Background(), time.Date(2026, 5, 4, 23, 59, 59, 0, time.Local))
	tk.Tick(context.Background(), time.Date(2026, 5, 5, 0, 0, 0, 0, time.Local))
	tk.Tick(context.Background(), time.Date(2026, 5, 5, 0, 0, 1, 0, time.Local))
	assert.Equal(t, 1, calls)
}
