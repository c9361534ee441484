// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFake_FiresInOrder(t *testing.T) {
	start := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	f := NewFake(start)

	late := f.NewTimer(2 * time.Second)
	early := f.NewTimer(time.Second)
	assert.Equal(t, 2, f.Pending())

	f.Advance(time.Second)
	select {
	case at := <-early.C():
		assert.Equal(t, start.Add(time.Second), at)
	default:
		t.Fatal("early timer did not fire")
	}
	select {
	case <-late.C():
		t.Fatal("late timer fired too soon")
	default:
	}

	assert.True(t, late.Stop())
	assert.False(t, late.Stop())
	f.Advance(time.Minute)
	assert.Equal(t, 0, f.Pending())
}

func TestFake_ResetRearms(t *testing.T) {
	f := NewFake(time.Unix(0, 0))
	tm := f.NewTimer(time.Second)
	f.Advance(time.Second)
	<-tm.C()

	assert.False(t, tm.Reset(time.Second))
	f.BlockUntil(1)
	f.Advance(time.Second)
	<-tm.C()
}
