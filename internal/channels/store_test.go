// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package channels

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDoc = `keywords:
  - Завод
  - Moscow
channels:
  - name: X
    url: http://example.com/x.m3u8
    interval: 1/10
    crop: 100:20:0:0
    schedule: ["08:00", "14:00"]
    lines: ["08:00"]
    duration: 10
    special_durations:
      "14:00": 20
  - name: NoURL
`

func writeDoc(t *testing.T, path, body string, mod time.Time) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	require.NoError(t, os.Chtimes(path, mod, mod))
}

func TestStore_LoadChannelsAndKeywords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "channels.yaml")
	writeDoc(t, path, sampleDoc, time.Now())

	s := NewStore(path)
	set, err := s.LoadChannels()
	require.NoError(t, err)
	require.Len(t, set, 2)

	x := set["X"]
	assert.Equal(t, Interval{Captures: 1, Seconds: 10}, x.Interval)
	assert.Equal(t, Rect{Width: 100, Height: 20}, x.Crop)
	assert.Equal(t, map[string]int{"14:00": 20}, x.SpecialDurations)
	assert.Empty(t, set["NoURL"].URL)

	kws, err := s.LoadKeywords()
	require.NoError(t, err)
	assert.Contains(t, kws, "завод")
	assert.Contains(t, kws, "moscow")
}

func TestStore_FreshnessWindow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "channels.yaml")
	t0 := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	writeDoc(t, path, sampleDoc, t0)

	now := t0
	s := NewStore(path)
	s.now = func() time.Time { return now }

	set, err := s.LoadChannels()
	require.NoError(t, err)
	require.Len(t, set, 2)

	// Edit the file; inside the window the cached set is served.
	writeDoc(t, path, "channels:\n  - name: Only\n    url: http://h/s\n", t0.Add(time.Minute))
	now = t0.Add(10 * time.Second)
	set, err = s.LoadChannels()
	require.NoError(t, err)
	assert.Len(t, set, 2)

	// After the window the modification time is noticed.
	now = t0.Add(31 * time.Second)
	set, err = s.LoadChannels()
	require.NoError(t, err)
	assert.Len(t, set, 1)
	assert.Contains(t, set, "Only")
}

func TestStore_InvalidFileKeepsPreviousSet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "channels.yaml")
	writeDoc(t, path, sampleDoc, time.Now().Add(-time.Hour))

	s := NewStore(path)
	_, err := s.LoadChannels()
	require.NoError(t, err)

	writeDoc(t, path, "channels: [::", time.Now())
	s.Invalidate()
	_, err = s.LoadChannels()
	require.Error(t, err)

	r := NewRegistry(s)
	assert.Len(t, r.Channels(), 0, "registry never saw a good set")
}

func TestStore_SaveChannelsKeepsKeywords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "channels.yaml")
	writeDoc(t, path, sampleDoc, time.Now().Add(-time.Hour))
	s := NewStore(path)

	notified := make(chan struct{}, 1)
	s.Subscribe(notified)

	set, err := s.LoadChannels()
	require.NoError(t, err)
	delete(set, "NoURL")
	ch := set["X"]
	ch.DefaultDuration = 30
	set["X"] = ch
	require.NoError(t, s.SaveChannels(set))

	select {
	case <-notified:
	default:
		t.Fatal("expected change notification")
	}

	reloaded := NewStore(path)
	got, err := reloaded.LoadChannels()
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 30, got["X"].DefaultDuration)
	kws, err := reloaded.LoadKeywords()
	require.NoError(t, err)
	assert.Len(t, kws, 2)
}

func TestStore_MissingFileIsEmpty(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "absent.yaml"))
	set, err := s.LoadChannels()
	require.NoError(t, err)
	assert.Empty(t, set)
}

func TestStore_MalformedEntryValuesFallBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "channels.yaml")
	writeDoc(t, path, `channels:
  - name: Good
    url: http://h/good
    crop: 100:20:0:0
    interval: 1/10
  - name: Bad
    url: http://h/bad
    crop: 0:20:0:0
    interval: ten
`, time.Now())

	set, err := NewStore(path).LoadChannels()
	require.NoError(t, err)
	require.Len(t, set, 2)

	assert.Equal(t, Rect{Width: 100, Height: 20}, set["Good"].Crop)
	assert.Equal(t, Interval{Captures: 1, Seconds: 10}, set["Good"].Interval)

	bad := set["Bad"]
	assert.True(t, bad.Crop.IsZero(), "bad crop falls back to the full frame")
	assert.True(t, bad.Interval.IsZero())
	assert.Equal(t, DefaultInterval, bad.CaptureInterval())
	assert.Equal(t, "http://h/bad", bad.URL)
}

func TestStore_BrokenFileReadOncePerVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "channels.yaml")
	t0 := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	writeDoc(t, path, sampleDoc, t0)

	now := t0
	s := NewStore(path)
	s.now = func() time.Time { return now }
	_, err := s.LoadChannels()
	require.NoError(t, err)

	writeDoc(t, path, "channels: [::", t0.Add(time.Minute))
	now = t0.Add(time.Minute)
	s.Invalidate()
	_, err = s.LoadChannels()
	require.Error(t, err)

	// Replace the content behind the store's back but keep the broken
	// version's mtime: a re-read would now succeed, so an error here shows
	// the file was not parsed again.
	writeDoc(t, path, "channels:\n  - name: Only\n    url: http://h/s\n", t0.Add(time.Minute))
	now = t0.Add(time.Minute + time.Second)
	_, err = s.LoadChannels()
	require.Error(t, err, "inside the window the failure is served from memory")
	now = t0.Add(2 * time.Minute)
	_, err = s.LoadChannels()
	require.Error(t, err, "same modification time is not parsed again")

	r := NewRegistry(s)
	assert.Empty(t, r.Channels())

	// A new version is picked up after the window.
	writeDoc(t, path, "channels:\n  - name: Only\n    url: http://h/s\n", t0.Add(3*time.Minute))
	now = t0.Add(3 * time.Minute)
	set, err := s.LoadChannels()
	require.NoError(t, err)
	assert.Contains(t, set, "Only")
}
