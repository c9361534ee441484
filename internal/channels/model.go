// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package channels holds the channel definitions the capture and recording
// components work from, together with their validation and persistence.
package channels

import (
	"fmt"
	"image"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	// FallbackDuration is used when a channel has neither an override nor a default duration.
	FallbackDuration = 10 * time.Minute

	MinDurationMinutes = 1
	MaxDurationMinutes = 1440
	MaxRectComponent   = 10000
	MaxIntervalPart    = 1000
)

// Rect is a crop rectangle in "W:H:X:Y" notation.
type Rect struct {
	Width  int
	Height int
	X      int
	Y      int
}

// IsZero reports whether no crop is configured.
func (r Rect) IsZero() bool { return r == Rect{} }

func (r Rect) String() string {
	if r.IsZero() {
		return ""
	}
	return fmt.Sprintf("%d:%d:%d:%d", r.Width, r.Height, r.X, r.Y)
}

// Image converts the rectangle to image coordinates.
func (r Rect) Image() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}

// ParseRect parses "W:H:X:Y". Width and height must be positive, offsets non-negative,
// and every component at most MaxRectComponent.
func ParseRect(s string) (Rect, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Rect{}, nil
	}
	parts := strings.Split(s, ":")
	if len(parts) != 4 {
		return Rect{}, fmt.Errorf("crop %q: want W:H:X:Y", s)
	}
	var v [4]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return Rect{}, fmt.Errorf("crop %q: component %d is not an integer", s, i+1)
		}
		if n < 0 || n > MaxRectComponent {
			return Rect{}, fmt.Errorf("crop %q: component %d out of range [0,%d]", s, i+1, MaxRectComponent)
		}
		v[i] = n
	}
	if v[0] == 0 || v[1] == 0 {
		return Rect{}, fmt.Errorf("crop %q: width and height must be positive", s)
	}
	return Rect{Width: v[0], Height: v[1], X: v[2], Y: v[3]}, nil
}

func (r Rect) MarshalYAML() (any, error) { return r.String(), nil }


// Interval is a capture rate "N/M": N captures every M seconds.
type Interval struct {
	Captures int
	Seconds  int
}

// DefaultInterval captures once per second.
var DefaultInterval = Interval{Captures: 1, Seconds: 1}

func (i Interval) IsZero() bool { return i == Interval{} }

func (i Interval) String() string {
	if i.IsZero() {
		return ""
	}
	return fmt.Sprintf("%d/%d", i.Captures, i.Seconds)
}

// Period returns the time between two captures.
func (i Interval) Period() time.Duration {
	if i.Captures <= 0 || i.Seconds <= 0 {
		return DefaultInterval.Period()
	}
	return time.Duration(i.Seconds) * time.Second / time.Duration(i.Captures)
}

// ParseInterval parses "N/M" with both parts positive and at most MaxIntervalPart.
func ParseInterval(s string) (Interval, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Interval{}, nil
	}
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		return Interval{}, fmt.Errorf("interval %q: want N/M", s)
	}
	n, err1 := strconv.Atoi(strings.TrimSpace(num))
	m, err2 := strconv.Atoi(strings.TrimSpace(den))
	if err1 != nil || err2 != nil {
		return Interval{}, fmt.Errorf("interval %q: parts must be integers", s)
	}
	if n <= 0 || m <= 0 || n > MaxIntervalPart || m > MaxIntervalPart {
		return Interval{}, fmt.Errorf("interval %q: parts must be in [1,%d]", s, MaxIntervalPart)
	}
	return Interval{Captures: n, Seconds: m}, nil
}

func (i Interval) MarshalYAML() (any, error) { return i.String(), nil }


// ParseClock validates a 24-hour "HH:MM" string and returns it in canonical form.
func ParseClock(s string) (string, error) {
	s = strings.TrimSpace(s)
	t, err := time.Parse("15:04", s)
	if err != nil || len(s) != 5 {
		return "", fmt.Errorf("time %q: want HH:MM (24h)", s)
	}
	return t.Format("15:04"), nil
}

// Clock formats t as "HH:MM" in its own location.
func Clock(t time.Time) string { return t.Format("15:04") }

// Channel is a named live video source with its capture and recording configuration.
// A Channel value is an immutable snapshot; edits produce a new value.
type Channel struct {
	Name             string         `yaml:"name"`
	URL              string         `yaml:"url"`
	Crop             Rect           `yaml:"crop,omitempty"`
	Interval         Interval       `yaml:"interval,omitempty"`
	Schedule         []string       `yaml:"schedule,omitempty"`
	Lines            []string       `yaml:"lines,omitempty"`
	DefaultDuration  int            `yaml:"duration,omitempty"`
	SpecialDurations map[string]int `yaml:"special_durations,omitempty"`
	Disabled         bool           `yaml:"disabled,omitempty"`
}

// HasSchedule reports whether hhmm is one of the full-recording trigger times.
func (c Channel) HasSchedule(hhmm string) bool { return contains(c.Schedule, hhmm) }

// HasLines reports whether hhmm is one of the lines-monitoring trigger times.
func (c Channel) HasLines(hhmm string) bool { return contains(c.Lines, hhmm) }

// CaptureInterval returns the configured interval or the default.
func (c Channel) CaptureInterval() Interval {
	if c.Interval.IsZero() {
		return DefaultInterval
	}
	return c.Interval
}

// Clone returns a deep copy.
func (c Channel) Clone() Channel {
	out := c
	out.Schedule = append([]string(nil), c.Schedule...)
	out.Lines = append([]string(nil), c.Lines...)
	if c.SpecialDurations != nil {
		out.SpecialDurations = make(map[string]int, len(c.SpecialDurations))
		for k, v := range c.SpecialDurations {
			out.SpecialDurations[k] = v
		}
	}
	return out
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// Names returns the sorted channel names of a set.
func Names(set map[string]Channel) []string {
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
