// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package schedule matches the wall clock against per-channel trigger times
// and fans due triggers out to the recording orchestrator.
package schedule

import (
	"sort"
	"time"

	"github.com/ManuGH/tvscribe/internal/channels"
)

// Trigger is one channel whose schedule and/or lines set contains the current minute.
// Schedule and Lines are independent outcomes.
type Trigger struct {
	Channel  channels.Channel
	At       time.Time
	Clock    string
	Schedule bool
	Lines    bool
	Duration time.Duration
}

// Key identifies a trigger for at-most-one-job enforcement.
func (t Trigger) Key() string {
	return t.Channel.Name + "@" + t.At.Format("2006-01-02T15:04")
}

// DueTriggers returns, sorted by channel name, every enabled channel for which
// now (truncated to the minute) is in its schedule or lines set.
func DueTriggers(now time.Time, set map[string]channels.Channel) []Trigger {
	minute := now.Truncate(time.Minute)
	hhmm := channels.Clock(minute)

	var out []Trigger
	for _, name := range channels.Names(set) {
		ch := set[name]
		if ch.Disabled {
			continue
		}
		sched, lines := ch.HasSchedule(hhmm), ch.HasLines(hhmm)
		if !sched && !lines {
			continue
		}
		out = append(out, Trigger{
			Channel:  ch,
			At:       minute,
			Clock:    hhmm,
			Schedule: sched,
			Lines:    lines,
			Duration: ResolveDurationValue(ch, hhmm),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Channel.Name < out[j].Channel.Name })
	return out
}

// ResolveDuration returns the recording length in minutes for a trigger at
// hhmm: the special override, else the channel default, else the fallback.
func ResolveDuration(ch channels.Channel, hhmm string) int {
	if d, ok := ch.SpecialDurations[hhmm]; ok && d > 0 {
		return d
	}
	if ch.DefaultDuration > 0 {
		return ch.DefaultDuration
	}
	return int(channels.FallbackDuration / time.Minute)
}

// ResolveDurationValue is ResolveDuration as a time.Duration.
func ResolveDurationValue(ch channels.Channel, hhmm string) time.Duration {
	return time.Duration(ResolveDuration(ch, hhmm)) * time.Minute
}
