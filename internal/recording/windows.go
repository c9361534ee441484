// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package recording

import (
	"sort"
	"strings"
	"time"

	"github.com/ManuGH/tvscribe/internal/recognition"
	"github.com/ManuGH/tvscribe/internal/transcoder"
)

// Window is a keyword-bearing stretch of a recording.
type Window struct {
	Range    transcoder.TimeRange
	Text     string
	Keywords []string
}

// KeywordWindows returns the padded time ranges of segments that contain a
// keyword. Overlapping or touching windows are merged. limit clamps the end
// when positive.
func KeywordWindows(segs []recognition.Segment, keywords map[string]struct{}, padding, limit time.Duration) []Window {
	var hits []Window
	for _, s := range segs {
		kw := recognition.MatchKeywords(s.Text, keywords)
		if len(kw) == 0 {
			continue
		}
		start := seconds(s.Start) - padding
		if start < 0 {
			start = 0
		}
		end := seconds(s.End) + padding
		if limit > 0 && end > limit {
			end = limit
		}
		if end <= start {
			continue
		}
		hits = append(hits, Window{
			Range:    transcoder.TimeRange{Start: start, End: end},
			Text:     strings.TrimSpace(s.Text),
			Keywords: kw,
		})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Range.Start < hits[j].Range.Start })

	var out []Window
	for _, w := range hits {
		if n := len(out); n > 0 && w.Range.Start <= out[n-1].Range.End {
			last := &out[n-1]
			if w.Range.End > last.Range.End {
				last.Range.End = w.Range.End
			}
			last.Text += " " + w.Text
			last.Keywords = mergeSorted(last.Keywords, w.Keywords)
			continue
		}
		out = append(out, w)
	}
	return out
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}

func mergeSorted(a, b []string) []string {
	set := make(map[string]struct{}, len(a)+len(b))
	for _, s := range a {
		set[s] = struct{}{}
	}
	for _, s := range b {
		set[s] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
