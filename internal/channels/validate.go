// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package channels

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/rs/zerolog"
)

const (
	MaxNameLen = 100
	MaxURLLen  = 500
)

// ErrInvalidField is the sentinel wrapped by every ValidationError.
var ErrInvalidField = errors.New("invalid field")

// ValidationError describes one rejected settings field.
type ValidationError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (e ValidationError) Error() string { return e.Field + ": " + e.Reason }

func (e ValidationError) Unwrap() error { return ErrInvalidField }

// ValidationErrors aggregates all field errors of one form.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	parts := make([]string, 0, len(v))
	for _, e := range v {
		parts = append(parts, e.Error())
	}
	return strings.Join(parts, "; ")
}

func (v ValidationErrors) Unwrap() error { return ErrInvalidField }

// Form is the string-typed settings record exchanged with the UI layer.
// Schedule and Lines are comma separated "HH:MM[=duration]" entries;
// SpecialDurations is a comma separated list of "HH:MM=duration".
type Form struct {
	Name             string `json:"name"`
	URL              string `json:"url"`
	Crop             string `json:"crop"`
	Interval         string `json:"interval"`
	Duration         string `json:"duration"`
	Schedule         string `json:"schedule"`
	Lines            string `json:"lines"`
	SpecialDurations string `json:"special_durations"`
}

// ValidateName enforces the channel name rules.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("must not be empty")
	}
	if len([]rune(name)) > MaxNameLen {
		return fmt.Errorf("longer than %d characters", MaxNameLen)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return fmt.Errorf("contains control characters")
		}
		if strings.ContainsRune(`<>&"'`, r) {
			return fmt.Errorf("contains HTML special character %q", r)
		}
	}
	return nil
}

// ValidateURL enforces an absolute http(s) URL of bounded length.
func ValidateURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("must not be empty")
	}
	if len(raw) > MaxURLLen {
		return fmt.Errorf("longer than %d characters", MaxURLLen)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("not a valid URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}

// ParseDuration parses a duration in minutes within [1,1440].
func ParseDuration(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("duration %q is not an integer", s)
	}
	if n < MinDurationMinutes || n > MaxDurationMinutes {
		return 0, fmt.Errorf("duration %d out of range [%d,%d]", n, MinDurationMinutes, MaxDurationMinutes)
	}
	return n, nil
}

// parseTimeEntries parses "HH:MM[=duration]" entries. Overrides are merged into overrides.
func parseTimeEntries(s string, overrides map[string]int, allowBare bool) ([]string, error) {
	var times []string
	seen := map[string]bool{}
	for _, raw := range strings.Split(s, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		clockPart, durPart, hasDur := strings.Cut(raw, "=")
		hhmm, err := ParseClock(clockPart)
		if err != nil {
			return nil, err
		}
		if hasDur {
			d, err := ParseDuration(durPart)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", hhmm, err)
			}
			overrides[hhmm] = d
		} else if !allowBare {
			return nil, fmt.Errorf("entry %q: want HH:MM=duration", raw)
		}
		if !seen[hhmm] {
			seen[hhmm] = true
			times = append(times, hhmm)
		}
	}
	sort.Strings(times)
	return times, nil
}

// ParseForm validates every field of f and returns the resulting channel.
// All offending fields are reported together.
func ParseForm(f Form) (Channel, error) {
	var errs ValidationErrors
	add := func(field string, err error) {
		errs = append(errs, ValidationError{Field: field, Reason: err.Error()})
	}

	ch := Channel{Name: strings.TrimSpace(f.Name), URL: strings.TrimSpace(f.URL)}
	if err := ValidateName(f.Name); err != nil {
		add("name", err)
	}
	if err := ValidateURL(ch.URL); err != nil {
		add("url", err)
	}
	if r, err := ParseRect(f.Crop); err != nil {
		add("crop", err)
	} else {
		ch.Crop = r
	}
	if iv, err := ParseInterval(f.Interval); err != nil {
		add("interval", err)
	} else {
		ch.Interval = iv
	}
	if strings.TrimSpace(f.Duration) != "" {
		if d, err := ParseDuration(f.Duration); err != nil {
			add("duration", err)
		} else {
			ch.DefaultDuration = d
		}
	}

	overrides := map[string]int{}
	if times, err := parseTimeEntries(f.Schedule, overrides, true); err != nil {
		add("schedule", err)
	} else {
		ch.Schedule = times
	}
	if times, err := parseTimeEntries(f.Lines, overrides, true); err != nil {
		add("lines", err)
	} else {
		ch.Lines = times
	}
	special := map[string]int{}
	if _, err := parseTimeEntries(f.SpecialDurations, special, false); err != nil {
		add("special_durations", err)
	}
	for k, v := range special {
		overrides[k] = v
	}
	for k := range overrides {
		if !ch.HasSchedule(k) && !ch.HasLines(k) {
			add("special_durations", fmt.Errorf("%s is not a schedule or lines time", k))
		}
	}
	if len(overrides) > 0 {
		ch.SpecialDurations = overrides
	}

	if len(errs) > 0 {
		return Channel{}, errs
	}
	return ch, nil
}

// FormatForm renders a channel back into its settings form.
func FormatForm(c Channel) Form {
	f := Form{
		Name:     c.Name,
		URL:      c.URL,
		Crop:     c.Crop.String(),
		Interval: c.Interval.String(),
		Schedule: strings.Join(c.Schedule, ", "),
		Lines:    strings.Join(c.Lines, ", "),
	}
	if c.DefaultDuration > 0 {
		f.Duration = strconv.Itoa(c.DefaultDuration)
	}
	keys := make([]string, 0, len(c.SpecialDurations))
	for k := range c.SpecialDurations {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	entries := make([]string, 0, len(keys))
	for _, k := range keys {
		entries = append(entries, fmt.Sprintf("%s=%d", k, c.SpecialDurations[k]))
	}
	f.SpecialDurations = strings.Join(entries, ", ")
	return f
}

// Sanitize drops malformed trigger times, out-of-range durations and overrides that
// do not refer to a schedule or lines time. Each dropped entry is logged once and
// the rest of the channel stays usable.
func Sanitize(c Channel, logger zerolog.Logger) Channel {
	out := c.Clone()
	warn := func(field, value, reason string) {
		logger.Warn().
			Str("event", "channels.entry_skipped").
			Str("channel", c.Name).
			Str("field", field).
			Str("value", value).
			Msg(reason)
	}
	clean := func(field string, in []string) []string {
		var kept []string
		for _, s := range in {
			hhmm, err := ParseClock(s)
			if err != nil {
				warn(field, s, err.Error())
				continue
			}
			if !contains(kept, hhmm) {
				kept = append(kept, hhmm)
			}
		}
		sort.Strings(kept)
		return kept
	}
	out.Schedule = clean("schedule", c.Schedule)
	out.Lines = clean("lines", c.Lines)

	if out.DefaultDuration != 0 && (out.DefaultDuration < MinDurationMinutes || out.DefaultDuration > MaxDurationMinutes) {
		warn("duration", strconv.Itoa(out.DefaultDuration), "duration out of range, using fallback")
		out.DefaultDuration = 0
	}

	if len(c.SpecialDurations) > 0 {
		out.SpecialDurations = make(map[string]int, len(c.SpecialDurations))
		for k, v := range c.SpecialDurations {
			hhmm, err := ParseClock(k)
			switch {
			case err != nil:
				warn("special_durations", k, err.Error())
			case !out.HasSchedule(hhmm) && !out.HasLines(hhmm):
				warn("special_durations", k, "override does not refer to a trigger time")
			case v < MinDurationMinutes || v > MaxDurationMinutes:
				warn("special_durations", k, "override duration out of range")
			default:
				out.SpecialDurations[hhmm] = v
			}
		}
	}
	return out
}
