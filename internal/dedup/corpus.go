// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package dedup

import (
	"context"
	"sync"
	"time"
)

// DayLayout is the calendar-day key format of the daily corpus.
const DayLayout = "2006-01-02"

// Day returns the corpus day key for t in t's location.
func Day(t time.Time) string { return t.Format(DayLayout) }

// Entry is one accepted text of the daily corpus.
type Entry struct {
	Text    string    `json:"text"`
	Channel string    `json:"channel"`
	At      time.Time `json:"at"`
}

// Corpus persists the accepted texts of each calendar day. Implementations
// must be safe for concurrent use; several processes may share one backend.
type Corpus interface {
	// Entries returns every entry recorded for day, oldest first.
	Entries(ctx context.Context, day string) ([]Entry, error)
	// Append records e under day.
	Append(ctx context.Context, day string, e Entry) error
	// Purge deletes every day strictly before keepFrom.
	Purge(ctx context.Context, keepFrom string) error
	Close() error
}

// MemoryCorpus is a process-local Corpus.
type MemoryCorpus struct {
	mu   sync.RWMutex
	days map[string][]Entry
}

func NewMemoryCorpus() *MemoryCorpus {
	return &MemoryCorpus{days: map[string][]Entry{}}
}

func (m *MemoryCorpus) Entries(_ context.Context, day string) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Entry(nil), m.days[day]...), nil
}

func (m *MemoryCorpus) Append(_ context.Context, day string, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.days[day] = append(m.days[day], e)
	return nil
}

func (m *MemoryCorpus) Purge(_ context.Context, keepFrom string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for day := range m.days {
		if day < keepFrom {
			delete(m.days, day)
		}
	}
	return nil
}

func (m *MemoryCorpus) Close() error { return nil }
