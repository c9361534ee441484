// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package dedup

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedSimilarity(v float64) Similarity {
	return func(a, b string) float64 {
		if a == b {
			return 1
		}
		return v
	}
}

func clockAt(t time.Time) func() time.Time { return func() time.Time { return t } }

func TestIndex_AdmitThenDuplicate(t *testing.T) {
	ctx := context.Background()
	idx := NewIndex(NewMemoryCorpus(), Options{})

	require.NoError(t, idx.Admit(ctx, "Пожар на складе в Казани", "ch1"))
	assert.True(t, idx.IsDuplicate(ctx, "Пожар на складе в Казани", "ch1"))
	assert.True(t, idx.IsDuplicate(ctx, "Пожар на складе в Казани", "ch1"))
}

func TestIndex_ThresholdIsStrict(t *testing.T) {
	ctx := context.Background()
	now := clockAt(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))

	dup := NewIndex(NewMemoryCorpus(), Options{Similarity: fixedSimilarity(0.81), Now: now})
	require.NoError(t, dup.Admit(ctx, "first text", "ch"))
	assert.True(t, dup.IsDuplicate(ctx, "second text", "other"))

	notDup := NewIndex(NewMemoryCorpus(), Options{Similarity: fixedSimilarity(0.79), Now: now})
	require.NoError(t, notDup.Admit(ctx, "first text", "ch"))
	assert.False(t, notDup.IsDuplicate(ctx, "second text", "ch"))
}

func TestIndex_SessionMemoryRecordsOnFalse(t *testing.T) {
	ctx := context.Background()
	idx := NewIndex(nil, Options{})

	assert.False(t, idx.IsDuplicate(ctx, "Курс доллара вырос до ста рублей", "ch1"))
	assert.True(t, idx.IsDuplicate(ctx, "Курс доллара вырос до ста рублей", "ch1"))
	// Hash set is session-wide.
	assert.True(t, idx.IsDuplicate(ctx, "курс доллара вырос до ста рублей!", "ch2"))
	// Near match is only checked against the same channel.
	assert.False(t, idx.IsDuplicate(ctx, "Курс доллара вырос до ста рублей сегодня утром", "ch2"))
	assert.True(t, idx.IsDuplicate(ctx, "Курс доллара вырос до ста рублей сегодня", "ch1"))
}

func TestIndex_StricterSessionThreshold(t *testing.T) {
	ctx := context.Background()
	idx := NewIndex(nil, Options{Similarity: fixedSimilarity(0.85)})
	assert.False(t, idx.IsDuplicateWithin(ctx, "alpha", "ch", 0.9))
	assert.False(t, idx.IsDuplicateWithin(ctx, "beta", "ch", 0.9))
	assert.True(t, idx.IsDuplicate(ctx, "gamma", "ch"))
}

func TestIndex_TrailingPunctuationAcrossRestart(t *testing.T) {
	ctx := context.Background()
	corpus := NewMemoryCorpus()
	day := time.Date(2026, 3, 1, 9, 0, 0, 0, time.Local)

	first := NewIndex(corpus, Options{Now: clockAt(day)})
	require.False(t, first.IsDuplicate(ctx, "Открытие завода в Москве", "news"))
	require.NoError(t, first.Admit(ctx, "Открытие завода в Москве", "news"))

	restarted := NewIndex(corpus, Options{Now: clockAt(day.Add(2 * time.Minute))})
	n, err := restarted.Seed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, restarted.IsDuplicate(ctx, "Открытие завода в Москве.", "news"))
}

func TestIndex_RotatePurgesPreviousDay(t *testing.T) {
	ctx := context.Background()
	corpus := NewMemoryCorpus()
	now := time.Date(2026, 3, 1, 23, 59, 0, 0, time.Local)
	idx := NewIndex(corpus, Options{Now: func() time.Time { return now }})

	require.NoError(t, idx.Admit(ctx, "late evening story about trains", "ch"))
	now = now.Add(2 * time.Minute)
	require.NoError(t, idx.Rotate(ctx, now))

	entries, err := corpus.Entries(ctx, "2026-03-01")
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.False(t, idx.IsDuplicate(ctx, "late evening story about trains", "ch"))

	// Same day again is a no-op.
	require.NoError(t, idx.Rotate(ctx, now))
	assert.True(t, idx.IsDuplicate(ctx, "late evening story about trains", "ch"))
}

type failingCorpus struct{ MemoryCorpus }

func (*failingCorpus) Entries(context.Context, string) ([]Entry, error) {
	return nil, errors.New("disk gone")
}

func TestIndex_CorpusFailureDegradesToSession(t *testing.T) {
	ctx := context.Background()
	idx := NewIndex(&failingCorpus{}, Options{})
	assert.False(t, idx.IsDuplicate(ctx, "weather warning for the north", "ch"))
	assert.True(t, idx.IsDuplicate(ctx, "weather warning for the north", "ch"))
}

func TestIndex_SameChannelConcurrentChecksAdmitOnce(t *testing.T) {
	ctx := context.Background()
	idx := NewIndex(NewMemoryCorpus(), Options{})

	var wg sync.WaitGroup
	var fresh atomic.Int32
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !idx.IsDuplicate(ctx, "Ураган приближается к побережью", "ch") {
				fresh.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), fresh.Load())
}
