// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package dedup

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	xglog "github.com/ManuGH/tvscribe/internal/log"
)

// DefaultThreshold is the similarity above which two texts are duplicates.
const DefaultThreshold = 0.8

// Options configures an Index.
type Options struct {
	// CorpusThreshold applies to the persisted daily corpus.
	CorpusThreshold float64
	// SessionThreshold applies to texts seen by this process for the same channel.
	SessionThreshold float64
	// Similarity defaults to NormalizedRatio.
	Similarity Similarity
	// Now defaults to time.Now.
	Now func() time.Time
}

type channelMemory struct {
	mu    sync.Mutex
	texts []string
}

// Index is the duplicate text index. Checks for the same channel are
// serialized; different channels only contend on the corpus and hash-set locks.
type Index struct {
	corpus           Corpus
	similarity       Similarity
	corpusThreshold  float64
	sessionThreshold float64
	now              func() time.Time
	logger           zerolog.Logger

	corpusMu sync.Mutex

	mu       sync.Mutex
	day      string
	hashes   map[string]struct{}
	channels map[string]*channelMemory
}

// NewIndex builds an Index over corpus. A nil corpus keeps only session memory.
func NewIndex(corpus Corpus, opts Options) *Index {
	if opts.CorpusThreshold <= 0 {
		opts.CorpusThreshold = DefaultThreshold
	}
	if opts.SessionThreshold <= 0 {
		opts.SessionThreshold = DefaultThreshold
	}
	if opts.Similarity == nil {
		opts.Similarity = NormalizedRatio
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	idx := &Index{
		corpus:           corpus,
		similarity:       opts.Similarity,
		corpusThreshold:  opts.CorpusThreshold,
		sessionThreshold: opts.SessionThreshold,
		now:              opts.Now,
		logger:           xglog.WithComponent("dedup"),
		hashes:           map[string]struct{}{},
		channels:         map[string]*channelMemory{},
	}
	idx.day = Day(idx.now())
	return idx
}

// IsDuplicate reports whether text was already accepted today or seen this
// session on channel. When it returns false the text is recorded as seen.
func (x *Index) IsDuplicate(ctx context.Context, text, channel string) bool {
	return x.IsDuplicateWithin(ctx, text, channel, x.sessionThreshold)
}

// IsDuplicateWithin is IsDuplicate with a caller supplied session threshold,
// e.g. 0.9 for stricter contexts.
func (x *Index) IsDuplicateWithin(ctx context.Context, text, channel string, sessionThreshold float64) bool {
	mem := x.memory(channel)
	mem.mu.Lock()
	defer mem.mu.Unlock()

	if x.matchesCorpus(ctx, text) {
		return true
	}

	hash := Hash(text)
	x.mu.Lock()
	_, seen := x.hashes[hash]
	x.mu.Unlock()
	if seen {
		x.logger.Debug().Str("event", "dedup.hash_hit").Str(xglog.FieldChannel, channel).Msg("exact duplicate within session")
		return true
	}

	for _, prev := range mem.texts {
		if x.similarity(text, prev) > sessionThreshold {
			x.logger.Debug().Str("event", "dedup.session_hit").Str(xglog.FieldChannel, channel).Msg("near duplicate within session")
			return true
		}
	}

	mem.texts = append(mem.texts, text)
	x.mu.Lock()
	x.hashes[hash] = struct{}{}
	x.mu.Unlock()
	return false
}

// Admit appends an accepted text to the daily corpus and to session memory.
func (x *Index) Admit(ctx context.Context, text, channel string) error {
	mem := x.memory(channel)
	mem.mu.Lock()
	if !containsString(mem.texts, text) {
		mem.texts = append(mem.texts, text)
	}
	mem.mu.Unlock()

	x.mu.Lock()
	x.hashes[Hash(text)] = struct{}{}
	x.mu.Unlock()

	if x.corpus == nil {
		return nil
	}
	now := x.now()
	x.corpusMu.Lock()
	defer x.corpusMu.Unlock()
	return x.corpus.Append(ctx, Day(now), Entry{Text: text, Channel: channel, At: now})
}

// Rotate starts a new calendar day: it purges earlier days from the corpus
// and forgets session memory. It is a no-op when the day did not change.
func (x *Index) Rotate(ctx context.Context, now time.Time) error {
	day := Day(now)
	x.mu.Lock()
	if day == x.day {
		x.mu.Unlock()
		return nil
	}
	x.day = day
	x.hashes = map[string]struct{}{}
	x.channels = map[string]*channelMemory{}
	x.mu.Unlock()

	x.logger.Info().Str("event", "dedup.rotate").Str("day", day).Msg("daily corpus rotated")
	if x.corpus == nil {
		return nil
	}
	x.corpusMu.Lock()
	defer x.corpusMu.Unlock()
	return x.corpus.Purge(ctx, day)
}

// Seed loads today's corpus into session memory. It is called once at startup.
func (x *Index) Seed(ctx context.Context) (int, error) {
	if x.corpus == nil {
		return 0, nil
	}
	x.corpusMu.Lock()
	entries, err := x.corpus.Entries(ctx, Day(x.now()))
	x.corpusMu.Unlock()
	if err != nil {
		return 0, err
	}
	x.mu.Lock()
	for _, e := range entries {
		x.hashes[Hash(e.Text)] = struct{}{}
	}
	x.mu.Unlock()
	return len(entries), nil
}

func (x *Index) matchesCorpus(ctx context.Context, text string) bool {
	if x.corpus == nil {
		return false
	}
	x.corpusMu.Lock()
	entries, err := x.corpus.Entries(ctx, Day(x.now()))
	x.corpusMu.Unlock()
	if err != nil {
		// Degrade to session-only checking.
		x.logger.Warn().Err(err).Str("event", "dedup.corpus_unavailable").Msg("corpus read failed")
		return false
	}
	for _, e := range entries {
		if x.similarity(text, e.Text) > x.corpusThreshold {
			x.logger.Debug().Str("event", "dedup.corpus_hit").Str("previous_channel", e.Channel).Msg("duplicate of accepted text")
			return true
		}
	}
	return false
}

func (x *Index) memory(channel string) *channelMemory {
	x.mu.Lock()
	defer x.mu.Unlock()
	m, ok := x.channels[channel]
	if !ok {
		m = &channelMemory{}
		x.channels[channel] = m
	}
	return m
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
