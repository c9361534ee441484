// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package channels

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	xglog "github.com/ManuGH/tvscribe/internal/log"
	"github.com/fsnotify/fsnotify"
	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
	"gopkg.in/yaml.v3"
)

// DefaultFreshness is how long loaded data is trusted before the file's
// modification time is checked again.
const DefaultFreshness = 30 * time.Second

// Document is the on-disk layout of the channels file.
type Document struct {
	Keywords []string  `yaml:"keywords"`
	Channels []Channel `yaml:"channels"`
}

// fileDocument is Document as read from disk. Crop and interval stay raw so
// that one malformed entry cannot fail the whole file.
type fileDocument struct {
	Keywords []string    `yaml:"keywords"`
	Channels []fileEntry `yaml:"channels"`
}

type fileEntry struct {
	Name             string         `yaml:"name"`
	URL              string         `yaml:"url"`
	Crop             string         `yaml:"crop"`
	Interval         string         `yaml:"interval"`
	Schedule         []string       `yaml:"schedule"`
	Lines            []string       `yaml:"lines"`
	DefaultDuration  int            `yaml:"duration"`
	SpecialDurations map[string]int `yaml:"special_durations"`
	Disabled         bool           `yaml:"disabled"`
}

// channel converts the entry. An unparsable crop falls back to the full
// frame and an unparsable interval to the default rate, with one warning each.
func (e fileEntry) channel(logger zerolog.Logger) Channel {
	c := Channel{
		Name:             e.Name,
		URL:              e.URL,
		Schedule:         e.Schedule,
		Lines:            e.Lines,
		DefaultDuration:  e.DefaultDuration,
		SpecialDurations: e.SpecialDurations,
		Disabled:         e.Disabled,
	}
	if r, err := ParseRect(e.Crop); err != nil {
		logger.Warn().Str("event", "channels.value_ignored").Str("channel", e.Name).Str("field", "crop").Err(err).Msg("invalid crop, using full frame")
	} else {
		c.Crop = r
	}
	if iv, err := ParseInterval(e.Interval); err != nil {
		logger.Warn().Str("event", "channels.value_ignored").Str("channel", e.Name).Str("field", "interval").Err(err).Msg("invalid interval, using default")
	} else {
		c.Interval = iv
	}
	return c
}

// Store is the read-mostly channel/keyword store backed by a YAML file.
// It re-reads the file at most once per freshness window, and only when its
// modification time changed.
type Store struct {
	path      string
	freshness time.Duration
	now       func() time.Time
	logger    zerolog.Logger

	group singleflight.Group

	mu        sync.RWMutex
	loaded    bool
	checkedAt time.Time
	modTime   time.Time
	// loadErr is the parse failure of the file version stamped failedMod.
	loadErr   error
	failedMod time.Time
	channels  map[string]Channel
	keywords  map[string]struct{}

	listenersMu sync.Mutex
	listeners   []chan<- struct{}
}

// NewStore creates a store for the YAML file at path.
func NewStore(path string) *Store {
	return &Store{
		path:      path,
		freshness: DefaultFreshness,
		now:       time.Now,
		logger:    xglog.WithComponent("channels.store"),
		channels:  map[string]Channel{},
		keywords:  map[string]struct{}{},
	}
}

// LoadChannels returns a copy of the current channel set.
func (s *Store) LoadChannels() (map[string]Channel, error) {
	if err := s.refresh(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Channel, len(s.channels))
	for k, v := range s.channels {
		out[k] = v.Clone()
	}
	return out, nil
}

// LoadKeywords returns the lower-cased keyword set.
func (s *Store) LoadKeywords() (map[string]struct{}, error) {
	if err := s.refresh(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]struct{}, len(s.keywords))
	for k := range s.keywords {
		out[k] = struct{}{}
	}
	return out, nil
}

// Invalidate forces the next load to check the file again.
func (s *Store) Invalidate() {
	s.mu.Lock()
	s.checkedAt = time.Time{}
	s.mu.Unlock()
}

func (s *Store) refresh() error {
	_, err, _ := s.group.Do("refresh", func() (any, error) {
		return nil, s.refreshLocked()
	})
	return err
}

func (s *Store) refreshLocked() error {
	now := s.now()
	s.mu.RLock()
	fresh := !s.checkedAt.IsZero() && now.Sub(s.checkedAt) < s.freshness
	lastMod, failedMod, loadErr := s.modTime, s.failedMod, s.loadErr
	loaded := s.loaded
	s.mu.RUnlock()
	if fresh {
		return loadErr
	}

	info, err := os.Stat(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.mu.Lock()
		if !s.loaded {
			s.logger.Warn().Str("event", "channels.file_missing").Str("path", s.path).Msg("channels file not found, starting with no channels")
		}
		s.loaded = true
		s.loadErr = nil
		s.checkedAt = now
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat channels file: %w", err)
	}
	switch {
	case loadErr != nil && info.ModTime().Equal(failedMod):
		s.mu.Lock()
		s.checkedAt = now
		s.mu.Unlock()
		return loadErr
	case loadErr == nil && loaded && info.ModTime().Equal(lastMod):
		s.mu.Lock()
		s.checkedAt = now
		s.mu.Unlock()
		return nil
	}

	doc, err := readDocument(s.path)
	if err != nil {
		s.logger.Error().Err(err).Str("event", "channels.load_failed").Str("path", s.path).Msg("keeping previous channel set")
		s.mu.Lock()
		s.loadErr = err
		s.failedMod = info.ModTime()
		s.checkedAt = now
		s.mu.Unlock()
		return err
	}
	chans, kws := s.normalize(doc)

	s.mu.Lock()
	s.channels = chans
	s.keywords = kws
	s.modTime = info.ModTime()
	s.checkedAt = now
	s.loaded = true
	s.loadErr = nil
	s.mu.Unlock()

	s.logger.Info().
		Str("event", "channels.loaded").
		Int("channels", len(chans)).
		Int("keywords", len(kws)).
		Msg("channel configuration loaded")
	return nil
}

func readDocument(path string) (fileDocument, error) {
	// #nosec G304 -- path is operator supplied
	data, err := os.ReadFile(path)
	if err != nil {
		return fileDocument{}, fmt.Errorf("read channels file: %w", err)
	}
	var doc fileDocument
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if err == io.EOF {
			return fileDocument{}, nil
		}
		return fileDocument{}, fmt.Errorf("parse channels file: %w", err)
	}
	return doc, nil
}

func (s *Store) normalize(doc fileDocument) (map[string]Channel, map[string]struct{}) {
	chans := make(map[string]Channel, len(doc.Channels))
	for _, e := range doc.Channels {
		c := e.channel(s.logger)
		if err := ValidateName(c.Name); err != nil {
			s.logger.Warn().Str("event", "channels.entry_skipped").Str("name", c.Name).Err(err).Msg("invalid channel name")
			continue
		}
		if _, dup := chans[c.Name]; dup {
			s.logger.Warn().Str("event", "channels.entry_skipped").Str("channel", c.Name).Msg("duplicate channel name")
			continue
		}
		chans[c.Name] = Sanitize(c, s.logger)
	}
	kws := make(map[string]struct{}, len(doc.Keywords))
	for _, k := range doc.Keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" {
			kws[k] = struct{}{}
		}
	}
	return chans, kws
}

// SaveChannels atomically replaces the channel list, keeping the keyword list.
func (s *Store) SaveChannels(set map[string]Channel) error {
	if err := s.refresh(); err != nil {
		return err
	}
	s.mu.RLock()
	doc := Document{}
	for k := range s.keywords {
		doc.Keywords = append(doc.Keywords, k)
	}
	s.mu.RUnlock()
	for _, name := range Names(set) {
		doc.Channels = append(doc.Channels, set[name])
	}
	sort.Strings(doc.Keywords)

	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode channels: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create channels dir: %w", err)
	}
	if err := renameio.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write channels file: %w", err)
	}
	s.Invalidate()
	s.notify()
	return s.refresh()
}

// Subscribe registers ch to receive a signal after every external change.
// Sends are non-blocking.
func (s *Store) Subscribe(ch chan<- struct{}) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.listeners = append(s.listeners, ch)
}

func (s *Store) notify() {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	for _, l := range s.listeners {
		select {
		case l <- struct{}{}:
		default:
		}
	}
}

// Watch reloads the file on change until ctx is cancelled. The parent
// directory is watched so that editors replacing the file are noticed.
func (s *Store) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch channels dir: %w", err)
	}
	s.logger.Info().Str("event", "channels.watcher_started").Str("path", s.path).Msg("watching channels file")

	go func() {
		defer func() { _ = watcher.Close() }()
		var debounce *time.Timer
		base := filepath.Base(s.path)
		for {
			select {
			case <-ctx.Done():
				if debounce != nil {
					debounce.Stop()
				}
				s.logger.Info().Str("event", "channels.watcher_stopped").Msg("channels watcher stopped")
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != base {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(500*time.Millisecond, func() {
					s.Invalidate()
					if err := s.refresh(); err != nil {
						return
					}
					s.notify()
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Error().Err(err).Str("event", "channels.watcher_error").Msg("channels watcher error")
			}
		}
	}()
	return nil
}
