// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package channels

import (
	"errors"
	"fmt"
	"sync"

	xglog "github.com/ManuGH/tvscribe/internal/log"
	"github.com/rs/zerolog"
)

// ErrChannelNotFound is returned for operations on unknown channel names.
var ErrChannelNotFound = errors.New("channel not found")

// ConfigStore is the persistence contract the registry reads from.
type ConfigStore interface {
	LoadChannels() (map[string]Channel, error)
	SaveChannels(map[string]Channel) error
	LoadKeywords() (map[string]struct{}, error)
}

// Registry serves the current channel set. When the backing store fails it
// keeps answering from the last good snapshot.
type Registry struct {
	store  ConfigStore
	logger zerolog.Logger

	mu       sync.RWMutex
	channels map[string]Channel
	keywords map[string]struct{}
	staleErr error
}

// NewRegistry creates a registry over store.
func NewRegistry(store ConfigStore) *Registry {
	return &Registry{
		store:    store,
		logger:   xglog.WithComponent("channels.registry"),
		channels: map[string]Channel{},
		keywords: map[string]struct{}{},
	}
}

// Channels returns the current channel set.
func (r *Registry) Channels() map[string]Channel {
	set, err := r.store.LoadChannels()
	if err != nil {
		r.noteStale(err, "using last known channel set")
	} else {
		r.mu.Lock()
		r.channels = set
		r.staleErr = nil
		r.mu.Unlock()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Channel, len(r.channels))
	for k, v := range r.channels {
		out[k] = v.Clone()
	}
	return out
}

// noteStale logs a store failure once until the store recovers or reports a
// different error.
func (r *Registry) noteStale(err error, msg string) {
	r.mu.Lock()
	repeat := r.staleErr != nil && r.staleErr.Error() == err.Error()
	r.staleErr = err
	r.mu.Unlock()
	if !repeat {
		r.logger.Warn().Err(err).Str("event", "registry.stale").Msg(msg)
	}
}

// Get returns one channel snapshot.
func (r *Registry) Get(name string) (Channel, bool) {
	ch, ok := r.Channels()[name]
	return ch, ok
}

// Keywords returns the keyword set.
func (r *Registry) Keywords() map[string]struct{} {
	kws, err := r.store.LoadKeywords()
	if err != nil {
		r.noteStale(err, "using last known keyword set")
	} else {
		r.mu.Lock()
		r.keywords = kws
		r.mu.Unlock()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]struct{}, len(r.keywords))
	for k := range r.keywords {
		out[k] = struct{}{}
	}
	return out
}

// Put creates or replaces a channel. previous names the record being edited
// so a rename removes the old entry; pass "" for a new channel.
func (r *Registry) Put(previous string, ch Channel) error {
	if err := ValidateName(ch.Name); err != nil {
		return ValidationErrors{{Field: "name", Reason: err.Error()}}
	}
	set := r.Channels()
	if previous != "" && previous != ch.Name {
		if _, ok := set[previous]; !ok {
			return fmt.Errorf("%w: %s", ErrChannelNotFound, previous)
		}
		delete(set, previous)
	}
	set[ch.Name] = ch
	if err := r.store.SaveChannels(set); err != nil {
		return fmt.Errorf("save channels: %w", err)
	}
	r.mu.Lock()
	r.channels = set
	r.mu.Unlock()
	return nil
}

// Delete removes a channel.
func (r *Registry) Delete(name string) error {
	set := r.Channels()
	if _, ok := set[name]; !ok {
		return fmt.Errorf("%w: %s", ErrChannelNotFound, name)
	}
	delete(set, name)
	if err := r.store.SaveChannels(set); err != nil {
		return fmt.Errorf("save channels: %w", err)
	}
	r.mu.Lock()
	r.channels = set
	r.mu.Unlock()
	return nil
}
