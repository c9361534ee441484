// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package log

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config selects the level, sink and identity of the base logger. Empty
// fields fall back to LOG_LEVEL, stdout, "tvscribe" and VERSION.
type Config struct {
	Level   string
	Output  io.Writer
	Service string
	Version string
}

var (
	mu   sync.RWMutex
	base *zerolog.Logger
)

// Configure replaces the base logger. The daemon calls it once with safe
// defaults and again after the configuration is loaded.
func Configure(cfg Config) {
	zerolog.SetGlobalLevel(parseLevel(firstNonEmpty(cfg.Level, os.Getenv("LOG_LEVEL"))))
	zerolog.TimeFieldFormat = time.RFC3339

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	l := zerolog.New(out).With().
		Timestamp().
		Str("service", firstNonEmpty(cfg.Service, "tvscribe")).
		Str("version", firstNonEmpty(cfg.Version, os.Getenv("VERSION"))).
		Logger()

	mu.Lock()
	base = &l
	mu.Unlock()
}

func parseLevel(s string) zerolog.Level {
	if s == "" {
		return zerolog.InfoLevel
	}
	lvl, err := zerolog.ParseLevel(s)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func current() zerolog.Logger {
	mu.RLock()
	l := base
	mu.RUnlock()
	if l == nil {
		Configure(Config{})
		return current()
	}
	return *l
}

// WithComponent returns a child of the base logger tagged with component.
func WithComponent(component string) zerolog.Logger {
	return current().With().Str(FieldComponent, component).Logger()
}

// WithChannel is WithComponent plus the channel name, for per-channel workers.
func WithChannel(component, channel string) zerolog.Logger {
	return current().With().Str(FieldComponent, component).Str(FieldChannel, channel).Logger()
}
