// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidConfig wraps every configuration validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Validate rejects configurations the daemon cannot run with.
func Validate(cfg AppConfig) error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if strings.TrimSpace(cfg.DataDir) == "" {
		add("dataDir must be set")
	}
	if cfg.Capture.StopTimeout <= 0 {
		add("capture.stopTimeout must be positive")
	}
	if cfg.Capture.ReconnectBackoff <= 0 {
		add("capture.reconnectBackoff must be positive")
	}
	if cfg.Capture.FrameRate < 1 || cfg.Capture.FrameRate > 30 {
		add("capture.frameRate must be in [1,30]")
	}
	if cfg.Recording.MaxConcurrent < 1 {
		add("recording.maxConcurrent must be >= 1")
	}
	switch cfg.Recognition.Backend {
	case "tesseract":
	case "http":
		if cfg.Recognition.Endpoint == "" {
			add("recognition.endpoint is required for the http backend")
		}
	default:
		add("recognition.backend %q unsupported (tesseract, http)", cfg.Recognition.Backend)
	}
	if cfg.Recognition.JudgeEnabled && cfg.Recognition.Endpoint == "" {
		add("recognition.endpoint is required when the judge is enabled")
	}
	if cfg.Recognition.MinConfidence < 0 || cfg.Recognition.MinConfidence > 1 {
		add("recognition.minConfidence must be in [0,1]")
	}
	if cfg.Recognition.Workers < 1 {
		add("recognition.workers must be >= 1")
	}
	switch cfg.Dedup.Backend {
	case "sqlite", "badger", "memory":
	case "redis":
		if cfg.Dedup.RedisAddr == "" {
			add("dedup.redisAddr is required for the redis backend")
		}
	default:
		add("dedup.backend %q unsupported (sqlite, badger, redis, memory)", cfg.Dedup.Backend)
	}
	for name, v := range map[string]float64{"corpusThreshold": cfg.Dedup.CorpusThreshold, "sessionThreshold": cfg.Dedup.SessionThreshold} {
		if v <= 0 || v > 1 {
			add("dedup.%s must be in (0,1]", name)
		}
	}
	switch cfg.Distribution.Backend {
	case "outbox":
	case "telegram":
		if cfg.Distribution.Token == "" || cfg.Distribution.ChatID == "" {
			add("distribution.token and distribution.chatId are required for telegram")
		}
	default:
		add("distribution.backend %q unsupported (telegram, outbox)", cfg.Distribution.Backend)
	}
	if cfg.Distribution.RatePerMinute < 1 {
		add("distribution.ratePerMinute must be >= 1")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}
