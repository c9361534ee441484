// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Loader handles configuration loading with precedence ENV > File > Defaults.
type Loader struct {
	configPath string
	version    string
}

// NewLoader creates a new configuration loader.
func NewLoader(configPath, version string) *Loader {
	return &Loader{configPath: configPath, version: version}
}

// Load resolves the configuration and validates it.
func (l *Loader) Load() (AppConfig, error) {
	cfg := Defaults()

	if l.configPath != "" {
		if err := l.mergeFile(&cfg, l.configPath); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	l.mergeEnv(&cfg)

	if abs, err := filepath.Abs(cfg.DataDir); err == nil {
		cfg.DataDir = abs
	}
	cfg.Resolve()
	cfg.Version = l.version

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// mergeFile decodes the YAML file over cfg with strict parsing.
func (l *Loader) mergeFile(cfg *AppConfig, path string) error {
	path = filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}
	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if err == io.EOF {
			return nil
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}
	return nil
}

func (l *Loader) mergeEnv(cfg *AppConfig) {
	cfg.DataDir = ParseString("TVSCRIBE_DATA", cfg.DataDir)
	cfg.LogLevel = ParseString("TVSCRIBE_LOG_LEVEL", cfg.LogLevel)
	cfg.ChannelsFile = ParseString("TVSCRIBE_CHANNELS_FILE", cfg.ChannelsFile)

	cfg.FFmpeg.Bin = ParseString("TVSCRIBE_FFMPEG_BIN", cfg.FFmpeg.Bin)
	cfg.FFmpeg.KillTimeout = ParseDuration("TVSCRIBE_FFMPEG_KILL_TIMEOUT", cfg.FFmpeg.KillTimeout)

	cfg.Capture.StopTimeout = ParseDuration("TVSCRIBE_STOP_TIMEOUT", cfg.Capture.StopTimeout)
	cfg.Capture.ReconnectBackoff = ParseDuration("TVSCRIBE_RECONNECT_BACKOFF", cfg.Capture.ReconnectBackoff)
	cfg.Capture.FrameRate = ParseInt("TVSCRIBE_FRAME_RATE", cfg.Capture.FrameRate)

	cfg.Recording.CropEligible = ParseList("TVSCRIBE_CROP_CHANNELS", cfg.Recording.CropEligible)
	cfg.Recording.MaxConcurrent = ParseInt("TVSCRIBE_MAX_RECORDINGS", cfg.Recording.MaxConcurrent)

	cfg.Recognition.Backend = ParseString("TVSCRIBE_OCR_BACKEND", cfg.Recognition.Backend)
	cfg.Recognition.Endpoint = ParseString("TVSCRIBE_OCR_ENDPOINT", cfg.Recognition.Endpoint)
	cfg.Recognition.TesseractBin = ParseString("TVSCRIBE_TESSERACT_BIN", cfg.Recognition.TesseractBin)
	cfg.Recognition.Languages = ParseString("TVSCRIBE_OCR_LANGUAGES", cfg.Recognition.Languages)
	cfg.Recognition.JudgeEnabled = ParseBool("TVSCRIBE_JUDGE_ENABLED", cfg.Recognition.JudgeEnabled)
	cfg.Recognition.MinConfidence = ParseFloat("TVSCRIBE_MIN_CONFIDENCE", cfg.Recognition.MinConfidence)
	cfg.Recognition.FrameHashDistance = ParseInt("TVSCRIBE_FRAME_HASH_DISTANCE", cfg.Recognition.FrameHashDistance)
	cfg.Recognition.Workers = ParseInt("TVSCRIBE_OCR_WORKERS", cfg.Recognition.Workers)

	cfg.Dedup.Backend = ParseString("TVSCRIBE_CORPUS_BACKEND", cfg.Dedup.Backend)
	cfg.Dedup.Path = ParseString("TVSCRIBE_CORPUS_PATH", cfg.Dedup.Path)
	cfg.Dedup.RedisAddr = ParseString("TVSCRIBE_REDIS_ADDR", cfg.Dedup.RedisAddr)
	cfg.Dedup.RedisPassword = ParseString("TVSCRIBE_REDIS_PASSWORD", cfg.Dedup.RedisPassword)
	cfg.Dedup.RedisDB = ParseInt("TVSCRIBE_REDIS_DB", cfg.Dedup.RedisDB)
	cfg.Dedup.CorpusThreshold = ParseFloat("TVSCRIBE_CORPUS_THRESHOLD", cfg.Dedup.CorpusThreshold)
	cfg.Dedup.SessionThreshold = ParseFloat("TVSCRIBE_SESSION_THRESHOLD", cfg.Dedup.SessionThreshold)

	cfg.Distribution.Backend = ParseString("TVSCRIBE_DELIVERY_BACKEND", cfg.Distribution.Backend)
	cfg.Distribution.Token = ParseString("TVSCRIBE_TELEGRAM_TOKEN", cfg.Distribution.Token)
	cfg.Distribution.ChatID = ParseString("TVSCRIBE_TELEGRAM_CHAT", cfg.Distribution.ChatID)
	cfg.Distribution.RatePerMinute = ParseInt("TVSCRIBE_DELIVERY_RATE", cfg.Distribution.RatePerMinute)

	cfg.API.ListenAddr = ParseString("TVSCRIBE_LISTEN", cfg.API.ListenAddr)
	cfg.API.MetricsListenAddr = ParseString("TVSCRIBE_METRICS_LISTEN", cfg.API.MetricsListenAddr)

	cfg.Telemetry.Enabled = ParseBool("TVSCRIBE_OTEL_ENABLED", cfg.Telemetry.Enabled)
	cfg.Telemetry.ExporterType = ParseString("TVSCRIBE_OTEL_EXPORTER", cfg.Telemetry.ExporterType)
	cfg.Telemetry.Endpoint = ParseString("TVSCRIBE_OTEL_ENDPOINT", cfg.Telemetry.Endpoint)
}
