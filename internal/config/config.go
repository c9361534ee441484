// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package config loads the daemon configuration. Channel and keyword data live
// in the channels file and are handled by package channels.
package config

import (
	"path/filepath"
	"time"
)

// AppConfig is the fully resolved daemon configuration.
type AppConfig struct {
	Version  string `yaml:"-"`
	DataDir  string `yaml:"dataDir"`
	LogLevel string `yaml:"logLevel"`

	ChannelsFile string `yaml:"channelsFile"`

	Paths        PathsConfig        `yaml:"paths"`
	FFmpeg       FFmpegConfig       `yaml:"ffmpeg"`
	Capture      CaptureConfig      `yaml:"capture"`
	Recording    RecordingConfig    `yaml:"recording"`
	Recognition  RecognitionConfig  `yaml:"recognition"`
	Dedup        DedupConfig        `yaml:"dedup"`
	Distribution DistributionConfig `yaml:"distribution"`
	API          APIConfig          `yaml:"api"`
	Telemetry    TelemetryConfig    `yaml:"telemetry"`
}

// PathsConfig holds the working directories. Empty values derive from DataDir.
type PathsConfig struct {
	Intake     string `yaml:"intake"`
	Ready      string `yaml:"ready"`
	Recordings string `yaml:"recordings"`
	Clips      string `yaml:"clips"`
}

type FFmpegConfig struct {
	Bin         string        `yaml:"bin"`
	KillTimeout time.Duration `yaml:"killTimeout"`
}

type CaptureConfig struct {
	StopTimeout      time.Duration `yaml:"stopTimeout"`
	ReconnectBackoff time.Duration `yaml:"reconnectBackoff"`
	FrameRate        int           `yaml:"frameRate"`
	ReadTimeout      time.Duration `yaml:"readTimeout"`
}

type RecordingConfig struct {
	CropEligible     []string      `yaml:"cropEligible"`
	SegmentPadding   time.Duration `yaml:"segmentPadding"`
	FrameSampleEvery time.Duration `yaml:"frameSampleEvery"`
	MaxConcurrent    int           `yaml:"maxConcurrent"`
}

type RecognitionConfig struct {
	Backend           string        `yaml:"backend"` // "http" | "tesseract"
	Endpoint          string        `yaml:"endpoint"`
	TesseractBin      string        `yaml:"tesseractBin"`
	Languages         string        `yaml:"languages"`
	Timeout           time.Duration `yaml:"timeout"`
	JudgeEnabled      bool          `yaml:"judgeEnabled"`
	// MinConfidence in [0,1]; recognitions below it need the judge to pass.
	// Zero disables the check.
	MinConfidence     float64       `yaml:"minConfidence"`
	FrameHashDistance int           `yaml:"frameHashDistance"`
	Workers           int           `yaml:"workers"`
}

type DedupConfig struct {
	Backend          string  `yaml:"backend"` // "sqlite" | "badger" | "redis" | "memory"
	Path             string  `yaml:"path"`
	RedisAddr        string  `yaml:"redisAddr"`
	RedisPassword    string  `yaml:"redisPassword"`
	RedisDB          int     `yaml:"redisDB"`
	CorpusThreshold  float64 `yaml:"corpusThreshold"`
	SessionThreshold float64 `yaml:"sessionThreshold"`
}

type DistributionConfig struct {
	Backend       string        `yaml:"backend"` // "telegram" | "outbox"
	Token         string        `yaml:"token"`
	ChatID        string        `yaml:"chatId"`
	BaseURL       string        `yaml:"baseUrl"`
	RatePerMinute int           `yaml:"ratePerMinute"`
	OutboxDir     string        `yaml:"outboxDir"`
	SweepInterval time.Duration `yaml:"sweepInterval"`
	MaxAttempts   int           `yaml:"maxAttempts"`
}

type APIConfig struct {
	ListenAddr        string `yaml:"listenAddr"`
	RateLimitPerMin   int    `yaml:"rateLimitPerMin"`
	MetricsListenAddr string `yaml:"metricsListenAddr"`
}

type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	ExporterType string  `yaml:"exporterType"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"samplingRate"`
}

// Resolve fills path defaults relative to DataDir.
func (c *AppConfig) Resolve() {
	if c.ChannelsFile == "" {
		c.ChannelsFile = filepath.Join(c.DataDir, "channels.yaml")
	}
	if c.Paths.Intake == "" {
		c.Paths.Intake = filepath.Join(c.DataDir, "intake")
	}
	if c.Paths.Ready == "" {
		c.Paths.Ready = filepath.Join(c.DataDir, "ready")
	}
	if c.Paths.Recordings == "" {
		c.Paths.Recordings = filepath.Join(c.DataDir, "recordings")
	}
	if c.Paths.Clips == "" {
		c.Paths.Clips = filepath.Join(c.DataDir, "clips")
	}
	if c.Dedup.Path == "" {
		switch c.Dedup.Backend {
		case "badger":
			c.Dedup.Path = filepath.Join(c.DataDir, "corpus.badger")
		default:
			c.Dedup.Path = filepath.Join(c.DataDir, "corpus.sqlite")
		}
	}
	if c.Distribution.OutboxDir == "" {
		c.Distribution.OutboxDir = filepath.Join(c.DataDir, "outbox")
	}
}

// Defaults returns the built-in configuration.
func Defaults() AppConfig {
	return AppConfig{
		DataDir:  "/var/lib/tvscribe",
		LogLevel: "info",
		FFmpeg: FFmpegConfig{
			Bin:         "ffmpeg",
			KillTimeout: 5 * time.Second,
		},
		Capture: CaptureConfig{
			StopTimeout:      5 * time.Second,
			ReconnectBackoff: 5 * time.Second,
			FrameRate:        1,
			ReadTimeout:      15 * time.Second,
		},
		Recording: RecordingConfig{
			SegmentPadding:   5 * time.Second,
			FrameSampleEvery: 2 * time.Second,
			MaxConcurrent:    8,
		},
		Recognition: RecognitionConfig{
			Backend:           "tesseract",
			TesseractBin:      "tesseract",
			Languages:         "rus+eng",
			Timeout:           30 * time.Second,
			FrameHashDistance: 0,
			Workers:           4,
		},
		Dedup: DedupConfig{
			Backend:          "sqlite",
			CorpusThreshold:  0.8,
			SessionThreshold: 0.8,
		},
		Distribution: DistributionConfig{
			Backend:       "outbox",
			BaseURL:       "https://api.telegram.org",
			RatePerMinute: 20,
			SweepInterval: time.Minute,
			MaxAttempts:   5,
		},
		API: APIConfig{
			ListenAddr:        ":8088",
			RateLimitPerMin:   120,
			MetricsListenAddr: ":9108",
		},
		Telemetry: TelemetryConfig{
			ExporterType: "grpc",
			Endpoint:     "localhost:4317",
			SamplingRate: 0.1,
		},
	}
}
