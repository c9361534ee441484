// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package health

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ManuGH/tvscribe/internal/config"
	xglog "github.com/ManuGH/tvscribe/internal/log"
)

// lookPath is swapped in tests.
var lookPath = exec.LookPath

// PerformStartupChecks validates the environment before any component starts.
func PerformStartupChecks(cfg config.AppConfig) error {
	logger := xglog.WithComponent("startup-check")
	logger.Info().Msg("Running pre-flight startup checks")

	for _, dir := range []string{cfg.DataDir, cfg.Paths.Intake, cfg.Paths.Ready, cfg.Paths.Recordings, cfg.Paths.Clips} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
		if err := probeWritable(dir); err != nil {
			return fmt.Errorf("data directory check failed: %w", err)
		}
	}
	logger.Info().Str("path", cfg.DataDir).Msg("Data directories are writable")

	if err := checkTargetedValidations(logger, cfg); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	logger.Info().Msg("All startup checks passed")
	return nil
}

func checkTargetedValidations(logger zerolog.Logger, cfg config.AppConfig) error {
	for _, addr := range []string{cfg.API.ListenAddr, cfg.API.MetricsListenAddr} {
		if addr == "" {
			continue
		}
		if err := checkListenAddr(addr); err != nil {
			return err
		}
	}

	if _, err := lookPath(binOr(cfg.FFmpeg.Bin, "ffmpeg")); err != nil {
		return fmt.Errorf("ffmpeg binary not found (%s): %w", cfg.FFmpeg.Bin, err)
	}
	if cfg.Recognition.Backend == "tesseract" {
		if _, err := lookPath(binOr(cfg.Recognition.TesseractBin, "tesseract")); err != nil {
			return fmt.Errorf("tesseract binary not found (%s): %w", cfg.Recognition.TesseractBin, err)
		}
	}

	if cfg.Recognition.Endpoint != "" {
		if err := checkHTTPURL("recognition.endpoint", cfg.Recognition.Endpoint); err != nil {
			return err
		}
	}
	if cfg.Distribution.Backend == "telegram" {
		if err := checkHTTPURL("distribution.baseUrl", cfg.Distribution.BaseURL); err != nil {
			return err
		}
	}

	if cfg.Dedup.Backend == "memory" {
		logger.Warn().Str("corpus_backend", cfg.Dedup.Backend).Msg("duplicate corpus is not persistent across restarts")
	}
	tempDir := filepath.Clean(os.TempDir())
	dataDir := filepath.Clean(cfg.DataDir)
	if tempDir != "." && (dataDir == tempDir || strings.HasPrefix(dataDir, tempDir+string(filepath.Separator))) {
		logger.Warn().Str("data_dir", cfg.DataDir).Msg("data directory is under temp; recordings and the corpus may be lost on reboot")
	}
	return nil
}

func checkListenAddr(addr string) error {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 0 || n > 65535 {
		return fmt.Errorf("invalid listen port %q in %q", port, addr)
	}
	return nil
}

func checkHTTPURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", field, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s scheme must be http or https, got: %q", field, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%s has no host", field)
	}
	return nil
}

func binOr(bin, fallback string) string {
	if b := strings.TrimSpace(bin); b != "" {
		return b
	}
	return fallback
}
