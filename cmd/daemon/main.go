// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package main

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/ManuGH/tvscribe/internal/channels"
	"github.com/ManuGH/tvscribe/internal/config"
	"github.com/ManuGH/tvscribe/internal/daemon"
	"github.com/ManuGH/tvscribe/internal/health"
	xglog "github.com/ManuGH/tvscribe/internal/log"
)

var (
	version   = "v0.1.0"
	commit    = "none"
	buildDate = "unknown"
)

// maskURL removes user info from a URL string for safe logging.
func maskURL(rawURL string) string {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return "invalid-url-redacted"
	}
	parsedURL.User = nil
	return parsedURL.String()
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "tvscribe",
		Short:         "Capture, record and transcribe live channel streams",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemon(cmd.Context(), configPath)
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (YAML)")

	root.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run the daemon (default)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemon(cmd.Context(), configPath)
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and the channels file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runValidate(cmd.OutOrStdout(), configPath)
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s (commit: %s, built: %s)\n", version, commit, buildDate)
		},
	})
	return root
}

// resolveConfigPath returns the explicit path or ${TVSCRIBE_DATA}/config.yaml
// when that file exists.
func resolveConfigPath(explicit string) string {
	if p := strings.TrimSpace(explicit); p != "" {
		return p
	}
	dataDir := strings.TrimSpace(config.ParseString("TVSCRIBE_DATA", ""))
	if dataDir == "" {
		return ""
	}
	autoPath := filepath.Join(dataDir, "config.yaml")
	if _, err := os.Stat(autoPath); err == nil {
		return autoPath
	}
	return ""
}

func loadConfig(explicit string) (config.AppConfig, string, error) {
	path := resolveConfigPath(explicit)
	cfg, err := config.NewLoader(path, version).Load()
	return cfg, path, err
}

func runDaemon(parent context.Context, configPath string) error {
	// Safe defaults until the configuration is loaded.
	xglog.Configure(xglog.Config{Level: "info", Service: "tvscribe", Version: version})
	logger := xglog.WithComponent("daemon")

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, path, err := loadConfig(configPath)
	if err != nil {
		logger.Error().Err(err).Str("event", "config.load_failed").Str("config_path", path).Msg("failed to load configuration")
		return err
	}
	xglog.Configure(xglog.Config{Level: cfg.LogLevel, Service: "tvscribe", Version: cfg.Version})
	logger = xglog.WithComponent("daemon")
	if path != "" {
		logger.Info().Str("event", "config.loaded").Str("source", "file").Str("path", path).Msg("loaded configuration from file")
	} else {
		logger.Info().Str("event", "config.loaded").Str("source", "env+defaults").Msg("loaded configuration from environment and defaults")
	}

	if err := health.PerformStartupChecks(cfg); err != nil {
		logger.Error().Err(err).Str("event", "startup.check_failed").Msg("startup checks failed, verify configuration and permissions")
		return err
	}

	rt, err := daemon.Build(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Str("event", "startup.failed").Msg("failed to build runtime")
		return err
	}

	mgr, err := daemon.NewManager(daemon.DefaultServerConfig(cfg.API.ListenAddr), daemon.Deps{
		Logger:         logger,
		APIHandler:     rt.API.Handler(),
		MetricsHandler: promhttp.Handler(),
		MetricsAddr:    cfg.API.MetricsListenAddr,
	})
	if err != nil {
		_ = rt.Close(context.Background())
		return err
	}
	rt.RegisterShutdownHooks(mgr)

	logger.Info().
		Str("event", "daemon.start").
		Str("version", version).
		Str("commit", commit).
		Str("channels_file", cfg.ChannelsFile).
		Msg("tvscribe starting")

	return daemon.NewApp(logger, mgr, rt).Run(ctx)
}

// runValidate checks the configuration and the channels file and prints a
// summary. Any problem makes the command fail.
func runValidate(out io.Writer, configPath string) error {
	cfg, path, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if path == "" {
		path = "(defaults)"
	}
	_, _ = fmt.Fprintf(out, "config: %s\n", path)

	store := channels.NewStore(cfg.ChannelsFile)
	set, err := store.LoadChannels()
	if err != nil {
		return fmt.Errorf("channels file %s: %w", cfg.ChannelsFile, err)
	}
	keywords, err := store.LoadKeywords()
	if err != nil {
		return fmt.Errorf("keywords: %w", err)
	}
	_, _ = fmt.Fprintf(out, "channels: %s (%d channels, %d keywords)\n", cfg.ChannelsFile, len(set), len(keywords))
	for _, name := range channels.Names(set) {
		ch := set[name]
		state := "enabled"
		if ch.Disabled {
			state = "disabled"
		}
		_, _ = fmt.Fprintf(out, "  %-20s %-8s %s schedule=[%s] lines=[%s]\n",
			name, state, maskURL(ch.URL), strings.Join(ch.Schedule, " "), strings.Join(ch.Lines, " "))
	}
	return nil
}
