// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/tvscribe/internal/config"
	"github.com/ManuGH/tvscribe/internal/log"
)

const channelsYAML = `keywords: [storm]
channels:
  - name: news
    url: http://example.invalid/news.m3u8
    interval: 1/10
    schedule: ["08:00"]
`

func testConfig(t *testing.T) config.AppConfig {
	t.Helper()
	cfg := config.Defaults()
	cfg.DataDir = t.TempDir()
	cfg.Dedup.Backend = "memory"
	cfg.API.ListenAddr = reserveListenAddr(t)
	cfg.API.MetricsListenAddr = ""
	cfg.Resolve()
	require.NoError(t, os.WriteFile(cfg.ChannelsFile, []byte(channelsYAML), 0o600))
	return cfg
}

func TestBuild_WiresComponents(t *testing.T) {
	cfg := testConfig(t)
	rt, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close(context.Background()) })

	for _, dir := range []string{cfg.Paths.Intake, cfg.Paths.Ready, cfg.Paths.Recordings, cfg.Paths.Clips} {
		assert.DirExists(t, dir)
	}
	ch, ok := rt.Registry.Get("news")
	require.True(t, ok)
	assert.Equal(t, []string{"08:00"}, ch.Schedule)
	assert.Contains(t, rt.Pipeline.Keywords(), "storm")
	assert.False(t, rt.Supervisor.Running(), "capture starts only on request")
}

func TestBuild_SQLiteCorpusReadiness(t *testing.T) {
	cfg := testConfig(t)
	cfg.Dedup.Backend = "sqlite"
	cfg.Dedup.Path = filepath.Join(cfg.DataDir, "corpus.sqlite")
	rt, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close(context.Background()) })

	ready := rt.Health.Ready(context.Background())
	require.Contains(t, ready.Checks, "corpus_integrity")
	assert.Equal(t, "healthy", string(ready.Checks["corpus_integrity"].Status))
	assert.Equal(t, "degraded", string(ready.Checks["schedule_ticker"].Status), "ticker has not run yet")
	assert.True(t, ready.Ready)

	assert.Error(t, corpusIntegrity(filepath.Join(cfg.DataDir, "missing.sqlite")))
}

func TestBuild_UnknownBackends(t *testing.T) {
	tests := []struct {
		name string
		edit func(*config.AppConfig)
	}{
		{"corpus", func(c *config.AppConfig) { c.Dedup.Backend = "postgres" }},
		{"recognizer", func(c *config.AppConfig) { c.Recognition.Backend = "cloud" }},
		{"distribution", func(c *config.AppConfig) { c.Distribution.Backend = "smtp" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.edit(&cfg)
			_, err := Build(context.Background(), cfg)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrUnknownBackend))
		})
	}
}

func TestNewRecognizer_JudgeNeedsEndpoint(t *testing.T) {
	rec, judge, err := newRecognizer(config.RecognitionConfig{Backend: "tesseract", JudgeEnabled: true})
	require.NoError(t, err)
	assert.NotNil(t, rec)
	assert.Nil(t, judge)

	rec, judge, err = newRecognizer(config.RecognitionConfig{Backend: "tesseract", JudgeEnabled: true, Endpoint: "http://127.0.0.1:1"})
	require.NoError(t, err)
	assert.NotNil(t, rec)
	assert.NotNil(t, judge)
}

func TestRuntime_NewDayRotatesDedup(t *testing.T) {
	cfg := testConfig(t)
	rt, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close(context.Background()) })

	ctx := context.Background()
	text := "storm warning for the northern coast"
	require.NoError(t, rt.Index.Admit(ctx, text, "news"))
	require.True(t, rt.Index.IsDuplicate(ctx, text, "news"))

	rt.newDay(ctx, time.Now().Add(24*time.Hour))
	assert.False(t, rt.Index.IsDuplicate(ctx, text, "news"))
}

func TestApp_RunServesAPIAndStops(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	cfg := testConfig(t)
	cfg.Capture.StopTimeout = time.Second
	rt, err := Build(context.Background(), cfg)
	require.NoError(t, err)

	logger := log.WithComponent("test")
	mgr, err := NewManager(DefaultServerConfig(cfg.API.ListenAddr), Deps{Logger: logger, APIHandler: rt.API.Handler()})
	require.NoError(t, err)
	rt.RegisterShutdownHooks(mgr)

	app := NewApp(logger, mgr, rt)
	app.reloadSignal = nil

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	waitForListen(t, cfg.API.ListenAddr)
	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	resp, err := client.Get("http://" + cfg.API.ListenAddr + "/api/v1/channels/news")
	require.NoError(t, err)
	var form struct {
		Name     string `json:"name"`
		Interval string `json:"interval"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&form))
	_ = resp.Body.Close()
	assert.Equal(t, "news", form.Name)
	assert.Equal(t, "1/10", form.Interval)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("app did not stop")
	}
	assert.Nil(t, rt.corpus, "runtime hook closed the corpus")
	_, statErr := os.Stat(filepath.Join(cfg.DataDir, "intake"))
	assert.NoError(t, statErr)
}
