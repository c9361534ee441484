// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/tvscribe/internal/config"
)

type mockChecker struct {
	name   string
	status Status
}

func (m *mockChecker) Name() string { return m.name }

func (m *mockChecker) Check(context.Context) CheckResult {
	return CheckResult{Status: m.status}
}

func TestManager_HealthVerboseOnly(t *testing.T) {
	m := NewManager("v1.0.0")
	m.RegisterChecker(&mockChecker{name: "healthy", status: StatusHealthy})
	m.RegisterChecker(&mockChecker{name: "degraded", status: StatusDegraded})

	resp := m.Health(context.Background(), false)
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Equal(t, "v1.0.0", resp.Version)
	assert.Nil(t, resp.Checks)

	resp = m.Health(context.Background(), true)
	assert.Equal(t, StatusDegraded, resp.Status)
	assert.Len(t, resp.Checks, 2)
}

func TestManager_Ready(t *testing.T) {
	tests := []struct {
		name      string
		statuses  []Status
		wantReady bool
		want      Status
	}{
		{"no checkers", nil, true, StatusHealthy},
		{"all healthy", []Status{StatusHealthy, StatusHealthy}, true, StatusHealthy},
		{"degraded is still ready", []Status{StatusHealthy, StatusDegraded}, true, StatusDegraded},
		{"unhealthy wins over degraded", []Status{StatusUnhealthy, StatusDegraded}, false, StatusUnhealthy},
		{"degraded after unhealthy", []Status{StatusDegraded, StatusUnhealthy}, false, StatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager("v")
			for i, s := range tt.statuses {
				m.RegisterChecker(&mockChecker{name: string(rune('a' + i)), status: s})
			}
			resp := m.Ready(context.Background())
			assert.Equal(t, tt.wantReady, resp.Ready)
			assert.Equal(t, tt.want, resp.Status)
		})
	}
}

func TestManager_ServeReady(t *testing.T) {
	m := NewManager("v")
	m.RegisterChecker(&mockChecker{name: "intake_dir", status: StatusUnhealthy})

	w := httptest.NewRecorder()
	m.ServeReady(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	var resp ReadinessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Ready)
	assert.Contains(t, resp.Checks, "intake_dir")

	w = httptest.NewRecorder()
	m.ServeHealth(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code, "liveness ignores component state")
}

func TestFileChecker(t *testing.T) {
	dir := t.TempDir()
	full := filepath.Join(dir, "channels.yaml")
	empty := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(full, []byte("channels: []\n"), 0o600))
	require.NoError(t, os.WriteFile(empty, nil, 0o600))

	tests := []struct {
		path string
		want Status
	}{
		{"", StatusHealthy},
		{full, StatusHealthy},
		{empty, StatusDegraded},
		{dir, StatusUnhealthy},
		{filepath.Join(dir, "absent.yaml"), StatusUnhealthy},
	}
	for _, tt := range tests {
		got := NewFileChecker("channels_file", tt.path).Check(context.Background())
		assert.Equal(t, tt.want, got.Status, tt.path)
	}
}

func TestDirChecker(t *testing.T) {
	dir := t.TempDir()
	assert.Equal(t, StatusHealthy, NewDirChecker("ready_dir", dir).Check(context.Background()).Status)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "probe file is removed")

	assert.Equal(t, StatusUnhealthy, NewDirChecker("gone", filepath.Join(dir, "nope")).Check(context.Background()).Status)
}

func TestHeartbeatChecker(t *testing.T) {
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	var last time.Time
	c := NewHeartbeatChecker("schedule_ticker", func() time.Time { return last }, 10*time.Second)
	c.now = func() time.Time { return now }

	assert.Equal(t, StatusDegraded, c.Check(context.Background()).Status)
	last = now.Add(-2 * time.Second)
	assert.Equal(t, StatusHealthy, c.Check(context.Background()).Status)
	last = now.Add(-time.Minute)
	got := c.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, got.Status)
	assert.Contains(t, got.Error, "1m0s")
}

func TestCheckFunc(t *testing.T) {
	ok := CheckFunc("corpus", func(context.Context) error { return nil })
	bad := CheckFunc("corpus", func(context.Context) error { return errors.New("malformed page") })
	assert.Equal(t, "corpus", ok.Name())
	assert.Equal(t, StatusHealthy, ok.Check(context.Background()).Status)
	got := bad.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, got.Status)
	assert.Equal(t, "malformed page", got.Error)
}

func TestPerformStartupChecks(t *testing.T) {
	found := func(string) (string, error) { return "/usr/bin/x", nil }
	missing := func(string) (string, error) { return "", errors.New("not found") }

	base := func(t *testing.T) config.AppConfig {
		cfg := config.Defaults()
		cfg.DataDir = t.TempDir()
		cfg.Resolve()
		return cfg
	}

	t.Run("ok creates dirs", func(t *testing.T) {
		lookPath = found
		t.Cleanup(func() { lookPath = exec.LookPath })
		cfg := base(t)
		require.NoError(t, PerformStartupChecks(cfg))
		assert.DirExists(t, cfg.Paths.Clips)
	})
	t.Run("missing ffmpeg", func(t *testing.T) {
		lookPath = missing
		t.Cleanup(func() { lookPath = exec.LookPath })
		err := PerformStartupChecks(base(t))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "ffmpeg")
	})
	t.Run("bad listen address", func(t *testing.T) {
		lookPath = found
		t.Cleanup(func() { lookPath = exec.LookPath })
		cfg := base(t)
		cfg.API.ListenAddr = "localhost"
		require.Error(t, PerformStartupChecks(cfg))
	})
	t.Run("bad recognizer endpoint", func(t *testing.T) {
		lookPath = found
		t.Cleanup(func() { lookPath = exec.LookPath })
		cfg := base(t)
		cfg.Recognition.Endpoint = "ftp://ocr"
		require.Error(t, PerformStartupChecks(cfg))
	})
}
