// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package health provides liveness and readiness checks for the daemon's
// working directories, channels file and background loops.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"time"

	xglog "github.com/ManuGH/tvscribe/internal/log"
)

// Status represents the overall health/readiness status
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult represents the result of a component health check
type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// HealthResponse represents the full health check response
type HealthResponse struct {
	Status    Status                 `json:"status"`
	Version   string                 `json:"version,omitempty"`
	Uptime    string                 `json:"uptime"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// ReadinessResponse represents the readiness check response
type ReadinessResponse struct {
	Ready     bool                   `json:"ready"`
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// Checker defines the interface for health checks
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

// Manager manages health and readiness checks
type Manager struct {
	version  string
	started  time.Time
	now      func() time.Time
	checkers []Checker
}

// NewManager creates a new health check manager
func NewManager(version string) *Manager {
	return &Manager{version: version, started: time.Now(), now: time.Now}
}

// RegisterChecker adds a health checker to the manager. It is not safe to
// call once the manager serves requests.
func (m *Manager) RegisterChecker(checker Checker) {
	m.checkers = append(m.checkers, checker)
}

func (m *Manager) run(ctx context.Context) (map[string]CheckResult, Status) {
	checks := make(map[string]CheckResult, len(m.checkers))
	overall := StatusHealthy
	for _, c := range m.checkers {
		result := c.Check(ctx)
		checks[c.Name()] = result
		switch result.Status {
		case StatusUnhealthy:
			overall = StatusUnhealthy
		case StatusDegraded:
			if overall == StatusHealthy {
				overall = StatusDegraded
			}
		}
	}
	return checks, overall
}

// Health is the liveness view. Component checks run only when verbose.
func (m *Manager) Health(ctx context.Context, verbose bool) HealthResponse {
	resp := HealthResponse{
		Status:    StatusHealthy,
		Version:   m.version,
		Uptime:    m.now().Sub(m.started).Truncate(time.Second).String(),
		Timestamp: m.now(),
	}
	if verbose && len(m.checkers) > 0 {
		resp.Checks, resp.Status = m.run(ctx)
	}
	return resp
}

// Ready reports whether every check is at least degraded.
func (m *Manager) Ready(ctx context.Context) ReadinessResponse {
	resp := ReadinessResponse{Ready: true, Status: StatusHealthy, Timestamp: m.now()}
	if len(m.checkers) == 0 {
		return resp
	}
	resp.Checks, resp.Status = m.run(ctx)
	resp.Ready = resp.Status != StatusUnhealthy
	return resp
}

// ServeHealth handles liveness requests. It always answers 200.
func (m *Manager) ServeHealth(w http.ResponseWriter, r *http.Request) {
	verbose := r.URL.Query().Get("verbose") == "true"
	resp := m.Health(r.Context(), verbose)
	writeResponse(r, w, http.StatusOK, resp, "health")
}

// ServeReady handles readiness requests: 200 when ready, 503 otherwise.
func (m *Manager) ServeReady(w http.ResponseWriter, r *http.Request) {
	resp := m.Ready(r.Context())
	code := http.StatusOK
	if !resp.Ready {
		code = http.StatusServiceUnavailable
		logger := xglog.WithContext(r.Context(), xglog.WithComponent("health"))
		logger.Warn().Str("event", "readiness.failed").Strs("failing", failing(resp.Checks)).Msg("not ready")
	}
	writeResponse(r, w, code, resp, "readiness")
}

func writeResponse(r *http.Request, w http.ResponseWriter, code int, v any, kind string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger := xglog.WithContext(r.Context(), xglog.WithComponent("health"))
		logger.Error().Err(err).Str("event", kind+".encode_error").Msg("failed to encode response")
	}
}

func failing(checks map[string]CheckResult) []string {
	var out []string
	for name, c := range checks {
		if c.Status == StatusUnhealthy {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// FileChecker checks that a file exists and is non-empty.
type FileChecker struct {
	name string
	path string
}

// NewFileChecker creates a checker for file existence
func NewFileChecker(name, path string) *FileChecker {
	return &FileChecker{name: name, path: path}
}

func (c *FileChecker) Name() string { return c.name }

func (c *FileChecker) Check(context.Context) CheckResult {
	if c.path == "" {
		return CheckResult{Status: StatusHealthy, Message: "not configured (optional)"}
	}
	info, err := os.Stat(c.path)
	switch {
	case os.IsNotExist(err):
		return CheckResult{Status: StatusUnhealthy, Error: "file not found", Message: c.path}
	case err != nil:
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	case info.IsDir():
		return CheckResult{Status: StatusUnhealthy, Error: "expected file, got directory"}
	case info.Size() == 0:
		return CheckResult{Status: StatusDegraded, Message: "file is empty"}
	}
	return CheckResult{Status: StatusHealthy, Message: "file exists and readable"}
}

// DirChecker checks that a working directory exists and accepts writes.
type DirChecker struct {
	name string
	path string
}

func NewDirChecker(name, path string) *DirChecker {
	return &DirChecker{name: name, path: path}
}

func (c *DirChecker) Name() string { return c.name }

func (c *DirChecker) Check(context.Context) CheckResult {
	if err := probeWritable(c.path); err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error(), Message: c.path}
	}
	return CheckResult{Status: StatusHealthy, Message: "writable"}
}

func probeWritable(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("not a directory: %s", dir)
	}
	f, err := os.CreateTemp(dir, ".write_test*")
	if err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(filepath.Clean(name))
}

// HeartbeatChecker reports a background loop as unhealthy once its last
// beat is older than maxAge. A loop that never beat is degraded.
type HeartbeatChecker struct {
	name   string
	last   func() time.Time
	maxAge time.Duration
	now    func() time.Time
}

func NewHeartbeatChecker(name string, last func() time.Time, maxAge time.Duration) *HeartbeatChecker {
	return &HeartbeatChecker{name: name, last: last, maxAge: maxAge, now: time.Now}
}

func (c *HeartbeatChecker) Name() string { return c.name }

func (c *HeartbeatChecker) Check(context.Context) CheckResult {
	last := c.last()
	if last.IsZero() {
		return CheckResult{Status: StatusDegraded, Message: "not started"}
	}
	if age := c.now().Sub(last); age > c.maxAge {
		return CheckResult{Status: StatusUnhealthy, Error: fmt.Sprintf("last beat %s ago", age.Truncate(time.Second))}
	}
	return CheckResult{Status: StatusHealthy}
}

// CheckFunc adapts fn into a Checker. A nil error is healthy.
func CheckFunc(name string, fn func(ctx context.Context) error) Checker {
	return funcChecker{name: name, fn: fn}
}

type funcChecker struct {
	name string
	fn   func(ctx context.Context) error
}

func (c funcChecker) Name() string { return c.name }

func (c funcChecker) Check(ctx context.Context) CheckResult {
	if err := c.fn(ctx); err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	}
	return CheckResult{Status: StatusHealthy}
}
