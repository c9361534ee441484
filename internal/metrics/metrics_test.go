// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package metrics_test

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/tvscribe/internal/metrics"
)

func scrape(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	promhttp.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	return rec.Body.String()
}

func TestCollectorsExposed(t *testing.T) {
	metrics.IncCapture("news", "ok")
	metrics.IncReconnect("news")
	metrics.IncOutcome("frame", "accepted")
	metrics.IncJob("completed")
	metrics.IncDelivery("telegram", false)
	metrics.ObserveRecognition("http", 0.2)

	body := scrape(t)
	for _, want := range []string{
		`tvscribe_captures_total{channel="news",outcome="ok"}`,
		`tvscribe_stream_reconnects_total{channel="news"}`,
		`tvscribe_recognition_outcomes_total{outcome="accepted",source="frame"}`,
		`tvscribe_recording_jobs_total{status="completed"}`,
		`tvscribe_deliveries_total{backend="telegram",result="failure"}`,
		`tvscribe_recognition_duration_seconds_bucket`,
	} {
		assert.True(t, strings.Contains(body, want), want)
	}
}

func TestProcObserver(t *testing.T) {
	var o metrics.ProcObserver
	o.Signal("SIGTERM", "sent")
	o.Exited(false, nil)
	o.Exited(false, errors.New("exit status 1"))
	o.Exited(true, nil)

	body := scrape(t)
	assert.Contains(t, body, `tvscribe_proc_signals_total{result="sent",signal="SIGTERM"}`)
	assert.Contains(t, body, `tvscribe_proc_exits_total{kind="forced"}`)
}

func TestCircuitBreakerStateIsExclusive(t *testing.T) {
	metrics.SetCircuitBreakerState("recognizer", "open")
	body := scrape(t)
	assert.Contains(t, body, `tvscribe_circuit_breaker_state{component="recognizer",state="open"} 1`)
	assert.Contains(t, body, `tvscribe_circuit_breaker_state{component="recognizer",state="closed"} 0`)
}
