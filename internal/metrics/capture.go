// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package metrics holds the prometheus collectors of the daemon.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	capturesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tvscribe_captures_total",
		Help: "Snapshot attempts per channel by outcome",
	}, []string{"channel", "outcome"}) // outcome=ok|error|forced

	reconnectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tvscribe_stream_reconnects_total",
		Help: "Stream reconnect attempts per channel",
	}, []string{"channel"})

	workersRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tvscribe_capture_workers_running",
		Help: "Number of running capture workers",
	})

	intakeDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tvscribe_intake_dropped_total",
		Help: "Frames dropped because the recognition queue was full",
	}, []string{"channel"})
)

// IncCapture records one snapshot attempt.
func IncCapture(channel, outcome string) {
	capturesTotal.WithLabelValues(channel, outcome).Inc()
}

// IncReconnect records one reconnect attempt.
func IncReconnect(channel string) {
	reconnectsTotal.WithLabelValues(channel).Inc()
}

// SetWorkersRunning sets the running worker gauge.
func SetWorkersRunning(n int) {
	workersRunning.Set(float64(n))
}

// IncIntakeDropped records a frame dropped at intake.
func IncIntakeDropped(channel string) {
	intakeDropped.WithLabelValues(channel).Inc()
}
