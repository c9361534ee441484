// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	recognitionOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tvscribe_recognition_outcomes_total",
		Help: "Recognition pipeline outcomes by source kind",
	}, []string{"source", "outcome"}) // source=frame|clip|segment

	recognitionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tvscribe_recognition_duration_seconds",
		Help:    "Recognizer call latency by backend",
		Buckets: prometheus.ExponentialBuckets(0.05, 2.0, 10),
	}, []string{"backend"})

	jobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tvscribe_recording_jobs_total",
		Help: "Recording jobs by terminal status",
	}, []string{"status"})

	jobsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tvscribe_recording_jobs_active",
		Help: "Recording jobs currently running",
	})

	deliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tvscribe_deliveries_total",
		Help: "Distribution attempts by backend and result",
	}, []string{"backend", "result"})

	corpusSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tvscribe_corpus_entries",
		Help: "Entries in the daily corpus at last check",
	})
)

// IncOutcome records a pipeline outcome.
func IncOutcome(source, outcome string) {
	recognitionOutcomes.WithLabelValues(source, outcome).Inc()
}

// ObserveRecognition records recognizer latency in seconds.
func ObserveRecognition(backend string, seconds float64) {
	recognitionDuration.WithLabelValues(backend).Observe(seconds)
}

// IncJob records a finished recording job.
func IncJob(status string) {
	jobsTotal.WithLabelValues(status).Inc()
}

// AddActiveJobs adjusts the active job gauge.
func AddActiveJobs(delta int) {
	jobsActive.Add(float64(delta))
}

// IncDelivery records one distribution attempt.
func IncDelivery(backend string, ok bool) {
	result := "success"
	if !ok {
		result = "failure"
	}
	deliveriesTotal.WithLabelValues(backend, result).Inc()
}

// SetCorpusSize sets the corpus size gauge.
func SetCorpusSize(n int) {
	corpusSize.Set(float64(n))
}
