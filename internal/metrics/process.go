// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	procSignals = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tvscribe_proc_signals_total",
		Help: "Signals sent to helper process groups",
	}, []string{"signal", "result"})

	procExits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tvscribe_proc_exits_total",
		Help: "Helper process exits after termination",
	}, []string{"kind"}) // kind=exit0|exit_nonzero|forced

	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tvscribe_circuit_breaker_state",
		Help: "Circuit breaker state by component (active state=1, others 0)",
	}, []string{"component", "state"})

	circuitBreakerTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tvscribe_circuit_breaker_trips_total",
		Help: "Total number of circuit breaker trips (transitions to open state)",
	}, []string{"component", "reason"})
)

// ProcObserver feeds procgroup lifecycle events into prometheus.
type ProcObserver struct{}

func (ProcObserver) Signal(signal, result string) {
	procSignals.WithLabelValues(signal, result).Inc()
}

func (ProcObserver) Exited(forced bool, err error) {
	switch {
	case forced:
		procExits.WithLabelValues("forced").Inc()
	case err == nil:
		procExits.WithLabelValues("exit0").Inc()
	default:
		procExits.WithLabelValues("exit_nonzero").Inc()
	}
}

var circuitStates = []string{"closed", "half-open", "open"}

// SetCircuitBreakerState records the active circuit breaker state for a component.
func SetCircuitBreakerState(component, state string) {
	for _, s := range circuitStates {
		value := 0.0
		if s == state {
			value = 1.0
		}
		circuitBreakerState.WithLabelValues(component, s).Set(value)
	}
}

// RecordCircuitBreakerTrip increments the trip counter when a breaker opens.
func RecordCircuitBreakerTrip(component, reason string) {
	circuitBreakerTrips.WithLabelValues(component, reason).Inc()
}
