// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package resilience guards calls to remote collaborators (recognizer,
// distributor) with a circuit breaker.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ManuGH/tvscribe/internal/metrics"
)

// State represents the circuit breaker state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// ErrCircuitOpen is returned without calling the guarded function while the breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

type nowFunc func() time.Time

// CircuitBreaker opens after threshold consecutive failures and lets a single
// probe through once resetTimeout has elapsed.
type CircuitBreaker struct {
	mu           sync.Mutex
	name         string
	state        State
	failures     int
	threshold    int
	resetTimeout time.Duration
	openedAt     time.Time
	probing      bool
	now          nowFunc
}

// Option configures a CircuitBreaker.
type Option func(*CircuitBreaker)

// WithNow replaces the time source.
func WithNow(now func() time.Time) Option {
	return func(cb *CircuitBreaker) { cb.now = now }
}

// NewCircuitBreaker creates a closed breaker named after the guarded component.
func NewCircuitBreaker(name string, threshold int, resetTimeout time.Duration, opts ...Option) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 3
	}
	if resetTimeout <= 0 {
		resetTimeout = 30 * time.Second
	}
	cb := &CircuitBreaker{
		name:         name,
		state:        StateClosed,
		threshold:    threshold,
		resetTimeout: resetTimeout,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(cb)
	}
	metrics.SetCircuitBreakerState(cb.name, string(cb.state))
	return cb
}

// Execute runs fn unless the breaker is open. Context cancellation is not
// counted as a failure of the remote side.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if !cb.allow() {
		return ErrCircuitOpen
	}
	err := fn(ctx)
	switch {
	case err == nil:
		cb.recordSuccess()
	case errors.Is(err, context.Canceled) || ctx.Err() != nil:
		cb.releaseProbe()
	default:
		cb.recordFailure()
	}
	return err
}

// Call is Execute for functions returning a value.
func Call[T any](ctx context.Context, cb *CircuitBreaker, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := cb.Execute(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err == nil {
			out = v
		}
		return err
	})
	return out, err
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.resetTimeout {
			return false
		}
		cb.transitionTo(StateHalfOpen)
		cb.probing = true
		return true
	default:
		// One probe at a time.
		if cb.probing {
			return false
		}
		cb.probing = true
		return true
	}
}

func (cb *CircuitBreaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.probing = false
	if cb.state == StateHalfOpen {
		metrics.RecordCircuitBreakerTrip(cb.name, "half_open_failure")
		cb.transitionTo(StateOpen)
		return
	}
	if cb.state == StateClosed && cb.failures >= cb.threshold {
		metrics.RecordCircuitBreakerTrip(cb.name, "threshold_exceeded")
		cb.transitionTo(StateOpen)
	}
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	cb.probing = false
	cb.transitionTo(StateClosed)
}

func (cb *CircuitBreaker) releaseProbe() {
	cb.mu.Lock()
	cb.probing = false
	cb.mu.Unlock()
}

// Caller must hold lock.
func (cb *CircuitBreaker) transitionTo(next State) {
	if cb.state == next {
		return
	}
	cb.state = next
	if next == StateOpen {
		cb.openedAt = cb.now()
	}
	metrics.SetCircuitBreakerState(cb.name, string(next))
}

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
