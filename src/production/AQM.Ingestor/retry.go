package aqmingestor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	aqmmodels "gitlab.com/maplesense1/aqm.sensor_server/src/production/AQM.Models"
	interfaces "gitlab.com/maplesense1/aqm.sensor_server/src/production/AQM.Repository/Interfaces"
)

// ErrCircuitOpen is returned while the breaker refuses store writes
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerState represents the state of the circuit breaker
type CircuitBreakerState int

const (
	StateClosed CircuitBreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker stops hammering the store after repeated write failures
type CircuitBreaker struct {
	maxFailures  int
	resetTimeout time.Duration
	state        CircuitBreakerState
	failureCount int
	lastFailTime time.Time
	now          func() time.Time
	mutex        sync.Mutex
}

func NewCircuitBreaker(maxFailures int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		state:        StateClosed,
		now:          time.Now,
	}
}

// canExecute moves an expired open breaker to half-open and lets one attempt through
func (cb *CircuitBreaker) canExecute() bool {
	if cb == nil || cb.maxFailures <= 0 {
		return true
	}
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.lastFailTime) > cb.resetTimeout {
			cb.state = StateHalfOpen
			return true
		}
		return false
	default:
		return true
	}
}

func (cb *CircuitBreaker) onSuccess() {
	if cb == nil {
		return
	}
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.failureCount = 0
	cb.state = StateClosed
}

func (cb *CircuitBreaker) onFailure() {
	if cb == nil {
		return
	}
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.failureCount++
	cb.lastFailTime = cb.now()

	if cb.state == StateHalfOpen || (cb.maxFailures > 0 && cb.failureCount >= cb.maxFailures) {
		cb.state = StateOpen
	}
}

// State returns the current state and failure count
func (cb *CircuitBreaker) State() (CircuitBreakerState, int) {
	if cb == nil {
		return StateClosed, 0
	}
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.state, cb.failureCount
}

// retryingWriter wraps a store with bounded exponential backoff
type retryingWriter struct {
	store    interfaces.ReadingWriter
	attempts int
	delay    time.Duration
	breaker  *CircuitBreaker
}

func (w *retryingWriter) InsertReading(ctx context.Context, reading aqmmodels.Reading) error {
	attempts := w.attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if !w.breaker.canExecute() {
			if lastErr == nil {
				return ErrCircuitOpen
			}
			return fmt.Errorf("%w after %d attempts: %v", ErrCircuitOpen, attempt, lastErr)
		}

		err := w.store.InsertReading(ctx, reading)
		if err == nil {
			w.breaker.onSuccess()
			return nil
		}
		lastErr = err
		w.breaker.onFailure()

		if attempt == attempts-1 {
			break
		}

		delay := time.Duration(float64(w.delay) * math.Pow(2, float64(attempt)))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return fmt.Errorf("store write failed after %d attempts: %w", attempts, lastErr)
}
