// internal/breaker/breaker.go
// Package breaker implements the per-dependency circuit breakers that guard
// every outbound call the pipeline makes. A breaker trips after repeated
// failures inside a sliding window, rejects calls while open, then admits a
// single trial once the open window elapses.
package breaker

import (
	"sync"
	"time"

	"github.com/puneetrinity/llmbackend1/internal/common/errors"
	"github.com/puneetrinity/llmbackend1/internal/common/logger"
	"github.com/puneetrinity/llmbackend1/internal/common/metrics"
)

// ============================================================================
// STATES
// ============================================================================

type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// gaugeValue maps states onto the breaker_state metric.
func gaugeValue(s State) float64 {
	switch s {
	case StateOpen:
		return 2
	case StateHalfOpen:
		return 1
	default:
		return 0
	}
}

// ============================================================================
// CONFIG
// ============================================================================

type Config struct {
	FailureThreshold int
	Window           time.Duration
	OpenDuration     time.Duration
	BackoffFactor    float64
	MaxOpenDuration  time.Duration
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		Window:           60 * time.Second,
		OpenDuration:     30 * time.Second,
		BackoffFactor:    2.0,
		MaxOpenDuration:  5 * time.Minute,
	}
}

// withDefaults fills zero values so a partial override cannot produce a
// breaker that never trips or never recovers.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = def.FailureThreshold
	}
	if c.Window <= 0 {
		c.Window = def.Window
	}
	if c.OpenDuration <= 0 {
		c.OpenDuration = def.OpenDuration
	}
	if c.BackoffFactor < 1 {
		c.BackoffFactor = def.BackoffFactor
	}
	if c.MaxOpenDuration <= 0 {
		c.MaxOpenDuration = def.MaxOpenDuration
	}
	return c
}

// ============================================================================
// CIRCUIT BREAKER
// ============================================================================

// CircuitBreaker guards one named dependency. All methods are safe for
// concurrent use; each breaker owns its own mutex so dependencies never
// contend with each other.
type CircuitBreaker struct {
	name   string
	config Config
	logger logger.Logger

	mu               sync.Mutex
	state            State
	failures         []time.Time
	openedAt         time.Time
	openDuration     time.Duration
	halfOpenInFlight bool
	lastFailureAt    time.Time
}

func New(name string, config Config, log logger.Logger) *CircuitBreaker {
	config = config.withDefaults()
	cb := &CircuitBreaker{
		name:         name,
		config:       config,
		logger:       log.WithFields(map[string]interface{}{"dependency": name}),
		state:        StateClosed,
		openDuration: config.OpenDuration,
	}
	metrics.BreakerState.WithLabelValues(name).Set(gaugeValue(StateClosed))
	return cb
}

func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Allow reports whether a call may proceed. It returns nil in closed state,
// admits exactly one trial call when the open window has elapsed, and
// otherwise returns a circuit-open error without any network activity.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil

	case StateOpen:
		if time.Since(cb.openedAt) < cb.openDuration {
			return errors.NewCircuitOpenError(cb.name)
		}
		cb.transition(StateHalfOpen)
		cb.halfOpenInFlight = true
		return nil

	case StateHalfOpen:
		if cb.halfOpenInFlight {
			return errors.NewCircuitOpenError(cb.name)
		}
		cb.halfOpenInFlight = true
		return nil
	}
	return nil
}

// RecordSuccess feeds a successful call back into the breaker. In half-open
// it closes the circuit and resets the open duration to its base; in closed
// it drops the oldest recorded failure so sporadic errors decay instead of
// accumulating forever.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateHalfOpen:
		cb.failures = nil
		cb.openDuration = cb.config.OpenDuration
		cb.halfOpenInFlight = false
		cb.transition(StateClosed)

	case StateClosed:
		if len(cb.failures) > 0 {
			cb.failures = cb.failures[1:]
		}
	}
}

// RecordFailure feeds a failed call back into the breaker. In closed state it
// appends to the sliding window and trips once the threshold is reached; in
// half-open it reopens with the open duration escalated by the backoff factor.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	cb.lastFailureAt = now

	switch cb.state {
	case StateClosed:
		cb.pruneLocked(now)
		cb.failures = append(cb.failures, now)
		if len(cb.failures) >= cb.config.FailureThreshold {
			cb.openedAt = now
			cb.transition(StateOpen)
		}

	case StateHalfOpen:
		escalated := time.Duration(float64(cb.openDuration) * cb.config.BackoffFactor)
		if escalated > cb.config.MaxOpenDuration {
			escalated = cb.config.MaxOpenDuration
		}
		cb.openDuration = escalated
		cb.openedAt = now
		cb.halfOpenInFlight = false
		cb.transition(StateOpen)
	}
}

// pruneLocked drops window entries older than the configured window.
func (cb *CircuitBreaker) pruneLocked(now time.Time) {
	cutoff := now.Add(-cb.config.Window)
	kept := cb.failures[:0]
	for _, ts := range cb.failures {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	cb.failures = kept
}

// transition must be called with the mutex held.
func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to

	metrics.BreakerState.WithLabelValues(cb.name).Set(gaugeValue(to))
	metrics.BreakerTransitions.WithLabelValues(cb.name, string(to)).Inc()

	fields := map[string]interface{}{
		"from": string(from),
		"to":   string(to),
	}
	if to == StateOpen {
		fields["openDuration"] = cb.openDuration.String()
		cb.logger.Warn("circuit state changed", fields)
		return
	}
	cb.logger.Info("circuit state changed", fields)
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Snapshot describes a breaker for health and stats surfaces.
type Snapshot struct {
	Name                string     `json:"name"`
	State               State      `json:"state"`
	FailureCount        int        `json:"failure_count"`
	OpenDurationSeconds float64    `json:"open_duration_seconds"`
	OpenedAt            *time.Time `json:"opened_at,omitempty"`
	LastFailureAt       *time.Time `json:"last_failure_at,omitempty"`
}

func (cb *CircuitBreaker) Snapshot() Snapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.pruneLocked(time.Now())
	snap := Snapshot{
		Name:                cb.name,
		State:               cb.state,
		FailureCount:        len(cb.failures),
		OpenDurationSeconds: cb.openDuration.Seconds(),
	}
	if cb.state != StateClosed {
		at := cb.openedAt
		snap.OpenedAt = &at
	}
	if !cb.lastFailureAt.IsZero() {
		at := cb.lastFailureAt
		snap.LastFailureAt = &at
	}
	return snap
}
