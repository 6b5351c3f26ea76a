// Package breaker implements a per-dependency circuit breaker: an
// Execute(f) wrapper, an ErrCircuitOpen fail-open sentinel, and
// Stats()/Reset() accessors.
package breaker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// State is one of the three circuit breaker states.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// ErrCircuitOpen is returned by Execute when the circuit is open and no
// fallback was provided.
var ErrCircuitOpen = errors.New("breaker: circuit is open")

// Config configures one breaker instance.
type Config struct {
	FailureThreshold       int           // consecutive failures to trip closed->open
	ErrorPercentageThreshold float64     // in-window error rate (0-100) to trip closed->open
	VolumeThreshold        int           // minimum in-window calls before error-rate trip applies
	SlowCallThreshold      time.Duration // latency above this counts as a failure
	Timeout                time.Duration // open->half_open delay
	RecoveryThreshold      int           // consecutive half_open successes to close
	HalfOpenMaxCalls       int           // concurrent calls allowed while half_open
	WindowSize             int           // sliding window length, in calls
}

// DefaultConfig returns sensible production defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:         5,
		ErrorPercentageThreshold: 50,
		VolumeThreshold:          10,
		SlowCallThreshold:        2 * time.Second,
		Timeout:                  30 * time.Second,
		RecoveryThreshold:        3,
		HalfOpenMaxCalls:         1,
		WindowSize:               20,
	}
}

type callRecord struct {
	timestamp time.Time
	success   bool
	latency   time.Duration
}

// Stats is a snapshot of breaker counters, returned by Stats().
type Stats struct {
	State               State
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	WindowCalls          int
	WindowFailures       int
	LastStateChange      time.Time
}

// Breaker is a per-dependency circuit breaker state machine.
type Breaker struct {
	cfg Config

	mu                   sync.Mutex
	state                State
	window               []callRecord
	consecutiveFailures  int
	consecutiveSuccesses int
	lastStateChange      time.Time
	openedAt             time.Time

	halfOpenInFlight atomic.Int32
}

// New constructs a Breaker in the closed state.
func New(cfg Config) *Breaker {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 20
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = 1
	}
	return &Breaker{
		cfg:             cfg,
		state:           StateClosed,
		lastStateChange: time.Now(),
	}
}

// Execute runs f, short-circuiting to fallback (or ErrCircuitOpen if
// fallback is nil) when the circuit is open.
func (b *Breaker) Execute(ctx context.Context, f func(context.Context) error, fallback func(context.Context, error) error) error {
	if !b.allow() {
		if fallback != nil {
			return fallback(ctx, ErrCircuitOpen)
		}
		return ErrCircuitOpen
	}

	start := time.Now()
	err := f(ctx)
	latency := time.Since(start)

	success := err == nil && latency <= b.effectiveSlowThreshold()
	b.record(success, latency)
	return err
}

func (b *Breaker) effectiveSlowThreshold() time.Duration {
	if b.cfg.SlowCallThreshold <= 0 {
		return time.Duration(1<<63 - 1) // effectively unbounded
	}
	return b.cfg.SlowCallThreshold
}

// allow reports whether a call may proceed, transitioning open->half_open
// after Timeout has elapsed and enforcing HalfOpenMaxCalls concurrency.
func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(b.openedAt) >= b.cfg.Timeout {
			b.transitionLocked(StateHalfOpen)
			return b.tryEnterHalfOpen()
		}
		return false
	case StateHalfOpen:
		return b.tryEnterHalfOpen()
	default:
		return true
	}
}

func (b *Breaker) tryEnterHalfOpen() bool {
	for {
		cur := b.halfOpenInFlight.Load()
		if int(cur) >= b.cfg.HalfOpenMaxCalls {
			return false
		}
		if b.halfOpenInFlight.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

// record folds one call's outcome into the sliding window and evaluates
// state transitions.
func (b *Breaker) record(success bool, latency time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	wasHalfOpen := b.state == StateHalfOpen
	if wasHalfOpen {
		b.halfOpenInFlight.Add(-1)
	}

	b.window = append(b.window, callRecord{timestamp: time.Now(), success: success, latency: latency})
	if len(b.window) > b.cfg.WindowSize {
		b.window = b.window[len(b.window)-b.cfg.WindowSize:]
	}

	if success {
		b.consecutiveFailures = 0
		b.consecutiveSuccesses++
	} else {
		b.consecutiveSuccesses = 0
		b.consecutiveFailures++
	}

	switch b.state {
	case StateClosed:
		if b.shouldTripLocked() {
			b.transitionLocked(StateOpen)
		}
	case StateHalfOpen:
		if !success {
			b.transitionLocked(StateOpen)
		} else if b.consecutiveSuccesses >= b.cfg.RecoveryThreshold {
			b.transitionLocked(StateClosed)
		}
	}
}

func (b *Breaker) shouldTripLocked() bool {
	if b.cfg.FailureThreshold > 0 && b.consecutiveFailures >= b.cfg.FailureThreshold {
		return true
	}
	if len(b.window) < b.cfg.VolumeThreshold {
		return false
	}
	failures := 0
	for _, r := range b.window {
		if !r.success {
			failures++
		}
	}
	errorRate := float64(failures) / float64(len(b.window)) * 100
	return b.cfg.ErrorPercentageThreshold > 0 && errorRate >= b.cfg.ErrorPercentageThreshold
}

func (b *Breaker) transitionLocked(to State) {
	b.state = to
	b.lastStateChange = time.Now()
	if to == StateOpen {
		b.openedAt = time.Now()
		b.halfOpenInFlight.Store(0)
	}
	if to == StateClosed {
		b.consecutiveFailures = 0
		b.window = nil
	}
	if to == StateHalfOpen {
		b.consecutiveSuccesses = 0
	}
}

// IsOpen reports whether the circuit is currently open (not half-open).
func (b *Breaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == StateOpen
}

// ForceOpen trips the breaker immediately, for tests and operator overrides.
func (b *Breaker) ForceOpen() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionLocked(StateOpen)
}

// Reset returns the breaker to closed with cleared counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFailures = 0
	b.consecutiveSuccesses = 0
	b.window = nil
	b.halfOpenInFlight.Store(0)
	b.transitionLocked(StateClosed)
}

// Stats returns a snapshot of the breaker's current counters.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	failures := 0
	for _, r := range b.window {
		if !r.success {
			failures++
		}
	}
	return Stats{
		State:                b.state,
		ConsecutiveFailures:  b.consecutiveFailures,
		ConsecutiveSuccesses: b.consecutiveSuccesses,
		WindowCalls:          len(b.window),
		WindowFailures:       failures,
		LastStateChange:      b.lastStateChange,
	}
}
