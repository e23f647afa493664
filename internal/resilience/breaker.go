// Package resilience protects the remote live service from connect storms.
//
// [Breaker] is a three-state circuit breaker (closed, open, half-open) that
// outlives individual connection attempts. [GuardProvider] routes a live
// provider's Connect through a shared Breaker so that after repeated
// handshake failures further connects fail fast until a cooldown passes.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned while the breaker rejects calls.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// State is the operating mode of a [Breaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls until the cooldown elapses.
	StateOpen

	// StateHalfOpen lets a single probe through. Its outcome closes or
	// re-opens the breaker.
	StateHalfOpen
)

// String returns the lower-case state name.
func (s State) String() string {
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

// BreakerConfig tunes a [Breaker].
type BreakerConfig struct {
	// Name labels log lines.
	Name string

	// MaxFailures is the number of consecutive failures that opens the
	// breaker. Default 3.
	MaxFailures int

	// Cooldown is how long the breaker stays open. Default 30s.
	Cooldown time.Duration

	// Now replaces time.Now in tests.
	Now func() time.Time
}

// OpenError is returned by [Breaker.Do] while the breaker is open. It wraps
// [ErrCircuitOpen].
type OpenError struct {
	Name       string
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("%s unavailable after repeated failures, retry in %s",
		e.Name, e.RetryAfter.Round(time.Second))
}

func (e *OpenError) Unwrap() error { return ErrCircuitOpen }

// Breaker implements the circuit breaker pattern.
type Breaker struct {
	name        string
	maxFailures int
	cooldown    time.Duration
	now         func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// NewBreaker creates a closed Breaker. Zero config fields take defaults.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Name == "" {
		cfg.Name = "service"
	}
	return &Breaker{
		name:        cfg.Name,
		maxFailures: cfg.MaxFailures,
		cooldown:    cfg.Cooldown,
		now:         cfg.Now,
	}
}

// Do runs fn unless the breaker is open. ignore, when non-nil, marks errors
// that say nothing about the service's health (a caller cancelling, for
// instance); they neither count as failures nor as successes.
func (b *Breaker) Do(fn func() error, ignore func(error) bool) error {
	probe, err := b.admit()
	if err != nil {
		return err
	}

	err = fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if probe {
		b.probing = false
	}
	switch {
	case err != nil && ignore != nil && ignore(err):
		if probe {
			// The probe told us nothing; let the next call probe again.
			b.state = StateHalfOpen
		}
	case err != nil:
		b.failLocked(probe)
	default:
		if b.state != StateClosed {
			slog.Info("circuit closed", "name", b.name)
		}
		b.state = StateClosed
		b.failures = 0
	}
	return err
}

// admit decides whether a call may proceed and whether it is the half-open
// probe.
func (b *Breaker) admit() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if wait := b.cooldown - b.now().Sub(b.openedAt); wait > 0 {
			return false, &OpenError{Name: b.name, RetryAfter: wait}
		}
		b.state = StateHalfOpen
		slog.Info("circuit half-open", "name", b.name)
	}
	if b.state == StateHalfOpen {
		if b.probing {
			return false, &OpenError{Name: b.name, RetryAfter: 0}
		}
		b.probing = true
		return true, nil
	}
	return false, nil
}

func (b *Breaker) failLocked(probe bool) {
	b.failures++
	if probe || b.failures >= b.maxFailures {
		b.state = StateOpen
		b.openedAt = b.now()
		slog.Warn("circuit opened", "name", b.name, "consecutive_failures", b.failures, "cooldown", b.cooldown)
	}
}

// State reports the current state. An open breaker whose cooldown has passed
// reports [StateHalfOpen]; the transition itself happens on the next call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cooldown {
		return StateHalfOpen
	}
	return b.state
}

// Reset closes the breaker and clears the failure count.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.probing = false
}

// Err returns an [*OpenError] while the breaker rejects calls, else nil.
func (b *Breaker) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateOpen {
		return nil
	}
	if wait := b.cooldown - b.now().Sub(b.openedAt); wait > 0 {
		return &OpenError{Name: b.name, RetryAfter: wait}
	}
	return nil
}
