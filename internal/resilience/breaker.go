// Package resilience provides the circuit breaker that keeps the fleet from
// restarting a worker that dies right after every start.
//
// [Breaker] is a three-state breaker (closed → open → half-open). Unlike a
// call wrapper, the outcome of a guarded action is reported later with
// [Breaker.Success] or [Breaker.Failure], because a worker's fate is only
// known once its process exits.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned by [Breaker.Execute] while the breaker rejects calls.
var ErrOpen = errors.New("resilience: circuit breaker is open")

// State represents the current operating mode of a [Breaker].
type State int

const (
	// StateClosed is the normal operating state. Every call is allowed.
	StateClosed State = iota

	// StateOpen rejects calls until the cooldown has elapsed.
	StateOpen

	// StateHalfOpen allows a single probe. Its outcome closes or re-opens
	// the breaker.
	StateHalfOpen
)

// String returns the human-readable name of the state.
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

// Config holds the tuning knobs of a [Breaker].
type Config struct {
	// Name labels log messages, e.g. the worker id.
	Name string

	// MaxFailures is the number of consecutive failures that open the
	// breaker. Default: 3.
	MaxFailures int

	// Cooldown is how long the breaker stays open before it allows a probe.
	// Default: 1m.
	Cooldown time.Duration
}

// Breaker implements the three-state circuit breaker pattern.
type Breaker struct {
	name        string
	maxFailures int
	cooldown    time.Duration
	now         func() time.Time

	mu              sync.Mutex
	state           State
	consecutiveFail int
	openedAt        time.Time
	probing         bool
}

// New creates a [Breaker]. Zero-value config fields are replaced with
// defaults.
func New(cfg Config) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = time.Minute
	}
	return &Breaker{
		name:        cfg.Name,
		maxFailures: cfg.MaxFailures,
		cooldown:    cfg.Cooldown,
		now:         time.Now,
		state:       StateClosed,
	}
}

// Allow reports whether a guarded action may start. In the open state it
// returns false until the cooldown has elapsed; the first call after that
// moves the breaker to half-open and is the only one allowed until the
// probe's outcome is reported.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return false
		}
		b.state = StateHalfOpen
		b.probing = true
		slog.Info("circuit breaker half-open, allowing probe", "name", b.name)
		return true
	case StateHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	}
	return true
}

// Success records a successful outcome. A successful probe closes the
// breaker.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		slog.Info("circuit breaker closed after successful probe", "name", b.name)
	}
	b.state = StateClosed
	b.consecutiveFail = 0
	b.probing = false
}

// Failure records a failed outcome. A failed probe re-opens the breaker at
// once.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false
	if b.state == StateHalfOpen {
		b.open()
		slog.Warn("circuit breaker re-opened by failed probe", "name", b.name)
		return
	}
	b.consecutiveFail++
	if b.state == StateClosed && b.consecutiveFail >= b.maxFailures {
		b.open()
		slog.Warn("circuit breaker opened",
			"name", b.name,
			"consecutive_failures", b.consecutiveFail)
	}
}

// open moves to the open state. b.mu must be held.
func (b *Breaker) open() {
	b.state = StateOpen
	b.openedAt = b.now()
}

// Execute runs fn if the breaker allows it and records its result.
func (b *Breaker) Execute(fn func() error) error {
	if !b.Allow() {
		return ErrOpen
	}
	if err := fn(); err != nil {
		b.Failure()
		return err
	}
	b.Success()
	return nil
}

// State returns the current state. An open breaker whose cooldown has
// elapsed reports [StateHalfOpen]; the transition happens on the next
// [Breaker.Allow].
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cooldown {
		return StateHalfOpen
	}
	return b.state
}

// Reset forces the breaker back to [StateClosed].
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = StateClosed
	b.consecutiveFail = 0
	b.probing = false
}
