// Package breaker implements the per-account circuit breaker (C4):
// closed/open/half-open with a sliding failure window and a fair,
// timed half-open probe slot. Grounded on the teacher's single-instance
// internal/infrastructure/llm circuit breaker (consecutive-failure fast
// path + failure-count-in-window check, transitionTo{Open,HalfOpen,Closed}Unsafe,
// cleanOldResultsUnsafe), generalized from one breaker per process to
// one breaker per warehouse account via Registry, and from a
// Call(ctx, fn) wrapper to the explicit canExecute/recordSuccess/
// recordFailure API spec.md calls for (C3/C5 call these directly
// rather than handing the breaker a closure).
package breaker

import (
	"log/slog"
	"sync"
	"time"

	"github.com/cdeskio/activity-gateway/internal/backoff"
	"github.com/cdeskio/activity-gateway/internal/core"
)

// Config parameterizes one account's breaker.
type Config struct {
	FailureThreshold int           `mapstructure:"failure_threshold"` // failures within Window to open
	Window           time.Duration `mapstructure:"window"`
	Cooldown         time.Duration `mapstructure:"cooldown"`    // base open-state duration
	MaxBackoff       time.Duration `mapstructure:"max_backoff"` // ceiling for compounded cooldowns
	SuccessThreshold int           `mapstructure:"success_threshold"`
	ProbeTimeout     time.Duration `mapstructure:"probe_timeout"` // half-open slot timeout
}

// DefaultConfig mirrors representative production values for this shape.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		Window:           60 * time.Second,
		Cooldown:         30 * time.Second,
		MaxBackoff:       5 * time.Minute,
		SuccessThreshold: 2,
		ProbeTimeout:     10 * time.Second,
	}
}

type failureEvent struct {
	at time.Time
}

// Breaker is a single account's finite state machine.
type Breaker struct {
	username string
	cfg      Config

	mu                   sync.Mutex
	state                core.CircuitState
	failures             []failureEvent
	consecutiveSuccesses int
	openedAt             time.Time
	cooldownEntries      int // how many times we've extended the cooldown, for backoff.Duration
	probeHeld            bool
	probeDeadline        time.Time

	logger *slog.Logger
	notify chan Notification
}

// Notification is a stateChange/success/failure event C6 subscribes to.
type Notification struct {
	Username string
	Kind     string // "state_change", "success", "failure"
	State    core.CircuitState
	At       time.Time
}

func newBreaker(username string, cfg Config, logger *slog.Logger, notify chan Notification) *Breaker {
	return &Breaker{
		username: username,
		cfg:      cfg,
		state:    core.CircuitClosed,
		logger:   logger.With("component", "breaker", "account", username),
		notify:   notify,
	}
}

// CanExecute reports whether a call may proceed for this account right now.
// In open state this always returns false until the cooldown elapses, at
// which point the call transitions the breaker into half_open and grants
// the caller the probe slot. Only one probe is in flight at a time; the
// slot auto-releases after ProbeTimeout so a stalled probe can never
// starve the account (§4.4 fairness invariant).
func (b *Breaker) CanExecute() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()

	if b.state == core.CircuitOpen {
		cooldown := backoff.Policy{Base: b.cfg.Cooldown, Ceiling: b.cfg.MaxBackoff, Jitter: false}.Duration(b.cooldownEntries)
		if now.Sub(b.openedAt) < cooldown {
			return false
		}
		b.transitionTo(core.CircuitHalfOpen, now)
	}

	if b.state == core.CircuitHalfOpen {
		if b.probeHeld && now.Before(b.probeDeadline) {
			return false
		}
		b.probeHeld = true
		b.probeDeadline = now.Add(b.cfg.ProbeTimeout)
		return true
	}

	return true // closed
}

// RecordSuccess registers a successful call.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	switch b.state {
	case core.CircuitHalfOpen:
		b.probeHeld = false
		b.consecutiveSuccesses++
		if b.consecutiveSuccesses >= b.cfg.SuccessThreshold {
			b.cooldownEntries = 0
			b.failures = b.failures[:0]
			b.transitionTo(core.CircuitClosed, now)
		}
	case core.CircuitClosed:
		b.trimFailures(now)
	}
	b.emit("success", now)
}

// RecordFailure registers a failed call and drives the state machine.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.consecutiveSuccesses = 0

	switch b.state {
	case core.CircuitHalfOpen:
		b.probeHeld = false
		b.cooldownEntries++
		b.transitionTo(core.CircuitOpen, now)
	case core.CircuitClosed:
		b.failures = append(b.failures, failureEvent{at: now})
		b.trimFailures(now)
		if len(b.failures) >= b.cfg.FailureThreshold {
			b.cooldownEntries++
			b.transitionTo(core.CircuitOpen, now)
		}
	}
	b.emit("failure", now)
}

// State returns the breaker's current state (for health reporting).
func (b *Breaker) State() core.CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset forces the breaker back to closed (admin unlock-account operation).
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = b.failures[:0]
	b.consecutiveSuccesses = 0
	b.cooldownEntries = 0
	b.probeHeld = false
	b.transitionTo(core.CircuitClosed, time.Now())
}

func (b *Breaker) trimFailures(now time.Time) {
	cutoff := now.Add(-b.cfg.Window)
	kept := b.failures[:0]
	for _, f := range b.failures {
		if f.at.After(cutoff) {
			kept = append(kept, f)
		}
	}
	b.failures = kept
}

func (b *Breaker) transitionTo(next core.CircuitState, now time.Time) {
	prev := b.state
	b.state = next
	if next == core.CircuitOpen {
		b.openedAt = now
	}
	if prev != next {
		b.logger.Info("circuit state changed", "from", prev, "to", next)
		b.emit("state_change", now)
	}
}

func (b *Breaker) emit(kind string, at time.Time) {
	if b.notify == nil {
		return
	}
	select {
	case b.notify <- Notification{Username: b.username, Kind: kind, State: b.state, At: at}:
	default: // health monitor is a best-effort observer, never blocks the hot path
	}
}
