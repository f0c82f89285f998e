// Package circuitbreaker implements the C3 per-(app, providerId) circuit
// breaker (spec.md §4.3): a lock-free-read, three-state (Closed/Open/
// HalfOpen) state machine built on a sync.Map-of-atomics design, extended
// to a configurable half-open probe budget and success threshold.
package circuitbreaker

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/synebula/cc-switch/internal/domain"
)

// Breaker tracks circuit state for every (app, providerId) key it has seen.
// CanDispatch is the hot-path admission check and never blocks beyond a
// per-key mutex only taken on a state transition, not a steady-state read.
type Breaker struct {
	states    sync.Map // key string -> *circuitState
	configPtr atomic.Pointer[domain.CircuitBreakerConfig]
}

type circuitState struct {
	mu              sync.Mutex
	kind            atomic.Int32
	consecutiveFails atomic.Uint32
	successCounter  atomic.Uint32
	probesRemaining atomic.Int32
	openedAt        atomic.Int64
}

// New constructs a Breaker with the given configuration.
func New(cfg domain.CircuitBreakerConfig) *Breaker {
	b := &Breaker{}
	b.configPtr.Store(&cfg)
	return b
}

// cfg returns the currently active configuration.
func (b *Breaker) cfg() domain.CircuitBreakerConfig {
	return *b.configPtr.Load()
}

func key(app domain.App, providerID string) string {
	return string(app) + ":" + providerID
}

func (b *Breaker) loadOrCreate(k string) *circuitState {
	actual, _ := b.states.LoadOrStore(k, &circuitState{})
	return actual.(*circuitState)
}

// CanDispatch is the admission check consulted before every forward.
// Closed always admits. Open admits only after open_duration_ms has
// elapsed, at which point it transitions to HalfOpen and consumes one
// probe slot. HalfOpen admits while probes_remaining > 0.
func (b *Breaker) CanDispatch(app domain.App, providerID string) bool {
	s := b.loadOrCreate(key(app, providerID))

	switch domain.CircuitStateKind(s.kind.Load()) {
	case domain.CircuitClosed:
		return true
	case domain.CircuitHalfOpen:
		return s.admitProbe()
	case domain.CircuitOpen:
		openedAt := time.Unix(0, s.openedAt.Load())
		if time.Since(openedAt) < b.cfg().OpenDuration {
			return false
		}
		return b.transitionToHalfOpen(s)
	default:
		return true
	}
}

func (s *circuitState) admitProbe() bool {
	for {
		remaining := s.probesRemaining.Load()
		if remaining <= 0 {
			return false
		}
		if s.probesRemaining.CompareAndSwap(remaining, remaining-1) {
			return true
		}
	}
}

func (b *Breaker) transitionToHalfOpen(s *circuitState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if domain.CircuitStateKind(s.kind.Load()) != domain.CircuitOpen {
		// Another goroutine already moved the state on; re-evaluate fresh.
		return b.canDispatchLocked(s)
	}
	s.kind.Store(int32(domain.CircuitHalfOpen))
	s.successCounter.Store(0)
	s.probesRemaining.Store(int32(b.cfg().HalfOpenProbeCount))
	return s.admitProbe()
}

// canDispatchLocked re-checks admission for a state that raced past Open
// while we waited on the transition lock.
func (b *Breaker) canDispatchLocked(s *circuitState) bool {
	switch domain.CircuitStateKind(s.kind.Load()) {
	case domain.CircuitClosed:
		return true
	case domain.CircuitHalfOpen:
		return s.admitProbe()
	default:
		return false
	}
}

// RecordSuccess reports a successful dispatch, returning the resulting
// state so the caller can persist healthy=true on a Closed transition.
func (b *Breaker) RecordSuccess(app domain.App, providerID string) domain.CircuitStateKind {
	s := b.loadOrCreate(key(app, providerID))

	switch domain.CircuitStateKind(s.kind.Load()) {
	case domain.CircuitClosed:
		s.consecutiveFails.Store(0)
		return domain.CircuitClosed
	case domain.CircuitHalfOpen:
		s.mu.Lock()
		defer s.mu.Unlock()
		if domain.CircuitStateKind(s.kind.Load()) != domain.CircuitHalfOpen {
			return domain.CircuitStateKind(s.kind.Load())
		}
		count := s.successCounter.Add(1)
		if count >= b.cfg().SuccessThresholdToClose {
			s.kind.Store(int32(domain.CircuitClosed))
			s.consecutiveFails.Store(0)
			s.successCounter.Store(0)
			return domain.CircuitClosed
		}
		return domain.CircuitHalfOpen
	default:
		return domain.CircuitStateKind(s.kind.Load())
	}
}

// RecordFailure reports a failed dispatch, returning the resulting state so
// the caller can persist healthy=false/last_error on an Open transition.
func (b *Breaker) RecordFailure(app domain.App, providerID string) domain.CircuitStateKind {
	s := b.loadOrCreate(key(app, providerID))

	switch domain.CircuitStateKind(s.kind.Load()) {
	case domain.CircuitClosed:
		fails := s.consecutiveFails.Add(1)
		if fails >= b.cfg().FailureThreshold {
			s.mu.Lock()
			if domain.CircuitStateKind(s.kind.Load()) == domain.CircuitClosed {
				s.kind.Store(int32(domain.CircuitOpen))
				s.openedAt.Store(time.Now().UnixNano())
			}
			s.mu.Unlock()
			return domain.CircuitOpen
		}
		return domain.CircuitClosed
	case domain.CircuitHalfOpen:
		s.mu.Lock()
		s.kind.Store(int32(domain.CircuitOpen))
		s.openedAt.Store(time.Now().UnixNano())
		s.successCounter.Store(0)
		s.mu.Unlock()
		return domain.CircuitOpen
	default: // already Open
		s.openedAt.Store(time.Now().UnixNano())
		return domain.CircuitOpen
	}
}

// Reset forces a key back to Closed, e.g. on manual reset_circuit_breaker.
func (b *Breaker) Reset(app domain.App, providerID string) {
	s := b.loadOrCreate(key(app, providerID))
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kind.Store(int32(domain.CircuitClosed))
	s.consecutiveFails.Store(0)
	s.successCounter.Store(0)
	s.probesRemaining.Store(0)
	s.openedAt.Store(0)
}

// Seed primes a key's state from durable ProviderHealth at startup. A fresh
// Breaker's sync.Map starts empty, which CanDispatch treats as Closed; left
// unseeded, a provider persisted unhealthy would come back up admitting
// immediately instead of where it was left (spec.md §3's health/state-
// separation invariant). healthy=true needs no seeding, since Closed is
// already the zero-value state. healthy=false seeds Open with its open
// window already elapsed, granting one immediate half-open probe rather
// than replaying a consecutive-failure count the breaker never recorded.
func (b *Breaker) Seed(app domain.App, providerID string, healthy bool) {
	if healthy {
		return
	}
	s := b.loadOrCreate(key(app, providerID))
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kind.Store(int32(domain.CircuitOpen))
	s.openedAt.Store(time.Now().Add(-b.cfg().OpenDuration).UnixNano())
}

// State returns the current state of a key for inspection/logging.
func (b *Breaker) State(app domain.App, providerID string) domain.CircuitStateKind {
	s := b.loadOrCreate(key(app, providerID))
	return domain.CircuitStateKind(s.kind.Load())
}

// Remove drops a key entirely, used when a provider is deleted.
func (b *Breaker) Remove(app domain.App, providerID string) {
	b.states.Delete(key(app, providerID))
}

// UpdateConfig replaces the thresholds governing every key's future
// transitions. Existing per-key state (open/half-open, counters) is left
// alone - only the admission rules they're measured against change, so a
// live reconfiguration never forces an in-flight circuit back to Closed.
func (b *Breaker) UpdateConfig(cfg domain.CircuitBreakerConfig) {
	b.configPtr.Store(&cfg)
}
