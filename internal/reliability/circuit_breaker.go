package reliability

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

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

// StateChangeListener receives circuit breaker state change notifications.
type StateChangeListener interface {
	OnStateChange(key string, from, to State, reason string)
}

// CircuitBreaker protects one circuit key (a module, or module+eventType)
// against a failing transport. Transient failures within a sliding window
// trip the breaker open; after a cooldown a limited number of trial calls
// probe the transport, and a single success closes the circuit again.
//
// State only changes through recorded call results or an explicit Reset.
type CircuitBreaker struct {
	mu               sync.RWMutex
	key              string
	state            State
	failures         int
	windowStart      time.Time
	lastFailureTime  time.Time
	lastTransitionAt time.Time
	currentHalfOpen  int

	failureThreshold int
	window           time.Duration
	cooldown         time.Duration
	halfOpenRequests int

	listeners []StateChangeListener
}

// BreakerOption configures a circuit breaker.
type BreakerOption func(*CircuitBreaker)

// WithFailureThreshold sets how many windowed failures open the circuit.
func WithFailureThreshold(threshold int) BreakerOption {
	return func(cb *CircuitBreaker) {
		cb.failureThreshold = threshold
	}
}

// WithFailureWindow sets the sliding window over which failures count.
func WithFailureWindow(window time.Duration) BreakerOption {
	return func(cb *CircuitBreaker) {
		cb.window = window
	}
}

// WithCooldown sets how long an open circuit blocks before probing.
func WithCooldown(cooldown time.Duration) BreakerOption {
	return func(cb *CircuitBreaker) {
		cb.cooldown = cooldown
	}
}

// WithHalfOpenRequests sets the trial call budget in half-open state.
func WithHalfOpenRequests(requests int) BreakerOption {
	return func(cb *CircuitBreaker) {
		cb.halfOpenRequests = requests
	}
}

// WithStateChangeListener registers a transition listener.
func WithStateChangeListener(listener StateChangeListener) BreakerOption {
	return func(cb *CircuitBreaker) {
		cb.listeners = append(cb.listeners, listener)
	}
}

// NewCircuitBreaker creates a breaker for the given circuit key.
func NewCircuitBreaker(key string, options ...BreakerOption) *CircuitBreaker {
	cb := &CircuitBreaker{
		key:              key,
		state:            StateClosed,
		failureThreshold: 5,
		window:           time.Minute,
		cooldown:         30 * time.Second,
		halfOpenRequests: 3,
	}

	for _, opt := range options {
		opt(cb)
	}

	return cb
}

// Execute runs fn under circuit protection. A blocked call returns a
// *CircuitBreakerError without touching the transport.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if err := cb.canExecute(); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	err := fn()
	cb.recordResult(err)
	return err
}

// Key returns the circuit identifier.
func (cb *CircuitBreaker) Key() string {
	return cb.key
}

// GetState returns the current state.
func (cb *CircuitBreaker) GetState() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Snapshot is a point-in-time view of breaker state for operators.
type Snapshot struct {
	Key              string
	State            State
	Failures         int
	WindowStart      time.Time
	LastTransitionAt time.Time
}

// GetSnapshot returns the breaker's current counters.
func (cb *CircuitBreaker) GetSnapshot() Snapshot {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return Snapshot{
		Key:              cb.key,
		State:            cb.state,
		Failures:         cb.failures,
		WindowStart:      cb.windowStart,
		LastTransitionAt: cb.lastTransitionAt,
	}
}

// Reset administratively closes the circuit and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	from := cb.state
	cb.state = StateClosed
	cb.failures = 0
	cb.currentHalfOpen = 0
	cb.windowStart = time.Time{}
	cb.lastTransitionAt = time.Now()
	if from != StateClosed {
		cb.notifyStateChange(from, StateClosed, "administrative reset")
	}
}

func (cb *CircuitBreaker) canExecute() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil

	case StateOpen:
		nextRetry := cb.lastTransitionAt.Add(cb.cooldown)
		if time.Now().After(nextRetry) {
			from := cb.state
			cb.state = StateHalfOpen
			cb.currentHalfOpen = 0
			cb.lastTransitionAt = time.Now()
			cb.notifyStateChange(from, cb.state, "cooldown elapsed")
			cb.currentHalfOpen++
			return nil
		}
		return &CircuitBreakerError{
			Key:              cb.key,
			State:            cb.state,
			Failures:         cb.failures,
			FailureThreshold: cb.failureThreshold,
			LastFailure:      cb.lastFailureTime,
			NextRetry:        nextRetry,
		}

	case StateHalfOpen:
		if cb.currentHalfOpen >= cb.halfOpenRequests {
			return &CircuitBreakerError{
				Key:              cb.key,
				State:            cb.state,
				Failures:         cb.failures,
				FailureThreshold: cb.failureThreshold,
				LastFailure:      cb.lastFailureTime,
				NextRetry:        time.Now().Add(time.Second),
			}
		}
		cb.currentHalfOpen++
		return nil

	default:
		return ErrUnknownState
	}
}

func (cb *CircuitBreaker) recordResult(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()

	if err != nil {
		// Failures outside the sliding window start a fresh count.
		if cb.windowStart.IsZero() || now.Sub(cb.windowStart) > cb.window {
			cb.windowStart = now
			cb.failures = 0
		}
		cb.failures++
		cb.lastFailureTime = now
		from := cb.state

		switch cb.state {
		case StateClosed:
			if cb.failures >= cb.failureThreshold {
				cb.state = StateOpen
				cb.lastTransitionAt = now
				cb.notifyStateChange(from, cb.state,
					fmt.Sprintf("failure threshold reached (%d/%d)", cb.failures, cb.failureThreshold))
			}

		case StateHalfOpen:
			// A failed trial call re-opens the circuit and restarts cooldown.
			cb.state = StateOpen
			cb.currentHalfOpen = 0
			cb.lastTransitionAt = now
			cb.notifyStateChange(from, cb.state, "failure in half-open state")
		}
		return
	}

	switch cb.state {
	case StateHalfOpen:
		// A single trial success closes the circuit.
		from := cb.state
		cb.state = StateClosed
		cb.failures = 0
		cb.currentHalfOpen = 0
		cb.windowStart = time.Time{}
		cb.lastTransitionAt = now
		cb.notifyStateChange(from, cb.state, "trial call succeeded")

	case StateClosed:
		if cb.failures > 0 {
			cb.failures = 0
			cb.windowStart = time.Time{}
		}
	}
}

// notifyStateChange runs listeners without holding up the caller. The
// breaker mutex is held by the caller; listeners get a detached goroutine.
func (cb *CircuitBreaker) notifyStateChange(from, to State, reason string) {
	listeners := make([]StateChangeListener, len(cb.listeners))
	copy(listeners, cb.listeners)

	for _, listener := range listeners {
		go listener.OnStateChange(cb.key, from, to, reason)
	}
}

// BreakerRegistry hands out one circuit breaker per key with process-wide
// lifecycle. Breakers are created lazily with the registry's options and
// reset only by explicit administrative action.
type BreakerRegistry struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	options  []BreakerOption
}

// NewBreakerRegistry creates a registry; options apply to every breaker it
// creates.
func NewBreakerRegistry(options ...BreakerOption) *BreakerRegistry {
	return &BreakerRegistry{
		breakers: make(map[string]*CircuitBreaker),
		options:  options,
	}
}

// For returns the breaker for a circuit key, creating it on first use.
func (r *BreakerRegistry) For(key string) *CircuitBreaker {
	r.mu.RLock()
	cb, ok := r.breakers[key]
	r.mu.RUnlock()
	if ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[key]; ok {
		return cb
	}
	cb = NewCircuitBreaker(key, r.options...)
	r.breakers[key] = cb
	return cb
}

// Reset administratively closes the breaker for a key, if one exists.
func (r *BreakerRegistry) Reset(key string) bool {
	r.mu.RLock()
	cb, ok := r.breakers[key]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	cb.Reset()
	return true
}

// Snapshots returns the current state of every known breaker.
func (r *BreakerRegistry) Snapshots() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshots := make([]Snapshot, 0, len(r.breakers))
	for _, cb := range r.breakers {
		snapshots = append(snapshots, cb.GetSnapshot())
	}
	return snapshots
}
