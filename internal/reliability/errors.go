package reliability

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnknownState guards against an impossible breaker state.
	ErrUnknownState = errors.New("circuit breaker: unknown state")

	// ErrRetriesExhausted marks a publish whose retry budget ran out.
	ErrRetriesExhausted = errors.New("retry: maximum attempts exceeded")

	// ErrHeldEventExists is returned when an event is already held.
	ErrHeldEventExists = errors.New("holding store: event already held")
)

// CircuitBreakerError is returned when a call is short-circuited by an
// open or saturated breaker. It is classified as transient for dead-letter
// purposes: the call never reached the transport.
type CircuitBreakerError struct {
	Key              string
	State            State
	Failures         int
	FailureThreshold int
	LastFailure      time.Time
	NextRetry        time.Time
}

func (e *CircuitBreakerError) Error() string {
	switch e.State {
	case StateOpen:
		retryIn := time.Until(e.NextRetry).Round(time.Second)
		return fmt.Sprintf("circuit breaker %s open: call blocked (failures=%d/%d, retry in %v)",
			e.Key, e.Failures, e.FailureThreshold, retryIn)
	case StateHalfOpen:
		return fmt.Sprintf("circuit breaker %s half-open: trial call limit reached", e.Key)
	default:
		return fmt.Sprintf("circuit breaker %s: call blocked in state %v", e.Key, e.State)
	}
}

// IsRetryable implements the retryable error convention. A short-circuited
// call may succeed after the cooldown elapses.
func (e *CircuitBreakerError) IsRetryable() bool { return true }

// RetryError wraps the last error after the retry budget is exhausted.
type RetryError struct {
	Op          string
	Attempts    int
	MaxAttempts int
	LastError   error
	Duration    time.Duration
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("retry failed: %s after %d/%d attempts over %v: %v",
		e.Op, e.Attempts, e.MaxAttempts, e.Duration.Round(time.Millisecond), e.LastError)
}

func (e *RetryError) Unwrap() error {
	return e.LastError
}
