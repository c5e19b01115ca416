package reliability

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/biotrace/eventgate/contracts"
)

// RetryPolicy decides whether and when to retry a failed attempt.
type RetryPolicy interface {
	// ShouldRetry reports whether another attempt is allowed after the given
	// number of completed attempts, and the delay to wait first.
	ShouldRetry(attempt int, err error) (bool, time.Duration)
	// MaxAttempts returns the attempt budget.
	MaxAttempts() int
}

// ExponentialBackoff retries with exponentially growing delays and jitter.
type ExponentialBackoff struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	Attempts        int
	Jitter          bool
}

// NewExponentialBackoff creates the default publish retry policy.
func NewExponentialBackoff(initial, max time.Duration, multiplier float64, maxAttempts int) *ExponentialBackoff {
	return &ExponentialBackoff{
		InitialInterval: initial,
		MaxInterval:     max,
		Multiplier:      multiplier,
		Attempts:        maxAttempts,
		Jitter:          true,
	}
}

// ShouldRetry implements RetryPolicy.
func (e *ExponentialBackoff) ShouldRetry(attempt int, err error) (bool, time.Duration) {
	if attempt >= e.Attempts {
		return false, 0
	}
	if !isRetryable(err) {
		return false, 0
	}
	return true, e.nextDelay(attempt)
}

// MaxAttempts implements RetryPolicy.
func (e *ExponentialBackoff) MaxAttempts() int {
	return e.Attempts
}

func (e *ExponentialBackoff) nextDelay(attempt int) time.Duration {
	delay := float64(e.InitialInterval) * math.Pow(e.Multiplier, float64(attempt-1))

	if delay > float64(e.MaxInterval) {
		delay = float64(e.MaxInterval)
	}

	if e.Jitter {
		jitter := rand.Float64() * 0.3 * delay // ±15% jitter
		delay = delay + jitter - (0.15 * delay)
	}

	return time.Duration(delay)
}

// Executor wraps a transport call with circuit-breaker-gated, bounded
// exponential-backoff retry. Every attempt outcome is recorded so the
// history can travel with a dead-letter record.
type Executor struct {
	policy RetryPolicy
	logger *slog.Logger
}

// ExecutorOption configures the executor.
type ExecutorOption func(*Executor)

// WithRetryPolicy sets the retry policy.
func WithRetryPolicy(policy RetryPolicy) ExecutorOption {
	return func(e *Executor) {
		e.policy = policy
	}
}

// WithExecutorLogger sets the logger.
func WithExecutorLogger(logger *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		e.logger = logger
	}
}

// NewExecutor creates a retry executor with the default policy: initial
// delay 1s, multiplier 2.0, three attempts.
func NewExecutor(options ...ExecutorOption) *Executor {
	e := &Executor{
		policy: NewExponentialBackoff(time.Second, 5*time.Minute, 2.0, 3),
		logger: slog.Default(),
	}

	for _, opt := range options {
		opt(e)
	}

	return e
}

// Execute runs fn through the breaker until it succeeds, the budget runs
// out, a non-retryable error surfaces, or ctx is cancelled. The returned
// history always reflects every attempt made; its length never exceeds the
// policy's attempt budget.
//
// A breaker that is open when an attempt starts skips the transport call,
// records a skipped attempt, and exhausts the budget immediately.
func (e *Executor) Execute(ctx context.Context, breaker *CircuitBreaker, op string, fn func() error) ([]contracts.RetryAttempt, error) {
	history := make([]contracts.RetryAttempt, 0, e.policy.MaxAttempts())
	start := time.Now()

	var delay time.Duration
	var lastErr error

	for attempt := 1; attempt <= e.policy.MaxAttempts(); attempt++ {
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				// Shutdown mid-retry: hand the history back so the caller
				// can flush the event to a dead-letter record.
				return history, ctx.Err()
			}
		}

		err := breaker.Execute(ctx, fn)
		if err == nil {
			history = append(history, contracts.RetryAttempt{
				Attempt: attempt,
				DelayMs: delay.Milliseconds(),
				Outcome: contracts.AttemptSucceeded,
			})
			return history, nil
		}

		lastErr = err

		var cbErr *CircuitBreakerError
		if errors.As(err, &cbErr) {
			// No transport call was made; count the budget as exhausted.
			history = append(history, contracts.RetryAttempt{
				Attempt: attempt,
				DelayMs: delay.Milliseconds(),
				Outcome: contracts.AttemptSkipped,
				Error:   err.Error(),
			})
			e.logger.Warn("publish short-circuited by open circuit",
				"op", op,
				"circuit", cbErr.Key,
				"attempt", attempt,
			)
			break
		}

		history = append(history, contracts.RetryAttempt{
			Attempt: attempt,
			DelayMs: delay.Milliseconds(),
			Outcome: contracts.AttemptFailed,
			Error:   err.Error(),
		})

		retry, nextDelay := e.policy.ShouldRetry(attempt, err)
		if !retry {
			if attempt < e.policy.MaxAttempts() {
				// Non-retryable failure; the classifier decides its category.
				return history, err
			}
			break
		}

		e.logger.Debug("publish attempt failed, retrying",
			"op", op,
			"attempt", attempt,
			"nextDelayMs", nextDelay.Milliseconds(),
			"error", err,
		)
		delay = nextDelay
	}

	return history, &RetryError{
		Op:          op,
		Attempts:    len(history),
		MaxAttempts: e.policy.MaxAttempts(),
		LastError:   lastErr,
		Duration:    time.Since(start),
	}
}

// isRetryable checks the retryable error convention; unknown errors default
// to retryable so transient broker hiccups are not misclassified.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	type retryable interface {
		IsRetryable() bool
	}

	var r retryable
	if errors.As(err, &r) {
		return r.IsRetryable()
	}
	return true
}
