package messaging

import (
	"context"
	"errors"

	"github.com/biotrace/eventgate/contracts"
	"github.com/biotrace/eventgate/internal/reliability"
	"github.com/biotrace/eventgate/schema"
)

// FailureClassifier maps a publish failure onto the error taxonomy. The
// category decides both whether the failure was retried and how the
// resulting dead-letter record is prioritized.
type FailureClassifier struct{}

// NewFailureClassifier creates a classifier.
func NewFailureClassifier() *FailureClassifier {
	return &FailureClassifier{}
}

// Classify returns the error category for err. Unknown errors default to
// TRANSIENT so an unrecognized broker failure is never treated as permanent.
func (c *FailureClassifier) Classify(err error) contracts.ErrorCategory {
	var schemaErr *contracts.SchemaValidationError
	if errors.As(err, &schemaErr) {
		return contracts.CategorySchemaValidation
	}

	var poisonErr *contracts.PoisonMessageError
	if errors.As(err, &poisonErr) {
		return contracts.CategoryPoisonMessage
	}

	var businessErr *contracts.BusinessValidationError
	if errors.As(err, &businessErr) {
		return contracts.CategoryBusinessValidation
	}

	var transportErr *contracts.TransientTransportError
	if errors.As(err, &transportErr) {
		return contracts.CategoryTransient
	}

	var unreachableErr *schema.UnreachableError
	if errors.As(err, &unreachableErr) {
		return contracts.CategoryTransient
	}

	var breakerErr *reliability.CircuitBreakerError
	if errors.As(err, &breakerErr) {
		return contracts.CategoryTransient
	}

	var retryErr *reliability.RetryError
	if errors.As(err, &retryErr) {
		// Budget exhaustion inherits the category of the last failure.
		if retryErr.LastError != nil {
			return c.Classify(retryErr.LastError)
		}
		return contracts.CategoryTransient
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return contracts.CategoryTransient
	}

	return contracts.CategoryTransient
}
