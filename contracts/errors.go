package contracts

import (
	"fmt"
	"strings"
	"time"
)

// ErrorCategory classifies a publish failure for routing and retry decisions.
type ErrorCategory string

const (
	// CategorySchemaValidation marks payloads that fail structural schema
	// validation. Permanent; never retried.
	CategorySchemaValidation ErrorCategory = "SCHEMA_VALIDATION"
	// CategoryPoisonMessage marks payloads malformed beyond recovery.
	// Permanent; never retried.
	CategoryPoisonMessage ErrorCategory = "POISON_MESSAGE"
	// CategoryBusinessValidation marks domain-rule violations. Permanent.
	CategoryBusinessValidation ErrorCategory = "BUSINESS_VALIDATION"
	// CategoryTransient marks network/broker unavailability. Retryable.
	CategoryTransient ErrorCategory = "TRANSIENT"
)

// Retryable reports whether failures in this category consume retry budget.
// Only transient failures do; everything else dead-letters immediately.
func (c ErrorCategory) Retryable() bool {
	return c == CategoryTransient
}

// SchemaValidationError is raised when a payload does not conform to its
// registered schema. The first validation failure is terminal for the
// publish attempt regardless of how many reasons were collected.
type SchemaValidationError struct {
	Subject string
	Version string
	Reasons []string
}

func (e *SchemaValidationError) Error() string {
	return fmt.Sprintf("schema validation failed for %s (version %s): %s",
		e.Subject, e.Version, strings.Join(e.Reasons, "; "))
}

// IsRetryable implements the retryable error convention.
func (e *SchemaValidationError) IsRetryable() bool { return false }

// PoisonMessageError is raised for payloads that cannot succeed on any
// retry regardless of transport state.
type PoisonMessageError struct {
	EventID string
	Reason  string
	Err     error
}

func (e *PoisonMessageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("poison message %s: %s: %v", e.EventID, e.Reason, e.Err)
	}
	return fmt.Sprintf("poison message %s: %s", e.EventID, e.Reason)
}

func (e *PoisonMessageError) Unwrap() error { return e.Err }

// IsRetryable implements the retryable error convention.
func (e *PoisonMessageError) IsRetryable() bool { return false }

// BusinessValidationError is raised when an event violates a domain rule.
type BusinessValidationError struct {
	Rule   string
	Reason string
}

func (e *BusinessValidationError) Error() string {
	return fmt.Sprintf("business rule %s violated: %s", e.Rule, e.Reason)
}

// IsRetryable implements the retryable error convention.
func (e *BusinessValidationError) IsRetryable() bool { return false }

// TransientTransportError wraps a broker or network failure that is
// expected to clear on its own.
type TransientTransportError struct {
	Op  string
	Err error
}

func (e *TransientTransportError) Error() string {
	return fmt.Sprintf("transient transport error: %s: %v", e.Op, e.Err)
}

func (e *TransientTransportError) Unwrap() error { return e.Err }

// IsRetryable implements the retryable error convention.
func (e *TransientTransportError) IsRetryable() bool { return true }

// DeadLetterPublicationError is fatal: the dead-letter path is itself the
// recovery path, so a failure here cannot be absorbed by retry or DLQ.
// The original event must be held locally until the path is restored.
type DeadLetterPublicationError struct {
	DlqEventID string
	Topic      string
	Err        error
	Timestamp  time.Time
}

func (e *DeadLetterPublicationError) Error() string {
	return fmt.Sprintf("dead-letter publication failed for %s on topic %s: %v",
		e.DlqEventID, e.Topic, e.Err)
}

func (e *DeadLetterPublicationError) Unwrap() error { return e.Err }

// IsRetryable implements the retryable error convention.
func (e *DeadLetterPublicationError) IsRetryable() bool { return false }
