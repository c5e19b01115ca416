package contracts

import (
	"time"
)

// Audit operations recorded by the core.
const (
	AuditPublishSuccess   = "PUBLISH_SUCCESS"
	AuditDlqCreated       = "DLQ_CREATED"
	AuditDlqResolved      = "DLQ_RESOLVED"
	AuditDlqHeld          = "DLQ_HELD" // dead-letter path itself failed
	AuditReprocessAttempt = "REPROCESS_ATTEMPT"
	AuditReprocessSuccess = "REPROCESS_SUCCESS"
	AuditReprocessFailure = "REPROCESS_FAILURE"
	AuditAuthorization    = "AUTHORIZATION_DECISION"
	AuditCircuitReset     = "CIRCUIT_RESET"
)

// AuditEntry is an append-only record of a DLQ or security-relevant
// operation. Entries are never mutated or deleted by the core; retention
// is the audit sink's responsibility.
type AuditEntry struct {
	Timestamp time.Time         `json:"timestamp"`
	Operation string            `json:"operation"`
	EventID   string            `json:"eventId"`
	Module    string            `json:"module"`
	User      string            `json:"user"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// NewAuditEntry stamps an entry with the current time.
func NewAuditEntry(operation, eventID, module, user string, metadata map[string]string) AuditEntry {
	return AuditEntry{
		Timestamp: time.Now(),
		Operation: operation,
		EventID:   eventID,
		Module:    module,
		User:      user,
		Metadata:  metadata,
	}
}
