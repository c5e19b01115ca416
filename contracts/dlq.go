package contracts

import (
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Priority ranks a dead-letter record by clinical criticality for
// reprocessing order.
type Priority string

const (
	PriorityCritical Priority = "CRITICAL"
	PriorityHigh     Priority = "HIGH"
	PriorityMedium   Priority = "MEDIUM"
	PriorityLow      Priority = "LOW"
)

// DlqStatus tracks a dead-letter record through its reprocessing lifecycle.
type DlqStatus string

const (
	StatusNew               DlqStatus = "NEW"
	StatusRetrying          DlqStatus = "RETRYING"
	StatusResolved          DlqStatus = "RESOLVED"
	StatusPermanentlyFailed DlqStatus = "PERMANENTLY_FAILED"
)

// CanTransitionTo reports whether the status machine allows moving from s
// to next. Transitions are forward-only; RESOLVED is terminal and
// PERMANENTLY_FAILED can only re-enter RETRYING via reprocessing.
func (s DlqStatus) CanTransitionTo(next DlqStatus) bool {
	switch s {
	case StatusNew:
		return next == StatusRetrying
	case StatusRetrying:
		return next == StatusResolved || next == StatusPermanentlyFailed
	case StatusPermanentlyFailed:
		return next == StatusRetrying
	default:
		return false
	}
}

// Terminal reports whether the status admits no further automatic work.
func (s DlqStatus) Terminal() bool {
	return s == StatusResolved || s == StatusPermanentlyFailed
}

// RetryAttempt records the outcome of a single publish attempt.
type RetryAttempt struct {
	Attempt int    `json:"attempt"`
	DelayMs int64  `json:"delayMs"`
	Outcome string `json:"outcome"`
	Error   string `json:"error,omitempty"`
}

// Attempt outcomes.
const (
	AttemptSucceeded = "succeeded"
	AttemptFailed    = "failed"
	AttemptSkipped   = "skipped" // circuit open, no transport call made
)

// DlqRecord is the durable capture of an event that could not be delivered.
// The payload is a verbatim copy of the originating envelope's payload.
type DlqRecord struct {
	DlqEventID        string          `json:"dlqEventId"`
	OriginalEventID   string          `json:"originalEventId"`
	Module            string          `json:"module"`
	EventType         string          `json:"eventType"`
	EventVersion      string          `json:"eventVersion,omitempty"`
	Payload           json.RawMessage `json:"payload"`
	ErrorCategory     ErrorCategory   `json:"errorCategory"`
	ErrorMessage      string          `json:"errorMessage,omitempty"`
	Priority          Priority        `json:"priority"`
	RetryHistory      []RetryAttempt  `json:"retryHistory"`
	Status            DlqStatus       `json:"status"`
	CorrelationID     string          `json:"correlationId,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
	ResolvedAt        *time.Time      `json:"resolvedAt,omitempty"`
	LastAttemptAt     *time.Time      `json:"lastAttemptAt,omitempty"`
	ReprocessingCount int             `json:"reprocessingCount"`
	ReprocessedBy     string          `json:"reprocessedBy,omitempty"`
}

// NewDlqRecord builds a dead-letter record for a failed envelope. The
// payload bytes are copied so later mutation of the source cannot bleed in.
func NewDlqRecord(envelope EventEnvelope, module string, category ErrorCategory, errMsg string, priority Priority, history []RetryAttempt) *DlqRecord {
	payload := make(json.RawMessage, len(envelope.Payload))
	copy(payload, envelope.Payload)

	if history == nil {
		history = []RetryAttempt{}
	}

	return &DlqRecord{
		DlqEventID:      uuid.New().String(),
		OriginalEventID: envelope.EventID,
		Module:          module,
		EventType:       envelope.EventType,
		EventVersion:    envelope.EventVersion,
		Payload:         payload,
		ErrorCategory:   category,
		ErrorMessage:    errMsg,
		Priority:        priority,
		RetryHistory:    history,
		Status:          StatusNew,
		CreatedAt:       time.Now(),
	}
}

// Transition moves the record to the next status, enforcing the forward-only
// state machine. Resolution stamps resolvedAt.
func (r *DlqRecord) Transition(next DlqStatus) error {
	if !r.Status.CanTransitionTo(next) {
		return fmt.Errorf("dlq record %s: illegal status transition %s -> %s",
			r.DlqEventID, r.Status, next)
	}
	r.Status = next
	if next == StatusResolved {
		now := time.Now()
		r.ResolvedAt = &now
	}
	return nil
}

// Envelope reconstructs the original event envelope from the preserved
// payload for reprocessing.
func (r *DlqRecord) Envelope() EventEnvelope {
	payload := make(json.RawMessage, len(r.Payload))
	copy(payload, r.Payload)

	return EventEnvelope{
		EventID:      r.OriginalEventID,
		OccurredOn:   r.CreatedAt.UnixMilli(),
		EventType:    r.EventType,
		EventVersion: r.EventVersion,
		Payload:      payload,
	}
}

// Marshal serializes the record to its wire form.
func (r *DlqRecord) Marshal() ([]byte, error) {
	body, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("dlq record: failed to serialize %s: %w", r.DlqEventID, err)
	}
	return body, nil
}

// UnmarshalDlqRecord parses a record from its wire form.
func UnmarshalDlqRecord(data []byte) (*DlqRecord, error) {
	var r DlqRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("dlq record: failed to parse: %w", err)
	}
	return &r, nil
}
