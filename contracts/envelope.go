package contracts

import (
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
)

// EventEnvelope wraps a domain payload with publication metadata.
// Once built it is never mutated; ownership stays with the publish call
// that created it until the event is delivered or dead-lettered.
type EventEnvelope struct {
	EventID      string          `json:"eventId"`
	OccurredOn   int64           `json:"occurredOn"` // epoch millis
	EventType    string          `json:"eventType"`
	EventVersion string          `json:"eventVersion"`
	Payload      json.RawMessage `json:"payload"`
}

// NewEventEnvelope creates an envelope for a domain payload, assigning a
// fresh event ID and the current timestamp.
func NewEventEnvelope(eventType, eventVersion string, payload json.RawMessage) EventEnvelope {
	return EventEnvelope{
		EventID:      uuid.New().String(),
		OccurredOn:   time.Now().UnixMilli(),
		EventType:    eventType,
		EventVersion: eventVersion,
		Payload:      payload,
	}
}

// Validate checks the envelope for structural completeness before it enters
// the publish path. It does not inspect the payload; schema validation does.
func (e EventEnvelope) Validate() error {
	if e.EventID == "" {
		return fmt.Errorf("envelope: eventId is required")
	}
	if e.EventType == "" {
		return fmt.Errorf("envelope: eventType is required")
	}
	if e.OccurredOn <= 0 {
		return fmt.Errorf("envelope: occurredOn must be a positive epoch-millis timestamp")
	}
	if len(e.Payload) == 0 {
		return fmt.Errorf("envelope: payload is required")
	}
	return nil
}

// OccurredAt returns the occurrence timestamp as a time.Time.
func (e EventEnvelope) OccurredAt() time.Time {
	return time.UnixMilli(e.OccurredOn)
}

// Marshal serializes the envelope to its wire form.
func (e EventEnvelope) Marshal() ([]byte, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("envelope: failed to serialize %s: %w", e.EventID, err)
	}
	return body, nil
}

// UnmarshalEnvelope parses an envelope from its wire form.
func UnmarshalEnvelope(data []byte) (EventEnvelope, error) {
	var e EventEnvelope
	if err := json.Unmarshal(data, &e); err != nil {
		return EventEnvelope{}, fmt.Errorf("envelope: failed to parse: %w", err)
	}
	if err := e.Validate(); err != nil {
		return EventEnvelope{}, err
	}
	return e, nil
}
