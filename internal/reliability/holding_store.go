package reliability

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/biotrace/eventgate/contracts"
)

// HeldEvent is a dead-letter record that could not be published to the
// dead-letter topic. It is kept locally until an operator restores the
// DLQ path and drains the store; the original event is never discarded.
type HeldEvent struct {
	Record   *contracts.DlqRecord `json:"record"`
	Topic    string               `json:"topic"`
	Cause    string               `json:"cause"`
	HeldAt   time.Time            `json:"heldAt"`
	Released bool                 `json:"released"`
}

// HoldingStore captures events whose dead-letter publication failed.
type HoldingStore interface {
	// Hold captures a record for the given DLQ topic. Holding the same
	// dlqEventId twice returns ErrHeldEventExists.
	Hold(ctx context.Context, record *contracts.DlqRecord, topic, cause string) error

	// Held lists events not yet released, oldest first.
	Held(ctx context.Context, limit int) ([]*HeldEvent, error)

	// Release marks a held event as drained back into the DLQ path.
	Release(ctx context.Context, dlqEventID string) error
}

// InMemoryHoldingStore is the default holding store. Persistence across
// restarts is an external collaborator's concern.
type InMemoryHoldingStore struct {
	mu    sync.RWMutex
	held  map[string]*HeldEvent
	order []string
}

// NewInMemoryHoldingStore creates an empty holding store.
func NewInMemoryHoldingStore() *InMemoryHoldingStore {
	return &InMemoryHoldingStore{
		held: make(map[string]*HeldEvent),
	}
}

// Hold implements HoldingStore.
func (s *InMemoryHoldingStore) Hold(ctx context.Context, record *contracts.DlqRecord, topic, cause string) error {
	if record == nil {
		return fmt.Errorf("holding store: record is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.held[record.DlqEventID]; exists {
		return fmt.Errorf("%w: %s", ErrHeldEventExists, record.DlqEventID)
	}

	s.held[record.DlqEventID] = &HeldEvent{
		Record: record,
		Topic:  topic,
		Cause:  cause,
		HeldAt: time.Now(),
	}
	s.order = append(s.order, record.DlqEventID)
	return nil
}

// Held implements HoldingStore.
func (s *InMemoryHoldingStore) Held(ctx context.Context, limit int) ([]*HeldEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := make([]*HeldEvent, 0)
	for _, id := range s.order {
		event, ok := s.held[id]
		if !ok || event.Released {
			continue
		}
		copied := *event
		events = append(events, &copied)
		if limit > 0 && len(events) >= limit {
			break
		}
	}
	return events, nil
}

// Release implements HoldingStore.
func (s *InMemoryHoldingStore) Release(ctx context.Context, dlqEventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	event, ok := s.held[dlqEventID]
	if !ok {
		return fmt.Errorf("holding store: event not held: %s", dlqEventID)
	}
	event.Released = true
	return nil
}
