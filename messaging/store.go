package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/biotrace/eventgate/contracts"
)

// Store errors.
var (
	// ErrRecordNotFound is returned when no dead-letter record matches.
	ErrRecordNotFound = errors.New("dlq store: record not found")

	// ErrDuplicateRecord is returned when a record id is saved twice.
	ErrDuplicateRecord = errors.New("dlq store: record already exists")
)

// DlqStore persists dead-letter records. Durable backends live outside the
// core; the store contract is what the router and reprocessor rely on.
type DlqStore interface {
	// Save persists a new record. Saving an existing dlqEventId fails with
	// ErrDuplicateRecord.
	Save(ctx context.Context, record *contracts.DlqRecord) error

	// Get returns the record with the given dlqEventId.
	Get(ctx context.Context, dlqEventID string) (*contracts.DlqRecord, error)

	// FindByOriginalEventID returns the record capturing the given original
	// event, if any. At most one record exists per original event.
	FindByOriginalEventID(ctx context.Context, eventID string) (*contracts.DlqRecord, error)

	// Update replaces the stored record with the given state.
	Update(ctx context.Context, record *contracts.DlqRecord) error

	// List returns records for a module filtered by status, oldest first.
	// An empty status matches all; limit <= 0 means no limit.
	List(ctx context.Context, module string, status contracts.DlqStatus, limit int) ([]*contracts.DlqRecord, error)
}

// InMemoryDlqStore is the reference store. Records are copied on both write
// and read so callers can never mutate stored state in place.
type InMemoryDlqStore struct {
	mu         sync.RWMutex
	byID       map[string]*contracts.DlqRecord
	byOriginal map[string]string // originalEventId -> dlqEventId
	order      []string
}

// NewInMemoryDlqStore creates an empty store.
func NewInMemoryDlqStore() *InMemoryDlqStore {
	return &InMemoryDlqStore{
		byID:       make(map[string]*contracts.DlqRecord),
		byOriginal: make(map[string]string),
	}
}

// Save implements DlqStore.
func (s *InMemoryDlqStore) Save(ctx context.Context, record *contracts.DlqRecord) error {
	if record == nil {
		return fmt.Errorf("dlq store: record is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[record.DlqEventID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateRecord, record.DlqEventID)
	}

	s.byID[record.DlqEventID] = copyRecord(record)
	s.byOriginal[record.OriginalEventID] = record.DlqEventID
	s.order = append(s.order, record.DlqEventID)
	return nil
}

// Get implements DlqStore.
func (s *InMemoryDlqStore) Get(ctx context.Context, dlqEventID string) (*contracts.DlqRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.byID[dlqEventID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, dlqEventID)
	}
	return copyRecord(record), nil
}

// FindByOriginalEventID implements DlqStore.
func (s *InMemoryDlqStore) FindByOriginalEventID(ctx context.Context, eventID string) (*contracts.DlqRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dlqEventID, ok := s.byOriginal[eventID]
	if !ok {
		return nil, fmt.Errorf("%w: original event %s", ErrRecordNotFound, eventID)
	}
	return copyRecord(s.byID[dlqEventID]), nil
}

// Update implements DlqStore.
func (s *InMemoryDlqStore) Update(ctx context.Context, record *contracts.DlqRecord) error {
	if record == nil {
		return fmt.Errorf("dlq store: record is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[record.DlqEventID]; !ok {
		return fmt.Errorf("%w: %s", ErrRecordNotFound, record.DlqEventID)
	}
	s.byID[record.DlqEventID] = copyRecord(record)
	return nil
}

// List implements DlqStore.
func (s *InMemoryDlqStore) List(ctx context.Context, module string, status contracts.DlqStatus, limit int) ([]*contracts.DlqRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]*contracts.DlqRecord, 0)
	for _, id := range s.order {
		record := s.byID[id]
		if module != "" && record.Module != module {
			continue
		}
		if status != "" && record.Status != status {
			continue
		}
		records = append(records, copyRecord(record))
		if limit > 0 && len(records) >= limit {
			break
		}
	}
	return records, nil
}

func copyRecord(record *contracts.DlqRecord) *contracts.DlqRecord {
	copied := *record

	copied.Payload = append(copied.Payload[:0:0], record.Payload...)
	copied.RetryHistory = append(copied.RetryHistory[:0:0], record.RetryHistory...)

	if record.ResolvedAt != nil {
		resolvedAt := *record.ResolvedAt
		copied.ResolvedAt = &resolvedAt
	}
	if record.LastAttemptAt != nil {
		lastAttemptAt := *record.LastAttemptAt
		copied.LastAttemptAt = &lastAttemptAt
	}
	return &copied
}
