package audit

import (
	"context"
	"log/slog"
	"sync"

	"github.com/biotrace/eventgate/contracts"
)

// Recorder is the audit sink. Writes are append-only; implementations must
// preserve the order of entries per event id under concurrent writers.
type Recorder interface {
	// Record appends an entry to the trail.
	Record(ctx context.Context, entry contracts.AuditEntry) error

	// ByEventID returns all entries for an event id in append order.
	ByEventID(ctx context.Context, eventID string) ([]contracts.AuditEntry, error)

	// ByModule returns all entries for a module in append order.
	ByModule(ctx context.Context, module string) ([]contracts.AuditEntry, error)
}

// InMemoryRecorder keeps the trail in memory and mirrors every entry to a
// structured log line so the trail survives in log aggregation even when
// the process state is lost.
type InMemoryRecorder struct {
	mu      sync.RWMutex
	entries []contracts.AuditEntry
	byEvent map[string][]int
	logger  *slog.Logger
}

// RecorderOption configures the recorder.
type RecorderOption func(*InMemoryRecorder)

// WithRecorderLogger sets the logger.
func WithRecorderLogger(logger *slog.Logger) RecorderOption {
	return func(r *InMemoryRecorder) {
		r.logger = logger
	}
}

// NewInMemoryRecorder creates an empty recorder.
func NewInMemoryRecorder(options ...RecorderOption) *InMemoryRecorder {
	r := &InMemoryRecorder{
		byEvent: make(map[string][]int),
		logger:  slog.Default(),
	}

	for _, opt := range options {
		opt(r)
	}

	return r
}

// Record implements Recorder.
func (r *InMemoryRecorder) Record(ctx context.Context, entry contracts.AuditEntry) error {
	r.mu.Lock()
	r.entries = append(r.entries, entry)
	r.byEvent[entry.EventID] = append(r.byEvent[entry.EventID], len(r.entries)-1)
	r.mu.Unlock()

	attrs := []any{
		"operation", entry.Operation,
		"eventId", entry.EventID,
		"module", entry.Module,
		"user", entry.User,
	}
	for k, v := range entry.Metadata {
		attrs = append(attrs, k, v)
	}
	r.logger.InfoContext(ctx, "AUDIT", attrs...)

	return nil
}

// ByEventID implements Recorder.
func (r *InMemoryRecorder) ByEventID(ctx context.Context, eventID string) ([]contracts.AuditEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	indexes := r.byEvent[eventID]
	entries := make([]contracts.AuditEntry, 0, len(indexes))
	for _, i := range indexes {
		entries = append(entries, r.entries[i])
	}
	return entries, nil
}

// ByModule implements Recorder.
func (r *InMemoryRecorder) ByModule(ctx context.Context, module string) ([]contracts.AuditEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]contracts.AuditEntry, 0)
	for _, entry := range r.entries {
		if entry.Module == module {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

// RecordAuthorization appends an AUTHORIZATION_DECISION entry. Reprocessing
// is an operator action, so the decision itself is part of the trail.
func RecordAuthorization(ctx context.Context, recorder Recorder, eventID, module, user string, allowed bool, reason string) error {
	decision := "denied"
	if allowed {
		decision = "granted"
	}
	return recorder.Record(ctx, contracts.NewAuditEntry(
		contracts.AuditAuthorization, eventID, module, user,
		map[string]string{"decision": decision, "reason": reason},
	))
}
