package messaging

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/biotrace/eventgate/audit"
	"github.com/biotrace/eventgate/contracts"
	"github.com/biotrace/eventgate/internal/reliability"
	"github.com/biotrace/eventgate/metrics"
)

// DefaultDlqTopicPattern is the per-module dead-letter topic. The {module}
// placeholder is replaced with the owning module's name.
const DefaultDlqTopicPattern = "events.{module}.dlq"

// PriorityMapping assigns clinical criticality to dead-letter records by
// event type. Schema failures escalate to HIGH regardless of event type:
// a contract break affects every event of that type, not one unit.
type PriorityMapping struct {
	CriticalEventTypes  []string
	LowEventTypes       []string
	HighPriorityModules []string
}

// DefaultPriorityMapping covers the blood-product event families: anything
// touching quarantine, test exceptions or emergency dispatch is CRITICAL,
// archival events are LOW, the rest of the lifecycle is MEDIUM.
func DefaultPriorityMapping() PriorityMapping {
	return PriorityMapping{
		CriticalEventTypes: []string{
			"ProductQuarantined",
			"TestResultException",
			"EmergencyOrderRequested",
		},
		LowEventTypes: []string{
			"ProductArchived",
			"RecordDiscarded",
		},
	}
}

// Priority resolves the priority for a failed event.
func (m PriorityMapping) Priority(module, eventType string, category contracts.ErrorCategory) contracts.Priority {
	for _, t := range m.CriticalEventTypes {
		if t == eventType {
			return contracts.PriorityCritical
		}
	}
	if category == contracts.CategorySchemaValidation {
		return contracts.PriorityHigh
	}
	for _, mod := range m.HighPriorityModules {
		if mod == module {
			return contracts.PriorityHigh
		}
	}
	for _, t := range m.LowEventTypes {
		if t == eventType {
			return contracts.PriorityLow
		}
	}
	return contracts.PriorityMedium
}

// DeadLetterRouter converts a failed envelope into a durable DlqRecord and
// publishes it to the module's dead-letter topic. Routing is idempotent per
// original event id: duplicate delivery returns the already-captured record.
//
// Failure of the dead-letter publication itself is fatal. The record is
// parked in the holding store and the caller receives a
// *contracts.DeadLetterPublicationError; the event is never dropped.
type DeadLetterRouter struct {
	transport    Transport
	store        DlqStore
	holding      reliability.HoldingStore
	recorder     audit.Recorder
	collector    *metrics.Collector
	mapping      PriorityMapping
	topicPattern string
	logger       *slog.Logger
}

// RouterOption configures the router.
type RouterOption func(*DeadLetterRouter)

// WithDlqTopicPattern overrides the dead-letter topic pattern.
func WithDlqTopicPattern(pattern string) RouterOption {
	return func(r *DeadLetterRouter) {
		r.topicPattern = pattern
	}
}

// WithPriorityMapping overrides the priority mapping.
func WithPriorityMapping(mapping PriorityMapping) RouterOption {
	return func(r *DeadLetterRouter) {
		r.mapping = mapping
	}
}

// WithRouterCollector sets the metrics collector.
func WithRouterCollector(collector *metrics.Collector) RouterOption {
	return func(r *DeadLetterRouter) {
		r.collector = collector
	}
}

// WithRouterLogger sets the logger.
func WithRouterLogger(logger *slog.Logger) RouterOption {
	return func(r *DeadLetterRouter) {
		r.logger = logger
	}
}

// NewDeadLetterRouter creates a router publishing through transport and
// persisting records in store.
func NewDeadLetterRouter(transport Transport, store DlqStore, holding reliability.HoldingStore, recorder audit.Recorder, options ...RouterOption) *DeadLetterRouter {
	r := &DeadLetterRouter{
		transport:    transport,
		store:        store,
		holding:      holding,
		recorder:     recorder,
		mapping:      DefaultPriorityMapping(),
		topicPattern: DefaultDlqTopicPattern,
		logger:       slog.Default(),
	}

	for _, opt := range options {
		opt(r)
	}

	return r
}

// Topic returns the dead-letter topic for a module.
func (r *DeadLetterRouter) Topic(module string) string {
	return strings.ReplaceAll(r.topicPattern, "{module}", module)
}

// Route captures the failed envelope as a dead-letter record. The returned
// record is always non-nil; err is non-nil only for the fatal
// dead-letter-publication failure.
func (r *DeadLetterRouter) Route(ctx context.Context, envelope contracts.EventEnvelope, module string, category contracts.ErrorCategory, cause error, history []contracts.RetryAttempt) (*contracts.DlqRecord, error) {
	// At-least-once delivery means the same failure can arrive twice.
	if existing, err := r.store.FindByOriginalEventID(ctx, envelope.EventID); err == nil {
		r.logger.DebugContext(ctx, "dead-letter routing deduplicated",
			"originalEventId", envelope.EventID,
			"dlqEventId", existing.DlqEventID,
		)
		return existing, nil
	}

	priority := r.mapping.Priority(module, envelope.EventType, category)
	record := contracts.NewDlqRecord(envelope, module, category, errMessage(cause), priority, history)

	if err := r.store.Save(ctx, record); err != nil {
		// Lost the dedup race with a concurrent delivery of the same event.
		if existing, findErr := r.store.FindByOriginalEventID(ctx, envelope.EventID); findErr == nil {
			return existing, nil
		}
		return record, err
	}

	topic := r.Topic(module)
	if err := r.publish(ctx, record, topic); err != nil {
		return record, err
	}

	r.logger.WarnContext(ctx, "event dead-lettered",
		"dlqEventId", record.DlqEventID,
		"originalEventId", record.OriginalEventID,
		"module", module,
		"eventType", record.EventType,
		"category", string(category),
		"priority", string(priority),
	)

	_ = r.recorder.Record(ctx, contracts.NewAuditEntry(
		contracts.AuditDlqCreated, record.OriginalEventID, module, "system",
		map[string]string{
			"dlqEventId": record.DlqEventID,
			"category":   string(category),
			"priority":   string(priority),
		},
	))

	if r.collector != nil {
		r.collector.RecordDlqEvent(ctx, module, category, priority)
	}

	return record, nil
}

func (r *DeadLetterRouter) publish(ctx context.Context, record *contracts.DlqRecord, topic string) error {
	body, err := record.Marshal()
	if err == nil {
		err = r.transport.Publish(ctx, topic, record.EventType, body, map[string]string{
			"x-dlq-event-id":   record.DlqEventID,
			"x-original-id":    record.OriginalEventID,
			"x-error-category": string(record.ErrorCategory),
		})
	}
	if err == nil {
		return nil
	}

	// The recovery path itself failed. Hold the record locally so the event
	// survives, and surface the failure as fatal.
	if holdErr := r.holding.Hold(ctx, record, topic, err.Error()); holdErr != nil {
		r.logger.ErrorContext(ctx, "failed to hold dead-letter record",
			"dlqEventId", record.DlqEventID,
			"error", holdErr,
		)
	}

	_ = r.recorder.Record(ctx, contracts.NewAuditEntry(
		contracts.AuditDlqHeld, record.OriginalEventID, record.Module, "system",
		map[string]string{
			"dlqEventId": record.DlqEventID,
			"topic":      topic,
			"cause":      err.Error(),
		},
	))

	r.logger.ErrorContext(ctx, "dead-letter publication failed, record held locally",
		"dlqEventId", record.DlqEventID,
		"topic", topic,
		"error", err,
	)

	return &contracts.DeadLetterPublicationError{
		DlqEventID: record.DlqEventID,
		Topic:      topic,
		Err:        err,
		Timestamp:  time.Now(),
	}
}

func errMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
