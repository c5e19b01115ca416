package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/biotrace/eventgate/audit"
	"github.com/biotrace/eventgate/contracts"
	"github.com/biotrace/eventgate/metrics"
)

// Authorizer decides whether an operator may reprocess a record. A nil
// authorizer allows everything; deployments plug their role checks in here.
type Authorizer func(requestedBy string, record *contracts.DlqRecord) error

// ReprocessingService drains dead-letter records back through the governed
// publish path. Operations are idempotent per dlqEventId: resolved records
// are left alone and concurrent reprocessing of the same record collapses
// into one attempt.
type ReprocessingService struct {
	store     DlqStore
	publisher *EventPublisher
	recorder  audit.Recorder
	collector *metrics.Collector

	authorize          Authorizer
	manualIntervention bool
	logger             *slog.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// ReprocessorOption configures the service.
type ReprocessorOption func(*ReprocessingService)

// WithAuthorizer sets the operator authorization check.
func WithAuthorizer(authorize Authorizer) ReprocessorOption {
	return func(s *ReprocessingService) {
		s.authorize = authorize
	}
}

// WithManualIntervention keeps failed reprocessing attempts in RETRYING so
// operators decide the final disposition instead of the service marking the
// record permanently failed.
func WithManualIntervention() ReprocessorOption {
	return func(s *ReprocessingService) {
		s.manualIntervention = true
	}
}

// WithReprocessorCollector sets the metrics collector.
func WithReprocessorCollector(collector *metrics.Collector) ReprocessorOption {
	return func(s *ReprocessingService) {
		s.collector = collector
	}
}

// WithReprocessorLogger sets the logger.
func WithReprocessorLogger(logger *slog.Logger) ReprocessorOption {
	return func(s *ReprocessingService) {
		s.logger = logger
	}
}

// NewReprocessingService creates a reprocessor over the given store and
// publish path.
func NewReprocessingService(store DlqStore, publisher *EventPublisher, recorder audit.Recorder, options ...ReprocessorOption) *ReprocessingService {
	s := &ReprocessingService{
		store:     store,
		publisher: publisher,
		recorder:  recorder,
		logger:    slog.Default(),
		inFlight:  make(map[string]struct{}),
	}

	for _, opt := range options {
		opt(s)
	}

	return s
}

// Reprocess republishes the record's original envelope. RESOLVED records
// and records already being reprocessed are returned unchanged. On success
// the record moves to RESOLVED; on failure it moves to PERMANENTLY_FAILED
// unless manual-intervention mode keeps it in RETRYING.
func (s *ReprocessingService) Reprocess(ctx context.Context, dlqEventID, requestedBy string) (*contracts.DlqRecord, error) {
	record, err := s.store.Get(ctx, dlqEventID)
	if err != nil {
		return nil, err
	}

	if s.authorize != nil {
		if err := s.authorize(requestedBy, record); err != nil {
			_ = audit.RecordAuthorization(ctx, s.recorder, record.OriginalEventID, record.Module, requestedBy, false, err.Error())
			return nil, fmt.Errorf("reprocess %s: %w", dlqEventID, err)
		}
		_ = audit.RecordAuthorization(ctx, s.recorder, record.OriginalEventID, record.Module, requestedBy, true, "reprocess")
	}

	if record.Status == contracts.StatusResolved {
		return record, nil
	}

	if !s.begin(dlqEventID) {
		// Another operator's attempt is in flight; duplicate deliveries of
		// the same command collapse into it.
		return record, nil
	}
	defer s.end(dlqEventID)

	// Re-read now that we own the slot: a concurrent attempt may have
	// finished between the first read and begin.
	record, err = s.store.Get(ctx, dlqEventID)
	if err != nil {
		return nil, err
	}
	if record.Status == contracts.StatusResolved {
		return record, nil
	}

	if record.Status != contracts.StatusRetrying {
		if err := record.Transition(contracts.StatusRetrying); err != nil {
			return record, err
		}
	}
	now := time.Now()
	record.LastAttemptAt = &now
	record.ReprocessingCount++
	record.ReprocessedBy = requestedBy
	if err := s.store.Update(ctx, record); err != nil {
		return record, err
	}

	_ = s.recorder.Record(ctx, contracts.NewAuditEntry(
		contracts.AuditReprocessAttempt, record.OriginalEventID, record.Module, requestedBy,
		map[string]string{
			"dlqEventId": record.DlqEventID,
			"attempt":    fmt.Sprintf("%d", record.ReprocessingCount),
		},
	))

	result, err := s.publisher.Publish(ctx, record.Envelope())
	if err != nil {
		// Fatal dead-letter path failure; the event is held, the record
		// stays RETRYING for a later drain.
		return record, err
	}

	if result.Delivered() {
		return s.resolve(ctx, record, requestedBy)
	}
	return s.fail(ctx, record, requestedBy, result)
}

// BulkReport summarizes a bulk reprocessing run.
type BulkReport struct {
	Requested int
	Resolved  int
	Failed    int
	Skipped   int
}

// BulkReprocess reprocesses every record for a module in the given status,
// oldest first. A limit <= 0 drains everything.
func (s *ReprocessingService) BulkReprocess(ctx context.Context, module string, status contracts.DlqStatus, limit int, requestedBy string) (BulkReport, error) {
	records, err := s.store.List(ctx, module, status, limit)
	if err != nil {
		return BulkReport{}, err
	}

	report := BulkReport{Requested: len(records)}
	for _, record := range records {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		updated, err := s.Reprocess(ctx, record.DlqEventID, requestedBy)
		if err != nil {
			return report, err
		}
		switch updated.Status {
		case contracts.StatusResolved:
			report.Resolved++
		case contracts.StatusPermanentlyFailed, contracts.StatusRetrying:
			report.Failed++
		default:
			report.Skipped++
		}
	}
	return report, nil
}

func (s *ReprocessingService) resolve(ctx context.Context, record *contracts.DlqRecord, requestedBy string) (*contracts.DlqRecord, error) {
	if err := record.Transition(contracts.StatusResolved); err != nil {
		return record, err
	}
	if err := s.store.Update(ctx, record); err != nil {
		return record, err
	}

	_ = s.recorder.Record(ctx, contracts.NewAuditEntry(
		contracts.AuditReprocessSuccess, record.OriginalEventID, record.Module, requestedBy,
		map[string]string{"dlqEventId": record.DlqEventID},
	))
	_ = s.recorder.Record(ctx, contracts.NewAuditEntry(
		contracts.AuditDlqResolved, record.OriginalEventID, record.Module, requestedBy,
		map[string]string{"dlqEventId": record.DlqEventID},
	))

	if s.collector != nil {
		s.collector.RecordReprocessing(ctx, record.Module, true)
	}

	s.logger.InfoContext(ctx, "dead-letter record resolved",
		"dlqEventId", record.DlqEventID,
		"module", record.Module,
		"reprocessedBy", requestedBy,
	)

	return record, nil
}

func (s *ReprocessingService) fail(ctx context.Context, record *contracts.DlqRecord, requestedBy string, result *PublishResult) (*contracts.DlqRecord, error) {
	record.RetryHistory = append(record.RetryHistory, result.Attempts...)

	if !s.manualIntervention {
		if err := record.Transition(contracts.StatusPermanentlyFailed); err != nil {
			return record, err
		}
	}
	if err := s.store.Update(ctx, record); err != nil {
		return record, err
	}

	_ = s.recorder.Record(ctx, contracts.NewAuditEntry(
		contracts.AuditReprocessFailure, record.OriginalEventID, record.Module, requestedBy,
		map[string]string{
			"dlqEventId": record.DlqEventID,
			"category":   string(result.Category),
			"status":     string(record.Status),
		},
	))

	if s.collector != nil {
		s.collector.RecordReprocessing(ctx, record.Module, false)
	}

	s.logger.WarnContext(ctx, "reprocessing failed",
		"dlqEventId", record.DlqEventID,
		"module", record.Module,
		"category", string(result.Category),
		"status", string(record.Status),
	)

	return record, nil
}

func (s *ReprocessingService) begin(dlqEventID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, busy := s.inFlight[dlqEventID]; busy {
		return false
	}
	s.inFlight[dlqEventID] = struct{}{}
	return true
}

func (s *ReprocessingService) end(dlqEventID string) {
	s.mu.Lock()
	delete(s.inFlight, dlqEventID)
	s.mu.Unlock()
}
