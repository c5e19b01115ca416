package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/biotrace/eventgate/audit"
	"github.com/biotrace/eventgate/contracts"
	"github.com/biotrace/eventgate/internal/reliability"
	"github.com/biotrace/eventgate/metrics"
	"github.com/biotrace/eventgate/schema"
)

// PublishOutcome is the caller-visible disposition of a publish call.
type PublishOutcome string

const (
	// OutcomeDelivered means the event reached the main topic.
	OutcomeDelivered PublishOutcome = "DELIVERED"
	// OutcomeDeadLettered means the event was captured as a DlqRecord.
	OutcomeDeadLettered PublishOutcome = "DEAD_LETTERED"
)

// PublishResult reports what happened to an event. Exactly one of
// "delivered" or "captured as a dead-letter record" is always true; the
// publisher never silently drops an event.
type PublishResult struct {
	Outcome  PublishOutcome
	Category contracts.ErrorCategory // set when dead-lettered
	Record   *contracts.DlqRecord    // set when dead-lettered
	Attempts []contracts.RetryAttempt
}

// Delivered reports whether the event reached the main topic.
func (r *PublishResult) Delivered() bool {
	return r.Outcome == OutcomeDelivered
}

// DefaultTopicPattern is the per-module main event topic.
const DefaultTopicPattern = "events.{module}"

// BusinessRule checks a domain invariant before publication. A violation
// must be reported as *contracts.BusinessValidationError.
type BusinessRule func(envelope contracts.EventEnvelope) error

// EventPublisher is the schema-governed publish path for one module. Every
// envelope is validated against its registered schema, then pushed through
// the module's circuit breaker with bounded retries; any failure that
// survives classification ends as a dead-letter record, never as a loss.
type EventPublisher struct {
	module     string
	transport  Transport
	cache      *schema.Cache
	validator  *schema.Validator
	breakers   *reliability.BreakerRegistry
	executor   *reliability.Executor
	classifier *FailureClassifier
	router     *DeadLetterRouter
	recorder   audit.Recorder
	collector  *metrics.Collector
	rules      []BusinessRule

	topicPattern        string
	breakerPerEventType bool
	logger              *slog.Logger
}

// PublisherOption configures the EventPublisher.
type PublisherOption func(*EventPublisher)

// WithTopicPattern overrides the main topic pattern.
func WithTopicPattern(pattern string) PublisherOption {
	return func(p *EventPublisher) {
		p.topicPattern = pattern
	}
}

// WithBusinessRules adds pre-publication domain checks.
func WithBusinessRules(rules ...BusinessRule) PublisherOption {
	return func(p *EventPublisher) {
		p.rules = append(p.rules, rules...)
	}
}

// WithBreakerPerEventType keys circuit breakers by module and event type
// instead of module alone.
func WithBreakerPerEventType() PublisherOption {
	return func(p *EventPublisher) {
		p.breakerPerEventType = true
	}
}

// WithRetryExecutor overrides the retry executor.
func WithRetryExecutor(executor *reliability.Executor) PublisherOption {
	return func(p *EventPublisher) {
		p.executor = executor
	}
}

// WithPublisherCollector sets the metrics collector.
func WithPublisherCollector(collector *metrics.Collector) PublisherOption {
	return func(p *EventPublisher) {
		p.collector = collector
	}
}

// WithPublisherLogger sets the logger.
func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(p *EventPublisher) {
		p.logger = logger
	}
}

// NewEventPublisher creates the publish path for module.
func NewEventPublisher(module string, transport Transport, cache *schema.Cache, breakers *reliability.BreakerRegistry, router *DeadLetterRouter, recorder audit.Recorder, options ...PublisherOption) *EventPublisher {
	p := &EventPublisher{
		module:       module,
		transport:    transport,
		cache:        cache,
		validator:    schema.NewValidator(),
		breakers:     breakers,
		executor:     reliability.NewExecutor(),
		classifier:   NewFailureClassifier(),
		router:       router,
		recorder:     recorder,
		topicPattern: DefaultTopicPattern,
		logger:       slog.Default(),
	}

	for _, opt := range options {
		opt(p)
	}

	return p
}

// Subject returns the schema registry subject for an event type. Two
// modules publishing the same event name own distinct subjects; their
// schemas are never assumed compatible.
func (p *EventPublisher) Subject(eventType string) string {
	return p.module + "." + eventType
}

// Topic returns the main topic for this module.
func (p *EventPublisher) Topic() string {
	return strings.ReplaceAll(p.topicPattern, "{module}", p.module)
}

// Publish validates and publishes the envelope. The result always states
// whether the event was DELIVERED or DEAD_LETTERED; a non-nil error is
// returned only for fatal conditions (the dead-letter path itself failing),
// and even then the event has been captured in the holding store.
func (p *EventPublisher) Publish(ctx context.Context, envelope contracts.EventEnvelope) (*PublishResult, error) {
	start := time.Now()

	if err := envelope.Validate(); err != nil {
		poison := &contracts.PoisonMessageError{
			EventID: envelope.EventID,
			Reason:  "malformed envelope",
			Err:     err,
		}
		return p.deadLetter(ctx, envelope, poison, nil, start)
	}

	if err := p.resolveAndValidate(ctx, envelope); err != nil {
		return p.deadLetter(ctx, envelope, err, nil, start)
	}

	for _, rule := range p.rules {
		if err := rule(envelope); err != nil {
			return p.deadLetter(ctx, envelope, err, nil, start)
		}
	}

	body, err := envelope.Marshal()
	if err != nil {
		poison := &contracts.PoisonMessageError{
			EventID: envelope.EventID,
			Reason:  "envelope serialization failed",
			Err:     err,
		}
		return p.deadLetter(ctx, envelope, poison, nil, start)
	}

	topic := p.Topic()
	breaker := p.breakers.For(p.breakerKey(envelope.EventType))

	history, err := p.executor.Execute(ctx, breaker, "publish "+p.Subject(envelope.EventType), func() error {
		return p.transport.Publish(ctx, topic, envelope.EventType, body, map[string]string{
			"x-event-id":      envelope.EventID,
			"x-event-type":    envelope.EventType,
			"x-event-version": envelope.EventVersion,
		})
	})
	if err != nil {
		return p.deadLetter(ctx, envelope, err, history, start)
	}

	failed := 0
	for _, attempt := range history {
		if attempt.Outcome == contracts.AttemptFailed {
			failed++
		}
	}

	_ = p.recorder.Record(ctx, contracts.NewAuditEntry(
		contracts.AuditPublishSuccess, envelope.EventID, p.module, "system",
		map[string]string{
			"eventType":      envelope.EventType,
			"attempts":       fmt.Sprintf("%d", len(history)),
			"failedAttempts": fmt.Sprintf("%d", failed),
		},
	))

	if p.collector != nil {
		p.collector.RecordPublishDuration(ctx, p.module, envelope.EventType, string(OutcomeDelivered), time.Since(start))
	}

	p.logger.InfoContext(ctx, "event delivered",
		"eventId", envelope.EventID,
		"eventType", envelope.EventType,
		"module", p.module,
		"attempts", len(history),
	)

	return &PublishResult{Outcome: OutcomeDelivered, Attempts: history}, nil
}

// resolveAndValidate fetches the subject's schema and checks the payload
// against it. Schema problems and malformed payloads come back as taxonomy
// errors; the caller dead-letters them without retry.
func (p *EventPublisher) resolveAndValidate(ctx context.Context, envelope contracts.EventEnvelope) error {
	subject := p.Subject(envelope.EventType)

	version := envelope.EventVersion
	if version == "" {
		version = schema.VersionLatest
	}

	descriptor, err := p.cache.Get(ctx, subject, version)
	if err != nil {
		if errors.Is(err, schema.ErrSchemaNotFound) {
			return &contracts.SchemaValidationError{
				Subject: subject,
				Version: version,
				Reasons: []string{"no schema registered for subject"},
			}
		}
		return err
	}

	result, err := p.validator.Validate(envelope, descriptor)
	if err != nil {
		return err
	}

	if p.collector != nil {
		p.collector.RecordSchemaValidation(ctx, subject, result.Valid)
	}

	return result.Err(subject, descriptor.Version)
}

// deadLetter converts a publish failure into a DlqRecord. The routing runs
// on a context detached from the caller's cancellation: a shutdown that
// aborted the retries must not also abort the capture.
func (p *EventPublisher) deadLetter(ctx context.Context, envelope contracts.EventEnvelope, cause error, history []contracts.RetryAttempt, start time.Time) (*PublishResult, error) {
	category := p.classifier.Classify(cause)

	record, err := p.router.Route(context.WithoutCancel(ctx), envelope, p.module, category, cause, history)

	if p.collector != nil {
		p.collector.RecordPublishDuration(ctx, p.module, envelope.EventType, string(OutcomeDeadLettered), time.Since(start))
	}

	result := &PublishResult{
		Outcome:  OutcomeDeadLettered,
		Category: category,
		Record:   record,
		Attempts: history,
	}
	return result, err
}

func (p *EventPublisher) breakerKey(eventType string) string {
	if p.breakerPerEventType {
		return p.module + "." + eventType
	}
	return p.module
}
