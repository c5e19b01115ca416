package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/biotrace/eventgate/contracts"
	"github.com/biotrace/eventgate/internal/reliability"
)

// Collector records publish, DLQ and circuit-breaker metrics. It implements
// reliability.StateChangeListener so breaker transitions show up as a
// counter without coupling the breaker to OpenTelemetry.
type Collector struct {
	dlqEventsTotal     metric.Int64Counter
	reprocessSuccess   metric.Int64Counter
	reprocessFailure   metric.Int64Counter
	publishDuration    metric.Float64Histogram
	schemaValidations  metric.Int64Counter
	circuitTransitions metric.Int64Counter
}

// NewCollector creates a collector against the global meter provider.
func NewCollector() *Collector {
	meter := otel.Meter("eventgate")

	c := new(Collector)
	c.dlqEventsTotal, _ = meter.Int64Counter("eventgate.dlq.events.total",
		metric.WithDescription("Number of events routed to the dead-letter queue"),
		metric.WithUnit("{event}"))
	c.reprocessSuccess, _ = meter.Int64Counter("eventgate.dlq.reprocessing.success",
		metric.WithDescription("Number of dead-letter records successfully reprocessed"),
		metric.WithUnit("{event}"))
	c.reprocessFailure, _ = meter.Int64Counter("eventgate.dlq.reprocessing.failure",
		metric.WithDescription("Number of failed reprocessing attempts"),
		metric.WithUnit("{event}"))
	c.publishDuration, _ = meter.Float64Histogram("eventgate.publish.duration",
		metric.WithDescription("Latency of event publish operations including retries"),
		metric.WithUnit("ms"))
	c.schemaValidations, _ = meter.Int64Counter("eventgate.schema.validation",
		metric.WithDescription("Number of schema validations by result"),
		metric.WithUnit("{validation}"))
	c.circuitTransitions, _ = meter.Int64Counter("eventgate.circuit.transitions",
		metric.WithDescription("Number of circuit breaker state transitions"),
		metric.WithUnit("{transition}"))

	return c
}

// RecordDlqEvent counts a new dead-letter record.
func (c *Collector) RecordDlqEvent(ctx context.Context, module string, category contracts.ErrorCategory, priority contracts.Priority) {
	c.dlqEventsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("module", module),
		attribute.String("category", string(category)),
		attribute.String("priority", string(priority)),
	))
}

// RecordReprocessing counts a reprocessing outcome.
func (c *Collector) RecordReprocessing(ctx context.Context, module string, success bool) {
	counter := c.reprocessFailure
	if success {
		counter = c.reprocessSuccess
	}
	counter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("module", module),
	))
}

// RecordPublishDuration records end-to-end publish latency with its outcome.
func (c *Collector) RecordPublishDuration(ctx context.Context, module, eventType, outcome string, elapsed time.Duration) {
	c.publishDuration.Record(ctx, float64(elapsed.Milliseconds()), metric.WithAttributes(
		attribute.String("module", module),
		attribute.String("eventType", eventType),
		attribute.String("outcome", outcome),
	))
}

// RecordSchemaValidation counts a validation by result.
func (c *Collector) RecordSchemaValidation(ctx context.Context, subject string, valid bool) {
	result := "invalid"
	if valid {
		result = "valid"
	}
	c.schemaValidations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("subject", subject),
		attribute.String("result", result),
	))
}

// OnStateChange implements reliability.StateChangeListener.
func (c *Collector) OnStateChange(key string, from, to reliability.State, reason string) {
	c.circuitTransitions.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("circuit", key),
		attribute.String("from", from.String()),
		attribute.String("to", to.String()),
	))
}
