// Package eventgate wires the schema-governed publish path for one module:
// schema cache and validator, circuit breakers, bounded retries, dead-letter
// routing, auditing and reprocessing, all constructed once and shared.
package eventgate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/biotrace/eventgate/audit"
	"github.com/biotrace/eventgate/config"
	"github.com/biotrace/eventgate/contracts"
	"github.com/biotrace/eventgate/internal/reliability"
	"github.com/biotrace/eventgate/messaging"
	"github.com/biotrace/eventgate/metrics"
	"github.com/biotrace/eventgate/schema"
)

// Client is the per-module entry point. Every long-lived component is built
// exactly once here and handed to consumers by reference; there are no
// global lookups.
type Client struct {
	cfg *config.Config

	transport   messaging.Transport
	cache       *schema.Cache
	breakers    *reliability.BreakerRegistry
	holding     reliability.HoldingStore
	store       messaging.DlqStore
	recorder    audit.Recorder
	collector   *metrics.Collector
	router      *messaging.DeadLetterRouter
	publisher   *messaging.EventPublisher
	reprocessor *messaging.ReprocessingService

	logger *slog.Logger
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithLogger sets the logger shared by all components.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithDlqStore replaces the in-memory dead-letter store with a durable one.
func WithDlqStore(store messaging.DlqStore) ClientOption {
	return func(c *Client) {
		c.store = store
	}
}

// WithAuditRecorder replaces the in-memory audit recorder.
func WithAuditRecorder(recorder audit.Recorder) ClientOption {
	return func(c *Client) {
		c.recorder = recorder
	}
}

// WithHoldingStore replaces the in-memory holding store.
func WithHoldingStore(holding reliability.HoldingStore) ClientOption {
	return func(c *Client) {
		c.holding = holding
	}
}

// NewClient builds the publish path for the module named in cfg. The
// transport and registry are external collaborators owned by the caller.
func NewClient(cfg *config.Config, transport messaging.Transport, registry schema.Registry, options ...ClientOption) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("eventgate: config is required")
	}
	if cfg.Module == "" {
		return nil, fmt.Errorf("eventgate: module name is required")
	}
	if transport == nil {
		return nil, fmt.Errorf("eventgate: transport is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("eventgate: schema registry is required")
	}

	c := &Client{
		cfg:       cfg,
		transport: transport,
		logger:    slog.Default(),
	}

	for _, opt := range options {
		opt(c)
	}

	if c.store == nil {
		c.store = messaging.NewInMemoryDlqStore()
	}
	if c.holding == nil {
		c.holding = reliability.NewInMemoryHoldingStore()
	}
	if c.recorder == nil {
		c.recorder = audit.NewInMemoryRecorder(audit.WithRecorderLogger(c.logger))
	}
	c.collector = metrics.NewCollector()

	c.cache = schema.NewCache(registry,
		schema.WithTTL(config.Duration(cfg.Cache.TTL)),
		schema.WithMaxEntries(cfg.Cache.MaxEntries),
		schema.WithCacheLogger(c.logger),
	)

	c.breakers = reliability.NewBreakerRegistry(
		reliability.WithFailureThreshold(cfg.Breaker.FailureThreshold),
		reliability.WithFailureWindow(config.Duration(cfg.Breaker.FailureWindow)),
		reliability.WithCooldown(config.Duration(cfg.Breaker.Cooldown)),
		reliability.WithHalfOpenRequests(cfg.Breaker.HalfOpenRequests),
		reliability.WithStateChangeListener(c.collector),
	)

	mapping := messaging.DefaultPriorityMapping()
	mapping.HighPriorityModules = cfg.Dlq.HighPriorityModules
	c.router = messaging.NewDeadLetterRouter(transport, c.store, c.holding, c.recorder,
		messaging.WithDlqTopicPattern(cfg.Dlq.TopicPattern),
		messaging.WithPriorityMapping(mapping),
		messaging.WithRouterCollector(c.collector),
		messaging.WithRouterLogger(c.logger),
	)

	executor := reliability.NewExecutor(
		reliability.WithRetryPolicy(reliability.NewExponentialBackoff(
			config.Duration(cfg.Retry.InitialDelay),
			config.Duration(cfg.Retry.MaxDelay),
			cfg.Retry.Multiplier,
			cfg.Retry.MaxAttempts,
		)),
		reliability.WithExecutorLogger(c.logger),
	)

	publisherOpts := []messaging.PublisherOption{
		messaging.WithRetryExecutor(executor),
		messaging.WithPublisherCollector(c.collector),
		messaging.WithPublisherLogger(c.logger),
	}
	if cfg.Breaker.PerEventType {
		publisherOpts = append(publisherOpts, messaging.WithBreakerPerEventType())
	}
	c.publisher = messaging.NewEventPublisher(cfg.Module, transport, c.cache, c.breakers, c.router, c.recorder, publisherOpts...)

	reprocessorOpts := []messaging.ReprocessorOption{
		messaging.WithReprocessorCollector(c.collector),
		messaging.WithReprocessorLogger(c.logger),
	}
	if cfg.Reprocess.ManualIntervention {
		reprocessorOpts = append(reprocessorOpts, messaging.WithManualIntervention())
	}
	c.reprocessor = messaging.NewReprocessingService(c.store, c.publisher, c.recorder, reprocessorOpts...)

	c.logger.Info("eventgate client ready",
		"module", cfg.Module,
		"maxAttempts", cfg.Retry.MaxAttempts,
		"failureThreshold", cfg.Breaker.FailureThreshold,
	)

	return c, nil
}

// Publisher returns the schema-governed publish path.
func (c *Client) Publisher() *messaging.EventPublisher {
	return c.publisher
}

// Reprocessor returns the dead-letter reprocessing service.
func (c *Client) Reprocessor() *messaging.ReprocessingService {
	return c.reprocessor
}

// DlqStore returns the dead-letter record store.
func (c *Client) DlqStore() messaging.DlqStore {
	return c.store
}

// Audit returns the audit recorder.
func (c *Client) Audit() audit.Recorder {
	return c.recorder
}

// Breakers returns the circuit breaker registry for operator inspection
// and administrative resets.
func (c *Client) Breakers() *reliability.BreakerRegistry {
	return c.breakers
}

// HoldingStore returns the store of events whose dead-letter publication
// failed.
func (c *Client) HoldingStore() reliability.HoldingStore {
	return c.holding
}

// SchemaCache returns the schema descriptor cache.
func (c *Client) SchemaCache() *schema.Cache {
	return c.cache
}

// Close releases the transport.
func (c *Client) Close() error {
	return c.transport.Close()
}

// ResetBreaker administratively closes a circuit and audits the action.
func (c *Client) ResetBreaker(ctx context.Context, key, requestedBy string) bool {
	ok := c.breakers.Reset(key)
	if ok {
		_ = c.recorder.Record(ctx, contracts.NewAuditEntry(
			contracts.AuditCircuitReset, "", c.cfg.Module, requestedBy,
			map[string]string{"circuit": key},
		))
	}
	return ok
}
