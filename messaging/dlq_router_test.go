package messaging

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/biotrace/eventgate/audit"
	"github.com/biotrace/eventgate/contracts"
	"github.com/biotrace/eventgate/internal/reliability"
)

type routerRig struct {
	router    *DeadLetterRouter
	transport *mockTransport
	store     *InMemoryDlqStore
	holding   *reliability.InMemoryHoldingStore
	recorder  *audit.InMemoryRecorder
}

func newRouterRig(t *testing.T, transport *mockTransport, options ...RouterOption) *routerRig {
	t.Helper()

	store := NewInMemoryDlqStore()
	holding := reliability.NewInMemoryHoldingStore()
	recorder := audit.NewInMemoryRecorder()
	return &routerRig{
		router:    NewDeadLetterRouter(transport, store, holding, recorder, options...),
		transport: transport,
		store:     store,
		holding:   holding,
		recorder:  recorder,
	}
}

func TestPriorityMapping(t *testing.T) {
	mapping := DefaultPriorityMapping()

	t.Run("quarantine events are critical regardless of category", func(t *testing.T) {
		assert.Equal(t, contracts.PriorityCritical, mapping.Priority("manufacturing", "ProductQuarantined", contracts.CategoryTransient))
		assert.Equal(t, contracts.PriorityCritical, mapping.Priority("testing", "TestResultException", contracts.CategorySchemaValidation))
	})

	t.Run("schema failures escalate to high", func(t *testing.T) {
		assert.Equal(t, contracts.PriorityHigh, mapping.Priority("labeling", "ProductLabeled", contracts.CategorySchemaValidation))
	})

	t.Run("configured modules escalate to high", func(t *testing.T) {
		custom := DefaultPriorityMapping()
		custom.HighPriorityModules = []string{"distribution"}
		assert.Equal(t, contracts.PriorityHigh, custom.Priority("distribution", "ProductShipped", contracts.CategoryTransient))
	})

	t.Run("archival events are low", func(t *testing.T) {
		assert.Equal(t, contracts.PriorityLow, mapping.Priority("manufacturing", "ProductArchived", contracts.CategoryTransient))
	})

	t.Run("routine lifecycle defaults to medium", func(t *testing.T) {
		assert.Equal(t, contracts.PriorityMedium, mapping.Priority("manufacturing", "ProductLabeled", contracts.CategoryTransient))
	})
}

func TestDeadLetterRouter(t *testing.T) {
	ctx := context.Background()

	t.Run("routes to the module dlq topic and persists the record", func(t *testing.T) {
		transport := &mockTransport{}
		rig := newRouterRig(t, transport)
		envelope := contracts.NewEventEnvelope("ProductLabeled", "1", []byte(`{"unitId":"W1"}`))

		record, err := rig.router.Route(ctx, envelope, "labeling", contracts.CategoryTransient, errors.New("broker down"), nil)

		require.NoError(t, err)
		require.NotNil(t, record)
		assert.Equal(t, contracts.StatusNew, record.Status)

		published := transport.byTopic("events.labeling.dlq")
		require.Len(t, published, 1)
		assert.Equal(t, record.DlqEventID, published[0].Headers["x-dlq-event-id"])

		wire, err := contracts.UnmarshalDlqRecord(published[0].Body)
		require.NoError(t, err)
		assert.Equal(t, record.DlqEventID, wire.DlqEventID)
		assert.Equal(t, envelope.Payload, wire.Payload)

		stored, err := rig.store.Get(ctx, record.DlqEventID)
		require.NoError(t, err)
		assert.Equal(t, envelope.EventID, stored.OriginalEventID)

		entries, err := rig.recorder.ByEventID(ctx, envelope.EventID)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, contracts.AuditDlqCreated, entries[0].Operation)
	})

	t.Run("routing the same original event twice returns the existing record", func(t *testing.T) {
		transport := &mockTransport{}
		rig := newRouterRig(t, transport)
		envelope := contracts.NewEventEnvelope("ProductLabeled", "1", []byte(`{"unitId":"W1"}`))

		first, err := rig.router.Route(ctx, envelope, "labeling", contracts.CategoryTransient, errors.New("broker down"), nil)
		require.NoError(t, err)

		second, err := rig.router.Route(ctx, envelope, "labeling", contracts.CategoryTransient, errors.New("broker down"), nil)
		require.NoError(t, err)

		assert.Equal(t, first.DlqEventID, second.DlqEventID)
		assert.Len(t, transport.byTopic("events.labeling.dlq"), 1)
	})

	t.Run("custom topic pattern is honored", func(t *testing.T) {
		transport := &mockTransport{}
		rig := newRouterRig(t, transport, WithDlqTopicPattern("biotrace.{module}.dead-letter.dlq"))

		assert.Equal(t, "biotrace.labeling.dead-letter.dlq", rig.router.Topic("labeling"))
	})

	t.Run("dlq publish failure parks the record in the holding store", func(t *testing.T) {
		transport := &mockTransport{dlqErr: errors.New("dlq exchange missing")}
		rig := newRouterRig(t, transport)
		envelope := contracts.NewEventEnvelope("ProductLabeled", "1", []byte(`{"unitId":"W1"}`))

		record, err := rig.router.Route(ctx, envelope, "labeling", contracts.CategoryTransient, errors.New("broker down"), nil)

		var fatal *contracts.DeadLetterPublicationError
		require.ErrorAs(t, err, &fatal)
		require.NotNil(t, record)
		assert.Equal(t, record.DlqEventID, fatal.DlqEventID)

		// The record survives in both the store and the holding store.
		_, storeErr := rig.store.Get(ctx, record.DlqEventID)
		assert.NoError(t, storeErr)

		held, heldErr := rig.holding.Held(ctx, 0)
		require.NoError(t, heldErr)
		require.Len(t, held, 1)
		assert.Equal(t, record.DlqEventID, held[0].Record.DlqEventID)
	})
}
