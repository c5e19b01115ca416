package messaging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/biotrace/eventgate/contracts"
)

func storedRecord(eventType string) *contracts.DlqRecord {
	envelope := contracts.NewEventEnvelope(eventType, "1", []byte(`{"unitId":"W1"}`))
	return contracts.NewDlqRecord(envelope, "manufacturing", contracts.CategoryTransient, "broker down", contracts.PriorityMedium, nil)
}

func TestInMemoryDlqStore(t *testing.T) {
	ctx := context.Background()

	t.Run("saved records are found by both ids", func(t *testing.T) {
		store := NewInMemoryDlqStore()
		record := storedRecord("ProductLabeled")
		require.NoError(t, store.Save(ctx, record))

		byID, err := store.Get(ctx, record.DlqEventID)
		require.NoError(t, err)
		assert.Equal(t, record.OriginalEventID, byID.OriginalEventID)

		byOriginal, err := store.FindByOriginalEventID(ctx, record.OriginalEventID)
		require.NoError(t, err)
		assert.Equal(t, record.DlqEventID, byOriginal.DlqEventID)
	})

	t.Run("duplicate save is rejected", func(t *testing.T) {
		store := NewInMemoryDlqStore()
		record := storedRecord("ProductLabeled")
		require.NoError(t, store.Save(ctx, record))

		err := store.Save(ctx, record)
		assert.ErrorIs(t, err, ErrDuplicateRecord)
	})

	t.Run("missing records are reported", func(t *testing.T) {
		store := NewInMemoryDlqStore()

		_, err := store.Get(ctx, "missing")
		assert.ErrorIs(t, err, ErrRecordNotFound)

		_, err = store.FindByOriginalEventID(ctx, "missing")
		assert.ErrorIs(t, err, ErrRecordNotFound)

		err = store.Update(ctx, storedRecord("ProductLabeled"))
		assert.ErrorIs(t, err, ErrRecordNotFound)
	})

	t.Run("reads return isolated copies", func(t *testing.T) {
		store := NewInMemoryDlqStore()
		record := storedRecord("ProductLabeled")
		require.NoError(t, store.Save(ctx, record))

		first, err := store.Get(ctx, record.DlqEventID)
		require.NoError(t, err)
		first.Status = contracts.StatusResolved
		first.Payload[0] = 'X'

		second, err := store.Get(ctx, record.DlqEventID)
		require.NoError(t, err)
		assert.Equal(t, contracts.StatusNew, second.Status)
		assert.Equal(t, byte('{'), second.Payload[0])
	})

	t.Run("update persists status transitions", func(t *testing.T) {
		store := NewInMemoryDlqStore()
		record := storedRecord("ProductLabeled")
		require.NoError(t, store.Save(ctx, record))

		require.NoError(t, record.Transition(contracts.StatusRetrying))
		require.NoError(t, store.Update(ctx, record))

		stored, err := store.Get(ctx, record.DlqEventID)
		require.NoError(t, err)
		assert.Equal(t, contracts.StatusRetrying, stored.Status)
	})

	t.Run("list filters by module and status", func(t *testing.T) {
		store := NewInMemoryDlqStore()

		first := storedRecord("ProductLabeled")
		require.NoError(t, store.Save(ctx, first))

		second := storedRecord("ProductShipped")
		second.Module = "distribution"
		require.NoError(t, store.Save(ctx, second))

		third := storedRecord("ProductQuarantined")
		require.NoError(t, third.Transition(contracts.StatusRetrying))
		require.NoError(t, store.Save(ctx, third))

		manufacturing, err := store.List(ctx, "manufacturing", "", 0)
		require.NoError(t, err)
		assert.Len(t, manufacturing, 2)

		retrying, err := store.List(ctx, "manufacturing", contracts.StatusRetrying, 0)
		require.NoError(t, err)
		require.Len(t, retrying, 1)
		assert.Equal(t, third.DlqEventID, retrying[0].DlqEventID)

		limited, err := store.List(ctx, "", "", 1)
		require.NoError(t, err)
		assert.Len(t, limited, 1)
	})
}
