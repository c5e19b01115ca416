package contracts

import (
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDlqStatusTransitions(t *testing.T) {
	t.Run("new can only move to retrying", func(t *testing.T) {
		assert.True(t, StatusNew.CanTransitionTo(StatusRetrying))
		assert.False(t, StatusNew.CanTransitionTo(StatusResolved))
		assert.False(t, StatusNew.CanTransitionTo(StatusPermanentlyFailed))
	})

	t.Run("retrying resolves or permanently fails", func(t *testing.T) {
		assert.True(t, StatusRetrying.CanTransitionTo(StatusResolved))
		assert.True(t, StatusRetrying.CanTransitionTo(StatusPermanentlyFailed))
		assert.False(t, StatusRetrying.CanTransitionTo(StatusNew))
	})

	t.Run("resolved is terminal", func(t *testing.T) {
		assert.False(t, StatusResolved.CanTransitionTo(StatusRetrying))
		assert.False(t, StatusResolved.CanTransitionTo(StatusPermanentlyFailed))
		assert.True(t, StatusResolved.Terminal())
	})

	t.Run("permanently failed re-enters retrying only", func(t *testing.T) {
		assert.True(t, StatusPermanentlyFailed.CanTransitionTo(StatusRetrying))
		assert.False(t, StatusPermanentlyFailed.CanTransitionTo(StatusResolved))
		assert.True(t, StatusPermanentlyFailed.Terminal())
	})
}

func TestDlqRecord(t *testing.T) {
	payload := json.RawMessage(`{"unitId":"W123456789012","status":"QUARANTINED"}`)
	envelope := NewEventEnvelope("ProductQuarantined", "2", payload)

	t.Run("preserves payload byte for byte", func(t *testing.T) {
		record := NewDlqRecord(envelope, "manufacturing", CategorySchemaValidation, "missing field", PriorityCritical, nil)

		assert.Equal(t, []byte(payload), []byte(record.Payload))
		assert.Equal(t, envelope.EventID, record.OriginalEventID)
		assert.Equal(t, StatusNew, record.Status)
		assert.NotEmpty(t, record.DlqEventID)
		assert.Empty(t, record.RetryHistory)
	})

	t.Run("payload copy is isolated from the source", func(t *testing.T) {
		src := json.RawMessage(`{"k":"v"}`)
		env := NewEventEnvelope("ProductLabeled", "1", src)
		record := NewDlqRecord(env, "manufacturing", CategoryTransient, "broker down", PriorityMedium, nil)

		src[2] = 'x'
		assert.Equal(t, `{"k":"v"}`, string(record.Payload))
	})

	t.Run("transition enforces the state machine", func(t *testing.T) {
		record := NewDlqRecord(envelope, "manufacturing", CategoryTransient, "broker down", PriorityMedium, nil)

		require.NoError(t, record.Transition(StatusRetrying))
		require.NoError(t, record.Transition(StatusResolved))
		assert.NotNil(t, record.ResolvedAt)

		err := record.Transition(StatusRetrying)
		assert.Error(t, err)
		assert.Equal(t, StatusResolved, record.Status)
	})

	t.Run("envelope reconstruction keeps identity and payload", func(t *testing.T) {
		record := NewDlqRecord(envelope, "manufacturing", CategoryTransient, "broker down", PriorityMedium, nil)

		rebuilt := record.Envelope()
		assert.Equal(t, envelope.EventID, rebuilt.EventID)
		assert.Equal(t, envelope.EventType, rebuilt.EventType)
		assert.Equal(t, envelope.EventVersion, rebuilt.EventVersion)
		assert.Equal(t, []byte(envelope.Payload), []byte(rebuilt.Payload))
	})

	t.Run("wire roundtrip keeps retry history order", func(t *testing.T) {
		history := []RetryAttempt{
			{Attempt: 1, DelayMs: 0, Outcome: AttemptFailed, Error: "connection refused"},
			{Attempt: 2, DelayMs: 1000, Outcome: AttemptFailed, Error: "connection refused"},
			{Attempt: 3, DelayMs: 2000, Outcome: AttemptFailed, Error: "connection refused"},
		}
		record := NewDlqRecord(envelope, "manufacturing", CategoryTransient, "exhausted", PriorityMedium, history)

		data, err := record.Marshal()
		require.NoError(t, err)

		parsed, err := UnmarshalDlqRecord(data)
		require.NoError(t, err)
		assert.Equal(t, history, parsed.RetryHistory)
		assert.Equal(t, []byte(record.Payload), []byte(parsed.Payload))
	})
}

func TestEventEnvelope(t *testing.T) {
	t.Run("new envelope is complete", func(t *testing.T) {
		envelope := NewEventEnvelope("DonationCollected", "1", json.RawMessage(`{"donorId":"D-1"}`))

		assert.NoError(t, envelope.Validate())
		assert.NotEmpty(t, envelope.EventID)
		assert.Greater(t, envelope.OccurredOn, int64(0))
	})

	t.Run("rejects missing fields", func(t *testing.T) {
		envelope := EventEnvelope{EventType: "DonationCollected"}
		assert.Error(t, envelope.Validate())
	})

	t.Run("unmarshal validates shape", func(t *testing.T) {
		_, err := UnmarshalEnvelope([]byte(`{"eventType":"DonationCollected"}`))
		assert.Error(t, err)
	})
}

func TestErrorCategoryRetryable(t *testing.T) {
	assert.True(t, CategoryTransient.Retryable())
	assert.False(t, CategorySchemaValidation.Retryable())
	assert.False(t, CategoryPoisonMessage.Retryable())
	assert.False(t, CategoryBusinessValidation.Retryable())
}
