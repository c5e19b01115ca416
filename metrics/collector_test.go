package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/biotrace/eventgate/contracts"
	"github.com/biotrace/eventgate/internal/reliability"
)

func setupReader(t *testing.T) *sdkmetric.ManualReader {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	original := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)
	t.Cleanup(func() {
		otel.SetMeterProvider(original)
		_ = provider.Shutdown(context.Background())
	})

	return reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) *metricdata.ResourceMetrics {
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return &rm
}

func findMetric(rm *metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func sumValue(t *testing.T, m *metricdata.Metrics) int64 {
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "expected int64 sum data")
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestCollector(t *testing.T) {
	t.Run("dlq events are counted with attributes", func(t *testing.T) {
		reader := setupReader(t)
		collector := NewCollector()

		collector.RecordDlqEvent(context.Background(), "manufacturing", contracts.CategoryTransient, contracts.PriorityCritical)
		collector.RecordDlqEvent(context.Background(), "manufacturing", contracts.CategorySchemaValidation, contracts.PriorityHigh)

		rm := collect(t, reader)
		m := findMetric(rm, "eventgate.dlq.events.total")
		require.NotNil(t, m)
		assert.Equal(t, int64(2), sumValue(t, m))
	})

	t.Run("reprocessing outcomes go to separate counters", func(t *testing.T) {
		reader := setupReader(t)
		collector := NewCollector()

		collector.RecordReprocessing(context.Background(), "labeling", true)
		collector.RecordReprocessing(context.Background(), "labeling", true)
		collector.RecordReprocessing(context.Background(), "labeling", false)

		rm := collect(t, reader)
		success := findMetric(rm, "eventgate.dlq.reprocessing.success")
		failure := findMetric(rm, "eventgate.dlq.reprocessing.failure")
		require.NotNil(t, success)
		require.NotNil(t, failure)
		assert.Equal(t, int64(2), sumValue(t, success))
		assert.Equal(t, int64(1), sumValue(t, failure))
	})

	t.Run("publish duration lands in the histogram", func(t *testing.T) {
		reader := setupReader(t)
		collector := NewCollector()

		collector.RecordPublishDuration(context.Background(), "distribution", "ProductShipped", "DELIVERED", 42*time.Millisecond)

		rm := collect(t, reader)
		m := findMetric(rm, "eventgate.publish.duration")
		require.NotNil(t, m)
		hist, ok := m.Data.(metricdata.Histogram[float64])
		require.True(t, ok)
		require.Len(t, hist.DataPoints, 1)
		assert.Equal(t, uint64(1), hist.DataPoints[0].Count)
	})

	t.Run("schema validations are counted by result", func(t *testing.T) {
		reader := setupReader(t)
		collector := NewCollector()

		collector.RecordSchemaValidation(context.Background(), "manufacturing.ProductQuarantined", true)
		collector.RecordSchemaValidation(context.Background(), "manufacturing.ProductQuarantined", false)

		rm := collect(t, reader)
		m := findMetric(rm, "eventgate.schema.validation")
		require.NotNil(t, m)
		assert.Equal(t, int64(2), sumValue(t, m))
	})

	t.Run("breaker transitions flow through the listener", func(t *testing.T) {
		reader := setupReader(t)
		collector := NewCollector()

		collector.OnStateChange("manufacturing", reliability.StateClosed, reliability.StateOpen, "failure threshold reached")

		rm := collect(t, reader)
		m := findMetric(rm, "eventgate.circuit.transitions")
		require.NotNil(t, m)
		assert.Equal(t, int64(1), sumValue(t, m))
	})
}
