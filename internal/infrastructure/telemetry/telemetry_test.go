package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := map[string]metricdata.Metrics{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func sumFor(t *testing.T, m metricdata.Metrics, key attribute.Key, value string) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "metric %s is not an int64 sum", m.Name)
	var total int64
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(key); ok && v.AsString() == value {
			total += dp.Value
		}
	}
	return total
}

func TestSyncMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("test")

	m, err := NewSyncMetrics(meter)
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordCommit(ctx, "atomic")
	m.RecordCommit(ctx, "sequential_fallback")
	m.RecordCommit(ctx, "sequential_fallback")
	m.RecordSynced(ctx, "order")
	m.RecordConflict(ctx, "order")
	m.RecordError(ctx, "merma")
	m.RecordQueueDepth(ctx, 4)
	m.RecordRun(ctx, "PARTIAL", "manual", 250*time.Millisecond)

	got := collect(t, reader)

	assert.Equal(t, int64(1), sumFor(t, got["ordersync_gateway_commits_total"], AttrPath, "atomic"))
	assert.Equal(t, int64(2), sumFor(t, got["ordersync_gateway_commits_total"], AttrPath, "sequential_fallback"))
	assert.Equal(t, int64(1), sumFor(t, got["ordersync_synced_entries_total"], AttrKind, "order"))
	assert.Equal(t, int64(1), sumFor(t, got["ordersync_conflicts_total"], AttrKind, "order"))
	assert.Equal(t, int64(1), sumFor(t, got["ordersync_sync_errors_total"], AttrKind, "merma"))
	assert.Equal(t, int64(1), sumFor(t, got["ordersync_sync_runs_total"], AttrStatus, "PARTIAL"))

	gauge, ok := got["ordersync_queue_depth"].Data.(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Len(t, gauge.DataPoints, 1)
	assert.Equal(t, int64(4), gauge.DataPoints[0].Value)

	hist, ok := got["ordersync_sync_duration_seconds"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(1), hist.DataPoints[0].Count)
}

func TestSyncMetrics_NilIsNoop(t *testing.T) {
	var m *SyncMetrics
	assert.NotPanics(t, func() {
		m.RecordCommit(context.Background(), "atomic")
		m.RecordRun(context.Background(), "SUCCESS", "manual", time.Second)
	})
}

func TestProviders_Disabled(t *testing.T) {
	ctx := context.Background()
	logger := zap.NewNop()

	tp, err := NewTracerProvider(ctx, Config{Enabled: false}, logger)
	require.NoError(t, err)
	assert.False(t, tp.IsEnabled())
	assert.NotNil(t, tp.Tracer("x"))
	assert.NoError(t, tp.Shutdown(ctx))

	mp, err := NewMeterProvider(ctx, Config{Enabled: false}, logger)
	require.NoError(t, err)
	assert.NotNil(t, mp.Meter("x"))
	assert.NoError(t, mp.Shutdown(ctx))
}

func TestSampler(t *testing.T) {
	assert.Equal(t, "AlwaysOnSampler", sampler(1).Description())
	assert.Equal(t, "AlwaysOffSampler", sampler(0).Description())
	assert.Contains(t, sampler(0.5).Description(), "TraceIDRatioBased")
}
