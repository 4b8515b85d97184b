package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/erp/ordersync/internal/domain/offline"
	"github.com/erp/ordersync/internal/infrastructure/telemetry"
	"github.com/erp/ordersync/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var d = testutil.D

func order(items ...offline.PendingItem) *offline.PendingOrder {
	return offline.NewPendingOrder("client-1", "user-1", items)
}

func item(productID, qty, price string) offline.PendingItem {
	return offline.PendingItem{ProductID: productID, Quantity: d(qty), UnitPrice: d(price)}
}

func TestAtomicGateway_CommitOrder(t *testing.T) {
	remote := testutil.NewFakeRemoteStore()
	remote.SetStock("p1", d("10"))
	remote.SetStock("p2", d("4"))
	g := NewAtomicGateway(remote)

	o := order(item("p1", "3", "2.50"), item("p2", "4", "1"), item("p1", "1", "2.50"))
	receipt, err := g.CommitOrder(context.Background(), o)

	require.NoError(t, err)
	assert.Equal(t, offline.CommitPathAtomic, receipt.Path)
	assert.NotEmpty(t, receipt.RemoteOrderID)
	assert.True(t, remote.Stock("p1").Equal(d("6")))
	assert.True(t, remote.Stock("p2").IsZero())
	assert.Equal(t, 1, remote.Calls(testutil.OpAdjustStockAtomic))

	created, ok := remote.Order(o.LocalID)
	require.True(t, ok)
	assert.True(t, created.Total.Equal(o.Total))
}

func TestAtomicGateway_ConflictLeavesStockUntouched(t *testing.T) {
	remote := testutil.NewFakeRemoteStore()
	remote.SetStock("p1", d("10"))
	remote.SetStock("p2", d("1"))
	g := NewAtomicGateway(remote)

	_, err := g.CommitOrder(context.Background(), order(item("p1", "3", "1"), item("p2", "2", "1")))

	var conflict *offline.StockConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, "p2", conflict.ProductID)
	assert.True(t, conflict.Available.Equal(d("1")))
	assert.True(t, remote.Stock("p1").Equal(d("10")))
	assert.Empty(t, remote.Orders())
}

func TestAtomicGateway_RetryAfterCreateFailureDoesNotDoubleDecrement(t *testing.T) {
	ctx := context.Background()
	remote := testutil.NewFakeRemoteStore()
	remote.SetStock("p1", d("10"))
	g := NewAtomicGateway(remote)
	o := order(item("p1", "3", "1"))

	injected := offline.NewRemoteError("create_order", 503, nil)
	remote.FailNext(testutil.OpCreateOrder, injected)
	_, err := g.CommitOrder(ctx, o)
	require.True(t, offline.IsRetryable(err))
	assert.True(t, offline.StockTouched(err))
	assert.False(t, injected.StockApplied)

	_, err = g.CommitOrder(ctx, o)
	require.NoError(t, err)
	assert.True(t, remote.Stock("p1").Equal(d("7")))
	assert.Len(t, remote.Orders(), 1)
}

func TestAtomicGateway_AdjustFailureLeavesStockUntouched(t *testing.T) {
	remote := testutil.NewFakeRemoteStore()
	remote.SetStock("p1", d("10"))
	g := NewAtomicGateway(remote)

	remote.FailNext(testutil.OpAdjustStockAtomic, offline.NewRemoteError("adjust_stock_atomic", 503, nil))
	_, err := g.CommitOrder(context.Background(), order(item("p1", "3", "1")))

	require.True(t, offline.IsRetryable(err))
	assert.False(t, offline.StockTouched(err))
	assert.True(t, remote.Stock("p1").Equal(d("10")))
}

func TestAtomicGateway_CommitMerma(t *testing.T) {
	remote := testutil.NewFakeRemoteStore()
	remote.SetStock("p1", d("5"))
	g := NewAtomicGateway(remote)

	m := offline.NewPendingMerma("p1", d("2"), offline.ReasonDamaged, "user-1", d("5"))
	receipt, err := g.CommitMerma(context.Background(), m)

	require.NoError(t, err)
	assert.Equal(t, offline.CommitPathAtomic, receipt.Path)
	assert.True(t, remote.Stock("p1").Equal(d("3")))
	assert.Equal(t, 1, remote.Mermas())
}

func TestSequentialGateway_PartialFailureNeedsReconciliation(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	remote := testutil.NewFakeRemoteStore()
	remote.SetStock("a", d("10"))
	remote.SetStock("b", d("10"))
	remote.FailAdjustFor("b", offline.NewRemoteError("adjust_stock", 0, errors.New("connection reset")))
	g := NewSequentialGateway(remote, zap.New(core))

	o := order(item("a", "2", "1"), item("b", "3", "1"))
	_, err := g.CommitOrder(context.Background(), o)

	var remoteErr *offline.RemoteError
	require.True(t, errors.As(err, &remoteErr))
	assert.True(t, remoteErr.PartialApplied)
	assert.True(t, remote.Stock("a").Equal(d("8")), "first adjustment stays applied")
	assert.Empty(t, remote.Orders())

	entries := logs.FilterMessage("manual stock reconciliation required").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, o.LocalID, fields["local_id"])
	assert.Equal(t, "b", fields["failed_product_id"])
	assert.Equal(t, []interface{}{"a"}, fields["applied_product_ids"])

	// The retry applies only the missing adjustment
	remote.FailAdjustFor("b", nil)
	_, err = g.CommitOrder(context.Background(), o)
	require.NoError(t, err)
	assert.True(t, remote.Stock("a").Equal(d("8")))
	assert.True(t, remote.Stock("b").Equal(d("7")))
}

func TestSequentialGateway_FirstItemConflictIsNotPartial(t *testing.T) {
	remote := testutil.NewFakeRemoteStore()
	remote.SetStock("a", d("1"))
	remote.SetStock("b", d("10"))
	g := NewSequentialGateway(remote, nil)

	_, err := g.CommitOrder(context.Background(), order(item("a", "2", "1"), item("b", "1", "1")))

	assert.True(t, offline.IsStockConflict(err))
	assert.True(t, remote.Stock("b").Equal(d("10")))
}

func TestSequentialGateway_LaterConflictIsPartial(t *testing.T) {
	remote := testutil.NewFakeRemoteStore()
	remote.SetStock("a", d("10"))
	remote.SetStock("b", d("1"))
	g := NewSequentialGateway(remote, nil)

	_, err := g.CommitOrder(context.Background(), order(item("a", "2", "1"), item("b", "5", "1")))

	var remoteErr *offline.RemoteError
	require.True(t, errors.As(err, &remoteErr))
	assert.True(t, remoteErr.PartialApplied)
	assert.True(t, offline.IsRetryable(err))
}

func collectCommits(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "ordersync_gateway_commits_total" {
				continue
			}
			sum := m.Data.(metricdata.Sum[int64])
			for _, dp := range sum.DataPoints {
				path, _ := dp.Attributes.Value(telemetry.AttrPath)
				out[path.AsString()] += dp.Value
			}
		}
	}
	return out
}

// Scenario C: the store lacks atomic adjustment, the commit still succeeds and
// the log shows which path was used.
func TestNegotiator_FallsBackWhenAtomicUnavailable(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	reader := sdkmetric.NewManualReader()
	metrics, err := telemetry.NewSyncMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("test"))
	require.NoError(t, err)

	remote := testutil.NewFakeRemoteStore()
	remote.SetAtomicUnavailable(true)
	remote.SetStock("p1", d("10"))
	n := NewRemoteNegotiator(remote, WithLogger(zap.New(core)), WithMetrics(metrics))

	receipt, err := n.CommitOrder(context.Background(), order(item("p1", "4", "1")))

	require.NoError(t, err)
	assert.Equal(t, offline.CommitPathSequentialFallback, receipt.Path)
	assert.True(t, remote.Stock("p1").Equal(d("6")))
	assert.Equal(t, offline.CommitPathSequentialFallback, n.Path())

	commits := logs.FilterMessage("stock commit").All()
	require.Len(t, commits, 1)
	assert.Equal(t, "sequential_fallback", commits[0].ContextMap()["stock_path"])
	assert.Equal(t, 1, logs.FilterMessageSnippet("switching to sequential fallback").Len())

	assert.Equal(t, map[string]int64{"sequential_fallback": 1}, collectCommits(t, reader))
}

func TestNegotiator_FallbackIsSticky(t *testing.T) {
	remote := testutil.NewFakeRemoteStore()
	remote.SetAtomicUnavailable(true)
	remote.SetStock("p1", d("10"))
	n := NewRemoteNegotiator(remote)

	for i := 0; i < 3; i++ {
		_, err := n.CommitOrder(context.Background(), order(item("p1", "1", "1")))
		require.NoError(t, err)
	}

	assert.Equal(t, 1, remote.Calls(testutil.OpAdjustStockAtomic), "atomic path tried once")
	assert.Equal(t, 3, remote.Calls(testutil.OpAdjustStock))
}

func TestNegotiator_ReprobesAfterInterval(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	remote := testutil.NewFakeRemoteStore()
	remote.SetAtomicUnavailable(true)
	remote.SetStock("p1", d("10"))
	n := NewRemoteNegotiator(remote,
		WithReprobeInterval(10*time.Minute),
		WithClock(func() time.Time { return now }),
	)

	_, err := n.CommitOrder(context.Background(), order(item("p1", "1", "1")))
	require.NoError(t, err)

	remote.SetAtomicUnavailable(false)
	now = now.Add(5 * time.Minute)
	receipt, err := n.CommitOrder(context.Background(), order(item("p1", "1", "1")))
	require.NoError(t, err)
	assert.Equal(t, offline.CommitPathSequentialFallback, receipt.Path)

	now = now.Add(6 * time.Minute)
	receipt, err = n.CommitOrder(context.Background(), order(item("p1", "1", "1")))
	require.NoError(t, err)
	assert.Equal(t, offline.CommitPathAtomic, receipt.Path)
	assert.Equal(t, offline.CommitPathAtomic, n.Path())
}

func TestNegotiator_ErrorsAreLoggedWithPath(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	remote := testutil.NewFakeRemoteStore()
	remote.SetStock("p1", d("1"))
	n := NewRemoteNegotiator(remote, WithLogger(zap.New(core)))

	_, err := n.CommitOrder(context.Background(), order(item("p1", "5", "1")))

	assert.True(t, offline.IsStockConflict(err))
	failed := logs.FilterMessage("stock commit failed").All()
	require.Len(t, failed, 1)
	assert.Equal(t, "atomic", failed[0].ContextMap()["stock_path"])
}

type unavailableGateway struct{}

func (unavailableGateway) CommitOrder(context.Context, *offline.PendingOrder) (offline.CommitReceipt, error) {
	return offline.CommitReceipt{}, offline.NewCapabilityUnavailableError("x")
}

func (unavailableGateway) CommitMerma(context.Context, *offline.PendingMerma) (offline.CommitReceipt, error) {
	return offline.CommitReceipt{}, offline.NewCapabilityUnavailableError("x")
}

func TestNegotiator_FallbackWithoutCapabilityIsRemoteError(t *testing.T) {
	n := NewNegotiator(unavailableGateway{}, unavailableGateway{})

	_, err := n.CommitMerma(context.Background(), offline.NewPendingMerma("p", d("1"), offline.ReasonLost, "u", d("1")))

	assert.True(t, offline.IsRetryable(err))
}
