package ordering

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/erp/ordersync/internal/application/offlinesync"
	"github.com/erp/ordersync/internal/domain/offline"
	"github.com/erp/ordersync/internal/domain/pricing"
	"github.com/erp/ordersync/internal/infrastructure/gateway"
	"github.com/erp/ordersync/internal/infrastructure/persistence"
	"github.com/erp/ordersync/internal/infrastructure/pricingfeed"
	"github.com/erp/ordersync/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var d = testutil.D

type switchConnectivity struct{ online atomic.Bool }

func (c *switchConnectivity) Online() bool { return c.online.Load() }

type fixture struct {
	remote *testutil.FakeRemoteStore
	cache  *persistence.GormDeviceCache
	coord  *offlinesync.Coordinator
	conn   *switchConnectivity
	svc    *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := persistence.OpenQueueDatabase(":memory:", "silent", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	remote := testutil.NewFakeRemoteStore()
	remote.SetGroups(*pricing.NewPricingGroup("sodas", "Sodas", []string{"cola", "lima"}, []pricing.PriceTier{
		{MinQuantity: d("12"), UnitPrice: d("0.80"), Label: "box", Active: true},
	}))

	cache := persistence.NewGormDeviceCache(db.DB)
	view := NewStockView(remote, cache, nil)
	queue := persistence.NewGormQueueRepository(db.DB)
	coord := offlinesync.NewCoordinator(queue, gateway.NewRemoteNegotiator(remote), view, offlinesync.DefaultConfig())
	provider := pricingfeed.NewProvider(remote, cache, time.Hour, nil)

	conn := &switchConnectivity{}
	conn.online.Store(true)

	return &fixture{
		remote: remote,
		cache:  cache,
		coord:  coord,
		conn:   conn,
		svc:    NewService(provider, view, coord, conn, nil),
	}
}

func (f *fixture) goOffline() {
	f.conn.online.Store(false)
	f.remote.SetOffline(true)
}

func (f *fixture) goOnline() {
	f.conn.online.Store(true)
	f.remote.SetOffline(false)
}

func (f *fixture) queued(t *testing.T) offline.Pending {
	t.Helper()
	p, err := f.coord.Pending(context.Background())
	require.NoError(t, err)
	return p
}

func orderInput(lines ...LineInput) PlaceOrderInput {
	return PlaceOrderInput{ClientID: "client-1", UserID: "user-1", Lines: lines}
}

func line(productID, qty, listPrice string) LineInput {
	return LineInput{ProductID: productID, Quantity: d(qty), ListPrice: d(listPrice)}
}

func TestPlaceOrder_OnlineCommitsWithWholesalePrices(t *testing.T) {
	f := newFixture(t)
	f.remote.SetStock("cola", d("100"))
	f.remote.SetStock("lima", d("100"))

	res, err := f.svc.PlaceOrder(context.Background(), orderInput(line("cola", "6", "1.00"), line("lima", "6", "1.00")))
	require.NoError(t, err)

	assert.Equal(t, OutcomeCommitted, res.Outcome)
	assert.True(t, res.Online)
	assert.True(t, res.Order.Total.Equal(d("9.60")))
	for _, it := range res.Order.Items {
		assert.True(t, it.UnitPrice.Equal(d("0.80")), it.ProductID)
	}
	assert.True(t, res.Stock["cola"].Available.Equal(d("100")))

	committed, ok := f.remote.Order(res.Order.LocalID)
	require.True(t, ok)
	assert.True(t, committed.Total.Equal(d("9.60")))
	assert.True(t, f.remote.Stock("cola").Equal(d("94")))
	assert.True(t, f.queued(t).IsEmpty())

	cached, err := f.cache.LoadStockLevels(context.Background(), []string{"cola"})
	require.NoError(t, err)
	assert.True(t, cached["cola"].Equal(d("100")), "stock read during placement is cached")
}

func TestPlaceOrder_OnlineShortfallIsRejected(t *testing.T) {
	f := newFixture(t)
	f.remote.SetStock("cola", d("5"))
	f.remote.SetStock("lima", d("1"))

	_, err := f.svc.PlaceOrder(context.Background(), orderInput(line("lima", "2", "1"), line("cola", "6", "1")))

	var verr *offline.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Len(t, verr.Shortfalls, 2)
	assert.Equal(t, "cola", verr.Shortfalls[0].ProductID)
	assert.True(t, verr.Shortfalls[0].Available.Equal(d("5")))
	assert.Equal(t, "lima", verr.Shortfalls[1].ProductID)
	assert.True(t, f.queued(t).IsEmpty())
	assert.Zero(t, f.remote.Calls(testutil.OpCreateOrder))
}

func TestPlaceOrder_OnlineValidationCountsQueuedOrders(t *testing.T) {
	f := newFixture(t)
	f.remote.SetStock("cola", d("10"))

	f.goOffline()
	first, err := f.svc.PlaceOrder(context.Background(), orderInput(line("cola", "6", "1")))
	require.NoError(t, err)
	assert.Equal(t, OutcomeQueued, first.Outcome)

	f.goOnline()
	_, err = f.svc.PlaceOrder(context.Background(), orderInput(line("cola", "6", "1")))

	var verr *offline.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.True(t, verr.Shortfalls[0].Available.Equal(d("4")))
	assert.Len(t, f.queued(t).Orders, 1)
}

func TestPlaceOrder_OfflineQueuesWithAdvisoryWarnings(t *testing.T) {
	f := newFixture(t)
	f.remote.SetStock("cola", d("5"))
	_, err := f.svc.stock.GetStockLevels(context.Background(), []string{"cola"})
	require.NoError(t, err)

	f.goOffline()
	res, err := f.svc.PlaceOrder(context.Background(), orderInput(line("cola", "8", "1"), line("lima", "1", "1")))
	require.NoError(t, err)

	assert.Equal(t, OutcomeQueued, res.Outcome)
	assert.False(t, res.Online)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, "cola", res.Warnings[0].ProductID)
	assert.True(t, res.Warnings[0].Available.Equal(d("5")))

	pending := f.queued(t)
	require.Len(t, pending.Orders, 1)
	assert.Equal(t, res.Order.LocalID, pending.Orders[0].LocalID)
	assert.Zero(t, f.remote.Calls(testutil.OpGetStockLevels)-1, "no stock read while offline")
}

func TestPlaceOrder_FailedStockReadFallsBackToQueue(t *testing.T) {
	f := newFixture(t)
	f.remote.SetStock("cola", d("10"))
	f.remote.FailNext(testutil.OpGetStockLevels, offline.NewRemoteError("get_stock_levels", 503, errors.New("unavailable")))

	res, err := f.svc.PlaceOrder(context.Background(), orderInput(line("cola", "1", "1")))
	require.NoError(t, err)

	assert.Equal(t, OutcomeQueued, res.Outcome)
	assert.False(t, res.Online)
	assert.Len(t, f.queued(t).Orders, 1)
}

func TestPlaceOrder_SyncFailureLeavesOrderQueued(t *testing.T) {
	f := newFixture(t)
	f.remote.SetStock("cola", d("10"))
	f.remote.FailNext(testutil.OpAdjustStockAtomic, offline.NewRemoteError("adjust_stock_atomic", 503, errors.New("unavailable")))

	res, err := f.svc.PlaceOrder(context.Background(), orderInput(line("cola", "1", "1")))
	require.NoError(t, err)

	assert.Equal(t, OutcomeQueued, res.Outcome)
	assert.True(t, res.Online)
	assert.NotEmpty(t, res.SyncError)
	assert.Len(t, f.queued(t).Orders, 1)
}

func TestPlaceOrder_InvalidInput(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		in   PlaceOrderInput
	}{
		{"missing client", PlaceOrderInput{UserID: "u", Lines: []LineInput{line("cola", "1", "1")}}},
		{"no lines", PlaceOrderInput{ClientID: "c", UserID: "u"}},
		{"missing product", orderInput(line("", "1", "1"))},
		{"zero quantity", orderInput(line("cola", "0", "1"))},
		{"bad payment status", PlaceOrderInput{ClientID: "c", UserID: "u", Lines: []LineInput{line("cola", "1", "1")}, PaymentStatus: "refunded"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.PlaceOrder(context.Background(), tt.in)
			var verr *offline.ValidationError
			assert.ErrorAs(t, err, &verr)
		})
	}
	assert.True(t, f.queued(t).IsEmpty())
}

func TestRecordMerma(t *testing.T) {
	t.Run("online commits", func(t *testing.T) {
		f := newFixture(t)
		f.remote.SetStock("cola", d("10"))

		res, err := f.svc.RecordMerma(context.Background(), RecordMermaInput{ProductID: "cola", Quantity: d("3"), ReasonCode: offline.ReasonDamaged, UserID: "u"})
		require.NoError(t, err)

		assert.Equal(t, OutcomeCommitted, res.Outcome)
		assert.True(t, res.Merma.StockBefore.Equal(d("10")))
		assert.True(t, res.Merma.StockAfter.Equal(d("7")))
		assert.True(t, f.remote.Stock("cola").Equal(d("7")))
		assert.Equal(t, 1, f.remote.Mermas())
	})

	t.Run("online over stock is rejected", func(t *testing.T) {
		f := newFixture(t)
		f.remote.SetStock("cola", d("2"))

		_, err := f.svc.RecordMerma(context.Background(), RecordMermaInput{ProductID: "cola", Quantity: d("3"), ReasonCode: offline.ReasonLost, UserID: "u"})

		var verr *offline.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.True(t, f.queued(t).IsEmpty())
	})

	t.Run("offline is queued", func(t *testing.T) {
		f := newFixture(t)
		f.goOffline()

		res, err := f.svc.RecordMerma(context.Background(), RecordMermaInput{ProductID: "cola", Quantity: d("3"), ReasonCode: offline.ReasonExpired, UserID: "u"})
		require.NoError(t, err)

		assert.Equal(t, OutcomeQueued, res.Outcome)
		assert.Len(t, f.queued(t).Mermas, 1)
	})

	t.Run("unknown reason", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.svc.RecordMerma(context.Background(), RecordMermaInput{ProductID: "cola", Quantity: d("1"), ReasonCode: "stolen", UserID: "u"})

		var verr *offline.ValidationError
		assert.ErrorAs(t, err, &verr)
	})
}

func TestPreviewPrices(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.PreviewPrices(context.Background(), []LineInput{line("cola", "10", "1.00"), line("lima", "2", "1.00"), line("agua", "1", "0.50")})
	require.NoError(t, err)

	assert.True(t, res.Total.Equal(d("10.10")))
	assert.True(t, res.Prices["cola"].Wholesale)
	assert.Equal(t, "sodas", res.Prices["cola"].GroupID)
	assert.False(t, res.Prices["agua"].Wholesale)
	assert.Equal(t, 2, res.Products)
	assert.True(t, f.queued(t).IsEmpty())

	_, err = f.svc.PreviewPrices(context.Background(), nil)
	var verr *offline.ValidationError
	assert.ErrorAs(t, err, &verr)
}
