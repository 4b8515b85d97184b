package pricingfeed

import (
	"context"
	"testing"
	"time"

	"github.com/erp/ordersync/internal/domain/pricing"
	"github.com/erp/ordersync/internal/infrastructure/persistence"
	"github.com/erp/ordersync/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var d = testutil.D

func sodaGroup() pricing.PricingGroup {
	return *pricing.NewPricingGroup("g1", "Sodas", []string{"cola", "lima"}, []pricing.PriceTier{
		{MinQuantity: d("12"), UnitPrice: d("0.80"), Active: true},
	})
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func TestProvider_CachesForTTL(t *testing.T) {
	remote := testutil.NewFakeRemoteStore()
	remote.SetGroups(sodaGroup())
	c := &clock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	p := NewProvider(remote, nil, 10*time.Minute, nil)
	p.now = c.now

	m := p.Current(context.Background())
	assert.Equal(t, 2, m.ProductCount())

	c.t = c.t.Add(9 * time.Minute)
	p.Current(context.Background())
	assert.Equal(t, 1, remote.Calls(testutil.OpListPricingGroups))

	c.t = c.t.Add(time.Minute)
	p.Current(context.Background())
	assert.Equal(t, 2, remote.Calls(testutil.OpListPricingGroups))
}

func TestProvider_KeepsLastFeedWhenOffline(t *testing.T) {
	remote := testutil.NewFakeRemoteStore()
	remote.SetGroups(sodaGroup())
	c := &clock{t: time.Now()}
	p := NewProvider(remote, nil, time.Minute, nil)
	p.now = c.now

	require.NoError(t, p.Refresh(context.Background()))
	remote.SetOffline(true)
	c.t = c.t.Add(time.Hour)

	m := p.Current(context.Background())
	assert.Len(t, m.GroupsFor("cola"), 1)
}

func TestProvider_NeverFetchedServesEmptyMap(t *testing.T) {
	remote := testutil.NewFakeRemoteStore()
	remote.SetOffline(true)
	p := NewProvider(remote, nil, time.Minute, nil)

	m := p.Current(context.Background())
	require.NotNil(t, m)
	assert.Zero(t, m.ProductCount())
	assert.True(t, p.FetchedAt().IsZero())
}

func TestProvider_SnapshotSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	db, err := persistence.OpenQueueDatabase(":memory:", "silent", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	snapshot := persistence.NewGormDeviceCache(db.DB)

	remote := testutil.NewFakeRemoteStore()
	remote.SetGroups(sodaGroup())
	require.NoError(t, NewProvider(remote, snapshot, time.Minute, nil).Refresh(ctx))

	remote.SetOffline(true)
	restarted := NewProvider(remote, snapshot, time.Minute, nil)
	require.NoError(t, restarted.LoadSnapshot(ctx))

	lines := []pricing.OrderLine{{ProductID: "cola", Quantity: d("12"), ListPrice: d("1")}}
	resolved := pricing.Resolve(lines, restarted.Current(ctx))
	assert.True(t, resolved["cola"].UnitPrice.Equal(d("0.80")))
}

func TestProvider_WarnsAndSkipsInvalidGroups(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	remote := testutil.NewFakeRemoteStore()
	remote.SetGroups(sodaGroup(), pricing.PricingGroup{
		GroupID:    "g-broken",
		Active:     true,
		ProductIDs: map[string]bool{"agua": true},
		Tiers: []pricing.PriceTier{
			{MinQuantity: d("6"), UnitPrice: d("0.50"), Active: true},
			{MinQuantity: d("6"), UnitPrice: d("0.40"), Active: true},
		},
	})
	p := NewProvider(remote, nil, time.Minute, zap.New(core))

	require.NoError(t, p.Refresh(context.Background()))

	m := p.Current(context.Background())
	assert.Len(t, m.GroupsFor("cola"), 1)
	assert.Empty(t, m.GroupsFor("agua"))

	warnings := logs.FilterMessage("pricing group ignored").All()
	require.Len(t, warnings, 1)
	assert.Equal(t, "g-broken", warnings[0].ContextMap()["group_id"])
}
