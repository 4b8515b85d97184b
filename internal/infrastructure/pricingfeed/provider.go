// Package pricingfeed keeps the device's PricingMap in step with the remote pricing feed.
package pricingfeed

import (
	"context"
	"sync"
	"time"

	"github.com/erp/ordersync/internal/domain/pricing"
	"go.uber.org/zap"
)

// Source fetches the current pricing groups
type Source interface {
	ListPricingGroups(ctx context.Context) ([]pricing.PricingGroup, error)
}

// Snapshot persists the last fetched feed across restarts
type Snapshot interface {
	SavePricing(ctx context.Context, groups []pricing.PricingGroup, fetchedAt time.Time) error
	LoadPricing(ctx context.Context) ([]pricing.PricingGroup, time.Time, bool, error)
}

// Provider serves an immutable PricingMap and rebuilds it from the source when
// it is older than the TTL. A failed refresh keeps serving the previous map:
// offline devices price with the last feed they saw.
type Provider struct {
	source   Source
	snapshot Snapshot
	ttl      time.Duration
	logger   *zap.Logger
	now      func() time.Time

	mu        sync.RWMutex
	current   *pricing.PricingMap
	fetchedAt time.Time
	refreshMu sync.Mutex
}

// NewProvider creates a provider. snapshot may be nil.
func NewProvider(source Source, snapshot Snapshot, ttl time.Duration, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		source:   source,
		snapshot: snapshot,
		ttl:      ttl,
		logger:   logger,
		now:      time.Now,
		current:  pricing.EmptyPricingMap(),
	}
}

// LoadSnapshot seeds the provider from the persisted feed, if any
func (p *Provider) LoadSnapshot(ctx context.Context) error {
	if p.snapshot == nil {
		return nil
	}
	groups, fetchedAt, found, err := p.snapshot.LoadPricing(ctx)
	if err != nil || !found {
		return err
	}
	p.install(groups, fetchedAt)
	p.logger.Info("pricing loaded from snapshot",
		zap.Int("groups", len(groups)),
		zap.Time("fetched_at", fetchedAt),
	)
	return nil
}

// Current returns the pricing map, refreshing it first when stale
func (p *Provider) Current(ctx context.Context) *pricing.PricingMap {
	if p.stale() {
		if err := p.Refresh(ctx); err != nil {
			p.logger.Warn("pricing refresh failed, using last known feed",
				zap.Time("fetched_at", p.FetchedAt()),
				zap.Error(err),
			)
		}
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// Refresh fetches the feed now and installs the new map
func (p *Provider) Refresh(ctx context.Context) error {
	p.refreshMu.Lock()
	defer p.refreshMu.Unlock()

	groups, err := p.source.ListPricingGroups(ctx)
	if err != nil {
		return err
	}
	fetchedAt := p.now()
	p.install(groups, fetchedAt)

	if p.snapshot != nil {
		if err := p.snapshot.SavePricing(ctx, groups, fetchedAt); err != nil {
			p.logger.Warn("failed to persist pricing snapshot", zap.Error(err))
		}
	}
	p.logger.Debug("pricing refreshed", zap.Int("groups", len(groups)))
	return nil
}

// FetchedAt returns when the current map was fetched; zero if never
func (p *Provider) FetchedAt() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.fetchedAt
}

func (p *Provider) stale() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.fetchedAt.IsZero() || p.now().Sub(p.fetchedAt) >= p.ttl
}

func (p *Provider) install(groups []pricing.PricingGroup, fetchedAt time.Time) {
	m := pricing.BuildPricingMap(groups)
	for _, r := range m.Rejected() {
		p.logger.Warn("pricing group ignored", zap.String("group_id", r.GroupID), zap.Error(r.Err))
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = m
	p.fetchedAt = fetchedAt
}
