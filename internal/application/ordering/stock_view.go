package ordering

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// StockReader reads current server stock
type StockReader interface {
	GetStockLevels(ctx context.Context, productIDs []string) (map[string]decimal.Decimal, error)
}

// StockCache keeps the last stock levels read from the server
type StockCache interface {
	SaveStockLevels(ctx context.Context, levels map[string]decimal.Decimal, fetchedAt time.Time) error
	LoadStockLevels(ctx context.Context, productIDs []string) (map[string]decimal.Decimal, error)
}

// StockView reads server stock and writes every fresh read through to the device
// cache, so the last known levels stay available offline.
type StockView struct {
	remote StockReader
	cache  StockCache
	logger *zap.Logger
	now    func() time.Time
}

// NewStockView creates a StockView
func NewStockView(remote StockReader, cache StockCache, logger *zap.Logger) *StockView {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StockView{remote: remote, cache: cache, logger: logger, now: time.Now}
}

// GetStockLevels reads fresh levels from the server and caches them.
// It satisfies the coordinator's stock reader, so syncs refresh the cache too.
func (v *StockView) GetStockLevels(ctx context.Context, productIDs []string) (map[string]decimal.Decimal, error) {
	levels, err := v.remote.GetStockLevels(ctx, productIDs)
	if err != nil {
		return nil, err
	}
	if v.cache != nil && len(levels) > 0 {
		if err := v.cache.SaveStockLevels(ctx, levels, v.now()); err != nil {
			v.logger.Warn("failed to cache stock levels", zap.Error(err))
		}
	}
	return levels, nil
}

// LastKnown returns cached levels. Products never read are absent from the map.
func (v *StockView) LastKnown(ctx context.Context, productIDs []string) (map[string]decimal.Decimal, error) {
	if v.cache == nil {
		return map[string]decimal.Decimal{}, nil
	}
	return v.cache.LoadStockLevels(ctx, productIDs)
}
