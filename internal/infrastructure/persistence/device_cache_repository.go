package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/erp/ordersync/internal/domain/pricing"
	"github.com/erp/ordersync/internal/infrastructure/persistence/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const pricingSnapshotID = 1

// GormDeviceCache keeps the last pricing feed and stock levels fetched from the
// remote store, so the device can price and validate orders after a restart
// without connectivity.
type GormDeviceCache struct {
	db *gorm.DB
}

// NewGormDeviceCache creates the cache repository
func NewGormDeviceCache(db *gorm.DB) *GormDeviceCache {
	return &GormDeviceCache{db: db}
}

// SavePricing replaces the stored pricing feed
func (c *GormDeviceCache) SavePricing(ctx context.Context, groups []pricing.PricingGroup, fetchedAt time.Time) error {
	payload, err := json.Marshal(groups)
	if err != nil {
		return fmt.Errorf("encode pricing snapshot: %w", err)
	}
	row := models.PricingSnapshotModel{ID: pricingSnapshotID, Payload: payload, FetchedAt: fetchedAt}
	err = c.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("save pricing snapshot: %w", err)
	}
	return nil
}

// LoadPricing returns the stored feed. found is false when nothing was saved yet.
func (c *GormDeviceCache) LoadPricing(ctx context.Context) (groups []pricing.PricingGroup, fetchedAt time.Time, found bool, err error) {
	var row models.PricingSnapshotModel
	err = c.db.WithContext(ctx).First(&row, pricingSnapshotID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, time.Time{}, false, nil
	}
	if err != nil {
		return nil, time.Time{}, false, fmt.Errorf("load pricing snapshot: %w", err)
	}
	if err := json.Unmarshal(row.Payload, &groups); err != nil {
		return nil, time.Time{}, false, fmt.Errorf("decode pricing snapshot: %w", err)
	}
	return groups, row.FetchedAt, true, nil
}

// SaveStockLevels upserts the given levels
func (c *GormDeviceCache) SaveStockLevels(ctx context.Context, levels map[string]decimal.Decimal, fetchedAt time.Time) error {
	if len(levels) == 0 {
		return nil
	}
	rows := make([]models.StockLevelCacheModel, 0, len(levels))
	for productID, qty := range levels {
		rows = append(rows, models.StockLevelCacheModel{ProductID: productID, Quantity: qty, FetchedAt: fetchedAt})
	}
	err := c.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "product_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"quantity", "fetched_at"}),
		}).
		Create(&rows).Error
	if err != nil {
		return fmt.Errorf("save stock levels: %w", err)
	}
	return nil
}

// LoadStockLevels returns the cached levels of productIDs. Products never seen are absent.
func (c *GormDeviceCache) LoadStockLevels(ctx context.Context, productIDs []string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(productIDs))
	if len(productIDs) == 0 {
		return out, nil
	}
	var rows []models.StockLevelCacheModel
	if err := c.db.WithContext(ctx).Where("product_id IN ?", productIDs).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load stock levels: %w", err)
	}
	for _, row := range rows {
		out[row.ProductID] = row.Quantity
	}
	return out, nil
}
