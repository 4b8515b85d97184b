package persistence

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/erp/ordersync/internal/domain/offline"
	"github.com/erp/ordersync/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStockRepository holds authoritative stock for the reference store.
// Every adjustment is recorded per (local id, product) so replays are no-ops.
type GormStockRepository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormStockRepository creates the stock repository
func NewGormStockRepository(db *gorm.DB) *GormStockRepository {
	return &GormStockRepository{db: db, now: time.Now}
}

// AdjustAtomic applies every delta in one transaction. If any product would go
// negative nothing is applied and a *offline.StockConflictError is returned.
func (r *GormStockRepository) AdjustAtomic(ctx context.Context, localID string, deltas []offline.StockDelta) error {
	merged := mergeDeltas(deltas)
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, d := range merged {
			if err := r.apply(tx, localID, d); err != nil {
				return err
			}
		}
		return nil
	})
}

// Adjust applies a single delta
func (r *GormStockRepository) Adjust(ctx context.Context, localID string, delta offline.StockDelta) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return r.apply(tx, localID, delta)
	})
}

func (r *GormStockRepository) apply(tx *gorm.DB, localID string, d offline.StockDelta) error {
	var applied int64
	if err := tx.Model(&models.StockMovementModel{}).
		Where("local_id = ? AND product_id = ?", localID, d.ProductID).
		Count(&applied).Error; err != nil {
		return fmt.Errorf("check stock movement: %w", err)
	}
	if applied > 0 {
		return nil
	}

	now := r.now()
	if d.Delta.IsNegative() {
		result := tx.Model(&models.StockLevelModel{}).
			Where("product_id = ? AND quantity + ? >= 0", d.ProductID, d.Delta).
			Updates(map[string]any{
				"quantity":   gorm.Expr("quantity + ?", d.Delta),
				"updated_at": now,
			})
		if result.Error != nil {
			return fmt.Errorf("decrement stock of %s: %w", d.ProductID, result.Error)
		}
		if result.RowsAffected == 0 {
			available, err := r.level(tx, d.ProductID)
			if err != nil {
				return err
			}
			return offline.NewStockConflictError(d.ProductID, available)
		}
	} else {
		level := models.StockLevelModel{ProductID: d.ProductID, Quantity: d.Delta, UpdatedAt: now}
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "product_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"quantity":   gorm.Expr("stock_levels.quantity + excluded.quantity"),
				"updated_at": now,
			}),
		}).Create(&level).Error; err != nil {
			return fmt.Errorf("increment stock of %s: %w", d.ProductID, err)
		}
	}

	movement := models.StockMovementModel{
		ID:        uuid.NewString(),
		LocalID:   localID,
		ProductID: d.ProductID,
		Delta:     d.Delta,
		CreatedAt: now,
	}
	if err := tx.Create(&movement).Error; err != nil {
		return fmt.Errorf("record stock movement: %w", err)
	}
	return nil
}

func (r *GormStockRepository) level(tx *gorm.DB, productID string) (decimal.Decimal, error) {
	var level models.StockLevelModel
	err := tx.Where("product_id = ?", productID).First(&level).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("read stock of %s: %w", productID, err)
	}
	return level.Quantity, nil
}

// Levels returns current stock for productIDs. Unknown products are reported as zero.
func (r *GormStockRepository) Levels(ctx context.Context, productIDs []string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(productIDs))
	if len(productIDs) == 0 {
		return out, nil
	}
	var rows []models.StockLevelModel
	if err := r.db.WithContext(ctx).Where("product_id IN ?", productIDs).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("read stock levels: %w", err)
	}
	for _, id := range productIDs {
		out[id] = decimal.Zero
	}
	for _, row := range rows {
		out[row.ProductID] = row.Quantity
	}
	return out, nil
}

// SetLevel overwrites the stock of productID. Used for seeding and stock counts.
func (r *GormStockRepository) SetLevel(ctx context.Context, productID string, quantity decimal.Decimal) error {
	level := models.StockLevelModel{ProductID: productID, Quantity: quantity, UpdatedAt: r.now()}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "product_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"quantity", "updated_at"}),
	}).Create(&level).Error
	if err != nil {
		return fmt.Errorf("set stock of %s: %w", productID, err)
	}
	return nil
}

// mergeDeltas sums deltas per product and orders them by product id so
// concurrent transactions lock rows in the same order
func mergeDeltas(deltas []offline.StockDelta) []offline.StockDelta {
	sums := make(map[string]decimal.Decimal, len(deltas))
	for _, d := range deltas {
		sums[d.ProductID] = sums[d.ProductID].Add(d.Delta)
	}
	merged := make([]offline.StockDelta, 0, len(sums))
	for id, sum := range sums {
		merged = append(merged, offline.StockDelta{ProductID: id, Delta: sum})
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].ProductID < merged[j].ProductID })
	return merged
}
