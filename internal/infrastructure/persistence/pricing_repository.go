package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/erp/ordersync/internal/domain/pricing"
	"github.com/erp/ordersync/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormPricingRepository stores pricing groups and their tiers
type GormPricingRepository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormPricingRepository creates the pricing repository
func NewGormPricingRepository(db *gorm.DB) *GormPricingRepository {
	return &GormPricingRepository{db: db, now: time.Now}
}

// ListGroups returns every group, active or not, with tiers ascending.
// Filtering happens when the device builds its pricing map.
func (r *GormPricingRepository) ListGroups(ctx context.Context) ([]pricing.PricingGroup, error) {
	var rows []models.PricingGroupModel
	err := r.db.WithContext(ctx).
		Preload("Tiers", func(db *gorm.DB) *gorm.DB { return db.Order("min_quantity ASC") }).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list pricing groups: %w", err)
	}
	groups := make([]pricing.PricingGroup, 0, len(rows))
	for i := range rows {
		groups = append(groups, rows[i].ToDomain())
	}
	return groups, nil
}

// SaveGroup validates and upserts a group, replacing its tiers
func (r *GormPricingRepository) SaveGroup(ctx context.Context, group *pricing.PricingGroup) error {
	if err := group.Validate(); err != nil {
		return err
	}
	model := models.PricingGroupModelFromDomain(group)
	model.UpdatedAt = r.now()
	tiers := model.Tiers
	model.Tiers = nil

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "active", "product_ids", "updated_at"}),
		}).Create(model).Error; err != nil {
			return fmt.Errorf("save pricing group %s: %w", group.GroupID, err)
		}
		if err := tx.Where("group_id = ?", group.GroupID).Delete(&models.PriceTierModel{}).Error; err != nil {
			return fmt.Errorf("replace tiers of %s: %w", group.GroupID, err)
		}
		if len(tiers) == 0 {
			return nil
		}
		if err := tx.Create(&tiers).Error; err != nil {
			return fmt.Errorf("save tiers of %s: %w", group.GroupID, err)
		}
		return nil
	})
}
