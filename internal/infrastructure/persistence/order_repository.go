package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/erp/ordersync/internal/domain/offline"
	"github.com/erp/ordersync/internal/domain/shared"
	"github.com/erp/ordersync/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormRemoteOrderRepository stores orders committed by devices
type GormRemoteOrderRepository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormRemoteOrderRepository creates the order repository
func NewGormRemoteOrderRepository(db *gorm.DB) *GormRemoteOrderRepository {
	return &GormRemoteOrderRepository{db: db, now: time.Now}
}

// Create inserts the order unless one with the same local id exists.
// It returns the id of the stored order and whether this call created it.
func (r *GormRemoteOrderRepository) Create(ctx context.Context, req offline.CreateOrderRequest) (string, bool, error) {
	var model models.RemoteOrderModel
	model.FromRequest(uuid.NewString(), req)
	model.CreatedAt = r.now()

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "local_id"}}, DoNothing: true}).
		Create(&model)
	if result.Error != nil {
		return "", false, fmt.Errorf("create order %s: %w", req.LocalID, result.Error)
	}
	if result.RowsAffected == 1 {
		return model.ID, true, nil
	}

	existing, err := r.FindByLocalID(ctx, req.LocalID)
	if err != nil {
		return "", false, err
	}
	return existing.ID, false, nil
}

// FindByLocalID returns the order created from localID
func (r *GormRemoteOrderRepository) FindByLocalID(ctx context.Context, localID string) (*models.RemoteOrderModel, error) {
	var model models.RemoteOrderModel
	if err := r.db.WithContext(ctx).Where("local_id = ?", localID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("find order %s: %w", localID, err)
	}
	return &model, nil
}

// Count returns the number of stored orders
func (r *GormRemoteOrderRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&models.RemoteOrderModel{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count orders: %w", err)
	}
	return n, nil
}

// GormMermaRepository stores write-offs committed by devices
type GormMermaRepository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormMermaRepository creates the merma repository
func NewGormMermaRepository(db *gorm.DB) *GormMermaRepository {
	return &GormMermaRepository{db: db, now: time.Now}
}

// Record inserts the merma unless one with the same local id exists.
// Reports whether this call created it.
func (r *GormMermaRepository) Record(ctx context.Context, merma *offline.PendingMerma) (bool, error) {
	var model models.MermaModel
	model.FromDomain(uuid.NewString(), merma)
	model.CreatedAt = r.now()

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "local_id"}}, DoNothing: true}).
		Create(&model)
	if result.Error != nil {
		return false, fmt.Errorf("record merma %s: %w", merma.LocalID, result.Error)
	}
	return result.RowsAffected == 1, nil
}
