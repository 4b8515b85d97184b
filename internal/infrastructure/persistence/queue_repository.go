package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/erp/ordersync/internal/domain/offline"
	"github.com/erp/ordersync/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
)

// GormQueueRepository implements offline.Queue on the device sqlite database
type GormQueueRepository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormQueueRepository creates the queue repository
func NewGormQueueRepository(db *gorm.DB) *GormQueueRepository {
	return &GormQueueRepository{db: db, now: time.Now}
}

// EnqueueOrder appends order to the queue
func (r *GormQueueRepository) EnqueueOrder(ctx context.Context, order *offline.PendingOrder) error {
	return r.enqueue(ctx, order.LocalID, models.QueueKindOrder, order)
}

// EnqueueMerma appends merma to the queue
func (r *GormQueueRepository) EnqueueMerma(ctx context.Context, merma *offline.PendingMerma) error {
	return r.enqueue(ctx, merma.LocalID, models.QueueKindMerma, merma)
}

func (r *GormQueueRepository) enqueue(ctx context.Context, localID, kind string, payload any) error {
	if localID == "" {
		return offline.NewValidationError("local id is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode queued %s: %w", kind, err)
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&models.QueueEntryModel{}).
			Where("local_id = ?", localID).
			Count(&existing).Error; err != nil {
			return fmt.Errorf("check queued %s: %w", kind, err)
		}
		if existing > 0 {
			return offline.ErrDuplicateLocalID
		}

		entry := models.QueueEntryModel{
			LocalID:   localID,
			Kind:      kind,
			Payload:   data,
			CreatedAt: r.now(),
		}
		if err := tx.Create(&entry).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return offline.ErrDuplicateLocalID
			}
			return fmt.Errorf("enqueue %s: %w", kind, err)
		}
		return nil
	})
}

// ListPending returns every queued entry, each kind in creation order
func (r *GormQueueRepository) ListPending(ctx context.Context) (offline.Pending, error) {
	var entries []models.QueueEntryModel
	if err := r.db.WithContext(ctx).Order("seq ASC").Find(&entries).Error; err != nil {
		return offline.Pending{}, fmt.Errorf("list queue: %w", err)
	}

	var pending offline.Pending
	for _, e := range entries {
		switch e.Kind {
		case models.QueueKindOrder:
			var order offline.PendingOrder
			if err := json.Unmarshal(e.Payload, &order); err != nil {
				return offline.Pending{}, fmt.Errorf("decode queued order %s: %w", e.LocalID, err)
			}
			order.Attempts = e.Attempts
			pending.Orders = append(pending.Orders, order)
		case models.QueueKindMerma:
			var merma offline.PendingMerma
			if err := json.Unmarshal(e.Payload, &merma); err != nil {
				return offline.Pending{}, fmt.Errorf("decode queued merma %s: %w", e.LocalID, err)
			}
			merma.Attempts = e.Attempts
			pending.Mermas = append(pending.Mermas, merma)
		default:
			return offline.Pending{}, fmt.Errorf("queued entry %s has unknown kind %q", e.LocalID, e.Kind)
		}
	}
	return pending, nil
}

// Remove deletes the entry with localID
func (r *GormQueueRepository) Remove(ctx context.Context, localID string) error {
	result := r.db.WithContext(ctx).Where("local_id = ?", localID).Delete(&models.QueueEntryModel{})
	if result.Error != nil {
		return fmt.Errorf("remove queued entry %s: %w", localID, result.Error)
	}
	if result.RowsAffected == 0 {
		return offline.ErrNotQueued
	}
	return nil
}

// MarkAttempted increments the attempt count of the entry with localID
func (r *GormQueueRepository) MarkAttempted(ctx context.Context, localID string) error {
	result := r.db.WithContext(ctx).Model(&models.QueueEntryModel{}).
		Where("local_id = ?", localID).
		UpdateColumn("attempts", gorm.Expr("attempts + 1"))
	if result.Error != nil {
		return fmt.Errorf("mark queued entry %s attempted: %w", localID, result.Error)
	}
	if result.RowsAffected == 0 {
		return offline.ErrNotQueued
	}
	return nil
}

// Count returns the number of queued entries
func (r *GormQueueRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&models.QueueEntryModel{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count queue: %w", err)
	}
	return n, nil
}

var _ offline.Queue = (*GormQueueRepository)(nil)
