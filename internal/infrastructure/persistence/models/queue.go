// Package models holds the gorm persistence models of the device queue and the reference store.
package models

import (
	"time"
)

// Queue entry kinds
const (
	QueueKindOrder = "order"
	QueueKindMerma = "merma"
)

// QueueEntryModel is one pending order or merma in the on-device queue.
// Seq preserves creation order; LocalID is unique across both kinds.
type QueueEntryModel struct {
	Seq       uint64    `gorm:"primaryKey;autoIncrement"`
	LocalID   string    `gorm:"size:64;not null;uniqueIndex:idx_queue_entries_local_id"`
	Kind      string    `gorm:"size:16;not null;index:idx_queue_entries_kind"`
	Payload   []byte    `gorm:"not null"`
	Attempts  int       `gorm:"not null;default:0"`
	CreatedAt time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (QueueEntryModel) TableName() string {
	return "queue_entries"
}
