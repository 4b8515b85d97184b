package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PricingSnapshotModel holds the last pricing feed fetched by the device.
// There is a single row with ID 1.
type PricingSnapshotModel struct {
	ID        uint      `gorm:"primaryKey;autoIncrement:false"`
	Payload   []byte    `gorm:"not null"`
	FetchedAt time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (PricingSnapshotModel) TableName() string {
	return "pricing_snapshots"
}

// StockLevelCacheModel is the last server stock seen by the device for one product
type StockLevelCacheModel struct {
	ProductID string          `gorm:"primaryKey;size:64"`
	Quantity  decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	FetchedAt time.Time       `gorm:"not null"`
}

// TableName returns the table name for GORM
func (StockLevelCacheModel) TableName() string {
	return "stock_level_cache"
}

// DeviceModels returns every model of the device database
func DeviceModels() []any {
	return []any{
		&QueueEntryModel{},
		&PricingSnapshotModel{},
		&StockLevelCacheModel{},
	}
}
