package models

import (
	"sort"
	"time"

	"github.com/erp/ordersync/internal/domain/offline"
	"github.com/erp/ordersync/internal/domain/pricing"
	"github.com/shopspring/decimal"
)

// StockLevelModel is the authoritative stock of one product
type StockLevelModel struct {
	ProductID string          `gorm:"primaryKey;size:64"`
	Quantity  decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	UpdatedAt time.Time       `gorm:"not null"`
}

// TableName returns the table name for GORM
func (StockLevelModel) TableName() string {
	return "stock_levels"
}

// StockMovementModel records an applied adjustment so a replay is a no-op
type StockMovementModel struct {
	ID        string          `gorm:"primaryKey;size:36"`
	LocalID   string          `gorm:"size:64;not null;uniqueIndex:uq_stock_movements_local_product,priority:1"`
	ProductID string          `gorm:"size:64;not null;uniqueIndex:uq_stock_movements_local_product,priority:2"`
	Delta     decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	CreatedAt time.Time       `gorm:"not null"`
}

// TableName returns the table name for GORM
func (StockMovementModel) TableName() string {
	return "stock_movements"
}

// RemoteOrderModel is an order committed from a device
type RemoteOrderModel struct {
	ID            string                `gorm:"primaryKey;size:36"`
	LocalID       string                `gorm:"size:64;not null;uniqueIndex"`
	ClientID      string                `gorm:"size:64;not null;index"`
	UserID        string                `gorm:"size:64;not null"`
	Items         []offline.PendingItem `gorm:"serializer:json;not null"`
	Total         decimal.Decimal       `gorm:"type:decimal(18,4);not null"`
	Notes         string                `gorm:"not null;default:''"`
	PaymentMethod string                `gorm:"size:32;not null;default:''"`
	PaymentStatus string                `gorm:"size:16;not null;default:'pending'"`
	AmountPaid    decimal.Decimal       `gorm:"type:decimal(18,4);not null;default:0"`
	CreatedAt     time.Time             `gorm:"not null"`
}

// TableName returns the table name for GORM
func (RemoteOrderModel) TableName() string {
	return "remote_orders"
}

// FromRequest populates the model from an order-creation request
func (m *RemoteOrderModel) FromRequest(id string, req offline.CreateOrderRequest) {
	m.ID = id
	m.LocalID = req.LocalID
	m.ClientID = req.ClientID
	m.UserID = req.UserID
	m.Items = req.Items
	m.Total = req.Total
	m.Notes = req.Notes
	m.PaymentMethod = req.PaymentMethod
	m.PaymentStatus = string(req.PaymentStatus)
	m.AmountPaid = req.AmountPaid
}

// MermaModel is a stock write-off committed from a device
type MermaModel struct {
	ID           string          `gorm:"primaryKey;size:36"`
	LocalID      string          `gorm:"size:64;not null;uniqueIndex"`
	ProductID    string          `gorm:"size:64;not null"`
	Quantity     decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	ReasonCode   string          `gorm:"size:32;not null"`
	Observations string          `gorm:"not null;default:''"`
	StockBefore  decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	StockAfter   decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	UserID       string          `gorm:"size:64;not null"`
	CreatedAt    time.Time       `gorm:"not null"`
}

// TableName returns the table name for GORM
func (MermaModel) TableName() string {
	return "mermas"
}

// FromDomain populates the model from a pending merma
func (m *MermaModel) FromDomain(id string, merma *offline.PendingMerma) {
	m.ID = id
	m.LocalID = merma.LocalID
	m.ProductID = merma.ProductID
	m.Quantity = merma.Quantity
	m.ReasonCode = merma.ReasonCode
	m.Observations = merma.Observations
	m.StockBefore = merma.StockBefore
	m.StockAfter = merma.StockAfter
	m.UserID = merma.CreatedByUserID
}

// PricingGroupModel is a pricing group with its member products
type PricingGroupModel struct {
	ID         string           `gorm:"primaryKey;size:64"`
	Name       string           `gorm:"size:128;not null"`
	Active     bool             `gorm:"not null"`
	ProductIDs []string         `gorm:"serializer:json;not null"`
	Tiers      []PriceTierModel `gorm:"foreignKey:GroupID;references:ID;constraint:OnDelete:CASCADE"`
	UpdatedAt  time.Time        `gorm:"not null"`
}

// TableName returns the table name for GORM
func (PricingGroupModel) TableName() string {
	return "pricing_groups"
}

// PriceTierModel is one quantity break of a pricing group
type PriceTierModel struct {
	ID          uint64          `gorm:"primaryKey;autoIncrement"`
	GroupID     string          `gorm:"size:64;not null;uniqueIndex:uq_price_tiers_group_min,priority:1"`
	MinQuantity decimal.Decimal `gorm:"type:decimal(18,4);not null;uniqueIndex:uq_price_tiers_group_min,priority:2"`
	UnitPrice   decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	Label       string          `gorm:"size:64;not null;default:''"`
	Active      bool            `gorm:"not null"`
}

// TableName returns the table name for GORM
func (PriceTierModel) TableName() string {
	return "price_tiers"
}

// ToDomain converts the model into a pricing group
func (m *PricingGroupModel) ToDomain() pricing.PricingGroup {
	ids := make(map[string]bool, len(m.ProductIDs))
	for _, id := range m.ProductIDs {
		ids[id] = true
	}
	tiers := make([]pricing.PriceTier, 0, len(m.Tiers))
	for _, t := range m.Tiers {
		tiers = append(tiers, pricing.PriceTier{
			MinQuantity: t.MinQuantity,
			UnitPrice:   t.UnitPrice,
			Label:       t.Label,
			Active:      t.Active,
		})
	}
	return pricing.PricingGroup{
		GroupID:    m.ID,
		Name:       m.Name,
		Active:     m.Active,
		ProductIDs: ids,
		Tiers:      tiers,
	}
}

// PricingGroupModelFromDomain converts a pricing group into its model
func PricingGroupModelFromDomain(g *pricing.PricingGroup) *PricingGroupModel {
	ids := make([]string, 0, len(g.ProductIDs))
	for id, member := range g.ProductIDs {
		if member {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	tiers := make([]PriceTierModel, 0, len(g.Tiers))
	for _, t := range g.Tiers {
		tiers = append(tiers, PriceTierModel{
			GroupID:     g.GroupID,
			MinQuantity: t.MinQuantity,
			UnitPrice:   t.UnitPrice,
			Label:       t.Label,
			Active:      t.Active,
		})
	}
	return &PricingGroupModel{
		ID:         g.GroupID,
		Name:       g.Name,
		Active:     g.Active,
		ProductIDs: ids,
		Tiers:      tiers,
	}
}

// ReferenceStoreModels lists every reference store model, for AutoMigrate in tests
func ReferenceStoreModels() []any {
	return []any{
		&StockLevelModel{},
		&StockMovementModel{},
		&RemoteOrderModel{},
		&MermaModel{},
		&PricingGroupModel{},
		&PriceTierModel{},
	}
}
