package dto

import (
	"sort"

	"github.com/erp/ordersync/internal/domain/offline"
	"github.com/erp/ordersync/internal/domain/pricing"
	"github.com/shopspring/decimal"
)

// Headers carried by every RPC request
const (
	IdempotencyKeyHeader = "Idempotency-Key"
	DeviceIDHeader       = "X-Device-ID"
)

// CreateOrderResponse is returned by POST /rpc/v1/orders
type CreateOrderResponse struct {
	OrderID string `json:"order_id"`
	// Replayed is true when the local id had already been committed
	Replayed bool `json:"replayed"`
}

// AdjustStockAtomicRequest is the body of POST /rpc/v1/stock/adjust-atomic
type AdjustStockAtomicRequest struct {
	LocalID string               `json:"local_id" binding:"required"`
	Deltas  []offline.StockDelta `json:"deltas" binding:"required,min=1"`
}

// AdjustStockRequest is the body of POST /rpc/v1/stock/adjust
type AdjustStockRequest struct {
	LocalID string             `json:"local_id" binding:"required"`
	Delta   offline.StockDelta `json:"delta"`
}

// StockLevelsRequest is the body of POST /rpc/v1/stock/levels
type StockLevelsRequest struct {
	ProductIDs []string `json:"product_ids"`
}

// StockLevelsResponse carries the server stock per requested product
type StockLevelsResponse struct {
	Levels map[string]decimal.Decimal `json:"levels"`
}

// InsufficientStockDetails is the error detail of a 409 INSUFFICIENT_STOCK
type InsufficientStockDetails struct {
	InsufficientProductIDs []string                   `json:"insufficient_product_ids"`
	Available              map[string]decimal.Decimal `json:"available"`
}

// PricingGroupDTO is the wire form of a pricing group
type PricingGroupDTO struct {
	GroupID    string              `json:"group_id"`
	Name       string              `json:"name"`
	Active     bool                `json:"active"`
	ProductIDs []string            `json:"product_ids"`
	Tiers      []pricing.PriceTier `json:"tiers"`
}

// PricingGroupsResponse is returned by GET /rpc/v1/pricing/groups
type PricingGroupsResponse struct {
	Groups []PricingGroupDTO `json:"groups"`
}

// FromPricingGroup converts a domain group, listing members in sorted order
func FromPricingGroup(g pricing.PricingGroup) PricingGroupDTO {
	ids := make([]string, 0, len(g.ProductIDs))
	for id, member := range g.ProductIDs {
		if member {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	tiers := make([]pricing.PriceTier, len(g.Tiers))
	copy(tiers, g.Tiers)
	return PricingGroupDTO{
		GroupID:    g.GroupID,
		Name:       g.Name,
		Active:     g.Active,
		ProductIDs: ids,
		Tiers:      tiers,
	}
}

// ToDomain converts the wire group back to the domain type
func (d PricingGroupDTO) ToDomain() pricing.PricingGroup {
	g := pricing.NewPricingGroup(d.GroupID, d.Name, d.ProductIDs, d.Tiers)
	g.Active = d.Active
	return *g
}

// HealthResponse is returned by GET /healthz
type HealthResponse struct {
	Status        string `json:"status"`
	AtomicEnabled bool   `json:"atomic_enabled"`
}
