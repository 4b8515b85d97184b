package ordering

import (
	"github.com/erp/ordersync/internal/domain/offline"
	"github.com/erp/ordersync/internal/domain/pricing"
	"github.com/erp/ordersync/internal/domain/stock"
	"github.com/shopspring/decimal"
)

// Placement outcomes
const (
	OutcomeCommitted = "committed"
	OutcomeQueued    = "queued"
)

// LineInput is one requested product line
type LineInput struct {
	ProductID string          `json:"product_id" validate:"required"`
	Quantity  decimal.Decimal `json:"quantity" validate:"gt=0"`
	ListPrice decimal.Decimal `json:"list_price" validate:"gte=0"`
}

// PlaceOrderInput is the input for PlaceOrder
type PlaceOrderInput struct {
	ClientID      string                `json:"client_id" validate:"required"`
	UserID        string                `json:"user_id" validate:"required"`
	Lines         []LineInput           `json:"lines" validate:"required,min=1,dive"`
	Notes         string                `json:"notes" validate:"max=500"`
	PaymentMethod string                `json:"payment_method" validate:"max=50"`
	PaymentStatus offline.PaymentStatus `json:"payment_status" validate:"omitempty,oneof=pending partial paid"`
	AmountPaid    decimal.Decimal       `json:"amount_paid" validate:"gte=0"`
}

func (in PlaceOrderInput) orderLines() []pricing.OrderLine {
	lines := make([]pricing.OrderLine, 0, len(in.Lines))
	for _, l := range in.Lines {
		lines = append(lines, pricing.OrderLine{ProductID: l.ProductID, Quantity: l.Quantity, ListPrice: l.ListPrice})
	}
	return lines
}

// PlaceOrderResult reports what happened to a placed order
type PlaceOrderResult struct {
	Order   *offline.PendingOrder `json:"order"`
	Outcome string                `json:"outcome"`
	// Online is true when the order was validated against fresh server stock
	Online bool `json:"online"`
	// Warnings are advisory shortfalls computed from cached stock while offline
	Warnings []offline.Shortfall `json:"warnings,omitempty"`
	// Conflict is set when the immediate sync found the stock changed
	Conflict *offline.StockConflict `json:"conflict,omitempty"`
	// SyncError is set when the immediate sync left the order queued after a failure
	SyncError string         `json:"sync_error,omitempty"`
	Stock     stock.Snapshot `json:"stock,omitempty"`
}

// RecordMermaInput is the input for RecordMerma
type RecordMermaInput struct {
	ProductID    string          `json:"product_id" validate:"required"`
	Quantity     decimal.Decimal `json:"quantity" validate:"gt=0"`
	ReasonCode   string          `json:"reason_code" validate:"required,oneof=damaged expired lost sampling other"`
	Observations string          `json:"observations" validate:"max=500"`
	UserID       string          `json:"user_id" validate:"required"`
}

// RecordMermaResult reports what happened to a recorded merma
type RecordMermaResult struct {
	Merma     *offline.PendingMerma `json:"merma"`
	Outcome   string                `json:"outcome"`
	Online    bool                  `json:"online"`
	SyncError string                `json:"sync_error,omitempty"`
}

// PreviewResult is the priced view of a prospective order
type PreviewResult struct {
	Lines    []pricing.PricedLine             `json:"lines"`
	Prices   map[string]pricing.ResolvedPrice `json:"prices"`
	Total    decimal.Decimal                  `json:"total"`
	Products int                              `json:"pricing_products"`
}
