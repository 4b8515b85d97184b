package offline

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentStatus of an order at creation time
type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusPartial PaymentStatus = "partial"
	PaymentStatusPaid    PaymentStatus = "paid"
)

// PendingItem is one line of a pending order. UnitPrice is already resolved
// and never changes after the order is queued.
type PendingItem struct {
	ProductID string          `json:"product_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// LineTotal returns quantity * unit price
func (i PendingItem) LineTotal() decimal.Decimal {
	return i.Quantity.Mul(i.UnitPrice)
}

// PendingOrder is an order created while offline (or queued for any other reason)
// and not yet committed to the remote store.
type PendingOrder struct {
	LocalID         string          `json:"local_id"`
	ClientID        string          `json:"client_id"`
	Items           []PendingItem   `json:"items"`
	Total           decimal.Decimal `json:"total"`
	CreatedByUserID string          `json:"created_by_user_id"`
	Notes           string          `json:"notes,omitempty"`
	PaymentMethod   string          `json:"payment_method,omitempty"`
	PaymentStatus   PaymentStatus   `json:"payment_status"`
	AmountPaid      decimal.Decimal `json:"amount_paid"`
	CreatedAtLocal  time.Time       `json:"created_at_local"`
	// Attempts counts commits sent to the remote store. Kept by the queue.
	Attempts int `json:"attempts,omitempty"`
}

// NewPendingOrder creates a pending order with a freshly generated local id.
// The local id is the idempotency key for the remote store and must never change.
func NewPendingOrder(clientID, userID string, items []PendingItem) *PendingOrder {
	order := &PendingOrder{
		LocalID:         uuid.New().String(),
		ClientID:        clientID,
		Items:           make([]PendingItem, len(items)),
		CreatedByUserID: userID,
		PaymentStatus:   PaymentStatusPending,
		AmountPaid:      decimal.Zero,
		CreatedAtLocal:  time.Now(),
	}
	copy(order.Items, items)
	order.Total = order.ComputeTotal()
	return order
}

// ComputeTotal sums the line totals of the order
func (o *PendingOrder) ComputeTotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range o.Items {
		total = total.Add(item.LineTotal())
	}
	return total
}

// QuantitiesByProduct sums item quantities per product
func (o *PendingOrder) QuantitiesByProduct() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(o.Items))
	for _, item := range o.Items {
		out[item.ProductID] = out[item.ProductID].Add(item.Quantity)
	}
	return out
}

// ProductIDs returns the distinct product ids of the order, in item order
func (o *PendingOrder) ProductIDs() []string {
	seen := make(map[string]bool, len(o.Items))
	ids := make([]string, 0, len(o.Items))
	for _, item := range o.Items {
		if !seen[item.ProductID] {
			seen[item.ProductID] = true
			ids = append(ids, item.ProductID)
		}
	}
	return ids
}

// Validate checks the invariants a queued order must satisfy
func (o *PendingOrder) Validate() error {
	if o.LocalID == "" {
		return NewValidationError("local id is required")
	}
	if o.ClientID == "" {
		return NewValidationError("client id is required")
	}
	if len(o.Items) == 0 {
		return NewValidationError("order must contain at least one item")
	}
	for _, item := range o.Items {
		if item.ProductID == "" {
			return NewValidationError("item product id is required")
		}
		if !item.Quantity.IsPositive() {
			return NewValidationError("item quantity must be positive")
		}
		if item.UnitPrice.IsNegative() {
			return NewValidationError("item unit price cannot be negative")
		}
	}
	if o.AmountPaid.IsNegative() {
		return NewValidationError("amount paid cannot be negative")
	}
	return nil
}
