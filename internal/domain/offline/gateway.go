package offline

import (
	"context"

	"github.com/erp/ordersync/internal/domain/pricing"
	"github.com/shopspring/decimal"
)

// CommitPath identifies how stock was mutated for a commit
type CommitPath string

const (
	// CommitPathAtomic is the single transactional stock RPC
	CommitPathAtomic CommitPath = "atomic"
	// CommitPathSequentialFallback adjusts stock item by item without atomicity.
	// A failure midway leaves earlier items applied and needs manual reconciliation.
	CommitPathSequentialFallback CommitPath = "sequential_fallback"
)

// CommitReceipt is returned for a confirmed remote commit
type CommitReceipt struct {
	RemoteOrderID string
	Path          CommitPath
}

// StockGateway commits queued work against the remote store.
// Failures are a *StockConflictError when the remote stock cannot satisfy the
// request and a *RemoteError otherwise.
type StockGateway interface {
	CommitOrder(ctx context.Context, order *PendingOrder) (CommitReceipt, error)
	CommitMerma(ctx context.Context, merma *PendingMerma) (CommitReceipt, error)
}

// StockDelta is a signed stock change for one product
type StockDelta struct {
	ProductID string          `json:"product_id"`
	Delta     decimal.Decimal `json:"delta"`
}

// CreateOrderRequest is the payload of the remote order-creation RPC
type CreateOrderRequest struct {
	LocalID       string          `json:"local_id"`
	ClientID      string          `json:"client_id"`
	Items         []PendingItem   `json:"items"`
	Total         decimal.Decimal `json:"total"`
	UserID        string          `json:"user_id"`
	Notes         string          `json:"notes,omitempty"`
	PaymentMethod string          `json:"payment_method,omitempty"`
	PaymentStatus PaymentStatus   `json:"payment_status"`
	AmountPaid    decimal.Decimal `json:"amount_paid"`
}

// NewCreateOrderRequest maps a pending order onto the RPC payload.
// Prices and total are copied as queued; nothing is re-priced.
func NewCreateOrderRequest(order *PendingOrder) CreateOrderRequest {
	items := make([]PendingItem, len(order.Items))
	copy(items, order.Items)
	return CreateOrderRequest{
		LocalID:       order.LocalID,
		ClientID:      order.ClientID,
		Items:         items,
		Total:         order.Total,
		UserID:        order.CreatedByUserID,
		Notes:         order.Notes,
		PaymentMethod: order.PaymentMethod,
		PaymentStatus: order.PaymentStatus,
		AmountPaid:    order.AmountPaid,
	}
}

// RemoteStore is the RPC surface of the authoritative backend.
//
// AdjustStockAtomic returns a *CapabilityUnavailableError when the backend does not
// implement it, and a *StockConflictError when any product would go negative.
// CreateOrder and the adjustments take the local id as idempotency key.
type RemoteStore interface {
	CreateOrder(ctx context.Context, req CreateOrderRequest) (string, error)
	AdjustStockAtomic(ctx context.Context, localID string, deltas []StockDelta) error
	AdjustStock(ctx context.Context, localID string, delta StockDelta) error
	GetStockLevels(ctx context.Context, productIDs []string) (map[string]decimal.Decimal, error)
	RecordMerma(ctx context.Context, merma *PendingMerma) error
	ListPricingGroups(ctx context.Context) ([]pricing.PricingGroup, error)
	Ping(ctx context.Context) error
}
