package offline

import (
	"errors"
	"fmt"
	"testing"

	"github.com/erp/ordersync/internal/domain/shared"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func item(productID string, qty, price int64) PendingItem {
	return PendingItem{ProductID: productID, Quantity: decimal.NewFromInt(qty), UnitPrice: decimal.NewFromInt(price)}
}

func TestNewPendingOrder(t *testing.T) {
	order := NewPendingOrder("client-1", "user-1", []PendingItem{item("p-1", 2, 10), item("p-2", 1, 5), item("p-1", 3, 10)})

	assert.NotEmpty(t, order.LocalID)
	assert.Equal(t, PaymentStatusPending, order.PaymentStatus)
	assert.True(t, decimal.NewFromInt(55).Equal(order.Total))
	assert.False(t, order.CreatedAtLocal.IsZero())
	assert.Equal(t, []string{"p-1", "p-2"}, order.ProductIDs())

	qty := order.QuantitiesByProduct()
	assert.True(t, decimal.NewFromInt(5).Equal(qty["p-1"]))
	assert.True(t, decimal.NewFromInt(1).Equal(qty["p-2"]))
	require.NoError(t, order.Validate())
}

func TestNewPendingOrder_GeneratesDistinctLocalIDs(t *testing.T) {
	a := NewPendingOrder("c", "u", []PendingItem{item("p", 1, 1)})
	b := NewPendingOrder("c", "u", []PendingItem{item("p", 1, 1)})
	assert.NotEqual(t, a.LocalID, b.LocalID)
}

func TestPendingOrder_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(o *PendingOrder)
	}{
		{"missing client", func(o *PendingOrder) { o.ClientID = "" }},
		{"no items", func(o *PendingOrder) { o.Items = nil }},
		{"zero quantity", func(o *PendingOrder) { o.Items[0].Quantity = decimal.Zero }},
		{"negative price", func(o *PendingOrder) { o.Items[0].UnitPrice = decimal.NewFromInt(-1) }},
		{"negative amount paid", func(o *PendingOrder) { o.AmountPaid = decimal.NewFromInt(-5) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order := NewPendingOrder("c", "u", []PendingItem{item("p", 1, 1)})
			tt.mutate(order)

			err := order.Validate()

			var validationErr *ValidationError
			require.ErrorAs(t, err, &validationErr)
			assert.Equal(t, shared.CodeValidationFailed, validationErr.Code)
		})
	}
}

func TestNewPendingMerma(t *testing.T) {
	m := NewPendingMerma("p-1", decimal.NewFromInt(3), ReasonDamaged, "user-1", decimal.NewFromInt(10))

	assert.NotEmpty(t, m.LocalID)
	assert.True(t, decimal.NewFromInt(7).Equal(m.StockAfter))
	require.NoError(t, m.Validate())

	m.Quantity = decimal.Zero
	assert.Error(t, m.Validate())
}

func TestErrorTaxonomy(t *testing.T) {
	conflict := NewStockConflictError("p-1", decimal.NewFromInt(4))
	remote := NewRemoteError("create order", 503, errors.New("connection refused"))
	capability := NewCapabilityUnavailableError("adjust_stock_atomic")

	wrappedConflict := fmt.Errorf("commit: %w", conflict)

	assert.True(t, IsStockConflict(wrappedConflict))
	assert.False(t, IsRetryable(wrappedConflict))
	assert.True(t, IsRetryable(remote))
	assert.True(t, IsCapabilityUnavailable(capability))
	assert.False(t, IsRetryable(capability))

	var domainErr *shared.DomainError
	require.ErrorAs(t, remote, &domainErr)
	assert.Equal(t, shared.CodeRemoteError, domainErr.Code)
	assert.Contains(t, remote.Error(), "connection refused")

	require.ErrorAs(t, wrappedConflict, &domainErr)
	assert.Equal(t, shared.CodeStockConflict, domainErr.Code)
}

func TestStockTouched(t *testing.T) {
	remote := NewRemoteError("create_order", 503, nil)
	partial := NewRemoteError("adjust_stock", 503, nil)
	partial.PartialApplied = true

	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nothing applied", remote, false},
		{"stock applied before failure", fmt.Errorf("commit: %w", remote.WithStockApplied()), true},
		{"partially applied", partial, true},
		{"conflict", NewStockConflictError("p-1", decimal.Zero), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, StockTouched(tt.err))
		})
	}
	assert.False(t, remote.StockApplied, "WithStockApplied copies")
}

func TestSyncResult_Status(t *testing.T) {
	tests := []struct {
		name     string
		result   SyncResult
		expected SyncStatus
	}{
		{"nothing failed", SyncResult{SyncedCount: 2}, SyncStatusSuccess},
		{"empty run", SyncResult{}, SyncStatusSuccess},
		{"some synced some failed", SyncResult{SyncedCount: 2, Errors: []SyncError{{LocalID: "x"}}}, SyncStatusPartial},
		{"only conflicts", SyncResult{Conflicts: []StockConflict{{LocalID: "x"}}}, SyncStatusFailed},
		{"skipped", SyncResult{Skipped: true}, SyncStatusSkipped},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.result.Status())
		})
	}
}

func TestNewCreateOrderRequest_CopiesPricesAsQueued(t *testing.T) {
	order := NewPendingOrder("c", "u", []PendingItem{item("p-1", 12, 90)})
	order.Notes = "entregar temprano"

	req := NewCreateOrderRequest(order)
	order.Items[0].UnitPrice = decimal.NewFromInt(1)

	assert.Equal(t, order.LocalID, req.LocalID)
	assert.True(t, decimal.NewFromInt(90).Equal(req.Items[0].UnitPrice))
	assert.True(t, decimal.NewFromInt(1080).Equal(req.Total))
	assert.Equal(t, "u", req.UserID)
	assert.Equal(t, "entregar temprano", req.Notes)
}
