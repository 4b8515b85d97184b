package offline

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Merma reason codes
const (
	ReasonDamaged   = "damaged"
	ReasonExpired   = "expired"
	ReasonLost      = "lost"
	ReasonSampling  = "sampling"
	ReasonOtherCode = "other"
)

// PendingMerma is a stock write-off recorded while offline
type PendingMerma struct {
	LocalID         string          `json:"local_id"`
	ProductID       string          `json:"product_id"`
	Quantity        decimal.Decimal `json:"quantity"`
	ReasonCode      string          `json:"reason_code"`
	Observations    string          `json:"observations,omitempty"`
	StockBefore     decimal.Decimal `json:"stock_before"`
	StockAfter      decimal.Decimal `json:"stock_after"`
	CreatedByUserID string          `json:"created_by_user_id"`
	CreatedAtLocal  time.Time       `json:"created_at_local"`
	// Attempts counts commits sent to the remote store. Kept by the queue.
	Attempts int `json:"attempts,omitempty"`
}

// NewPendingMerma creates a merma with a fresh local id.
// stockBefore is the stock the user saw when recording the write-off.
func NewPendingMerma(productID string, quantity decimal.Decimal, reasonCode, userID string, stockBefore decimal.Decimal) *PendingMerma {
	return &PendingMerma{
		LocalID:         uuid.New().String(),
		ProductID:       productID,
		Quantity:        quantity,
		ReasonCode:      reasonCode,
		StockBefore:     stockBefore,
		StockAfter:      stockBefore.Sub(quantity),
		CreatedByUserID: userID,
		CreatedAtLocal:  time.Now(),
	}
}

// Validate checks the invariants a queued merma must satisfy
func (m *PendingMerma) Validate() error {
	if m.LocalID == "" {
		return NewValidationError("local id is required")
	}
	if m.ProductID == "" {
		return NewValidationError("product id is required")
	}
	if !m.Quantity.IsPositive() {
		return NewValidationError("merma quantity must be positive")
	}
	if m.ReasonCode == "" {
		return NewValidationError("reason code is required")
	}
	return nil
}
