package offline

import (
	"errors"
	"fmt"

	"github.com/erp/ordersync/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// Queue errors
var (
	// ErrDuplicateLocalID is returned when an entry with the same local id is already queued
	ErrDuplicateLocalID = shared.NewDomainError(shared.CodeAlreadyExists, "an entry with this local id is already queued")

	// ErrNotQueued is returned when removing a local id that is not in the queue
	ErrNotQueued = shared.NewDomainError(shared.CodeNotFound, "no queued entry with this local id")
)

// ValidationError is a shortfall or input problem detected locally.
// It is never retried automatically.
type ValidationError struct {
	*shared.DomainError
	Shortfalls []Shortfall
}

// Shortfall describes one product whose requested quantity exceeds availability
type Shortfall struct {
	ProductID string          `json:"product_id"`
	Requested decimal.Decimal `json:"requested"`
	Available decimal.Decimal `json:"available"`
}

// NewValidationError creates a validation error without shortfall details
func NewValidationError(message string) *ValidationError {
	return &ValidationError{DomainError: shared.NewDomainError(shared.CodeValidationFailed, message)}
}

// NewShortfallError creates a validation error listing every shortfall
func NewShortfallError(shortfalls []Shortfall) *ValidationError {
	msg := fmt.Sprintf("insufficient stock for %d product(s)", len(shortfalls))
	return &ValidationError{
		DomainError: shared.NewDomainError(shared.CodeValidationFailed, msg),
		Shortfalls:  shortfalls,
	}
}

// Unwrap exposes the domain error
func (e *ValidationError) Unwrap() error {
	return e.DomainError
}

// StockConflictError is a shortfall detected by the remote store at commit time.
// The UI reports it as "stock changed", distinct from network failures.
type StockConflictError struct {
	*shared.DomainError
	ProductID string
	Available decimal.Decimal
}

// NewStockConflictError creates a conflict for productID with the remote available quantity
func NewStockConflictError(productID string, available decimal.Decimal) *StockConflictError {
	return &StockConflictError{
		DomainError: shared.NewDomainError(shared.CodeStockConflict,
			fmt.Sprintf("stock changed for product %s: %s available", productID, available.String())),
		ProductID: productID,
		Available: available,
	}
}

// Unwrap exposes the domain error
func (e *StockConflictError) Unwrap() error {
	return e.DomainError
}

// RemoteError is a network, permission or unexpected remote failure.
// The entry stays queued and is retried on the next sync.
type RemoteError struct {
	*shared.DomainError
	Op         string
	StatusCode int
	// PartialApplied is set when a non-atomic path applied some stock adjustments
	// before failing. Stock must then be reconciled by hand.
	PartialApplied bool
	// StockApplied is set when the stock change of the entry was confirmed and a
	// later step of the commit failed.
	StockApplied bool
	cause        error
}

// NewRemoteError wraps cause as a retryable remote failure of op
func NewRemoteError(op string, statusCode int, cause error) *RemoteError {
	msg := op + " failed"
	if cause != nil {
		msg = fmt.Sprintf("%s failed: %v", op, cause)
	}
	return &RemoteError{
		DomainError: shared.NewDomainError(shared.CodeRemoteError, msg),
		Op:          op,
		StatusCode:  statusCode,
		cause:       cause,
	}
}

// Unwrap exposes both the domain error and the underlying cause
func (e *RemoteError) Unwrap() []error {
	if e.cause != nil {
		return []error{e.DomainError, e.cause}
	}
	return []error{e.DomainError}
}

// WithStockApplied returns a copy of e flagged StockApplied
func (e *RemoteError) WithStockApplied() *RemoteError {
	cp := *e
	cp.StockApplied = true
	return &cp
}

// CapabilityAtomicAdjust names the transactional stock adjustment RPC
const CapabilityAtomicAdjust = "stock.adjust_atomic"

// CapabilityUnavailableError reports that the remote store does not implement
// an operation at all. It selects the fallback path and is never shown to users.
type CapabilityUnavailableError struct {
	*shared.DomainError
	Capability string
}

// NewCapabilityUnavailableError creates the error for capability
func NewCapabilityUnavailableError(capability string) *CapabilityUnavailableError {
	return &CapabilityUnavailableError{
		DomainError: shared.NewDomainError(shared.CodeCapabilityUnavailable,
			fmt.Sprintf("remote capability %q is not available", capability)),
		Capability: capability,
	}
}

// Unwrap exposes the domain error
func (e *CapabilityUnavailableError) Unwrap() error {
	return e.DomainError
}

// IsRetryable reports whether err should leave an entry queued for the next sync
func IsRetryable(err error) bool {
	var remoteErr *RemoteError
	return errors.As(err, &remoteErr)
}

// StockTouched reports whether a failed commit already changed remote stock,
// fully or in part. Such an entry no longer reserves stock locally.
func StockTouched(err error) bool {
	var remoteErr *RemoteError
	if !errors.As(err, &remoteErr) {
		return false
	}
	return remoteErr.StockApplied || remoteErr.PartialApplied
}

// IsStockConflict reports whether err is a remote stock conflict
func IsStockConflict(err error) bool {
	var conflict *StockConflictError
	return errors.As(err, &conflict)
}

// IsCapabilityUnavailable reports whether err signals a missing remote capability
func IsCapabilityUnavailable(err error) bool {
	var capErr *CapabilityUnavailableError
	return errors.As(err, &capErr)
}
