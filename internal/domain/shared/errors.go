package shared

// DomainError represents a domain-level error
type DomainError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface
func (e *DomainError) Error() string {
	return e.Message
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// Error codes shared by the sync subsystem and the reference store
const (
	CodeNotFound              = "NOT_FOUND"
	CodeAlreadyExists         = "ALREADY_EXISTS"
	CodeInvalidInput          = "INVALID_INPUT"
	CodeValidationFailed      = "VALIDATION_FAILED"
	CodeInsufficientStock     = "INSUFFICIENT_STOCK"
	CodeStockConflict         = "STOCK_CONFLICT"
	CodeRemoteError           = "REMOTE_ERROR"
	CodeCapabilityUnavailable = "CAPABILITY_UNAVAILABLE"
	CodeNotImplemented        = "NOT_IMPLEMENTED"
	CodeInvalidState          = "INVALID_STATE"
)

// Common domain errors
var (
	ErrNotFound          = NewDomainError(CodeNotFound, "Resource not found")
	ErrAlreadyExists     = NewDomainError(CodeAlreadyExists, "Resource already exists")
	ErrInvalidInput      = NewDomainError(CodeInvalidInput, "Invalid input provided")
	ErrInvalidState      = NewDomainError(CodeInvalidState, "Operation not allowed in current state")
	ErrInsufficientStock = NewDomainError(CodeInsufficientStock, "Insufficient stock available")
	ErrNotImplemented    = NewDomainError(CodeNotImplemented, "Operation not implemented by this store")
)
