package dto

import (
	"net/http"

	"github.com/erp/ordersync/internal/domain/shared"
)

// Transport error codes. Domain codes from shared are used as-is on the wire.
const (
	ErrCodeBadRequest      = "BAD_REQUEST"
	ErrCodeInternal        = "INTERNAL_ERROR"
	ErrCodeRequestTooLarge = "REQUEST_TOO_LARGE"
	ErrCodeUnavailable     = "SERVICE_UNAVAILABLE"
)

// ErrorCodeHTTPStatus maps error codes to HTTP status codes
var ErrorCodeHTTPStatus = map[string]int{
	ErrCodeBadRequest:      http.StatusBadRequest,
	ErrCodeInternal:        http.StatusInternalServerError,
	ErrCodeRequestTooLarge: http.StatusRequestEntityTooLarge,
	ErrCodeUnavailable:     http.StatusServiceUnavailable,

	shared.CodeNotFound:         http.StatusNotFound,
	shared.CodeAlreadyExists:    http.StatusConflict,
	shared.CodeInvalidInput:     http.StatusBadRequest,
	shared.CodeValidationFailed: http.StatusUnprocessableEntity,
	shared.CodeInvalidState:     http.StatusUnprocessableEntity,

	// Stock shortfalls found by the store are conflicts with the caller's view
	shared.CodeInsufficientStock: http.StatusConflict,
	shared.CodeStockConflict:     http.StatusConflict,

	shared.CodeRemoteError:           http.StatusBadGateway,
	shared.CodeCapabilityUnavailable: http.StatusNotImplemented,
	shared.CodeNotImplemented:        http.StatusNotImplemented,
}

// GetHTTPStatus returns the HTTP status code for an error code
// Returns 500 Internal Server Error if the error code is not found
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}
