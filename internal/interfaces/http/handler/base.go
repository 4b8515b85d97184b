// Package handler holds the gin handlers of the agent API and the reference
// store RPC API.
package handler

import (
	"errors"
	"net/http"

	"github.com/erp/ordersync/internal/domain/offline"
	"github.com/erp/ordersync/internal/domain/shared"
	"github.com/erp/ordersync/internal/infrastructure/logger"
	"github.com/erp/ordersync/internal/interfaces/http/dto"
	"github.com/erp/ordersync/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// BaseHandler provides common handler utilities
type BaseHandler struct{}

func getRequestID(c *gin.Context) string {
	return logger.GetRequestID(c.Request.Context())
}

// Success sends a success response
func (h *BaseHandler) Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(data))
}

// Created sends a 201 created response
func (h *BaseHandler) Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, dto.NewSuccessResponse(data))
}

// Accepted sends a 202 response for work that was queued rather than done
func (h *BaseHandler) Accepted(c *gin.Context, data any) {
	c.JSON(http.StatusAccepted, dto.NewSuccessResponse(data))
}

// Error sends an error response with the appropriate status code
func (h *BaseHandler) Error(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, dto.NewErrorResponseWithRequestID(code, message, getRequestID(c)))
}

// BadRequest sends a 400 bad request response
func (h *BaseHandler) BadRequest(c *gin.Context, message string) {
	h.Error(c, http.StatusBadRequest, dto.ErrCodeBadRequest, message)
}

// InternalError sends a 500 internal server error response
func (h *BaseHandler) InternalError(c *gin.Context, message string) {
	h.Error(c, http.StatusInternalServerError, dto.ErrCodeInternal, message)
}

// BindJSON binds the body into req and answers 400 on failure.
// It reports whether the handler should continue.
func (h *BaseHandler) BindJSON(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		middleware.HandleValidationError(c, err)
		return false
	}
	return true
}

// HandleDomainError converts domain errors to HTTP responses.
//
// Stock shortfalls carry machine-readable details: local validation failures
// list every shortfall, store-side conflicts use the insufficient stock shape
// the RPC client decodes.
func (h *BaseHandler) HandleDomainError(c *gin.Context, err error) {
	requestID := getRequestID(c)

	var validationErr *offline.ValidationError
	if errors.As(err, &validationErr) {
		var details any
		if len(validationErr.Shortfalls) > 0 {
			details = gin.H{"shortfalls": validationErr.Shortfalls}
		}
		c.JSON(http.StatusUnprocessableEntity, dto.NewDetailedErrorResponse(
			shared.CodeValidationFailed, validationErr.Message, requestID, details))
		return
	}

	var conflictErr *offline.StockConflictError
	if errors.As(err, &conflictErr) {
		details := dto.InsufficientStockDetails{
			InsufficientProductIDs: []string{conflictErr.ProductID},
			Available:              map[string]decimal.Decimal{conflictErr.ProductID: conflictErr.Available},
		}
		c.JSON(http.StatusConflict, dto.NewDetailedErrorResponse(
			shared.CodeInsufficientStock, conflictErr.Message, requestID, details))
		return
	}

	var domainErr *shared.DomainError
	if errors.As(err, &domainErr) {
		c.JSON(dto.GetHTTPStatus(domainErr.Code), dto.NewErrorResponseWithRequestID(domainErr.Code, domainErr.Message, requestID))
		return
	}

	logger.L(c.Request.Context()).Error("unhandled error", zap.Error(err))
	h.InternalError(c, "An unexpected error occurred")
}
