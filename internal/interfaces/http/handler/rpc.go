package handler

import (
	"errors"
	"net/http"

	"github.com/erp/ordersync/internal/application/remotestore"
	"github.com/erp/ordersync/internal/domain/offline"
	"github.com/erp/ordersync/internal/domain/pricing"
	"github.com/erp/ordersync/internal/domain/shared"
	"github.com/erp/ordersync/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// RPCHandler exposes the reference store to sync agents
type RPCHandler struct {
	BaseHandler
	store *remotestore.Service
}

// NewRPCHandler creates the RPC handler
func NewRPCHandler(store *remotestore.Service) *RPCHandler {
	return &RPCHandler{store: store}
}

// SetStockLevelRequest is the body of PUT /rpc/v1/stock/levels/:product_id
type SetStockLevelRequest struct {
	Quantity decimal.Decimal `json:"quantity"`
}

// keyMatches rejects requests whose Idempotency-Key disagrees with the body's local id
func (h *RPCHandler) keyMatches(c *gin.Context, localID string) bool {
	key := c.GetHeader(dto.IdempotencyKeyHeader)
	if key != "" && key != localID {
		h.BadRequest(c, "Idempotency-Key does not match local_id")
		return false
	}
	return true
}

// CreateOrder handles POST /rpc/v1/orders.
// A replayed local id answers 200 with the original order id.
func (h *RPCHandler) CreateOrder(c *gin.Context) {
	var req offline.CreateOrderRequest
	if !h.BindJSON(c, &req) || !h.keyMatches(c, req.LocalID) {
		return
	}

	orderID, replayed, err := h.store.CreateOrderIdempotent(c.Request.Context(), req)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}
	resp := dto.CreateOrderResponse{OrderID: orderID, Replayed: replayed}
	if replayed {
		h.Success(c, resp)
		return
	}
	h.Created(c, resp)
}

// AdjustStockAtomic handles POST /rpc/v1/stock/adjust-atomic
func (h *RPCHandler) AdjustStockAtomic(c *gin.Context) {
	var req dto.AdjustStockAtomicRequest
	if !h.BindJSON(c, &req) || !h.keyMatches(c, req.LocalID) {
		return
	}

	if err := h.store.AdjustStockAtomic(c.Request.Context(), req.LocalID, req.Deltas); err != nil {
		h.HandleDomainError(c, err)
		return
	}
	h.Success(c, gin.H{"local_id": req.LocalID})
}

// AdjustStock handles POST /rpc/v1/stock/adjust
func (h *RPCHandler) AdjustStock(c *gin.Context) {
	var req dto.AdjustStockRequest
	if !h.BindJSON(c, &req) || !h.keyMatches(c, req.LocalID) {
		return
	}

	if err := h.store.AdjustStock(c.Request.Context(), req.LocalID, req.Delta); err != nil {
		h.HandleDomainError(c, err)
		return
	}
	h.Success(c, gin.H{"local_id": req.LocalID})
}

// StockLevels handles POST /rpc/v1/stock/levels
func (h *RPCHandler) StockLevels(c *gin.Context) {
	var req dto.StockLevelsRequest
	if !h.BindJSON(c, &req) {
		return
	}

	levels, err := h.store.GetStockLevels(c.Request.Context(), req.ProductIDs)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}
	h.Success(c, dto.StockLevelsResponse{Levels: levels})
}

// SetStockLevel handles PUT /rpc/v1/stock/levels/:product_id
func (h *RPCHandler) SetStockLevel(c *gin.Context) {
	var req SetStockLevelRequest
	if !h.BindJSON(c, &req) {
		return
	}

	productID := c.Param("product_id")
	if err := h.store.SetStockLevel(c.Request.Context(), productID, req.Quantity); err != nil {
		h.HandleDomainError(c, err)
		return
	}
	h.Success(c, dto.StockLevelsResponse{Levels: map[string]decimal.Decimal{productID: req.Quantity}})
}

// RecordMerma handles POST /rpc/v1/mermas
func (h *RPCHandler) RecordMerma(c *gin.Context) {
	var req offline.PendingMerma
	if !h.BindJSON(c, &req) || !h.keyMatches(c, req.LocalID) {
		return
	}

	if err := h.store.RecordMerma(c.Request.Context(), &req); err != nil {
		h.HandleDomainError(c, err)
		return
	}
	h.Created(c, gin.H{"local_id": req.LocalID})
}

// ListPricingGroups handles GET /rpc/v1/pricing/groups
func (h *RPCHandler) ListPricingGroups(c *gin.Context) {
	groups, err := h.store.ListPricingGroups(c.Request.Context())
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}
	out := dto.PricingGroupsResponse{Groups: make([]dto.PricingGroupDTO, 0, len(groups))}
	for _, g := range groups {
		out.Groups = append(out.Groups, dto.FromPricingGroup(g))
	}
	h.Success(c, out)
}

// SavePricingGroup handles PUT /rpc/v1/pricing/groups
func (h *RPCHandler) SavePricingGroup(c *gin.Context) {
	var req dto.PricingGroupDTO
	if !h.BindJSON(c, &req) {
		return
	}

	group := req.ToDomain()
	err := h.store.SavePricingGroup(c.Request.Context(), &group)
	switch {
	case errors.Is(err, pricing.ErrTiersNotIncreasing), errors.Is(err, pricing.ErrInvalidTier):
		h.Error(c, http.StatusUnprocessableEntity, shared.CodeValidationFailed, err.Error())
		return
	case err != nil:
		h.HandleDomainError(c, err)
		return
	}
	h.Success(c, dto.FromPricingGroup(group))
}

// Health handles GET /healthz
func (h *RPCHandler) Health(c *gin.Context) {
	if err := h.store.Ping(c.Request.Context()); err != nil {
		h.Error(c, http.StatusServiceUnavailable, dto.ErrCodeUnavailable, "Store is unavailable")
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(dto.HealthResponse{
		Status:        "ok",
		AtomicEnabled: h.store.AtomicEnabled(),
	}))
}

// RegisterRoutes mounts the RPC API on rg
func (h *RPCHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/orders", h.CreateOrder)
	rg.POST("/stock/adjust-atomic", h.AdjustStockAtomic)
	rg.POST("/stock/adjust", h.AdjustStock)
	rg.POST("/stock/levels", h.StockLevels)
	rg.PUT("/stock/levels/:product_id", h.SetStockLevel)
	rg.POST("/mermas", h.RecordMerma)
	rg.GET("/pricing/groups", h.ListPricingGroups)
	rg.PUT("/pricing/groups", h.SavePricingGroup)
}
