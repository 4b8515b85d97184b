package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/erp/ordersync/internal/application/ordering"
	"github.com/erp/ordersync/internal/domain/offline"
	"github.com/erp/ordersync/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
)

// SyncController is the part of the coordinator the agent API drives
type SyncController interface {
	Sync(ctx context.Context, trigger offline.SyncTrigger) offline.SyncResult
	Pending(ctx context.Context) (offline.Pending, error)
	LastResult() (offline.SyncResult, bool)
	History(n int) []offline.SyncResult
}

// AgentHandler serves the local API the device UI talks to
type AgentHandler struct {
	BaseHandler
	ordering *ordering.Service
	sync     SyncController
}

// NewAgentHandler creates the agent handler
func NewAgentHandler(orderingService *ordering.Service, sync SyncController) *AgentHandler {
	return &AgentHandler{ordering: orderingService, sync: sync}
}

// PreviewRequest is the body of POST /api/v1/pricing/preview
type PreviewRequest struct {
	Lines []ordering.LineInput `json:"lines" binding:"required,min=1"`
}

// PendingResponse lists the queue
type PendingResponse struct {
	Orders []offline.PendingOrder `json:"orders"`
	Mermas []offline.PendingMerma `json:"mermas"`
	Count  int                    `json:"count"`
}

// SyncResponse wraps a sync result with its derived status
type SyncResponse struct {
	offline.SyncResult
	Status offline.SyncStatus `json:"status"`
}

func newSyncResponse(r offline.SyncResult) SyncResponse {
	return SyncResponse{SyncResult: r, Status: r.Status()}
}

// PlaceOrder handles POST /api/v1/orders.
// A committed order answers 201, a queued one 202.
func (h *AgentHandler) PlaceOrder(c *gin.Context) {
	var in ordering.PlaceOrderInput
	if !h.BindJSON(c, &in) {
		return
	}

	result, err := h.ordering.PlaceOrder(c.Request.Context(), in)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}
	if result.Outcome == ordering.OutcomeCommitted {
		h.Created(c, result)
		return
	}
	h.Accepted(c, result)
}

// RecordMerma handles POST /api/v1/mermas
func (h *AgentHandler) RecordMerma(c *gin.Context) {
	var in ordering.RecordMermaInput
	if !h.BindJSON(c, &in) {
		return
	}

	result, err := h.ordering.RecordMerma(c.Request.Context(), in)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}
	if result.Outcome == ordering.OutcomeCommitted {
		h.Created(c, result)
		return
	}
	h.Accepted(c, result)
}

// PreviewPrices handles POST /api/v1/pricing/preview
func (h *AgentHandler) PreviewPrices(c *gin.Context) {
	var req PreviewRequest
	if !h.BindJSON(c, &req) {
		return
	}

	result, err := h.ordering.PreviewPrices(c.Request.Context(), req.Lines)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}
	h.Success(c, result)
}

// ListPending handles GET /api/v1/pending
func (h *AgentHandler) ListPending(c *gin.Context) {
	pending, err := h.sync.Pending(c.Request.Context())
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}
	resp := PendingResponse{
		Orders: pending.Orders,
		Mermas: pending.Mermas,
		Count:  len(pending.Orders) + len(pending.Mermas),
	}
	if resp.Orders == nil {
		resp.Orders = []offline.PendingOrder{}
	}
	if resp.Mermas == nil {
		resp.Mermas = []offline.PendingMerma{}
	}
	h.Success(c, resp)
}

// TriggerSync handles POST /api/v1/sync
func (h *AgentHandler) TriggerSync(c *gin.Context) {
	result := h.sync.Sync(c.Request.Context(), offline.TriggerManual)
	h.Success(c, newSyncResponse(result))
}

// LastSync handles GET /api/v1/sync/last
func (h *AgentHandler) LastSync(c *gin.Context) {
	result, ok := h.sync.LastResult()
	if !ok {
		h.Error(c, http.StatusNotFound, "NOT_FOUND", "No sync has run yet")
		return
	}
	h.Success(c, newSyncResponse(result))
}

// SyncHistory handles GET /api/v1/sync/history?limit=n
func (h *AgentHandler) SyncHistory(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "10"))
	if err != nil || limit < 1 {
		h.BadRequest(c, "limit must be a positive integer")
		return
	}
	history := h.sync.History(limit)
	out := make([]SyncResponse, 0, len(history))
	for _, r := range history {
		out = append(out, newSyncResponse(r))
	}
	h.Success(c, out)
}

// AgentHealth is returned by the agent GET /healthz
type AgentHealth struct {
	Status  string `json:"status"`
	Pending int    `json:"pending"`
}

// Health handles GET /healthz. It answers 503 when the local queue cannot be read.
func (h *AgentHandler) Health(c *gin.Context) {
	pending, err := h.sync.Pending(c.Request.Context())
	if err != nil {
		h.Error(c, http.StatusServiceUnavailable, dto.ErrCodeUnavailable, "Queue is unavailable")
		return
	}
	h.Success(c, AgentHealth{Status: "ok", Pending: len(pending.Orders) + len(pending.Mermas)})
}

// RegisterRoutes mounts the agent API on rg
func (h *AgentHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/orders", h.PlaceOrder)
	rg.POST("/mermas", h.RecordMerma)
	rg.POST("/pricing/preview", h.PreviewPrices)
	rg.GET("/pending", h.ListPending)
	rg.POST("/sync", h.TriggerSync)
	rg.GET("/sync/last", h.LastSync)
	rg.GET("/sync/history", h.SyncHistory)
}
