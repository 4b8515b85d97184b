package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/erp/ordersync/internal/domain/offline"
	"github.com/erp/ordersync/internal/domain/pricing"
	"github.com/erp/ordersync/internal/interfaces/http/dto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{
		BaseURL:       srv.URL,
		DeviceID:      "device-7",
		Timeout:       2 * time.Second,
		RetryCount:    2,
		RetryWaitTime: time.Millisecond,
	}, nil)
}

func TestClient_CreateOrder_SendsIdempotencyKey(t *testing.T) {
	var gotKey, gotDevice string
	var gotBody offline.CreateOrderRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/rpc/v1/orders", r.URL.Path)
		gotKey = r.Header.Get(dto.IdempotencyKeyHeader)
		gotDevice = r.Header.Get(dto.DeviceIDHeader)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		writeJSON(w, http.StatusCreated, dto.NewSuccessResponse(dto.CreateOrderResponse{OrderID: "remote-1"}))
	})

	order := offline.NewPendingOrder("c1", "u1", []offline.PendingItem{
		{ProductID: "p1", Quantity: decimal.NewFromInt(2), UnitPrice: decimal.RequireFromString("9.50")},
	})
	id, err := client.CreateOrder(context.Background(), offline.NewCreateOrderRequest(order))

	require.NoError(t, err)
	assert.Equal(t, "remote-1", id)
	assert.Equal(t, order.LocalID, gotKey)
	assert.Equal(t, "device-7", gotDevice)
	assert.True(t, gotBody.Total.Equal(decimal.NewFromInt(19)))
	assert.True(t, gotBody.Items[0].UnitPrice.Equal(decimal.RequireFromString("9.50")))
}

func TestClient_AdjustStockAtomic_InsufficientStockIsConflict(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusConflict, dto.NewDetailedErrorResponse("INSUFFICIENT_STOCK", "not enough", "",
			dto.InsufficientStockDetails{
				InsufficientProductIDs: []string{"p9", "p2"},
				Available: map[string]decimal.Decimal{
					"p2": decimal.NewFromInt(3),
					"p9": decimal.Zero,
				},
			}))
	})

	err := client.AdjustStockAtomic(context.Background(), "L1", []offline.StockDelta{
		{ProductID: "p2", Delta: decimal.NewFromInt(-5)},
	})

	var conflict *offline.StockConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, "p2", conflict.ProductID)
	assert.True(t, conflict.Available.Equal(decimal.NewFromInt(3)))
	assert.False(t, offline.IsRetryable(err))
}

func TestClient_NotImplementedIsCapabilityUnavailable(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusNotImplemented, dto.NewErrorResponse("NOT_IMPLEMENTED", "no atomic adjust"))
	})

	err := client.AdjustStockAtomic(context.Background(), "L1", []offline.StockDelta{
		{ProductID: "p1", Delta: decimal.NewFromInt(-1)},
	})

	var capErr *offline.CapabilityUnavailableError
	require.True(t, errors.As(err, &capErr))
	assert.Equal(t, offline.CapabilityAtomicAdjust, capErr.Capability)
	assert.Equal(t, int32(1), calls.Load(), "501 must not be retried")
}

func TestClient_ServerErrorsAreRetriedThenRemoteError(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusInternalServerError, dto.NewErrorResponse("INTERNAL_ERROR", "boom"))
	})

	err := client.AdjustStock(context.Background(), "L1", offline.StockDelta{ProductID: "p1", Delta: decimal.NewFromInt(-1)})

	var remoteErr *offline.RemoteError
	require.True(t, errors.As(err, &remoteErr))
	assert.Equal(t, http.StatusInternalServerError, remoteErr.StatusCode)
	assert.Equal(t, "adjust_stock", remoteErr.Op)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_ClientErrorsAreRemoteErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		code   string
	}{
		{"bad request", http.StatusBadRequest, "BAD_REQUEST"},
		{"forbidden", http.StatusForbidden, "FORBIDDEN"},
		{"conflict without stock code", http.StatusConflict, "ALREADY_EXISTS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.status, dto.NewErrorResponse(tt.code, "rejected"))
			})

			err := client.RecordMerma(context.Background(), &offline.PendingMerma{LocalID: "M1"})

			assert.True(t, offline.IsRetryable(err))
			assert.False(t, offline.IsStockConflict(err))
			assert.Contains(t, err.Error(), tt.code)
		})
	}
}

func TestClient_TransportFailureIsRemoteError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := NewClient(Config{BaseURL: url, Timeout: time.Second}, nil)
	err := client.Ping(context.Background())

	var remoteErr *offline.RemoteError
	require.True(t, errors.As(err, &remoteErr))
	assert.Equal(t, 0, remoteErr.StatusCode)
}

func TestClient_GetStockLevels(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req dto.StockLevelsRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"p1", "p2"}, req.ProductIDs)
		assert.Empty(t, r.Header.Get(dto.IdempotencyKeyHeader))
		writeJSON(w, http.StatusOK, dto.NewSuccessResponse(dto.StockLevelsResponse{
			Levels: map[string]decimal.Decimal{"p1": decimal.NewFromInt(4), "p2": decimal.Zero},
		}))
	})

	levels, err := client.GetStockLevels(context.Background(), []string{"p1", "p2"})

	require.NoError(t, err)
	assert.True(t, levels["p1"].Equal(decimal.NewFromInt(4)))
	assert.True(t, levels["p2"].IsZero())
}

func TestClient_GetStockLevels_EmptyRequestSkipsCall(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	})

	levels, err := client.GetStockLevels(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, levels)
}

func TestClient_ListPricingGroups(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		writeJSON(w, http.StatusOK, dto.NewSuccessResponse(dto.PricingGroupsResponse{
			Groups: []dto.PricingGroupDTO{{
				GroupID:    "g1",
				Name:       "Sodas",
				Active:     true,
				ProductIDs: []string{"cola", "lima"},
				Tiers: []pricing.PriceTier{
					{MinQuantity: decimal.NewFromInt(12), UnitPrice: decimal.NewFromInt(8), Active: true},
				},
			}},
		}))
	})

	groups, err := client.ListPricingGroups(context.Background())

	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.True(t, groups[0].Contains("cola"))
	assert.True(t, groups[0].Contains("lima"))
	assert.Len(t, groups[0].Tiers, 1)
}

func TestClient_ContextDeadlineIsRemoteError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := client.Ping(ctx)

	assert.True(t, offline.IsRetryable(err))
}
