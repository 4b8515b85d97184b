// Package remote implements the RPC client of the authoritative store.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/erp/ordersync/internal/domain/offline"
	"github.com/erp/ordersync/internal/domain/pricing"
	"github.com/erp/ordersync/internal/domain/shared"
	"github.com/erp/ordersync/internal/interfaces/http/dto"
	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// RPC paths
const (
	pathOrders       = "/rpc/v1/orders"
	pathAdjustAtomic = "/rpc/v1/stock/adjust-atomic"
	pathAdjust       = "/rpc/v1/stock/adjust"
	pathLevels       = "/rpc/v1/stock/levels"
	pathMermas       = "/rpc/v1/mermas"
	pathPricing      = "/rpc/v1/pricing/groups"
	pathHealth       = "/healthz"
)

// Config holds client settings
type Config struct {
	BaseURL       string
	DeviceID      string
	Timeout       time.Duration
	RetryCount    int
	RetryWaitTime time.Duration
}

// Client talks to the remote store over JSON RPC.
// Every mutating call carries the entry's local id as Idempotency-Key, so
// transport retries never apply a change twice.
type Client struct {
	http   *resty.Client
	logger *zap.Logger
}

var _ offline.RemoteStore = (*Client)(nil)

// NewClient creates a configured client
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		AddRetryCondition(shouldRetry)

	if cfg.RetryWaitTime > 0 {
		client.SetRetryWaitTime(cfg.RetryWaitTime).
			SetRetryMaxWaitTime(4 * cfg.RetryWaitTime)
	}
	if cfg.DeviceID != "" {
		client.SetHeader(dto.DeviceIDHeader, cfg.DeviceID)
	}

	return &Client{http: client, logger: logger}
}

// shouldRetry retries transport failures and server errors, except 501 which is permanent
func shouldRetry(resp *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	if resp == nil {
		return false
	}
	code := resp.StatusCode()
	return code >= http.StatusInternalServerError && code != http.StatusNotImplemented
}

type envelope[T any] struct {
	Success bool       `json:"success"`
	Data    T          `json:"data"`
	Error   *wireError `json:"error"`
}

type wireError struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Details json.RawMessage `json:"details"`
}

// call executes one RPC and decodes the data field of the envelope into T
func call[T any](ctx context.Context, c *Client, op, method, path, idempotencyKey string, body any) (T, error) {
	var zero T
	var ok envelope[T]
	var failed envelope[json.RawMessage]

	req := c.http.R().
		SetContext(ctx).
		SetResult(&ok).
		SetError(&failed)
	if idempotencyKey != "" {
		req.SetHeader(dto.IdempotencyKeyHeader, idempotencyKey)
	}
	if body != nil {
		req.SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		c.logger.Warn("rpc transport failure", zap.String("op", op), zap.Error(err))
		return zero, offline.NewRemoteError(op, 0, err)
	}
	if resp.IsError() {
		mapped := mapError(op, resp.StatusCode(), failed.Error)
		c.logger.Debug("rpc rejected",
			zap.String("op", op),
			zap.Int("status", resp.StatusCode()),
			zap.Error(mapped),
		)
		return zero, mapped
	}
	if !ok.Success {
		return zero, offline.NewRemoteError(op, resp.StatusCode(), errors.New("response envelope not successful"))
	}
	return ok.Data, nil
}

// mapError turns an error response into the offline error taxonomy
func mapError(op string, status int, werr *wireError) error {
	if status == http.StatusNotImplemented {
		return offline.NewCapabilityUnavailableError(capabilityFor(op))
	}
	if status == http.StatusConflict && werr != nil && werr.Code == shared.CodeInsufficientStock {
		return conflictFromDetails(werr.Details)
	}

	cause := fmt.Errorf("status %d", status)
	if werr != nil {
		cause = fmt.Errorf("%s: %s", werr.Code, werr.Message)
	}
	return offline.NewRemoteError(op, status, cause)
}

// conflictFromDetails reports the first product, in id order, that the store could not cover
func conflictFromDetails(raw json.RawMessage) error {
	var details dto.InsufficientStockDetails
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &details)
	}
	if len(details.InsufficientProductIDs) == 0 {
		return offline.NewStockConflictError("", decimal.Zero)
	}
	ids := append([]string(nil), details.InsufficientProductIDs...)
	sort.Strings(ids)
	return offline.NewStockConflictError(ids[0], details.Available[ids[0]])
}

func capabilityFor(op string) string {
	if op == "adjust_stock_atomic" {
		return offline.CapabilityAtomicAdjust
	}
	return op
}

// CreateOrder creates the remote order keyed by req.LocalID
func (c *Client) CreateOrder(ctx context.Context, req offline.CreateOrderRequest) (string, error) {
	out, err := call[dto.CreateOrderResponse](ctx, c, "create_order", http.MethodPost, pathOrders, req.LocalID, req)
	if err != nil {
		return "", err
	}
	return out.OrderID, nil
}

// AdjustStockAtomic applies all deltas in one remote transaction
func (c *Client) AdjustStockAtomic(ctx context.Context, localID string, deltas []offline.StockDelta) error {
	body := dto.AdjustStockAtomicRequest{LocalID: localID, Deltas: deltas}
	_, err := call[json.RawMessage](ctx, c, "adjust_stock_atomic", http.MethodPost, pathAdjustAtomic, localID, body)
	return err
}

// AdjustStock applies a single delta
func (c *Client) AdjustStock(ctx context.Context, localID string, delta offline.StockDelta) error {
	body := dto.AdjustStockRequest{LocalID: localID, Delta: delta}
	_, err := call[json.RawMessage](ctx, c, "adjust_stock", http.MethodPost, pathAdjust, localID, body)
	return err
}

// GetStockLevels reads current server stock. Unknown products come back as zero.
func (c *Client) GetStockLevels(ctx context.Context, productIDs []string) (map[string]decimal.Decimal, error) {
	if len(productIDs) == 0 {
		return map[string]decimal.Decimal{}, nil
	}
	out, err := call[dto.StockLevelsResponse](ctx, c, "get_stock_levels", http.MethodPost, pathLevels, "",
		dto.StockLevelsRequest{ProductIDs: productIDs})
	if err != nil {
		return nil, err
	}
	if out.Levels == nil {
		out.Levels = map[string]decimal.Decimal{}
	}
	return out.Levels, nil
}

// RecordMerma records the write-off keyed by merma.LocalID
func (c *Client) RecordMerma(ctx context.Context, merma *offline.PendingMerma) error {
	_, err := call[json.RawMessage](ctx, c, "record_merma", http.MethodPost, pathMermas, merma.LocalID, merma)
	return err
}

// ListPricingGroups fetches the pricing feed
func (c *Client) ListPricingGroups(ctx context.Context) ([]pricing.PricingGroup, error) {
	out, err := call[dto.PricingGroupsResponse](ctx, c, "list_pricing_groups", http.MethodGet, pathPricing, "", nil)
	if err != nil {
		return nil, err
	}
	groups := make([]pricing.PricingGroup, 0, len(out.Groups))
	for _, g := range out.Groups {
		groups = append(groups, g.ToDomain())
	}
	return groups, nil
}

// Ping checks that the store is reachable
func (c *Client) Ping(ctx context.Context) error {
	_, err := call[dto.HealthResponse](ctx, c, "ping", http.MethodGet, pathHealth, "", nil)
	return err
}
