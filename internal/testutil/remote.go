package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/erp/ordersync/internal/domain/offline"
	"github.com/erp/ordersync/internal/domain/pricing"
	"github.com/shopspring/decimal"
)

// Remote store operation names, as passed to failure hooks
const (
	OpCreateOrder       = "create_order"
	OpAdjustStockAtomic = "adjust_stock_atomic"
	OpAdjustStock       = "adjust_stock"
	OpGetStockLevels    = "get_stock_levels"
	OpRecordMerma       = "record_merma"
	OpListPricingGroups = "list_pricing_groups"
	OpPing              = "ping"
)

// FakeRemoteStore is an in-memory offline.RemoteStore with the same idempotency
// rules as the reference store: stock movements are keyed by (local id, product id),
// orders and mermas by local id.
type FakeRemoteStore struct {
	mu sync.Mutex

	stock    map[string]decimal.Decimal
	applied  map[string]bool
	orders   map[string]offline.CreateOrderRequest
	orderIDs map[string]string
	mermas   map[string]offline.PendingMerma
	groups   []pricing.PricingGroup
	calls    map[string]int
	nextID   int

	atomicUnavailable bool
	offline           bool
	failNext          map[string]error
	failProduct       map[string]error
	failLocalID       map[string]error

	// BeforeCall runs outside the lock before every operation
	BeforeCall func(ctx context.Context, op string)
}

var _ offline.RemoteStore = (*FakeRemoteStore)(nil)

// NewFakeRemoteStore creates an empty fake
func NewFakeRemoteStore() *FakeRemoteStore {
	return &FakeRemoteStore{
		stock:       make(map[string]decimal.Decimal),
		applied:     make(map[string]bool),
		orders:      make(map[string]offline.CreateOrderRequest),
		orderIDs:    make(map[string]string),
		mermas:      make(map[string]offline.PendingMerma),
		calls:       make(map[string]int),
		failNext:    make(map[string]error),
		failProduct: make(map[string]error),
		failLocalID: make(map[string]error),
	}
}

// SetStock sets the server stock of a product
func (f *FakeRemoteStore) SetStock(productID string, qty decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stock[productID] = qty
}

// Stock returns the server stock of a product
func (f *FakeRemoteStore) Stock(productID string) decimal.Decimal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stock[productID]
}

// SetGroups replaces the pricing feed
func (f *FakeRemoteStore) SetGroups(groups ...pricing.PricingGroup) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.groups = groups
}

// SetAtomicUnavailable makes AdjustStockAtomic report a missing capability
func (f *FakeRemoteStore) SetAtomicUnavailable(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.atomicUnavailable = v
}

// SetOffline makes every call fail with a transport error
func (f *FakeRemoteStore) SetOffline(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offline = v
}

// FailNext makes the next call of op return err
func (f *FakeRemoteStore) FailNext(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNext[op] = err
}

// FailAdjustFor makes every single-product adjustment of productID return err
func (f *FakeRemoteStore) FailAdjustFor(productID string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.failProduct, productID)
		return
	}
	f.failProduct[productID] = err
}

// FailLocalID makes every mutating call keyed by localID return err. A nil err clears it.
func (f *FakeRemoteStore) FailLocalID(localID string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.failLocalID, localID)
		return
	}
	f.failLocalID[localID] = err
}

// Calls returns how many times op was invoked
func (f *FakeRemoteStore) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// Orders returns the created orders sorted by local id
func (f *FakeRemoteStore) Orders() []offline.CreateOrderRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]offline.CreateOrderRequest, 0, len(f.orders))
	for _, o := range f.orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LocalID < out[j].LocalID })
	return out
}

// Order returns the order created for localID
func (f *FakeRemoteStore) Order(localID string) (offline.CreateOrderRequest, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[localID]
	return o, ok
}

// Mermas returns how many mermas were recorded
func (f *FakeRemoteStore) Mermas() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.mermas)
}

// enter counts the call and returns any injected failure
func (f *FakeRemoteStore) enter(ctx context.Context, op string) error {
	if f.BeforeCall != nil {
		f.BeforeCall(ctx, op)
	}
	if err := ctx.Err(); err != nil {
		return offline.NewRemoteError(op, 0, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	if f.offline {
		return offline.NewRemoteError(op, 0, fmt.Errorf("connection refused"))
	}
	if err, ok := f.failNext[op]; ok {
		delete(f.failNext, op)
		return err
	}
	return nil
}

// CreateOrder records the order once per local id
func (f *FakeRemoteStore) CreateOrder(ctx context.Context, req offline.CreateOrderRequest) (string, error) {
	if err := f.enter(ctx, OpCreateOrder); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failLocalID[req.LocalID]; ok {
		return "", err
	}
	if id, ok := f.orderIDs[req.LocalID]; ok {
		return id, nil
	}
	f.nextID++
	id := fmt.Sprintf("remote-%d", f.nextID)
	f.orders[req.LocalID] = req
	f.orderIDs[req.LocalID] = id
	return id, nil
}

// AdjustStockAtomic applies every delta or none
func (f *FakeRemoteStore) AdjustStockAtomic(ctx context.Context, localID string, deltas []offline.StockDelta) error {
	if err := f.enter(ctx, OpAdjustStockAtomic); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.atomicUnavailable {
		return offline.NewCapabilityUnavailableError(offline.CapabilityAtomicAdjust)
	}
	if err, ok := f.failLocalID[localID]; ok {
		return err
	}

	pending := make([]offline.StockDelta, 0, len(deltas))
	for _, d := range deltas {
		if f.applied[movementKey(localID, d.ProductID)] {
			continue
		}
		if f.stock[d.ProductID].Add(d.Delta).IsNegative() {
			return offline.NewStockConflictError(d.ProductID, f.stock[d.ProductID])
		}
		pending = append(pending, d)
	}
	for _, d := range pending {
		f.stock[d.ProductID] = f.stock[d.ProductID].Add(d.Delta)
		f.applied[movementKey(localID, d.ProductID)] = true
	}
	return nil
}

// AdjustStock applies one delta
func (f *FakeRemoteStore) AdjustStock(ctx context.Context, localID string, delta offline.StockDelta) error {
	if err := f.enter(ctx, OpAdjustStock); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failProduct[delta.ProductID]; ok {
		return err
	}
	if err, ok := f.failLocalID[localID]; ok {
		return err
	}
	key := movementKey(localID, delta.ProductID)
	if f.applied[key] {
		return nil
	}
	if f.stock[delta.ProductID].Add(delta.Delta).IsNegative() {
		return offline.NewStockConflictError(delta.ProductID, f.stock[delta.ProductID])
	}
	f.stock[delta.ProductID] = f.stock[delta.ProductID].Add(delta.Delta)
	f.applied[key] = true
	return nil
}

// GetStockLevels returns stock per product, zero when unknown
func (f *FakeRemoteStore) GetStockLevels(ctx context.Context, productIDs []string) (map[string]decimal.Decimal, error) {
	if err := f.enter(ctx, OpGetStockLevels); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]decimal.Decimal, len(productIDs))
	for _, id := range productIDs {
		out[id] = f.stock[id]
	}
	return out, nil
}

// RecordMerma records the merma once per local id
func (f *FakeRemoteStore) RecordMerma(ctx context.Context, merma *offline.PendingMerma) error {
	if err := f.enter(ctx, OpRecordMerma); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failLocalID[merma.LocalID]; ok {
		return err
	}
	if _, ok := f.mermas[merma.LocalID]; !ok {
		f.mermas[merma.LocalID] = *merma
	}
	return nil
}

// ListPricingGroups returns the configured feed
func (f *FakeRemoteStore) ListPricingGroups(ctx context.Context) ([]pricing.PricingGroup, error) {
	if err := f.enter(ctx, OpListPricingGroups); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]pricing.PricingGroup, len(f.groups))
	copy(out, f.groups)
	return out, nil
}

// Ping fails only when offline
func (f *FakeRemoteStore) Ping(ctx context.Context) error {
	return f.enter(ctx, OpPing)
}

func movementKey(localID, productID string) string {
	return localID + "|" + productID
}
