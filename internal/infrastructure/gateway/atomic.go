package gateway

import (
	"context"

	"github.com/erp/ordersync/internal/domain/offline"
)

// AtomicGateway decrements all stock of a commit in a single remote transaction,
// then creates the remote record. Both calls are keyed by the local id, so a
// commit interrupted between them is completed by the next attempt.
type AtomicGateway struct {
	remote offline.RemoteStore
}

var _ offline.StockGateway = (*AtomicGateway)(nil)

// NewAtomicGateway creates the gateway
func NewAtomicGateway(remote offline.RemoteStore) *AtomicGateway {
	return &AtomicGateway{remote: remote}
}

// CommitOrder adjusts stock for every item at once and creates the order
func (g *AtomicGateway) CommitOrder(ctx context.Context, order *offline.PendingOrder) (offline.CommitReceipt, error) {
	if err := g.remote.AdjustStockAtomic(ctx, order.LocalID, orderDeltas(order)); err != nil {
		return offline.CommitReceipt{}, normalize("adjust_stock_atomic", err)
	}
	id, err := g.remote.CreateOrder(ctx, offline.NewCreateOrderRequest(order))
	if err != nil {
		return offline.CommitReceipt{}, afterStock("create_order", err)
	}
	return offline.CommitReceipt{RemoteOrderID: id, Path: offline.CommitPathAtomic}, nil
}

// CommitMerma decrements stock for the write-off and records it
func (g *AtomicGateway) CommitMerma(ctx context.Context, merma *offline.PendingMerma) (offline.CommitReceipt, error) {
	if err := g.remote.AdjustStockAtomic(ctx, merma.LocalID, []offline.StockDelta{mermaDelta(merma)}); err != nil {
		return offline.CommitReceipt{}, normalize("adjust_stock_atomic", err)
	}
	if err := g.remote.RecordMerma(ctx, merma); err != nil {
		return offline.CommitReceipt{}, afterStock("record_merma", err)
	}
	return offline.CommitReceipt{Path: offline.CommitPathAtomic}, nil
}
