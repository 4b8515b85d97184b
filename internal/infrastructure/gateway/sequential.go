package gateway

import (
	"context"
	"errors"

	"github.com/erp/ordersync/internal/domain/offline"
	"go.uber.org/zap"
)

// SequentialGateway adjusts stock one product at a time. It is not atomic: a
// failure after the first adjustment leaves earlier products decremented. Each
// adjustment is keyed by (local id, product id) on the store, so a retry only
// applies what is still missing.
type SequentialGateway struct {
	remote offline.RemoteStore
	logger *zap.Logger
}

var _ offline.StockGateway = (*SequentialGateway)(nil)

// NewSequentialGateway creates the fallback gateway
func NewSequentialGateway(remote offline.RemoteStore, logger *zap.Logger) *SequentialGateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SequentialGateway{remote: remote, logger: logger}
}

// CommitOrder adjusts stock per product, then creates the order
func (g *SequentialGateway) CommitOrder(ctx context.Context, order *offline.PendingOrder) (offline.CommitReceipt, error) {
	if err := g.adjustAll(ctx, order.LocalID, orderDeltas(order)); err != nil {
		return offline.CommitReceipt{}, err
	}
	id, err := g.remote.CreateOrder(ctx, offline.NewCreateOrderRequest(order))
	if err != nil {
		return offline.CommitReceipt{}, afterStock("create_order", err)
	}
	return offline.CommitReceipt{RemoteOrderID: id, Path: offline.CommitPathSequentialFallback}, nil
}

// CommitMerma adjusts stock for the write-off and records it
func (g *SequentialGateway) CommitMerma(ctx context.Context, merma *offline.PendingMerma) (offline.CommitReceipt, error) {
	if err := g.adjustAll(ctx, merma.LocalID, []offline.StockDelta{mermaDelta(merma)}); err != nil {
		return offline.CommitReceipt{}, err
	}
	if err := g.remote.RecordMerma(ctx, merma); err != nil {
		return offline.CommitReceipt{}, afterStock("record_merma", err)
	}
	return offline.CommitReceipt{Path: offline.CommitPathSequentialFallback}, nil
}

func (g *SequentialGateway) adjustAll(ctx context.Context, localID string, deltas []offline.StockDelta) error {
	for i, delta := range deltas {
		err := g.remote.AdjustStock(ctx, localID, delta)
		if err == nil {
			continue
		}
		err = normalize("adjust_stock", err)
		if i == 0 {
			return err
		}

		applied := deltas[:i]
		g.logger.Error("manual stock reconciliation required",
			zap.String("local_id", localID),
			zap.Strings("applied_product_ids", productIDs(applied)),
			zap.String("failed_product_id", delta.ProductID),
			zap.String("stock_path", string(offline.CommitPathSequentialFallback)),
			zap.Error(err),
		)
		return partial(err)
	}
	return nil
}

// partial reports a mid-sequence failure as a retryable remote error flagged PartialApplied
func partial(err error) *offline.RemoteError {
	var remoteErr *offline.RemoteError
	if errors.As(err, &remoteErr) {
		remoteErr.PartialApplied = true
		return remoteErr
	}
	wrapped := offline.NewRemoteError("adjust_stock", 0, err)
	wrapped.PartialApplied = true
	return wrapped
}
