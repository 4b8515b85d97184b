// Package gateway commits queued orders and mermas against the remote store.
//
// AtomicGateway mutates stock in one remote transaction. SequentialGateway is the
// fallback for stores without that capability and adjusts stock item by item.
// Negotiator picks between them.
package gateway

import (
	"errors"
	"sort"

	"github.com/erp/ordersync/internal/domain/offline"
)

// orderDeltas returns one negative delta per product, sorted by product id
func orderDeltas(order *offline.PendingOrder) []offline.StockDelta {
	quantities := order.QuantitiesByProduct()
	deltas := make([]offline.StockDelta, 0, len(quantities))
	for productID, qty := range quantities {
		deltas = append(deltas, offline.StockDelta{ProductID: productID, Delta: qty.Neg()})
	}
	sort.Slice(deltas, func(i, j int) bool {
		return deltas[i].ProductID < deltas[j].ProductID
	})
	return deltas
}

func mermaDelta(merma *offline.PendingMerma) offline.StockDelta {
	return offline.StockDelta{ProductID: merma.ProductID, Delta: merma.Quantity.Neg()}
}

// normalize keeps taxonomy errors and wraps anything else as a retryable remote error
func normalize(op string, err error) error {
	if err == nil {
		return nil
	}
	var (
		conflict  *offline.StockConflictError
		remoteErr *offline.RemoteError
		capErr    *offline.CapabilityUnavailableError
	)
	if errors.As(err, &conflict) || errors.As(err, &remoteErr) || errors.As(err, &capErr) {
		return err
	}
	return offline.NewRemoteError(op, 0, err)
}

// afterStock normalizes a failure that happened once the stock change was confirmed
func afterStock(op string, err error) error {
	err = normalize(op, err)
	var remoteErr *offline.RemoteError
	if errors.As(err, &remoteErr) {
		return remoteErr.WithStockApplied()
	}
	return err
}

func productIDs(deltas []offline.StockDelta) []string {
	ids := make([]string, len(deltas))
	for i, d := range deltas {
		ids[i] = d.ProductID
	}
	return ids
}
