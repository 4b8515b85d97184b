// Package stock computes available-to-promise stock for offline work.
//
// The single formula lives here:
//
//	available(p) = serverStock(p) - sum of p over pending orders not yet synced
//
// Callers never recompute it themselves.
package stock

import (
	"sort"

	"github.com/erp/ordersync/internal/domain/offline"
	"github.com/shopspring/decimal"
)

// Line is a requested quantity of one product
type Line struct {
	ProductID string
	Quantity  decimal.Decimal
}

// LinesFromOrder converts pending order items into ledger lines
func LinesFromOrder(order *offline.PendingOrder) []Line {
	lines := make([]Line, 0, len(order.Items))
	for _, item := range order.Items {
		lines = append(lines, Line{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return lines
}

// Position is the stock of one product at validation time
type Position struct {
	ServerStock       decimal.Decimal `json:"server_stock"`
	ReservedByPending decimal.Decimal `json:"reserved_by_pending"`
	Available         decimal.Decimal `json:"available"`
}

// Snapshot maps product id to its position. It is computed per call and never stored.
type Snapshot map[string]Position

// ValidationResult is the outcome of Validate
type ValidationResult struct {
	Valid      bool
	Shortfalls []offline.Shortfall
}

// Err returns nil when valid, otherwise a *offline.ValidationError listing every shortfall
func (r ValidationResult) Err() error {
	if r.Valid {
		return nil
	}
	return offline.NewShortfallError(r.Shortfalls)
}

// Ledger validates requested quantities against server stock minus pending reservations
type Ledger struct{}

// NewLedger creates a ledger
func NewLedger() *Ledger {
	return &Ledger{}
}

// Reserved sums pending order quantities per product
func (l *Ledger) Reserved(pending []offline.PendingOrder) map[string]decimal.Decimal {
	reserved := make(map[string]decimal.Decimal)
	for i := range pending {
		for _, item := range pending[i].Items {
			reserved[item.ProductID] = reserved[item.ProductID].Add(item.Quantity)
		}
	}
	return reserved
}

// Available returns server stock of productID minus its pending reservations.
// Products missing from serverStock count as zero stock.
func (l *Ledger) Available(productID string, serverStock map[string]decimal.Decimal, pending []offline.PendingOrder) decimal.Decimal {
	reserved := decimal.Zero
	for i := range pending {
		for _, item := range pending[i].Items {
			if item.ProductID == productID {
				reserved = reserved.Add(item.Quantity)
			}
		}
	}
	return serverStock[productID].Sub(reserved)
}

// Snapshot computes positions for productIDs
func (l *Ledger) Snapshot(productIDs []string, serverStock map[string]decimal.Decimal, pending []offline.PendingOrder) Snapshot {
	reserved := l.Reserved(pending)
	snap := make(Snapshot, len(productIDs))
	for _, id := range productIDs {
		server := serverStock[id]
		snap[id] = Position{
			ServerStock:       server,
			ReservedByPending: reserved[id],
			Available:         server.Sub(reserved[id]),
		}
	}
	return snap
}

// Validate checks every requested product against its available quantity.
// Quantities of the same product are summed first. Every offending product is
// reported, sorted by product id, so the caller can surface all problems at once.
func (l *Ledger) Validate(lines []Line, serverStock map[string]decimal.Decimal, pending []offline.PendingOrder) ValidationResult {
	requested := make(map[string]decimal.Decimal, len(lines))
	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		if _, seen := requested[line.ProductID]; !seen {
			ids = append(ids, line.ProductID)
		}
		requested[line.ProductID] = requested[line.ProductID].Add(line.Quantity)
	}

	snap := l.Snapshot(ids, serverStock, pending)

	var shortfalls []offline.Shortfall
	for _, id := range ids {
		if requested[id].GreaterThan(snap[id].Available) {
			shortfalls = append(shortfalls, offline.Shortfall{
				ProductID: id,
				Requested: requested[id],
				Available: snap[id].Available,
			})
		}
	}
	sort.Slice(shortfalls, func(i, j int) bool {
		return shortfalls[i].ProductID < shortfalls[j].ProductID
	})

	return ValidationResult{
		Valid:      len(shortfalls) == 0,
		Shortfalls: shortfalls,
	}
}
