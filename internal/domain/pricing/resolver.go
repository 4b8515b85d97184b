package pricing

import (
	"github.com/shopspring/decimal"
)

// OrderLine is one requested product line before pricing
type OrderLine struct {
	ProductID string          `json:"product_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	ListPrice decimal.Decimal `json:"list_price"`
}

// ResolvedPrice is the effective unit price for one product of an order
type ResolvedPrice struct {
	ProductID          string          `json:"product_id"`
	UnitPrice          decimal.Decimal `json:"unit_price"`
	ListPrice          decimal.Decimal `json:"list_price"`
	Wholesale          bool            `json:"wholesale"`
	GroupID            string          `json:"group_id,omitempty"`
	TierLabel          string          `json:"tier_label,omitempty"`
	QualifyingQuantity decimal.Decimal `json:"qualifying_quantity"`
}

// PricedLine is an order line with its resolved unit price applied
type PricedLine struct {
	ProductID string          `json:"product_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineTotal decimal.Decimal `json:"line_total"`
	Wholesale bool            `json:"wholesale"`
}

// Resolve computes the effective unit price of every product in lines.
//
// For each group, the qualifying quantity is the sum of all line quantities whose
// product belongs to the group. The group's highest tier with MinQuantity <= that sum
// applies to every member product. When a product qualifies in several groups the
// lowest unit price wins, ties going to the smallest group id. A tier never raises a
// price above the product's list price.
//
// Resolve is pure: the same lines and map always give the same result.
func Resolve(lines []OrderLine, m *PricingMap) map[string]ResolvedPrice {
	listPrices := make(map[string]decimal.Decimal, len(lines))
	for _, line := range lines {
		if _, seen := listPrices[line.ProductID]; !seen {
			listPrices[line.ProductID] = line.ListPrice
		}
	}

	groupQty := aggregateByGroup(lines, m)

	result := make(map[string]ResolvedPrice, len(listPrices))
	for productID, listPrice := range listPrices {
		best := ResolvedPrice{
			ProductID:          productID,
			UnitPrice:          listPrice,
			ListPrice:          listPrice,
			QualifyingQuantity: decimal.Zero,
		}

		for _, g := range m.GroupsFor(productID) {
			qty := groupQty[g.GroupID]
			tier, ok := g.TierFor(qty)
			if !ok || tier.UnitPrice.GreaterThan(listPrice) {
				continue
			}
			if best.Wholesale {
				if tier.UnitPrice.GreaterThan(best.UnitPrice) {
					continue
				}
				if tier.UnitPrice.Equal(best.UnitPrice) && g.GroupID >= best.GroupID {
					continue
				}
			}
			best.UnitPrice = tier.UnitPrice
			best.Wholesale = true
			best.GroupID = g.GroupID
			best.TierLabel = tier.Label
			best.QualifyingQuantity = qty
		}

		result[productID] = best
	}

	return result
}

// PriceLines resolves prices and applies them to each line.
// Lines with a non-positive quantity are dropped. The returned total is the sum
// of line totals.
func PriceLines(lines []OrderLine, m *PricingMap) ([]PricedLine, decimal.Decimal) {
	resolved := Resolve(lines, m)

	priced := make([]PricedLine, 0, len(lines))
	total := decimal.Zero
	for _, line := range lines {
		if !line.Quantity.IsPositive() {
			continue
		}
		rp := resolved[line.ProductID]
		lineTotal := rp.UnitPrice.Mul(line.Quantity)
		priced = append(priced, PricedLine{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			UnitPrice: rp.UnitPrice,
			LineTotal: lineTotal,
			Wholesale: rp.Wholesale,
		})
		total = total.Add(lineTotal)
	}
	return priced, total
}

// aggregateByGroup sums positive line quantities per group id
func aggregateByGroup(lines []OrderLine, m *PricingMap) map[string]decimal.Decimal {
	sums := make(map[string]decimal.Decimal)
	for _, line := range lines {
		if !line.Quantity.IsPositive() {
			continue
		}
		for _, g := range m.GroupsFor(line.ProductID) {
			sums[g.GroupID] = sums[g.GroupID].Add(line.Quantity)
		}
	}
	return sums
}
