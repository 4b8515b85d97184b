package pricing

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

var (
	// ErrTiersNotIncreasing is returned when two tiers of a group share a
	// minimum quantity or are not ordered ascending.
	ErrTiersNotIncreasing = errors.New("pricing tiers must be strictly increasing in min quantity")

	// ErrInvalidTier is returned for tiers with a non-positive threshold or a negative price.
	ErrInvalidTier = errors.New("pricing tier requires min quantity > 0 and unit price >= 0")
)

// PriceTier is a quantity threshold above which UnitPrice applies
type PriceTier struct {
	MinQuantity decimal.Decimal `json:"min_quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Label       string          `json:"label,omitempty"`
	Active      bool            `json:"active"`
}

// PricingGroup is a set of products sharing wholesale tiers.
// Quantities of every member product in an order count together
// toward the group's tiers.
type PricingGroup struct {
	GroupID    string          `json:"group_id"`
	Name       string          `json:"name"`
	Active     bool            `json:"active"`
	ProductIDs map[string]bool `json:"product_ids"`
	Tiers      []PriceTier     `json:"tiers"`
}

// NewPricingGroup creates an active group. Tiers are sorted ascending by MinQuantity.
func NewPricingGroup(groupID, name string, productIDs []string, tiers []PriceTier) *PricingGroup {
	members := make(map[string]bool, len(productIDs))
	for _, id := range productIDs {
		members[id] = true
	}

	sorted := make([]PriceTier, len(tiers))
	copy(sorted, tiers)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].MinQuantity.LessThan(sorted[j].MinQuantity)
	})

	return &PricingGroup{
		GroupID:    groupID,
		Name:       name,
		Active:     true,
		ProductIDs: members,
		Tiers:      sorted,
	}
}

// Contains reports whether productID is a member of the group
func (g *PricingGroup) Contains(productID string) bool {
	return g.ProductIDs[productID]
}

// Validate checks the tier invariants of the group
func (g *PricingGroup) Validate() error {
	for i, tier := range g.Tiers {
		if !tier.MinQuantity.IsPositive() || tier.UnitPrice.IsNegative() {
			return fmt.Errorf("group %s tier %d: %w", g.GroupID, i, ErrInvalidTier)
		}
		if i > 0 && !tier.MinQuantity.GreaterThan(g.Tiers[i-1].MinQuantity) {
			return fmt.Errorf("group %s tier %d: %w", g.GroupID, i, ErrTiersNotIncreasing)
		}
	}
	return nil
}

// TierFor returns the highest tier whose MinQuantity is <= quantity.
// Tiers are sorted ascending, so we iterate from the end.
func (g *PricingGroup) TierFor(quantity decimal.Decimal) (PriceTier, bool) {
	for i := len(g.Tiers) - 1; i >= 0; i-- {
		if quantity.GreaterThanOrEqual(g.Tiers[i].MinQuantity) {
			return g.Tiers[i], true
		}
	}
	return PriceTier{}, false
}

// activeCopy returns a copy of the group holding only active tiers
func (g *PricingGroup) activeCopy() *PricingGroup {
	members := make(map[string]bool, len(g.ProductIDs))
	for id, ok := range g.ProductIDs {
		if ok {
			members[id] = true
		}
	}
	tiers := make([]PriceTier, 0, len(g.Tiers))
	for _, t := range g.Tiers {
		if t.Active {
			tiers = append(tiers, t)
		}
	}
	sort.SliceStable(tiers, func(i, j int) bool {
		return tiers[i].MinQuantity.LessThan(tiers[j].MinQuantity)
	})
	return &PricingGroup{
		GroupID:    g.GroupID,
		Name:       g.Name,
		Active:     g.Active,
		ProductIDs: members,
		Tiers:      tiers,
	}
}
