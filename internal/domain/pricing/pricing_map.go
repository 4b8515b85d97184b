package pricing

import (
	"sort"
	"time"
)

// PricingMap indexes active pricing groups by product.
// A map is immutable once built; refreshing pricing data means building a new map.
type PricingMap struct {
	byProduct map[string][]*PricingGroup
	rejected  []RejectedGroup
	builtAt   time.Time
}

// RejectedGroup is an active group left out of the map because its tiers are invalid
type RejectedGroup struct {
	GroupID string
	Err     error
}

// BuildPricingMap builds the index from raw group definitions.
// Inactive groups, inactive tiers and groups left without tiers are dropped here,
// so resolution never has to check activity flags. Groups whose active tiers fail
// Validate are dropped too and listed by Rejected.
func BuildPricingMap(groups []PricingGroup) *PricingMap {
	m := &PricingMap{
		byProduct: make(map[string][]*PricingGroup),
		builtAt:   time.Now(),
	}

	for i := range groups {
		if !groups[i].Active {
			continue
		}
		g := groups[i].activeCopy()
		if len(g.Tiers) == 0 {
			continue
		}
		if err := g.Validate(); err != nil {
			m.rejected = append(m.rejected, RejectedGroup{GroupID: g.GroupID, Err: err})
			continue
		}
		for productID := range g.ProductIDs {
			m.byProduct[productID] = append(m.byProduct[productID], g)
		}
	}

	// Deterministic group order per product
	for productID := range m.byProduct {
		list := m.byProduct[productID]
		sort.Slice(list, func(i, j int) bool {
			return list[i].GroupID < list[j].GroupID
		})
	}

	return m
}

// EmptyPricingMap returns a map with no wholesale groups
func EmptyPricingMap() *PricingMap {
	return &PricingMap{byProduct: map[string][]*PricingGroup{}, builtAt: time.Now()}
}

// GroupsFor returns the active groups containing productID
func (m *PricingMap) GroupsFor(productID string) []*PricingGroup {
	if m == nil {
		return nil
	}
	return m.byProduct[productID]
}

// ProductCount returns how many products have at least one active group
func (m *PricingMap) ProductCount() int {
	if m == nil {
		return 0
	}
	return len(m.byProduct)
}

// Rejected returns the groups dropped for invalid tiers, in feed order
func (m *PricingMap) Rejected() []RejectedGroup {
	if m == nil {
		return nil
	}
	return m.rejected
}

// BuiltAt returns when the map was built
func (m *PricingMap) BuiltAt() time.Time {
	return m.builtAt
}
