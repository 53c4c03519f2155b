// Package reducer holds the pure cart state transitions.
//
// Reduce never mutates its input and never fails: malformed quantities and
// prices are clamped to the nearest valid value instead of being rejected.
package reducer

import (
	"github.com/fjod/pharmacy-cart/internal/domain"
)

// Reduce applies action to state and returns the resulting state.
func Reduce(state domain.CartState, action Action) domain.CartState {
	next := state.Clone()

	switch a := action.(type) {
	case Initialize:
		next.Items = make([]domain.CartLineItem, 0, len(a.Items))
		for _, item := range a.Items {
			next.Items = addItem(next.Items, item)
		}
		next.Initialized = true

	case Add:
		next.Items = addItem(next.Items, a.Item)

	case Remove:
		if i := next.IndexOf(a.ID); i >= 0 {
			next.Items = append(next.Items[:i], next.Items[i+1:]...)
		}

	case Clear:
		next.Items = []domain.CartLineItem{}

	case UpdateQuantity:
		if i := next.IndexOf(a.ID); i >= 0 {
			next.Items[i].Quantity = SanitizeQuantity(a.Quantity)
		}

	case Increase:
		if i := next.IndexOf(a.ID); i >= 0 {
			next.Items[i].Quantity += SanitizeQuantity(a.Delta)
		}

	case Decrease:
		if i := next.IndexOf(a.ID); i >= 0 {
			q := next.Items[i].Quantity - SanitizeQuantity(a.Delta)
			if q < 1 {
				q = 1
			}
			next.Items[i].Quantity = q
		}
	}

	return next
}

// SanitizeItem returns a copy of item with quantity and price clamped.
func SanitizeItem(item domain.CartLineItem) domain.CartLineItem {
	c := item.Clone()
	c.Quantity = SanitizeQuantity(float64(item.Quantity))
	c.Price = SanitizePrice(item.Price)
	return c
}

// addItem merges by id. An existing entry keeps all of its fields except quantity.
func addItem(items []domain.CartLineItem, item domain.CartLineItem) []domain.CartLineItem {
	clean := SanitizeItem(item)
	for i := range items {
		if items[i].ID == clean.ID {
			items[i].Quantity += clean.Quantity
			return items
		}
	}
	return append(items, clean)
}
