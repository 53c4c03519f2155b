package domain

import "github.com/shopspring/decimal"

// CartLineItem is one product (or product variant) in the cart with its requested quantity.
type CartLineItem struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Price         float64  `json:"price"`
	Quantity      int      `json:"quantity"`
	Image         string   `json:"image,omitempty"`
	Category      string   `json:"category,omitempty"`
	Description   string   `json:"description,omitempty"`
	Variation     string   `json:"variation,omitempty"`
	InStock       *bool    `json:"inStock,omitempty"`
	OriginalPrice *float64 `json:"originalPrice,omitempty"`
	Discount      *float64 `json:"discount,omitempty"`
}

// Subtotal is price times quantity.
func (i CartLineItem) Subtotal() decimal.Decimal {
	return decimal.NewFromFloat(i.Price).Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Clone returns a copy that shares no pointers with i.
func (i CartLineItem) Clone() CartLineItem {
	c := i
	if i.InStock != nil {
		v := *i.InStock
		c.InStock = &v
	}
	if i.OriginalPrice != nil {
		v := *i.OriginalPrice
		c.OriginalPrice = &v
	}
	if i.Discount != nil {
		v := *i.Discount
		c.Discount = &v
	}
	return c
}

// CartState is the aggregate held by a cart session. Items keep insertion order.
// Initialized is set once the first load from durable storage has completed,
// whether it succeeded or not.
type CartState struct {
	Items       []CartLineItem
	Initialized bool
}

// IndexOf returns the position of the item with the given id, or -1.
func (s CartState) IndexOf(id string) int {
	for i := range s.Items {
		if s.Items[i].ID == id {
			return i
		}
	}
	return -1
}

// Total is the sum of price * quantity over all items.
func (s CartState) Total() decimal.Decimal {
	total := decimal.Zero
	for _, item := range s.Items {
		total = total.Add(item.Subtotal())
	}
	return total
}

// ItemCount is the sum of quantities over all items.
func (s CartState) ItemCount() int {
	count := 0
	for _, item := range s.Items {
		count += item.Quantity
	}
	return count
}

// Clone returns a deep copy of the state.
func (s CartState) Clone() CartState {
	return CartState{
		Items:       CloneItems(s.Items),
		Initialized: s.Initialized,
	}
}

// CloneItems deep-copies a slice of line items. A nil input yields an empty, non-nil slice.
func CloneItems(items []CartLineItem) []CartLineItem {
	out := make([]CartLineItem, len(items))
	for i, item := range items {
		out[i] = item.Clone()
	}
	return out
}
