package persistence

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fjod/pharmacy-cart/internal/domain"
	"github.com/fjod/pharmacy-cart/internal/reducer"
)

// ErrCorrupt marks a stored value that is not a JSON list of records.
var ErrCorrupt = errors.New("stored cart is not a list")

// Encode serializes items in the durable wire format.
func Encode(items []domain.CartLineItem) ([]byte, error) {
	if items == nil {
		items = []domain.CartLineItem{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("marshal cart failed: %w", err)
	}
	return data, nil
}

// Decode parses a stored value. The value as a whole must be a JSON array,
// otherwise ErrCorrupt is returned. Individual entries without a string id,
// a string name and a numeric price are dropped; the rest are sanitized.
// The second return value is the number of dropped entries.
func Decode(data []byte) ([]domain.CartLineItem, int, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if raw == nil {
		return nil, 0, ErrCorrupt
	}

	items := make([]domain.CartLineItem, 0, len(raw))
	dropped := 0
	for _, entry := range raw {
		item, ok := decodeItem(entry)
		if !ok {
			dropped++
			continue
		}
		items = append(items, reducer.SanitizeItem(item))
	}
	return items, dropped, nil
}

func decodeItem(entry json.RawMessage) (domain.CartLineItem, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(entry, &fields); err != nil || fields == nil {
		return domain.CartLineItem{}, false
	}

	id, okID := stringField(fields, "id")
	name, okName := stringField(fields, "name")
	price, okPrice := numberField(fields, "price")
	if !okID || !okName || !okPrice {
		return domain.CartLineItem{}, false
	}

	item := domain.CartLineItem{
		ID:       id,
		Name:     name,
		Price:    price,
		Quantity: 1,
	}
	if q, ok := fields["quantity"]; ok {
		var n domain.Number
		if err := json.Unmarshal(q, &n); err == nil {
			item.Quantity = reducer.SanitizeQuantity(n.Float64())
		}
	}
	item.Image, _ = stringField(fields, "image")
	item.Category, _ = stringField(fields, "category")
	item.Description, _ = stringField(fields, "description")
	item.Variation, _ = stringField(fields, "variation")
	if v, ok := boolField(fields, "inStock"); ok {
		item.InStock = &v
	}
	if v, ok := numberField(fields, "originalPrice"); ok {
		item.OriginalPrice = &v
	}
	if v, ok := numberField(fields, "discount"); ok {
		item.Discount = &v
	}
	return item, true
}

func stringField(fields map[string]json.RawMessage, name string) (string, bool) {
	raw, ok := fields[name]
	if !ok || isNull(raw) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

func numberField(fields map[string]json.RawMessage, name string) (float64, bool) {
	raw, ok := fields[name]
	if !ok || isNull(raw) {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, false
	}
	return f, true
}

func boolField(fields map[string]json.RawMessage, name string) (bool, bool) {
	raw, ok := fields[name]
	if !ok || isNull(raw) {
		return false, false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err != nil {
		return false, false
	}
	return b, true
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
