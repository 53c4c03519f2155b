package persistence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fjod/pharmacy-cart/internal/domain"
)

func TestEncode_NilIsEmptyList(t *testing.T) {
	data, err := Encode(nil)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(data))
}

func TestEncode_OmitsAbsentOptionalFields(t *testing.T) {
	data, err := Encode([]domain.CartLineItem{{ID: "A", Name: "Aspirin", Price: 4.5, Quantity: 2}})
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":"A","name":"Aspirin","price":4.5,"quantity":2}]`, string(data))
}

func TestDecode_RoundTrip(t *testing.T) {
	inStock := true
	original := 12.0
	items := []domain.CartLineItem{
		{ID: "A", Name: "Aspirin", Price: 4.5, Quantity: 2, Category: "pain", InStock: &inStock},
		{ID: "B", Name: "Bandage", Price: 9.99, Quantity: 1, OriginalPrice: &original, Variation: "large"},
	}

	data, err := Encode(items)
	require.NoError(t, err)
	got, dropped, err := Decode(data)
	require.NoError(t, err)

	assert.Zero(t, dropped)
	assert.Equal(t, items, got)
}

func TestDecode_SanitizesOnLoad(t *testing.T) {
	got, dropped, err := Decode([]byte(`[
		{"id":"A","name":"Aspirin","price":-3,"quantity":0},
		{"id":"B","name":"Bandage","price":2,"quantity":"4"},
		{"id":"C","name":"Cream","price":2,"quantity":2.7},
		{"id":"D","name":"Drops","price":2}
	]`))
	require.NoError(t, err)
	assert.Zero(t, dropped)
	require.Len(t, got, 4)

	assert.Equal(t, 0.0, got[0].Price)
	assert.Equal(t, 1, got[0].Quantity)
	assert.Equal(t, 4, got[1].Quantity)
	assert.Equal(t, 2, got[2].Quantity)
	assert.Equal(t, 1, got[3].Quantity)
}

func TestDecode_DropsMalformedEntries(t *testing.T) {
	got, dropped, err := Decode([]byte(`[
		{"id":"A","name":"Aspirin","price":4.5,"quantity":1},
		{"id":"B","name":"Bandage","quantity":1},
		{"id":7,"name":"Cream","price":1},
		{"id":"D","name":null,"price":1},
		{"id":"E","name":"Eye drops","price":"3"},
		"not an object",
		null,
		42
	]`))
	require.NoError(t, err)

	assert.Equal(t, 7, dropped)
	require.Len(t, got, 1)
	assert.Equal(t, "A", got[0].ID)
}

func TestDecode_IgnoresMistypedOptionalFields(t *testing.T) {
	got, dropped, err := Decode([]byte(`[
		{"id":"A","name":"Aspirin","price":4.5,"image":5,"inStock":"yes","discount":"ten"}
	]`))
	require.NoError(t, err)
	assert.Zero(t, dropped)
	require.Len(t, got, 1)

	assert.Empty(t, got[0].Image)
	assert.Nil(t, got[0].InStock)
	assert.Nil(t, got[0].Discount)
}

func TestDecode_CorruptValues(t *testing.T) {
	cases := map[string]string{
		"not json": `{{{`,
		"object":   `{"id":"A"}`,
		"string":   `"cart"`,
		"null":     `null`,
		"empty":    ``,
	}
	for name, value := range cases {
		t.Run(name, func(t *testing.T) {
			got, _, err := Decode([]byte(value))
			assert.ErrorIs(t, err, ErrCorrupt)
			assert.Nil(t, got)
		})
	}
}

func TestDecode_EmptyList(t *testing.T) {
	got, dropped, err := Decode([]byte(`[]`))
	require.NoError(t, err)
	assert.Zero(t, dropped)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}
