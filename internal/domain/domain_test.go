package domain

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscountTypeJSON(t *testing.T) {
	var entry CartEntry
	require.NoError(t, json.Unmarshal([]byte(`{"product_id":"p","quantity":1,"discount_type":"percentage","discount_value":"10"}`), &entry))
	assert.Equal(t, DiscountPercentage, entry.DiscountType)

	require.NoError(t, json.Unmarshal([]byte(`{"product_id":"p","quantity":1}`), &entry))
	assert.Equal(t, DiscountNone, entry.DiscountType)

	assert.Error(t, json.Unmarshal([]byte(`{"discount_type":"bogo"}`), &entry))
	assert.Error(t, json.Unmarshal([]byte(`{"discount_type":2}`), &entry))

	out, err := json.Marshal(DiscountFixed)
	require.NoError(t, err)
	assert.JSONEq(t, `"fixed"`, string(out))

	_, err = json.Marshal(DiscountType(9))
	assert.Error(t, err)
}

func TestDiscountTypeScan(t *testing.T) {
	var d DiscountType
	require.NoError(t, d.Scan([]byte("fixed")))
	assert.Equal(t, DiscountFixed, d)
	require.NoError(t, d.Scan(nil))
	assert.Equal(t, DiscountNone, d)
	assert.Error(t, d.Scan(int64(1)))

	v, err := DiscountPercentage.Value()
	require.NoError(t, err)
	assert.Equal(t, "percentage", v)
}

func TestSaleStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to SaleStatus
		ok       bool
	}{
		{SaleCompleted, SalePartiallyRefunded, true},
		{SaleCompleted, SaleRefunded, true},
		{SaleCompleted, SaleVoided, true},
		{SalePartiallyRefunded, SalePartiallyRefunded, true},
		{SalePartiallyRefunded, SaleRefunded, true},
		{SalePartiallyRefunded, SaleCompleted, false},
		{SalePartiallyRefunded, SaleVoided, false},
		{SaleRefunded, SalePartiallyRefunded, false},
		{SaleRefunded, SaleRefunded, false},
		{SaleVoided, SaleRefunded, false},
		{SaleCompleted, SaleCompleted, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.ok, tc.from.CanTransitionTo(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestProportionalAmount(t *testing.T) {
	total := decimal.RequireFromString("10.00")
	assert.Equal(t, "3.33", ProportionalAmount(total, 1, 3).StringFixed(MoneyPlaces))
	assert.Equal(t, "6.67", ProportionalAmount(total, 2, 3).StringFixed(MoneyPlaces))
	assert.Equal(t, "10.00", ProportionalAmount(total, 3, 3).StringFixed(MoneyPlaces))
	assert.True(t, ProportionalAmount(total, 0, 3).IsZero())
	assert.True(t, ProportionalAmount(total, 1, 0).IsZero())
}

func TestSaleHelpers(t *testing.T) {
	sale := &Sale{Lines: []SaleLine{
		{ID: "a", Quantity: 2, RefundedQuantity: 2},
		{ID: "b", Quantity: 1},
	}}
	assert.True(t, sale.HasRefunds())
	assert.False(t, sale.FullyRefunded())

	line, ok := sale.Line("b")
	require.True(t, ok)
	assert.Equal(t, 1, line.RefundableQuantity())

	dup := sale.Clone()
	dup.Lines[1].RefundedQuantity = 1
	assert.True(t, dup.FullyRefunded())
	assert.Equal(t, 0, sale.Lines[1].RefundedQuantity)
}
