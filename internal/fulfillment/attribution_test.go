package fulfillment

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func delivery(id int64, status DocumentStatus, lines ...DeliveryLine) DeliveryDocument {
	return DeliveryDocument{ID: id, InvoiceID: 1, Status: status, Lines: lines}
}

func dline(productID int64, qty string) DeliveryLine {
	return DeliveryLine{InvoiceLineID: productID, ProductID: productID, Quantity: d(qty)}
}

func TestAttributeAmounts_NoPostedDeliveries(t *testing.T) {
	deliveries := []DeliveryDocument{
		delivery(1, DocumentDraft, dline(1, "5")),
		delivery(2, DocumentCancelled, dline(1, "5")),
	}

	for _, mode := range []AttributionMode{AttributionLegacy, AttributionProportional} {
		got := AttributeAmounts(d("100"), deliveries, mode)
		require.Len(t, got, 2)
		for _, amount := range got {
			assert.True(t, amount.IsZero())
		}
	}
	assert.Empty(t, AttributeAmounts(d("100"), nil, AttributionLegacy))
}

func TestAttributeAmounts_SingleProductTwoDeliveries(t *testing.T) {
	deliveries := []DeliveryDocument{
		delivery(1, DocumentPosted, dline(1, "6")),
		delivery(2, DocumentPosted, dline(1, "4")),
		delivery(3, DocumentDraft, dline(1, "9")),
	}

	legacy := AttributeAmounts(d("100"), deliveries, AttributionLegacy)
	assert.True(t, legacy[1].Equal(d("30")), legacy[1].String())
	assert.True(t, legacy[2].Equal(d("20")), legacy[2].String())
	assert.True(t, legacy[3].IsZero())

	proportional := AttributeAmounts(d("100"), deliveries, AttributionProportional)
	assert.True(t, proportional[1].Equal(d("60")))
	assert.True(t, proportional[2].Equal(d("40")))
	assert.True(t, proportional[3].IsZero())
}

func TestAttributeAmounts_LegacyDoesNotConserveWithTwoProducts(t *testing.T) {
	// Each product fully delivered by one document: every line weighs 1.
	deliveries := []DeliveryDocument{
		delivery(1, DocumentPosted, dline(1, "3")),
		delivery(2, DocumentPosted, dline(2, "7")),
	}

	legacy := AttributeAmounts(d("100"), deliveries, AttributionLegacy)
	assert.True(t, legacy[1].Equal(d("50")))
	assert.True(t, legacy[2].Equal(d("50")))

	proportional := AttributeAmounts(d("100"), deliveries, AttributionProportional)
	total := decimal.Zero
	for _, v := range proportional {
		total = total.Add(v)
	}
	assert.True(t, total.Equal(d("200")))
}

func TestAttributeAmounts_SingleDeliveryGetsWholeAmount(t *testing.T) {
	got := AttributeAmounts(d("250.50"), []DeliveryDocument{delivery(9, DocumentPosted, dline(1, "2"), dline(1, "3"))}, AttributionLegacy)
	assert.True(t, got[9].Equal(d("250.50")))
}

func TestParseAttributionMode(t *testing.T) {
	mode, err := ParseAttributionMode("")
	require.NoError(t, err)
	assert.Equal(t, AttributionLegacy, mode)

	mode, err = ParseAttributionMode(" Proportional ")
	require.NoError(t, err)
	assert.Equal(t, AttributionProportional, mode)

	_, err = ParseAttributionMode("fair")
	assert.Error(t, err)
}
