package fulfillment

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// AttributionMode selects how an invoice amount is split over its deliveries.
type AttributionMode string

const (
	// AttributionLegacy weights each line by its share of the product's
	// delivered quantity and then divides the delivery's sum by the number of
	// posted deliveries. Amounts generally do not add up to the invoice total.
	AttributionLegacy AttributionMode = "legacy"
	// AttributionProportional keeps the quantity weighting only.
	AttributionProportional AttributionMode = "proportional"
)

// ParseAttributionMode validates a configured mode. Empty means legacy.
func ParseAttributionMode(raw string) (AttributionMode, error) {
	switch AttributionMode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", AttributionLegacy:
		return AttributionLegacy, nil
	case AttributionProportional:
		return AttributionProportional, nil
	default:
		return "", fmt.Errorf("fulfillment: unknown attribution mode %q", raw)
	}
}

// AttributeAmounts splits invoiceAmount across deliveries by delivered
// quantity. Only Posted deliveries take part; every other delivery maps to
// zero, as do all deliveries when none is posted. Results keep full decimal
// precision.
func AttributeAmounts(invoiceAmount decimal.Decimal, deliveries []DeliveryDocument, mode AttributionMode) map[int64]decimal.Decimal {
	result := make(map[int64]decimal.Decimal, len(deliveries))
	totalQty := make(map[int64]decimal.Decimal)
	posted := 0
	for _, d := range deliveries {
		result[d.ID] = decimal.Zero
		if d.Status != DocumentPosted {
			continue
		}
		posted++
		for _, line := range d.Lines {
			totalQty[line.ProductID] = totalQty[line.ProductID].Add(line.Quantity)
		}
	}
	if posted == 0 {
		return result
	}

	divisor := decimal.NewFromInt(int64(posted))
	for _, d := range deliveries {
		if d.Status != DocumentPosted {
			continue
		}
		sum := decimal.Zero
		for _, line := range d.Lines {
			total := totalQty[line.ProductID]
			if !total.IsPositive() {
				continue
			}
			sum = sum.Add(invoiceAmount.Mul(line.Quantity).Div(total))
		}
		if mode != AttributionProportional {
			sum = sum.Div(divisor)
		}
		result[d.ID] = sum
	}
	return result
}
