package fulfillment

import (
	"sort"

	"github.com/shopspring/decimal"
)

// BuildDemand aggregates invoice lines by product. Products are returned in the
// order they first appear on the invoice; each product's lines keep invoice
// line order so allocations consume them predictably. Lines with no remaining
// quantity are kept out of the line list but the product is still reported.
func BuildDemand(lines []InvoiceLine) []ProductDemand {
	ordered := make([]InvoiceLine, len(lines))
	copy(ordered, lines)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].LineOrder != ordered[j].LineOrder {
			return ordered[i].LineOrder < ordered[j].LineOrder
		}
		return ordered[i].ID < ordered[j].ID
	})

	index := make(map[int64]int)
	var demand []ProductDemand
	for _, line := range ordered {
		pos, ok := index[line.ProductID]
		if !ok {
			pos = len(demand)
			index[line.ProductID] = pos
			demand = append(demand, ProductDemand{ProductID: line.ProductID, Remaining: decimal.Zero})
		}
		if !line.RemainingQuantity.IsPositive() {
			continue
		}
		demand[pos].Remaining = demand[pos].Remaining.Add(line.RemainingQuantity)
		demand[pos].Lines = append(demand[pos].Lines, LineDemand{
			InvoiceLineID: line.ID,
			Remaining:     line.RemainingQuantity,
		})
	}
	return demand
}

// DemandFor looks up a product's demand; the zero value is returned when the
// product is not on the invoice.
func DemandFor(demand []ProductDemand, productID int64) ProductDemand {
	for _, d := range demand {
		if d.ProductID == productID {
			return d
		}
	}
	return ProductDemand{ProductID: productID, Remaining: decimal.Zero}
}
