package fulfillment

import (
	"sort"

	"github.com/shopspring/decimal"
)

type pairTotal struct {
	productID   int64
	warehouseID int64
	quantity    decimal.Decimal
}

// ProposeAllocation checks user entered per-warehouse quantities against the
// invoice demand and a stock snapshot. Every violation is reported in a single
// *ValidationError. On success the allocation is split per warehouse and per
// invoice line, drawing each product's lines in invoice order.
func ProposeAllocation(demand []ProductDemand, stock StockSnapshot, input []Allocation) (ValidatedAllocation, error) {
	var violations []AllocationError

	// Sum duplicate entries per (product, warehouse), keeping first-seen order.
	pairIndex := make(map[stockKey]int)
	var pairs []pairTotal
	for _, a := range input {
		if a.Quantity.IsNegative() {
			violations = append(violations, AllocationError{
				Kind:        KindNegativeQuantity,
				ProductID:   a.ProductID,
				WarehouseID: a.WarehouseID,
				Requested:   a.Quantity,
			})
			continue
		}
		key := stockKey{productID: a.ProductID, warehouseID: a.WarehouseID}
		pos, ok := pairIndex[key]
		if !ok {
			pos = len(pairs)
			pairIndex[key] = pos
			pairs = append(pairs, pairTotal{productID: a.ProductID, warehouseID: a.WarehouseID})
		}
		pairs[pos].quantity = pairs[pos].quantity.Add(a.Quantity)
	}

	allocated := make(map[int64]decimal.Decimal)
	var productOrder []int64
	for _, p := range pairs {
		if _, seen := allocated[p.productID]; !seen {
			productOrder = append(productOrder, p.productID)
		}
		allocated[p.productID] = allocated[p.productID].Add(p.quantity)

		onHand := stock.OnHand(p.productID, p.warehouseID)
		if p.quantity.GreaterThan(onHand) {
			violations = append(violations, ExceedsStock(p.productID, p.warehouseID, p.quantity, onHand))
		}
	}

	for _, productID := range productOrder {
		remaining := DemandFor(demand, productID).Remaining
		if allocated[productID].GreaterThan(remaining) {
			violations = append(violations, OverAllocated(productID, allocated[productID], remaining))
		}
	}

	anyAllocated := false
	for _, qty := range allocated {
		if qty.IsPositive() {
			anyAllocated = true
			break
		}
	}
	anyRemaining := false
	for _, d := range demand {
		if d.Remaining.IsPositive() {
			anyRemaining = true
			break
		}
	}
	if !anyAllocated && anyRemaining {
		violations = append(violations, NothingAllocated())
	}

	if len(violations) > 0 {
		sortViolations(violations)
		return ValidatedAllocation{}, &ValidationError{Violations: violations}
	}

	return spreadOverLines(demand, pairs), nil
}

// spreadOverLines assigns each (product, warehouse) quantity to the product's
// invoice lines. Callers guarantee the per-product total fits the demand.
func spreadOverLines(demand []ProductDemand, pairs []pairTotal) ValidatedAllocation {
	cursors := make(map[int64][]LineDemand, len(demand))
	for _, d := range demand {
		lines := make([]LineDemand, len(d.Lines))
		copy(lines, d.Lines)
		cursors[d.ProductID] = lines
	}

	result := ValidatedAllocation{Complete: make(map[int64]bool, len(demand))}
	partIndex := make(map[int64]int)
	allocated := make(map[int64]decimal.Decimal)

	for _, p := range pairs {
		if !p.quantity.IsPositive() {
			continue
		}
		pos, ok := partIndex[p.warehouseID]
		if !ok {
			pos = len(result.Partitions)
			partIndex[p.warehouseID] = pos
			result.Partitions = append(result.Partitions, WarehousePartition{WarehouseID: p.warehouseID})
		}
		allocated[p.productID] = allocated[p.productID].Add(p.quantity)

		need := p.quantity
		lines := cursors[p.productID]
		for i := range lines {
			if !need.IsPositive() {
				break
			}
			if !lines[i].Remaining.IsPositive() {
				continue
			}
			take := decimal.Min(need, lines[i].Remaining)
			lines[i].Remaining = lines[i].Remaining.Sub(take)
			need = need.Sub(take)
			result.Partitions[pos].Lines = append(result.Partitions[pos].Lines, AllocatedLine{
				InvoiceLineID: lines[i].InvoiceLineID,
				ProductID:     p.productID,
				Quantity:      take,
			})
		}
	}

	for _, d := range demand {
		result.Complete[d.ProductID] = allocated[d.ProductID].Equal(d.Remaining)
	}
	return result
}

func sortViolations(violations []AllocationError) {
	rank := map[AllocationErrorKind]int{
		KindNegativeQuantity: 0,
		KindExceedsStock:     1,
		KindOverAllocated:    2,
		KindNothingAllocated: 3,
	}
	sort.SliceStable(violations, func(i, j int) bool {
		a, b := violations[i], violations[j]
		if rank[a.Kind] != rank[b.Kind] {
			return rank[a.Kind] < rank[b.Kind]
		}
		if a.ProductID != b.ProductID {
			return a.ProductID < b.ProductID
		}
		return a.WarehouseID < b.WarehouseID
	})
}
