package fulfillment

import "github.com/shopspring/decimal"

type stockKey struct {
	productID   int64
	warehouseID int64
}

// StockSnapshot is a point-in-time view of quantity on hand per product and
// warehouse. It is never locked against the store; callers re-read it before
// submitting.
type StockSnapshot struct {
	levels map[stockKey]decimal.Decimal
}

// NewStockSnapshot indexes stock levels. Duplicate rows for the same pair are
// summed.
func NewStockSnapshot(levels []StockLevel) StockSnapshot {
	snap := StockSnapshot{levels: make(map[stockKey]decimal.Decimal, len(levels))}
	for _, lvl := range levels {
		key := stockKey{productID: lvl.ProductID, warehouseID: lvl.WarehouseID}
		snap.levels[key] = snap.levels[key].Add(lvl.QuantityOnHand)
	}
	return snap
}

// OnHand returns the quantity on hand, zero for unknown pairs.
func (s StockSnapshot) OnHand(productID, warehouseID int64) decimal.Decimal {
	if s.levels == nil {
		return decimal.Zero
	}
	return s.levels[stockKey{productID: productID, warehouseID: warehouseID}]
}

// Levels returns the snapshot as a flat list.
func (s StockSnapshot) Levels() []StockLevel {
	out := make([]StockLevel, 0, len(s.levels))
	for key, qty := range s.levels {
		out = append(out, StockLevel{ProductID: key.productID, WarehouseID: key.warehouseID, QuantityOnHand: qty})
	}
	return out
}
