package fulfillment

import "github.com/shopspring/decimal"

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func line(id, productID int64, qty, remaining string) InvoiceLine {
	return InvoiceLine{
		ID:                id,
		InvoiceID:         1,
		ProductID:         productID,
		UnitID:            1,
		Quantity:          d(qty),
		RemainingQuantity: d(remaining),
		LineOrder:         int(id),
	}
}

func stockOf(levels ...StockLevel) StockSnapshot {
	return NewStockSnapshot(levels)
}

func level(productID, warehouseID int64, qty string) StockLevel {
	return StockLevel{ProductID: productID, WarehouseID: warehouseID, QuantityOnHand: d(qty)}
}

func alloc(productID, warehouseID int64, qty string) Allocation {
	return Allocation{ProductID: productID, WarehouseID: warehouseID, Quantity: d(qty)}
}
