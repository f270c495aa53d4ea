package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/fulfillment/internal/fulfillment"
)

// StockReader returns the stock of one warehouse.
type StockReader interface {
	ListStock(ctx context.Context, warehouseID int64) ([]fulfillment.StockLevel, error)
}

// Snapshot reads each warehouse once and merges the levels. Reads run
// concurrently; the first failure cancels the rest.
func Snapshot(ctx context.Context, reader StockReader, warehouseIDs []int64) (fulfillment.StockSnapshot, error) {
	seen := make(map[int64]struct{}, len(warehouseIDs))
	unique := make([]int64, 0, len(warehouseIDs))
	for _, id := range warehouseIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}

	results := make([][]fulfillment.StockLevel, len(unique))
	g, gctx := errgroup.WithContext(ctx)
	for i, warehouseID := range unique {
		i, warehouseID := i, warehouseID
		g.Go(func() error {
			levels, err := reader.ListStock(gctx, warehouseID)
			if err != nil {
				return fmt.Errorf("inventory: read warehouse %d: %w", warehouseID, err)
			}
			results[i] = levels
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fulfillment.StockSnapshot{}, err
	}

	var all []fulfillment.StockLevel
	for _, levels := range results {
		all = append(all, levels...)
	}
	return fulfillment.NewStockSnapshot(all), nil
}

// EnsureAvailable locks the balance and checks that qty can be drawn from it.
func EnsureAvailable(ctx context.Context, tx TxRepository, warehouseID, productID int64, qty decimal.Decimal) error {
	bal, err := tx.GetBalanceForUpdate(ctx, warehouseID, productID)
	if err != nil && !errors.Is(err, ErrBalanceNotFound) {
		return err
	}
	if bal.Qty.LessThan(qty) {
		return &StockError{WarehouseID: warehouseID, ProductID: productID, OnHand: bal.Qty, Requested: qty}
	}
	return nil
}

// Apply books a movement against the balance, rejecting any change that
// would leave negative stock.
func Apply(ctx context.Context, tx TxRepository, m Movement) (Balance, error) {
	if m.QtyChange.IsZero() {
		return Balance{}, ErrInvalidQuantity
	}
	if m.WarehouseID == 0 || m.ProductID == 0 {
		return Balance{}, errors.New("inventory: warehouse and product required")
	}
	bal, err := tx.GetBalanceForUpdate(ctx, m.WarehouseID, m.ProductID)
	if err != nil && !errors.Is(err, ErrBalanceNotFound) {
		return Balance{}, err
	}
	next := bal.Qty.Add(m.QtyChange)
	if next.IsNegative() {
		return Balance{}, &StockError{WarehouseID: m.WarehouseID, ProductID: m.ProductID, OnHand: bal.Qty, Requested: m.QtyChange.Neg()}
	}
	if m.PostedAt.IsZero() {
		m.PostedAt = time.Now().UTC()
	}
	bal.Qty = next
	bal.UpdatedAt = m.PostedAt
	if err := tx.UpsertBalance(ctx, bal); err != nil {
		return Balance{}, err
	}
	if err := tx.InsertMovement(ctx, m); err != nil {
		return Balance{}, err
	}
	return bal, nil
}
