package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/fulfillment/internal/fulfillment"
	"github.com/odyssey-erp/fulfillment/internal/platform/db"
)

// Repository persists inventory data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations. Other repositories obtain
// one with NewTx to move stock inside their own transaction.
type TxRepository interface {
	GetBalanceForUpdate(ctx context.Context, warehouseID, productID int64) (Balance, error)
	UpsertBalance(ctx context.Context, balance Balance) error
	InsertMovement(ctx context.Context, m Movement) error
}

type txRepo struct {
	tx pgx.Tx
}

// NewTx binds inventory operations to an open transaction.
func NewTx(tx pgx.Tx) TxRepository {
	return &txRepo{tx: tx}
}

// WithTx executes the callback inside repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTx(tx))
	})
}

// ListStock returns the quantity on hand of every product in the warehouse.
func (r *Repository) ListStock(ctx context.Context, warehouseID int64) ([]fulfillment.StockLevel, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT product_id, qty
		FROM inventory_balances
		WHERE warehouse_id = $1
		ORDER BY product_id`, warehouseID)
	if err != nil {
		return nil, fmt.Errorf("inventory: list stock: %w", err)
	}
	defer rows.Close()

	var levels []fulfillment.StockLevel
	for rows.Next() {
		var productID int64
		var qty pgtype.Numeric
		if err := rows.Scan(&productID, &qty); err != nil {
			return nil, err
		}
		levels = append(levels, fulfillment.StockLevel{
			ProductID:      productID,
			WarehouseID:    warehouseID,
			QuantityOnHand: db.Decimal(qty),
		})
	}
	return levels, rows.Err()
}

func (r *txRepo) GetBalanceForUpdate(ctx context.Context, warehouseID, productID int64) (Balance, error) {
	var qty pgtype.Numeric
	var updatedAt pgtype.Timestamptz
	err := r.tx.QueryRow(ctx, `
		SELECT qty, updated_at
		FROM inventory_balances
		WHERE warehouse_id = $1 AND product_id = $2
		FOR UPDATE`, warehouseID, productID).Scan(&qty, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Balance{WarehouseID: warehouseID, ProductID: productID}, ErrBalanceNotFound
		}
		return Balance{}, err
	}
	return Balance{
		WarehouseID: warehouseID,
		ProductID:   productID,
		Qty:         db.Decimal(qty),
		UpdatedAt:   updatedAt.Time,
	}, nil
}

func (r *txRepo) UpsertBalance(ctx context.Context, balance Balance) error {
	_, err := r.tx.Exec(ctx, `
		INSERT INTO inventory_balances (warehouse_id, product_id, qty, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (warehouse_id, product_id)
		DO UPDATE SET qty = EXCLUDED.qty, updated_at = NOW()`,
		balance.WarehouseID, balance.ProductID, balance.Qty)
	return err
}

func (r *txRepo) InsertMovement(ctx context.Context, m Movement) error {
	_, err := r.tx.Exec(ctx, `
		INSERT INTO inventory_movements (
			movement_type, warehouse_id, product_id, qty_change, ref_module, ref_id, note, posted_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		string(m.Type), m.WarehouseID, m.ProductID, m.QtyChange,
		m.RefModule, pgtype.Int8{Int64: m.RefID, Valid: m.RefID != 0}, m.Note, m.PostedAt)
	return err
}
