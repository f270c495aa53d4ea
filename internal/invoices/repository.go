package invoices

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/fulfillment/internal/fulfillment"
	"github.com/odyssey-erp/fulfillment/internal/platform/db"
)

// Repository reads sales invoices from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the invoice mutations done while posting documents.
type TxRepository interface {
	ConsumeLine(ctx context.Context, lineID int64, qty decimal.Decimal) error
	ApplyPayment(ctx context.Context, invoiceID int64, amount decimal.Decimal) error
}

type txRepo struct {
	tx pgx.Tx
}

// NewTx binds invoice mutations to an open transaction.
func NewTx(tx pgx.Tx) TxRepository {
	return &txRepo{tx: tx}
}

const invoiceColumns = `id, number, customer_id, currency, status, grand_total, total_paid, balance_due`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInvoice(row rowScanner) (fulfillment.Invoice, error) {
	var inv fulfillment.Invoice
	var rawStatus string
	var grandTotal, totalPaid, balanceDue pgtype.Numeric
	if err := row.Scan(&inv.ID, &inv.Number, &inv.CustomerID, &inv.Currency, &rawStatus, &grandTotal, &totalPaid, &balanceDue); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fulfillment.Invoice{}, ErrNotFound
		}
		return fulfillment.Invoice{}, err
	}
	status, err := fulfillment.ParseInvoiceStatus(rawStatus)
	if err != nil {
		return fulfillment.Invoice{}, err
	}
	inv.RawStatus = status
	inv.GrandTotal = db.Decimal(grandTotal)
	inv.TotalPaid = db.Decimal(totalPaid)
	inv.BalanceDue = db.Decimal(balanceDue)
	return inv, nil
}

// GetInvoice loads the invoice header.
func (r *Repository) GetInvoice(ctx context.Context, id int64) (fulfillment.Invoice, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM sales_invoices WHERE id = $1`, id)
	inv, err := scanInvoice(row)
	if err != nil {
		return fulfillment.Invoice{}, fmt.Errorf("invoices: get %d: %w", id, err)
	}
	return inv, nil
}

// ListInvoiceLines returns the invoice lines in line order.
func (r *Repository) ListInvoiceLines(ctx context.Context, invoiceID int64) ([]fulfillment.InvoiceLine, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, invoice_id, product_id, unit_id, quantity, remaining_quantity, unit_price, line_order
		FROM sales_invoice_lines
		WHERE invoice_id = $1
		ORDER BY line_order, id`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("invoices: list lines: %w", err)
	}
	defer rows.Close()

	var lines []fulfillment.InvoiceLine
	for rows.Next() {
		var line fulfillment.InvoiceLine
		var qty, remaining, price pgtype.Numeric
		if err := rows.Scan(&line.ID, &line.InvoiceID, &line.ProductID, &line.UnitID, &qty, &remaining, &price, &line.LineOrder); err != nil {
			return nil, err
		}
		line.Quantity = db.Decimal(qty)
		line.RemainingQuantity = db.Decimal(remaining)
		line.UnitPrice = db.Decimal(price)
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

// ListOpenInvoiceIDs returns posted invoices whose derived status may still
// change, oldest first.
func (r *Repository) ListOpenInvoiceIDs(ctx context.Context, limit int) ([]int64, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id
		FROM sales_invoices
		WHERE lower(status) NOT IN ('draft', 'cancelled', 'canceled', 'void', 'completed', 'complete')
		ORDER BY id
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("invoices: list open: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *txRepo) ConsumeLine(ctx context.Context, lineID int64, qty decimal.Decimal) error {
	tag, err := r.tx.Exec(ctx, `
		UPDATE sales_invoice_lines
		SET remaining_quantity = remaining_quantity - $2
		WHERE id = $1 AND remaining_quantity >= $2`, lineID, qty)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("line %d: %w", lineID, ErrLineOverdrawn)
	}
	return nil
}

func (r *txRepo) ApplyPayment(ctx context.Context, invoiceID int64, amount decimal.Decimal) error {
	tag, err := r.tx.Exec(ctx, `
		UPDATE sales_invoices
		SET total_paid = total_paid + $2,
		    balance_due = balance_due - $2
		WHERE id = $1 AND balance_due >= $2`, invoiceID, amount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("invoice %d: %w", invoiceID, ErrOverpaid)
	}
	return nil
}
