package receipts

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/fulfillment/internal/fulfillment"
	"github.com/odyssey-erp/fulfillment/internal/invoices"
	"github.com/odyssey-erp/fulfillment/internal/platform/db"
	"github.com/odyssey-erp/fulfillment/internal/shared"
)

// Repository persists receipts in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const receiptColumns = `id, number, invoice_id, amount, status, paid_at, COALESCE(method, ''), COALESCE(note, '')`

// CreateReceipt inserts a draft receipt and its single allocation.
func (r *Repository) CreateReceipt(ctx context.Context, receipt fulfillment.Receipt, createdBy int64) (int64, error) {
	var id int64
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO receipts (number, invoice_id, amount, status, paid_at, method, note, created_by, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8, NOW(), NOW())
			RETURNING id`,
			receipt.Number, receipt.InvoiceID, receipt.Amount, string(fulfillment.DocumentDraft),
			receipt.PaidAt, receipt.Method, receipt.Note, createdBy,
		).Scan(&id)
		if err != nil {
			return fmt.Errorf("insert receipt: %w", err)
		}
		for _, alloc := range receipt.Allocations {
			if _, err := tx.Exec(ctx, `
				INSERT INTO receipt_allocations (receipt_id, invoice_id, allocated_amount)
				VALUES ($1, $2, $3)`, id, alloc.InvoiceID, alloc.AllocatedAmount); err != nil {
				return fmt.Errorf("insert receipt allocation: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// GetReceipt loads one receipt with its allocations.
func (r *Repository) GetReceipt(ctx context.Context, id int64) (fulfillment.Receipt, error) {
	receipt, err := scanReceipt(r.pool.QueryRow(ctx, `SELECT `+receiptColumns+` FROM receipts WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fulfillment.Receipt{}, ErrNotFound
		}
		return fulfillment.Receipt{}, err
	}
	receipt.Allocations, err = r.allocations(ctx, id)
	if err != nil {
		return fulfillment.Receipt{}, err
	}
	return receipt, nil
}

// ListReceipts lists the receipts of an invoice with their allocations.
func (r *Repository) ListReceipts(ctx context.Context, invoiceID int64) ([]fulfillment.Receipt, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+receiptColumns+` FROM receipts WHERE invoice_id = $1 ORDER BY paid_at, id`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("receipts: list: %w", err)
	}
	var list []fulfillment.Receipt
	for rows.Next() {
		receipt, err := scanReceipt(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		list = append(list, receipt)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range list {
		list[i].Allocations, err = r.allocations(ctx, list[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return list, nil
}

// PostReceipt marks a draft posted and reduces the invoice balance.
func (r *Repository) PostReceipt(ctx context.Context, id, actorID int64) (fulfillment.Receipt, error) {
	var receipt fulfillment.Receipt
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var err error
		receipt, err = scanReceipt(tx.QueryRow(ctx, `SELECT `+receiptColumns+` FROM receipts WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		if !receipt.Status.CanPost() {
			return fmt.Errorf("receipt %d is %s: %w", id, receipt.Status, shared.ErrInvalidTransition)
		}
		if err := invoices.NewTx(tx).ApplyPayment(ctx, receipt.InvoiceID, receipt.Amount); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			UPDATE receipts SET status = $2, posted_by = $3, posted_at = NOW(), updated_at = NOW()
			WHERE id = $1`, id, string(fulfillment.DocumentPosted), actorID); err != nil {
			return err
		}
		receipt.Status = fulfillment.DocumentPosted
		return nil
	})
	if err != nil {
		return fulfillment.Receipt{}, err
	}
	return r.GetReceipt(ctx, receipt.ID)
}

// CancelReceipt voids a draft receipt.
func (r *Repository) CancelReceipt(ctx context.Context, id, actorID int64) (fulfillment.Receipt, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE receipts SET status = $2, cancelled_by = $3, cancelled_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = $4`,
		id, string(fulfillment.DocumentCancelled), actorID, string(fulfillment.DocumentDraft))
	if err != nil {
		return fulfillment.Receipt{}, err
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetReceipt(ctx, id); err != nil {
			return fulfillment.Receipt{}, err
		}
		return fulfillment.Receipt{}, fmt.Errorf("receipt %d: %w", id, shared.ErrInvalidTransition)
	}
	return r.GetReceipt(ctx, id)
}

func (r *Repository) allocations(ctx context.Context, receiptID int64) ([]fulfillment.ReceiptAllocation, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT invoice_id, allocated_amount
		FROM receipt_allocations
		WHERE receipt_id = $1
		ORDER BY invoice_id`, receiptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []fulfillment.ReceiptAllocation
	for rows.Next() {
		var alloc fulfillment.ReceiptAllocation
		var amount pgtype.Numeric
		if err := rows.Scan(&alloc.InvoiceID, &amount); err != nil {
			return nil, err
		}
		alloc.AllocatedAmount = db.Decimal(amount)
		out = append(out, alloc)
	}
	return out, rows.Err()
}

func scanReceipt(row pgx.Row) (fulfillment.Receipt, error) {
	var receipt fulfillment.Receipt
	var amount pgtype.Numeric
	var status string
	if err := row.Scan(&receipt.ID, &receipt.Number, &receipt.InvoiceID, &amount, &status, &receipt.PaidAt, &receipt.Method, &receipt.Note); err != nil {
		return fulfillment.Receipt{}, err
	}
	parsed, err := fulfillment.ParseDocumentStatus(status)
	if err != nil {
		return fulfillment.Receipt{}, err
	}
	receipt.Status = parsed
	receipt.Amount = db.Decimal(amount)
	return receipt, nil
}
