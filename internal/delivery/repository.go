package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/fulfillment/internal/fulfillment"
	"github.com/odyssey-erp/fulfillment/internal/inventory"
	"github.com/odyssey-erp/fulfillment/internal/invoices"
	"github.com/odyssey-erp/fulfillment/internal/platform/db"
	"github.com/odyssey-erp/fulfillment/internal/shared"
)

// Repository provides PostgreSQL backed persistence for delivery documents.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const deliveryColumns = `id, number, invoice_id, warehouse_id, delivery_date, status, COALESCE(submission_id, '')`

// CreateDelivery inserts a draft document. Stock is checked, not moved, so a
// concurrent session that drained the warehouse is reported as
// inventory.ErrInsufficientStock.
func (r *Repository) CreateDelivery(ctx context.Context, doc fulfillment.DeliveryDocument, createdBy int64) (int64, error) {
	var id int64
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		stockTx := inventory.NewTx(tx)
		needed := make(map[int64]decimal.Decimal)
		var order []int64
		for _, line := range doc.Lines {
			if _, ok := needed[line.ProductID]; !ok {
				order = append(order, line.ProductID)
			}
			needed[line.ProductID] = needed[line.ProductID].Add(line.Quantity)
		}
		for _, productID := range order {
			if err := inventory.EnsureAvailable(ctx, stockTx, doc.WarehouseID, productID, needed[productID]); err != nil {
				return err
			}
		}

		err := tx.QueryRow(ctx, `
			INSERT INTO delivery_documents (
				number, invoice_id, warehouse_id, delivery_date, status, submission_id, created_by, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, NOW(), NOW())
			RETURNING id`,
			doc.Number, doc.InvoiceID, doc.WarehouseID, doc.Date, string(fulfillment.DocumentDraft),
			doc.SubmissionID, createdBy,
		).Scan(&id)
		if err != nil {
			return fmt.Errorf("insert delivery: %w", err)
		}

		batch := &pgx.Batch{}
		for _, line := range doc.Lines {
			batch.Queue(`
				INSERT INTO delivery_document_lines (delivery_id, invoice_line_id, product_id, quantity)
				VALUES ($1, $2, $3, $4)`, id, line.InvoiceLineID, line.ProductID, line.Quantity)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// GetDelivery loads one document with its lines.
func (r *Repository) GetDelivery(ctx context.Context, id int64) (fulfillment.DeliveryDocument, error) {
	return getDelivery(ctx, r.pool, id, false)
}

// ListDeliveries lists the documents of an invoice in creation order.
func (r *Repository) ListDeliveries(ctx context.Context, invoiceID int64) ([]fulfillment.DeliveryDocument, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+deliveryColumns+` FROM delivery_documents WHERE invoice_id = $1 ORDER BY id`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("delivery: list: %w", err)
	}
	var docs []fulfillment.DeliveryDocument
	index := make(map[int64]int)
	for rows.Next() {
		doc, err := scanDelivery(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		index[doc.ID] = len(docs)
		docs = append(docs, doc)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return docs, nil
	}

	ids := make([]int64, 0, len(docs))
	for _, doc := range docs {
		ids = append(ids, doc.ID)
	}
	lineRows, err := r.pool.Query(ctx, `
		SELECT delivery_id, invoice_line_id, product_id, quantity
		FROM delivery_document_lines
		WHERE delivery_id = ANY($1)
		ORDER BY delivery_id, id`, ids)
	if err != nil {
		return nil, fmt.Errorf("delivery: list lines: %w", err)
	}
	defer lineRows.Close()
	for lineRows.Next() {
		var deliveryID int64
		var line fulfillment.DeliveryLine
		var qty pgtype.Numeric
		if err := lineRows.Scan(&deliveryID, &line.InvoiceLineID, &line.ProductID, &qty); err != nil {
			return nil, err
		}
		line.Quantity = db.Decimal(qty)
		pos := index[deliveryID]
		docs[pos].Lines = append(docs[pos].Lines, line)
	}
	return docs, lineRows.Err()
}

// PostDelivery marks a draft posted, consumes the invoice lines and books
// the outbound stock movement in one repeatable-read transaction.
func (r *Repository) PostDelivery(ctx context.Context, id, actorID int64) (fulfillment.DeliveryDocument, error) {
	var doc fulfillment.DeliveryDocument
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var err error
		doc, err = getDelivery(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if !doc.Status.CanPost() {
			return fmt.Errorf("delivery %d is %s: %w", id, doc.Status, shared.ErrInvalidTransition)
		}

		lineTx := invoices.NewTx(tx)
		stockTx := inventory.NewTx(tx)
		postedAt := time.Now().UTC()
		for _, line := range doc.Lines {
			if err := lineTx.ConsumeLine(ctx, line.InvoiceLineID, line.Quantity); err != nil {
				return err
			}
			if _, err := inventory.Apply(ctx, stockTx, inventory.Movement{
				Type:        inventory.MovementOut,
				WarehouseID: doc.WarehouseID,
				ProductID:   line.ProductID,
				QtyChange:   line.Quantity.Neg(),
				RefModule:   "delivery",
				RefID:       doc.ID,
				Note:        doc.Number,
				PostedAt:    postedAt,
			}); err != nil {
				return err
			}
		}

		_, err = tx.Exec(ctx, `
			UPDATE delivery_documents
			SET status = $2, posted_by = $3, posted_at = $4, updated_at = NOW()
			WHERE id = $1`, id, string(fulfillment.DocumentPosted), actorID, postedAt)
		if err != nil {
			return err
		}
		doc.Status = fulfillment.DocumentPosted
		return nil
	})
	if err != nil {
		return fulfillment.DeliveryDocument{}, err
	}
	return doc, nil
}

// CancelDelivery voids a draft document.
func (r *Repository) CancelDelivery(ctx context.Context, id, actorID int64) (fulfillment.DeliveryDocument, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE delivery_documents
		SET status = $2, cancelled_by = $3, cancelled_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = $4`,
		id, string(fulfillment.DocumentCancelled), actorID, string(fulfillment.DocumentDraft))
	if err != nil {
		return fulfillment.DeliveryDocument{}, err
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetDelivery(ctx, id); err != nil {
			return fulfillment.DeliveryDocument{}, err
		}
		return fulfillment.DeliveryDocument{}, fmt.Errorf("delivery %d: %w", id, shared.ErrInvalidTransition)
	}
	return r.GetDelivery(ctx, id)
}

func getDelivery(ctx context.Context, q queryer, id int64, forUpdate bool) (fulfillment.DeliveryDocument, error) {
	query := `SELECT ` + deliveryColumns + ` FROM delivery_documents WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	doc, err := scanDelivery(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fulfillment.DeliveryDocument{}, ErrNotFound
		}
		return fulfillment.DeliveryDocument{}, err
	}

	rows, err := q.Query(ctx, `
		SELECT invoice_line_id, product_id, quantity
		FROM delivery_document_lines
		WHERE delivery_id = $1
		ORDER BY id`, id)
	if err != nil {
		return fulfillment.DeliveryDocument{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var line fulfillment.DeliveryLine
		var qty pgtype.Numeric
		if err := rows.Scan(&line.InvoiceLineID, &line.ProductID, &qty); err != nil {
			return fulfillment.DeliveryDocument{}, err
		}
		line.Quantity = db.Decimal(qty)
		doc.Lines = append(doc.Lines, line)
	}
	return doc, rows.Err()
}

func scanDelivery(row pgx.Row) (fulfillment.DeliveryDocument, error) {
	var doc fulfillment.DeliveryDocument
	var status string
	if err := row.Scan(&doc.ID, &doc.Number, &doc.InvoiceID, &doc.WarehouseID, &doc.Date, &status, &doc.SubmissionID); err != nil {
		return fulfillment.DeliveryDocument{}, err
	}
	parsed, err := fulfillment.ParseDocumentStatus(status)
	if err != nil {
		return fulfillment.DeliveryDocument{}, err
	}
	doc.Status = parsed
	return doc, nil
}
