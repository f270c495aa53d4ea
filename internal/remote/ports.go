package remote

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/fulfillment/internal/fulfillment"
	"github.com/odyssey-erp/fulfillment/internal/inventory"
)

type invoiceDTO struct {
	ID         int64           `json:"id"`
	Number     string          `json:"number"`
	CustomerID int64           `json:"customer_id"`
	Currency   string          `json:"currency"`
	Status     string          `json:"status"`
	GrandTotal decimal.Decimal `json:"grand_total"`
	TotalPaid  decimal.Decimal `json:"total_paid"`
	BalanceDue decimal.Decimal `json:"balance_due"`
}

type deliveryDTO struct {
	ID           int64                      `json:"id"`
	Number       string                     `json:"number"`
	InvoiceID    int64                      `json:"invoice_id"`
	WarehouseID  int64                      `json:"warehouse_id"`
	Date         time.Time                  `json:"date"`
	Status       string                     `json:"status"`
	SubmissionID string                     `json:"submission_id,omitempty"`
	Lines        []fulfillment.DeliveryLine `json:"lines"`
}

type receiptDTO struct {
	ID          int64                           `json:"id"`
	Number      string                          `json:"number"`
	InvoiceID   int64                           `json:"invoice_id"`
	Amount      decimal.Decimal                 `json:"amount"`
	Status      string                          `json:"status"`
	PaidAt      time.Time                       `json:"paid_at"`
	Method      string                          `json:"method,omitempty"`
	Note        string                          `json:"note,omitempty"`
	Allocations []fulfillment.ReceiptAllocation `json:"allocations"`
}

type createdDTO struct {
	ID int64 `json:"id"`
}

type createDeliveryDTO struct {
	fulfillment.DeliveryDocument
	CreatedBy int64 `json:"created_by"`
}

type createReceiptDTO struct {
	fulfillment.Receipt
	CreatedBy int64 `json:"created_by"`
}

type actorDTO struct {
	ActorID int64 `json:"actor_id"`
}

func (d invoiceDTO) toDomain() (fulfillment.Invoice, error) {
	status, err := fulfillment.ParseInvoiceStatus(d.Status)
	if err != nil {
		return fulfillment.Invoice{}, fmt.Errorf("%w: %v", errBadPayload, err)
	}
	return fulfillment.Invoice{
		ID:         d.ID,
		Number:     d.Number,
		CustomerID: d.CustomerID,
		Currency:   d.Currency,
		RawStatus:  status,
		GrandTotal: d.GrandTotal,
		TotalPaid:  d.TotalPaid,
		BalanceDue: d.BalanceDue,
	}, nil
}

func (d deliveryDTO) toDomain() (fulfillment.DeliveryDocument, error) {
	status, err := fulfillment.ParseDocumentStatus(d.Status)
	if err != nil {
		return fulfillment.DeliveryDocument{}, fmt.Errorf("%w: %v", errBadPayload, err)
	}
	return fulfillment.DeliveryDocument{
		ID:           d.ID,
		Number:       d.Number,
		InvoiceID:    d.InvoiceID,
		WarehouseID:  d.WarehouseID,
		Date:         d.Date,
		Status:       status,
		SubmissionID: d.SubmissionID,
		Lines:        d.Lines,
	}, nil
}

func (d receiptDTO) toDomain() (fulfillment.Receipt, error) {
	status, err := fulfillment.ParseDocumentStatus(d.Status)
	if err != nil {
		return fulfillment.Receipt{}, fmt.Errorf("%w: %v", errBadPayload, err)
	}
	return fulfillment.Receipt{
		ID:          d.ID,
		Number:      d.Number,
		InvoiceID:   d.InvoiceID,
		Amount:      d.Amount,
		Status:      status,
		PaidAt:      d.PaidAt,
		Method:      d.Method,
		Note:        d.Note,
		Allocations: d.Allocations,
	}, nil
}

func stockError(body apiError) error {
	onHand, err := decimal.NewFromString(body.Stock.OnHand)
	if err != nil {
		return nil
	}
	requested, err := decimal.NewFromString(body.Stock.Requested)
	if err != nil {
		return nil
	}
	return &inventory.StockError{
		WarehouseID: body.Stock.WarehouseID,
		ProductID:   body.Stock.ProductID,
		OnHand:      onHand,
		Requested:   requested,
	}
}

// GetInvoice loads the invoice header.
func (c *Client) GetInvoice(ctx context.Context, id int64) (fulfillment.Invoice, error) {
	var dto invoiceDTO
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/invoices/%d", id), nil, &dto); err != nil {
		return fulfillment.Invoice{}, err
	}
	return dto.toDomain()
}

// ListInvoiceLines returns the invoice lines.
func (c *Client) ListInvoiceLines(ctx context.Context, invoiceID int64) ([]fulfillment.InvoiceLine, error) {
	var lines []fulfillment.InvoiceLine
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/invoices/%d/lines", invoiceID), nil, &lines); err != nil {
		return nil, err
	}
	return lines, nil
}

// ListStock returns the stock of one warehouse.
func (c *Client) ListStock(ctx context.Context, warehouseID int64) ([]fulfillment.StockLevel, error) {
	var levels []fulfillment.StockLevel
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/warehouses/%d/stock", warehouseID), nil, &levels); err != nil {
		return nil, err
	}
	for i := range levels {
		levels[i].WarehouseID = warehouseID
	}
	return levels, nil
}

// CreateDelivery creates a draft delivery document.
func (c *Client) CreateDelivery(ctx context.Context, doc fulfillment.DeliveryDocument, createdBy int64) (int64, error) {
	var out createdDTO
	if err := c.do(ctx, http.MethodPost, "/api/deliveries", createDeliveryDTO{DeliveryDocument: doc, CreatedBy: createdBy}, &out); err != nil {
		return 0, err
	}
	return out.ID, nil
}

// GetDelivery loads one delivery document.
func (c *Client) GetDelivery(ctx context.Context, id int64) (fulfillment.DeliveryDocument, error) {
	return c.delivery(ctx, http.MethodGet, fmt.Sprintf("/api/deliveries/%d", id), nil)
}

// ListDeliveries lists the delivery documents of an invoice.
func (c *Client) ListDeliveries(ctx context.Context, invoiceID int64) ([]fulfillment.DeliveryDocument, error) {
	var dtos []deliveryDTO
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/invoices/%d/deliveries", invoiceID), nil, &dtos); err != nil {
		return nil, err
	}
	docs := make([]fulfillment.DeliveryDocument, 0, len(dtos))
	for _, dto := range dtos {
		doc, err := dto.toDomain()
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// PostDelivery posts a draft delivery document.
func (c *Client) PostDelivery(ctx context.Context, id, actorID int64) (fulfillment.DeliveryDocument, error) {
	return c.delivery(ctx, http.MethodPost, fmt.Sprintf("/api/deliveries/%d/post", id), actorDTO{ActorID: actorID})
}

// CancelDelivery cancels a draft delivery document.
func (c *Client) CancelDelivery(ctx context.Context, id, actorID int64) (fulfillment.DeliveryDocument, error) {
	return c.delivery(ctx, http.MethodPost, fmt.Sprintf("/api/deliveries/%d/cancel", id), actorDTO{ActorID: actorID})
}

func (c *Client) delivery(ctx context.Context, method, path string, body any) (fulfillment.DeliveryDocument, error) {
	var dto deliveryDTO
	if err := c.do(ctx, method, path, body, &dto); err != nil {
		return fulfillment.DeliveryDocument{}, err
	}
	return dto.toDomain()
}

// CreateReceipt creates a draft receipt.
func (c *Client) CreateReceipt(ctx context.Context, receipt fulfillment.Receipt, createdBy int64) (int64, error) {
	var out createdDTO
	if err := c.do(ctx, http.MethodPost, "/api/receipts", createReceiptDTO{Receipt: receipt, CreatedBy: createdBy}, &out); err != nil {
		return 0, err
	}
	return out.ID, nil
}

// GetReceipt loads one receipt.
func (c *Client) GetReceipt(ctx context.Context, id int64) (fulfillment.Receipt, error) {
	return c.receipt(ctx, http.MethodGet, fmt.Sprintf("/api/receipts/%d", id), nil)
}

// ListReceipts lists the receipts of an invoice.
func (c *Client) ListReceipts(ctx context.Context, invoiceID int64) ([]fulfillment.Receipt, error) {
	var dtos []receiptDTO
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/invoices/%d/receipts", invoiceID), nil, &dtos); err != nil {
		return nil, err
	}
	out := make([]fulfillment.Receipt, 0, len(dtos))
	for _, dto := range dtos {
		r, err := dto.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// PostReceipt posts a draft receipt.
func (c *Client) PostReceipt(ctx context.Context, id, actorID int64) (fulfillment.Receipt, error) {
	return c.receipt(ctx, http.MethodPost, fmt.Sprintf("/api/receipts/%d/post", id), actorDTO{ActorID: actorID})
}

// CancelReceipt cancels a draft receipt.
func (c *Client) CancelReceipt(ctx context.Context, id, actorID int64) (fulfillment.Receipt, error) {
	return c.receipt(ctx, http.MethodPost, fmt.Sprintf("/api/receipts/%d/cancel", id), actorDTO{ActorID: actorID})
}

func (c *Client) receipt(ctx context.Context, method, path string, body any) (fulfillment.Receipt, error) {
	var dto receiptDTO
	if err := c.do(ctx, method, path, body, &dto); err != nil {
		return fulfillment.Receipt{}, err
	}
	return dto.toDomain()
}

// EffectivePermissions asks the ERP which permissions the user holds.
func (c *Client) EffectivePermissions(ctx context.Context, userID int64) ([]string, error) {
	var out struct {
		Permissions []string `json:"permissions"`
	}
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/users/%d/permissions", userID), nil, &out); err != nil {
		return nil, err
	}
	return out.Permissions, nil
}
