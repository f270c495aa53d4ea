// Package fulfillment holds the sales document fulfillment engine: warehouse
// allocation of invoice demand, delivery document generation, payment
// application, derived invoice status and per-delivery amount attribution.
//
// Everything in this package is pure computation over its inputs. Reading and
// writing documents is done by the delivery, receipts and invoices packages.
package fulfillment

import (
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceLine is a single sales invoice line as seen by the engine.
type InvoiceLine struct {
	ID                int64           `json:"id"`
	InvoiceID         int64           `json:"invoice_id"`
	ProductID         int64           `json:"product_id"`
	UnitID            int64           `json:"unit_id"`
	Quantity          decimal.Decimal `json:"quantity"`
	RemainingQuantity decimal.Decimal `json:"remaining_quantity"`
	UnitPrice         decimal.Decimal `json:"unit_price"`
	LineOrder         int             `json:"line_order"`
}

// LineDemand is the open quantity of one invoice line.
type LineDemand struct {
	InvoiceLineID int64           `json:"invoice_line_id"`
	Remaining     decimal.Decimal `json:"remaining"`
}

// ProductDemand aggregates the open quantity of every line of one product.
type ProductDemand struct {
	ProductID int64           `json:"product_id"`
	Remaining decimal.Decimal `json:"remaining"`
	Lines     []LineDemand    `json:"lines"`
}

// StockLevel is the quantity on hand of a product in a warehouse.
type StockLevel struct {
	ProductID      int64           `json:"product_id"`
	WarehouseID    int64           `json:"warehouse_id"`
	QuantityOnHand decimal.Decimal `json:"quantity_on_hand"`
}

// Allocation is a user entered quantity of a product drawn from a warehouse.
type Allocation struct {
	ProductID   int64           `json:"product_id"`
	WarehouseID int64           `json:"warehouse_id"`
	Quantity    decimal.Decimal `json:"quantity"`
}

// AllocatedLine is a validated draw against one invoice line.
type AllocatedLine struct {
	InvoiceLineID int64           `json:"invoice_line_id"`
	ProductID     int64           `json:"product_id"`
	Quantity      decimal.Decimal `json:"quantity"`
}

// WarehousePartition groups the validated lines drawn from one warehouse.
type WarehousePartition struct {
	WarehouseID int64           `json:"warehouse_id"`
	Lines       []AllocatedLine `json:"lines"`
}

// Total returns the quantity drawn from the warehouse across all lines.
func (p WarehousePartition) Total() decimal.Decimal {
	total := decimal.Zero
	for _, line := range p.Lines {
		total = total.Add(line.Quantity)
	}
	return total
}

// ValidatedAllocation is the solver output, partitioned by warehouse in the
// order warehouses first appear in the input.
type ValidatedAllocation struct {
	Partitions []WarehousePartition `json:"partitions"`
	// Complete reports, per product, whether the allocation covers the whole
	// remaining demand.
	Complete map[int64]bool `json:"complete"`
}

// IsEmpty reports whether nothing is drawn from any warehouse.
func (v ValidatedAllocation) IsEmpty() bool {
	for _, p := range v.Partitions {
		if p.Total().IsPositive() {
			return false
		}
	}
	return true
}

// WarehouseIDs lists the warehouses touched by the allocation.
func (v ValidatedAllocation) WarehouseIDs() []int64 {
	ids := make([]int64, 0, len(v.Partitions))
	for _, p := range v.Partitions {
		ids = append(ids, p.WarehouseID)
	}
	return ids
}

// DeliveryLine references the invoice line a delivered quantity reduces.
type DeliveryLine struct {
	InvoiceLineID int64           `json:"invoice_line_id"`
	ProductID     int64           `json:"product_id"`
	Quantity      decimal.Decimal `json:"quantity"`
}

// DeliveryDocument records goods shipped from one warehouse against one invoice.
type DeliveryDocument struct {
	ID           int64          `json:"id"`
	Number       string         `json:"number"`
	InvoiceID    int64          `json:"invoice_id"`
	WarehouseID  int64          `json:"warehouse_id"`
	Date         time.Time      `json:"date"`
	Status       DocumentStatus `json:"status"`
	SubmissionID string         `json:"submission_id,omitempty"`
	Lines        []DeliveryLine `json:"lines"`
}

// TotalQuantity sums the quantities of all document lines.
func (d DeliveryDocument) TotalQuantity() decimal.Decimal {
	total := decimal.Zero
	for _, line := range d.Lines {
		total = total.Add(line.Quantity)
	}
	return total
}

// ReceiptAllocation assigns part of a receipt to an invoice.
type ReceiptAllocation struct {
	InvoiceID       int64           `json:"invoice_id"`
	AllocatedAmount decimal.Decimal `json:"allocated_amount"`
}

// Receipt is a customer payment against a single invoice.
type Receipt struct {
	ID          int64               `json:"id"`
	Number      string              `json:"number"`
	InvoiceID   int64               `json:"invoice_id"`
	Amount      decimal.Decimal     `json:"amount"`
	Status      DocumentStatus      `json:"status"`
	PaidAt      time.Time           `json:"paid_at"`
	Method      string              `json:"method,omitempty"`
	Note        string              `json:"note,omitempty"`
	Allocations []ReceiptAllocation `json:"allocations"`
}

// Invoice is the header data the engine needs from a sales invoice.
type Invoice struct {
	ID         int64           `json:"id"`
	Number     string          `json:"number"`
	CustomerID int64           `json:"customer_id"`
	Currency   string          `json:"currency"`
	RawStatus  InvoiceStatus   `json:"raw_status"`
	GrandTotal decimal.Decimal `json:"grand_total"`
	TotalPaid  decimal.Decimal `json:"total_paid"`
	BalanceDue decimal.Decimal `json:"balance_due"`
}
