// Package invoices reads sales invoices and answers the derived questions
// asked about them: effective status, open demand and per-delivery amounts.
package invoices

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/fulfillment/internal/fulfillment"
	"github.com/odyssey-erp/fulfillment/internal/platform/httpx"
)

var (
	// ErrNotFound indicates the invoice does not exist.
	ErrNotFound = fmt.Errorf("invoice not found: %w", httpx.ErrNotFound)
	// ErrLineOverdrawn indicates a delivery would take a line below zero remaining.
	ErrLineOverdrawn = fmt.Errorf("invoice line remaining quantity exceeded: %w", httpx.ErrConflict)
	// ErrOverpaid indicates a payment larger than the balance due.
	ErrOverpaid = fmt.Errorf("payment exceeds invoice balance: %w", httpx.ErrConflict)
)

// StatusView is the response of the derived status query.
type StatusView struct {
	InvoiceID      int64                     `json:"invoice_id"`
	Number         string                    `json:"number"`
	RawStatus      fulfillment.InvoiceStatus `json:"raw_status"`
	Status         fulfillment.InvoiceStatus `json:"status"`
	GrandTotal     decimal.Decimal           `json:"grand_total"`
	TotalPaid      decimal.Decimal           `json:"total_paid"`
	PostedPayments decimal.Decimal           `json:"posted_payments"`
	BalanceDue     decimal.Decimal           `json:"balance_due"`
}

// DeliveryAmount is the amount attributed to one delivery document.
type DeliveryAmount struct {
	DeliveryID int64                      `json:"delivery_id"`
	Number     string                     `json:"number"`
	Status     fulfillment.DocumentStatus `json:"status"`
	Amount     decimal.Decimal            `json:"amount"`
}

// AttributionView is the response of the attribution query.
type AttributionView struct {
	InvoiceID     int64                       `json:"invoice_id"`
	Mode          fulfillment.AttributionMode `json:"mode"`
	InvoiceAmount decimal.Decimal             `json:"invoice_amount"`
	Deliveries    []DeliveryAmount            `json:"deliveries"`
}

// DemandView is the response of the demand query.
type DemandView struct {
	InvoiceID int64                       `json:"invoice_id"`
	Products  []fulfillment.ProductDemand `json:"products"`
}
