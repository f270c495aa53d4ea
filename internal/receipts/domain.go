// Package receipts records customer payments against sales invoices.
package receipts

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/fulfillment/internal/platform/httpx"
)

// ErrNotFound indicates the receipt does not exist.
var ErrNotFound = fmt.Errorf("receipt not found: %w", httpx.ErrNotFound)

// CreateRequest registers a payment for an invoice.
type CreateRequest struct {
	InvoiceID int64
	Amount    decimal.Decimal
	PaidAt    time.Time
	Method    string
	Note      string
	ActorID   int64
}

// payment outcomes recorded in metrics.
const (
	outcomeAccepted = "accepted"
	outcomeRejected = "rejected"
)
