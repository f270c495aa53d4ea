package fulfillment

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
)

// InvoiceStatus is the lifecycle label of a sales invoice.
type InvoiceStatus string

const (
	StatusDraft     InvoiceStatus = "Draft"
	StatusPosted    InvoiceStatus = "Posted"
	StatusDelivered InvoiceStatus = "Delivered" // derived only
	StatusPaid      InvoiceStatus = "Paid"      // derived only
	StatusCompleted InvoiceStatus = "Completed"
	StatusCancelled InvoiceStatus = "Cancelled"
)

var invoiceStatuses = []InvoiceStatus{
	StatusDraft, StatusPosted, StatusDelivered, StatusPaid, StatusCompleted, StatusCancelled,
}

// IsTerminal reports whether the status is authoritative and passes through
// derivation unchanged.
func (s InvoiceStatus) IsTerminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

// DocumentStatus is the lifecycle of delivery documents and receipts.
type DocumentStatus string

const (
	DocumentDraft     DocumentStatus = "Draft"
	DocumentPosted    DocumentStatus = "Posted"
	DocumentCancelled DocumentStatus = "Cancelled"
)

// CanPost checks if the document can move to Posted.
func (s DocumentStatus) CanPost() bool {
	return s == DocumentDraft
}

// CanCancel checks if the document can move to Cancelled.
func (s DocumentStatus) CanCancel() bool {
	return s == DocumentDraft
}

// spelling variants seen in stored data, keyed by folded form.
var statusAliases = map[string]string{
	"canceled": "cancelled",
	"void":     "cancelled",
	"complete": "completed",
}

func foldStatus(raw string) string {
	folded := cases.Fold().String(strings.TrimSpace(raw))
	folded = strings.ReplaceAll(folded, "_", "")
	if alias, ok := statusAliases[folded]; ok {
		return alias
	}
	return folded
}

// ParseInvoiceStatus maps a stored status string of any casing to the closed
// InvoiceStatus set.
func ParseInvoiceStatus(raw string) (InvoiceStatus, error) {
	folded := foldStatus(raw)
	for _, known := range invoiceStatuses {
		if cases.Fold().String(string(known)) == folded {
			return known, nil
		}
	}
	return "", fmt.Errorf("fulfillment: unknown invoice status %q", raw)
}

// ParseDocumentStatus maps a stored document status string of any casing to
// the closed DocumentStatus set.
func ParseDocumentStatus(raw string) (DocumentStatus, error) {
	folded := foldStatus(raw)
	for _, known := range []DocumentStatus{DocumentDraft, DocumentPosted, DocumentCancelled} {
		if cases.Fold().String(string(known)) == folded {
			return known, nil
		}
	}
	return "", fmt.Errorf("fulfillment: unknown document status %q", raw)
}
