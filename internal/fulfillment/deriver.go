package fulfillment

import "github.com/shopspring/decimal"

// DeriveStatus computes the status an invoice is displayed with. Cancelled and
// Completed are authoritative; otherwise the result depends on whether every
// line is delivered and whether the invoice is paid. Receipts count towards
// payment only when Posted and only for the part allocated to this invoice.
// An invoice without lines counts as fully delivered.
func DeriveStatus(invoice Invoice, lines []InvoiceLine, receipts []Receipt) InvoiceStatus {
	if invoice.RawStatus.IsTerminal() {
		return invoice.RawStatus
	}

	fullyDelivered := true
	for _, line := range lines {
		if line.RemainingQuantity.IsPositive() {
			fullyDelivered = false
			break
		}
	}

	paid := decimal.Max(invoice.TotalPaid, PostedPayments(invoice.ID, receipts))
	fullyPaid := !invoice.BalanceDue.IsPositive() || paid.GreaterThanOrEqual(invoice.GrandTotal)

	switch {
	case fullyDelivered && fullyPaid:
		return StatusCompleted
	case fullyDelivered:
		return StatusDelivered
	case fullyPaid:
		return StatusPaid
	default:
		return invoice.RawStatus
	}
}

// PostedPayments sums what Posted receipts allocate to the invoice.
func PostedPayments(invoiceID int64, receipts []Receipt) decimal.Decimal {
	total := decimal.Zero
	for _, r := range receipts {
		if r.Status != DocumentPosted {
			continue
		}
		for _, a := range r.Allocations {
			if a.InvoiceID == invoiceID {
				total = total.Add(a.AllocatedAmount)
			}
		}
	}
	return total
}
