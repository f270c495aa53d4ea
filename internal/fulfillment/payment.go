package fulfillment

import (
	"time"

	"github.com/shopspring/decimal"
)

// ApplyPayment builds a Draft receipt paying amount against the invoice. The
// amount must be positive and no larger than the balance due. A receipt always
// allocates its full amount to this one invoice.
func ApplyPayment(invoice Invoice, amount decimal.Decimal, paidAt time.Time) (Receipt, error) {
	if invoice.RawStatus == StatusCancelled {
		return Receipt{}, &PaymentError{
			Kind:       KindInvoiceCancelled,
			InvoiceID:  invoice.ID,
			Amount:     amount,
			BalanceDue: invoice.BalanceDue,
		}
	}
	if !amount.IsPositive() || amount.GreaterThan(invoice.BalanceDue) {
		return Receipt{}, &PaymentError{
			Kind:       KindInvalidAmount,
			InvoiceID:  invoice.ID,
			Amount:     amount,
			BalanceDue: invoice.BalanceDue,
		}
	}
	return Receipt{
		InvoiceID: invoice.ID,
		Amount:    amount,
		Status:    DocumentDraft,
		PaidAt:    paidAt,
		Allocations: []ReceiptAllocation{
			{InvoiceID: invoice.ID, AllocatedAmount: amount},
		},
	}, nil
}
