package fulfillment

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Sentinels matched with errors.Is by callers that only need the category.
var (
	ErrValidation        = errors.New("fulfillment: allocation invalid")
	ErrStaleData         = errors.New("fulfillment: allocation no longer valid against current data")
	ErrPartialSubmission = errors.New("fulfillment: some delivery documents were not created")
	ErrPayment           = errors.New("fulfillment: payment rejected")
)

// AllocationErrorKind classifies a single allocation violation.
type AllocationErrorKind string

const (
	KindOverAllocated    AllocationErrorKind = "OverAllocated"
	KindExceedsStock     AllocationErrorKind = "ExceedsStock"
	KindNothingAllocated AllocationErrorKind = "NothingAllocated"
	KindNegativeQuantity AllocationErrorKind = "NegativeQuantity"
)

// AllocationError describes one violated allocation invariant. ProductID and
// WarehouseID are zero when they do not apply to the kind.
type AllocationError struct {
	Kind        AllocationErrorKind `json:"kind"`
	ProductID   int64               `json:"product_id,omitempty"`
	WarehouseID int64               `json:"warehouse_id,omitempty"`
	Requested   decimal.Decimal     `json:"requested"`
	Available   decimal.Decimal     `json:"available"`
}

func (e AllocationError) Error() string {
	switch e.Kind {
	case KindOverAllocated:
		return fmt.Sprintf("product %d: allocated %s exceeds remaining %s", e.ProductID, e.Requested, e.Available)
	case KindExceedsStock:
		return fmt.Sprintf("product %d warehouse %d: requested %s exceeds stock %s", e.ProductID, e.WarehouseID, e.Requested, e.Available)
	case KindNegativeQuantity:
		return fmt.Sprintf("product %d warehouse %d: negative quantity %s", e.ProductID, e.WarehouseID, e.Requested)
	case KindNothingAllocated:
		return "nothing allocated"
	default:
		return string(e.Kind)
	}
}

// OverAllocated builds the violation for a product whose total exceeds demand.
func OverAllocated(productID int64, requested, remaining decimal.Decimal) AllocationError {
	return AllocationError{Kind: KindOverAllocated, ProductID: productID, Requested: requested, Available: remaining}
}

// ExceedsStock builds the violation for a warehouse draw above quantity on hand.
func ExceedsStock(productID, warehouseID int64, requested, onHand decimal.Decimal) AllocationError {
	return AllocationError{Kind: KindExceedsStock, ProductID: productID, WarehouseID: warehouseID, Requested: requested, Available: onHand}
}

// NothingAllocated builds the whole-request violation for a no-op submission.
func NothingAllocated() AllocationError {
	return AllocationError{Kind: KindNothingAllocated}
}

// ValidationError collects every violation found in one allocation request.
type ValidationError struct {
	Violations []AllocationError `json:"violations"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrValidation.Error(), joinViolations(e.Violations))
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Has reports whether a violation of the kind exists for the product
// (and warehouse, when non-zero).
func (e *ValidationError) Has(kind AllocationErrorKind, productID, warehouseID int64) bool {
	for _, v := range e.Violations {
		if v.Kind != kind {
			continue
		}
		if productID != 0 && v.ProductID != productID {
			continue
		}
		if warehouseID != 0 && v.WarehouseID != warehouseID {
			continue
		}
		return true
	}
	return false
}

// StaleDataError is returned when an allocation that passed validation at
// proposal time fails against data re-read at submit time.
type StaleDataError struct {
	Violations []AllocationError `json:"violations"`
}

func (e *StaleDataError) Error() string {
	return fmt.Sprintf("%s: %s", ErrStaleData.Error(), joinViolations(e.Violations))
}

func (e *StaleDataError) Unwrap() error { return ErrStaleData }

// WarehouseSuccess reports a delivery document created for a warehouse.
type WarehouseSuccess struct {
	WarehouseID int64  `json:"warehouse_id"`
	DeliveryID  int64  `json:"delivery_id"`
	Number      string `json:"number"`
}

// WarehouseFailure reports a warehouse whose document could not be created.
type WarehouseFailure struct {
	WarehouseID int64  `json:"warehouse_id"`
	Reason      string `json:"reason"`
	// Retryable is true when resubmitting the same warehouse may succeed,
	// e.g. a stock race rejected by the store.
	Retryable  bool              `json:"retryable"`
	Violations []AllocationError `json:"violations,omitempty"`
	Err        error             `json:"-"`
}

// PartialSubmissionError lists which warehouses got a document and which did
// not. Created documents are never rolled back.
type PartialSubmissionError struct {
	SubmissionID string             `json:"submission_id"`
	Succeeded    []WarehouseSuccess `json:"succeeded"`
	Failed       []WarehouseFailure `json:"failed"`
}

func (e *PartialSubmissionError) Error() string {
	failed := make([]string, 0, len(e.Failed))
	for _, f := range e.Failed {
		failed = append(failed, fmt.Sprintf("warehouse %d: %s", f.WarehouseID, f.Reason))
	}
	return fmt.Sprintf("%s: %d created, %d failed (%s)", ErrPartialSubmission.Error(), len(e.Succeeded), len(e.Failed), strings.Join(failed, "; "))
}

func (e *PartialSubmissionError) Unwrap() error { return ErrPartialSubmission }

// SucceededWarehouseIDs lists the warehouses that already have a document.
func (e *PartialSubmissionError) SucceededWarehouseIDs() []int64 {
	ids := make([]int64, 0, len(e.Succeeded))
	for _, s := range e.Succeeded {
		ids = append(ids, s.WarehouseID)
	}
	return ids
}

// PaymentErrorKind classifies a rejected payment.
type PaymentErrorKind string

const (
	KindInvalidAmount    PaymentErrorKind = "InvalidAmount"
	KindInvoiceCancelled PaymentErrorKind = "InvoiceCancelled"
)

// PaymentError describes why a payment could not be applied.
type PaymentError struct {
	Kind       PaymentErrorKind `json:"kind"`
	InvoiceID  int64            `json:"invoice_id"`
	Amount     decimal.Decimal  `json:"amount"`
	BalanceDue decimal.Decimal  `json:"balance_due"`
}

func (e *PaymentError) Error() string {
	if e.Kind == KindInvoiceCancelled {
		return fmt.Sprintf("%s: invoice %d is cancelled", ErrPayment.Error(), e.InvoiceID)
	}
	return fmt.Sprintf("%s: amount %s outside (0, %s] for invoice %d", ErrPayment.Error(), e.Amount, e.BalanceDue, e.InvoiceID)
}

func (e *PaymentError) Unwrap() error { return ErrPayment }

func joinViolations(violations []AllocationError) string {
	parts := make([]string, 0, len(violations))
	for _, v := range violations {
		parts = append(parts, v.Error())
	}
	return strings.Join(parts, "; ")
}
