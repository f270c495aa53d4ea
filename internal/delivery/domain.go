// Package delivery turns validated warehouse allocations into delivery
// documents and drives their lifecycle.
package delivery

import (
	"fmt"
	"time"

	"github.com/odyssey-erp/fulfillment/internal/fulfillment"
	"github.com/odyssey-erp/fulfillment/internal/platform/httpx"
)

var (
	// ErrNotFound indicates the delivery document does not exist.
	ErrNotFound = fmt.Errorf("delivery not found: %w", httpx.ErrNotFound)
	// ErrProposalNotFound indicates the proposal expired or never existed.
	ErrProposalNotFound = fmt.Errorf("allocation proposal not found or expired: %w", httpx.ErrNotFound)
	// ErrInvoiceNotOpen indicates the invoice no longer accepts deliveries.
	ErrInvoiceNotOpen = fmt.Errorf("invoice does not accept deliveries: %w", httpx.ErrConflict)
	// ErrNoAllocations indicates a submission without allocations or proposal.
	ErrNoAllocations = fmt.Errorf("allocations or proposal_id required: %w", httpx.ErrValidation)
	// ErrAmbiguousSubmission indicates a submission naming both a proposal
	// and allocations.
	ErrAmbiguousSubmission = fmt.Errorf("allocations and proposal_id are mutually exclusive: %w", httpx.ErrValidation)
)

// Proposal is a validated allocation kept for a later submit.
type Proposal struct {
	ID          string                          `json:"proposal_id"`
	InvoiceID   int64                           `json:"invoice_id"`
	Allocations []fulfillment.Allocation        `json:"allocations"`
	Validated   fulfillment.ValidatedAllocation `json:"validated"`
	CreatedBy   int64                           `json:"created_by"`
	CreatedAt   time.Time                       `json:"created_at"`
	ExpiresAt   time.Time                       `json:"expires_at"`
}

// SubmitRequest asks for delivery documents for an invoice. When ProposalID
// is set the stored allocations are used and Allocations is ignored.
type SubmitRequest struct {
	InvoiceID   int64
	ProposalID  string
	Allocations []fulfillment.Allocation
	Date        time.Time
	ActorID     int64
}

// SubmitResult lists the documents created by one submission.
type SubmitResult struct {
	SubmissionID string                         `json:"submission_id"`
	Deliveries   []fulfillment.DeliveryDocument `json:"deliveries"`
	Complete     map[int64]bool                 `json:"complete"`
}

// submission outcomes recorded in metrics.
const (
	outcomeCreated  = "created"
	outcomeInvalid  = "invalid"
	outcomeStale    = "stale"
	outcomePartial  = "partial"
	outcomeFailed   = "failed"
	outcomeProposed = "proposed"
)
