package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/fulfillment/internal/fulfillment"
	"github.com/odyssey-erp/fulfillment/internal/inventory"
	"github.com/odyssey-erp/fulfillment/internal/platform/cache"
	"github.com/odyssey-erp/fulfillment/internal/platform/httpx"
	"github.com/odyssey-erp/fulfillment/internal/shared"
)

// InvoiceReader loads the invoice being delivered.
type InvoiceReader interface {
	GetInvoice(ctx context.Context, id int64) (fulfillment.Invoice, error)
	ListInvoiceLines(ctx context.Context, invoiceID int64) ([]fulfillment.InvoiceLine, error)
}

// Store persists delivery documents. PostDelivery must reduce invoice line
// remaining quantities and warehouse stock atomically.
type Store interface {
	CreateDelivery(ctx context.Context, doc fulfillment.DeliveryDocument, createdBy int64) (int64, error)
	GetDelivery(ctx context.Context, id int64) (fulfillment.DeliveryDocument, error)
	ListDeliveries(ctx context.Context, invoiceID int64) ([]fulfillment.DeliveryDocument, error)
	PostDelivery(ctx context.Context, id, actorID int64) (fulfillment.DeliveryDocument, error)
	CancelDelivery(ctx context.Context, id, actorID int64) (fulfillment.DeliveryDocument, error)
}

// ProposalCache keeps proposals between propose and submit.
type ProposalCache interface {
	Save(ctx context.Context, p Proposal) error
	Load(ctx context.Context, invoiceID int64, proposalID string) (Proposal, error)
	Delete(ctx context.Context, invoiceID int64, proposalID string) error
}

// Locker serialises submissions per invoice.
type Locker interface {
	Acquire(ctx context.Context, key string) (*cache.Lock, error)
}

// StatusNotifier is told when a document change may move the derived
// invoice status.
type StatusNotifier interface {
	EnqueueStatusRefresh(ctx context.Context, invoiceID int64) error
}

// Recorder counts submission outcomes.
type Recorder interface {
	ObserveSubmission(outcome string)
	ObserveViolations(violations []fulfillment.AllocationError)
}

// Service provides business logic for delivery operations.
type Service struct {
	invoices    InvoiceReader
	store       Store
	stock       inventory.StockReader
	proposals   ProposalCache
	locker      Locker
	notifier    StatusNotifier
	metrics     Recorder
	logger      *slog.Logger
	proposalTTL time.Duration
	now         func() time.Time
}

// NewService constructs a delivery service.
func NewService(invoices InvoiceReader, store Store, stock inventory.StockReader, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		invoices:    invoices,
		store:       store,
		stock:       stock,
		logger:      logger,
		proposalTTL: 15 * time.Minute,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// SetProposalCache enables the propose/submit round trip.
func (s *Service) SetProposalCache(c ProposalCache, ttl time.Duration) {
	s.proposals = c
	if ttl > 0 {
		s.proposalTTL = ttl
	}
}

// SetLocker guards submissions with a per invoice lock.
func (s *Service) SetLocker(l Locker) {
	s.locker = l
}

// SetStatusNotifier sets the receiver of status refresh requests.
func (s *Service) SetStatusNotifier(n StatusNotifier) {
	s.notifier = n
}

// SetRecorder sets the metrics sink.
func (s *Service) SetRecorder(r Recorder) {
	s.metrics = r
}

// Propose validates allocations against current demand and stock and, when a
// proposal cache is configured, stores them for a later Submit.
func (s *Service) Propose(ctx context.Context, invoiceID int64, allocations []fulfillment.Allocation, actorID int64) (Proposal, error) {
	if _, err := s.openInvoice(ctx, invoiceID); err != nil {
		return Proposal{}, err
	}
	validated, err := s.validate(ctx, invoiceID, allocations)
	if err != nil {
		s.observeFailure(err, outcomeInvalid)
		return Proposal{}, err
	}

	now := s.now()
	proposal := Proposal{
		InvoiceID:   invoiceID,
		Allocations: allocations,
		Validated:   validated,
		CreatedBy:   actorID,
		CreatedAt:   now,
	}
	if s.proposals != nil {
		proposal.ID = uuid.NewString()
		proposal.ExpiresAt = now.Add(s.proposalTTL)
		if err := s.proposals.Save(ctx, proposal); err != nil {
			return Proposal{}, fmt.Errorf("delivery: save proposal: %w", err)
		}
	}
	s.observe(outcomeProposed)
	return proposal, nil
}

// Submit re-validates the allocation against freshly read lines and stock and
// creates one draft document per warehouse, one at a time. Documents created
// before a failure are kept and reported in a *fulfillment.PartialSubmissionError.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	if req.ProposalID != "" && len(req.Allocations) > 0 {
		return SubmitResult{}, ErrAmbiguousSubmission
	}
	if s.locker != nil {
		lock, err := s.locker.Acquire(ctx, shared.InvoiceSubmissionLockKey(req.InvoiceID))
		if err != nil {
			if errors.Is(err, cache.ErrLockHeld) {
				return SubmitResult{}, shared.ErrSubmissionInProgress
			}
			return SubmitResult{}, err
		}
		defer func() {
			if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
				s.logger.Warn("release submission lock", slog.Int64("invoice_id", req.InvoiceID), slog.Any("error", err))
			}
		}()
	}

	if _, err := s.openInvoice(ctx, req.InvoiceID); err != nil {
		return SubmitResult{}, err
	}

	allocations := req.Allocations
	fromProposal := req.ProposalID != ""
	if fromProposal {
		if s.proposals == nil {
			return SubmitResult{}, ErrProposalNotFound
		}
		proposal, err := s.proposals.Load(ctx, req.InvoiceID, req.ProposalID)
		if err != nil {
			return SubmitResult{}, err
		}
		allocations = proposal.Allocations
	}
	if len(allocations) == 0 {
		return SubmitResult{}, ErrNoAllocations
	}

	validated, err := s.validate(ctx, req.InvoiceID, allocations)
	if err != nil {
		var verr *fulfillment.ValidationError
		if fromProposal && errors.As(err, &verr) {
			err = &fulfillment.StaleDataError{Violations: verr.Violations}
			s.observeFailure(err, outcomeStale)
			return SubmitResult{}, err
		}
		s.observeFailure(err, outcomeInvalid)
		return SubmitResult{}, err
	}

	date := req.Date
	if date.IsZero() {
		date = s.now()
	}
	docs := fulfillment.GenerateDocuments(validated, req.InvoiceID, date)
	result := SubmitResult{SubmissionID: uuid.NewString(), Complete: validated.Complete}
	partial := &fulfillment.PartialSubmissionError{SubmissionID: result.SubmissionID}

	logger := s.logger.With(
		slog.Int64("invoice_id", req.InvoiceID),
		slog.String("submission_id", result.SubmissionID),
	)
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			partial.Failed = append(partial.Failed, fulfillment.WarehouseFailure{
				WarehouseID: doc.WarehouseID, Reason: err.Error(), Retryable: true, Err: err,
			})
			continue
		}
		doc.Number = shared.DocumentNumber(shared.PrefixDelivery, date)
		doc.SubmissionID = result.SubmissionID
		id, err := s.store.CreateDelivery(ctx, doc, req.ActorID)
		if err != nil {
			logger.Warn("create delivery", slog.Int64("warehouse_id", doc.WarehouseID), slog.Any("error", err))
			partial.Failed = append(partial.Failed, warehouseFailure(doc.WarehouseID, err))
			continue
		}
		doc.ID = id
		result.Deliveries = append(result.Deliveries, doc)
		partial.Succeeded = append(partial.Succeeded, fulfillment.WarehouseSuccess{
			WarehouseID: doc.WarehouseID, DeliveryID: id, Number: doc.Number,
		})
	}

	if fromProposal && len(result.Deliveries) > 0 {
		if err := s.proposals.Delete(ctx, req.InvoiceID, req.ProposalID); err != nil {
			logger.Warn("delete proposal", slog.String("proposal_id", req.ProposalID), slog.Any("error", err))
		}
	}

	if len(partial.Failed) > 0 {
		if len(partial.Succeeded) == 0 {
			s.observe(outcomeFailed)
		} else {
			s.observe(outcomePartial)
		}
		logger.Error("delivery submission incomplete",
			slog.Int("succeeded", len(partial.Succeeded)),
			slog.Int("failed", len(partial.Failed)),
		)
		return result, partial
	}

	s.observe(outcomeCreated)
	logger.Info("delivery submission created", slog.Int("documents", len(result.Deliveries)))
	return result, nil
}

// GetDelivery loads one document.
func (s *Service) GetDelivery(ctx context.Context, id int64) (fulfillment.DeliveryDocument, error) {
	return s.store.GetDelivery(ctx, id)
}

// ListDeliveries lists the documents of an invoice.
func (s *Service) ListDeliveries(ctx context.Context, invoiceID int64) ([]fulfillment.DeliveryDocument, error) {
	return s.store.ListDeliveries(ctx, invoiceID)
}

// PostDelivery ships a draft document.
func (s *Service) PostDelivery(ctx context.Context, id, actorID int64) (fulfillment.DeliveryDocument, error) {
	doc, err := s.store.GetDelivery(ctx, id)
	if err != nil {
		return fulfillment.DeliveryDocument{}, err
	}
	if !doc.Status.CanPost() {
		return fulfillment.DeliveryDocument{}, fmt.Errorf("delivery %d is %s: %w", id, doc.Status, shared.ErrInvalidTransition)
	}
	if _, err := s.openInvoice(ctx, doc.InvoiceID); err != nil {
		return fulfillment.DeliveryDocument{}, err
	}
	posted, err := s.store.PostDelivery(ctx, id, actorID)
	if err != nil {
		return fulfillment.DeliveryDocument{}, fmt.Errorf("delivery: post %d: %w", id, err)
	}
	s.logger.Info("delivery posted", slog.Int64("delivery_id", id), slog.Int64("invoice_id", posted.InvoiceID))
	s.notify(ctx, posted.InvoiceID)
	return posted, nil
}

// CancelDelivery voids a draft document.
func (s *Service) CancelDelivery(ctx context.Context, id, actorID int64) (fulfillment.DeliveryDocument, error) {
	doc, err := s.store.GetDelivery(ctx, id)
	if err != nil {
		return fulfillment.DeliveryDocument{}, err
	}
	if !doc.Status.CanCancel() {
		return fulfillment.DeliveryDocument{}, fmt.Errorf("delivery %d is %s: %w", id, doc.Status, shared.ErrInvalidTransition)
	}
	cancelled, err := s.store.CancelDelivery(ctx, id, actorID)
	if err != nil {
		return fulfillment.DeliveryDocument{}, fmt.Errorf("delivery: cancel %d: %w", id, err)
	}
	s.logger.Info("delivery cancelled", slog.Int64("delivery_id", id), slog.Int64("invoice_id", cancelled.InvoiceID))
	s.notify(ctx, cancelled.InvoiceID)
	return cancelled, nil
}

func (s *Service) openInvoice(ctx context.Context, invoiceID int64) (fulfillment.Invoice, error) {
	invoice, err := s.invoices.GetInvoice(ctx, invoiceID)
	if err != nil {
		return fulfillment.Invoice{}, err
	}
	if invoice.RawStatus.IsTerminal() {
		return fulfillment.Invoice{}, fmt.Errorf("invoice %d is %s: %w", invoiceID, invoice.RawStatus, ErrInvoiceNotOpen)
	}
	return invoice, nil
}

// validate reads lines and the stock of every warehouse named in the
// allocation, then runs the solver.
func (s *Service) validate(ctx context.Context, invoiceID int64, allocations []fulfillment.Allocation) (fulfillment.ValidatedAllocation, error) {
	lines, err := s.invoices.ListInvoiceLines(ctx, invoiceID)
	if err != nil {
		return fulfillment.ValidatedAllocation{}, fmt.Errorf("delivery: read lines: %w", err)
	}
	warehouseIDs := make([]int64, 0, len(allocations))
	for _, a := range allocations {
		warehouseIDs = append(warehouseIDs, a.WarehouseID)
	}
	snapshot, err := inventory.Snapshot(ctx, s.stock, warehouseIDs)
	if err != nil {
		return fulfillment.ValidatedAllocation{}, fmt.Errorf("delivery: read stock: %w", err)
	}
	return fulfillment.ProposeAllocation(fulfillment.BuildDemand(lines), snapshot, allocations)
}

func warehouseFailure(warehouseID int64, err error) fulfillment.WarehouseFailure {
	failure := fulfillment.WarehouseFailure{WarehouseID: warehouseID, Reason: err.Error(), Err: err}
	var stockErr *inventory.StockError
	switch {
	case errors.As(err, &stockErr):
		failure.Retryable = true
		failure.Violations = []fulfillment.AllocationError{
			fulfillment.ExceedsStock(stockErr.ProductID, stockErr.WarehouseID, stockErr.Requested, stockErr.OnHand),
		}
	case errors.Is(err, inventory.ErrInsufficientStock):
		failure.Retryable = true
	case errors.Is(err, httpx.ErrConflict), errors.Is(err, httpx.ErrValidation), errors.Is(err, httpx.ErrNotFound):
		failure.Retryable = false
	default:
		failure.Retryable = true
	}
	return failure
}

func (s *Service) notify(ctx context.Context, invoiceID int64) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.EnqueueStatusRefresh(ctx, invoiceID); err != nil {
		s.logger.Warn("enqueue status refresh", slog.Int64("invoice_id", invoiceID), slog.Any("error", err))
	}
}

func (s *Service) observe(outcome string) {
	if s.metrics != nil {
		s.metrics.ObserveSubmission(outcome)
	}
}

func (s *Service) observeFailure(err error, outcome string) {
	if s.metrics == nil {
		return
	}
	var verr *fulfillment.ValidationError
	var stale *fulfillment.StaleDataError
	switch {
	case errors.As(err, &verr):
		s.metrics.ObserveViolations(verr.Violations)
	case errors.As(err, &stale):
		s.metrics.ObserveViolations(stale.Violations)
	default:
		return
	}
	s.metrics.ObserveSubmission(outcome)
}
