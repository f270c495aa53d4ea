package receipts

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/odyssey-erp/fulfillment/internal/fulfillment"
	"github.com/odyssey-erp/fulfillment/internal/shared"
)

// InvoiceReader loads the invoice being paid.
type InvoiceReader interface {
	GetInvoice(ctx context.Context, id int64) (fulfillment.Invoice, error)
}

// Store persists receipts. PostReceipt must reduce the invoice balance in
// the same transaction.
type Store interface {
	CreateReceipt(ctx context.Context, receipt fulfillment.Receipt, createdBy int64) (int64, error)
	GetReceipt(ctx context.Context, id int64) (fulfillment.Receipt, error)
	ListReceipts(ctx context.Context, invoiceID int64) ([]fulfillment.Receipt, error)
	PostReceipt(ctx context.Context, id, actorID int64) (fulfillment.Receipt, error)
	CancelReceipt(ctx context.Context, id, actorID int64) (fulfillment.Receipt, error)
}

// StatusNotifier is told when a receipt change may move the derived
// invoice status.
type StatusNotifier interface {
	EnqueueStatusRefresh(ctx context.Context, invoiceID int64) error
}

// Recorder counts payment outcomes.
type Recorder interface {
	ObservePayment(outcome string)
}

// Service handles receipt business logic.
type Service struct {
	invoices InvoiceReader
	store    Store
	notifier StatusNotifier
	metrics  Recorder
	logger   *slog.Logger
	now      func() time.Time
}

// NewService builds Service instance.
func NewService(invoices InvoiceReader, store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		invoices: invoices,
		store:    store,
		logger:   logger,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// SetStatusNotifier sets the receiver of status refresh requests.
func (s *Service) SetStatusNotifier(n StatusNotifier) {
	s.notifier = n
}

// SetRecorder sets the metrics sink.
func (s *Service) SetRecorder(r Recorder) {
	s.metrics = r
}

// CreateReceipt validates the amount against the invoice balance and stores
// a draft receipt allocated in full to the invoice.
func (s *Service) CreateReceipt(ctx context.Context, req CreateRequest) (fulfillment.Receipt, error) {
	invoice, err := s.invoices.GetInvoice(ctx, req.InvoiceID)
	if err != nil {
		return fulfillment.Receipt{}, err
	}
	paidAt := req.PaidAt
	if paidAt.IsZero() {
		paidAt = s.now()
	}
	receipt, err := fulfillment.ApplyPayment(invoice, req.Amount, paidAt)
	if err != nil {
		s.observe(outcomeRejected)
		return fulfillment.Receipt{}, err
	}
	receipt.Number = shared.DocumentNumber(shared.PrefixReceipt, paidAt)
	receipt.Method = req.Method
	receipt.Note = req.Note

	id, err := s.store.CreateReceipt(ctx, receipt, req.ActorID)
	if err != nil {
		return fulfillment.Receipt{}, fmt.Errorf("receipts: create: %w", err)
	}
	receipt.ID = id
	s.observe(outcomeAccepted)
	s.logger.Info("receipt created",
		slog.Int64("receipt_id", id),
		slog.Int64("invoice_id", req.InvoiceID),
		slog.String("amount", receipt.Amount.String()),
	)
	return receipt, nil
}

// GetReceipt loads one receipt.
func (s *Service) GetReceipt(ctx context.Context, id int64) (fulfillment.Receipt, error) {
	return s.store.GetReceipt(ctx, id)
}

// ListReceipts lists the receipts of an invoice.
func (s *Service) ListReceipts(ctx context.Context, invoiceID int64) ([]fulfillment.Receipt, error) {
	return s.store.ListReceipts(ctx, invoiceID)
}

// PostReceipt confirms a draft receipt.
func (s *Service) PostReceipt(ctx context.Context, id, actorID int64) (fulfillment.Receipt, error) {
	receipt, err := s.transition(ctx, id, fulfillment.DocumentStatus.CanPost)
	if err != nil {
		return fulfillment.Receipt{}, err
	}
	posted, err := s.store.PostReceipt(ctx, receipt.ID, actorID)
	if err != nil {
		return fulfillment.Receipt{}, fmt.Errorf("receipts: post %d: %w", id, err)
	}
	s.logger.Info("receipt posted", slog.Int64("receipt_id", id), slog.Int64("invoice_id", posted.InvoiceID))
	s.notify(ctx, posted.InvoiceID)
	return posted, nil
}

// CancelReceipt voids a draft receipt.
func (s *Service) CancelReceipt(ctx context.Context, id, actorID int64) (fulfillment.Receipt, error) {
	receipt, err := s.transition(ctx, id, fulfillment.DocumentStatus.CanCancel)
	if err != nil {
		return fulfillment.Receipt{}, err
	}
	cancelled, err := s.store.CancelReceipt(ctx, receipt.ID, actorID)
	if err != nil {
		return fulfillment.Receipt{}, fmt.Errorf("receipts: cancel %d: %w", id, err)
	}
	s.logger.Info("receipt cancelled", slog.Int64("receipt_id", id), slog.Int64("invoice_id", cancelled.InvoiceID))
	s.notify(ctx, cancelled.InvoiceID)
	return cancelled, nil
}

func (s *Service) transition(ctx context.Context, id int64, allowed func(fulfillment.DocumentStatus) bool) (fulfillment.Receipt, error) {
	receipt, err := s.store.GetReceipt(ctx, id)
	if err != nil {
		return fulfillment.Receipt{}, err
	}
	if !allowed(receipt.Status) {
		return fulfillment.Receipt{}, fmt.Errorf("receipt %d is %s: %w", id, receipt.Status, shared.ErrInvalidTransition)
	}
	return receipt, nil
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
		s.metrics.ObservePayment(outcome)
	}
}
