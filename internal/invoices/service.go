package invoices

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/fulfillment/internal/fulfillment"
)

// Reader loads invoice headers and lines.
type Reader interface {
	GetInvoice(ctx context.Context, id int64) (fulfillment.Invoice, error)
	ListInvoiceLines(ctx context.Context, invoiceID int64) ([]fulfillment.InvoiceLine, error)
}

// DeliveryLister lists the delivery documents of an invoice.
type DeliveryLister interface {
	ListDeliveries(ctx context.Context, invoiceID int64) ([]fulfillment.DeliveryDocument, error)
}

// ReceiptLister lists the receipts of an invoice.
type ReceiptLister interface {
	ListReceipts(ctx context.Context, invoiceID int64) ([]fulfillment.Receipt, error)
}

// Service answers derived invoice queries.
type Service struct {
	invoices    Reader
	deliveries  DeliveryLister
	receipts    ReceiptLister
	mode        fulfillment.AttributionMode
	logger      *slog.Logger
	group       singleflight.Group
	// readScope partitions shared reads by caller identity. Nil means every
	// caller may share a read.
	readScope   func(ctx context.Context) string
	readTimeout time.Duration
}

const defaultReadTimeout = 10 * time.Second

// NewService constructs the service. mode selects the attribution formula for
// the whole process.
func NewService(invoices Reader, deliveries DeliveryLister, receipts ReceiptLister, mode fulfillment.AttributionMode, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if mode == "" {
		mode = fulfillment.AttributionLegacy
	}
	return &Service{
		invoices:    invoices,
		deliveries:  deliveries,
		receipts:    receipts,
		mode:        mode,
		logger:      logger,
		readTimeout: defaultReadTimeout,
	}
}

// SetReadScope makes Status share reads only between callers that scope
// returns the same key for, e.g. callers presenting the same credentials.
func (s *Service) SetReadScope(scope func(ctx context.Context) string) {
	s.readScope = scope
}

// Mode returns the configured attribution mode.
func (s *Service) Mode() fulfillment.AttributionMode {
	return s.mode
}

// Status derives the effective status of the invoice. Concurrent calls for
// the same invoice and read scope share one read, which outlives the
// cancellation of the caller that started it.
func (s *Service) Status(ctx context.Context, invoiceID int64) (StatusView, error) {
	key := strconv.FormatInt(invoiceID, 10)
	if s.readScope != nil {
		key += "|" + s.readScope(ctx)
	}
	ch := s.group.DoChan(key, func() (any, error) {
		readCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.readTimeout)
		defer cancel()
		return s.status(readCtx, invoiceID)
	})
	select {
	case <-ctx.Done():
		return StatusView{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return StatusView{}, res.Err
		}
		return res.Val.(StatusView), nil
	}
}

func (s *Service) status(ctx context.Context, invoiceID int64) (StatusView, error) {
	var (
		invoice  fulfillment.Invoice
		lines    []fulfillment.InvoiceLine
		receipts []fulfillment.Receipt
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		invoice, err = s.invoices.GetInvoice(gctx, invoiceID)
		return err
	})
	g.Go(func() error {
		var err error
		lines, err = s.invoices.ListInvoiceLines(gctx, invoiceID)
		return err
	})
	g.Go(func() error {
		var err error
		receipts, err = s.receipts.ListReceipts(gctx, invoiceID)
		return err
	})
	if err := g.Wait(); err != nil {
		return StatusView{}, fmt.Errorf("invoices: status %d: %w", invoiceID, err)
	}

	status := fulfillment.DeriveStatus(invoice, lines, receipts)
	return StatusView{
		InvoiceID:      invoice.ID,
		Number:         invoice.Number,
		RawStatus:      invoice.RawStatus,
		Status:         status,
		GrandTotal:     invoice.GrandTotal,
		TotalPaid:      invoice.TotalPaid,
		PostedPayments: fulfillment.PostedPayments(invoice.ID, receipts),
		BalanceDue:     invoice.BalanceDue,
	}, nil
}

// Demand returns the open quantity per product.
func (s *Service) Demand(ctx context.Context, invoiceID int64) (DemandView, error) {
	if _, err := s.invoices.GetInvoice(ctx, invoiceID); err != nil {
		return DemandView{}, err
	}
	lines, err := s.invoices.ListInvoiceLines(ctx, invoiceID)
	if err != nil {
		return DemandView{}, fmt.Errorf("invoices: demand %d: %w", invoiceID, err)
	}
	return DemandView{InvoiceID: invoiceID, Products: fulfillment.BuildDemand(lines)}, nil
}

// Attribution splits the invoice grand total over its delivery documents.
func (s *Service) Attribution(ctx context.Context, invoiceID int64) (AttributionView, error) {
	invoice, err := s.invoices.GetInvoice(ctx, invoiceID)
	if err != nil {
		return AttributionView{}, err
	}
	deliveries, err := s.deliveries.ListDeliveries(ctx, invoiceID)
	if err != nil {
		return AttributionView{}, fmt.Errorf("invoices: attribution %d: %w", invoiceID, err)
	}

	amounts := fulfillment.AttributeAmounts(invoice.GrandTotal, deliveries, s.mode)
	view := AttributionView{
		InvoiceID:     invoiceID,
		Mode:          s.mode,
		InvoiceAmount: invoice.GrandTotal,
		Deliveries:    make([]DeliveryAmount, 0, len(deliveries)),
	}
	for _, d := range deliveries {
		view.Deliveries = append(view.Deliveries, DeliveryAmount{
			DeliveryID: d.ID,
			Number:     d.Number,
			Status:     d.Status,
			Amount:     amounts[d.ID],
		})
	}
	s.logger.Debug("attribution computed",
		slog.Int64("invoice_id", invoiceID),
		slog.String("mode", string(s.mode)),
		slog.Int("deliveries", len(deliveries)),
	)
	return view, nil
}
