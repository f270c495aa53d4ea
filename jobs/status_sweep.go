package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/fulfillment/internal/jobs"
)

// OpenInvoiceLister lists invoices whose derived status may still move.
type OpenInvoiceLister interface {
	ListOpenInvoiceIDs(ctx context.Context, limit int) ([]int64, error)
}

// RefreshEnqueuer schedules a status refresh for one invoice.
type RefreshEnqueuer interface {
	EnqueueStatusRefresh(ctx context.Context, invoiceID int64) error
}

// StatusSweepJob fans out refresh tasks for every open invoice.
type StatusSweepJob struct {
	Invoices OpenInvoiceLister
	Enqueuer RefreshEnqueuer
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// NewStatusSweepJob initialises the sweep handler.
func NewStatusSweepJob(invoices OpenInvoiceLister, enqueuer RefreshEnqueuer, logger *slog.Logger, metrics *jobmetrics.Metrics) *StatusSweepJob {
	return &StatusSweepJob{Invoices: invoices, Enqueuer: enqueuer, Logger: logger, Metrics: metrics}
}

// Handle executes one sweep. A failed enqueue is logged and the sweep
// carries on with the next invoice.
func (j *StatusSweepJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Invoices == nil || j.Enqueuer == nil {
		return errors.New("status sweep: handler not configured")
	}
	var payload StatusSweepPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}

	start := time.Now()
	tracker := j.metrics().Track(TaskStatusSweep)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger()
	ids, err := j.Invoices.ListOpenInvoiceIDs(ctx, payload.Limit)
	if err != nil {
		logger.Error("status sweep failed", slog.Any("error", err))
		return err
	}

	enqueued := 0
	for _, id := range ids {
		if err := j.Enqueuer.EnqueueStatusRefresh(ctx, id); err != nil {
			logger.Warn("status sweep enqueue failed", slog.Int64("invoice_id", id), slog.Any("error", err))
			continue
		}
		enqueued++
	}
	logger.Info("completed status sweep",
		slog.Int("invoices", len(ids)),
		slog.Int("enqueued", enqueued),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

func (j *StatusSweepJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskStatusSweep))
	}
	return slog.Default().With(slog.String("job", TaskStatusSweep))
}

func (j *StatusSweepJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
