package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/fulfillment/internal/invoices"
	jobmetrics "github.com/odyssey-erp/fulfillment/internal/jobs"
	"github.com/odyssey-erp/fulfillment/internal/platform/httpx"
	"github.com/odyssey-erp/fulfillment/internal/shared"
)

const defaultStatusTTL = 7 * 24 * time.Hour

// StatusSource derives the effective status of an invoice.
type StatusSource interface {
	Status(ctx context.Context, invoiceID int64) (invoices.StatusView, error)
}

// StatusRefreshJob recomputes an invoice's derived status and records the
// change against the last value it saw.
type StatusRefreshJob struct {
	Source  StatusSource
	Redis   *redis.Client
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	TTL     time.Duration
}

// NewStatusRefreshJob initialises the status refresh handler.
func NewStatusRefreshJob(source StatusSource, rdb *redis.Client, logger *slog.Logger, metrics *jobmetrics.Metrics) *StatusRefreshJob {
	return &StatusRefreshJob{Source: source, Redis: rdb, Logger: logger, Metrics: metrics, TTL: defaultStatusTTL}
}

// Handle executes one refresh.
func (j *StatusRefreshJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Source == nil {
		return errors.New("status refresh: handler not configured")
	}
	var payload StatusRefreshPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.InvoiceID <= 0 {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskStatusRefresh)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.Int64("invoice_id", payload.InvoiceID))
	view, err := j.Source.Status(ctx, payload.InvoiceID)
	if errors.Is(err, httpx.ErrNotFound) {
		logger.Warn("status refresh skipped, invoice missing")
		return asynq.SkipRetry
	}
	if err != nil {
		logger.Error("status refresh failed", slog.Any("error", err))
		return err
	}

	previous, err := j.swap(ctx, payload.InvoiceID, string(view.Status))
	if err != nil {
		logger.Error("status refresh failed", slog.Any("error", err))
		return err
	}
	if previous == string(view.Status) {
		logger.Debug("invoice status unchanged", slog.String("status", previous))
		return nil
	}
	j.metrics().AddTransition(previous, string(view.Status))
	logger.Info("invoice status changed",
		slog.String("from", previous),
		slog.String("to", string(view.Status)),
		slog.String("raw_status", string(view.RawStatus)),
	)
	return nil
}

// swap stores the new status and returns the one seen before, or "" when
// there was none.
func (j *StatusRefreshJob) swap(ctx context.Context, invoiceID int64, status string) (string, error) {
	if j.Redis == nil {
		return "", nil
	}
	key := shared.DerivedStatusKey(invoiceID)
	var previous *redis.StringCmd
	_, err := j.Redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		previous = pipe.GetSet(ctx, key, status)
		pipe.Expire(ctx, key, j.ttl())
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", err
	}
	value, err := previous.Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return value, err
}

func (j *StatusRefreshJob) ttl() time.Duration {
	if j.TTL > 0 {
		return j.TTL
	}
	return defaultStatusTTL
}

func (j *StatusRefreshJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskStatusRefresh))
	}
	return slog.Default().With(slog.String("job", TaskStatusRefresh))
}

func (j *StatusRefreshJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
