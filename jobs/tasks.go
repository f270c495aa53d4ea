package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/fulfillment/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskStatusRefresh recomputes the derived status of one invoice.
	TaskStatusRefresh = "fulfillment:status_refresh"
	// TaskStatusSweep enqueues a refresh for every open invoice.
	TaskStatusSweep = "fulfillment:status_sweep"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// StatusRefreshPayload identifies the invoice to refresh.
type StatusRefreshPayload struct {
	InvoiceID int64 `json:"invoice_id"`
}

// StatusSweepPayload bounds one sweep run.
type StatusSweepPayload struct {
	Limit int `json:"limit,omitempty"`
}

// NewStatusRefreshTask constructs an Asynq task.
func NewStatusRefreshTask(invoiceID int64) (*asynq.Task, error) {
	if invoiceID <= 0 {
		return nil, fmt.Errorf("status refresh: invalid invoice id %d", invoiceID)
	}
	data, err := json.Marshal(StatusRefreshPayload{InvoiceID: invoiceID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStatusRefresh, data), nil
}

// NewStatusSweepTask constructs an Asynq task.
func NewStatusSweepTask(limit int) (*asynq.Task, error) {
	data, err := json.Marshal(StatusSweepPayload{Limit: limit})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStatusSweep, data), nil
}
