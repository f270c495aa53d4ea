package cli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/fulfillment/jobs"
)

// Enqueuer submits prepared tasks.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Inspector reads queue state.
type Inspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
}

// JobsCLI wraps manual management helpers for Asynq jobs.
type JobsCLI struct {
	client    Enqueuer
	inspector Inspector
	closers   []io.Closer
}

// NewJobsCLI initialises the CLI helpers using the provided Redis address.
func NewJobsCLI(redisAddr string) (*JobsCLI, error) {
	opts := asynq.RedisClientOpt{Addr: redisAddr}
	client := asynq.NewClient(opts)
	inspector := asynq.NewInspector(opts)
	return &JobsCLI{client: client, inspector: inspector, closers: []io.Closer{inspector, client}}, nil
}

// NewJobsCLIWith builds the helpers over existing collaborators.
func NewJobsCLIWith(client Enqueuer, inspector Inspector) *JobsCLI {
	return &JobsCLI{client: client, inspector: inspector}
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var err error
	for _, closer := range c.closers {
		if closeErr := closer.Close(); closeErr != nil {
			err = closeErr
		}
	}
	return err
}

// TriggerOptions selects what to enqueue.
type TriggerOptions struct {
	InvoiceID int64
	Limit     int
}

// Trigger enqueues a supported job by name.
func (c *JobsCLI) Trigger(ctx context.Context, name string, opts TriggerOptions) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	var task *asynq.Task
	var err error
	switch name {
	case jobs.TaskStatusRefresh:
		task, err = jobs.NewStatusRefreshTask(opts.InvoiceID)
	case jobs.TaskStatusSweep:
		task, err = jobs.NewStatusSweepTask(opts.Limit)
	default:
		return nil, fmt.Errorf("jobs cli: unsupported job %s", name)
	}
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task, asynq.Queue(jobs.QueueDefault), asynq.MaxRetry(3))
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Retry     int    `json:"retry"`
	Archived  int    `json:"archived"`
}

// InspectQueue reports the queue metrics for the default queue.
func (c *JobsCLI) InspectQueue(ctx context.Context) (QueueStats, error) {
	if c == nil || c.inspector == nil {
		return QueueStats{}, errors.New("jobs cli: inspector not configured")
	}
	info, err := c.inspector.GetQueueInfo(jobs.QueueDefault)
	if err != nil {
		return QueueStats{}, err
	}
	stats := QueueStats{Queue: jobs.QueueDefault}
	if info != nil {
		stats.Pending = info.Pending
		stats.Active = info.Active
		stats.Scheduled = info.Scheduled
		stats.Retry = info.Retry
		stats.Archived = info.Archived
	}
	return stats, nil
}

// IO carries the command output streams.
type IO struct {
	Stdout io.Writer
	Stderr io.Writer
}

// Run executes `jobs <refresh-status|sweep|inspect>` and returns the exit code.
func (c *JobsCLI) Run(ctx context.Context, args []string, streams IO) int {
	if streams.Stdout == nil {
		streams.Stdout = os.Stdout
	}
	if streams.Stderr == nil {
		streams.Stderr = os.Stderr
	}
	if len(args) == 0 {
		_, _ = fmt.Fprintln(streams.Stderr, "usage: jobs <refresh-status|sweep|inspect> [flags]")
		return 2
	}

	fs := flag.NewFlagSet("jobs "+args[0], flag.ContinueOnError)
	fs.SetOutput(streams.Stderr)
	invoiceID := fs.Int64("invoice", 0, "invoice id to refresh")
	limit := fs.Int("limit", 0, "maximum invoices per sweep")
	if err := fs.Parse(args[1:]); err != nil {
		return 2
	}

	switch args[0] {
	case "refresh-status":
		if *invoiceID <= 0 {
			_, _ = fmt.Fprintln(streams.Stderr, "jobs refresh-status: --invoice is required and must be positive")
			return 1
		}
		return c.trigger(ctx, jobs.TaskStatusRefresh, TriggerOptions{InvoiceID: *invoiceID}, streams)
	case "sweep":
		return c.trigger(ctx, jobs.TaskStatusSweep, TriggerOptions{Limit: *limit}, streams)
	case "inspect":
		stats, err := c.InspectQueue(ctx)
		if err != nil {
			_, _ = fmt.Fprintf(streams.Stderr, "jobs inspect: %v\n", err)
			return 1
		}
		if err := json.NewEncoder(streams.Stdout).Encode(stats); err != nil {
			_, _ = fmt.Fprintf(streams.Stderr, "jobs inspect: encode json: %v\n", err)
			return 1
		}
		return 0
	default:
		_, _ = fmt.Fprintf(streams.Stderr, "jobs: unknown command %q\n", args[0])
		return 2
	}
}

func (c *JobsCLI) trigger(ctx context.Context, name string, opts TriggerOptions, streams IO) int {
	info, err := c.Trigger(ctx, name, opts)
	if err != nil {
		_, _ = fmt.Fprintf(streams.Stderr, "jobs %s: %v\n", name, err)
		return 1
	}
	_, _ = fmt.Fprintf(streams.Stdout, "enqueued %s id=%s queue=%s\n", name, info.ID, info.Queue)
	return 0
}
