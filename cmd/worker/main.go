package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/fulfillment/internal/app"
	"github.com/odyssey-erp/fulfillment/internal/observability"
	"github.com/odyssey-erp/fulfillment/internal/platform/cache"
	"github.com/odyssey-erp/fulfillment/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	stores, err := app.NewStores(ctx, cfg, logger)
	if err != nil {
		logger.Error("connect store", slog.String("backend", cfg.StoreBackend), slog.Any("error", err))
		os.Exit(1)
	}
	defer stores.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	services := app.NewServices(cfg, stores, app.ServiceDeps{Redis: redisClient, Metrics: metrics, Logger: logger})

	refreshJob := jobs.NewStatusRefreshJob(services.Invoices, redisClient, logger, metrics.Jobs())
	handlers := []jobs.TaskHandler{
		{Type: jobs.TaskStatusRefresh, Handler: withStores(stores, refreshJob.Handle)},
	}

	var cron []jobs.CronRegistration
	if stores.OpenInvoices != nil {
		sweepJob := jobs.NewStatusSweepJob(stores.OpenInvoices, jobClient, logger, metrics.Jobs())
		handlers = append(handlers, jobs.TaskHandler{Type: jobs.TaskStatusSweep, Handler: sweepJob.Handle})
		sweepTask, err := jobs.NewStatusSweepTask(cfg.StatusSweepLimit)
		if err != nil {
			logger.Error("build sweep task", slog.Any("error", err))
			os.Exit(1)
		}
		cron = append(cron, jobs.CronRegistration{Spec: cfg.StatusSweepCron, Task: sweepTask, Options: []asynq.Option{asynq.MaxRetry(1)}})
	} else {
		logger.Info("status sweep disabled", slog.String("backend", stores.Backend))
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   redisOpts,
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers:    handlers,
		Cron:        cron,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("starting worker", slog.String("backend", stores.Backend), slog.Int("handlers", len(handlers)))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}

// withStores gives a handler the credentials background calls need.
func withStores(stores *app.Stores, next asynq.HandlerFunc) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		return next(stores.BackgroundContext(ctx), t)
	}
}
