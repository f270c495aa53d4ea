package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/fulfillment/internal/fulfillment"
	"github.com/odyssey-erp/fulfillment/internal/invoices"
	jobmetrics "github.com/odyssey-erp/fulfillment/internal/jobs"
	"github.com/odyssey-erp/fulfillment/internal/shared"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubSource struct {
	status fulfillment.InvoiceStatus
	err    error
	calls  int
}

func (s *stubSource) Status(ctx context.Context, invoiceID int64) (invoices.StatusView, error) {
	s.calls++
	if s.err != nil {
		return invoices.StatusView{}, s.err
	}
	return invoices.StatusView{InvoiceID: invoiceID, RawStatus: fulfillment.StatusPosted, Status: s.status}, nil
}

func refreshTask(t *testing.T, invoiceID int64) *asynq.Task {
	t.Helper()
	task, err := NewStatusRefreshTask(invoiceID)
	require.NoError(t, err)
	return task
}

func TestStatusRefreshRecordsTransitions(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	source := &stubSource{status: fulfillment.StatusPosted}
	job := NewStatusRefreshJob(source, rdb, discardLogger(), jobmetrics.NewMetrics(prometheus.NewRegistry()))
	ctx := context.Background()

	require.NoError(t, job.Handle(ctx, refreshTask(t, 7)))
	stored, err := mr.Get(shared.DerivedStatusKey(7))
	require.NoError(t, err)
	assert.Equal(t, "Posted", stored)
	assert.Equal(t, defaultStatusTTL, mr.TTL(shared.DerivedStatusKey(7)))

	source.status = fulfillment.StatusDelivered
	require.NoError(t, job.Handle(ctx, refreshTask(t, 7)))
	stored, err = mr.Get(shared.DerivedStatusKey(7))
	require.NoError(t, err)
	assert.Equal(t, "Delivered", stored)

	previous, err := job.swap(ctx, 7, "Delivered")
	require.NoError(t, err)
	assert.Equal(t, "Delivered", previous)
}

func TestStatusRefreshWithoutRedis(t *testing.T) {
	source := &stubSource{status: fulfillment.StatusPaid}
	job := NewStatusRefreshJob(source, nil, discardLogger(), jobmetrics.NewMetrics(prometheus.NewRegistry()))

	require.NoError(t, job.Handle(context.Background(), refreshTask(t, 3)))
	assert.Equal(t, 1, source.calls)
}

func TestStatusRefreshSkipsBadInput(t *testing.T) {
	source := &stubSource{err: invoices.ErrNotFound}
	job := NewStatusRefreshJob(source, nil, discardLogger(), jobmetrics.NewMetrics(prometheus.NewRegistry()))
	ctx := context.Background()

	err := job.Handle(ctx, asynq.NewTask(TaskStatusRefresh, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
	assert.Zero(t, source.calls)

	err = job.Handle(ctx, refreshTask(t, 9))
	require.ErrorIs(t, err, asynq.SkipRetry)

	source.err = errors.New("db down")
	err = job.Handle(ctx, refreshTask(t, 9))
	require.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry)

	_, err = NewStatusRefreshTask(0)
	require.Error(t, err)
}

type stubLister struct {
	ids   []int64
	limit int
	err   error
}

func (s *stubLister) ListOpenInvoiceIDs(ctx context.Context, limit int) ([]int64, error) {
	s.limit = limit
	return s.ids, s.err
}

type stubEnqueuer struct {
	enqueued []int64
	fail     int64
}

func (s *stubEnqueuer) EnqueueStatusRefresh(ctx context.Context, invoiceID int64) error {
	if invoiceID == s.fail {
		return errors.New("queue full")
	}
	s.enqueued = append(s.enqueued, invoiceID)
	return nil
}

func TestStatusSweepFansOut(t *testing.T) {
	lister := &stubLister{ids: []int64{1, 2, 3}}
	enqueuer := &stubEnqueuer{fail: 2}
	job := NewStatusSweepJob(lister, enqueuer, discardLogger(), jobmetrics.NewMetrics(prometheus.NewRegistry()))

	task, err := NewStatusSweepTask(50)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, 50, lister.limit)
	assert.Equal(t, []int64{1, 3}, enqueuer.enqueued)

	lister.err = errors.New("db down")
	require.Error(t, job.Handle(context.Background(), task))
}

type stubInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (s stubInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	return s.info, s.err
}

func TestHealthHandler(t *testing.T) {
	serve := func(inspector QueueInspector) *httptest.ResponseRecorder {
		r := chi.NewRouter()
		NewHandler(inspector, discardLogger()).MountRoutes(r)
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
		return rr
	}

	rr := serve(stubInspector{info: &asynq.QueueInfo{Queue: QueueDefault, Pending: 4, Failed: 1}})
	require.Equal(t, http.StatusOK, rr.Code)
	var body queueHealth
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, 4, body.Pending)
	assert.Equal(t, 1, body.Failed)

	rr = serve(stubInspector{err: errors.New("redis down")})
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	rr = serve(nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}
