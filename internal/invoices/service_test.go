package invoices

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/fulfillment/internal/fulfillment"
	"github.com/odyssey-erp/fulfillment/internal/rbac"
	"github.com/odyssey-erp/fulfillment/internal/shared"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type memoryStore struct {
	invoices   map[int64]fulfillment.Invoice
	lines      map[int64][]fulfillment.InvoiceLine
	deliveries map[int64][]fulfillment.DeliveryDocument
	receipts   map[int64][]fulfillment.Receipt
	reads      atomic.Int32
}

func (m *memoryStore) GetInvoice(ctx context.Context, id int64) (fulfillment.Invoice, error) {
	m.reads.Add(1)
	inv, ok := m.invoices[id]
	if !ok {
		return fulfillment.Invoice{}, fmt.Errorf("invoices: get %d: %w", id, ErrNotFound)
	}
	return inv, nil
}

func (m *memoryStore) ListInvoiceLines(ctx context.Context, invoiceID int64) ([]fulfillment.InvoiceLine, error) {
	return m.lines[invoiceID], nil
}

func (m *memoryStore) ListDeliveries(ctx context.Context, invoiceID int64) ([]fulfillment.DeliveryDocument, error) {
	return m.deliveries[invoiceID], nil
}

func (m *memoryStore) ListReceipts(ctx context.Context, invoiceID int64) ([]fulfillment.Receipt, error) {
	return m.receipts[invoiceID], nil
}

func newStore() *memoryStore {
	return &memoryStore{
		invoices: map[int64]fulfillment.Invoice{
			7: {ID: 7, Number: "INV-7", RawStatus: fulfillment.StatusPosted, GrandTotal: dec("100"), TotalPaid: dec("0"), BalanceDue: dec("100")},
		},
		lines: map[int64][]fulfillment.InvoiceLine{
			7: {
				{ID: 1, InvoiceID: 7, ProductID: 10, Quantity: dec("10"), RemainingQuantity: dec("0"), LineOrder: 1},
				{ID: 2, InvoiceID: 7, ProductID: 11, Quantity: dec("5"), RemainingQuantity: dec("2"), LineOrder: 2},
			},
		},
		deliveries: map[int64][]fulfillment.DeliveryDocument{
			7: {
				{ID: 31, Number: "DO-1", InvoiceID: 7, Status: fulfillment.DocumentPosted, Lines: []fulfillment.DeliveryLine{{InvoiceLineID: 1, ProductID: 10, Quantity: dec("6")}}},
				{ID: 32, Number: "DO-2", InvoiceID: 7, Status: fulfillment.DocumentPosted, Lines: []fulfillment.DeliveryLine{{InvoiceLineID: 1, ProductID: 10, Quantity: dec("4")}}},
				{ID: 33, Number: "DO-3", InvoiceID: 7, Status: fulfillment.DocumentDraft, Lines: []fulfillment.DeliveryLine{{InvoiceLineID: 2, ProductID: 11, Quantity: dec("3")}}},
			},
		},
		receipts: map[int64][]fulfillment.Receipt{},
	}
}

func newService(store *memoryStore, mode fulfillment.AttributionMode) *Service {
	return NewService(store, store, store, mode, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestServiceStatus(t *testing.T) {
	store := newStore()
	svc := newService(store, "")

	view, err := svc.Status(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, fulfillment.StatusPosted, view.Status)

	store.receipts[7] = []fulfillment.Receipt{{
		ID: 1, InvoiceID: 7, Amount: dec("100"), Status: fulfillment.DocumentPosted,
		Allocations: []fulfillment.ReceiptAllocation{{InvoiceID: 7, AllocatedAmount: dec("100")}},
	}}
	view, err = svc.Status(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, fulfillment.StatusPaid, view.Status)
	assert.True(t, view.PostedPayments.Equal(dec("100")))

	store.lines[7][1].RemainingQuantity = dec("0")
	view, err = svc.Status(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, fulfillment.StatusCompleted, view.Status)
	assert.Equal(t, fulfillment.StatusPosted, view.RawStatus)
}

func TestServiceStatusNotFound(t *testing.T) {
	svc := newService(newStore(), "")
	_, err := svc.Status(context.Background(), 99)
	require.ErrorIs(t, err, ErrNotFound)
}

// gatedStore holds the first GetInvoice until release is closed.
type gatedStore struct {
	*memoryStore
	entered chan struct{}
	release chan struct{}
	calls   atomic.Int32
	mu      sync.Mutex
	callers []int64
}

func newGatedStore() *gatedStore {
	return &gatedStore{memoryStore: newStore(), entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedStore) GetInvoice(ctx context.Context, id int64) (fulfillment.Invoice, error) {
	if p, ok := shared.PrincipalFromContext(ctx); ok {
		g.mu.Lock()
		g.callers = append(g.callers, p.UserID)
		g.mu.Unlock()
	}
	if g.calls.Add(1) == 1 {
		close(g.entered)
		select {
		case <-g.release:
		case <-ctx.Done():
			return fulfillment.Invoice{}, ctx.Err()
		}
	}
	return g.memoryStore.GetInvoice(ctx, id)
}

type statusResult struct {
	view StatusView
	err  error
}

func statusAsync(ctx context.Context, svc *Service, id int64) <-chan statusResult {
	out := make(chan statusResult, 1)
	go func() {
		view, err := svc.Status(ctx, id)
		out <- statusResult{view: view, err: err}
	}()
	return out
}

func TestServiceStatusSurvivesFirstCallerCancel(t *testing.T) {
	store := newGatedStore()
	svc := NewService(store, store, store, "", slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctxA, cancelA := context.WithCancel(context.Background())
	first := statusAsync(ctxA, svc, 7)
	<-store.entered
	second := statusAsync(context.Background(), svc, 7)
	time.Sleep(20 * time.Millisecond)

	cancelA()
	res := <-first
	require.ErrorIs(t, res.err, context.Canceled)

	close(store.release)
	select {
	case res = <-second:
		require.NoError(t, res.err)
		assert.Equal(t, fulfillment.StatusPosted, res.view.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("second caller did not get a status")
	}
}

func TestServiceStatusReadScope(t *testing.T) {
	store := newGatedStore()
	svc := NewService(store, store, store, "", slog.New(slog.NewTextHandler(io.Discard, nil)))
	svc.SetReadScope(func(ctx context.Context) string {
		p, _ := shared.PrincipalFromContext(ctx)
		return strconv.FormatInt(p.UserID, 10)
	})

	first := statusAsync(shared.ContextWithPrincipal(context.Background(), shared.Principal{UserID: 1, Token: "a"}), svc, 7)
	<-store.entered
	second := statusAsync(shared.ContextWithPrincipal(context.Background(), shared.Principal{UserID: 2, Token: "b"}), svc, 7)

	select {
	case res := <-second:
		require.NoError(t, res.err)
	case <-time.After(2 * time.Second):
		t.Fatal("caller with other credentials waited on a shared read")
	}
	close(store.release)
	require.NoError(t, (<-first).err)

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.ElementsMatch(t, []int64{1, 2}, store.callers)
}

func TestServiceDemand(t *testing.T) {
	svc := newService(newStore(), "")
	view, err := svc.Demand(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, view.Products, 2)
	assert.True(t, view.Products[0].Remaining.IsZero())
	assert.Empty(t, view.Products[0].Lines)
	assert.True(t, view.Products[1].Remaining.Equal(dec("2")))
}

func TestServiceAttribution(t *testing.T) {
	store := newStore()

	legacy, err := newService(store, fulfillment.AttributionLegacy).Attribution(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, legacy.Deliveries, 3)
	assert.Equal(t, fulfillment.AttributionLegacy, legacy.Mode)
	assert.True(t, legacy.Deliveries[0].Amount.Equal(dec("30")), legacy.Deliveries[0].Amount.String())
	assert.True(t, legacy.Deliveries[1].Amount.Equal(dec("20")))
	assert.True(t, legacy.Deliveries[2].Amount.IsZero())

	proportional, err := newService(store, fulfillment.AttributionProportional).Attribution(context.Background(), 7)
	require.NoError(t, err)
	assert.True(t, proportional.Deliveries[0].Amount.Equal(dec("60")))
	assert.True(t, proportional.Deliveries[1].Amount.Equal(dec("40")))
}

func TestHandlerRoutes(t *testing.T) {
	store := newStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	perms := rbac.NewService(staticPerms{1: {shared.PermInvoiceView}})
	h := NewHandler(logger, newService(store, ""), rbac.Middleware{Service: perms, Logger: logger})

	r := chi.NewRouter()
	r.Route("/invoices", h.MountRoutes)

	do := func(path string, userID int64) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req = req.WithContext(shared.ContextWithPrincipal(req.Context(), shared.Principal{UserID: userID}))
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)
		return rr
	}

	rr := do("/invoices/7/status", 1)
	require.Equal(t, http.StatusOK, rr.Code)
	var view StatusView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &view))
	assert.Equal(t, fulfillment.StatusPosted, view.Status)

	assert.Equal(t, http.StatusOK, do("/invoices/7/demand", 1).Code)
	assert.Equal(t, http.StatusOK, do("/invoices/7/attribution", 1).Code)
	assert.Equal(t, http.StatusNotFound, do("/invoices/99/status", 1).Code)
	assert.Equal(t, http.StatusBadRequest, do("/invoices/abc/status", 1).Code)
	assert.Equal(t, http.StatusForbidden, do("/invoices/7/status", 2).Code)
}

type staticPerms map[int64][]string

func (s staticPerms) EffectivePermissions(ctx context.Context, userID int64) ([]string, error) {
	return s[userID], nil
}
