package delivery

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/fulfillment/internal/fulfillment"
	"github.com/odyssey-erp/fulfillment/internal/inventory"
	"github.com/odyssey-erp/fulfillment/internal/platform/cache"
	"github.com/odyssey-erp/fulfillment/internal/platform/httpx"
	"github.com/odyssey-erp/fulfillment/internal/shared"
)

const (
	invoiceID = int64(500)
	productP  = int64(100)
	wh1       = int64(1)
	wh2       = int64(2)
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type stockKey struct{ warehouseID, productID int64 }

// memoryStore backs every port of the service in memory.
type memoryStore struct {
	mu         sync.Mutex
	invoice    fulfillment.Invoice
	lines      []fulfillment.InvoiceLine
	stock      map[stockKey]decimal.Decimal
	deliveries map[int64]fulfillment.DeliveryDocument
	nextID     int64
	failFor    map[int64]error
	stockReads int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		invoice: fulfillment.Invoice{ID: invoiceID, Number: "INV-500", RawStatus: fulfillment.StatusPosted,
			GrandTotal: dec("1000"), BalanceDue: dec("1000")},
		lines: []fulfillment.InvoiceLine{
			{ID: 11, InvoiceID: invoiceID, ProductID: productP, Quantity: dec("10"), RemainingQuantity: dec("10"), LineOrder: 1},
		},
		stock: map[stockKey]decimal.Decimal{
			{wh1, productP}: dec("6"),
			{wh2, productP}: dec("5"),
		},
		deliveries: make(map[int64]fulfillment.DeliveryDocument),
		nextID:     900,
		failFor:    make(map[int64]error),
	}
}

func (m *memoryStore) GetInvoice(ctx context.Context, id int64) (fulfillment.Invoice, error) {
	if id != m.invoice.ID {
		return fulfillment.Invoice{}, fmt.Errorf("invoice %d: %w", id, ErrNotFound)
	}
	return m.invoice, nil
}

func (m *memoryStore) ListInvoiceLines(ctx context.Context, id int64) ([]fulfillment.InvoiceLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]fulfillment.InvoiceLine, len(m.lines))
	copy(out, m.lines)
	return out, nil
}

func (m *memoryStore) ListStock(ctx context.Context, warehouseID int64) ([]fulfillment.StockLevel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stockReads++
	var levels []fulfillment.StockLevel
	for k, qty := range m.stock {
		if k.warehouseID == warehouseID {
			levels = append(levels, fulfillment.StockLevel{ProductID: k.productID, WarehouseID: k.warehouseID, QuantityOnHand: qty})
		}
	}
	return levels, nil
}

func (m *memoryStore) CreateDelivery(ctx context.Context, doc fulfillment.DeliveryDocument, createdBy int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failFor[doc.WarehouseID]; err != nil {
		return 0, err
	}
	m.nextID++
	doc.ID = m.nextID
	m.deliveries[doc.ID] = doc
	return doc.ID, nil
}

func (m *memoryStore) GetDelivery(ctx context.Context, id int64) (fulfillment.DeliveryDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.deliveries[id]
	if !ok {
		return fulfillment.DeliveryDocument{}, ErrNotFound
	}
	return doc, nil
}

func (m *memoryStore) ListDeliveries(ctx context.Context, id int64) ([]fulfillment.DeliveryDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var docs []fulfillment.DeliveryDocument
	for _, doc := range m.deliveries {
		if doc.InvoiceID == id {
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

func (m *memoryStore) PostDelivery(ctx context.Context, id, actorID int64) (fulfillment.DeliveryDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc := m.deliveries[id]
	for _, dl := range doc.Lines {
		k := stockKey{doc.WarehouseID, dl.ProductID}
		if m.stock[k].LessThan(dl.Quantity) {
			return fulfillment.DeliveryDocument{}, &inventory.StockError{
				WarehouseID: doc.WarehouseID, ProductID: dl.ProductID, OnHand: m.stock[k], Requested: dl.Quantity,
			}
		}
	}
	for _, dl := range doc.Lines {
		for i := range m.lines {
			if m.lines[i].ID == dl.InvoiceLineID {
				m.lines[i].RemainingQuantity = m.lines[i].RemainingQuantity.Sub(dl.Quantity)
			}
		}
		k := stockKey{doc.WarehouseID, dl.ProductID}
		m.stock[k] = m.stock[k].Sub(dl.Quantity)
	}
	doc.Status = fulfillment.DocumentPosted
	m.deliveries[id] = doc
	return doc, nil
}

func (m *memoryStore) CancelDelivery(ctx context.Context, id, actorID int64) (fulfillment.DeliveryDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc := m.deliveries[id]
	doc.Status = fulfillment.DocumentCancelled
	m.deliveries[id] = doc
	return doc, nil
}

type recordingNotifier struct {
	invoices []int64
}

func (n *recordingNotifier) EnqueueStatusRefresh(ctx context.Context, invoiceID int64) error {
	n.invoices = append(n.invoices, invoiceID)
	return nil
}

type countingRecorder struct {
	outcomes   map[string]int
	violations map[fulfillment.AllocationErrorKind]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{outcomes: map[string]int{}, violations: map[fulfillment.AllocationErrorKind]int{}}
}

func (r *countingRecorder) ObserveSubmission(outcome string) { r.outcomes[outcome]++ }

func (r *countingRecorder) ObserveViolations(violations []fulfillment.AllocationError) {
	for _, v := range violations {
		r.violations[v.Kind]++
	}
}

type fixture struct {
	store    *memoryStore
	service  *Service
	redis    *redis.Client
	mr       *miniredis.Miniredis
	notifier *recordingNotifier
	recorder *countingRecorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := newMemoryStore()
	svc := NewService(store, store, store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	svc.SetProposalCache(NewProposalStore(client, time.Minute), time.Minute)
	svc.SetLocker(cache.NewLocker(client, time.Minute))
	notifier := &recordingNotifier{}
	svc.SetStatusNotifier(notifier)
	recorder := newCountingRecorder()
	svc.SetRecorder(recorder)
	return &fixture{store: store, service: svc, redis: client, mr: mr, notifier: notifier, recorder: recorder}
}

func alloc(warehouseID int64, qty string) fulfillment.Allocation {
	return fulfillment.Allocation{ProductID: productP, WarehouseID: warehouseID, Quantity: dec(qty)}
}

func TestSubmitSplitsAcrossWarehouses(t *testing.T) {
	f := newFixture(t)
	date := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	result, err := f.service.Submit(context.Background(), SubmitRequest{
		InvoiceID:   invoiceID,
		Allocations: []fulfillment.Allocation{alloc(wh1, "6"), alloc(wh2, "4")},
		Date:        date,
		ActorID:     3,
	})
	require.NoError(t, err)
	require.Len(t, result.Deliveries, 2)
	assert.NotEmpty(t, result.SubmissionID)
	assert.True(t, result.Complete[productP])

	assert.Equal(t, wh1, result.Deliveries[0].WarehouseID)
	assert.True(t, result.Deliveries[0].TotalQuantity().Equal(dec("6")))
	assert.Equal(t, wh2, result.Deliveries[1].WarehouseID)
	assert.True(t, result.Deliveries[1].TotalQuantity().Equal(dec("4")))
	for _, doc := range result.Deliveries {
		assert.Equal(t, fulfillment.DocumentDraft, doc.Status)
		assert.Equal(t, result.SubmissionID, doc.SubmissionID)
		assert.Regexp(t, `^DO-20240301-`, doc.Number)
		assert.Equal(t, int64(11), doc.Lines[0].InvoiceLineID)
	}
	assert.Equal(t, 1, f.recorder.outcomes[outcomeCreated])
	assert.Equal(t, 2, f.store.stockReads)
}

func TestSubmitRejectsInvalidAllocation(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Submit(context.Background(), SubmitRequest{
		InvoiceID:   invoiceID,
		Allocations: []fulfillment.Allocation{alloc(wh1, "7"), alloc(wh2, "5")},
	})
	var verr *fulfillment.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.True(t, verr.Has(fulfillment.KindExceedsStock, productP, wh1))
	assert.True(t, verr.Has(fulfillment.KindOverAllocated, productP, 0))
	assert.Empty(t, f.store.deliveries)
	assert.Equal(t, 1, f.recorder.outcomes[outcomeInvalid])
	assert.Equal(t, 1, f.recorder.violations[fulfillment.KindExceedsStock])
}

func TestSubmitWithoutAllocations(t *testing.T) {
	f := newFixture(t)
	_, err := f.service.Submit(context.Background(), SubmitRequest{InvoiceID: invoiceID})
	require.ErrorIs(t, err, ErrNoAllocations)
}

func TestSubmitClosedInvoice(t *testing.T) {
	f := newFixture(t)
	f.store.invoice.RawStatus = fulfillment.StatusCancelled

	_, err := f.service.Submit(context.Background(), SubmitRequest{
		InvoiceID:   invoiceID,
		Allocations: []fulfillment.Allocation{alloc(wh1, "1")},
	})
	require.ErrorIs(t, err, ErrInvoiceNotOpen)
}

func TestProposeThenSubmit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	proposal, err := f.service.Propose(ctx, invoiceID, []fulfillment.Allocation{alloc(wh1, "6")}, 3)
	require.NoError(t, err)
	require.NotEmpty(t, proposal.ID)
	assert.False(t, proposal.Validated.Complete[productP])
	assert.True(t, f.mr.Exists(shared.ProposalKey(invoiceID, proposal.ID)))
	ttl := f.mr.TTL(shared.ProposalKey(invoiceID, proposal.ID))
	assert.Equal(t, time.Minute, ttl)

	result, err := f.service.Submit(ctx, SubmitRequest{InvoiceID: invoiceID, ProposalID: proposal.ID})
	require.NoError(t, err)
	require.Len(t, result.Deliveries, 1)
	assert.False(t, f.mr.Exists(shared.ProposalKey(invoiceID, proposal.ID)))
}

func TestSubmitStaleProposal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	proposal, err := f.service.Propose(ctx, invoiceID, []fulfillment.Allocation{alloc(wh1, "6")}, 3)
	require.NoError(t, err)

	f.store.stock[stockKey{wh1, productP}] = dec("2")

	_, err = f.service.Submit(ctx, SubmitRequest{InvoiceID: invoiceID, ProposalID: proposal.ID})
	var stale *fulfillment.StaleDataError
	require.ErrorAs(t, err, &stale)
	require.Len(t, stale.Violations, 1)
	assert.Equal(t, fulfillment.KindExceedsStock, stale.Violations[0].Kind)
	assert.True(t, stale.Violations[0].Available.Equal(dec("2")))
	assert.Empty(t, f.store.deliveries)
	assert.Equal(t, 1, f.recorder.outcomes[outcomeStale])
}

func TestSubmitExpiredProposal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	proposal, err := f.service.Propose(ctx, invoiceID, []fulfillment.Allocation{alloc(wh1, "6")}, 3)
	require.NoError(t, err)
	f.mr.FastForward(2 * time.Minute)

	_, err = f.service.Submit(ctx, SubmitRequest{InvoiceID: invoiceID, ProposalID: proposal.ID})
	require.ErrorIs(t, err, ErrProposalNotFound)
}

func TestSubmitPartialFailure(t *testing.T) {
	f := newFixture(t)
	f.store.failFor[wh2] = &inventory.StockError{WarehouseID: wh2, ProductID: productP, OnHand: dec("1"), Requested: dec("4")}

	result, err := f.service.Submit(context.Background(), SubmitRequest{
		InvoiceID:   invoiceID,
		Allocations: []fulfillment.Allocation{alloc(wh1, "6"), alloc(wh2, "4")},
	})
	var partial *fulfillment.PartialSubmissionError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, result.SubmissionID, partial.SubmissionID)
	assert.Equal(t, []int64{wh1}, partial.SucceededWarehouseIDs())
	require.Len(t, partial.Failed, 1)
	failed := partial.Failed[0]
	assert.Equal(t, wh2, failed.WarehouseID)
	assert.True(t, failed.Retryable)
	require.Len(t, failed.Violations, 1)
	assert.Equal(t, fulfillment.KindExceedsStock, failed.Violations[0].Kind)

	require.Len(t, result.Deliveries, 1)
	assert.Len(t, f.store.deliveries, 1)
	assert.Equal(t, 1, f.recorder.outcomes[outcomePartial])
}

func TestSubmitPartialFailureNotRetryable(t *testing.T) {
	f := newFixture(t)
	f.store.failFor[wh1] = fmt.Errorf("store rejected: %w", ErrInvoiceNotOpen)

	_, err := f.service.Submit(context.Background(), SubmitRequest{
		InvoiceID:   invoiceID,
		Allocations: []fulfillment.Allocation{alloc(wh1, "6")},
	})
	var partial *fulfillment.PartialSubmissionError
	require.ErrorAs(t, err, &partial)
	assert.Empty(t, partial.Succeeded)
	require.Len(t, partial.Failed, 1)
	assert.False(t, partial.Failed[0].Retryable)
	assert.Equal(t, 1, f.recorder.outcomes[outcomeFailed])
}

func TestSubmitRejectedWhileLocked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	held, err := cache.NewLocker(f.redis, time.Minute).Acquire(ctx, shared.InvoiceSubmissionLockKey(invoiceID))
	require.NoError(t, err)

	_, err = f.service.Submit(ctx, SubmitRequest{
		InvoiceID:   invoiceID,
		Allocations: []fulfillment.Allocation{alloc(wh1, "1")},
	})
	require.ErrorIs(t, err, shared.ErrSubmissionInProgress)

	require.NoError(t, held.Release(ctx))
	_, err = f.service.Submit(ctx, SubmitRequest{
		InvoiceID:   invoiceID,
		Allocations: []fulfillment.Allocation{alloc(wh1, "1")},
	})
	require.NoError(t, err)
	assert.False(t, f.mr.Exists(shared.InvoiceSubmissionLockKey(invoiceID)))
}

func TestPostAndCancelDelivery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.service.Submit(ctx, SubmitRequest{
		InvoiceID:   invoiceID,
		Allocations: []fulfillment.Allocation{alloc(wh1, "6"), alloc(wh2, "4")},
	})
	require.NoError(t, err)
	first, second := result.Deliveries[0], result.Deliveries[1]

	posted, err := f.service.PostDelivery(ctx, first.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, fulfillment.DocumentPosted, posted.Status)
	assert.True(t, f.store.lines[0].RemainingQuantity.Equal(dec("4")))
	assert.True(t, f.store.stock[stockKey{wh1, productP}].IsZero())

	_, err = f.service.PostDelivery(ctx, first.ID, 3)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
	_, err = f.service.CancelDelivery(ctx, first.ID, 3)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	cancelled, err := f.service.CancelDelivery(ctx, second.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, fulfillment.DocumentCancelled, cancelled.Status)

	_, err = f.service.PostDelivery(ctx, 12345, 3)
	require.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, []int64{invoiceID, invoiceID}, f.notifier.invoices)
}

func TestSubmitProposalWithAllocations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	proposal, err := f.service.Propose(ctx, invoiceID, []fulfillment.Allocation{alloc(wh1, "2")}, 3)
	require.NoError(t, err)

	_, err = f.service.Submit(ctx, SubmitRequest{
		InvoiceID:   invoiceID,
		ProposalID:  proposal.ID,
		Allocations: []fulfillment.Allocation{alloc(wh2, "5")},
	})
	require.ErrorIs(t, err, ErrAmbiguousSubmission)
	require.ErrorIs(t, err, httpx.ErrValidation)
	assert.Empty(t, f.store.deliveries)
}

func TestPostDeliveryStockRace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.service.Submit(ctx, SubmitRequest{
		InvoiceID:   invoiceID,
		Allocations: []fulfillment.Allocation{alloc(wh1, "6")},
	})
	require.NoError(t, err)
	f.store.stock[stockKey{wh1, productP}] = dec("2")

	_, err = f.service.PostDelivery(ctx, result.Deliveries[0].ID, 3)
	var stockErr *inventory.StockError
	require.ErrorAs(t, err, &stockErr)
	assert.True(t, stockErr.OnHand.Equal(dec("2")))
	assert.True(t, stockErr.Requested.Equal(dec("6")))
	assert.True(t, f.store.lines[0].RemainingQuantity.Equal(dec("10")))
	assert.Equal(t, fulfillment.DocumentDraft, f.store.deliveries[result.Deliveries[0].ID].Status)
	assert.Empty(t, f.notifier.invoices)
}

func TestPostDeliveryOnClosedInvoice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.service.Submit(ctx, SubmitRequest{
		InvoiceID:   invoiceID,
		Allocations: []fulfillment.Allocation{alloc(wh1, "3")},
	})
	require.NoError(t, err)
	id := result.Deliveries[0].ID

	for _, status := range []fulfillment.InvoiceStatus{fulfillment.StatusCancelled, fulfillment.StatusCompleted} {
		f.store.invoice.RawStatus = status
		_, err = f.service.PostDelivery(ctx, id, 3)
		require.ErrorIs(t, err, ErrInvoiceNotOpen, string(status))
	}
	assert.True(t, f.store.stock[stockKey{wh1, productP}].Equal(dec("6")))
	assert.Equal(t, fulfillment.DocumentDraft, f.store.deliveries[id].Status)

	f.store.invoice.RawStatus = fulfillment.StatusCancelled
	cancelled, err := f.service.CancelDelivery(ctx, id, 3)
	require.NoError(t, err)
	assert.Equal(t, fulfillment.DocumentCancelled, cancelled.Status)
}
