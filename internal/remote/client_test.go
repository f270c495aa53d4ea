package remote

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/fulfillment/internal/delivery"
	"github.com/odyssey-erp/fulfillment/internal/fulfillment"
	"github.com/odyssey-erp/fulfillment/internal/inventory"
	"github.com/odyssey-erp/fulfillment/internal/invoices"
	"github.com/odyssey-erp/fulfillment/internal/platform/httpx"
	"github.com/odyssey-erp/fulfillment/internal/rbac"
	"github.com/odyssey-erp/fulfillment/internal/receipts"
	"github.com/odyssey-erp/fulfillment/internal/shared"
)

var (
	_ invoices.Reader         = (*Client)(nil)
	_ invoices.DeliveryLister = (*Client)(nil)
	_ invoices.ReceiptLister  = (*Client)(nil)
	_ inventory.StockReader   = (*Client)(nil)
	_ delivery.Store          = (*Client)(nil)
	_ delivery.InvoiceReader  = (*Client)(nil)
	_ receipts.Store          = (*Client)(nil)
	_ rbac.PermissionStore    = (*Client)(nil)
)

func newTestClient(t *testing.T, r http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	c, err := NewClient(srv.URL+"/", time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return c
}

func authed() context.Context {
	return shared.ContextWithPrincipal(context.Background(), shared.Principal{UserID: 5, Token: "user-token"})
}

func TestCredentialsFromContext(t *testing.T) {
	_, err := CredentialsFromContext(context.Background())
	require.ErrorIs(t, err, shared.ErrUnauthenticated)

	_, err = CredentialsFromContext(shared.ContextWithPrincipal(context.Background(), shared.Principal{UserID: 5}))
	require.ErrorIs(t, err, shared.ErrUnauthenticated)

	c, err := CredentialsFromContext(authed())
	require.NoError(t, err)
	assert.Equal(t, "user-token", c.Token)

	c, err = CredentialsFromContext(WithCredentials(authed(), Credentials{Token: "service"}))
	require.NoError(t, err)
	assert.Equal(t, "service", c.Token)
}

func TestCredentialsScope(t *testing.T) {
	assert.Empty(t, CredentialsScope(context.Background()))
	assert.Equal(t, "0:service", CredentialsScope(WithCredentials(context.Background(), Credentials{Token: "service"})))

	alice := shared.ContextWithPrincipal(context.Background(), shared.Principal{UserID: 1, Token: "a"})
	bob := shared.ContextWithPrincipal(context.Background(), shared.Principal{UserID: 2, Token: "b"})
	assert.NotEqual(t, CredentialsScope(alice), CredentialsScope(bob))
	assert.Equal(t, CredentialsScope(alice), CredentialsScope(shared.ContextWithPrincipal(context.Background(), shared.Principal{UserID: 1, Token: "a"})))
}

func TestGetInvoiceNormalisesStatus(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/api/invoices/{id}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer user-token", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"id":9,"number":"INV-9","status":" POSTED ","grand_total":"100.50","total_paid":"0","balance_due":"100.50"}`))
	})
	c := newTestClient(t, r)

	inv, err := c.GetInvoice(authed(), 9)
	require.NoError(t, err)
	assert.Equal(t, fulfillment.StatusPosted, inv.RawStatus)
	assert.True(t, inv.GrandTotal.Equal(decimal.RequireFromString("100.5")))

	_, err = c.GetInvoice(context.Background(), 9)
	require.ErrorIs(t, err, shared.ErrUnauthenticated)
}

func TestUnknownStatusIsAnError(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/api/invoices/{id}", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":9,"status":"archived"}`))
	})
	c := newTestClient(t, r)

	_, err := c.GetInvoice(authed(), 9)
	require.ErrorIs(t, err, errBadPayload)
}

func TestErrorMapping(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/api/deliveries/{id}", func(w http.ResponseWriter, r *http.Request) {
		switch chi.URLParam(r, "id") {
		case "1":
			http.Error(w, `{"message":"no such delivery"}`, http.StatusNotFound)
		case "2":
			w.WriteHeader(http.StatusConflict)
		case "3":
			w.WriteHeader(http.StatusForbidden)
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	})
	c := newTestClient(t, r)
	ctx := authed()

	_, err := c.GetDelivery(ctx, 1)
	require.ErrorIs(t, err, httpx.ErrNotFound)
	assert.Contains(t, err.Error(), "no such delivery")
	_, err = c.GetDelivery(ctx, 2)
	require.ErrorIs(t, err, httpx.ErrConflict)
	_, err = c.GetDelivery(ctx, 3)
	require.ErrorIs(t, err, httpx.ErrForbidden)
	_, err = c.GetDelivery(ctx, 4)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestCreateDeliveryStockRejection(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/api/deliveries", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["warehouse_id"].(float64) == 2 {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"code":"insufficient_stock","message":"short","stock":{"product_id":100,"warehouse_id":2,"on_hand":"1","requested":"4"}}`))
			return
		}
		assert.Equal(t, float64(7), body["created_by"])
		_, _ = w.Write([]byte(`{"id":77}`))
	})
	c := newTestClient(t, r)

	id, err := c.CreateDelivery(authed(), fulfillment.DeliveryDocument{InvoiceID: 1, WarehouseID: 1}, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(77), id)

	_, err = c.CreateDelivery(authed(), fulfillment.DeliveryDocument{InvoiceID: 1, WarehouseID: 2}, 7)
	var stockErr *inventory.StockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, int64(100), stockErr.ProductID)
	assert.True(t, stockErr.Requested.Equal(decimal.NewFromInt(4)))
	require.ErrorIs(t, err, inventory.ErrInsufficientStock)
}

func TestListStockAndReceipts(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/api/warehouses/{id}/stock", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"product_id":100,"quantity_on_hand":"6"}]`))
	})
	r.Get("/api/invoices/{id}/receipts", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id":1,"invoice_id":3,"amount":"10","status":"posted","allocations":[{"invoice_id":3,"allocated_amount":"10"}]}]`))
	})
	r.Post("/api/receipts/{id}/post", func(w http.ResponseWriter, r *http.Request) {
		var body actorDTO
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, int64(5), body.ActorID)
		_, _ = w.Write([]byte(`{"id":1,"invoice_id":3,"amount":"10","status":"Posted"}`))
	})
	r.Get("/api/users/{id}/permissions", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"permissions":["invoice.view"]}`))
	})
	c := newTestClient(t, r)
	ctx := authed()

	levels, err := c.ListStock(ctx, 1)
	require.NoError(t, err)
	require.Len(t, levels, 1)
	assert.Equal(t, int64(1), levels[0].WarehouseID)

	list, err := c.ListReceipts(ctx, 3)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, fulfillment.DocumentPosted, list[0].Status)

	posted, err := c.PostReceipt(ctx, 1, 5)
	require.NoError(t, err)
	assert.Equal(t, fulfillment.DocumentPosted, posted.Status)

	perms, err := c.EffectivePermissions(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"invoice.view"}, perms)
}

func TestNewClientRejectsRelativeURL(t *testing.T) {
	_, err := NewClient("erp.local/api", time.Second, nil)
	require.Error(t, err)
}
