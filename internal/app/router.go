package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/fulfillment/internal/delivery"
	"github.com/odyssey-erp/fulfillment/internal/invoices"
	"github.com/odyssey-erp/fulfillment/internal/observability"
	"github.com/odyssey-erp/fulfillment/internal/rbac"
	"github.com/odyssey-erp/fulfillment/internal/receipts"
	"github.com/odyssey-erp/fulfillment/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	InvoiceHandler     *invoices.Handler
	DeliveryHandler    *delivery.Handler
	ReceiptHandler     *receipts.Handler
	PermissionsHandler *rbac.PermissionsHandler
	JobHandler         *jobs.Handler
	Metrics            *observability.Metrics
}

// NewRouter constructs the chi.Router with Odyssey defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/invoices", func(r chi.Router) {
		if params.InvoiceHandler != nil {
			params.InvoiceHandler.MountRoutes(r)
		}
		if params.DeliveryHandler != nil {
			params.DeliveryHandler.MountInvoiceRoutes(r)
		}
		if params.ReceiptHandler != nil {
			params.ReceiptHandler.MountInvoiceRoutes(r)
		}
	})
	if params.DeliveryHandler != nil {
		r.Route("/deliveries", params.DeliveryHandler.MountRoutes)
	}
	if params.ReceiptHandler != nil {
		r.Route("/receipts", params.ReceiptHandler.MountRoutes)
	}
	if params.PermissionsHandler != nil {
		r.Route("/me", params.PermissionsHandler.MountRoutes)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
