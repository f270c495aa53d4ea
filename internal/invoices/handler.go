package invoices

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/fulfillment/internal/platform/httpx"
	"github.com/odyssey-erp/fulfillment/internal/rbac"
	"github.com/odyssey-erp/fulfillment/internal/shared"
)

// Handler exposes the invoice queries over HTTP.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers invoice routes under /invoices.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermInvoiceView))
		r.Get("/{id}/status", h.status)
		r.Get("/{id}/demand", h.demand)
		r.Get("/{id}/attribution", h.attribution)
	})
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.IDParam(r, "id")
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid invoice id")
		return
	}
	view, err := h.service.Status(r.Context(), id)
	if err != nil {
		h.fail(w, "invoice status", id, err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) demand(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.IDParam(r, "id")
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid invoice id")
		return
	}
	view, err := h.service.Demand(r.Context(), id)
	if err != nil {
		h.fail(w, "invoice demand", id, err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) attribution(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.IDParam(r, "id")
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid invoice id")
		return
	}
	view, err := h.service.Attribution(r.Context(), id)
	if err != nil {
		h.fail(w, "invoice attribution", id, err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) fail(w http.ResponseWriter, msg string, id int64, err error) {
	h.logger.Error(msg, slog.Int64("invoice_id", id), slog.Any("error", err))
	httpx.RespondError(w, err)
}
