package receipts

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/fulfillment/internal/fulfillment"
	"github.com/odyssey-erp/fulfillment/internal/platform/httpx"
	"github.com/odyssey-erp/fulfillment/internal/rbac"
	"github.com/odyssey-erp/fulfillment/internal/shared"
)

const idempotencyModule = "receipt.create"

type createRequest struct {
	Amount decimal.Decimal `json:"amount"`
	PaidAt string          `json:"paid_at" validate:"omitempty,datetime=2006-01-02"`
	Method string          `json:"method" validate:"max=32"`
	Note   string          `json:"note" validate:"max=255"`
}

// Handler manages receipt endpoints.
type Handler struct {
	logger      *slog.Logger
	service     *Service
	rbac        rbac.Middleware
	idempotency *shared.IdempotencyStore
	validator   *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware, idempotency *shared.IdempotencyStore) *Handler {
	return &Handler{
		logger:      logger,
		service:     service,
		rbac:        rbac,
		idempotency: idempotency,
		validator:   validator.New(),
	}
}

// MountInvoiceRoutes registers the routes nested under /invoices.
func (h *Handler) MountInvoiceRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermReceiptCreate))
		r.Post("/{id}/receipts", h.create)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.ReceiptScopes()...))
		r.Get("/{id}/receipts", h.list)
	})
}

// MountRoutes registers the routes under /receipts.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.ReceiptScopes()...))
		r.Get("/{id}", h.show)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermReceiptPost))
		r.Post("/{id}/post", h.post)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermReceiptCancel))
		r.Post("/{id}/cancel", h.cancel)
	})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	invoiceID, ok := httpx.IDParam(r, "id")
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid invoice id")
		return
	}
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	var paidAt time.Time
	if req.PaidAt != "" {
		paidAt, _ = time.Parse("2006-01-02", req.PaidAt)
	}

	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key != "" {
		if err := h.idempotency.CheckAndInsert(r.Context(), key, idempotencyModule); err != nil {
			h.respondError(w, r, err)
			return
		}
	}

	var actor int64
	if p, ok := shared.PrincipalFromContext(r.Context()); ok {
		actor = p.UserID
	}
	receipt, err := h.service.CreateReceipt(r.Context(), CreateRequest{
		InvoiceID: invoiceID,
		Amount:    req.Amount,
		PaidAt:    paidAt,
		Method:    strings.TrimSpace(req.Method),
		Note:      strings.TrimSpace(req.Note),
		ActorID:   actor,
	})
	if err != nil {
		if key != "" {
			if delErr := h.idempotency.Delete(r.Context(), key); delErr != nil {
				h.logger.Warn("release idempotency key", slog.Any("error", delErr))
			}
		}
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, receipt)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	invoiceID, ok := httpx.IDParam(r, "id")
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid invoice id")
		return
	}
	list, err := h.service.ListReceipts(r.Context(), invoiceID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if list == nil {
		list = []fulfillment.Receipt{}
	}
	httpx.JSON(w, http.StatusOK, list)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	h.withReceipt(w, r, func(id, _ int64) (fulfillment.Receipt, error) {
		return h.service.GetReceipt(r.Context(), id)
	})
}

func (h *Handler) post(w http.ResponseWriter, r *http.Request) {
	h.withReceipt(w, r, func(id, actor int64) (fulfillment.Receipt, error) {
		return h.service.PostReceipt(r.Context(), id, actor)
	})
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	h.withReceipt(w, r, func(id, actor int64) (fulfillment.Receipt, error) {
		return h.service.CancelReceipt(r.Context(), id, actor)
	})
}

func (h *Handler) withReceipt(w http.ResponseWriter, r *http.Request, fn func(id, actor int64) (fulfillment.Receipt, error)) {
	id, ok := httpx.IDParam(r, "id")
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid receipt id")
		return
	}
	var actor int64
	if p, ok := shared.PrincipalFromContext(r.Context()); ok {
		actor = p.UserID
	}
	receipt, err := fn(id, actor)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, receipt)
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	var perr *fulfillment.PaymentError
	if errors.As(err, &perr) {
		httpx.ProblemWith(w, http.StatusUnprocessableEntity, "Payment Rejected", perr.Error(), perr)
		return
	}
	if errors.Is(err, httpx.ErrNotFound) || errors.Is(err, httpx.ErrConflict) || errors.Is(err, httpx.ErrValidation) {
		h.logger.Warn("receipt request rejected", slog.String("path", r.URL.Path), slog.Any("error", err))
	} else {
		h.logger.Error("receipt request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
