package delivery

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
	"github.com/odyssey-erp/fulfillment/internal/inventory"
	"github.com/odyssey-erp/fulfillment/internal/platform/httpx"
	"github.com/odyssey-erp/fulfillment/internal/rbac"
	"github.com/odyssey-erp/fulfillment/internal/shared"
)

const idempotencyModule = "delivery.submit"

type allocationRequest struct {
	ProductID   int64           `json:"product_id" validate:"required,gt=0"`
	WarehouseID int64           `json:"warehouse_id" validate:"required,gt=0"`
	Quantity    decimal.Decimal `json:"quantity"`
}

type proposeRequest struct {
	Allocations []allocationRequest `json:"allocations" validate:"required,min=1,dive"`
}

type submitRequest struct {
	ProposalID  string              `json:"proposal_id" validate:"omitempty,uuid"`
	Allocations []allocationRequest `json:"allocations" validate:"omitempty,dive"`
	Date        string              `json:"date" validate:"omitempty,datetime=2006-01-02"`
}

// Handler manages delivery endpoints.
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
		r.Use(h.rbac.RequireAll(shared.PermDeliveryPropose))
		r.Post("/{id}/allocations/proposals", h.propose)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermDeliverySubmit))
		r.Post("/{id}/deliveries", h.submit)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.DeliveryScopes()...))
		r.Get("/{id}/deliveries", h.list)
	})
}

// MountRoutes registers the routes under /deliveries.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.DeliveryScopes()...))
		r.Get("/{id}", h.show)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermDeliveryPost))
		r.Post("/{id}/post", h.post)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermDeliveryCancel))
		r.Post("/{id}/cancel", h.cancel)
	})
}

func (h *Handler) propose(w http.ResponseWriter, r *http.Request) {
	invoiceID, ok := httpx.IDParam(r, "id")
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid invoice id")
		return
	}
	var req proposeRequest
	if !h.decode(w, r, &req) {
		return
	}
	proposal, err := h.service.Propose(r.Context(), invoiceID, toAllocations(req.Allocations), actorID(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, proposal)
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	invoiceID, ok := httpx.IDParam(r, "id")
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid invoice id")
		return
	}
	var req submitRequest
	if !h.decode(w, r, &req) {
		return
	}
	var date time.Time
	if req.Date != "" {
		date, _ = time.Parse("2006-01-02", req.Date)
	}

	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key != "" {
		if err := h.idempotency.CheckAndInsert(r.Context(), key, idempotencyModule); err != nil {
			h.respondError(w, r, err)
			return
		}
	}

	result, err := h.service.Submit(r.Context(), SubmitRequest{
		InvoiceID:   invoiceID,
		ProposalID:  req.ProposalID,
		Allocations: toAllocations(req.Allocations),
		Date:        date,
		ActorID:     actorID(r),
	})
	if err != nil {
		if key != "" && len(result.Deliveries) == 0 {
			if delErr := h.idempotency.Delete(r.Context(), key); delErr != nil {
				h.logger.Warn("release idempotency key", slog.Any("error", delErr))
			}
		}
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	invoiceID, ok := httpx.IDParam(r, "id")
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid invoice id")
		return
	}
	docs, err := h.service.ListDeliveries(r.Context(), invoiceID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if docs == nil {
		docs = []fulfillment.DeliveryDocument{}
	}
	httpx.JSON(w, http.StatusOK, docs)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.IDParam(r, "id")
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid delivery id")
		return
	}
	doc, err := h.service.GetDelivery(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) post(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.IDParam(r, "id")
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid delivery id")
		return
	}
	doc, err := h.service.PostDelivery(r.Context(), id, actorID(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.IDParam(r, "id")
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid delivery id")
		return
	}
	doc, err := h.service.CancelDelivery(r.Context(), id, actorID(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid request body")
		return false
	}
	if err := h.validator.Struct(target); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			fields := make(map[string]string, len(fieldErrs))
			for _, fe := range fieldErrs {
				fields[fe.Namespace()] = fe.Tag()
			}
			httpx.ProblemWith(w, http.StatusBadRequest, "Validation Failed", "request failed validation", fields)
			return false
		}
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return false
	}
	return true
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr     *fulfillment.ValidationError
		stale    *fulfillment.StaleDataError
		partial  *fulfillment.PartialSubmissionError
		stockErr *inventory.StockError
	)
	switch {
	case errors.As(err, &verr):
		httpx.ProblemWith(w, http.StatusUnprocessableEntity, "Allocation Invalid", "allocation violates demand or stock", verr.Violations)
	case errors.As(err, &stale):
		httpx.ProblemWith(w, http.StatusConflict, "Stale Allocation", "allocation no longer valid against current data", stale.Violations)
	case errors.As(err, &partial):
		if len(partial.Succeeded) == 0 {
			httpx.ProblemWith(w, http.StatusConflict, "Submission Failed", "no delivery document was created", partial)
			return
		}
		httpx.JSON(w, http.StatusMultiStatus, partial)
	case errors.As(err, &stockErr):
		h.logger.Warn("delivery stock rejected", slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.ProblemWith(w, http.StatusConflict, "Insufficient Stock", "stock changed since the allocation was made", []fulfillment.AllocationError{
			fulfillment.ExceedsStock(stockErr.ProductID, stockErr.WarehouseID, stockErr.Requested, stockErr.OnHand),
		})
	case errors.Is(err, inventory.ErrInsufficientStock):
		h.logger.Warn("delivery stock rejected", slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.Problem(w, http.StatusConflict, "Insufficient Stock", "stock changed since the allocation was made")
	default:
		if errors.Is(err, httpx.ErrNotFound) || errors.Is(err, httpx.ErrConflict) || errors.Is(err, httpx.ErrValidation) {
			h.logger.Warn("delivery request rejected", slog.String("path", r.URL.Path), slog.Any("error", err))
		} else {
			h.logger.Error("delivery request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		}
		httpx.RespondError(w, err)
	}
}

func toAllocations(in []allocationRequest) []fulfillment.Allocation {
	out := make([]fulfillment.Allocation, 0, len(in))
	for _, a := range in {
		out = append(out, fulfillment.Allocation{ProductID: a.ProductID, WarehouseID: a.WarehouseID, Quantity: a.Quantity})
	}
	return out
}

func actorID(r *http.Request) int64 {
	if p, ok := shared.PrincipalFromContext(r.Context()); ok {
		return p.UserID
	}
	return 0
}
