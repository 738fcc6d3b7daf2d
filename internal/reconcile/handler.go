package reconcile

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-recargo/internal/common"
	"github.com/noah-isme/backend-recargo/internal/shopify"
	"github.com/noah-isme/backend-recargo/internal/surcharge"
)

// Handler exposes reconciliation over HTTP.
type Handler struct {
	Svc      *Service
	Validate *validator.Validate
	Logger   zerolog.Logger
}

type previewRequest struct {
	OrderID string `json:"orderId" validate:"required"`
	Kind    string `json:"kind" validate:"required,oneof=draft placed"`
}

type legacyRequest struct {
	DraftOrderID  string `json:"draftOrderId" validate:"required"`
	RecargoAmount string `json:"recargoAmount" validate:"omitempty,numeric"`
	Subtotal      string `json:"subtotal" validate:"omitempty,numeric"`
}

// ReconcileDraft handles POST /api/recargo/draft-orders/{id}.
func (h *Handler) ReconcileDraft(w http.ResponseWriter, r *http.Request) {
	h.reconcile(w, r, surcharge.OrderDraft)
}

// ReconcileOrder handles POST /api/recargo/orders/{id}.
func (h *Handler) ReconcileOrder(w http.ResponseWriter, r *http.Request) {
	h.reconcile(w, r, surcharge.OrderPlaced)
}

func (h *Handler) reconcile(w http.ResponseWriter, r *http.Request, kind surcharge.OrderKind) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "reconcile service not configured", nil)
		return
	}
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "order id is required", nil)
		return
	}
	res := h.Svc.Reconcile(r.Context(), kind, id)
	common.JSON(w, res.HTTPStatus(), res)
}

// Preview handles POST /api/recargo/preview.
func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "reconcile service not configured", nil)
		return
	}
	var req previewRequest
	if !h.decode(w, r, &req) {
		return
	}
	preview, err := h.Svc.Preview(r.Context(), surcharge.OrderKind(req.Kind), req.OrderID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": preview})
}

// AddRecargo handles the legacy POST /api/add-recargo-equivalencia. The
// amount sent by the client is advisory; the server recomputes it.
func (h *Handler) AddRecargo(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "reconcile service not configured", nil)
		return
	}
	var req legacyRequest
	if !h.decode(w, r, &req) {
		return
	}
	res := h.Svc.Reconcile(r.Context(), surcharge.OrderDraft, req.DraftOrderID)
	if req.RecargoAmount != "" {
		claimed, err := decimal.NewFromString(req.RecargoAmount)
		computed, _ := decimal.NewFromString(res.RecargoAmount)
		if err == nil && !claimed.Round(2).Equal(computed) {
			h.Logger.Warn().
				Str("order_id", res.OrderID).
				Str("client_amount", req.RecargoAmount).
				Str("computed_amount", res.RecargoAmount).
				Msg("client surcharge amount differs from computed amount")
		}
	}
	common.JSON(w, res.HTTPStatus(), res)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	return common.DecodeJSON(w, r, h.Validate, dst)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shopify.ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "order not found", nil)
	case errors.Is(err, ErrInvalidKind):
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
	case classify(err) == ClassTransient:
		common.JSONError(w, http.StatusBadGateway, "UPSTREAM_UNAVAILABLE", "shopify unavailable", map[string]any{"error": err.Error()})
	default:
		common.JSONError(w, http.StatusBadGateway, "UPSTREAM_ERROR", err.Error(), nil)
	}
}
