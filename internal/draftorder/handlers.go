package draftorder

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"

	"github.com/noah-isme/backend-recargo/internal/common"
)

// Handler exposes the draft order tools used by the POS extension.
type Handler struct {
	Svc      *Service
	Validate *validator.Validate
}

type draftRequest struct {
	DraftOrderID string `json:"draftOrderId" validate:"required"`
}

// List handles GET /api/draft-orders.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	rows, err := h.Svc.List(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"success": true, "data": rows, "count": len(rows)})
}

// Get handles GET /api/draft-order/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"success": true, "data": snap})
}

// Verify handles POST /api/verify-draft-order.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	var req draftRequest
	if !common.DecodeJSON(w, r, h.Validate, &req) {
		return
	}
	v, err := h.Svc.Verify(r.Context(), req.DraftOrderID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"success": true, "draftOrder": v})
}

// Complete handles POST /api/complete-draft-order.
func (h *Handler) Complete(w http.ResponseWriter, r *http.Request) {
	var req draftRequest
	if !common.DecodeJSON(w, r, h.Validate, &req) {
		return
	}
	out, err := h.Svc.Complete(r.Context(), req.DraftOrderID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"success": true, "draftOrder": out})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		status := appErr.HTTPStatus
		if status == 0 {
			status = http.StatusBadRequest
		}
		common.JSONError(w, status, appErr.Code, appErr.Message, appErr.Details)
		return
	}
	common.JSONError(w, http.StatusInternalServerError, "INTERNAL", err.Error(), nil)
}
