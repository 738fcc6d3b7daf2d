package audit

import (
	"net/http"
	"strings"

	"github.com/noah-isme/backend-recargo/internal/common"
	"github.com/noah-isme/backend-recargo/internal/reconcile"
)

// Handler exposes HTTP endpoints for the reconciliation audit trail.
type Handler struct {
	Store Store
}

// List returns reconciliations, newest first. status=partial lists orders
// with an uncommitted edit that may need operator remediation.
func (h Handler) List(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "AUDIT_NOT_CONFIGURED", "audit store not configured", nil)
		return
	}
	q := r.URL.Query()
	status := strings.TrimSpace(q.Get("status"))
	if status != "" && !knownStatus(status) {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "unknown status", map[string]any{"status": status})
		return
	}
	limit := common.AtoiDefault(q.Get("limit"), 50)
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := common.AtoiDefault(q.Get("offset"), 0)
	if offset < 0 {
		offset = 0
	}

	rows, err := h.Store.ListReconciliations(r.Context(), Filter{
		Status:  status,
		OrderID: strings.TrimSpace(q.Get("orderId")),
		Limit:   limit,
		Offset:  offset,
	})
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "AUDIT_QUERY_FAILED", "unable to fetch reconciliations", nil)
		return
	}
	if rows == nil {
		rows = []Entry{}
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": rows, "limit": limit, "offset": offset})
}

func knownStatus(s string) bool {
	switch reconcile.Status(s) {
	case reconcile.StatusApplied, reconcile.StatusRejected, reconcile.StatusFailed, reconcile.StatusPartial:
		return true
	}
	return false
}
