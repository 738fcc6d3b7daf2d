package tasks

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-recargo/internal/common"
)

// Inspector is the subset of *asynq.Inspector used by the admin endpoints.
type Inspector interface {
	ListArchivedTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
	RunTask(queue, id string) error
}

// AdminHandler exposes reconciliation tasks that exhausted their retries.
type AdminHandler struct {
	Inspector Inspector
	Queue     string
	PageSize  int
	Logger    zerolog.Logger
}

type archivedItem struct {
	ID           string           `json:"id"`
	Payload      ReconcilePayload `json:"payload"`
	Retried      int              `json:"retried"`
	LastError    string           `json:"lastError,omitempty"`
	LastFailedAt *time.Time       `json:"lastFailedAt,omitempty"`
}

// ListArchived handles GET /api/admin/tasks/archived.
func (h *AdminHandler) ListArchived(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Inspector == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "task inspector unavailable", nil)
		return
	}
	page := 1
	if raw := strings.TrimSpace(r.URL.Query().Get("page")); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			page = v
		}
	}
	infos, err := h.Inspector.ListArchivedTasks(h.queue(), asynq.Page(page), asynq.PageSize(h.pageSize()))
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", err.Error(), nil)
		return
	}
	items := make([]archivedItem, 0, len(infos))
	for _, info := range infos {
		if info.Type != TypeReconcileOrder {
			continue
		}
		item := archivedItem{ID: info.ID, Retried: info.Retried, LastError: info.LastErr}
		if p, err := decodePayload(info.Payload); err == nil {
			item.Payload = p
		}
		if !info.LastFailedAt.IsZero() {
			failed := info.LastFailedAt
			item.LastFailedAt = &failed
		}
		items = append(items, item)
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": items, "page": page})
}

// Retry handles POST /api/admin/tasks/archived/{id}/retry.
func (h *AdminHandler) Retry(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Inspector == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "task inspector unavailable", nil)
		return
	}
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "task id is required", nil)
		return
	}
	if err := h.Inspector.RunTask(h.queue(), id); err != nil {
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", err.Error(), nil)
		return
	}
	h.Logger.Info().Str("task_id", id).Msg("archived reconciliation requeued")
	w.WriteHeader(http.StatusAccepted)
}

func (h *AdminHandler) queue() string {
	if h.Queue == "" {
		return "default"
	}
	return h.Queue
}

func (h *AdminHandler) pageSize() int {
	if h.PageSize <= 0 {
		return 50
	}
	return h.PageSize
}
