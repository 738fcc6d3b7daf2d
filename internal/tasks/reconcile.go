package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-recargo/internal/obs"
	"github.com/noah-isme/backend-recargo/internal/reconcile"
	"github.com/noah-isme/backend-recargo/internal/resilience"
	"github.com/noah-isme/backend-recargo/internal/surcharge"
)

// TypeReconcileOrder is the asynq task type for order reconciliation.
const TypeReconcileOrder = "recargo:reconcile_order"

// Statuses reported to webhook callers.
const (
	StatusQueued = "queued"
	// StatusAlreadyQueued means a task for the order is still pending or running.
	StatusAlreadyQueued = "already_queued"
	// StatusConflict means an older task holds the id and could not be replaced.
	StatusConflict = "conflict"
)

// ReconcilePayload identifies the order to reconcile.
type ReconcilePayload struct {
	Kind    surcharge.OrderKind `json:"kind"`
	OrderID string              `json:"orderId"`
}

// NewReconcileTask builds a task whose id deduplicates work for the same
// order.
func NewReconcileTask(kind surcharge.OrderKind, orderID string, opts ...asynq.Option) (*asynq.Task, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, errors.New("tasks: order id is required")
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("tasks: invalid order kind %q", kind)
	}
	payload, err := json.Marshal(ReconcilePayload{Kind: kind, OrderID: orderID})
	if err != nil {
		return nil, err
	}
	opts = append([]asynq.Option{asynq.TaskID(taskID(kind, orderID))}, opts...)
	return asynq.NewTask(TypeReconcileOrder, payload, opts...), nil
}

func taskID(kind surcharge.OrderKind, orderID string) string {
	return "recargo:" + string(kind) + ":" + orderID
}

// TaskClient is the subset of *asynq.Client used to enqueue work.
type TaskClient interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// TaskLookup is the subset of *asynq.Inspector used to resolve task id
// conflicts.
type TaskLookup interface {
	GetTaskInfo(queue, id string) (*asynq.TaskInfo, error)
	DeleteTask(queue, id string) error
}

// Enqueuer hands reconciliations to the worker.
type Enqueuer struct {
	Client   TaskClient
	Lookup   TaskLookup
	Queue    string
	MaxRetry int
	Timeout  time.Duration
	Logger   zerolog.Logger
}

// Enqueue schedules reconciliation of an order and reports the queue status.
// A pending or running task for the same order is left alone. An archived or
// completed task still holding the id is deleted and the order enqueued again.
func (e Enqueuer) Enqueue(ctx context.Context, kind surcharge.OrderKind, orderID string) (string, error) {
	if e.Client == nil {
		return "", errors.New("tasks: client not configured")
	}
	var opts []asynq.Option
	if e.Queue != "" {
		opts = append(opts, asynq.Queue(e.Queue))
	}
	if e.MaxRetry > 0 {
		opts = append(opts, asynq.MaxRetry(e.MaxRetry))
	}
	if e.Timeout > 0 {
		opts = append(opts, asynq.Timeout(e.Timeout))
	}
	task, err := NewReconcileTask(kind, orderID, opts...)
	if err != nil {
		return "", err
	}
	logger := e.Logger.With().Str("order_id", orderID).Logger()

	info, err := e.Client.EnqueueContext(ctx, task)
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		status, replaced := e.resolveConflict(taskID(kind, orderID), logger)
		if !replaced {
			return status, nil
		}
		info, err = e.Client.EnqueueContext(ctx, task)
	}
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		logger.Warn().Msg("reconciliation task id still taken after replace")
		return StatusConflict, nil
	}
	if err != nil {
		return "", fmt.Errorf("tasks: enqueue reconciliation: %w", err)
	}
	logger.Info().Str("task_id", info.ID).Str("queue", info.Queue).Msg("reconciliation queued")
	return StatusQueued, nil
}

func (e Enqueuer) resolveConflict(id string, logger zerolog.Logger) (string, bool) {
	if e.Lookup == nil {
		logger.Warn().Str("task_id", id).Msg("reconciliation task id taken; state unknown")
		return StatusConflict, false
	}
	info, err := e.Lookup.GetTaskInfo(e.queue(), id)
	if err != nil {
		logger.Warn().Err(err).Str("task_id", id).Msg("inspect conflicting reconciliation task")
		return StatusConflict, false
	}
	switch info.State {
	case asynq.TaskStateArchived, asynq.TaskStateCompleted:
		if err := e.Lookup.DeleteTask(e.queue(), id); err != nil {
			logger.Warn().Err(err).Str("task_id", id).Msg("delete finished reconciliation task")
			return StatusConflict, false
		}
		logger.Info().Str("task_id", id).Str("previous_state", info.State.String()).Msg("replacing finished reconciliation task")
		return "", true
	default:
		logger.Debug().Str("task_id", id).Str("state", info.State.String()).Msg("reconciliation already queued")
		return StatusAlreadyQueued, false
	}
}

func (e Enqueuer) queue() string {
	if e.Queue == "" {
		return "default"
	}
	return e.Queue
}

// TriggerOrder enqueues reconciliation of a placed order.
func (e Enqueuer) TriggerOrder(ctx context.Context, orderID string) (string, error) {
	return e.Enqueue(ctx, surcharge.OrderPlaced, orderID)
}

// Reconciler runs one reconciliation.
type Reconciler interface {
	Reconcile(ctx context.Context, kind surcharge.OrderKind, id string) reconcile.Result
}

// Handler processes reconciliation tasks.
type Handler struct {
	Reconciler Reconciler
	Logger     zerolog.Logger
}

// ProcessTask implements asynq.Handler. Only transient failures are
// returned for retry; rejections, user errors and partial edits are final.
func (h Handler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	p, err := decodePayload(t.Payload())
	if err != nil {
		obs.IncCounter(obs.TasksTotal, "invalid")
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	res := h.Reconciler.Reconcile(ctx, p.Kind, p.OrderID)
	logger := h.Logger.With().Str("order_id", res.OrderID).Str("status", string(res.Status)).Logger()
	switch {
	case res.Success:
		obs.IncCounter(obs.TasksTotal, "done")
		return nil
	case res.Retryable():
		obs.IncCounter(obs.TasksTotal, "retry")
		logger.Warn().Err(res.Err).Msg("reconciliation will be retried")
		return res.Err
	case res.Status == reconcile.StatusRejected:
		obs.IncCounter(obs.TasksTotal, "rejected")
		return nil
	default:
		obs.IncCounter(obs.TasksTotal, "failed")
		logger.Error().Err(res.Err).Interface("phases", res.Phases).Msg("reconciliation needs operator attention")
		return fmt.Errorf("tasks: reconcile %s: %s: %w", res.OrderID, res.Status, asynq.SkipRetry)
	}
}

func decodePayload(data []byte) (ReconcilePayload, error) {
	var p ReconcilePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("tasks: decode payload: %w", err)
	}
	if !p.Kind.Valid() || strings.TrimSpace(p.OrderID) == "" {
		return p, errors.New("tasks: invalid payload")
	}
	return p, nil
}

// RetryDelay spaces out retries exponentially from base.
func RetryDelay(base time.Duration, jitter float64) asynq.RetryDelayFunc {
	return func(n int, _ error, _ *asynq.Task) time.Duration {
		return resilience.Backoff(base, n+1, jitter)
	}
}

// NewMux routes reconciliation tasks to h.
func NewMux(h Handler) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Handle(TypeReconcileOrder, h)
	return mux
}
