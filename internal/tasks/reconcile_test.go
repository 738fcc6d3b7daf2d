package tasks_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-recargo/internal/reconcile"
	"github.com/noah-isme/backend-recargo/internal/shopify"
	"github.com/noah-isme/backend-recargo/internal/surcharge"
	"github.com/noah-isme/backend-recargo/internal/tasks"
)

type fakeClient struct {
	tasks []*asynq.Task
	err   error
	// errs are returned one per call before err applies.
	errs  []error
	calls int
}

func (f *fakeClient) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	} else if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{ID: "t1", Queue: "recargo", Type: task.Type(), Payload: task.Payload()}, nil
}

func TestEnqueuerTriggerOrder(t *testing.T) {
	client := &fakeClient{}
	e := tasks.Enqueuer{Client: client, Queue: "recargo", MaxRetry: 5, Logger: zerolog.Nop()}

	status, err := e.TriggerOrder(context.Background(), "gid://shopify/Order/5")
	require.NoError(t, err)
	assert.Equal(t, tasks.StatusQueued, status)
	require.Len(t, client.tasks, 1)
	assert.Equal(t, tasks.TypeReconcileOrder, client.tasks[0].Type())

	var p tasks.ReconcilePayload
	require.NoError(t, json.Unmarshal(client.tasks[0].Payload(), &p))
	assert.Equal(t, tasks.ReconcilePayload{Kind: surcharge.OrderPlaced, OrderID: "gid://shopify/Order/5"}, p)
}

type fakeLookup struct {
	state   asynq.TaskState
	err     error
	deleted []string
}

func (f *fakeLookup) GetTaskInfo(queue, id string) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &asynq.TaskInfo{ID: id, Queue: queue, State: f.state}, nil
}

func (f *fakeLookup) DeleteTask(_, id string) error {
	f.deleted = append(f.deleted, id)
	return nil
}

func TestEnqueuerResolvesTaskIDConflicts(t *testing.T) {
	const order = "gid://shopify/Order/5"
	tests := []struct {
		name        string
		lookup      *fakeLookup
		errs        []error
		wantStatus  string
		wantDeleted bool
		wantCalls   int
	}{
		{
			name:       "pending task kept",
			lookup:     &fakeLookup{state: asynq.TaskStatePending},
			errs:       []error{asynq.ErrTaskIDConflict},
			wantStatus: tasks.StatusAlreadyQueued,
			wantCalls:  1,
		},
		{
			name:       "active task kept",
			lookup:     &fakeLookup{state: asynq.TaskStateActive},
			errs:       []error{asynq.ErrTaskIDConflict},
			wantStatus: tasks.StatusAlreadyQueued,
			wantCalls:  1,
		},
		{
			name:        "archived task replaced",
			lookup:      &fakeLookup{state: asynq.TaskStateArchived},
			errs:        []error{asynq.ErrTaskIDConflict, nil},
			wantStatus:  tasks.StatusQueued,
			wantDeleted: true,
			wantCalls:   2,
		},
		{
			name:        "completed task replaced",
			lookup:      &fakeLookup{state: asynq.TaskStateCompleted},
			errs:        []error{asynq.ErrTaskIDConflict, nil},
			wantStatus:  tasks.StatusQueued,
			wantDeleted: true,
			wantCalls:   2,
		},
		{
			name:        "id still taken after replace",
			lookup:      &fakeLookup{state: asynq.TaskStateArchived},
			errs:        []error{asynq.ErrTaskIDConflict, asynq.ErrTaskIDConflict},
			wantStatus:  tasks.StatusConflict,
			wantDeleted: true,
			wantCalls:   2,
		},
		{
			name:       "lookup failure",
			lookup:     &fakeLookup{err: errors.New("redis down")},
			errs:       []error{asynq.ErrTaskIDConflict},
			wantStatus: tasks.StatusConflict,
			wantCalls:  1,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			client := &fakeClient{errs: tc.errs}
			e := tasks.Enqueuer{Client: client, Lookup: tc.lookup, Queue: "recargo", Logger: zerolog.Nop()}

			status, err := e.TriggerOrder(context.Background(), order)
			require.NoError(t, err)
			assert.Equal(t, tc.wantStatus, status)
			assert.Equal(t, tc.wantCalls, client.calls)
			if tc.wantDeleted {
				assert.Equal(t, []string{"recargo:placed:" + order}, tc.lookup.deleted)
			} else {
				assert.Empty(t, tc.lookup.deleted)
			}
		})
	}
}

func TestEnqueuerConflictWithoutLookup(t *testing.T) {
	e := tasks.Enqueuer{Client: &fakeClient{err: asynq.ErrTaskIDConflict}, Logger: zerolog.Nop()}
	status, err := e.TriggerOrder(context.Background(), "gid://shopify/Order/5")
	require.NoError(t, err)
	assert.Equal(t, tasks.StatusConflict, status)

	e.Client = &fakeClient{err: errors.New("redis down")}
	_, err = e.TriggerOrder(context.Background(), "gid://shopify/Order/5")
	require.Error(t, err)

	_, err = tasks.NewReconcileTask(surcharge.OrderPlaced, " ")
	require.Error(t, err)
}

type stubReconciler struct{ res reconcile.Result }

func (s stubReconciler) Reconcile(context.Context, surcharge.OrderKind, string) reconcile.Result {
	return s.res
}

func TestHandlerRetryPolicy(t *testing.T) {
	transient := &shopify.TransportError{Op: "order", StatusCode: http.StatusBadGateway}
	tests := []struct {
		name      string
		res       reconcile.Result
		wantErr   bool
		skipRetry bool
	}{
		{name: "applied", res: reconcile.Result{Success: true, Status: reconcile.StatusApplied}},
		{name: "rejected", res: reconcile.Result{Status: reconcile.StatusRejected, ErrorClass: reconcile.ClassIneligible}},
		{name: "transient", res: reconcile.Result{Status: reconcile.StatusFailed, ErrorClass: reconcile.ClassTransient, Err: transient}, wantErr: true},
		{name: "partial", res: reconcile.Result{Status: reconcile.StatusPartial, ErrorClass: reconcile.ClassPartialMutation, Err: transient}, wantErr: true, skipRetry: true},
		{name: "user error", res: reconcile.Result{Status: reconcile.StatusFailed, ErrorClass: reconcile.ClassRemoteUserError, Err: errors.New("bad")}, wantErr: true, skipRetry: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := tasks.Handler{Reconciler: stubReconciler{res: tc.res}, Logger: zerolog.Nop()}
			task, err := tasks.NewReconcileTask(surcharge.OrderPlaced, "gid://shopify/Order/1")
			require.NoError(t, err)

			err = h.ProcessTask(context.Background(), task)
			if !tc.wantErr {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tc.skipRetry, errors.Is(err, asynq.SkipRetry))
		})
	}
}

func TestHandlerRejectsBadPayload(t *testing.T) {
	h := tasks.Handler{Reconciler: stubReconciler{}, Logger: zerolog.Nop()}
	err := h.ProcessTask(context.Background(), asynq.NewTask(tasks.TypeReconcileOrder, []byte(`{"kind":"quote"}`)))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestRetryDelayGrows(t *testing.T) {
	delay := tasks.RetryDelay(time.Second, 0)
	assert.Equal(t, time.Second, delay(0, nil, nil))
	assert.Equal(t, 4*time.Second, delay(2, nil, nil))
}

type fakeInspector struct {
	infos []*asynq.TaskInfo
	ran   []string
}

func (f *fakeInspector) ListArchivedTasks(string, ...asynq.ListOption) ([]*asynq.TaskInfo, error) {
	return f.infos, nil
}

func (f *fakeInspector) RunTask(_, id string) error {
	f.ran = append(f.ran, id)
	return nil
}

func TestAdminListAndRetryArchived(t *testing.T) {
	failedAt := time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)
	insp := &fakeInspector{infos: []*asynq.TaskInfo{
		{ID: "a", Type: tasks.TypeReconcileOrder, Payload: []byte(`{"kind":"placed","orderId":"gid://shopify/Order/1"}`), Retried: 5, LastErr: "commit failed", LastFailedAt: failedAt},
		{ID: "b", Type: "other"},
	}}
	h := &tasks.AdminHandler{Inspector: insp, Queue: "recargo", Logger: zerolog.Nop()}
	r := chi.NewRouter()
	r.Get("/api/admin/tasks/archived", h.ListArchived)
	r.Post("/api/admin/tasks/archived/{id}/retry", h.Retry)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/admin/tasks/archived", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Data []struct {
			ID      string                 `json:"id"`
			Payload tasks.ReconcilePayload `json:"payload"`
			Retried int                    `json:"retried"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Data, 1)
	assert.Equal(t, "gid://shopify/Order/1", body.Data[0].Payload.OrderID)
	assert.Equal(t, 5, body.Data[0].Retried)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/admin/tasks/archived/a/retry", nil))
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"a"}, insp.ran)
}
