package audit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-recargo/internal/reconcile"
	"github.com/noah-isme/backend-recargo/internal/shopify"
	"github.com/noah-isme/backend-recargo/internal/surcharge"
)

type stubStore struct {
	inserted []Entry
	filter   Filter
}

func (s *stubStore) InsertReconciliation(_ context.Context, e Entry) error {
	s.inserted = append(s.inserted, e)
	return nil
}

func (s *stubStore) ListReconciliations(_ context.Context, f Filter) ([]Entry, error) {
	s.filter = f
	return s.inserted, nil
}

func TestServiceRecordPartial(t *testing.T) {
	store := &stubStore{}
	fixed := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)
	svc := Service{Store: store, Enabled: true, Now: func() time.Time { return fixed }}

	res := reconcile.Result{
		Status:        reconcile.StatusPartial,
		OrderID:       "gid://shopify/Order/7",
		OrderKind:     surcharge.OrderPlaced,
		Decision:      surcharge.KindInsert,
		Currency:      "EUR",
		Subtotal:      "40.00",
		RecargoAmount: "2.08",
		Phases:        &reconcile.Phases{EditCreated: true, ItemAdded: true},
		ErrorClass:    reconcile.ClassPartialMutation,
		UserErrors:    []shopify.UserError{{Field: []string{"id"}, Message: "expired"}},
		Reason:        "expired",
	}
	require.NoError(t, svc.Record(context.Background(), res))
	require.Len(t, store.inserted, 1)

	e := store.inserted[0]
	assert.Equal(t, "partial", e.Status)
	assert.Equal(t, "2.08", e.RecargoAmount.StringFixed(2))
	assert.Equal(t, "40.00", e.Subtotal.StringFixed(2))
	assert.Nil(t, e.NewTotal)
	assert.Equal(t, fixed, e.CreatedAt)
	assert.JSONEq(t, `{"editCreated":true,"staleRemoved":false,"itemAdded":true,"committed":false}`, string(e.Phases))
	assert.JSONEq(t, `[{"field":["id"],"message":"expired"}]`, string(e.UserErrors))
}

func TestServiceSkipsUnchangedAndDisabled(t *testing.T) {
	store := &stubStore{}
	svc := Service{Store: store, Enabled: true}
	require.NoError(t, svc.Record(context.Background(), reconcile.Result{Success: true, Status: reconcile.StatusSkipped}))

	svc.Enabled = false
	require.NoError(t, svc.Record(context.Background(), reconcile.Result{Status: reconcile.StatusApplied}))
	assert.Empty(t, store.inserted)

	require.Error(t, Service{Enabled: true}.Record(context.Background(), reconcile.Result{Status: reconcile.StatusApplied}))
}

func TestHandlerListFilters(t *testing.T) {
	store := &stubStore{}
	h := Handler{Store: store}

	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/api/admin/reconciliations?status=partial&limit=500&offset=-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, Filter{Status: "partial", Limit: 50}, store.filter)

	var body map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.JSONEq(t, `[]`, string(body["data"]))

	rec = httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/api/admin/reconciliations?status=weird", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMigrateURL(t *testing.T) {
	assert.Equal(t, "pgx5://u:p@db:5432/recargo?sslmode=disable", migrateURL("postgres://u:p@db:5432/recargo?sslmode=disable"))
	assert.Equal(t, "pgx5://db/recargo", migrateURL("postgresql://db/recargo"))
	assert.Equal(t, "pgx5://db/recargo", migrateURL("pgx5://db/recargo"))
}
