package reconcile_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-recargo/internal/reconcile"
	"github.com/noah-isme/backend-recargo/internal/shopify"
	"github.com/noah-isme/backend-recargo/internal/surcharge"
)

func newRouter(svc *reconcile.Service) http.Handler {
	h := &reconcile.Handler{Svc: svc, Validate: validator.New(), Logger: zerolog.Nop()}
	r := chi.NewRouter()
	r.Post("/api/recargo/draft-orders/{id}", h.ReconcileDraft)
	r.Post("/api/recargo/orders/{id}", h.ReconcileOrder)
	r.Post("/api/recargo/preview", h.Preview)
	r.Post("/api/add-recargo-equivalencia", h.AddRecargo)
	return r
}

func TestHandlerReconcileDraft(t *testing.T) {
	fake := newFakeShopify()
	fake.put(surcharge.OrderSnapshot{ID: draftID, Kind: surcharge.OrderDraft, Mutable: true, Currency: "EUR", LineItems: concreteGoods("l")})
	svc, _ := newService(fake)
	router := newRouter(svc)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/recargo/draft-orders/1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "40.00", body["subtotal"])
	assert.Equal(t, "2.08", body["recargoAmount"])
	assert.Equal(t, "42.08", body["newTotal"])
	assert.NotContains(t, body, "phases")
}

func TestHandlerPartialReturnsConflict(t *testing.T) {
	fake := newFakeShopify()
	fake.put(surcharge.OrderSnapshot{ID: orderID, Kind: surcharge.OrderPlaced, Mutable: true, Currency: "EUR",
		LineItems: concreteGoods("gid://shopify/LineItem/")})
	fake.failOn["orderEditCommit"] = &shopify.TransportError{Op: "orderEditCommit", StatusCode: http.StatusInternalServerError}
	svc, _ := newService(fake)

	rec := httptest.NewRecorder()
	newRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/recargo/orders/7", nil))
	require.Equal(t, http.StatusConflict, rec.Code)

	var body struct {
		Success bool             `json:"success"`
		Status  string           `json:"status"`
		Phases  reconcile.Phases `json:"phases"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Success)
	assert.Equal(t, "partial", body.Status)
	assert.True(t, body.Phases.EditCreated)
	assert.True(t, body.Phases.ItemAdded)
	assert.False(t, body.Phases.Committed)
}

func TestHandlerPreviewValidation(t *testing.T) {
	svc, _ := newService(newFakeShopify())
	router := newRouter(svc)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/recargo/preview", strings.NewReader(`{"orderId":"1","kind":"quote"}`)))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "VALIDATION_ERROR")

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/recargo/preview", strings.NewReader(`{"orderId":"9","kind":"draft"}`)))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerLegacyAddRecargo(t *testing.T) {
	fake := newFakeShopify()
	fake.put(surcharge.OrderSnapshot{ID: draftID, Kind: surcharge.OrderDraft, Mutable: true, Currency: "EUR", LineItems: concreteGoods("l")})
	svc, _ := newService(fake)

	rec := httptest.NewRecorder()
	payload := `{"draftOrderId":"gid://shopify/DraftOrder/1","recargoAmount":"9.99"}`
	newRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/add-recargo-equivalencia", strings.NewReader(payload)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"recargoAmount":"2.08"`)

	rec = httptest.NewRecorder()
	newRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/add-recargo-equivalencia", strings.NewReader(`{}`)))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
