package obs_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-recargo/internal/common"
	"github.com/noah-isme/backend-recargo/internal/obs"
)

func TestHTTPMetricsLabels(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := obs.NewHTTPMetrics("recargo", []float64{1, 10}, registry)
	handler := obs.HTTPObs{Metrics: metrics}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	req = req.WithContext(obs.WithRoutePattern(req.Context(), "/health/ready"))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204 got %d", rr.Code)
	}

	total := testutil.ToFloat64(metrics.ReqTotal.WithLabelValues(http.MethodGet, "/health/ready", "204"))
	if total != 1 {
		t.Fatalf("expected counter to be 1, got %v", total)
	}

	samples := testutil.CollectAndCount(metrics.ReqDur)
	if samples == 0 {
		t.Fatalf("expected histogram sample")
	}

	if metrics.InFlight != nil {
		if val := testutil.ToFloat64(metrics.InFlight); val != 0 {
			t.Fatalf("expected no in-flight requests, got %v", val)
		}
	}
}

func TestRequestLoggerAddsShopAndRoute(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	handler := obs.RequestLogger{Logger: logger}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/recargo/orders/7", nil)
	ctx := obs.WithRoutePattern(req.Context(), "/api/recargo/orders/{id}")
	ctx = common.WithShop(ctx, "tienda.myshopify.com")
	handler.ServeHTTP(httptest.NewRecorder(), req.WithContext(ctx))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if entry["route"] != "/api/recargo/orders/{id}" || entry["shop"] != "tienda.myshopify.com" {
		t.Fatalf("unexpected log entry %v", entry)
	}
	if entry["status"] != float64(http.StatusAccepted) {
		t.Fatalf("expected status 202, got %v", entry["status"])
	}
}

func TestParseBucketsCSV(t *testing.T) {
	got := obs.ParseBucketsCSV("100, x, -1, 5")
	if len(got) != 2 || got[0] != 100 || got[1] != 5 {
		t.Fatalf("unexpected buckets %v", got)
	}
	if obs.ParseBucketsCSV(" ") != nil {
		t.Fatal("expected nil for empty input")
	}
}

func TestDomainMetricsHelpers(t *testing.T) {
	obs.MustRegisterDomainMetrics("recargo_test", prometheus.NewRegistry())
	obs.IncCounter(obs.ReconciliationsTotal, "draft", "applied")
	if got := testutil.ToFloat64(obs.ReconciliationsTotal.WithLabelValues("draft", "applied")); got < 1 {
		t.Fatalf("expected counter increment, got %v", got)
	}
	obs.IncCounter(nil, "ignored")
}
