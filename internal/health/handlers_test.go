package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/noah-isme/backend-recargo/internal/health"
)

func ok(context.Context) error { return nil }

func TestLegacy(t *testing.T) {
	rr := httptest.NewRecorder()
	health.Handler{}.Legacy(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rr.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "OK" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestLive(t *testing.T) {
	rr := httptest.NewRecorder()
	health.Handler{}.Live(rr, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if rr.Code != http.StatusOK || rr.Body.String() != "ok" {
		t.Fatalf("unexpected response %d %q", rr.Code, rr.Body.String())
	}
}

func TestReadySuccess(t *testing.T) {
	handler := health.Handler{Checks: []health.Check{
		{Name: "redis", Probe: ok},
		{Name: "shopify", Probe: ok},
	}}
	rr := httptest.NewRecorder()
	handler.Ready(rr, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rr.Code)
	}
}

func TestReadyFailure(t *testing.T) {
	handler := health.Handler{Checks: []health.Check{
		{Name: "redis", Probe: ok},
		{Name: "postgres", Probe: func(context.Context) error { return errors.New("connection refused") }},
	}}
	rr := httptest.NewRecorder()
	handler.Ready(rr, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", rr.Code)
	}
	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Checks["postgres"] != "connection refused" || body.Checks["redis"] != "ok" {
		t.Fatalf("unexpected checks %v", body.Checks)
	}
}

func TestReadyProbeTimeout(t *testing.T) {
	slow := func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}
	handler := health.Handler{Checks: []health.Check{{Name: "shopify", Probe: slow, Timeout: 10 * time.Millisecond}}}
	rr := httptest.NewRecorder()
	handler.Ready(rr, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", rr.Code)
	}
}
