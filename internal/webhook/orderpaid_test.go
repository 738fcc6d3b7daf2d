package webhook_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-recargo/internal/shopify"
	"github.com/noah-isme/backend-recargo/internal/webhook"
)

const secret = "whsec"

type fakeTrigger struct {
	calls  []string
	status string
	err    error
}

func (f *fakeTrigger) TriggerOrder(_ context.Context, orderID string) (string, error) {
	f.calls = append(f.calls, orderID)
	return f.status, f.err
}

func newHandler(t *testing.T, trigger *fakeTrigger) (webhook.OrderPaid, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return webhook.OrderPaid{
		Verifier:  shopify.HMACVerifier{Secret: secret},
		Trigger:   trigger,
		Replay:    client,
		ReplayTTL: time.Hour,
		MaxBody:   1 << 16,
		Logger:    zerolog.Nop(),
	}, mr
}

func deliver(h http.Handler, body []byte, signature, webhookID string) (*httptest.ResponseRecorder, webhook.Response) {
	req := httptest.NewRequest(http.MethodPost, "/api/webhook/order-paid", bytes.NewReader(body))
	req.Header.Set(shopify.HeaderHMAC, signature)
	req.Header.Set(shopify.HeaderTopic, webhook.TopicOrdersPaid)
	req.Header.Set(shopify.HeaderShop, "tienda.myshopify.com")
	if webhookID != "" {
		req.Header.Set(shopify.HeaderWebhookID, webhookID)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var resp webhook.Response
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	return rec, resp
}

func TestOrderPaidEligibleTriggersOnce(t *testing.T) {
	trigger := &fakeTrigger{status: "applied"}
	h, _ := newHandler(t, trigger)
	body := []byte(`{"id":820982911946154508,"name":"#1001","customer":{"id":1,"tags":"VIP, re ,Mayorista"}}`)

	rec, resp := deliver(h, body, shopify.Sign(secret, body), "wh-1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Processed)
	assert.Equal(t, "applied", resp.Status)
	assert.Equal(t, []string{"gid://shopify/Order/820982911946154508"}, trigger.calls)

	rec, resp = deliver(h, body, shopify.Sign(secret, body), "wh-1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, resp.Processed)
	assert.Equal(t, webhook.ReasonDuplicate, resp.Reason)
	assert.Len(t, trigger.calls, 1)
}

func TestOrderPaidRejectsBadSignature(t *testing.T) {
	trigger := &fakeTrigger{}
	h, _ := newHandler(t, trigger)
	body := []byte(`{"id":1,"customer":{"tags":"RE"}}`)

	rec, _ := deliver(h, body, shopify.Sign("wrong", body), "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, trigger.calls)
}

func TestOrderPaidIneligibleIsNoop(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		reason string
	}{
		{name: "no tag", body: `{"id":1,"customer":{"tags":"VIP"}}`, reason: webhook.ReasonNotEligible},
		{name: "substring is not a match", body: `{"id":1,"customer":{"tags":"PREMIUM, CORE"}}`, reason: webhook.ReasonNotEligible},
		{name: "guest checkout", body: `{"id":1}`, reason: webhook.ReasonNotEligible},
		{name: "malformed", body: `{"id":`, reason: webhook.ReasonMalformed},
		{name: "no order id", body: `{"customer":{"tags":"RE"}}`, reason: webhook.ReasonMissingOrderID},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			trigger := &fakeTrigger{}
			h, _ := newHandler(t, trigger)
			body := []byte(tc.body)

			rec, resp := deliver(h, body, shopify.Sign(secret, body), "")
			require.Equal(t, http.StatusOK, rec.Code)
			assert.False(t, resp.Processed)
			assert.Equal(t, tc.reason, resp.Reason)
			assert.Empty(t, trigger.calls)
		})
	}
}

func TestOrderPaidTransientFailureAllowsRedelivery(t *testing.T) {
	trigger := &fakeTrigger{status: "failed", err: errors.New("shopify unavailable")}
	h, mr := newHandler(t, trigger)
	body := []byte(`{"id":5,"admin_graphql_api_id":"gid://shopify/Order/5","customer":{"tags":"RE"}}`)

	rec, _ := deliver(h, body, shopify.Sign(secret, body), "wh-9")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.False(t, mr.Exists("wh:shopify:wh-9"))

	trigger.err = nil
	trigger.status = "applied"
	rec, resp := deliver(h, body, shopify.Sign(secret, body), "wh-9")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Processed)
	assert.Equal(t, []string{"gid://shopify/Order/5", "gid://shopify/Order/5"}, trigger.calls)
}

func TestOrderPaidBodyLimit(t *testing.T) {
	trigger := &fakeTrigger{}
	h, _ := newHandler(t, trigger)
	h.MaxBody = 8
	body := []byte(`{"id":1,"customer":{"tags":"RE"}}`)

	rec, _ := deliver(h, body, shopify.Sign(secret, body), "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHasTag(t *testing.T) {
	assert.True(t, webhook.HasTag("RE", "RE"))
	assert.True(t, webhook.HasTag("vip, Re", "RE"))
	assert.False(t, webhook.HasTag("PRE", "RE"))
	assert.False(t, webhook.HasTag("", "RE"))
	assert.False(t, webhook.HasTag("RE", ""))
}
