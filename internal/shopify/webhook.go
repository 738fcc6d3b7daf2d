package shopify

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strings"
)

// Webhook request headers.
const (
	HeaderHMAC      = "X-Shopify-Hmac-Sha256"
	HeaderTopic     = "X-Shopify-Topic"
	HeaderShop      = "X-Shopify-Shop-Domain"
	HeaderWebhookID = "X-Shopify-Webhook-Id"
)

// HMACVerifier checks webhook signatures with the app's shared secret.
type HMACVerifier struct {
	Secret string
}

// Verify reports whether signature is the base64 HMAC-SHA256 of payload.
func (v HMACVerifier) Verify(payload []byte, signature string) bool {
	if v.Secret == "" {
		return false
	}
	provided, err := base64.StdEncoding.DecodeString(strings.TrimSpace(signature))
	if err != nil || len(provided) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, []byte(v.Secret))
	_, _ = mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), provided)
}

// Sign computes the X-Shopify-Hmac-Sha256 header value for payload.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(payload)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
