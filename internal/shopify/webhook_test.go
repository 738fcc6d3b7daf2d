package shopify_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-recargo/internal/shopify"
)

func TestHMACVerifier(t *testing.T) {
	payload := []byte(`{"id":820982911946154508,"customer":{"tags":"RE"}}`)
	verifier := shopify.HMACVerifier{Secret: "hush"}

	require.True(t, verifier.Verify(payload, shopify.Sign("hush", payload)))
	require.False(t, verifier.Verify(payload, shopify.Sign("other", payload)))
	require.False(t, verifier.Verify(append(payload, ' '), shopify.Sign("hush", payload)))
	require.False(t, verifier.Verify(payload, "not-base64!"))
	require.False(t, verifier.Verify(payload, ""))
	require.False(t, shopify.HMACVerifier{}.Verify(payload, shopify.Sign("", payload)))
}

func TestGID(t *testing.T) {
	require.Equal(t, "gid://shopify/DraftOrder/12", shopify.GID(shopify.ResourceDraftOrder, "12"))
	require.Equal(t, "gid://shopify/Order/3", shopify.GID(shopify.ResourceDraftOrder, "gid://shopify/Order/3"))
	require.True(t, shopify.ValidGID(shopify.ResourceOrder, "gid://shopify/Order/3"))
	require.False(t, shopify.ValidGID(shopify.ResourceOrder, "gid://shopify/DraftOrder/3"))
	require.True(t, shopify.SameLine("gid://shopify/LineItem/44", "gid://shopify/CalculatedLineItem/44"))
	require.False(t, shopify.SameLine("gid://shopify/LineItem/44", "gid://shopify/CalculatedLineItem/45"))
}
