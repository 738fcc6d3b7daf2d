package app

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-recargo/internal/config"
	"github.com/noah-isme/backend-recargo/internal/events"
)

func testConfig(t *testing.T, extra map[string]string) *config.Config {
	t.Helper()
	env := map[string]string{
		"SHOPIFY_STORE_URL":       "demo.myshopify.com",
		"SHOPIFY_ACCESS_TOKEN":    "shpat_test",
		"RECARGO_RATE":            "0.014",
		"READ_RETRY_MAX_ATTEMPTS": "2",
		"READ_RETRY_DELAY":        "250ms",
		"RECARGO_TITLE":           "Recargo (1.4%)",
		"DATABASE_URL":            "",
		"KAFKA_BROKERS":           "",
	}
	for k, v := range extra {
		env[k] = v
	}
	cfg, err := config.LoadForTests(env)
	require.NoError(t, err)
	return cfg
}

func TestNewReconcileServiceUsesConfig(t *testing.T) {
	cfg := testConfig(t, nil)
	svc := NewReconcileService(cfg, nil, nil, nil, nil, zerolog.Nop())

	assert.Equal(t, "0.014", svc.Engine.Rate.String())
	assert.Equal(t, "0.01", svc.Engine.Tolerance.String())
	assert.Equal(t, 2, svc.ReadPolicy.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, svc.ReadPolicy.Delay)
	assert.Equal(t, 10*time.Second, svc.ReadPolicy.AttemptTimeout)
	assert.Equal(t, "Recargo (1.4%)", svc.Coordinator.Title)
	assert.Equal(t, cfg.PipelineTimeout, svc.Timeout)
}

func TestBuildWithoutDatabaseOrKafka(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	cfg := testConfig(t, map[string]string{"REDIS_URL": "redis://" + mr.Addr() + "/0"})
	d, err := Build(context.Background(), cfg, zerolog.Nop(), Options{ApplicationName: "recargo-test", BreakerMinRequests: 5, BreakerFailureRatio: 0.5, BreakerOpenFor: time.Second})
	require.NoError(t, err)
	t.Cleanup(d.Close)

	assert.Nil(t, d.DB)
	assert.False(t, d.Audit.Enabled)
	assert.IsType(t, events.Nop{}, d.Publisher)
	require.NotNil(t, d.Reconcile)
	assert.Equal(t, "https://demo.myshopify.com/admin/api/2025-07/graphql.json", d.Shopify.Endpoint())
}

func TestBuildFailsOnUnreachableRedis(t *testing.T) {
	cfg := testConfig(t, map[string]string{"REDIS_URL": "redis://127.0.0.1:1/0"})
	_, err := Build(context.Background(), cfg, zerolog.Nop(), Options{})
	require.Error(t, err)
}
