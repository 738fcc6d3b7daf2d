package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-recargo/internal/audit"
	"github.com/noah-isme/backend-recargo/internal/config"
	"github.com/noah-isme/backend-recargo/internal/events"
	"github.com/noah-isme/backend-recargo/internal/lock"
	"github.com/noah-isme/backend-recargo/internal/obs"
	"github.com/noah-isme/backend-recargo/internal/reconcile"
	"github.com/noah-isme/backend-recargo/internal/resilience"
	"github.com/noah-isme/backend-recargo/internal/shopify"
	"github.com/noah-isme/backend-recargo/internal/surcharge"
)

// Options tune how Build instruments shared clients.
type Options struct {
	ApplicationName string
	RedisMetrics    bool
	// BreakerMinRequests, BreakerFailureRatio and BreakerOpenFor configure the
	// circuit breaker in front of the Shopify Admin API.
	BreakerMinRequests  int
	BreakerFailureRatio float64
	BreakerOpenFor      time.Duration
}

// Dependencies are the clients and services shared by the api and worker binaries.
type Dependencies struct {
	Config    *config.Config
	Redis     *redis.Client
	DB        *pgxpool.Pool
	Shopify   *shopify.Client
	Breaker   *resilience.Breaker
	Audit     audit.Service
	Publisher reconcile.Publisher
	Reconcile *reconcile.Service

	closers []func() error
	logger  zerolog.Logger
}

// Build connects to Redis, the optional audit database and Kafka, and wires
// the reconciliation service on top of them.
func Build(ctx context.Context, cfg *config.Config, logger zerolog.Logger, opts Options) (*Dependencies, error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	d := &Dependencies{Config: cfg, logger: logger}

	rdb, err := NewRedis(ctx, cfg.RedisURL, opts.RedisMetrics, logger)
	if err != nil {
		return nil, err
	}
	d.Redis = rdb
	d.closers = append(d.closers, rdb.Close)

	if cfg.AuditEnabled {
		if err := audit.Migrate(cfg.DatabaseURL); err != nil {
			d.Close()
			return nil, err
		}
		pool, err := audit.NewPool(ctx, audit.PoolConfig{URL: cfg.DatabaseURL, ApplicationName: opts.ApplicationName})
		if err != nil {
			d.Close()
			return nil, err
		}
		d.DB = pool
		d.closers = append(d.closers, func() error { pool.Close(); return nil })
	}
	d.Audit = audit.Service{Enabled: cfg.AuditEnabled, Logger: obs.Component(logger, "audit")}
	if d.DB != nil {
		d.Audit.Store = audit.PGStore{Pool: d.DB}
	}

	d.Publisher = events.Nop{}
	if cfg.KafkaEnabled() {
		producer, err := events.NewSyncProducer(cfg.KafkaBrokers, opts.ApplicationName)
		if err != nil {
			d.Close()
			return nil, err
		}
		pub := events.KafkaPublisher{Producer: producer, TopicPrefix: cfg.KafkaTopic, Logger: obs.Component(logger, "events")}
		d.Publisher = pub
		d.closers = append(d.closers, pub.Close)
	}

	d.Breaker = resilience.NewBreaker(opts.BreakerMinRequests, opts.BreakerFailureRatio, opts.BreakerOpenFor).
		WithTarget("shopify").
		WithLogger(logger)
	client, err := shopify.New(shopify.Config{
		StoreURL:    cfg.ShopifyStoreURL,
		AccessToken: cfg.ShopifyAccessToken,
		APIVersion:  cfg.ShopifyAPIVersion,
		Timeout:     cfg.ShopifyTimeout,
		Breaker:     d.Breaker,
		Logger:      logger,
	})
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("app: shopify client: %w", err)
	}
	d.Shopify = client
	d.Reconcile = NewReconcileService(cfg, client, lock.Locker{R: rdb, RetryBackoff: cfg.LockRetryBackoff}, d.Audit, d.Publisher, logger)
	return d, nil
}

// NewReconcileService assembles the reconciliation pipeline from cfg.
func NewReconcileService(cfg *config.Config, remote reconcile.Remote, locker reconcile.Locker, rec reconcile.Recorder, pub reconcile.Publisher, logger zerolog.Logger) *reconcile.Service {
	logger = obs.Component(logger, "reconcile")
	policy := resilience.DefaultReadPolicy()
	policy.MaxAttempts = cfg.ReadRetryMaxAttempts
	policy.Delay = cfg.ReadRetryDelay
	return &reconcile.Service{
		Remote: remote,
		Engine: surcharge.Engine{Rate: cfg.RecargoRate, Tolerance: surcharge.DefaultTolerance},
		Coordinator: reconcile.Coordinator{
			Remote: remote,
			Title:  cfg.RecargoTitle,
			Logger: logger,
		},
		ReadPolicy: policy,
		Locker:     locker,
		LockTTL:    cfg.LockTTL,
		Timeout:    cfg.PipelineTimeout,
		Recorder:   rec,
		Publisher:  pub,
		Logger:     logger,
	}
}

// NewRedis opens a traced Redis client and pings it.
func NewRedis(ctx context.Context, url string, withMetrics bool, logger zerolog.Logger) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("app: parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := redisotel.InstrumentTracing(rdb); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if withMetrics {
		if err := redisotel.InstrumentMetrics(rdb); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("app: ping redis: %w", err)
	}
	return rdb, nil
}

// Close releases everything Build opened, newest first.
func (d *Dependencies) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			d.logger.Error().Err(err).Msg("close dependency")
		}
	}
	d.closers = nil
}
