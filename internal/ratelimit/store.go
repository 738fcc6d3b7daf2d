package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

// FixedWindow is a fixed-window limiter backed by a ulule/limiter store.
// The rate is fixed at construction; the window and max passed to Allow are
// ignored.
type FixedWindow struct {
	limiter *limiter.Limiter
}

// ParseRate parses rates such as "60-M" or "1000-H".
func ParseRate(formatted string) (limiter.Rate, error) {
	rate, err := limiter.NewRateFromFormatted(formatted)
	if err != nil {
		return limiter.Rate{}, fmt.Errorf("ratelimit: parse rate %q: %w", formatted, err)
	}
	return rate, nil
}

// NewRedisFixedWindow stores counters in Redis under prefix.
func NewRedisFixedWindow(rdb *redis.Client, prefix string, rate limiter.Rate) (*FixedWindow, error) {
	store, err := limiterredis.NewStoreWithOptions(rdb, limiter.StoreOptions{Prefix: prefix})
	if err != nil {
		return nil, fmt.Errorf("ratelimit: redis store: %w", err)
	}
	return NewFixedWindow(store, rate), nil
}

// NewFixedWindow wraps store with rate.
func NewFixedWindow(store limiter.Store, rate limiter.Rate) *FixedWindow {
	return &FixedWindow{limiter: limiter.New(store, rate)}
}

// Allow implements Allower.
func (f *FixedWindow) Allow(ctx context.Context, key string, _ time.Duration, _ int) (bool, int, time.Time, error) {
	lctx, err := f.limiter.Get(ctx, key)
	if err != nil {
		return false, 0, time.Now(), err
	}
	return !lctx.Reached, int(lctx.Remaining), time.Unix(lctx.Reset, 0), nil
}
