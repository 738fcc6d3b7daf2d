package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired is returned when the lease is still held by another
// reconciliation after MaxWait. It is transient: the caller may try again.
var ErrNotAcquired error = busyError{}

type busyError struct{}

func (busyError) Error() string   { return "lock: lease held elsewhere" }
func (busyError) Transient() bool { return true }

const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
else
  return 0
end`

// Locker is a per-key Redis lease. Only the holder's token can release it,
// so a lease that expired mid-run is never deleted from under a new holder.
type Locker struct {
	R            redis.Cmdable
	RetryBackoff time.Duration
	// MaxWait bounds how long WithLock polls for a held lease. Zero waits
	// until ctx is done.
	MaxWait time.Duration
}

// WithLock runs fn while holding the lease for key. The lease is released
// when fn returns, even on error.
func (l Locker) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error {
	if l.R == nil {
		return errors.New("lock: redis client not configured")
	}
	if fn == nil {
		return errors.New("lock: callback not provided")
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	retry := l.RetryBackoff
	if retry <= 0 {
		retry = 50 * time.Millisecond
	}
	var deadline <-chan time.Time
	if l.MaxWait > 0 {
		timer := time.NewTimer(l.MaxWait)
		defer timer.Stop()
		deadline = timer.C
	}

	token := uuid.NewString()
	for {
		ok, err := l.R.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			return fmt.Errorf("lock: acquire %s: %w", key, err)
		}
		if ok {
			defer l.release(context.WithoutCancel(ctx), key, token)
			return fn(ctx)
		}
		wait := time.NewTimer(retry)
		select {
		case <-ctx.Done():
			wait.Stop()
			return ctx.Err()
		case <-deadline:
			wait.Stop()
			return fmt.Errorf("%w: %s", ErrNotAcquired, key)
		case <-wait.C:
		}
	}
}

func (l Locker) release(ctx context.Context, key, token string) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := l.R.Eval(ctx, releaseScript, []string{key}, token).Err(); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unknown command") {
			if cur, getErr := l.R.Get(ctx, key).Result(); getErr == nil && cur == token {
				_ = l.R.Del(ctx, key).Err()
			}
		}
	}
}
