package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "ledger:lock:account:"

// Redis is a Locker shared by every replica, backed by redsync mutexes.
type Redis struct {
	rs         *redsync.Redsync
	expiry     time.Duration
	tries      int
	retryDelay time.Duration
}

// NewRedis builds a Locker whose keys expire after ttl if the holder dies.
func NewRedis(client redis.UniversalClient, ttl time.Duration) *Redis {
	return &Redis{
		rs:         redsync.New(goredis.NewPool(client)),
		expiry:     ttl,
		tries:      32,
		retryDelay: 50 * time.Millisecond,
	}
}

func (r *Redis) Lock(ctx context.Context, keys ...string) (func(), error) {
	keys = sortedUnique(keys)
	held := make([]*redsync.Mutex, 0, len(keys))
	for _, k := range keys {
		m := r.rs.NewMutex(keyPrefix+k,
			redsync.WithExpiry(r.expiry),
			redsync.WithTries(r.tries),
			redsync.WithRetryDelay(r.retryDelay),
		)
		if err := m.LockContext(ctx); err != nil {
			unlockAll(held)
			if ctx.Err() != nil {
				return nil, fmt.Errorf("lock %s: %w", k, ctx.Err())
			}
			return nil, fmt.Errorf("lock %s: %w: %w", k, ErrNotAcquired, err)
		}
		held = append(held, m)
	}
	return func() { unlockAll(held) }, nil
}

// unlockAll ignores errors; a lock that fails to release expires on its own.
func unlockAll(held []*redsync.Mutex) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for i := len(held) - 1; i >= 0; i-- {
		_, _ = held[i].UnlockContext(ctx)
	}
}
