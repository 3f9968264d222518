// Package lock provides the distributed lock used to single-flight the
// expiry sweep across sweeper replicas.
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "giftwell:lock:"

// Lock is a best-effort mutual exclusion primitive. The sweep itself stays
// idempotent; the lock only avoids redundant work between replicas.
type Lock interface {
	// Acquire attempts to take the named lock for ttl. It reports false when
	// another holder owns the lock.
	Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error)
	// Release frees the named lock.
	Release(ctx context.Context, name string) error
}

// RedisLock implements Lock with a redis SET NX key per name.
type RedisLock struct {
	client *redis.Client
}

// NewRedisLock creates a lock backed by the given redis client.
func NewRedisLock(client *redis.Client) *RedisLock {
	return &RedisLock{client: client}
}

// Acquire takes the lock via SET NX with a TTL so a crashed holder
// eventually frees it.
func (l *RedisLock) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	if l == nil || l.client == nil {
		return false, fmt.Errorf("redis lock is not configured")
	}
	ok, err := l.client.SetNX(ctx, keyPrefix+name, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	return ok, nil
}

// Release deletes the lock key. The TTL is the backstop when Release is
// never reached.
func (l *RedisLock) Release(ctx context.Context, name string) error {
	if l == nil || l.client == nil {
		return fmt.Errorf("redis lock is not configured")
	}
	if err := l.client.Del(ctx, keyPrefix+name).Err(); err != nil {
		return fmt.Errorf("release lock %s: %w", name, err)
	}
	return nil
}

var _ Lock = (*RedisLock)(nil)
