package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/puzpuzpuz/xsync/v3"
)

// ErrLocked is returned by TryLock when the lock is already held.
var ErrLocked = errors.New("lock is already held")

// Locker hands out named, non-blocking locks. The returned unlock function
// must be called (typically via defer) to release the lock.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// RedisLocker is a distributed Locker shared by every instance using the same Redis.
type RedisLocker struct {
	client *redislock.Client
}

// NewRedisLocker returns a Locker backed by r.
func NewRedisLocker(r *Redis) *RedisLocker {
	return &RedisLocker{client: redislock.New(r.client)}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	lock, err := l.client.Obtain(ctx, key, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrLocked
	}
	if err != nil {
		return nil, fmt.Errorf("cache lock %s: %w", key, err)
	}
	return func() {
		// Background context so unlock works even if the request context is cancelled.
		_ = lock.Release(context.Background())
	}, nil
}

// LocalLocker is an in-process Locker. The ttl is ignored; locks live until released.
type LocalLocker struct {
	held *xsync.MapOf[string, struct{}]
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: xsync.NewMapOf[string, struct{}]()}
}

func (l *LocalLocker) TryLock(_ context.Context, key string, _ time.Duration) (func(), error) {
	if _, loaded := l.held.LoadOrStore(key, struct{}{}); loaded {
		return nil, ErrLocked
	}
	return func() { l.held.Delete(key) }, nil
}
