package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld is returned when another holder owns the key.
var ErrLockHeld = errors.New("platform/cache: lock held")

// Locker hands out short lived exclusive locks.
type Locker struct {
	client *redislock.Client
	ttl    time.Duration
}

// NewLocker constructs a Locker. Locks expire after ttl even if never released.
func NewLocker(client *redis.Client, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Locker{client: redislock.New(client), ttl: ttl}
}

// Lock is a held lock.
type Lock struct {
	lock *redislock.Lock
}

// Acquire takes the lock for key or returns ErrLockHeld.
func (l *Locker) Acquire(ctx context.Context, key string) (*Lock, error) {
	lock, err := l.client.Obtain(ctx, key, l.ttl, nil)
	if err != nil {
		if errors.Is(err, redislock.ErrNotObtained) {
			return nil, ErrLockHeld
		}
		return nil, fmt.Errorf("platform/cache: acquire %s: %w", key, err)
	}
	return &Lock{lock: lock}, nil
}

// Release frees the lock if it is still ours. A lock that already expired or
// was taken over is not an error.
func (lk *Lock) Release(ctx context.Context) error {
	if lk == nil || lk.lock == nil {
		return nil
	}
	if err := lk.lock.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
		return fmt.Errorf("platform/cache: release %s: %w", lk.lock.Key(), err)
	}
	return nil
}
