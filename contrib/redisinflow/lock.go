package redisinflow

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotOwned is returned by Release when the lock expired or was taken
// over by another holder before Release ran.
var ErrNotOwned = errors.New("redisinflow: lock not owned")

const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

// DistributedLock coordinates which one of several processes sharing
// the same Redis instance is allowed to refresh a given key, so an
// Inflow's scheduled auto-refresh doesn't fire the same remote load
// redundantly from every replica.
type DistributedLock struct {
	client *redis.Client
	key    string
	value  string
	expiry time.Duration
}

// NewDistributedLock builds a lock scoped to key, identified by a fresh
// random token so only this holder's Release call can succeed.
func NewDistributedLock(client *redis.Client, key string, expiry time.Duration) *DistributedLock {
	if expiry <= 0 {
		expiry = DefaultLockExpiry
	}
	return &DistributedLock{
		client: client,
		key:    "inflow:lock:" + key,
		value:  uuid.New().String(),
		expiry: expiry,
	}
}

// Acquire attempts to take the lock, returning false if another process
// currently holds it.
func (l *DistributedLock) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.value, l.expiry).Result()
	if err != nil {
		return false, errors.Wrap(err, "redisinflow: lock acquire")
	}
	return ok, nil
}

// Release atomically verifies this holder still owns the lock and
// deletes it, so a slow caller never releases a lock another process
// has since acquired after expiry.
func (l *DistributedLock) Release(ctx context.Context) error {
	result, err := l.client.Eval(ctx, releaseScript, []string{l.key}, l.value).Result()
	if err != nil {
		return errors.Wrap(err, "redisinflow: lock release")
	}
	if n, ok := result.(int64); !ok || n == 0 {
		return ErrNotOwned
	}
	return nil
}

// WithLock runs fn only if the lock can be acquired, releasing it
// afterward regardless of fn's outcome. It returns false without
// running fn when the lock is already held elsewhere.
func WithLock(ctx context.Context, lock *DistributedLock, fn func(ctx context.Context) error) (ran bool, err error) {
	acquired, err := lock.Acquire(ctx)
	if err != nil || !acquired {
		return false, err
	}
	defer func() {
		if relErr := lock.Release(ctx); relErr != nil && !errors.Is(relErr, ErrNotOwned) {
			err = errors.CombineErrors(err, relErr)
		}
	}()
	return true, fn(ctx)
}
