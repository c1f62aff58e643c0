package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrLockFailed lock is held by someone else
	ErrLockFailed = errors.New("failed to acquire lock")
	// ErrLockNotHeld lock expired or belongs to another owner
	ErrLockNotHeld = errors.New("lock not held")
)

var unlockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

var extendScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLock distributed lock based on Redis. Each lock carries a random
// owner token so only the owner can release or extend it.
type RedisLock struct {
	client redis.UniversalClient
	key    string
	token  string
	ttl    time.Duration
}

// NewRedisLock creates a lock on key
func NewRedisLock(client redis.UniversalClient, key string, ttl time.Duration) *RedisLock {
	return &RedisLock{
		client: client,
		key:    key,
		token:  uuid.NewString(),
		ttl:    ttl,
	}
}

// Key locked key
func (l *RedisLock) Key() string {
	return l.key
}

// Lock acquires the lock once
func (l *RedisLock) Lock(ctx context.Context) error {
	ok, err := l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("lock %s: %w", l.key, err)
	}
	if !ok {
		return ErrLockFailed
	}
	return nil
}

// TryLock retries Lock up to maxRetries times
func (l *RedisLock) TryLock(ctx context.Context, maxRetries int, retryDelay time.Duration) error {
	for i := 0; i < maxRetries; i++ {
		err := l.Lock(ctx)
		if !errors.Is(err, ErrLockFailed) {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryDelay):
		}
	}
	return ErrLockFailed
}

// Unlock releases the lock if still owned
func (l *RedisLock) Unlock(ctx context.Context) error {
	n, err := unlockScript.Run(ctx, l.client, []string{l.key}, l.token).Int()
	if err != nil {
		return fmt.Errorf("unlock %s: %w", l.key, err)
	}
	if n == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// Extend resets the TTL if still owned
func (l *RedisLock) Extend(ctx context.Context, ttl time.Duration) error {
	n, err := extendScript.Run(ctx, l.client, []string{l.key}, l.token, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("extend %s: %w", l.key, err)
	}
	if n == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// IsHeld checks if this owner holds the lock
func (l *RedisLock) IsHeld(ctx context.Context) (bool, error) {
	value, err := l.client.Get(ctx, l.key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return value == l.token, nil
}

// WithLock runs fn while holding the lock. acquired is false when another
// owner holds it, in which case fn is not run.
func (l *RedisLock) WithLock(ctx context.Context, fn func(ctx context.Context) error) (acquired bool, err error) {
	if err := l.Lock(ctx); err != nil {
		if errors.Is(err, ErrLockFailed) {
			return false, nil
		}
		return false, err
	}
	defer func() {
		// release even when ctx is already done
		unlockCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		if uerr := l.Unlock(unlockCtx); uerr != nil && !errors.Is(uerr, ErrLockNotHeld) && err == nil {
			err = uerr
		}
	}()

	return true, fn(ctx)
}
