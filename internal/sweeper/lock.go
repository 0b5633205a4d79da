package sweeper

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// UnlockFunc releases a held lease.
type UnlockFunc func(ctx context.Context) error

// Locker grants a time-bounded exclusive lease on a key.
type Locker interface {
	// TryLock attempts to take the lease without waiting. ok is false when
	// another holder owns it.
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock UnlockFunc, ok bool, err error)
}

// NopLocker always grants the lease. Used for single-replica deployments.
type NopLocker struct{}

// TryLock always succeeds.
func (NopLocker) TryLock(context.Context, string, time.Duration) (UnlockFunc, bool, error) {
	return func(context.Context) error { return nil }, true, nil
}

// RedisClient is the subset of go-redis used by RedisLocker. *redis.Client satisfies it.
type RedisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// releaseScript deletes the key only while it still holds our token.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

// RedisLocker implements Locker with SET NX PX and a compare-and-delete release.
type RedisLocker struct {
	client RedisClient
}

// NewRedisLocker creates a Redis-backed locker.
func NewRedisLocker(client RedisClient) *RedisLocker {
	return &RedisLocker{client: client}
}

// TryLock attempts to take the lease.
func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (UnlockFunc, bool, error) {
	token := uuid.New().String()

	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquiring lease %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	unlock := func(ctx context.Context) error {
		if err := l.client.Eval(ctx, releaseScript, []string{key}, token).Err(); err != nil {
			return fmt.Errorf("releasing lease %s: %w", key, err)
		}
		return nil
	}
	return unlock, true, nil
}

var (
	_ Locker = NopLocker{}
	_ Locker = (*RedisLocker)(nil)
)
