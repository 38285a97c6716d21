// Package lock provides a Redis-backed mutual exclusion lock so that only
// one bridge instance drains the queue at a time. FOR UPDATE SKIP LOCKED
// already keeps concurrent drains correct; the lock keeps them from
// competing for the same Jamf Pro rate limits.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired is returned when another holder owns the lock.
var ErrNotAcquired = errors.New("lock not acquired")

// releaseScript deletes the key only when the caller still owns it, so a
// holder whose lock expired cannot release a successor's lock.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Lock is a single named lock with an owner token per acquisition.
type Lock struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// New creates a lock on the given key. The TTL bounds how long a crashed
// holder can block others.
func New(client *redis.Client, key string, ttl time.Duration) *Lock {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Lock{client: client, key: key, ttl: ttl}
}

// Acquire takes the lock and returns a release function. It returns
// ErrNotAcquired without blocking when the lock is held elsewhere.
func (l *Lock) Acquire(ctx context.Context) (release func(context.Context) error, err error) {
	owner := uuid.NewString()

	ok, err := l.client.SetNX(ctx, l.key, owner, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", l.key, err)
	}
	if !ok {
		return nil, ErrNotAcquired
	}

	release = func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{l.key}, owner).Err(); err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("failed to release lock %s: %w", l.key, err)
		}
		return nil
	}
	return release, nil
}
