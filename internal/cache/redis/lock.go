package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/spreadbot/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseLua deletes the lock only while it still carries the holder's token.
const releaseLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// CycleLock keeps a single orchestration cycle in flight across every
// process sharing the Redis instance.
type CycleLock struct {
	rdb     *redis.Client
	prefix  string
	release *redis.Script
}

// NewCycleLock creates a CycleLock backed by the given Client.
func NewCycleLock(c *Client) *CycleLock {
	return &CycleLock{
		rdb:     c.Underlying(),
		prefix:  c.Key("lock"),
		release: redis.NewScript(releaseLua),
	}
}

// Acquire takes the named lock for at most ttl. The returned release func is
// idempotent. It returns domain.ErrLockHeld when another holder owns it.
func (l *CycleLock) Acquire(ctx context.Context, name string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	key := l.prefix + ":" + name

	ok, err := l.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", name, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// The caller's context may already be cancelled at shutdown.
			rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = l.release.Run(rctx, l.rdb, []string{key}, token).Err()
		})
	}, nil
}

// Compile-time interface check.
var _ domain.CycleLock = (*CycleLock)(nil)
