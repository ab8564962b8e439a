package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/spreadbot/internal/domain"
	"github.com/redis/go-redis/v9"
)

// DedupStore implements domain.DedupStore with SET NX PX: the key exists for
// exactly the cool-down, and Redis expiry performs the eviction.
type DedupStore struct {
	rdb    *redis.Client
	prefix string
}

// NewDedupStore creates a DedupStore backed by the given Client.
func NewDedupStore(c *Client) *DedupStore {
	return &DedupStore{rdb: c.Underlying(), prefix: c.Key("dedup")}
}

// Claim sets the key if absent. The stored value is the claim time.
func (ds *DedupStore) Claim(ctx context.Context, key domain.DedupKey, now time.Time, cooldown time.Duration) (bool, error) {
	ok, err := ds.rdb.SetNX(ctx, ds.prefix+":"+string(key), now.UTC().Format(time.RFC3339Nano), cooldown).Result()
	if err != nil && err != redis.Nil {
		return false, fmt.Errorf("redis: dedup claim %s: %w", key, err)
	}
	return ok, nil
}

// Compile-time interface check.
var _ domain.DedupStore = (*DedupStore)(nil)
