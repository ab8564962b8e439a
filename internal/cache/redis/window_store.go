package redis

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/alanyoungcy/spreadbot/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

//go:embed scripts/sliding_window.lua
var slidingWindowLua string

// WindowStore implements domain.WindowStore with a sorted-set sliding log
// evaluated atomically in Lua, so several processes sharing one API key also
// share its budget.
type WindowStore struct {
	rdb           *redis.Client
	prefix        string
	slidingWindow *redis.Script
}

// NewWindowStore creates a WindowStore backed by the given Client.
func NewWindowStore(c *Client) *WindowStore {
	return &WindowStore{
		rdb:           c.Underlying(),
		prefix:        c.Key("ratelimit"),
		slidingWindow: redis.NewScript(slidingWindowLua),
	}
}

// Reserve records weight units in every budget when they fit in all of them
// and otherwise reports how long the caller should wait.
func (ws *WindowStore) Reserve(ctx context.Context, now time.Time, weight int, budgets ...domain.Budget) (time.Duration, error) {
	if len(budgets) == 0 {
		return 0, nil
	}
	keys := make([]string, len(budgets))
	args := []any{now.UnixMicro(), weight, uuid.NewString()}
	for i, b := range budgets {
		keys[i] = ws.prefix + ":" + b.Key
		args = append(args, b.Limit.Window.Microseconds(), b.Limit.Capacity)
	}
	result, err := ws.slidingWindow.Run(ctx, ws.rdb, keys, args...).Int64Slice()
	if err != nil {
		return 0, fmt.Errorf("redis: reserve %s: %w", budgets[0].Key, err)
	}
	if len(result) < 2 {
		return 0, fmt.Errorf("redis: reserve %s: unexpected result length %d", budgets[0].Key, len(result))
	}
	if result[0] == 1 {
		return 0, nil
	}
	wait := time.Duration(result[1]) * time.Microsecond
	if wait <= 0 {
		wait = time.Millisecond
	}
	return wait, nil
}

// Compile-time interface check.
var _ domain.WindowStore = (*WindowStore)(nil)
