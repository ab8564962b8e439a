package redis

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/spreadbot/internal/domain"
)

// testClient connects to SPREADBOT_TEST_REDIS_ADDR under a unique key prefix.
func testClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("SPREADBOT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("SPREADBOT_TEST_REDIS_ADDR not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	c, err := New(ctx, ClientConfig{Addr: addr, PoolSize: 4, KeyPrefix: "spreadbot-test-" + uuid.NewString()})
	if err != nil {
		t.Skipf("redis not available: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestKeyNamespace(t *testing.T) {
	c := &Client{prefix: "spreadbot"}
	assert.Equal(t, "spreadbot:ratelimit:okx:market", c.Key("ratelimit", "okx:market"))
}

func TestWindowStoreSlidingWindow(t *testing.T) {
	ws := NewWindowStore(testClient(t))
	ctx := context.Background()
	b := domain.Budget{Key: "okx:market", Limit: domain.Limit{Capacity: 3, Window: time.Second}}
	t0 := time.Now()

	for i := range 3 {
		wait, err := ws.Reserve(ctx, t0.Add(time.Duration(i)*100*time.Millisecond), 1, b)
		require.NoError(t, err)
		assert.Zero(t, wait)
	}

	wait, err := ws.Reserve(ctx, t0.Add(300*time.Millisecond), 1, b)
	require.NoError(t, err)
	// The first stamp leaves the window at t0+1s.
	assert.InDelta(t, 700*time.Millisecond, wait, float64(5*time.Millisecond))

	wait, err = ws.Reserve(ctx, t0.Add(time.Second+time.Millisecond), 1, b)
	require.NoError(t, err)
	assert.Zero(t, wait)
}

func TestWindowStoreReservesAllBudgetsOrNone(t *testing.T) {
	ws := NewWindowStore(testClient(t))
	ctx := context.Background()
	market := domain.Budget{Key: "bybit:market", Limit: domain.Limit{Capacity: 2, Window: time.Second}}
	ip := domain.Budget{Key: "bybit:ip", Limit: domain.Limit{Capacity: 1, Window: time.Second}}
	t0 := time.Now()

	wait, err := ws.Reserve(ctx, t0, 1, ip)
	require.NoError(t, err)
	require.Zero(t, wait)

	wait, err = ws.Reserve(ctx, t0.Add(100*time.Millisecond), 1, market, ip)
	require.NoError(t, err)
	assert.InDelta(t, 900*time.Millisecond, wait, float64(5*time.Millisecond))

	// The refused request left no stamp in the market budget.
	for i := range 2 {
		wait, err = ws.Reserve(ctx, t0.Add(time.Duration(200+i)*time.Millisecond), 1, market)
		require.NoError(t, err)
		assert.Zero(t, wait)
	}
}

func TestDedupStoreClaim(t *testing.T) {
	ds := NewDedupStore(testClient(t))
	ctx := context.Background()
	key := domain.DedupKey("ETH|bybit:spot|dexscreener:dex")
	now := time.Now()

	ok, err := ds.Claim(ctx, key, now, 200*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ds.Claim(ctx, key, now, 200*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok, "cooling")

	require.Eventually(t, func() bool {
		ok, err := ds.Claim(ctx, key, time.Now(), 200*time.Millisecond)
		return err == nil && ok
	}, 2*time.Second, 50*time.Millisecond)
}

func TestCycleLock(t *testing.T) {
	lock := NewCycleLock(testClient(t))
	ctx := context.Background()

	release, err := lock.Acquire(ctx, "cycle", time.Minute)
	require.NoError(t, err)

	_, err = lock.Acquire(ctx, "cycle", time.Minute)
	assert.True(t, errors.Is(err, domain.ErrLockHeld))

	release()
	release()

	again, err := lock.Acquire(ctx, "cycle", time.Minute)
	require.NoError(t, err)
	again()
}

func TestSignalBusPublishSubscribe(t *testing.T) {
	c := testClient(t)
	bus := NewSignalBus(c)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	channel := c.Key("opportunities")
	ch, err := bus.Subscribe(ctx, channel)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, channel, []byte(`{"type":"opportunity"}`)))
	select {
	case msg := <-ch:
		assert.JSONEq(t, `{"type":"opportunity"}`, string(msg))
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}

	stream := c.Key("stream")
	require.NoError(t, bus.StreamAppend(ctx, stream, []byte("a")))
	require.NoError(t, bus.StreamAppend(ctx, stream, []byte("b")))
	recent, err := bus.StreamRecent(ctx, stream, 5)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("b"), []byte("a")}, recent)

	cancel()
	require.Eventually(t, func() bool {
		_, open := <-ch
		return !open
	}, time.Second, 10*time.Millisecond)
}
