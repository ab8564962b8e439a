package redis

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/alanyoungcy/spreadbot/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	// streamMaxLen caps the opportunity stream (XADD MAXLEN ~).
	streamMaxLen int64 = 10000
	// subscriberBuffer is the per-subscription queue; a consumer further
	// behind than this loses messages.
	subscriberBuffer = 256
)

// SignalBus implements domain.SignalBus over Redis Pub/Sub. StreamAppend
// additionally keeps a capped, replayable log of published opportunities.
type SignalBus struct {
	rdb     *redis.Client
	dropped atomic.Int64
}

// NewSignalBus creates a SignalBus backed by the given Client.
func NewSignalBus(c *Client) *SignalBus {
	return &SignalBus{rdb: c.Underlying()}
}

// Publish sends payload on channel.
func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := sb.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe returns the payloads published on channel until ctx is done,
// when the returned channel is closed. Messages that would block a slow
// consumer are dropped and counted.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	pubsub := sb.rdb.Subscribe(ctx, channel)
	// Wait for the confirmation so no publish after return is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, subscriberBuffer)
	go sb.forward(ctx, pubsub, out)
	return out, nil
}

func (sb *SignalBus) forward(ctx context.Context, pubsub *redis.PubSub, out chan<- []byte) {
	defer close(out)
	defer pubsub.Close()

	in := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			select {
			case out <- []byte(msg.Payload):
			default:
				sb.dropped.Add(1)
			}
		}
	}
}

// Dropped returns how many messages were discarded for slow subscribers.
func (sb *SignalBus) Dropped() int64 { return sb.dropped.Load() }

// StreamAppend adds payload to stream, trimming it to about streamMaxLen
// entries.
func (sb *SignalBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	err := sb.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]any{"payload": payload},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis: stream append %s: %w", stream, err)
	}
	return nil
}

// StreamRecent returns up to n of the newest payloads in stream, newest
// first.
func (sb *SignalBus) StreamRecent(ctx context.Context, stream string, n int64) ([][]byte, error) {
	msgs, err := sb.rdb.XRevRangeN(ctx, stream, "+", "-", n).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: stream read %s: %w", stream, err)
	}
	out := make([][]byte, 0, len(msgs))
	for _, m := range msgs {
		switch v := m.Values["payload"].(type) {
		case string:
			out = append(out, []byte(v))
		case []byte:
			out = append(out, v)
		}
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.SignalBus = (*SignalBus)(nil)
