package store

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// CommandBus is the external command transport: guardian alerts and advisor
// commands arrive over Redis Pub/Sub rather than through the durable SQLite
// store, since the two have different consistency needs — commands are
// at-least-once and low-latency, positions are durable and CAS-guarded.
type CommandBus struct {
	client *redis.Client
}

// NewCommandBus connects to Redis at addr/db for Pub/Sub only; it does not
// touch the position store.
func NewCommandBus(addr string, db int) *CommandBus {
	return &CommandBus{
		client: redis.NewClient(&redis.Options{
			Addr: addr,
			DB:   db,
		}),
	}
}

// Ping verifies connectivity at startup.
func (b *CommandBus) Ping(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Subscribe returns a channel of raw message payloads for the given Redis
// channel. The returned PubSub must be closed by the caller when done.
func (b *CommandBus) Subscribe(ctx context.Context, channel string) *redis.PubSub {
	return b.client.Subscribe(ctx, channel)
}

// Close releases the underlying Redis connection.
func (b *CommandBus) Close() error {
	return b.client.Close()
}
