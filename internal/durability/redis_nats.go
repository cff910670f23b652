package durability

import (
	"context"
	"log"

	"github.com/kaloslazo/NubuStream/internal/chat"
	"github.com/kaloslazo/NubuStream/internal/messaging"
	"github.com/kaloslazo/NubuStream/internal/metrics"
)

// RedisNATS stores messages in Redis and publishes them on NATS.
type RedisNATS struct {
	store *Redis
	nats  *messaging.NATSClient
}

// NewRedisNATS combines a Redis store with a NATS publisher.
func NewRedisNATS(store *Redis, nc *messaging.NATSClient) *RedisNATS {
	return &RedisNATS{store: store, nats: nc}
}

// Store writes msg to Redis.
func (s *RedisNATS) Store(ctx context.Context, msg chat.Message) bool {
	return s.store.Store(ctx, msg)
}

// Publish sends payload to the NATS subject named by channel.
func (s *RedisNATS) Publish(ctx context.Context, channel string, payload []byte) bool {
	if err := ctx.Err(); err != nil {
		metrics.ObserveDurability("publish", false)
		return false
	}
	if err := s.nats.Publish(channel, payload); err != nil {
		log.Printf("[durability] nats publish %s: %v", channel, err)
		metrics.ObserveDurability("publish", false)
		return false
	}
	metrics.ObserveDurability("publish", true)
	return true
}

// Available reports whether both Redis and NATS are reachable.
func (s *RedisNATS) Available() bool {
	return s.store.Available() && s.nats.IsConnected()
}

// Close shuts down NATS first, then Redis.
func (s *RedisNATS) Close() error {
	s.nats.Close()
	return s.store.Close()
}
