package durability

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kaloslazo/NubuStream/internal/chat"
	"github.com/kaloslazo/NubuStream/internal/metrics"
)

const (
	// MessagePrefix is the Redis key prefix for stored messages:
	// messages:<room_id>:<message_id>.
	MessagePrefix = "messages:"

	// MessageTTL is how long a stored message is kept.
	MessageTTL = 1 * time.Hour
)

// MessageKey returns the Redis key msg is stored under.
func MessageKey(msg chat.Message) string {
	return MessagePrefix + msg.RoomID + ":" + msg.ID
}

// Redis stores messages with SETEX and publishes with PUBLISH. Availability
// follows the outcome of the most recent operation.
type Redis struct {
	client    *redis.Client
	available atomic.Bool
}

// NewRedis wraps an existing client. The caller is expected to have checked
// connectivity; the sink starts out available.
func NewRedis(client *redis.Client) *Redis {
	r := &Redis{client: client}
	r.available.Store(true)
	return r
}

// DialRedis connects to addr and verifies the connection with PING.
func DialRedis(ctx context.Context, addr string) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("durability: redis connection failed: %w", err)
	}
	return NewRedis(client), nil
}

// Store writes msg as JSON under MessageKey with MessageTTL.
func (r *Redis) Store(ctx context.Context, msg chat.Message) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[durability] marshal message %s: %v", msg.ID, err)
		metrics.ObserveDurability("store", false)
		return false
	}

	err = r.client.Set(ctx, MessageKey(msg), data, MessageTTL).Err()
	return r.observe("store", err)
}

// Publish sends payload on the Redis pub/sub channel.
func (r *Redis) Publish(ctx context.Context, channel string, payload []byte) bool {
	err := r.client.Publish(ctx, channel, payload).Err()
	return r.observe("publish", err)
}

// Available reports whether the last Redis operation succeeded.
func (r *Redis) Available() bool {
	return r.available.Load()
}

// Close releases the Redis client.
func (r *Redis) Close() error {
	r.available.Store(false)
	return r.client.Close()
}

func (r *Redis) observe(op string, err error) bool {
	ok := err == nil
	if prev := r.available.Swap(ok); prev != ok {
		if ok {
			log.Printf("[durability] redis available again")
		} else {
			log.Printf("[durability] redis unavailable: %v", err)
		}
	} else if !ok {
		log.Printf("[durability] redis %s: %v", op, err)
	}
	metrics.ObserveDurability(op, ok)
	return ok
}
