package durability

import (
	"context"
	"log"

	"github.com/kaloslazo/NubuStream/internal/messaging"
)

// Config selects and addresses the durability backend.
type Config struct {
	Backend   Backend
	RedisAddr string
	NATS      messaging.NATSConfig
}

// Open builds the Sink for cfg. A backend that cannot be reached at start-up
// is logged and replaced by Noop so the relay still serves traffic.
func Open(ctx context.Context, cfg Config) Sink {
	if cfg.Backend == BackendNone || cfg.Backend == "" {
		log.Printf("[durability] backend disabled")
		return Noop{}
	}

	store, err := DialRedis(ctx, cfg.RedisAddr)
	if err != nil {
		log.Printf("[durability] %v; continuing without durability", err)
		return Noop{}
	}
	log.Printf("[durability] connected to redis at %s", cfg.RedisAddr)

	if cfg.Backend != BackendRedisNATS {
		return store
	}

	nc, err := messaging.NewNATSClient(cfg.NATS)
	if err != nil {
		log.Printf("[durability] %v; publishing on redis instead", err)
		return store
	}
	return NewRedisNATS(store, nc)
}
