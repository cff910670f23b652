// Package durability provides the optional best-effort backends a relayed
// message is written to before fan-out: a short-lived Redis copy and a
// publish on the room channel. Every call fails soft; a broken backend never
// blocks or aborts relay.
package durability

import (
	"context"
	"fmt"
	"strings"

	"github.com/kaloslazo/NubuStream/internal/chat"
	"github.com/kaloslazo/NubuStream/internal/messaging"
)

// Backend selects the Sink implementation.
type Backend string

const (
	BackendNone      Backend = "none"
	BackendRedis     Backend = "redis"
	BackendRedisNATS Backend = "redis+nats"
)

// ParseBackend converts a configuration value into a Backend.
func ParseBackend(s string) (Backend, error) {
	switch b := Backend(strings.ToLower(strings.TrimSpace(s))); b {
	case "":
		return BackendNone, nil
	case BackendNone, BackendRedis, BackendRedisNATS:
		return b, nil
	default:
		return "", fmt.Errorf("durability: unknown backend %q", s)
	}
}

// Sink stores and publishes relayed messages. Store and Publish report
// success and never return errors; callers bound them with ctx.
type Sink interface {
	Store(ctx context.Context, msg chat.Message) bool
	Publish(ctx context.Context, channel string, payload []byte) bool
	Available() bool
	Close() error
}

// RoomChannel returns the publish channel for messages relayed in roomID.
func RoomChannel(roomID string) string {
	return messaging.ChatSubject(roomID)
}

// Noop is the Sink used when no backend is configured. It reports itself
// unavailable and accepts nothing.
type Noop struct{}

func (Noop) Store(context.Context, chat.Message) bool     { return false }
func (Noop) Publish(context.Context, string, []byte) bool { return false }
func (Noop) Available() bool                              { return false }
func (Noop) Close() error                                 { return nil }
