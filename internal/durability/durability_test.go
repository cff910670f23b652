package durability

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natstest "github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaloslazo/NubuStream/internal/chat"
	"github.com/kaloslazo/NubuStream/internal/messaging"
)

func testMessage(room string) chat.Message {
	user := chat.User{ID: "u1", Username: "alice", Role: chat.RoleViewer}
	return chat.NewMessage(user, room, "hello", time.Now())
}

func TestParseBackend(t *testing.T) {
	tests := []struct {
		in      string
		want    Backend
		wantErr bool
	}{
		{"", BackendNone, false},
		{"none", BackendNone, false},
		{"redis", BackendRedis, false},
		{" Redis+NATS ", BackendRedisNATS, false},
		{"kafka", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseBackend(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRoomChannelAndKey(t *testing.T) {
	assert.Equal(t, "chat.general", RoomChannel("general"))
	assert.Equal(t, messaging.ChatSubject("general"), RoomChannel("general"))

	msg := testMessage("general")
	assert.Equal(t, "messages:general:"+msg.ID, MessageKey(msg))
}

func TestNoop(t *testing.T) {
	var s Sink = Noop{}
	ctx := context.Background()
	assert.False(t, s.Store(ctx, testMessage("r")))
	assert.False(t, s.Publish(ctx, "chat.r", []byte("x")))
	assert.False(t, s.Available())
	assert.NoError(t, s.Close())
}

func TestOpen_Disabled(t *testing.T) {
	s := Open(context.Background(), Config{Backend: BackendNone})
	assert.IsType(t, Noop{}, s)
}

func TestOpen_UnreachableRedisFallsBack(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	s := Open(ctx, Config{Backend: BackendRedis, RedisAddr: "127.0.0.1:1"})
	assert.IsType(t, Noop{}, s)
	assert.False(t, s.Available())
}

func newTestRedis(t *testing.T) *Redis {
	t.Helper()
	r, err := DialRedis(context.Background(), "localhost:6379")
	if err != nil {
		t.Skipf("redis not available: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestRedis_StoreSetsTTL(t *testing.T) {
	r := newTestRedis(t)
	ctx := context.Background()

	msg := testMessage("test_room")
	require.True(t, r.Store(ctx, msg))
	assert.True(t, r.Available())
	t.Cleanup(func() { r.client.Del(ctx, MessageKey(msg)) })

	raw, err := r.client.Get(ctx, MessageKey(msg)).Bytes()
	require.NoError(t, err)

	var got chat.Message
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, msg.ID, got.ID)
	assert.Equal(t, "hello", got.Content)

	ttl, err := r.client.TTL(ctx, MessageKey(msg)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 59*time.Minute)
	assert.LessOrEqual(t, ttl, MessageTTL)
}

func TestRedis_Publish(t *testing.T) {
	r := newTestRedis(t)
	ctx := context.Background()

	sub := r.client.Subscribe(ctx, RoomChannel("test_room"))
	t.Cleanup(func() { sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.True(t, r.Publish(ctx, RoomChannel("test_room"), []byte(`{"n":1}`)))

	select {
	case m := <-sub.Channel():
		assert.Equal(t, `{"n":1}`, m.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for redis publish")
	}
}

func TestRedis_FailureMarksUnavailable(t *testing.T) {
	r := NewRedis(redis.NewClient(&redis.Options{
		Addr:       "127.0.0.1:1",
		MaxRetries: -1,
	}))
	t.Cleanup(func() { r.Close() })
	require.True(t, r.Available())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	assert.False(t, r.Store(ctx, testMessage("r")))
	assert.False(t, r.Available())
	assert.False(t, r.Publish(ctx, "chat.r", []byte("x")))
}

func TestRedisNATS_PublishesToNATS(t *testing.T) {
	srv := natstest.RunRandClientPortServer()
	t.Cleanup(srv.Shutdown)

	cfg := messaging.DefaultNATSConfig()
	cfg.URL = srv.ClientURL()
	pub, err := messaging.NewNATSClient(cfg)
	require.NoError(t, err)

	observer, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	t.Cleanup(observer.Close)

	got := make(chan []byte, 1)
	_, err = observer.Subscribe(RoomChannel("lobby"), func(msg *nats.Msg) { got <- msg.Data })
	require.NoError(t, err)
	require.NoError(t, observer.Flush())

	store := NewRedis(redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1}))
	s := NewRedisNATS(store, pub)
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	assert.True(t, s.Publish(ctx, RoomChannel("lobby"), []byte(`{"ok":true}`)))

	select {
	case data := <-got:
		assert.JSONEq(t, `{"ok":true}`, string(data))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for nats publish")
	}

	storeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	assert.False(t, s.Store(storeCtx, testMessage("lobby")))
	assert.False(t, s.Available())

	cancelled, cancelNow := context.WithCancel(ctx)
	cancelNow()
	assert.False(t, s.Publish(cancelled, RoomChannel("lobby"), []byte("x")))
}
