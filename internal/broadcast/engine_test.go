package broadcast

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaloslazo/NubuStream/internal/chat"
	"github.com/kaloslazo/NubuStream/internal/session"
)

var errBroken = errors.New("broken pipe")

type fakeConn struct {
	mu     sync.Mutex
	frames [][]byte
	fail   bool
	closed atomic.Bool
}

func (c *fakeConn) Send(data []byte) error {
	if c.fail {
		return errBroken
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, data)
	return nil
}

func (c *fakeConn) Close() error {
	c.closed.Store(true)
	return nil
}

func (c *fakeConn) received() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

func join(t *testing.T, r *session.Registry, id, room string, conn *fakeConn) {
	t.Helper()
	_, _, err := r.Register(conn, chat.User{ID: id, Username: id, Role: chat.RoleViewer}, room)
	require.NoError(t, err)
}

func TestBroadcast_UnknownRoom(t *testing.T) {
	e := NewEngine(session.NewRegistry(session.Options{}), 4, nil)
	res := e.Broadcast(context.Background(), "nope", []byte("x"), "")
	assert.Equal(t, Result{}, res)
}

func TestBroadcast_ExcludesSender(t *testing.T) {
	r := session.NewRegistry(session.Options{})
	a, b, c := &fakeConn{}, &fakeConn{}, &fakeConn{}
	join(t, r, "a", "R", a)
	join(t, r, "b", "R", b)
	join(t, r, "c", "R", c)

	e := NewEngine(r, 2, nil)
	res := e.Broadcast(context.Background(), "R", []byte("hi"), "a")

	assert.Equal(t, 2, res.Recipients)
	assert.Equal(t, 2, res.Delivered)
	assert.Empty(t, res.Failed)
	assert.Equal(t, 0, a.received())
	assert.Equal(t, 1, b.received())
	assert.Equal(t, 1, c.received())
}

func TestBroadcast_OtherRoomsUntouched(t *testing.T) {
	r := session.NewRegistry(session.Options{})
	in, out := &fakeConn{}, &fakeConn{}
	join(t, r, "in", "R1", in)
	join(t, r, "out", "R2", out)

	NewEngine(r, 0, nil).Broadcast(context.Background(), "R1", []byte("x"), "")
	assert.Equal(t, 1, in.received())
	assert.Equal(t, 0, out.received())
}

func TestBroadcast_FailureIsolatedAndEvicted(t *testing.T) {
	r := session.NewRegistry(session.Options{})
	a, b, c, d := &fakeConn{}, &fakeConn{}, &fakeConn{fail: true}, &fakeConn{}
	join(t, r, "a", "R1", a)
	join(t, r, "b", "R1", b)
	join(t, r, "c", "R1", c)
	join(t, r, "d", "R1", d)

	e := NewEngine(r, 4, nil)
	res := e.Broadcast(context.Background(), "R1", []byte("m"), "a")

	assert.Equal(t, 3, res.Recipients)
	assert.Equal(t, 2, res.Delivered)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, "c", res.Failed[0].UserID)
	assert.ErrorIs(t, res.Failed[0].Err, errBroken)

	assert.Equal(t, 1, b.received())
	assert.Equal(t, 1, d.received())

	_, ok := r.Lookup("c")
	assert.False(t, ok)
	assert.True(t, c.closed.Load())

	room, ok := r.Room("R1")
	require.True(t, ok)
	assert.Equal(t, 3, room.ActiveUsers)
}

func TestBroadcast_CustomFailureHook(t *testing.T) {
	r := session.NewRegistry(session.Options{})
	join(t, r, "x", "R", &fakeConn{fail: true})
	join(t, r, "y", "R", &fakeConn{fail: true})

	var mu sync.Mutex
	var failed []string
	e := NewEngine(r, 1, func(userID string) {
		mu.Lock()
		failed = append(failed, userID)
		mu.Unlock()
	})

	res := e.Broadcast(context.Background(), "R", []byte("m"), "")
	assert.Len(t, res.Failed, 2)
	assert.ElementsMatch(t, []string{"x", "y"}, failed)

	// The custom hook did not deregister anyone.
	assert.Equal(t, 2, r.SessionCount())
}

func TestBroadcast_CancelledContextSkips(t *testing.T) {
	r := session.NewRegistry(session.Options{})
	conn := &fakeConn{}
	join(t, r, "a", "R", conn)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := NewEngine(r, 1, nil).Broadcast(ctx, "R", []byte("m"), "")
	assert.Equal(t, 1, res.Recipients)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 0, conn.received())
	assert.Equal(t, 1, r.SessionCount())
}

func TestBroadcast_ConcurrentWithChurn(t *testing.T) {
	r := session.NewRegistry(session.Options{})
	for i := 0; i < 20; i++ {
		join(t, r, string(rune('a'+i)), "R", &fakeConn{})
	}
	e := NewEngine(r, 8, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			e.Broadcast(context.Background(), "R", []byte("m"), "")
		}()
		go func(i int) {
			defer wg.Done()
			r.Deregister(string(rune('a' + i)))
		}(i)
	}
	wg.Wait()

	room, ok := r.Room("R")
	require.True(t, ok)
	assert.Equal(t, 10, room.ActiveUsers)
}
