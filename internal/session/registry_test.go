package session

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaloslazo/NubuStream/internal/chat"
)

type nopConn struct{}

func (nopConn) Send([]byte) error { return nil }
func (nopConn) Close() error      { return nil }

func viewer(id string) chat.User {
	return chat.User{ID: id, Username: "user-" + id, Role: chat.RoleViewer}
}

// checkInvariants asserts that the member sets, the reverse map and the room
// counts agree with each other.
func checkInvariants(t *testing.T, r *Registry) {
	t.Helper()
	r.mu.RLock()
	defer r.mu.RUnlock()

	for roomID, set := range r.members {
		for userID := range set {
			sess, ok := r.sessions[userID]
			require.Truef(t, ok, "member %s of %s has no session", userID, roomID)
			require.Equalf(t, roomID, sess.RoomID, "member %s listed in %s but session says %s", userID, roomID, sess.RoomID)
		}
		room, ok := r.rooms[roomID]
		require.Truef(t, ok, "member set for unknown room %s", roomID)
		require.Equalf(t, len(set), room.ActiveUsers, "room %s count mismatch", roomID)
	}
	for userID, sess := range r.sessions {
		_, ok := r.members[sess.RoomID][userID]
		require.Truef(t, ok, "session %s missing from room %s", userID, sess.RoomID)
	}
	for roomID, room := range r.rooms {
		require.GreaterOrEqualf(t, room.ActiveUsers, 0, "room %s negative count", roomID)
	}
}

func TestRegister_CreatesRoomLazily(t *testing.T) {
	r := NewRegistry(Options{})

	_, ok := r.Room("R1")
	require.False(t, ok)

	sess, count, err := r.Register(nopConn{}, viewer("a"), "R1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, "R1", sess.RoomID)
	assert.False(t, sess.JoinedAt.IsZero())

	room, ok := r.Room("R1")
	require.True(t, ok)
	assert.Equal(t, "Room R1", room.Name)
	assert.Equal(t, 1, room.ActiveUsers)
	assert.True(t, room.Active)

	_, count, err = r.Register(nopConn{}, viewer("b"), "R1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, 2, r.SessionCount())
	assert.Equal(t, 1, r.RoomCount())
	checkInvariants(t, r)
}

func TestRegister_RejectsDuplicateAndInvalid(t *testing.T) {
	r := NewRegistry(Options{})

	_, _, err := r.Register(nopConn{}, viewer("a"), "R1")
	require.NoError(t, err)

	_, _, err = r.Register(nopConn{}, viewer("a"), "R2")
	require.ErrorIs(t, err, ErrDuplicateUser)

	_, _, err = r.Register(nopConn{}, viewer(""), "R1")
	require.ErrorIs(t, err, ErrInvalidSession)

	_, _, err = r.Register(nopConn{}, viewer("c"), "")
	require.ErrorIs(t, err, ErrInvalidSession)

	assert.Equal(t, 1, r.SessionCount())
	_, ok := r.Room("R2")
	assert.False(t, ok, "failed register must not create a room")
	checkInvariants(t, r)
}

func TestDeregister_Idempotent(t *testing.T) {
	r := NewRegistry(Options{})
	_, _, _ = r.Register(nopConn{}, viewer("a"), "R1")
	_, _, _ = r.Register(nopConn{}, viewer("b"), "R1")

	sess, ok := r.Deregister("a")
	require.True(t, ok)
	assert.Equal(t, "a", sess.User.ID)

	room, _ := r.Room("R1")
	assert.Equal(t, 1, room.ActiveUsers)

	sess, ok = r.Deregister("a")
	assert.False(t, ok)
	assert.Nil(t, sess)

	room, _ = r.Room("R1")
	assert.Equal(t, 1, room.ActiveUsers, "second deregister must not change the count")

	_, ok = r.Deregister("unknown")
	assert.False(t, ok)
	checkInvariants(t, r)
}

func TestDeregister_CountNeverNegative(t *testing.T) {
	r := NewRegistry(Options{})
	_, _, _ = r.Register(nopConn{}, viewer("a"), "R1")

	for i := 0; i < 3; i++ {
		r.Deregister("a")
	}

	room, ok := r.Room("R1")
	require.True(t, ok, "rooms are kept by default")
	assert.Equal(t, 0, room.ActiveUsers)
	checkInvariants(t, r)
}

func TestDeregister_ReclaimEmptyRooms(t *testing.T) {
	r := NewRegistry(Options{ReclaimEmptyRooms: true})
	_, _, _ = r.Register(nopConn{}, viewer("a"), "R1")
	_, _, _ = r.Register(nopConn{}, viewer("b"), "R1")

	r.Deregister("a")
	_, ok := r.Room("R1")
	require.True(t, ok)

	r.Deregister("b")
	_, ok = r.Room("R1")
	assert.False(t, ok)
	assert.Equal(t, 0, r.RoomCount())

	members, ok := r.Members("R1", "")
	assert.False(t, ok)
	assert.Empty(t, members)

	// Rejoining recreates the room from scratch.
	_, count, err := r.Register(nopConn{}, viewer("c"), "R1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	checkInvariants(t, r)
}

func TestMembers_SnapshotAndExclude(t *testing.T) {
	r := NewRegistry(Options{})
	for _, id := range []string{"a", "b", "c"} {
		_, _, err := r.Register(nopConn{}, viewer(id), "R1")
		require.NoError(t, err)
	}
	_, _, _ = r.Register(nopConn{}, viewer("d"), "R2")

	members, ok := r.Members("R1", "a")
	require.True(t, ok)
	ids := make([]string, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.UserID)
	}
	assert.ElementsMatch(t, []string{"b", "c"}, ids)

	// Mutating the registry does not affect a snapshot already taken.
	r.Deregister("b")
	assert.Len(t, members, 2)

	_, ok = r.Members("nope", "")
	assert.False(t, ok)
}

func TestRooms_Ordered(t *testing.T) {
	r := NewRegistry(Options{})
	_, _, _ = r.Register(nopConn{}, viewer("a"), "zeta")
	_, _, _ = r.Register(nopConn{}, viewer("b"), "alpha")

	rooms := r.Rooms()
	require.Len(t, rooms, 2)
	assert.Equal(t, "alpha", rooms[0].ID)
	assert.Equal(t, "zeta", rooms[1].ID)
}

func TestRegistry_ConcurrentRegisterDeregister(t *testing.T) {
	for _, reclaim := range []bool{false, true} {
		t.Run(fmt.Sprintf("reclaim=%v", reclaim), func(t *testing.T) {
			r := NewRegistry(Options{ReclaimEmptyRooms: reclaim})
			rooms := []string{"R1", "R2", "R3"}

			var wg sync.WaitGroup
			for w := 0; w < 16; w++ {
				wg.Add(1)
				go func(w int) {
					defer wg.Done()
					rng := rand.New(rand.NewSource(int64(w)))
					for i := 0; i < 200; i++ {
						id := fmt.Sprintf("w%d-u%d", w, i)
						room := rooms[rng.Intn(len(rooms))]
						if _, _, err := r.Register(nopConn{}, viewer(id), room); err != nil {
							t.Errorf("register %s: %v", id, err)
							return
						}
						// Take a snapshot while others mutate.
						r.Members(room, "")
						if rng.Intn(3) > 0 {
							r.Deregister(id)
							r.Deregister(id)
						}
					}
				}(w)
			}
			wg.Wait()

			checkInvariants(t, r)

			total := 0
			for _, room := range r.Rooms() {
				total += room.ActiveUsers
			}
			assert.Equal(t, r.SessionCount(), total)
		})
	}
}
