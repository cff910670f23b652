package session

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kaloslazo/NubuStream/internal/chat"
)

var (
	// ErrDuplicateUser is returned when a user id is already bound to a live
	// session.
	ErrDuplicateUser = errors.New("session: user already registered")

	// ErrInvalidSession is returned when the user id or room id is empty.
	ErrInvalidSession = errors.New("session: user id and room id are required")
)

// Conn is the outbound side of a client connection.
type Conn interface {
	Send(data []byte) error
	Close() error
}

// Session binds a user to one connection and one room.
type Session struct {
	User     chat.User
	RoomID   string
	Conn     Conn
	JoinedAt time.Time
}

// Member is one entry of a room membership snapshot.
type Member struct {
	UserID string
	Conn   Conn
}

// Options tunes registry behaviour.
type Options struct {
	// ReclaimEmptyRooms deletes a room once its last member leaves. When
	// false, rooms are kept for the life of the process.
	ReclaimEmptyRooms bool
}

// Registry is the single owner of session and room state. All mutations
// happen under mu; readers receive copies.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session            // user_id -> session
	rooms    map[string]*chat.Room          // room_id -> room
	members  map[string]map[string]struct{} // room_id -> set of user_ids
	opts     Options
}

// NewRegistry creates an empty Registry.
func NewRegistry(opts Options) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		rooms:    make(map[string]*chat.Room),
		members:  make(map[string]map[string]struct{}),
		opts:     opts,
	}
}

// Register binds user to conn in roomID, creating the room on first join.
// It returns the session and the room's member count after the join.
func (r *Registry) Register(conn Conn, user chat.User, roomID string) (*Session, int, error) {
	if user.ID == "" || roomID == "" {
		return nil, 0, ErrInvalidSession
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[user.ID]; ok {
		return nil, 0, fmt.Errorf("%w: %s", ErrDuplicateUser, user.ID)
	}

	room, ok := r.rooms[roomID]
	if !ok {
		room = chat.NewRoom(roomID)
		r.rooms[roomID] = room
		r.members[roomID] = make(map[string]struct{})
	}

	sess := &Session{
		User:     user,
		RoomID:   roomID,
		Conn:     conn,
		JoinedAt: time.Now(),
	}
	r.sessions[user.ID] = sess
	r.members[roomID][user.ID] = struct{}{}
	room.ActiveUsers++

	return sess, room.ActiveUsers, nil
}

// Deregister removes the session for userID. It returns the removed session
// and true, or nil and false if no session was live for that id. Calling it
// again for the same id is a no-op.
func (r *Registry) Deregister(userID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[userID]
	if !ok {
		return nil, false
	}
	delete(r.sessions, userID)

	if set, ok := r.members[sess.RoomID]; ok {
		delete(set, userID)
	}
	if room, ok := r.rooms[sess.RoomID]; ok {
		room.ActiveUsers = max(0, room.ActiveUsers-1)
		if room.ActiveUsers == 0 && r.opts.ReclaimEmptyRooms {
			delete(r.rooms, sess.RoomID)
			delete(r.members, sess.RoomID)
		}
	}

	return sess, true
}

// Lookup returns the live session for userID.
func (r *Registry) Lookup(userID string) (*Session, bool) {
	r.mu.RLock()
	sess, ok := r.sessions[userID]
	r.mu.RUnlock()
	return sess, ok
}

// Members returns a snapshot of the members of roomID, leaving out
// excludeUserID when it is non-empty. The boolean is false if the room is
// unknown. The snapshot is safe to iterate while the registry changes.
func (r *Registry) Members(roomID, excludeUserID string) ([]Member, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set, ok := r.members[roomID]
	if !ok {
		return nil, false
	}

	members := make([]Member, 0, len(set))
	for userID := range set {
		if userID == excludeUserID {
			continue
		}
		if sess, ok := r.sessions[userID]; ok {
			members = append(members, Member{UserID: userID, Conn: sess.Conn})
		}
	}
	return members, true
}

// Room returns a copy of the room entry for roomID.
func (r *Registry) Room(roomID string) (chat.Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return chat.Room{}, false
	}
	return *room, true
}

// Rooms returns copies of all known rooms ordered by id.
func (r *Registry) Rooms() []chat.Room {
	r.mu.RLock()
	rooms := make([]chat.Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		rooms = append(rooms, *room)
	}
	r.mu.RUnlock()

	sort.Slice(rooms, func(i, j int) bool { return rooms[i].ID < rooms[j].ID })
	return rooms
}

// SessionCount returns the number of live sessions.
func (r *Registry) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// RoomCount returns the number of rooms currently tracked.
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}
