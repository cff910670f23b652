package chat

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// Message is a single chat message sent by a user to their room.
type Message struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	RoomID    string    `json:"roomId"`
	Moderated bool      `json:"moderated"` // true once the message passed moderation
}

// NewMessage builds a message authored by user in roomID. IDs are ULIDs so
// they sort by creation time.
func NewMessage(user User, roomID, content string, now time.Time) Message {
	return Message{
		ID:        ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		UserID:    user.ID,
		Username:  user.Username,
		Content:   content,
		Timestamp: now,
		RoomID:    roomID,
	}
}
