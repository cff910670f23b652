package chat

// Room is a named broadcast scope with its live member count.
type Room struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ActiveUsers int    `json:"activeUsers"`
	Active      bool   `json:"active"`
}

// NewRoom returns an empty, active room with the default display name.
func NewRoom(id string) *Room {
	return &Room{
		ID:     id,
		Name:   "Room " + id,
		Active: true,
	}
}
