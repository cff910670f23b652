// Package chat defines the domain types shared by the relay: users and their
// roles, rooms, and the chat messages exchanged inside a room.
package chat

import (
	"errors"
	"fmt"
)

// ErrUnknownRole is returned by ParseRole for values outside the closed set
// of roles.
var ErrUnknownRole = errors.New("chat: unknown role")

// Role is the role a user claims when connecting.
type Role string

const (
	RoleViewer    Role = "viewer"
	RoleModerator Role = "moderator"
	RoleStreamer  Role = "streamer"
)

// ParseRole converts a wire value into a Role. An empty value defaults to
// RoleViewer.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case "":
		return RoleViewer, nil
	case RoleViewer, RoleModerator, RoleStreamer:
		return Role(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
	}
}

// Privileged reports whether messages from this role bypass content filters.
func (r Role) Privileged() bool {
	switch r {
	case RoleModerator, RoleStreamer:
		return true
	default:
		return false
	}
}

// User is the identity bound to one connection. It never changes while the
// session is live.
type User struct {
	ID       string `json:"userId"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
}
