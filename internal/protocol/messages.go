// Package protocol defines the WebSocket message types and structures used for
// communication between chat clients and the relay. All messages are JSON.
// The first frame of a connection is a bare handshake object; every later
// frame follows the envelope format with a "type" discriminator.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kaloslazo/NubuStream/internal/chat"
	"github.com/kaloslazo/NubuStream/internal/metrics"
)

// MessageType is the envelope discriminator.
type MessageType string

// Client -> Server message types.
const (
	TypeChatMessage  MessageType = "chat_message"
	TypeSystemStatus MessageType = "system_status"
	TypePing         MessageType = "ping"
)

// Server -> Client message types. TypeChatMessage is shared with the client
// direction.
const (
	TypeConnectionConfirmed  MessageType = "connection_confirmed"
	TypeUserJoined           MessageType = "user_joined"
	TypeSystemStatusResponse MessageType = "system_status_response"
	TypeMessageRejected      MessageType = "message_rejected"
	TypePong                 MessageType = "pong"
)

// Handshake defaults applied when the first frame omits a field.
const (
	DefaultUsername = "Anonymous"
	DefaultRoomID   = "general"
)

var (
	// ErrMissingType is returned for envelopes without a "type" field.
	ErrMissingType = errors.New("protocol: missing or empty \"type\" field")

	// ErrUnknownType is returned for envelopes whose type is not a client
	// message type.
	ErrUnknownType = errors.New("protocol: unknown client message type")

	// ErrHandshakeNotObject is returned when the first frame is valid JSON
	// but not an object, such as null or a bare string.
	ErrHandshakeNotObject = errors.New("protocol: handshake must be a JSON object")
)

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type MessageType     `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type MessageType `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return ErrMissingType
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server
// ---------------------------------------------------------------------------

// Handshake is the first frame a client sends after the upgrade.
type Handshake struct {
	Username string
	Role     chat.Role
	RoomID   string
}

// handshakeMsg is the wire form of Handshake. room_id is accepted from older
// clients.
type handshakeMsg struct {
	Username   string `json:"username"`
	Role       string `json:"role"`
	RoomID     string `json:"roomId"`
	LegacyRoom string `json:"room_id"`
}

// ParseHandshake decodes the first frame of a connection. Omitted fields
// take their defaults; an unknown role is an error.
func ParseHandshake(data []byte) (Handshake, error) {
	if trimmed := bytes.TrimLeft(data, " \t\r\n"); len(trimmed) > 0 && trimmed[0] != '{' {
		if json.Valid(data) {
			return Handshake{}, ErrHandshakeNotObject
		}
	}
	var m handshakeMsg
	if err := json.Unmarshal(data, &m); err != nil {
		return Handshake{}, fmt.Errorf("protocol: failed to parse handshake: %w", err)
	}

	role, err := chat.ParseRole(strings.TrimSpace(m.Role))
	if err != nil {
		return Handshake{}, fmt.Errorf("protocol: handshake: %w", err)
	}

	hs := Handshake{
		Username: strings.TrimSpace(m.Username),
		Role:     role,
		RoomID:   strings.TrimSpace(m.RoomID),
	}
	if hs.RoomID == "" {
		hs.RoomID = strings.TrimSpace(m.LegacyRoom)
	}
	if hs.Username == "" {
		hs.Username = DefaultUsername
	}
	if hs.RoomID == "" {
		hs.RoomID = DefaultRoomID
	}
	return hs, nil
}

// ChatMsg is a chat message sent by the client to its room.
type ChatMsg struct {
	Type    MessageType `json:"type"`
	Content string      `json:"content"`
}

// SystemStatusMsg asks the relay for its availability snapshot.
type SystemStatusMsg struct {
	Type MessageType `json:"type"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type MessageType `json:"type"`
}

// ParseClientMessage parses a post-handshake frame into a typed client
// message. Unknown types return ErrUnknownType along with the type read.
func ParseClientMessage(data []byte) (MessageType, any, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		if errors.Is(err, ErrMissingType) {
			return "", nil, err
		}
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg any
		err error
	)

	switch env.Type {
	case TypeChatMessage:
		var m ChatMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSystemStatus:
		var m SystemStatusMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// ---------------------------------------------------------------------------
// Server -> Client
// ---------------------------------------------------------------------------

// ConnectionConfirmedMsg acknowledges a successful handshake.
type ConnectionConfirmedMsg struct {
	UserID string `json:"userId"`
	RoomID string `json:"roomId"`
}

// UserJoinedMsg tells existing members that someone joined the room.
type UserJoinedMsg struct {
	User        chat.User `json:"user"`
	ActiveUsers int       `json:"activeUsers"`
}

// ServerChatMsg relays an approved chat message to the rest of the room.
type ServerChatMsg struct {
	Message chat.Message `json:"message"`
}

// SystemStatusResponseMsg answers a system_status request.
type SystemStatusResponseMsg struct {
	Status metrics.Snapshot `json:"status"`
}

// MessageRejectedMsg tells the sender their message was filtered.
type MessageRejectedMsg struct {
	Reason string `json:"reason"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct{}

// NewServerMessage creates a JSON-encoded byte slice for a server message.
// The msgType is injected into the payload under the "type" key. The payload
// should be one of the server message structs and must encode to a JSON
// object.
func NewServerMessage(msgType MessageType, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}
	if m == nil {
		m = make(map[string]json.RawMessage, 1)
	}

	typ, err := json.Marshal(msgType)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal type: %w", err)
	}
	m["type"] = typ

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
