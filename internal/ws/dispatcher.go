package ws

import (
	"errors"
	"log"

	"github.com/kaloslazo/NubuStream/internal/protocol"
)

// MessageHandler is the callback signature for handling a parsed client message.
// The msg parameter is the concrete struct returned by protocol.ParseClientMessage
// (e.g., protocol.ChatMsg, protocol.SystemStatusMsg).
type MessageHandler func(conn *Connection, msg any)

// MessageDispatcher routes incoming WebSocket messages to registered handlers
// based on the message type. It answers ping internally. Malformed frames and
// unsupported types are logged and dropped; the connection stays open.
type MessageDispatcher struct {
	handlers map[protocol.MessageType]MessageHandler
}

// NewMessageDispatcher creates an empty MessageDispatcher.
func NewMessageDispatcher() *MessageDispatcher {
	return &MessageDispatcher{handlers: make(map[protocol.MessageType]MessageHandler)}
}

// Register associates a MessageHandler with a message type. If a handler was
// already registered for the given type, it is silently replaced.
func (d *MessageDispatcher) Register(msgType protocol.MessageType, handler MessageHandler) {
	d.handlers[msgType] = handler
}

// Dispatch is the OnMessage callback implementation.
func (d *MessageDispatcher) Dispatch(conn *Connection, data []byte) {
	msgType, msg, err := protocol.ParseClientMessage(data)
	if err != nil {
		if errors.Is(err, protocol.ErrUnknownType) {
			log.Printf("ws: unsupported message type=%q conn=%s", msgType, conn.ID)
		} else {
			log.Printf("ws: dispatch parse error conn=%s: %v", conn.ID, err)
		}
		return
	}

	if msgType == protocol.TypePing {
		d.sendPong(conn)
		return
	}

	handler, ok := d.handlers[msgType]
	if !ok {
		log.Printf("ws: no handler for type=%q conn=%s", msgType, conn.ID)
		return
	}

	handler(conn, msg)
}

// sendPong responds to an application-level ping.
func (d *MessageDispatcher) sendPong(conn *Connection) {
	data, err := protocol.NewServerMessage(protocol.TypePong, protocol.PongMsg{})
	if err != nil {
		log.Printf("ws: failed to build pong message conn=%s: %v", conn.ID, err)
		return
	}

	if err := conn.Send(data); err != nil {
		log.Printf("ws: failed to send pong message conn=%s: %v", conn.ID, err)
	}
}
