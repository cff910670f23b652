package relay

import (
	"context"
	"errors"
	"log"

	"github.com/kaloslazo/NubuStream/internal/protocol"
	"github.com/kaloslazo/NubuStream/internal/ws"
)

// WSHandlers wires the service into the WebSocket server: the first frame
// is the handshake, later frames go through d, and disconnects leave the
// room.
func (s *Service) WSHandlers(d *ws.MessageDispatcher) ws.Handlers {
	s.Register(d)
	return ws.Handlers{
		OnAuth:       s.Authenticate,
		OnMessage:    d.Dispatch,
		OnDisconnect: s.Disconnect,
		RoomCount:    s.registry.RoomCount,
	}
}

// Register installs the chat_message and system_status handlers on d.
func (s *Service) Register(d *ws.MessageDispatcher) {
	d.Register(protocol.TypeChatMessage, func(conn *ws.Connection, msg any) {
		m, ok := msg.(protocol.ChatMsg)
		if !ok {
			return
		}
		if _, err := s.HandleChat(context.Background(), conn.ID, m.Content); err != nil {
			log.Printf("[relay] chat from %s: %v", conn.ID, err)
		}
	})

	d.Register(protocol.TypeSystemStatus, func(conn *ws.Connection, _ any) {
		if err := s.SendStatus(conn.ID); err != nil && !errors.Is(err, ErrNotJoined) {
			log.Printf("[relay] status for %s: %v", conn.ID, err)
		}
	})
}

// Authenticate parses the handshake frame and joins the connection to its
// room. The connection id becomes the user id.
func (s *Service) Authenticate(conn *ws.Connection, data []byte) error {
	hs, err := protocol.ParseHandshake(data)
	if err != nil {
		return err
	}
	_, err = s.Join(context.Background(), conn, conn.ID, hs)
	return err
}

// Disconnect is called once the transport is gone.
func (s *Service) Disconnect(conn *ws.Connection) {
	s.Leave(conn.ID)
}
