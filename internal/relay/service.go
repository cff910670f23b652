// Package relay implements the chat relay's application logic: joining and
// leaving rooms, moderating and relaying chat messages and answering status
// queries. It sits between the WebSocket transport and the session registry.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/kaloslazo/NubuStream/internal/audit"
	"github.com/kaloslazo/NubuStream/internal/broadcast"
	"github.com/kaloslazo/NubuStream/internal/chat"
	"github.com/kaloslazo/NubuStream/internal/durability"
	"github.com/kaloslazo/NubuStream/internal/metrics"
	"github.com/kaloslazo/NubuStream/internal/moderation"
	"github.com/kaloslazo/NubuStream/internal/protocol"
	"github.com/kaloslazo/NubuStream/internal/session"
)

// ErrNotJoined is returned for chat traffic from a connection without a
// session.
var ErrNotJoined = errors.New("relay: user has not joined a room")

// Conn is a client connection as seen by the relay. SendAfter must run fn
// and write data with no other frame written in between.
type Conn interface {
	session.Conn
	SendAfter(fn func() error, data []byte) error
}

// Auditor records moderation rejections and counts recent ones.
type Auditor interface {
	Record(ctx context.Context, r audit.Rejection) error
	CountRecent(ctx context.Context, window time.Duration) (int, error)
}

// Options tunes the relay.
type Options struct {
	// NotifyRejections sends message_rejected to the author of a filtered
	// message. When false rejections are silent.
	NotifyRejections bool

	// DurabilityTimeout bounds Store and Publish on the durability sink.
	DurabilityTimeout time.Duration

	// BroadcastConcurrency bounds parallel sends per broadcast.
	BroadcastConcurrency int
}

// DefaultOptions returns the relay defaults.
func DefaultOptions() Options {
	return Options{
		DurabilityTimeout:    2 * time.Second,
		BroadcastConcurrency: broadcast.DefaultConcurrency,
	}
}

// Outcome classifies what happened to a chat message.
type Outcome int

const (
	OutcomeRelayed Outcome = iota
	OutcomeRejected
	OutcomeInvalid
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRelayed:
		return "relayed"
	case OutcomeRejected:
		return "rejected"
	case OutcomeInvalid:
		return "invalid"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ChatResult describes the handling of one chat message.
type ChatResult struct {
	Outcome    Outcome
	Message    chat.Message
	Moderation moderation.Result
	Broadcast  broadcast.Result
	Stored     bool
	Published  bool
}

// Service is the relay. It is safe for concurrent use.
type Service struct {
	registry  *session.Registry
	policy    moderation.Policy
	collector *metrics.Collector
	sink      durability.Sink
	engine    *broadcast.Engine
	auditor   Auditor
	opts      Options
	now       func() time.Time
}

// New creates a Service. A nil sink is replaced by durability.Noop.
func New(registry *session.Registry, policy moderation.Policy, collector *metrics.Collector, sink durability.Sink, opts Options) *Service {
	if sink == nil {
		sink = durability.Noop{}
	}
	if opts.DurabilityTimeout <= 0 {
		opts.DurabilityTimeout = DefaultOptions().DurabilityTimeout
	}
	s := &Service{
		registry:  registry,
		policy:    policy,
		collector: collector,
		sink:      sink,
		opts:      opts,
		now:       time.Now,
	}
	s.engine = broadcast.NewEngine(registry, opts.BroadcastConcurrency, s.Leave)
	return s
}

// SetAuditor enables recording of moderation rejections.
func (s *Service) SetAuditor(a Auditor) {
	s.auditor = a
}

// Join registers the connection as userID in the handshake's room, confirms
// the join to the client and announces it to the rest of the room. The
// confirmation is written before any other frame can reach conn.
func (s *Service) Join(ctx context.Context, conn Conn, userID string, hs protocol.Handshake) (*session.Session, error) {
	user := chat.User{ID: userID, Username: hs.Username, Role: hs.Role}

	confirm, err := protocol.NewServerMessage(protocol.TypeConnectionConfirmed, protocol.ConnectionConfirmedMsg{
		UserID: userID,
		RoomID: hs.RoomID,
	})
	if err != nil {
		return nil, fmt.Errorf("relay: join: %w", err)
	}

	var (
		sess  *session.Session
		count int
	)
	err = conn.SendAfter(func() error {
		var err error
		sess, count, err = s.registry.Register(conn, user, hs.RoomID)
		if err != nil {
			return err
		}
		s.collector.ConnectionOpened()
		return nil
	}, confirm)
	if err != nil {
		if sess != nil {
			s.Leave(userID)
		}
		return nil, fmt.Errorf("relay: join: %w", err)
	}

	log.Printf("[relay] %s (%s, %s) joined room %s (members=%d)", user.Username, userID, user.Role, hs.RoomID, count)

	joined, err := protocol.NewServerMessage(protocol.TypeUserJoined, protocol.UserJoinedMsg{
		User:        user,
		ActiveUsers: count,
	})
	if err != nil {
		log.Printf("[relay] build user_joined for %s: %v", userID, err)
		return sess, nil
	}
	s.engine.Broadcast(ctx, hs.RoomID, joined, userID)
	return sess, nil
}

// Leave deregisters userID and closes its connection. Calling it again, or
// for an unknown user, does nothing.
func (s *Service) Leave(userID string) {
	sess, ok := s.registry.Deregister(userID)
	if !ok {
		return
	}
	s.collector.ConnectionClosed()
	sess.Conn.Close()

	log.Printf("[relay] %s (%s) left room %s", sess.User.Username, userID, sess.RoomID)
}

// HandleChat moderates content from userID and, if approved, stores,
// publishes and broadcasts it to the rest of the room.
func (s *Service) HandleChat(ctx context.Context, userID, content string) (ChatResult, error) {
	sess, ok := s.registry.Lookup(userID)
	if !ok {
		return ChatResult{Outcome: OutcomeInvalid}, ErrNotJoined
	}

	if err := chat.ValidateMessage(content); err != nil {
		log.Printf("[relay] dropped invalid message from %s: %v", userID, err)
		return ChatResult{Outcome: OutcomeInvalid}, nil
	}

	verdict := s.policy.Moderate(content, sess.User.Role)
	if !verdict.Approved {
		s.reject(ctx, sess, verdict)
		return ChatResult{Outcome: OutcomeRejected, Moderation: verdict}, nil
	}

	msg := chat.NewMessage(sess.User, sess.RoomID, content, s.now())
	msg.Moderated = true
	res := ChatResult{Outcome: OutcomeRelayed, Message: msg, Moderation: verdict}

	payload, err := protocol.NewServerMessage(protocol.TypeChatMessage, protocol.ServerChatMsg{Message: msg})
	if err != nil {
		s.collector.MessageFailed()
		res.Outcome = OutcomeFailed
		return res, fmt.Errorf("relay: encode chat message: %w", err)
	}
	s.collector.MessageDelivered()

	dctx, cancel := context.WithTimeout(ctx, s.opts.DurabilityTimeout)
	res.Stored = s.sink.Store(dctx, msg)
	res.Published = s.sink.Publish(dctx, durability.RoomChannel(sess.RoomID), payload)
	cancel()

	res.Broadcast = s.engine.Broadcast(ctx, sess.RoomID, payload, userID)
	return res, nil
}

// reject handles a moderated-out message: count it, audit it and optionally
// tell the author.
func (s *Service) reject(ctx context.Context, sess *session.Session, verdict moderation.Result) {
	s.collector.MessageRejected()
	log.Printf("[relay] rejected message from %s in %s: %s (%s)", sess.User.ID, sess.RoomID, verdict.Reason, verdict.Term)

	if s.auditor != nil {
		actx, cancel := context.WithTimeout(ctx, s.opts.DurabilityTimeout)
		err := s.auditor.Record(actx, audit.Rejection{
			UserID:   sess.User.ID,
			Username: sess.User.Username,
			RoomID:   sess.RoomID,
			Role:     sess.User.Role,
			Reason:   verdict.Reason,
			Term:     verdict.Term,
		})
		cancel()
		if err != nil {
			log.Printf("[audit] record rejection for %s: %v", sess.User.ID, err)
		}
	}

	if !s.opts.NotifyRejections {
		return
	}
	notice, err := protocol.NewServerMessage(protocol.TypeMessageRejected, protocol.MessageRejectedMsg{Reason: verdict.Reason})
	if err != nil {
		log.Printf("[relay] build message_rejected: %v", err)
		return
	}
	if err := sess.Conn.Send(notice); err != nil {
		log.Printf("[relay] send message_rejected to %s: %v", sess.User.ID, err)
		s.Leave(sess.User.ID)
	}
}

// Status returns the current availability snapshot.
func (s *Service) Status() metrics.Snapshot {
	return s.collector.Snapshot(s.registry.SessionCount(), s.registry.RoomCount(), s.sink.Available())
}

// logAuditWindow logs how many rejections the audit store recorded over the
// last window.
func (s *Service) logAuditWindow(ctx context.Context, window time.Duration) {
	if s.auditor == nil {
		return
	}
	actx, cancel := context.WithTimeout(ctx, s.opts.DurabilityTimeout)
	defer cancel()

	n, err := s.auditor.CountRecent(actx, window)
	if err != nil {
		log.Printf("[audit] count recent rejections: %v", err)
		return
	}
	log.Printf("[audit] rejections in last %s: %d", window, n)
}

// SendStatus answers a status query from userID.
func (s *Service) SendStatus(userID string) error {
	sess, ok := s.registry.Lookup(userID)
	if !ok {
		return ErrNotJoined
	}

	data, err := protocol.NewServerMessage(protocol.TypeSystemStatusResponse, protocol.SystemStatusResponseMsg{
		Status: s.Status(),
	})
	if err != nil {
		return fmt.Errorf("relay: encode status: %w", err)
	}
	if err := sess.Conn.Send(data); err != nil {
		s.Leave(userID)
		return fmt.Errorf("relay: send status: %w", err)
	}
	return nil
}

// RunStatusLog logs a status line every interval until ctx is done.
func (s *Service) RunStatusLog(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := s.Status()
			log.Printf("[relay] status: connections=%d rooms=%d messages=%d failed=%d rejected=%d uptime=%.1f%% success=%.1f%% durability=%v",
				st.ActiveConnections, st.ActiveRooms, st.TotalMessages, st.FailedMessages,
				s.collector.Rejected(), st.UptimePercentage, st.MessageSuccessRate, st.DurabilityAvailable)
			s.logAuditWindow(ctx, interval)
		}
	}
}
