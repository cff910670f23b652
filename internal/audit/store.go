// Package audit records moderation rejections in PostgreSQL so moderators
// can review who was filtered and why. Message content is not kept.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/kaloslazo/NubuStream/internal/chat"
)

// Rejection is one moderated-out message.
type Rejection struct {
	UserID   string
	Username string
	RoomID   string
	Role     chat.Role
	Reason   string
	Term     string
}

// Store manages moderation rejections in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a new audit store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects to the Postgres database at dsn and verifies it with a ping.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: open: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: ping: %w", err)
	}
	return db, nil
}

// Record inserts a rejection.
func (s *Store) Record(ctx context.Context, r Rejection) error {
	if r.UserID == "" || r.RoomID == "" || r.Reason == "" {
		return fmt.Errorf("audit: user id, room id and reason are required")
	}

	const query = `
		INSERT INTO moderation_rejections (user_id, username, room_id, role, reason, term)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.db.ExecContext(ctx, query,
		r.UserID,
		r.Username,
		r.RoomID,
		string(r.Role),
		r.Reason,
		r.Term,
	)
	if err != nil {
		return fmt.Errorf("audit: insert: %w", err)
	}
	return nil
}

// CountRecent returns the number of rejections recorded within window.
func (s *Store) CountRecent(ctx context.Context, window time.Duration) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM moderation_rejections
		WHERE created_at >= NOW() - make_interval(secs => $1)`

	var count int
	err := s.db.QueryRowContext(ctx, query, window.Seconds()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("audit: count recent: %w", err)
	}
	return count, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
