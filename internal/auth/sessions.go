package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrSessionInvalid covers an unknown, expired or invalidated session id.
var ErrSessionInvalid = errors.New("session expired or invalidated")

// Session is one issued refresh token: a revocable server-side record. Only a
// sha256 fingerprint of the refresh token is stored, never the raw token.
type Session struct {
	ID             string
	UserID         string
	TokenHash      string
	ExpiresAt      time.Time
	IsActive       bool
	LastActivityAt time.Time
	UserAgent      string
	IPAddress      string
	CreatedAt      time.Time
}

// SessionStore persists sessions in the sessions table. Rows are flagged
// inactive on logout and never deleted here; retention is handled by the
// maintenance cleanup endpoint.
type SessionStore struct {
	db *sql.DB
}

func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{db: db}
}

// Create inserts one session row. A session id collision is a hard failure,
// never a silent overwrite.
func (s *SessionStore) Create(ctx context.Context, session Session) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, token_hash, expires_at, is_active, last_activity_at, user_agent, ip_address, created_at)
		VALUES ($1, $2, $3, $4, TRUE, $5, $6, $7, $5)
	`, session.ID, session.UserID, session.TokenHash, session.ExpiresAt.UTC(), now, session.UserAgent, session.IPAddress)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("session id collision for %s: %w", session.ID, err)
		}
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// FindValid returns the session only while it is active and unexpired. This
// query is the sole authority on whether a refresh token may be honored; the
// token's own exp claim is defense in depth.
func (s *SessionStore) FindValid(ctx context.Context, sessionID string) (Session, error) {
	var session Session
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, token_hash, expires_at, is_active, last_activity_at, user_agent, ip_address, created_at
		FROM sessions
		WHERE id = $1 AND is_active = TRUE AND expires_at > NOW()
	`, sessionID).Scan(
		&session.ID, &session.UserID, &session.TokenHash, &session.ExpiresAt,
		&session.IsActive, &session.LastActivityAt, &session.UserAgent,
		&session.IPAddress, &session.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, ErrSessionInvalid
		}
		return Session{}, fmt.Errorf("query valid session: %w", err)
	}
	return session, nil
}

// Touch updates the session's last-activity timestamp.
func (s *SessionStore) Touch(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET last_activity_at = NOW()
		WHERE id = $1
	`, sessionID)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

// Invalidate flips the session inactive. Idempotent.
func (s *SessionStore) Invalidate(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET is_active = FALSE
		WHERE id = $1
	`, sessionID)
	if err != nil {
		return fmt.Errorf("invalidate session: %w", err)
	}
	return nil
}

// DeleteStale removes rows whose expiry or invalidation is older than the
// retention cutoff, in batches. Used by the maintenance endpoint only.
func (s *SessionStore) DeleteStale(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 500
	}

	res, err := s.db.ExecContext(ctx, `
		WITH stale AS (
			SELECT id
			FROM sessions
			WHERE expires_at < $1 OR (is_active = FALSE AND last_activity_at < $1)
			ORDER BY created_at ASC
			LIMIT $2
		)
		DELETE FROM sessions t
		USING stale
		WHERE t.id = stale.id
	`, cutoff.UTC(), batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete stale sessions: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("stale sessions rows affected: %w", err)
	}
	return affected, nil
}
