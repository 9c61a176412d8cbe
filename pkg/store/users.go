package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/herald/pkg/contracts"
)

// CreateUser inserts an admin account. Duplicate usernames surface as
// ErrDuplicate.
func (s *Store) CreateUser(ctx context.Context, u *contracts.User) error {
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO users (username, password_hash, created_at) VALUES ($1, $2, $3) RETURNING id`,
		u.Username, u.PasswordHash, u.CreatedAt).Scan(&u.ID)
	if err != nil {
		return fmt.Errorf("store: create user: %w", dup(err))
	}
	return nil
}

// GetUserByUsername fetches an account by its unique username.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*contracts.User, error) {
	var (
		u         contracts.User
		lastLogin sql.NullTime
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, password_hash, created_at, last_login_at FROM users WHERE username = $1`,
		username).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt, &lastLogin)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get user: %w", err)
	}
	u.CreatedAt = u.CreatedAt.UTC()
	if lastLogin.Valid {
		t := lastLogin.Time.UTC()
		u.LastLoginAt = &t
	}
	return &u, nil
}

// TouchLastLogin stamps a successful login.
func (s *Store) TouchLastLogin(ctx context.Context, userID int64, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET last_login_at = $1 WHERE id = $2`, now, userID)
	if err != nil {
		return fmt.Errorf("store: touch last login: %w", err)
	}
	return nil
}

// CreateSession persists a revocable session row backing a JWT.
func (s *Store) CreateSession(ctx context.Context, sess *contracts.UserSession) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_sessions (session_id, user_id, created_at, expires_at) VALUES ($1, $2, $3, $4)`,
		sess.SessionID, sess.UserID, sess.CreatedAt, sess.ExpiresAt)
	if err != nil {
		return fmt.Errorf("store: create session: %w", dup(err))
	}
	return nil
}

// GetSession fetches a session row by id.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*contracts.UserSession, error) {
	var (
		sess    contracts.UserSession
		revoked sql.NullTime
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, user_id, created_at, expires_at, revoked_at FROM user_sessions WHERE session_id = $1`,
		sessionID).Scan(&sess.SessionID, &sess.UserID, &sess.CreatedAt, &sess.ExpiresAt, &revoked)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get session: %w", err)
	}
	sess.CreatedAt = sess.CreatedAt.UTC()
	sess.ExpiresAt = sess.ExpiresAt.UTC()
	if revoked.Valid {
		t := revoked.Time.UTC()
		sess.RevokedAt = &t
	}
	return &sess, nil
}

// RevokeSession stamps revoked_at; later verifications fail closed.
func (s *Store) RevokeSession(ctx context.Context, sessionID string, now time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE user_sessions SET revoked_at = $1 WHERE session_id = $2 AND revoked_at IS NULL`,
		now, sessionID)
	if err != nil {
		return fmt.Errorf("store: revoke session: %w", err)
	}
	return requireRow(res)
}

// AuditEntry is one immutable audit row.
type AuditEntry struct {
	ID      int64           `json:"id"`
	TS      time.Time       `json:"ts"`
	Actor   string          `json:"actor"`
	Action  string          `json:"action"`
	Subject string          `json:"subject,omitempty"`
	Detail  json.RawMessage `json:"detail,omitempty"`
}

// InsertAudit appends an audit row.
func (s *Store) InsertAudit(ctx context.Context, e *AuditEntry) error {
	detail := sql.NullString{}
	if len(e.Detail) > 0 {
		detail = sql.NullString{String: string(e.Detail), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_logs (ts, actor, action, subject, detail) VALUES ($1, $2, $3, $4, $5)`,
		e.TS, e.Actor, e.Action, nullStr(e.Subject), detail)
	if err != nil {
		return fmt.Errorf("store: insert audit: %w", err)
	}
	return nil
}

// ListAudit returns the newest audit rows.
func (s *Store) ListAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ts, actor, action, subject, detail FROM audit_logs ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list audit: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []AuditEntry
	for rows.Next() {
		var (
			e       AuditEntry
			subject sql.NullString
			detail  sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.TS, &e.Actor, &e.Action, &subject, &detail); err != nil {
			return nil, fmt.Errorf("store: scan audit: %w", err)
		}
		e.TS = e.TS.UTC()
		e.Subject = subject.String
		if detail.Valid {
			e.Detail = json.RawMessage(detail.String)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
