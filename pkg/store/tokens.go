package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/herald/pkg/contracts"
)

// InsertActionToken persists one hashed token. A token_hash collision
// surfaces as ErrDuplicate so the issuer can draw fresh randomness.
func (s *Store) InsertActionToken(ctx context.Context, t *contracts.ActionToken) error {
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO action_tokens (draft_id, action, token_hash, created_at, expires_at, one_time)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		t.DraftID, string(t.Action), t.TokenHash, t.CreatedAt, t.ExpiresAt, t.OneTime).Scan(&t.ID)
	if err != nil {
		return fmt.Errorf("store: insert action token: %w", dup(err))
	}
	return nil
}

// GetActionToken looks a token up by action and hash. The (action, draft_id)
// index plus the unique hash make this the resolution query.
func (s *Store) GetActionToken(ctx context.Context, action contracts.TokenAction, tokenHash string) (*contracts.ActionToken, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, draft_id, action, token_hash, created_at, expires_at, one_time, consumed_at
		 FROM action_tokens WHERE action = $1 AND token_hash = $2`,
		string(action), tokenHash)
	return scanActionToken(row)
}

// ConsumeActionToken stamps consumed_at once. The WHERE guard keeps the
// stamp first-writer-wins under concurrent resolution.
func (s *Store) ConsumeActionToken(ctx context.Context, id int64, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE action_tokens SET consumed_at = $1 WHERE id = $2 AND consumed_at IS NULL`,
		now, id)
	if err != nil {
		return fmt.Errorf("store: consume action token: %w", err)
	}
	return nil
}

// ListActionTokens returns all tokens issued for a draft.
func (s *Store) ListActionTokens(ctx context.Context, draftID string) ([]contracts.ActionToken, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, draft_id, action, token_hash, created_at, expires_at, one_time, consumed_at
		 FROM action_tokens WHERE draft_id = $1 ORDER BY id`, draftID)
	if err != nil {
		return nil, fmt.Errorf("store: list action tokens: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []contracts.ActionToken
	for rows.Next() {
		t, err := scanActionToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func scanActionToken(row rowScanner) (*contracts.ActionToken, error) {
	var (
		t        contracts.ActionToken
		action   string
		consumed sql.NullTime
	)
	err := row.Scan(&t.ID, &t.DraftID, &action, &t.TokenHash, &t.CreatedAt, &t.ExpiresAt, &t.OneTime, &consumed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: scan action token: %w", err)
	}
	t.Action = contracts.TokenAction(action)
	t.CreatedAt = t.CreatedAt.UTC()
	t.ExpiresAt = t.ExpiresAt.UTC()
	if consumed.Valid {
		ts := consumed.Time.UTC()
		t.ConsumedAt = &ts
	}
	return &t, nil
}
