package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/herald/pkg/contracts"
)

// CreateDraftWithTokens inserts a draft and its action tokens in one
// transaction. Any unique violation (draft id on an in-run retry, or a
// token-hash collision) surfaces as ErrDuplicate; the token service decides
// which case it was.
func (s *Store) CreateDraftWithTokens(ctx context.Context, d *contracts.Draft, toks []contracts.ActionToken) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		tweets, err := jsonText(d.Tweets)
		if err != nil {
			return err
		}
		snapshots, err := jsonText(d.Snapshots)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO drafts (id, token, run_id, created_at, expires_at, status, token_consumed, thread_enabled, tweets, final_text, snapshots)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			d.ID, d.Token, d.RunID, d.CreatedAt, d.ExpiresAt, string(d.Status),
			d.TokenConsumed, d.ThreadEnabled, tweets, d.FinalText, snapshots)
		if err != nil {
			return fmt.Errorf("store: insert draft: %w", dup(err))
		}
		for _, t := range toks {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO action_tokens (draft_id, action, token_hash, created_at, expires_at, one_time)
				 VALUES ($1, $2, $3, $4, $5, $6)`,
				t.DraftID, string(t.Action), t.TokenHash, t.CreatedAt, t.ExpiresAt, t.OneTime)
			if err != nil {
				return fmt.Errorf("store: insert action token: %w", dup(err))
			}
		}
		return nil
	})
}

const draftColumns = `id, token, run_id, created_at, expires_at, status, token_consumed, consumed_at,
	thread_enabled, tweets, final_text, snapshots, published_tweet_ids, approval_idempotency_key, last_error`

// GetDraft fetches a draft by id.
func (s *Store) GetDraft(ctx context.Context, id string) (*contracts.Draft, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+draftColumns+` FROM drafts WHERE id = $1`, id)
	return scanDraft(row)
}

// GetDraftByToken fetches a draft by its opaque URL token.
func (s *Store) GetDraftByToken(ctx context.Context, token string) (*contracts.Draft, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+draftColumns+` FROM drafts WHERE token = $1`, token)
	return scanDraft(row)
}

// ListDraftsByStatus returns drafts in a given status, newest first.
func (s *Store) ListDraftsByStatus(ctx context.Context, status contracts.DraftStatus, limit int) ([]contracts.Draft, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+draftColumns+` FROM drafts WHERE status = $1 ORDER BY created_at DESC LIMIT $2`,
		string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("store: list drafts: %w", err)
	}
	return collectDrafts(rows)
}

// ListDraftsBetween returns drafts created inside [from, to).
func (s *Store) ListDraftsBetween(ctx context.Context, from, to time.Time) ([]contracts.Draft, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+draftColumns+` FROM drafts WHERE created_at >= $1 AND created_at < $2 ORDER BY created_at`,
		from, to)
	if err != nil {
		return nil, fmt.Errorf("store: list drafts between: %w", err)
	}
	return collectDrafts(rows)
}

// UpdateDraftContent stores the outcome of an edit or regenerate: new text,
// snapshots and the recomputed status.
func (s *Store) UpdateDraftContent(ctx context.Context, d *contracts.Draft) error {
	tweets, err := jsonText(d.Tweets)
	if err != nil {
		return err
	}
	snapshots, err := jsonText(d.Snapshots)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE drafts SET status = $1, thread_enabled = $2, tweets = $3, final_text = $4, snapshots = $5 WHERE id = $6`,
		string(d.Status), d.ThreadEnabled, tweets, d.FinalText, snapshots, d.ID)
	if err != nil {
		return fmt.Errorf("store: update draft content: %w", err)
	}
	return requireRow(res)
}

// MarkDraftSkipped closes a draft via the skip action: terminal status plus
// token consumption, in one transaction.
func (s *Store) MarkDraftSkipped(ctx context.Context, draftID string, tokenID int64, now time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE drafts SET status = $1, token_consumed = $2, consumed_at = $3 WHERE id = $4`,
			string(contracts.DraftSkipped), true, now, draftID)
		if err != nil {
			return fmt.Errorf("store: mark draft skipped: %w", err)
		}
		if err := requireRow(res); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE action_tokens SET consumed_at = $1 WHERE id = $2 AND consumed_at IS NULL`,
			now, tokenID); err != nil {
			return fmt.Errorf("store: consume skip token: %w", err)
		}
		return nil
	})
}

// SetDraftError records a publish failure on the draft row.
func (s *Store) SetDraftError(ctx context.Context, draftID, lastError string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE drafts SET status = $1, last_error = $2 WHERE id = $3`,
		string(contracts.DraftError), nullStr(contracts.Truncate(lastError, 500)), draftID)
	if err != nil {
		return fmt.Errorf("store: set draft error: %w", err)
	}
	return requireRow(res)
}

// InsertPolicyReport appends an immutable canonical policy report.
func (s *Store) InsertPolicyReport(ctx context.Context, draftID string, canonical []byte, hash string, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO policy_reports (draft_id, report, report_hash, created_at) VALUES ($1, $2, $3, $4)`,
		draftID, string(canonical), hash, now)
	if err != nil {
		return fmt.Errorf("store: insert policy report: %w", err)
	}
	return nil
}

// LatestPolicyReport returns the newest canonical report and its hash for a
// draft.
func (s *Store) LatestPolicyReport(ctx context.Context, draftID string) ([]byte, string, error) {
	var (
		report string
		hash   string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT report, report_hash FROM policy_reports WHERE draft_id = $1 ORDER BY id DESC LIMIT 1`,
		draftID).Scan(&report, &hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", ErrNotFound
		}
		return nil, "", fmt.Errorf("store: latest policy report: %w", err)
	}
	return []byte(report), hash, nil
}

func collectDrafts(rows *sql.Rows) ([]contracts.Draft, error) {
	defer func() { _ = rows.Close() }()
	var out []contracts.Draft
	for rows.Next() {
		d, err := scanDraft(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func scanDraft(row rowScanner) (*contracts.Draft, error) {
	var (
		d           contracts.Draft
		status      string
		consumedAt  sql.NullTime
		tweets      sql.NullString
		snapshots   sql.NullString
		publishedID sql.NullString
		approvalKey sql.NullString
		lastErr     sql.NullString
	)
	err := row.Scan(&d.ID, &d.Token, &d.RunID, &d.CreatedAt, &d.ExpiresAt, &status,
		&d.TokenConsumed, &consumedAt, &d.ThreadEnabled, &tweets, &d.FinalText,
		&snapshots, &publishedID, &approvalKey, &lastErr)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: scan draft: %w", err)
	}
	d.Status = contracts.DraftStatus(status)
	d.CreatedAt = d.CreatedAt.UTC()
	d.ExpiresAt = d.ExpiresAt.UTC()
	if consumedAt.Valid {
		t := consumedAt.Time.UTC()
		d.ConsumedAt = &t
	}
	if err := scanJSON(tweets, &d.Tweets); err != nil {
		return nil, err
	}
	if err := scanJSON(snapshots, &d.Snapshots); err != nil {
		return nil, err
	}
	if err := scanJSON(publishedID, &d.PublishedTweetIDs); err != nil {
		return nil, err
	}
	d.ApprovalIdempotencyKey = approvalKey.String
	d.LastError = lastErr.String
	return &d, nil
}
