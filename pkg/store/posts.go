package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/herald/pkg/contracts"
)

// InsertPost records one published tweet. A unique violation on any of the
// three idempotency constraints surfaces as ErrDuplicate; the coordinator
// then rehydrates the stored row instead of double-counting.
func (s *Store) InsertPost(ctx context.Context, p *contracts.Post) error {
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO posts (draft_id, position, tweet_id, content, posted_at, publish_idempotency_key)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		p.DraftID, p.Position, p.TweetID, p.Content, p.PostedAt, p.PublishIdempotencyKey).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("store: insert post: %w", dup(err))
	}
	return nil
}

// GetPost fetches the post at a position of a draft, if already published.
func (s *Store) GetPost(ctx context.Context, draftID string, position int) (*contracts.Post, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, draft_id, position, tweet_id, content, posted_at, publish_idempotency_key
		 FROM posts WHERE draft_id = $1 AND position = $2`, draftID, position)
	return scanPost(row)
}

// ListPosts returns a draft's posts ordered by position.
func (s *Store) ListPosts(ctx context.Context, draftID string) ([]contracts.Post, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, draft_id, position, tweet_id, content, posted_at, publish_idempotency_key
		 FROM posts WHERE draft_id = $1 ORDER BY position`, draftID)
	if err != nil {
		return nil, fmt.Errorf("store: list posts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []contracts.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// RecentPostContents returns the text of posts published since the cutoff,
// newest first. The similarity check runs against this window.
func (s *Store) RecentPostContents(ctx context.Context, since time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT content FROM posts WHERE posted_at >= $1 ORDER BY posted_at DESC LIMIT $2`,
		since, limit)
	if err != nil {
		return nil, fmt.Errorf("store: recent posts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("store: scan post content: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// PostContentsBetween returns the text of posts published inside [from, to),
// oldest first. The weekly digest summarizes this window.
func (s *Store) PostContentsBetween(ctx context.Context, from, to time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT content FROM posts WHERE posted_at >= $1 AND posted_at < $2 ORDER BY posted_at`,
		from, to)
	if err != nil {
		return nil, fmt.Errorf("store: posts between: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("store: scan post content: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CountPostsBetween counts posts published inside [from, to).
func (s *Store) CountPostsBetween(ctx context.Context, from, to time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM posts WHERE posted_at >= $1 AND posted_at < $2`, from, to).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count posts: %w", err)
	}
	return n, nil
}

func scanPost(row rowScanner) (*contracts.Post, error) {
	var p contracts.Post
	err := row.Scan(&p.ID, &p.DraftID, &p.Position, &p.TweetID, &p.Content, &p.PostedAt, &p.PublishIdempotencyKey)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: scan post: %w", err)
	}
	p.PostedAt = p.PostedAt.UTC()
	return &p, nil
}

// BeginApproval claims publication of a draft: it inserts the attempt row
// (the lock), flips the draft to publishing with its approval idempotency
// key, and consumes the approve token, all in one transaction. A rival
// approver loses on the (draft_id, attempt) unique constraint and sees
// ErrDuplicate with no other state touched.
func (s *Store) BeginApproval(ctx context.Context, draftID string, attempt int, owner, approvalKey string, tokenID int64, now time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := insertAttempt(ctx, tx, draftID, attempt, owner, now); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE drafts SET status = $1, approval_idempotency_key = $2 WHERE id = $3`,
			string(contracts.DraftPublishing), approvalKey, draftID)
		if err != nil {
			return fmt.Errorf("store: set draft publishing: %w", dup(err))
		}
		if err := requireRow(res); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE action_tokens SET consumed_at = $1 WHERE id = $2 AND consumed_at IS NULL`,
			now, tokenID); err != nil {
			return fmt.Errorf("store: consume approve token: %w", err)
		}
		return nil
	})
}

// BeginResume claims a new attempt for a draft whose previous attempt
// failed. The approve token was consumed back then; only the lease and the
// status change here.
func (s *Store) BeginResume(ctx context.Context, draftID string, attempt int, owner string, now time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := insertAttempt(ctx, tx, draftID, attempt, owner, now); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE drafts SET status = $1, last_error = NULL WHERE id = $2`,
			string(contracts.DraftPublishing), draftID)
		if err != nil {
			return fmt.Errorf("store: set draft publishing: %w", err)
		}
		return requireRow(res)
	})
}

func insertAttempt(ctx context.Context, tx *sql.Tx, draftID string, attempt int, owner string, now time.Time) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO publish_attempts (draft_id, attempt, owner, status, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		draftID, attempt, nullStr(owner), string(contracts.AttemptStarted), now)
	if err != nil {
		return fmt.Errorf("store: insert publish attempt: %w", dup(err))
	}
	return nil
}

// CompleteAttempt finalizes a successful publication: terminal draft status,
// stored tweet ids, consumed draft, attempt completed.
func (s *Store) CompleteAttempt(ctx context.Context, draftID string, attempt int, status contracts.DraftStatus, tweetIDs []string, now time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		ids, err := jsonText(tweetIDs)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE drafts SET status = $1, published_tweet_ids = $2, token_consumed = $3, consumed_at = $4, last_error = NULL WHERE id = $5`,
			string(status), ids, true, now, draftID)
		if err != nil {
			return fmt.Errorf("store: finalize draft: %w", err)
		}
		if err := requireRow(res); err != nil {
			return err
		}
		res, err = tx.ExecContext(ctx,
			`UPDATE publish_attempts SET status = $1, completed_at = $2 WHERE draft_id = $3 AND attempt = $4`,
			string(contracts.AttemptCompleted), now, draftID, attempt)
		if err != nil {
			return fmt.Errorf("store: complete attempt: %w", err)
		}
		return requireRow(res)
	})
}

// FailAttempt records a publish failure: attempt failed with its error,
// draft parked in error for an explicit resume.
func (s *Store) FailAttempt(ctx context.Context, draftID string, attempt int, lastError string, now time.Time) error {
	truncated := contracts.Truncate(lastError, 500)
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE publish_attempts SET status = $1, completed_at = $2, last_error = $3 WHERE draft_id = $4 AND attempt = $5`,
			string(contracts.AttemptFailed), now, nullStr(truncated), draftID, attempt)
		if err != nil {
			return fmt.Errorf("store: fail attempt: %w", err)
		}
		if err := requireRow(res); err != nil {
			return err
		}
		res, err = tx.ExecContext(ctx,
			`UPDATE drafts SET status = $1, last_error = $2 WHERE id = $3`,
			string(contracts.DraftError), nullStr(truncated), draftID)
		if err != nil {
			return fmt.Errorf("store: set draft error: %w", err)
		}
		return requireRow(res)
	})
}

// GetAttempt fetches one attempt of a draft.
func (s *Store) GetAttempt(ctx context.Context, draftID string, attempt int) (*contracts.PublishAttempt, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, draft_id, attempt, owner, status, created_at, completed_at, last_error
		 FROM publish_attempts WHERE draft_id = $1 AND attempt = $2`, draftID, attempt)
	return scanAttempt(row)
}

// LatestAttempt fetches the highest-numbered attempt of a draft.
func (s *Store) LatestAttempt(ctx context.Context, draftID string) (*contracts.PublishAttempt, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, draft_id, attempt, owner, status, created_at, completed_at, last_error
		 FROM publish_attempts WHERE draft_id = $1 ORDER BY attempt DESC LIMIT 1`, draftID)
	return scanAttempt(row)
}

func scanAttempt(row rowScanner) (*contracts.PublishAttempt, error) {
	var (
		a         contracts.PublishAttempt
		owner     sql.NullString
		status    string
		completed sql.NullTime
		lastErr   sql.NullString
	)
	err := row.Scan(&a.ID, &a.DraftID, &a.Attempt, &owner, &status, &a.CreatedAt, &completed, &lastErr)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: scan attempt: %w", err)
	}
	a.Owner = owner.String
	a.Status = contracts.AttemptStatus(status)
	a.CreatedAt = a.CreatedAt.UTC()
	if completed.Valid {
		t := completed.Time.UTC()
		a.CompletedAt = &t
	}
	a.LastError = lastErr.String
	return &a, nil
}
