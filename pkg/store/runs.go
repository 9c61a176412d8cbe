package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/herald/pkg/contracts"
)

// CreateRun inserts a new run in the running state.
func (s *Store) CreateRun(ctx context.Context, r *contracts.Run) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, source, status, created_at) VALUES ($1, $2, $3, $4)`,
		r.ID, r.Source, string(r.Status), r.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: create run: %w", dup(err))
	}
	return nil
}

// GetRun fetches a run by id.
func (s *Store) GetRun(ctx context.Context, id string) (*contracts.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, source, status, created_at, finished_at, duration_ms, last_error
		 FROM runs WHERE id = $1`, id)
	return scanRun(row)
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]contracts.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source, status, created_at, finished_at, duration_ms, last_error
		 FROM runs ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []contracts.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// CountRunsBetween counts runs created inside [from, to).
func (s *Store) CountRunsBetween(ctx context.Context, from, to time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM runs WHERE created_at >= $1 AND created_at < $2`,
		from, to).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count runs: %w", err)
	}
	return n, nil
}

// FinalizeRun records the terminal state of a run. It is called exactly once
// by the owning orchestrator.
func (s *Store) FinalizeRun(ctx context.Context, id string, status contracts.RunStatus, finishedAt time.Time, durationMS int64, lastError string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = $1, finished_at = $2, duration_ms = $3, last_error = $4 WHERE id = $5`,
		string(status), finishedAt, durationMS, nullStr(lastError), id)
	if err != nil {
		return fmt.Errorf("store: finalize run: %w", err)
	}
	return requireRow(res)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*contracts.Run, error) {
	var (
		r        contracts.Run
		status   string
		finished sql.NullTime
		duration sql.NullInt64
		lastErr  sql.NullString
	)
	err := row.Scan(&r.ID, &r.Source, &status, &r.CreatedAt, &finished, &duration, &lastErr)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: scan run: %w", err)
	}
	r.Status = contracts.RunStatus(status)
	r.CreatedAt = r.CreatedAt.UTC()
	if finished.Valid {
		t := finished.Time.UTC()
		r.FinishedAt = &t
	}
	r.DurationMS = duration.Int64
	r.LastError = lastErr.String
	return &r, nil
}

// ReplaceAgentLogs swaps the stage logs for a run in one transaction, so a
// finalized run always carries a complete, consistent set.
func (s *Store) ReplaceAgentLogs(ctx context.Context, runID string, logs []contracts.AgentLog) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM agent_logs WHERE run_id = $1`, runID); err != nil {
			return fmt.Errorf("store: clear agent logs: %w", err)
		}
		for _, l := range logs {
			warnings, err := jsonText(l.Warnings)
			if err != nil {
				return err
			}
			_, err = tx.ExecContext(ctx,
				`INSERT INTO agent_logs (run_id, stage_name, start_ts, end_ts, duration_ms, input_summary, output_summary, errors, warnings)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
				runID, l.StageName, l.StartTS, l.EndTS, l.DurationMS,
				l.InputSummary, l.OutputSummary, nullStr(l.Errors), warnings)
			if err != nil {
				return fmt.Errorf("store: insert agent log: %w", err)
			}
		}
		return nil
	})
}

// ListAgentLogs returns the stage logs for a run in execution order.
func (s *Store) ListAgentLogs(ctx context.Context, runID string) ([]contracts.AgentLog, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, stage_name, start_ts, end_ts, duration_ms, input_summary, output_summary, errors, warnings
		 FROM agent_logs WHERE run_id = $1 ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("store: list agent logs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []contracts.AgentLog
	for rows.Next() {
		var (
			l        contracts.AgentLog
			errsCol  sql.NullString
			warnings sql.NullString
		)
		if err := rows.Scan(&l.RunID, &l.StageName, &l.StartTS, &l.EndTS, &l.DurationMS,
			&l.InputSummary, &l.OutputSummary, &errsCol, &warnings); err != nil {
			return nil, fmt.Errorf("store: scan agent log: %w", err)
		}
		l.StartTS = l.StartTS.UTC()
		l.EndTS = l.EndTS.UTC()
		l.Errors = errsCol.String
		if err := scanJSON(warnings, &l.Warnings); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// nullStr maps "" to NULL.
func nullStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// requireRow converts a zero-row UPDATE into ErrNotFound.
func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
