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

// InsertStyleProfile appends a new style profile generation.
func (s *Store) InsertStyleProfile(ctx context.Context, rec *contracts.StyleProfileRecord) error {
	profile, err := json.Marshal(rec.Profile)
	if err != nil {
		return fmt.Errorf("store: marshal style profile: %w", err)
	}
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO style_profiles (profile, created_at) VALUES ($1, $2) RETURNING id`,
		string(profile), rec.CreatedAt).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("store: insert style profile: %w", err)
	}
	return nil
}

// LatestStyleProfile returns the newest stored profile, or ErrNotFound when
// none has been learned yet.
func (s *Store) LatestStyleProfile(ctx context.Context) (*contracts.StyleProfileRecord, error) {
	var (
		rec     contracts.StyleProfileRecord
		profile string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, profile, created_at FROM style_profiles ORDER BY id DESC LIMIT 1`).
		Scan(&rec.ID, &profile, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: latest style profile: %w", err)
	}
	if err := json.Unmarshal([]byte(profile), &rec.Profile); err != nil {
		return nil, fmt.Errorf("store: unmarshal style profile: %w", err)
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	return &rec, nil
}

// UpsertWeeklyReport stores a week's report; regenerating a week replaces
// its report via the (week_start, week_end) unique constraint.
func (s *Store) UpsertWeeklyReport(ctx context.Context, r *contracts.WeeklyReport) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO weekly_reports (week_start, week_end, report, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (week_start, week_end) DO UPDATE SET report = excluded.report, created_at = excluded.created_at`,
		r.WeekStart, r.WeekEnd, string(r.Report), r.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: upsert weekly report: %w", err)
	}
	return nil
}

// GetWeeklyReport fetches the report for an exact week range.
func (s *Store) GetWeeklyReport(ctx context.Context, weekStart, weekEnd time.Time) (*contracts.WeeklyReport, error) {
	var (
		r      contracts.WeeklyReport
		report string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, week_start, week_end, report, created_at FROM weekly_reports
		 WHERE week_start = $1 AND week_end = $2`,
		weekStart, weekEnd).Scan(&r.ID, &r.WeekStart, &r.WeekEnd, &report, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get weekly report: %w", err)
	}
	r.Report = json.RawMessage(report)
	r.WeekStart = r.WeekStart.UTC()
	r.WeekEnd = r.WeekEnd.UTC()
	r.CreatedAt = r.CreatedAt.UTC()
	return &r, nil
}

// ListWeeklyReports returns the newest reports first.
func (s *Store) ListWeeklyReports(ctx context.Context, limit int) ([]contracts.WeeklyReport, error) {
	if limit <= 0 {
		limit = 12
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, week_start, week_end, report, created_at FROM weekly_reports
		 ORDER BY week_start DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list weekly reports: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []contracts.WeeklyReport
	for rows.Next() {
		var (
			r      contracts.WeeklyReport
			report string
		)
		if err := rows.Scan(&r.ID, &r.WeekStart, &r.WeekEnd, &report, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan weekly report: %w", err)
		}
		r.Report = json.RawMessage(report)
		r.WeekStart = r.WeekStart.UTC()
		r.WeekEnd = r.WeekEnd.UTC()
		r.CreatedAt = r.CreatedAt.UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}
