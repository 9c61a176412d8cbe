package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ConfigRow is one runtime override. Value is the stored payload,
// {"value": ..., "updated_at": "..."}.
type ConfigRow struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// GetConfigValue returns the stored payload for key. It implements
// config.Source; reads always hit the database so operator changes take
// effect on the next read.
func (s *Store) GetConfigValue(ctx context.Context, key string) (json.RawMessage, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM app_config WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("store: get config: %w", err)
	}
	return json.RawMessage(value), true, nil
}

// SetConfigValue upserts a runtime override. The raw value is wrapped into
// the {"value": ..., "updated_at": "..."} payload here so every reader sees
// the same shape.
func (s *Store) SetConfigValue(ctx context.Context, key string, value json.RawMessage, now time.Time) error {
	payload, err := json.Marshal(map[string]any{
		"value":      value,
		"updated_at": now.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("store: marshal config payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO app_config (key, value, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, string(payload), now)
	if err != nil {
		return fmt.Errorf("store: set config: %w", err)
	}
	return nil
}

// ListConfig returns all runtime overrides.
func (s *Store) ListConfig(ctx context.Context) ([]ConfigRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value, updated_at FROM app_config ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("store: list config: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []ConfigRow
	for rows.Next() {
		var (
			r     ConfigRow
			value string
		)
		if err := rows.Scan(&r.Key, &value, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("store: scan config: %w", err)
		}
		r.Value = json.RawMessage(value)
		r.UpdatedAt = r.UpdatedAt.UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}
