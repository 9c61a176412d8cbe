package contracts

import (
	"encoding/json"
	"time"
)

// StyleProfileRecord is one persisted style profile generation. The newest
// row wins; older rows are kept for inspection.
type StyleProfileRecord struct {
	ID        int64        `json:"id"`
	Profile   StyleProfile `json:"profile"`
	CreatedAt time.Time    `json:"created_at"`
}

// WeeklyDigest is the weekly analyst's structured output.
type WeeklyDigest struct {
	WeekStart       string   `json:"week_start"`
	WeekEnd         string   `json:"week_end"`
	RunsTotal       int      `json:"runs_total"`
	PostsPublished  int      `json:"posts_published"`
	DraftsSkipped   int      `json:"drafts_skipped"`
	Buckets         []string `json:"buckets"`
	Recommendations []string `json:"recommendations"`
	Topics          []string `json:"topics"`
}

// WeeklyReport is a persisted digest for one week. The (week_start, week_end)
// pair is unique; regenerating a week replaces its report.
type WeeklyReport struct {
	ID        int64           `json:"id"`
	WeekStart time.Time       `json:"week_start"`
	WeekEnd   time.Time       `json:"week_end"`
	Report    json.RawMessage `json:"report"`
	CreatedAt time.Time       `json:"created_at"`
}
