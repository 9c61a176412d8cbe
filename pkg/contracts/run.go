// Package contracts defines the shared domain types that flow between the
// herald pipeline stages, the policy engine, persistence and the HTTP
// surface. Types here have no behavior beyond small accessors; all state
// transitions live in the packages that own them.
package contracts

import "time"

// RunStatus tracks a pipeline run through its lifecycle.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Run is one end-to-end pipeline execution. A run is created when the
// pipeline starts, mutated only by the owning orchestrator and finalized
// exactly once.
type Run struct {
	ID         string     `json:"run_id"`
	Source     string     `json:"source"`
	Status     RunStatus  `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	DurationMS int64      `json:"duration_ms,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
}

// AgentLog records one stage execution inside a run. Summaries are truncated
// before storage so a log row stays cheap to scan.
type AgentLog struct {
	RunID         string    `json:"run_id"`
	StageName     string    `json:"stage_name"`
	StartTS       time.Time `json:"start_ts"`
	EndTS         time.Time `json:"end_ts"`
	DurationMS    int64     `json:"duration_ms"`
	InputSummary  string    `json:"input_summary"`
	OutputSummary string    `json:"output_summary"`
	Errors        string    `json:"errors,omitempty"`
	Warnings      []string  `json:"warnings,omitempty"`
}

// Truncate shortens s to at most max runes. Truncation is rune-aware so
// multi-byte text is never split mid-character.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
