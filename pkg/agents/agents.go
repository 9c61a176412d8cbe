// Package agents implements the generation stages of a pipeline run. Each
// stage mutates the shared run state; a runner wraps every execution with
// timing, structured logs and an AgentLog row. LLM-backed stages degrade to
// deterministic fallbacks, so a dead model endpoint still yields a draft.
package agents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Mindburn-Labs/herald/pkg/config"
	"github.com/Mindburn-Labs/herald/pkg/contracts"
	"github.com/Mindburn-Labs/herald/pkg/llm"
	"github.com/Mindburn-Labs/herald/pkg/retry"
)

const (
	summaryLimit = 200
	errorLimit   = 500
)

// State is the mutable pipeline state one run threads through its stages.
// Stages only ever run sequentially within a run, so no locking.
type State struct {
	Run         *contracts.Run
	Settings    config.Settings
	RecentPosts []string
	Style       contracts.StyleProfile

	Materials  contracts.Materials
	Topic      contracts.TopicPlan
	Thread     contracts.ThreadPlan
	Candidates contracts.DraftCandidates
	Edited     contracts.EditedDraft
	Report     *contracts.PolicyReport

	Logs     []contracts.AgentLog
	Rewrites int

	warnings []string
}

// Warn records a non-fatal stage problem; the runner moves accumulated
// warnings into the current stage's AgentLog.
func (st *State) Warn(msg string) {
	st.warnings = append(st.warnings, contracts.Truncate(msg, summaryLimit))
}

// FlushWarnings drains warnings raised outside any stage into a synthetic
// zero-duration AgentLog row, so they still reach the persisted trail.
func (st *State) FlushWarnings(name string) {
	if len(st.warnings) == 0 {
		return
	}
	now := time.Now().UTC()
	st.Logs = append(st.Logs, contracts.AgentLog{
		RunID:     st.Run.ID,
		StageName: name,
		StartTS:   now,
		EndTS:     now,
		Warnings:  st.warnings,
	})
	st.warnings = nil
}

// Describe summarizes the state for agent-log rows.
func (st *State) Describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "materials(git=%d notes=%d links=%d errors=%d)",
		len(st.Materials.GitCommits), len(st.Materials.Notes), len(st.Materials.Links), len(st.Materials.Errors))
	if len(st.Topic.KeyPoints) > 0 {
		fmt.Fprintf(&b, " topic(bucket=%d points=%d)", st.Topic.TopicBucket, len(st.Topic.KeyPoints))
	}
	if st.Thread.TweetsCount > 0 {
		fmt.Fprintf(&b, " thread(enabled=%t n=%d)", st.Thread.Enabled, st.Thread.TweetsCount)
	}
	if len(st.Candidates.Candidates) > 0 {
		fmt.Fprintf(&b, " candidates(%s n=%d)", st.Candidates.Mode, len(st.Candidates.Candidates))
	}
	if st.Edited.Mode != "" {
		fmt.Fprintf(&b, " edited(mode=%s)", st.Edited.Mode)
	}
	if st.Report != nil {
		fmt.Fprintf(&b, " report(action=%s)", st.Report.Action)
	}
	return b.String()
}

// Stage is one pipeline step.
type Stage interface {
	Name() string
	Execute(ctx context.Context, st *State) error
}

// Execute runs a stage and appends its AgentLog to the state. The stage's
// error is returned unchanged; the log row keeps a truncated copy.
func Execute(ctx context.Context, stage Stage, st *State) error {
	logger := slog.Default().With("stage", stage.Name(), "run_id", st.Run.ID)
	start := time.Now().UTC()
	inputSummary := contracts.Truncate(st.Describe(), summaryLimit)
	logger.Info("stage starting")

	err := stage.Execute(ctx, st)

	end := time.Now().UTC()
	entry := contracts.AgentLog{
		RunID:         st.Run.ID,
		StageName:     stage.Name(),
		StartTS:       start,
		EndTS:         end,
		DurationMS:    end.Sub(start).Milliseconds(),
		InputSummary:  inputSummary,
		OutputSummary: contracts.Truncate(st.Describe(), summaryLimit),
		Warnings:      st.warnings,
	}
	st.warnings = nil
	if err != nil {
		entry.Errors = contracts.Truncate(err.Error(), errorLimit)
		logger.Error("stage failed", "err", err, "duration_ms", entry.DurationMS)
	} else {
		logger.Info("stage finished", "duration_ms", entry.DurationMS)
	}
	st.Logs = append(st.Logs, entry)
	return err
}

var errNoLLM = errors.New("llm client not configured")

// chatJSON asks the model for a JSON object, retrying transient failures.
func chatJSON(ctx context.Context, client llm.Client, prompt string) (string, error) {
	if client == nil {
		return "", errNoLLM
	}
	return retry.DoValue(ctx, retry.DefaultPlan(), func(ctx context.Context) (string, error) {
		return client.Chat(ctx, []llm.Message{{Role: "user", Content: prompt}}, &llm.Options{JSONOutput: true})
	})
}
