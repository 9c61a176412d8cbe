// Package orchestrator owns the pipeline lifecycle: it runs the generation
// stages in order, parks the result as a reviewable draft, and services the
// reviewer actions (edit, regenerate, skip) plus the scheduled jobs (style
// refresh, weekly report). Publication lives in pkg/publish; the orchestrator
// only supplies its policy gate.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/herald/pkg/agents"
	"github.com/Mindburn-Labs/herald/pkg/artifacts"
	"github.com/Mindburn-Labs/herald/pkg/audit"
	"github.com/Mindburn-Labs/herald/pkg/config"
	"github.com/Mindburn-Labs/herald/pkg/contracts"
	"github.com/Mindburn-Labs/herald/pkg/llm"
	"github.com/Mindburn-Labs/herald/pkg/notify"
	"github.com/Mindburn-Labs/herald/pkg/policy"
	"github.com/Mindburn-Labs/herald/pkg/prompts"
	"github.com/Mindburn-Labs/herald/pkg/sources"
	"github.com/Mindburn-Labs/herald/pkg/store"
	"github.com/Mindburn-Labs/herald/pkg/tokens"
)

// Metrics is the slice of the telemetry provider the orchestrator feeds.
// *observability.Provider satisfies it.
type Metrics interface {
	RecordRunStarted(ctx context.Context, source string)
	RecordRunFailed(ctx context.Context, source string)
	RecordNotify(ctx context.Context, channel, status string)
	ObserveAgentLatency(ctx context.Context, agent string, d time.Duration)
}

// Orchestrator wires the stages, the store, and the side channels together.
// One instance serves all runs; per-run state lives in agents.State.
type Orchestrator struct {
	cfg       *config.Config
	overrides *config.Overrides
	store     *store.Store
	tokens    *tokens.Service
	engine    *policy.Engine
	sources   []sources.Source
	llm       llm.Client
	pack      *prompts.Pack
	stylist   *agents.Stylist
	weekly    *agents.WeeklyAnalyst
	notifier  *notify.Notifier
	archiver  *artifacts.Archiver
	audit     *audit.Recorder
	metrics   Metrics
	log       *slog.Logger
	now       func() time.Time
}

// Options configure an Orchestrator. Store, Tokens, Config and Engine are
// required; everything else degrades to a no-op or fallback when absent.
type Options struct {
	Config    *config.Config
	Overrides *config.Overrides
	Store     *store.Store
	Tokens    *tokens.Service
	Engine    *policy.Engine
	Sources   []sources.Source
	LLM       llm.Client
	Pack      *prompts.Pack
	Notifier  *notify.Notifier
	Archiver  *artifacts.Archiver
	Audit     *audit.Recorder
	Metrics   Metrics
	Log       *slog.Logger
}

// New wires an Orchestrator.
func New(opts Options) *Orchestrator {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	pack := opts.Pack
	if pack == nil {
		pack = &prompts.Pack{}
	}
	return &Orchestrator{
		cfg:       opts.Config,
		overrides: opts.Overrides,
		store:     opts.Store,
		tokens:    opts.Tokens,
		engine:    opts.Engine,
		sources:   opts.Sources,
		llm:       opts.LLM,
		pack:      pack,
		stylist:   agents.NewStylist(opts.LLM, pack),
		weekly:    agents.NewWeeklyAnalyst(opts.LLM, pack),
		notifier:  opts.Notifier,
		archiver:  opts.Archiver,
		audit:     opts.Audit,
		metrics:   opts.Metrics,
		log:       log,
		now:       time.Now,
	}
}

// DraftID derives the deterministic draft id for a run. A run retried under
// the same run id lands on the same draft row instead of minting a second
// draft.
func DraftID(runID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("draft_id:"+runID)).String()
}

// RunResult is what a completed pipeline run produced.
type RunResult struct {
	Run    *contracts.Run
	Draft  *contracts.Draft
	Report *contracts.PolicyReport
}

// StartRun executes the full pipeline: collect, curate, plan, then the
// write/critique/gate loop, ending in a parked draft and reviewer
// notification. A blank runID mints a fresh one. The returned error means the
// run failed and was finalized as such; a draft that merely failed the policy
// gate is not an error, it parks as needs_human_attention.
func (o *Orchestrator) StartRun(ctx context.Context, source, runID string) (*RunResult, error) {
	if runID == "" {
		runID = uuid.NewString()
	}
	started := o.now().UTC()
	run := &contracts.Run{ID: runID, Source: source, Status: contracts.RunRunning, CreatedAt: started}
	if err := o.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("orchestrator: create run: %w", err)
	}
	if o.metrics != nil {
		o.metrics.RecordRunStarted(ctx, source)
	}
	if o.audit != nil {
		o.audit.Record(ctx, audit.ActionRunStarted, runID, map[string]string{"source": source})
	}
	log := o.log.With("run_id", runID, "source", source)
	log.Info("run started")

	settings := o.cfg.Settings(ctx, o.overrides)
	st := &agents.State{Run: run, Settings: settings}

	var err error
	st.RecentPosts, err = o.recentPosts(ctx, settings)
	if err != nil {
		return nil, o.failRun(ctx, st, started, fmt.Errorf("load recent posts: %w", err))
	}
	st.Style, err = o.currentStyle(ctx)
	if err != nil {
		return nil, o.failRun(ctx, st, started, fmt.Errorf("load style profile: %w", err))
	}

	blocked := policy.LoadBlockedTerms(ctx, o.overrides, o.cfg.BlockedTermsPath, o.cfg.SensitiveWordsList())
	collector := agents.NewCollector(o.sources...)
	curator := &agents.Curator{LLM: o.llm, Pack: o.pack}
	planner := &agents.ThreadPlanner{LLM: o.llm, Pack: o.pack}
	writer := &agents.Writer{LLM: o.llm, Pack: o.pack}
	critic := &agents.Critic{LLM: o.llm, Pack: o.pack}
	gate := &agents.PolicyStage{Engine: o.engine, BlockedTerms: blocked}

	for _, stage := range []agents.Stage{collector, curator, planner} {
		if err := agents.Execute(ctx, stage, st); err != nil {
			return nil, o.failRun(ctx, st, started, err)
		}
	}

	// Write, critique, gate. Only a REWRITE verdict re-enters the writer, and
	// only while the budget lasts; HOLD and PASS both exit. The draft is
	// created either way — the human gate decides what happens to a draft the
	// policy engine dislikes.
	for {
		for _, stage := range []agents.Stage{writer, critic, gate} {
			if err := agents.Execute(ctx, stage, st); err != nil {
				return nil, o.failRun(ctx, st, started, err)
			}
		}
		if st.Report.Action == contracts.ActionRewrite && st.Rewrites < settings.RewriteMax {
			st.Rewrites++
			log.Info("policy requested rewrite", "rewrite", st.Rewrites, "max", settings.RewriteMax)
			continue
		}
		break
	}

	draft, raws, err := o.createDraft(ctx, st)
	if err != nil {
		return nil, o.failRun(ctx, st, started, err)
	}

	// Side channels after commit: archive and notify are best-effort and land
	// in the run's warnings rather than its verdict.
	if ref, aerr := o.archiveDraft(ctx, run, draft, st); aerr != nil {
		st.Warn("archive: " + aerr.Error())
	} else if ref != "" {
		log.Info("draft snapshot archived", "ref", ref)
	}
	o.notifyReviewer(ctx, st, draft, raws)
	st.FlushWarnings("delivery")

	finished := o.now().UTC()
	if err := o.store.ReplaceAgentLogs(ctx, runID, st.Logs); err != nil {
		return nil, o.failRun(ctx, st, started, fmt.Errorf("persist agent logs: %w", err))
	}
	if err := o.store.FinalizeRun(ctx, runID, contracts.RunCompleted, finished, finished.Sub(started).Milliseconds(), ""); err != nil {
		return nil, fmt.Errorf("orchestrator: finalize run: %w", err)
	}
	o.observeStages(ctx, st)

	run.Status = contracts.RunCompleted
	run.FinishedAt = &finished
	run.DurationMS = finished.Sub(started).Milliseconds()
	log.Info("run completed", "draft_id", draft.ID, "draft_status", string(draft.Status), "duration_ms", run.DurationMS)
	return &RunResult{Run: run, Draft: draft, Report: st.Report}, nil
}

// failRun finalizes a run as failed, keeping whatever stage logs exist.
func (o *Orchestrator) failRun(ctx context.Context, st *agents.State, started time.Time, cause error) error {
	finished := o.now().UTC()
	runID := st.Run.ID
	if err := o.store.ReplaceAgentLogs(ctx, runID, st.Logs); err != nil {
		o.log.Error("failed run: agent logs not persisted", "run_id", runID, "error", err)
	}
	msg := contracts.Truncate(cause.Error(), 500)
	if err := o.store.FinalizeRun(ctx, runID, contracts.RunFailed, finished, finished.Sub(started).Milliseconds(), msg); err != nil {
		o.log.Error("failed run: not finalized", "run_id", runID, "error", err)
	}
	if o.metrics != nil {
		o.metrics.RecordRunFailed(ctx, st.Run.Source)
	}
	o.observeStages(ctx, st)
	o.log.Error("run failed", "run_id", runID, "error", cause)
	return fmt.Errorf("orchestrator: run %s: %w", runID, cause)
}

// createDraft persists the pipeline outcome with its token set and the
// canonical policy report.
func (o *Orchestrator) createDraft(ctx context.Context, st *agents.State) (*contracts.Draft, tokens.RawSet, error) {
	now := o.now().UTC()
	status := contracts.DraftNeedsAttention
	if st.Report.Action == contracts.ActionPass {
		status = contracts.DraftPending
	}

	opaque, err := tokens.Opaque()
	if err != nil {
		return nil, nil, err
	}
	draft := &contracts.Draft{
		ID:            DraftID(st.Run.ID),
		Token:         opaque,
		RunID:         st.Run.ID,
		CreatedAt:     now,
		ExpiresAt:     now.Add(time.Duration(st.Settings.TokenTTLHours) * time.Hour),
		Status:        status,
		ThreadEnabled: st.Edited.Mode == contracts.ModeThread,
		FinalText:     finalText(st.Edited),
		Tweets:        st.Edited.FinalTweets,
		Snapshots: contracts.Snapshots{
			Materials:    &st.Materials,
			TopicPlan:    &st.Topic,
			StyleProfile: &st.Style,
			ThreadPlan:   &st.Thread,
			Candidates:   &st.Candidates,
			EditedDraft:  &st.Edited,
			PolicyReport: st.Report,
		},
	}

	raws, err := o.tokens.CreateDraft(ctx, draft)
	if err != nil {
		return nil, nil, fmt.Errorf("create draft: %w", err)
	}
	if err := o.persistReport(ctx, draft.ID, st.Report); err != nil {
		return nil, nil, err
	}
	return draft, raws, nil
}

// archiveDraft snapshots the finished run into the artifact store.
func (o *Orchestrator) archiveDraft(ctx context.Context, run *contracts.Run, draft *contracts.Draft, st *agents.State) (string, error) {
	if o.archiver == nil {
		return "", nil
	}
	canonical, err := policy.Canonical(st.Report)
	if err != nil {
		return "", err
	}
	return o.archiver.SnapshotDraft(ctx, artifacts.DraftBundle{
		Run:          run,
		Draft:        draft,
		PolicyReport: canonical,
		AgentLogs:    st.Logs,
	})
}

// notifyReviewer fans the draft out to the configured channels. Failures are
// warnings on the run, never errors.
func (o *Orchestrator) notifyReviewer(ctx context.Context, st *agents.State, draft *contracts.Draft, raws tokens.RawSet) {
	if o.notifier == nil {
		return
	}
	texts := draft.TweetTexts()
	msg := notify.Message{
		DraftID:      draft.ID,
		RunID:        draft.RunID,
		Status:       draft.Status,
		Preview:      contracts.Truncate(texts[0], 200),
		TweetCount:   len(texts),
		PolicyPass:   st.Report.Action == contracts.ActionPass,
		PolicyAction: string(st.Report.Action),
		DryRun:       st.Settings.DryRun,
		ExpiresAt:    draft.ExpiresAt,
		Links:        notify.BuildLinks(o.cfg.PublicBaseURL, raws),
	}
	res := o.notifier.Notify(ctx, msg)
	for _, ch := range res.Sent {
		if o.metrics != nil {
			o.metrics.RecordNotify(ctx, ch, "sent")
		}
	}
	for ch, err := range res.Failed {
		if o.metrics != nil {
			o.metrics.RecordNotify(ctx, ch, "failed")
		}
		st.Warn(fmt.Sprintf("notify %s: %s", ch, err))
	}
}

func (o *Orchestrator) observeStages(ctx context.Context, st *agents.State) {
	if o.metrics == nil {
		return
	}
	for _, l := range st.Logs {
		o.metrics.ObserveAgentLatency(ctx, l.StageName, time.Duration(l.DurationMS)*time.Millisecond)
	}
}

// recentPosts loads the similarity window for this run.
func (o *Orchestrator) recentPosts(ctx context.Context, s config.Settings) ([]string, error) {
	cutoff := o.now().UTC().AddDate(0, 0, -s.RecentPostsDays)
	return o.store.RecentPostContents(ctx, cutoff, s.RecentPostsLimit)
}

// currentStyle returns the newest learned profile, or the deterministic
// default before the first refresh.
func (o *Orchestrator) currentStyle(ctx context.Context) (contracts.StyleProfile, error) {
	rec, err := o.store.LatestStyleProfile(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return agents.DefaultStyleProfile(o.now().UTC()), nil
		}
		return contracts.StyleProfile{}, err
	}
	return rec.Profile, nil
}

// persistReport stores the canonical bytes and hash of a policy report.
func (o *Orchestrator) persistReport(ctx context.Context, draftID string, report *contracts.PolicyReport) error {
	canonical, err := policy.Canonical(report)
	if err != nil {
		return fmt.Errorf("canonicalize report: %w", err)
	}
	hash, err := policy.ReportHash(report)
	if err != nil {
		return fmt.Errorf("hash report: %w", err)
	}
	return o.store.InsertPolicyReport(ctx, draftID, canonical, hash, o.now().UTC())
}

// finalText renders the single-column text for a draft: the edited text in
// single mode, the tweets joined by blank lines in thread mode.
func finalText(e contracts.EditedDraft) string {
	if e.Mode == contracts.ModeThread {
		return strings.Join(e.FinalTweets, "\n\n")
	}
	return e.FinalText
}
