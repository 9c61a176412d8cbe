package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Mindburn-Labs/herald/pkg/agents"
	"github.com/Mindburn-Labs/herald/pkg/artifacts"
	"github.com/Mindburn-Labs/herald/pkg/audit"
	"github.com/Mindburn-Labs/herald/pkg/contracts"
	"github.com/Mindburn-Labs/herald/pkg/policy"
	"github.com/Mindburn-Labs/herald/pkg/store"
	"github.com/Mindburn-Labs/herald/pkg/tokens"
)

// States for reviewer-action outcomes.
const (
	StateOK             = "ok"
	StateSkipped        = "skipped"
	StateAlreadySkipped = "already_skipped"
	StateProcessed      = "already_processed"
	StateNotFound       = "not_found"
	StateExpired        = "expired"
	StateInvalidTexts   = "invalid_texts"
	StateInProgress     = "publish_in_progress"
	StatePreviousFailed = "previous_attempt_failed"
	StateInternal       = "internal_error"
)

// ActionResult is the outcome of a token-authorized reviewer action. Code
// maps directly to an HTTP status.
type ActionResult struct {
	Code    int
	State   string
	Message string
	Draft   *contracts.Draft
	Report  *contracts.PolicyReport
}

// reviewerActor labels audit rows for token-authenticated actions, which
// carry no admin session.
const reviewerActor = "reviewer"

// View resolves a view token and returns the draft with its latest policy
// report. Viewing stays possible after the draft window closes; only
// mutating actions go stale.
func (o *Orchestrator) View(ctx context.Context, rawToken string) ActionResult {
	res, err := o.tokens.Resolve(ctx, contracts.TokenView, rawToken)
	if err != nil {
		return o.actionInternal(err)
	}
	switch res.Status {
	case tokens.StatusNotFound:
		return ActionResult{Code: http.StatusNotFound, State: StateNotFound, Message: "unknown or invalid link"}
	case tokens.StatusExpired:
		return ActionResult{Code: http.StatusGone, State: StateExpired, Message: "this link has expired"}
	case tokens.StatusConsumed:
		// View tokens are multi-use; resolve never reports them consumed.
		return ActionResult{Code: http.StatusConflict, State: StateProcessed, Message: "link no longer usable"}
	}
	return ActionResult{Code: http.StatusOK, State: StateOK, Draft: res.Draft, Report: res.Draft.Snapshots.PolicyReport}
}

// Edit replaces the draft's text with reviewer-provided tweets, re-runs the
// policy gate on the new content and recomputes the status. The edit token
// is multi-use, so a reviewer can iterate until the gate passes.
func (o *Orchestrator) Edit(ctx context.Context, rawToken string, texts []string, notes string) ActionResult {
	res, err := o.tokens.Resolve(ctx, contracts.TokenEdit, rawToken)
	if err != nil {
		return o.actionInternal(err)
	}
	if out, ok := o.guardMutable(res, "edit"); !ok {
		return out
	}
	draft := res.Draft

	cleaned, invalid := cleanTexts(texts)
	if invalid != "" {
		return ActionResult{Code: http.StatusBadRequest, State: StateInvalidTexts, Message: invalid, Draft: draft}
	}

	edited := contracts.EditedDraft{
		Mode:      contracts.ModeSingle,
		Original:  draft.TweetTexts(),
		EditNotes: notes,
	}
	if prev := draft.Snapshots.EditedDraft; prev != nil {
		edited.SelectedCandidate = prev.SelectedCandidate
	}
	if len(cleaned) > 1 {
		edited.Mode = contracts.ModeThread
		edited.FinalTweets = cleaned
	} else {
		edited.FinalText = cleaned[0]
	}

	report, err := o.evaluateDraft(ctx, draft, edited)
	if err != nil {
		return o.actionInternal(err)
	}
	if err := o.applyRevision(ctx, draft, edited, report); err != nil {
		return o.actionInternal(err)
	}
	if o.audit != nil {
		o.audit.RecordAs(ctx, reviewerActor, audit.ActionEdit, draft.ID,
			map[string]any{"tweets": len(cleaned), "notes": notes, "policy_action": report.Action})
	}
	return ActionResult{Code: http.StatusOK, State: StateOK, Message: "draft updated", Draft: draft, Report: report}
}

// Regenerate re-runs the writer, critic and policy stages against the frozen
// run snapshots, replacing the draft's content. Like edit, the token is
// multi-use.
func (o *Orchestrator) Regenerate(ctx context.Context, rawToken string) ActionResult {
	res, err := o.tokens.Resolve(ctx, contracts.TokenRegenerate, rawToken)
	if err != nil {
		return o.actionInternal(err)
	}
	if out, ok := o.guardMutable(res, "regenerate"); !ok {
		return out
	}
	draft := res.Draft

	settings := o.cfg.Settings(ctx, o.overrides)
	st := &agents.State{
		Run:      &contracts.Run{ID: draft.RunID, Source: "regenerate"},
		Settings: settings,
	}
	st.RecentPosts, err = o.recentPosts(ctx, settings)
	if err != nil {
		return o.actionInternal(err)
	}
	snap := draft.Snapshots
	if snap.Materials != nil {
		st.Materials = *snap.Materials
	}
	if snap.TopicPlan != nil {
		st.Topic = *snap.TopicPlan
	}
	if snap.ThreadPlan != nil {
		st.Thread = *snap.ThreadPlan
	}
	if snap.StyleProfile != nil {
		st.Style = *snap.StyleProfile
	} else {
		st.Style = agents.DefaultStyleProfile(o.now().UTC())
	}

	blocked := policy.LoadBlockedTerms(ctx, o.overrides, o.cfg.BlockedTermsPath, o.cfg.SensitiveWordsList())
	writer := &agents.Writer{LLM: o.llm, Pack: o.pack}
	critic := &agents.Critic{LLM: o.llm, Pack: o.pack}
	gate := &agents.PolicyStage{Engine: o.engine, BlockedTerms: blocked}
	// Regeneration logs are ephemeral: the original run's stage logs stay as
	// recorded, so nothing here is persisted via ReplaceAgentLogs.
	for _, stage := range []agents.Stage{writer, critic, gate} {
		if err := agents.Execute(ctx, stage, st); err != nil {
			return o.actionInternal(err)
		}
	}

	draft.Snapshots.Candidates = &st.Candidates
	if err := o.applyRevision(ctx, draft, st.Edited, st.Report); err != nil {
		return o.actionInternal(err)
	}
	if o.audit != nil {
		o.audit.RecordAs(ctx, reviewerActor, audit.ActionRegenerate, draft.ID,
			map[string]any{"policy_action": st.Report.Action})
	}
	return ActionResult{Code: http.StatusOK, State: StateOK, Message: "draft regenerated", Draft: draft, Report: st.Report}
}

// Skip closes a draft without publishing. The skip token is one-time;
// replaying it after a successful skip returns 200.
func (o *Orchestrator) Skip(ctx context.Context, rawToken string) ActionResult {
	res, err := o.tokens.Resolve(ctx, contracts.TokenSkip, rawToken)
	if err != nil {
		return o.actionInternal(err)
	}
	switch res.Status {
	case tokens.StatusNotFound:
		return ActionResult{Code: http.StatusNotFound, State: StateNotFound, Message: "unknown or invalid link"}
	case tokens.StatusExpired:
		return ActionResult{Code: http.StatusGone, State: StateExpired, Message: "this link has expired"}
	case tokens.StatusConsumed:
		d, gerr := o.store.GetDraft(ctx, res.Token.DraftID)
		if gerr != nil {
			if errors.Is(gerr, store.ErrNotFound) {
				return ActionResult{Code: http.StatusNotFound, State: StateNotFound, Message: "draft no longer exists"}
			}
			return o.actionInternal(gerr)
		}
		if d.Status == contracts.DraftSkipped {
			return ActionResult{Code: http.StatusOK, State: StateAlreadySkipped, Message: "draft already skipped", Draft: d}
		}
		return ActionResult{Code: http.StatusConflict, State: StateProcessed,
			Message: fmt.Sprintf("already processed: %s", d.Status), Draft: d}
	}

	draft := res.Draft
	switch {
	case draft.Status == contracts.DraftSkipped:
		return ActionResult{Code: http.StatusOK, State: StateAlreadySkipped, Message: "draft already skipped", Draft: draft}
	case draft.TokenConsumed || draft.Status.Terminal():
		return ActionResult{Code: http.StatusConflict, State: StateProcessed,
			Message: fmt.Sprintf("already processed: %s", draft.Status), Draft: draft}
	case draft.Expired(o.now().UTC()):
		return ActionResult{Code: http.StatusGone, State: StateExpired, Message: "draft review window has closed", Draft: draft}
	case draft.Status == contracts.DraftPublishing:
		return ActionResult{Code: http.StatusConflict, State: StateInProgress,
			Message: "a publish attempt is already running", Draft: draft}
	case draft.Status == contracts.DraftError:
		return ActionResult{Code: http.StatusConflict, State: StatePreviousFailed,
			Message: "a publish attempt already ran and failed; resume or leave it", Draft: draft}
	}

	if err := o.store.MarkDraftSkipped(ctx, draft.ID, res.Token.ID, o.now().UTC()); err != nil {
		return o.actionInternal(err)
	}
	draft.Status = contracts.DraftSkipped
	draft.TokenConsumed = true
	if o.audit != nil {
		o.audit.RecordAs(ctx, reviewerActor, audit.ActionSkip, draft.ID, nil)
	}
	o.log.Info("draft skipped", "draft_id", draft.ID)
	return ActionResult{Code: http.StatusOK, State: StateSkipped, Message: "draft skipped; nothing will be posted", Draft: draft}
}

// PolicyGate returns the approval-time recheck used by the publish
// coordinator: current draft content, fresh recent posts, current blocked
// terms.
func (o *Orchestrator) PolicyGate() func(ctx context.Context, d *contracts.Draft) (*contracts.PolicyReport, error) {
	return func(ctx context.Context, d *contracts.Draft) (*contracts.PolicyReport, error) {
		edited := contracts.EditedDraft{Mode: contracts.ModeSingle, FinalText: d.FinalText}
		if snap := d.Snapshots.EditedDraft; snap != nil {
			edited = *snap
		} else if d.ThreadEnabled {
			edited.Mode = contracts.ModeThread
			edited.FinalTweets = d.Tweets
		}
		return o.evaluateDraft(ctx, d, edited)
	}
}

// guardMutable maps a token resolution onto the states in which a draft can
// still be rewritten. Only pending and needs_human_attention drafts are
// mutable.
func (o *Orchestrator) guardMutable(res *tokens.Resolution, action string) (ActionResult, bool) {
	switch res.Status {
	case tokens.StatusNotFound:
		return ActionResult{Code: http.StatusNotFound, State: StateNotFound, Message: "unknown or invalid link"}, false
	case tokens.StatusExpired:
		return ActionResult{Code: http.StatusGone, State: StateExpired, Message: "this link has expired"}, false
	case tokens.StatusConsumed:
		return ActionResult{Code: http.StatusConflict, State: StateProcessed, Message: "link no longer usable"}, false
	}
	draft := res.Draft
	switch {
	case draft.TokenConsumed || draft.Status.Terminal():
		return ActionResult{Code: http.StatusConflict, State: StateProcessed,
			Message: fmt.Sprintf("already processed: %s", draft.Status), Draft: draft}, false
	case draft.Expired(o.now().UTC()):
		return ActionResult{Code: http.StatusGone, State: StateExpired, Message: "draft review window has closed", Draft: draft}, false
	case draft.Status == contracts.DraftPublishing:
		return ActionResult{Code: http.StatusConflict, State: StateInProgress,
			Message: "a publish attempt is already running", Draft: draft}, false
	case draft.Status == contracts.DraftError:
		return ActionResult{Code: http.StatusConflict, State: StatePreviousFailed,
			Message: fmt.Sprintf("cannot %s after a failed publish attempt; resume it instead", action), Draft: draft}, false
	}
	return ActionResult{}, true
}

// evaluateDraft runs the policy engine over an edited form of the draft with
// fresh recent posts and blocked terms.
func (o *Orchestrator) evaluateDraft(ctx context.Context, draft *contracts.Draft, edited contracts.EditedDraft) (*contracts.PolicyReport, error) {
	settings := o.cfg.Settings(ctx, o.overrides)
	recents, err := o.recentPosts(ctx, settings)
	if err != nil {
		return nil, fmt.Errorf("load recent posts: %w", err)
	}
	in := policy.Input{
		Edited:       edited,
		RecentPosts:  recents,
		Threshold:    settings.SimilarityThreshold,
		BlockedTerms: policy.LoadBlockedTerms(ctx, o.overrides, o.cfg.BlockedTermsPath, o.cfg.SensitiveWordsList()),
	}
	if draft.Snapshots.Materials != nil {
		in.Materials = *draft.Snapshots.Materials
	}
	if draft.Snapshots.StyleProfile != nil {
		in.Style = *draft.Snapshots.StyleProfile
	} else {
		in.Style = agents.DefaultStyleProfile(o.now().UTC())
	}
	return o.engine.Evaluate(ctx, in), nil
}

// applyRevision persists a new generation of the draft: content, snapshots,
// recomputed status, appended policy report, refreshed archive.
func (o *Orchestrator) applyRevision(ctx context.Context, draft *contracts.Draft, edited contracts.EditedDraft, report *contracts.PolicyReport) error {
	status := contracts.DraftNeedsAttention
	if report.Action == contracts.ActionPass {
		status = contracts.DraftPending
	}
	draft.Status = status
	draft.ThreadEnabled = edited.Mode == contracts.ModeThread
	draft.Tweets = edited.FinalTweets
	draft.FinalText = finalText(edited)
	draft.Snapshots.EditedDraft = &edited
	draft.Snapshots.PolicyReport = report

	if err := o.store.UpdateDraftContent(ctx, draft); err != nil {
		return fmt.Errorf("update draft: %w", err)
	}
	if err := o.persistReport(ctx, draft.ID, report); err != nil {
		return err
	}
	if o.archiver != nil {
		canonical, cerr := policy.Canonical(report)
		if cerr == nil {
			bundle := artifacts.DraftBundle{Draft: draft, PolicyReport: canonical}
			if _, aerr := o.archiver.SnapshotDraft(ctx, bundle); aerr != nil {
				o.log.Warn("revision not archived", "draft_id", draft.ID, "error", aerr)
			}
		}
	}
	return nil
}

func (o *Orchestrator) actionInternal(err error) ActionResult {
	o.log.Error("reviewer action failed", "error", err)
	return ActionResult{Code: http.StatusInternalServerError, State: StateInternal, Message: "internal error"}
}

// cleanTexts trims the submitted tweets and rejects empty submissions.
func cleanTexts(texts []string) ([]string, string) {
	if len(texts) == 0 {
		return nil, "at least one tweet text is required"
	}
	out := make([]string, 0, len(texts))
	for i, t := range texts {
		s := strings.TrimSpace(t)
		if s == "" {
			return nil, fmt.Sprintf("tweet %d is empty", i+1)
		}
		out = append(out, s)
	}
	return out, ""
}
