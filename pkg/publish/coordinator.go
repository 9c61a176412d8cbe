package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Mindburn-Labs/herald/pkg/contracts"
	"github.com/Mindburn-Labs/herald/pkg/policy"
	"github.com/Mindburn-Labs/herald/pkg/retry"
	"github.com/Mindburn-Labs/herald/pkg/store"
	"github.com/Mindburn-Labs/herald/pkg/tokens"
)

// Outcome states, machine-readable alongside the HTTP-ish Code.
const (
	StatePosted           = "posted"
	StateDryRunPosted     = "dry_run_posted"
	StateAlreadyProcessed = "already_processed"
	StateInProgress       = "publish_in_progress"
	StatePreviousFailed   = "previous_attempt_failed"
	StatePolicyBlocked    = "policy_blocked"
	StateExpired          = "expired"
	StateNotFound         = "not_found"
	StateNotApproved      = "not_approved"
	StateFailed           = "publish_failed"
)

// Outcome is the result of an approve or resume call. Code maps directly to
// an HTTP status; State is the stable machine-readable verdict.
type Outcome struct {
	Code     int
	State    string
	Message  string
	TweetIDs []string
	Draft    *contracts.Draft
	Report   *contracts.PolicyReport
}

// GateFunc recomputes the policy verdict for the draft's current content
// against fresh recent posts. Approval publishes only on PASS.
type GateFunc func(ctx context.Context, d *contracts.Draft) (*contracts.PolicyReport, error)

// Metrics is the slice of the telemetry provider the coordinator feeds.
type Metrics interface {
	RecordPublish(ctx context.Context, status string, dryRun bool)
	RecordPolicyFail(ctx context.Context, action string)
}

// Coordinator drives publication. The publish_attempts(draft_id, attempt)
// unique constraint is the lock: whoever inserts the row owns the attempt,
// everyone else gets told what is already happening.
type Coordinator struct {
	store   *store.Store
	tokens  *tokens.Service
	social  Social
	gate    GateFunc
	metrics Metrics
	plan    retry.Plan
	log     *slog.Logger
	owner   string
	now     func() time.Time
}

// Options configure a Coordinator.
type Options struct {
	Store  *store.Store
	Tokens *tokens.Service
	Social Social
	// Gate may be nil, which skips the approval-time recheck (dry wiring in
	// tests; production always sets it).
	Gate    GateFunc
	Metrics Metrics
	Plan    retry.Plan
	Log     *slog.Logger
	// Owner labels attempt rows with the claiming process.
	Owner string
}

// NewCoordinator wires a Coordinator.
func NewCoordinator(opts Options) *Coordinator {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	plan := opts.Plan
	if plan.Attempts == 0 {
		plan = retry.DefaultPlan()
	}
	owner := opts.Owner
	if owner == "" {
		owner = "herald"
	}
	return &Coordinator{
		store:   opts.Store,
		tokens:  opts.Tokens,
		social:  opts.Social,
		gate:    opts.Gate,
		metrics: opts.Metrics,
		plan:    plan,
		log:     log,
		owner:   owner,
		now:     time.Now,
	}
}

// Approve handles an approve token: resolve, replay checks, policy recheck,
// claim attempt 1, publish. Safe to call any number of times with the same
// token; only the first caller publishes.
func (c *Coordinator) Approve(ctx context.Context, rawToken string, dryRun bool) Outcome {
	res, err := c.tokens.Resolve(ctx, contracts.TokenApprove, rawToken)
	if err != nil {
		return c.internal(err)
	}
	switch res.Status {
	case tokens.StatusNotFound:
		return Outcome{Code: http.StatusNotFound, State: StateNotFound, Message: "unknown or invalid link"}
	case tokens.StatusExpired:
		return Outcome{Code: http.StatusGone, State: StateExpired, Message: "this link has expired"}
	case tokens.StatusConsumed:
		// The approve token was already spent: either the reviewer
		// double-clicked or a prior attempt is running or stuck. Report
		// where the draft actually is.
		d, gerr := c.store.GetDraft(ctx, res.Token.DraftID)
		if gerr != nil {
			if errors.Is(gerr, store.ErrNotFound) {
				return Outcome{Code: http.StatusNotFound, State: StateNotFound, Message: "draft no longer exists"}
			}
			return c.internal(gerr)
		}
		return c.classifyClaimed(d)
	}

	draft := res.Draft
	if draft.TokenConsumed {
		return c.replayOutcome(draft)
	}
	if draft.Expired(c.now().UTC()) {
		return Outcome{Code: http.StatusGone, State: StateExpired, Message: "draft review window has closed", Draft: draft}
	}
	if draft.Status == contracts.DraftPublishing || draft.Status == contracts.DraftError {
		return c.classifyClaimed(draft)
	}

	// Re-run the policy gate on the content as it stands now. Edits since
	// generation and posts published since then both shift the verdict.
	if c.gate != nil {
		report, gerr := c.gate(ctx, draft)
		if gerr != nil {
			return c.internal(fmt.Errorf("policy recheck: %w", gerr))
		}
		if err := c.storeReport(ctx, draft.ID, report); err != nil {
			return c.internal(err)
		}
		if report.Action != contracts.ActionPass {
			if c.metrics != nil {
				c.metrics.RecordPolicyFail(ctx, string(report.Action))
			}
			return Outcome{Code: http.StatusForbidden, State: StatePolicyBlocked,
				Message: "policy gate rejected the draft", Draft: draft, Report: report}
		}
	}

	const attemptNo = 1
	approvalKey := "approve:" + draft.ID
	err = c.store.BeginApproval(ctx, draft.ID, attemptNo, c.owner, approvalKey, res.Token.ID, c.now().UTC())
	if err != nil {
		if store.IsDuplicate(err) {
			return c.lostClaim(ctx, draft)
		}
		return c.internal(err)
	}

	c.log.Info("publish attempt claimed", "draft_id", draft.ID, "attempt", attemptNo, "dry_run", dryRun)
	return c.runAttempt(ctx, draft, attemptNo, dryRun)
}

// Resume continues publication of a draft whose attempt crashed or failed.
// A started attempt is adopted as-is (the previous owner is presumed dead);
// a failed attempt gets a fresh attempt number. Already-published positions
// are reused, never re-posted.
func (c *Coordinator) Resume(ctx context.Context, draftID string, dryRun bool) Outcome {
	draft, err := c.store.GetDraft(ctx, draftID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Outcome{Code: http.StatusNotFound, State: StateNotFound, Message: "unknown draft"}
		}
		return c.internal(err)
	}
	if draft.Status.Terminal() {
		return c.replayOutcome(draft)
	}

	last, err := c.store.LatestAttempt(ctx, draftID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Outcome{Code: http.StatusConflict, State: StateNotApproved,
				Message: "draft was never approved; nothing to resume", Draft: draft}
		}
		return c.internal(err)
	}

	switch last.Status {
	case contracts.AttemptCompleted:
		return c.replayOutcome(draft)
	case contracts.AttemptStarted:
		// Crash takeover: the attempt row exists but its owner never
		// finished. Adopt the same attempt and let the per-position
		// idempotency keys skip whatever already went out.
		c.log.Warn("adopting stalled publish attempt", "draft_id", draftID, "attempt", last.Attempt, "owner", last.Owner)
		return c.runAttempt(ctx, draft, last.Attempt, dryRun)
	}

	next := last.Attempt + 1
	if err := c.store.BeginResume(ctx, draftID, next, c.owner, c.now().UTC()); err != nil {
		if store.IsDuplicate(err) {
			return Outcome{Code: http.StatusConflict, State: StateInProgress,
				Message: "another resume is already running", Draft: draft}
		}
		return c.internal(err)
	}
	c.log.Info("publish attempt resumed", "draft_id", draftID, "attempt", next, "dry_run", dryRun)
	return c.runAttempt(ctx, draft, next, dryRun)
}

// runAttempt publishes every position of the draft, reusing rows already in
// posts, then finalizes the attempt.
func (c *Coordinator) runAttempt(ctx context.Context, draft *contracts.Draft, attemptNo int, dryRun bool) Outcome {
	texts := draft.TweetTexts()
	tweetIDs := make([]string, 0, len(texts))
	var prevID string

	for i, text := range texts {
		pos := i + 1
		id, err := c.publishPosition(ctx, draft, pos, text, prevID, dryRun)
		if err != nil {
			msg := err.Error()
			if ferr := c.store.FailAttempt(ctx, draft.ID, attemptNo, msg, c.now().UTC()); ferr != nil {
				c.log.Error("failed attempt could not be recorded", "draft_id", draft.ID, "error", ferr)
			}
			if c.metrics != nil {
				c.metrics.RecordPublish(ctx, StateFailed, dryRun)
			}
			c.log.Error("publish attempt failed", "draft_id", draft.ID, "attempt", attemptNo, "position", pos, "error", err)
			return Outcome{Code: http.StatusInternalServerError, State: StateFailed,
				Message: fmt.Sprintf("publishing stopped at position %d: %s", pos, msg), Draft: draft}
		}
		tweetIDs = append(tweetIDs, id)
		prevID = id
	}

	status := contracts.DraftPosted
	state := StatePosted
	if dryRun {
		status = contracts.DraftDryRunPosted
		state = StateDryRunPosted
	}
	if err := c.store.CompleteAttempt(ctx, draft.ID, attemptNo, status, tweetIDs, c.now().UTC()); err != nil {
		return c.internal(err)
	}
	if c.metrics != nil {
		c.metrics.RecordPublish(ctx, string(status), dryRun)
	}
	c.log.Info("draft published", "draft_id", draft.ID, "attempt", attemptNo, "status", string(status), "tweets", len(tweetIDs))

	draft.Status = status
	draft.PublishedTweetIDs = tweetIDs
	return Outcome{Code: http.StatusOK, State: state, Message: "published", TweetIDs: tweetIDs, Draft: draft}
}

// publishPosition returns the tweet id for one position, creating it if no
// post row exists yet. The posts unique constraints make the insert the
// exactly-once commit point.
func (c *Coordinator) publishPosition(ctx context.Context, draft *contracts.Draft, position int, text, prevID string, dryRun bool) (string, error) {
	if p, err := c.store.GetPost(ctx, draft.ID, position); err == nil {
		return p.TweetID, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("load post %d: %w", position, err)
	}

	var tweetID string
	if dryRun {
		tweetID = dryRunID(draft.ID, position)
	} else {
		id, err := retry.DoValue(ctx, c.plan, func(ctx context.Context) (string, error) {
			id, err := c.social.CreateTweet(ctx, text, prevID)
			if err != nil {
				var apiErr *APIError
				if errors.As(err, &apiErr) && !apiErr.Temporary() {
					return "", retry.Permanent(err)
				}
				return "", err
			}
			return id, nil
		})
		if err != nil {
			return "", fmt.Errorf("create tweet %d: %w", position, err)
		}
		tweetID = id
	}

	post := &contracts.Post{
		DraftID:               draft.ID,
		Position:              position,
		TweetID:               tweetID,
		Content:               text,
		PostedAt:              c.now().UTC(),
		PublishIdempotencyKey: fmt.Sprintf("%s:%d", draft.ID, position),
	}
	if err := c.store.InsertPost(ctx, post); err != nil {
		if store.IsDuplicate(err) {
			// A rival writer landed the row first; theirs is the post.
			p, gerr := c.store.GetPost(ctx, draft.ID, position)
			if gerr != nil {
				return "", fmt.Errorf("reload post %d: %w", position, gerr)
			}
			return p.TweetID, nil
		}
		return "", fmt.Errorf("record post %d: %w", position, err)
	}
	return tweetID, nil
}

// replayOutcome renders a 200 for a request whose work already happened.
func (c *Coordinator) replayOutcome(d *contracts.Draft) Outcome {
	return Outcome{
		Code:     http.StatusOK,
		State:    StateAlreadyProcessed,
		Message:  fmt.Sprintf("already processed: %s", d.Status),
		TweetIDs: d.PublishedTweetIDs,
		Draft:    d,
	}
}

// classifyClaimed maps the state of an already-claimed draft to an outcome:
// a finished draft replays as 200, a failed attempt points at resume, and
// anything live reports the running attempt.
func (c *Coordinator) classifyClaimed(d *contracts.Draft) Outcome {
	switch {
	case d.TokenConsumed || d.Status.Terminal():
		return c.replayOutcome(d)
	case d.Status == contracts.DraftError:
		return Outcome{Code: http.StatusConflict, State: StatePreviousFailed,
			Message: "previous publish attempt failed; resume it instead of re-approving", Draft: d}
	default:
		return Outcome{Code: http.StatusConflict, State: StateInProgress,
			Message: "a publish attempt is already running", Draft: d}
	}
}

// lostClaim classifies a BeginApproval duplicate: somebody else holds or
// held attempt 1.
func (c *Coordinator) lostClaim(ctx context.Context, draft *contracts.Draft) Outcome {
	att, err := c.store.GetAttempt(ctx, draft.ID, 1)
	if err != nil {
		return c.internal(err)
	}
	switch att.Status {
	case contracts.AttemptCompleted:
		d, gerr := c.store.GetDraft(ctx, draft.ID)
		if gerr != nil {
			return c.internal(gerr)
		}
		return c.replayOutcome(d)
	case contracts.AttemptFailed:
		return Outcome{Code: http.StatusConflict, State: StatePreviousFailed,
			Message: "previous publish attempt failed; resume it instead of re-approving", Draft: draft}
	default:
		return Outcome{Code: http.StatusConflict, State: StateInProgress,
			Message: "a publish attempt is already running", Draft: draft}
	}
}

func (c *Coordinator) internal(err error) Outcome {
	c.log.Error("publish coordinator error", "error", err)
	return Outcome{Code: http.StatusInternalServerError, State: StateFailed, Message: "internal error"}
}

func (c *Coordinator) storeReport(ctx context.Context, draftID string, report *contracts.PolicyReport) error {
	canonical, err := policy.Canonical(report)
	if err != nil {
		return fmt.Errorf("canonicalize report: %w", err)
	}
	hash, err := policy.ReportHash(report)
	if err != nil {
		return fmt.Errorf("hash report: %w", err)
	}
	return c.store.InsertPolicyReport(ctx, draftID, canonical, hash, c.now().UTC())
}

// dryRunID synthesizes a stable fake tweet id so dry runs exercise the full
// bookkeeping path.
func dryRunID(draftID string, position int) string {
	short := draftID
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("dry_%s_%d", short, position)
}
