package publish

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/herald/pkg/contracts"
	"github.com/Mindburn-Labs/herald/pkg/retry"
	"github.com/Mindburn-Labs/herald/pkg/store"
	"github.com/Mindburn-Labs/herald/pkg/tokens"
)

type socialCall struct {
	text      string
	inReplyTo string
}

// fakeSocial hands out tw_1, tw_2, ... and fails the call indexes listed in
// errs (indexes count every call, including retries).
type fakeSocial struct {
	calls []socialCall
	errs  map[int]error
}

func (f *fakeSocial) CreateTweet(_ context.Context, text, inReplyTo string) (string, error) {
	idx := len(f.calls)
	f.calls = append(f.calls, socialCall{text: text, inReplyTo: inReplyTo})
	if err, ok := f.errs[idx]; ok {
		return "", err
	}
	return fmt.Sprintf("tw_%d", idx+1), nil
}

type fakeMetrics struct {
	publishes   []string
	policyFails []string
}

func (m *fakeMetrics) RecordPublish(_ context.Context, status string, dryRun bool) {
	m.publishes = append(m.publishes, fmt.Sprintf("%s/%v", status, dryRun))
}

func (m *fakeMetrics) RecordPolicyFail(_ context.Context, action string) {
	m.policyFails = append(m.policyFails, action)
}

func passReport() *contracts.PolicyReport {
	return &contracts.PolicyReport{
		Checks:    []contracts.PolicyCheck{{Name: "length", OK: true, Details: "within limit"}},
		RiskLevel: contracts.RiskLow,
		Action:    contracts.ActionPass,
	}
}

func rewriteReport() *contracts.PolicyReport {
	return &contracts.PolicyReport{
		Checks:    []contracts.PolicyCheck{{Name: "banned_phrases", OK: false, Details: "matched: game changer"}},
		RiskLevel: contracts.RiskMedium,
		Action:    contracts.ActionRewrite,
	}
}

type testEnv struct {
	store   *store.Store
	tokens  *tokens.Service
	social  *fakeSocial
	metrics *fakeMetrics
	coord   *Coordinator
}

func newTestEnv(t *testing.T, gate GateFunc) *testEnv {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	env := &testEnv{
		store:   st,
		tokens:  tokens.NewService(st),
		social:  &fakeSocial{errs: map[int]error{}},
		metrics: &fakeMetrics{},
	}
	env.coord = NewCoordinator(Options{
		Store:   st,
		Tokens:  env.tokens,
		Social:  env.social,
		Gate:    gate,
		Metrics: env.metrics,
		Plan:    retry.Plan{Attempts: 3, Base: time.Millisecond, Factor: 2},
		Owner:   "test-owner",
	})
	return env
}

// seedDraft inserts a pending draft and mints its approve token, returning
// the draft and the raw token an email link would carry.
func (e *testEnv) seedDraft(t *testing.T, id string, mutate func(*contracts.Draft)) (*contracts.Draft, string) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	d := &contracts.Draft{
		ID:        id,
		Token:     "url-" + id,
		RunID:     "run-" + id,
		CreatedAt: now,
		ExpiresAt: now.Add(36 * time.Hour),
		Status:    contracts.DraftPending,
		FinalText: "Shipped the new ingest path today.",
	}
	if mutate != nil {
		mutate(d)
	}
	require.NoError(t, e.store.CreateDraftWithTokens(ctx, d, nil))
	raw, _, err := e.tokens.Issue(ctx, id, contracts.TokenApprove, now, d.ExpiresAt)
	require.NoError(t, err)
	return d, raw
}

func TestApprovePublishesSingleTweet(t *testing.T) {
	env := newTestEnv(t, func(context.Context, *contracts.Draft) (*contracts.PolicyReport, error) {
		return passReport(), nil
	})
	ctx := context.Background()
	d, raw := env.seedDraft(t, "draft-1", nil)

	out := env.coord.Approve(ctx, raw, false)
	require.Equal(t, 200, out.Code, out.Message)
	assert.Equal(t, StatePosted, out.State)
	assert.Equal(t, []string{"tw_1"}, out.TweetIDs)

	require.Len(t, env.social.calls, 1)
	assert.Equal(t, d.FinalText, env.social.calls[0].text)
	assert.Empty(t, env.social.calls[0].inReplyTo)

	got, err := env.store.GetDraft(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, contracts.DraftPosted, got.Status)
	assert.True(t, got.TokenConsumed)
	require.NotNil(t, got.ConsumedAt)
	assert.Equal(t, []string{"tw_1"}, got.PublishedTweetIDs)
	assert.Equal(t, "approve:"+d.ID, got.ApprovalIdempotencyKey)

	att, err := env.store.GetAttempt(ctx, d.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, contracts.AttemptCompleted, att.Status)
	assert.Equal(t, "test-owner", att.Owner)

	post, err := env.store.GetPost(ctx, d.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, "tw_1", post.TweetID)
	assert.Equal(t, d.ID+":1", post.PublishIdempotencyKey)

	assert.Equal(t, []string{"posted/false"}, env.metrics.publishes)
}

func TestApproveThreadChainsReplies(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	d, raw := env.seedDraft(t, "draft-thread", func(d *contracts.Draft) {
		d.ThreadEnabled = true
		d.Tweets = []string{"one (1/3)", "two (2/3)", "three (3/3)"}
	})

	out := env.coord.Approve(ctx, raw, false)
	require.Equal(t, 200, out.Code, out.Message)
	assert.Equal(t, []string{"tw_1", "tw_2", "tw_3"}, out.TweetIDs)

	require.Len(t, env.social.calls, 3)
	assert.Empty(t, env.social.calls[0].inReplyTo)
	assert.Equal(t, "tw_1", env.social.calls[1].inReplyTo)
	assert.Equal(t, "tw_2", env.social.calls[2].inReplyTo)

	posts, err := env.store.ListPosts(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, posts, 3)
	assert.Equal(t, "two (2/3)", posts[1].Content)
}

func TestApproveReplaysAfterSuccess(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	_, raw := env.seedDraft(t, "draft-replay", nil)

	first := env.coord.Approve(ctx, raw, false)
	require.Equal(t, 200, first.Code)

	second := env.coord.Approve(ctx, raw, false)
	assert.Equal(t, 200, second.Code)
	assert.Equal(t, StateAlreadyProcessed, second.State)
	assert.Equal(t, first.TweetIDs, second.TweetIDs)

	assert.Len(t, env.social.calls, 1, "replay must not publish again")
}

func TestApprovePolicyBlocked(t *testing.T) {
	env := newTestEnv(t, func(context.Context, *contracts.Draft) (*contracts.PolicyReport, error) {
		return rewriteReport(), nil
	})
	ctx := context.Background()
	d, raw := env.seedDraft(t, "draft-blocked", nil)

	out := env.coord.Approve(ctx, raw, false)
	assert.Equal(t, 403, out.Code)
	assert.Equal(t, StatePolicyBlocked, out.State)
	require.NotNil(t, out.Report)
	assert.Equal(t, contracts.ActionRewrite, out.Report.Action)

	assert.Empty(t, env.social.calls)
	assert.Equal(t, []string{"REWRITE"}, env.metrics.policyFails)

	// Recheck verdict is persisted for the audit trail.
	report, _, err := env.store.LatestPolicyReport(ctx, d.ID)
	require.NoError(t, err)
	assert.Contains(t, string(report), `"REWRITE"`)

	// No attempt was claimed and the token survives: the reviewer can edit
	// and approve again with the same link.
	_, err = env.store.GetAttempt(ctx, d.ID, 1)
	assert.ErrorIs(t, err, store.ErrNotFound)
	res, err := env.tokens.Resolve(ctx, contracts.TokenApprove, raw)
	require.NoError(t, err)
	assert.Equal(t, tokens.StatusOK, res.Status)
}

func TestApproveDryRun(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	d, raw := env.seedDraft(t, "draft-dry-run-1", nil)

	out := env.coord.Approve(ctx, raw, true)
	require.Equal(t, 200, out.Code, out.Message)
	assert.Equal(t, StateDryRunPosted, out.State)
	assert.Equal(t, []string{"dry_draft-dr_1"}, out.TweetIDs)
	assert.Empty(t, env.social.calls, "dry run must not hit the API")

	got, err := env.store.GetDraft(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, contracts.DraftDryRunPosted, got.Status)
	assert.True(t, got.TokenConsumed)

	// Dry runs still write posts rows so a later real resume will not
	// double-post the same positions.
	post, err := env.store.GetPost(ctx, d.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, "dry_draft-dr_1", post.TweetID)

	assert.Equal(t, []string{"dry_run_posted/true"}, env.metrics.publishes)
}

func TestApproveExpired(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	t.Run("token expired", func(t *testing.T) {
		d := &contracts.Draft{
			ID: "draft-exp-tok", Token: "url-exp-tok", RunID: "run-x",
			CreatedAt: now.Add(-48 * time.Hour), ExpiresAt: now.Add(time.Hour),
			Status: contracts.DraftPending, FinalText: "late",
		}
		require.NoError(t, env.store.CreateDraftWithTokens(ctx, d, nil))
		raw, _, err := env.tokens.Issue(ctx, d.ID, contracts.TokenApprove, now.Add(-48*time.Hour), now.Add(-time.Hour))
		require.NoError(t, err)

		out := env.coord.Approve(ctx, raw, false)
		assert.Equal(t, 410, out.Code)
		assert.Equal(t, StateExpired, out.State)
	})

	t.Run("draft window closed", func(t *testing.T) {
		d := &contracts.Draft{
			ID: "draft-exp-window", Token: "url-exp-window", RunID: "run-x",
			CreatedAt: now.Add(-48 * time.Hour), ExpiresAt: now.Add(-time.Hour),
			Status: contracts.DraftPending, FinalText: "late",
		}
		require.NoError(t, env.store.CreateDraftWithTokens(ctx, d, nil))
		raw, _, err := env.tokens.Issue(ctx, d.ID, contracts.TokenApprove, now.Add(-48*time.Hour), now.Add(time.Hour))
		require.NoError(t, err)

		out := env.coord.Approve(ctx, raw, false)
		assert.Equal(t, 410, out.Code)
		assert.Equal(t, StateExpired, out.State)
	})

	assert.Empty(t, env.social.calls)
}

func TestApproveUnknownToken(t *testing.T) {
	env := newTestEnv(t, nil)
	out := env.coord.Approve(context.Background(), "no-such-token", false)
	assert.Equal(t, 404, out.Code)
	assert.Equal(t, StateNotFound, out.State)
}

func TestApproveWhileAnotherAttemptRuns(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	d, raw := env.seedDraft(t, "draft-contended", nil)

	// Another process claimed attempt 1 and is presumed mid-publish.
	res, err := env.tokens.Resolve(ctx, contracts.TokenApprove, raw)
	require.NoError(t, err)
	require.NoError(t, env.store.BeginApproval(ctx, d.ID, 1, "rival", "approve:"+d.ID, res.Token.ID, time.Now().UTC()))

	out := env.coord.Approve(ctx, raw, false)
	assert.Equal(t, 409, out.Code)
	assert.Equal(t, StateInProgress, out.State)
	assert.Empty(t, env.social.calls)
}

func TestResumeAdoptsStalledAttempt(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	d, raw := env.seedDraft(t, "draft-stalled", func(d *contracts.Draft) {
		d.ThreadEnabled = true
		d.Tweets = []string{"a (1/2)", "b (2/2)"}
	})

	// Simulate a crash: the attempt row exists, position 1 went out, then
	// the process died before position 2.
	res, err := env.tokens.Resolve(ctx, contracts.TokenApprove, raw)
	require.NoError(t, err)
	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, env.store.BeginApproval(ctx, d.ID, 1, "crashed", "approve:"+d.ID, res.Token.ID, now))
	require.NoError(t, env.store.InsertPost(ctx, &contracts.Post{
		DraftID: d.ID, Position: 1, TweetID: "tw_pre", Content: "a (1/2)",
		PostedAt: now, PublishIdempotencyKey: d.ID + ":1",
	}))

	out := env.coord.Resume(ctx, d.ID, false)
	require.Equal(t, 200, out.Code, out.Message)
	assert.Equal(t, StatePosted, out.State)
	assert.Equal(t, []string{"tw_pre", "tw_1"}, out.TweetIDs)

	// Position 1 was reused, only position 2 hit the API, threaded onto the
	// pre-crash tweet.
	require.Len(t, env.social.calls, 1)
	assert.Equal(t, "tw_pre", env.social.calls[0].inReplyTo)

	// The stalled attempt was adopted, not renumbered.
	att, err := env.store.GetAttempt(ctx, d.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, contracts.AttemptCompleted, att.Status)
	_, err = env.store.GetAttempt(ctx, d.ID, 2)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestApproveFailureThenResume(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	d, raw := env.seedDraft(t, "draft-fails", func(d *contracts.Draft) {
		d.ThreadEnabled = true
		d.Tweets = []string{"a (1/3)", "b (2/3)", "c (3/3)"}
	})
	// Call 0 posts position 1; call 1 (position 2) is rejected outright, so
	// retry must not re-attempt it.
	env.social.errs[1] = &APIError{Status: 403, Body: "duplicate content"}

	out := env.coord.Approve(ctx, raw, false)
	assert.Equal(t, 500, out.Code)
	assert.Equal(t, StateFailed, out.State)
	assert.Len(t, env.social.calls, 2, "403 is permanent, no retries")

	got, err := env.store.GetDraft(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, contracts.DraftError, got.Status)
	assert.Contains(t, got.LastError, "403")

	att, err := env.store.GetAttempt(ctx, d.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, contracts.AttemptFailed, att.Status)

	// Re-approving the consumed token points the reviewer at resume.
	again := env.coord.Approve(ctx, raw, false)
	assert.Equal(t, 409, again.Code)
	assert.Equal(t, StatePreviousFailed, again.State)

	// Resume claims attempt 2, reuses position 1 and publishes the rest.
	resumed := env.coord.Resume(ctx, d.ID, false)
	require.Equal(t, 200, resumed.Code, resumed.Message)
	assert.Equal(t, StatePosted, resumed.State)
	require.Len(t, resumed.TweetIDs, 3)
	assert.Equal(t, "tw_1", resumed.TweetIDs[0], "pre-failure tweet is reused")

	posts, err := env.store.ListPosts(ctx, d.ID)
	require.NoError(t, err)
	assert.Len(t, posts, 3)

	att2, err := env.store.GetAttempt(ctx, d.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, contracts.AttemptCompleted, att2.Status)

	got, err = env.store.GetDraft(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, contracts.DraftPosted, got.Status)
	assert.Empty(t, got.LastError)
}

func TestApproveRetriesTemporaryFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	_, raw := env.seedDraft(t, "draft-flaky", nil)
	env.social.errs[0] = &APIError{Status: 503, Body: "over capacity"}

	out := env.coord.Approve(ctx, raw, false)
	require.Equal(t, 200, out.Code, out.Message)
	assert.Equal(t, []string{"tw_2"}, out.TweetIDs)
	assert.Len(t, env.social.calls, 2, "503 retried once, then succeeded")
}

func TestResumeUnknownDraft(t *testing.T) {
	env := newTestEnv(t, nil)
	out := env.coord.Resume(context.Background(), "no-such-draft", false)
	assert.Equal(t, 404, out.Code)
	assert.Equal(t, StateNotFound, out.State)
}

func TestResumeNeverApproved(t *testing.T) {
	env := newTestEnv(t, nil)
	d, _ := env.seedDraft(t, "draft-unapproved", nil)

	out := env.coord.Resume(context.Background(), d.ID, false)
	assert.Equal(t, 409, out.Code)
	assert.Equal(t, StateNotApproved, out.State)
	assert.Empty(t, env.social.calls)
}

func TestResumeTerminalReplays(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	d, raw := env.seedDraft(t, "draft-done", nil)

	first := env.coord.Approve(ctx, raw, false)
	require.Equal(t, 200, first.Code)

	out := env.coord.Resume(ctx, d.ID, false)
	assert.Equal(t, 200, out.Code)
	assert.Equal(t, StateAlreadyProcessed, out.State)
	assert.Equal(t, first.TweetIDs, out.TweetIDs)
	assert.Len(t, env.social.calls, 1)
}
