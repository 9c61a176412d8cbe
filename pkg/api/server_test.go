package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/herald/pkg/audit"
	"github.com/Mindburn-Labs/herald/pkg/auth"
	"github.com/Mindburn-Labs/herald/pkg/config"
	"github.com/Mindburn-Labs/herald/pkg/contracts"
	"github.com/Mindburn-Labs/herald/pkg/limiter"
	"github.com/Mindburn-Labs/herald/pkg/orchestrator"
	"github.com/Mindburn-Labs/herald/pkg/policy"
	"github.com/Mindburn-Labs/herald/pkg/publish"
	"github.com/Mindburn-Labs/herald/pkg/scheduler"
	"github.com/Mindburn-Labs/herald/pkg/sources"
	"github.com/Mindburn-Labs/herald/pkg/store"
	"github.com/Mindburn-Labs/herald/pkg/tokens"
)

// srvGroundedPoint matches the deterministic writer fallback, so runs seeded
// with it as evidence pass the grounding check.
const srvGroundedPoint = "A small, honest reflection is better than a vague claim"

type apiSource struct {
	name  string
	items []contracts.EvidenceItem
}

func (s apiSource) Name() string { return s.name }

func (s apiSource) Fetch(ctx context.Context) ([]contracts.EvidenceItem, error) {
	return s.items, nil
}

func groundedNotes() apiSource {
	return apiSource{name: "notes", items: []contracts.EvidenceItem{{
		SourceName: "notes",
		SourceID:   "note-1",
		Timestamp:  time.Now().UTC(),
		RawSnippet: srvGroundedPoint,
	}}}
}

// syncRunner executes submitted jobs inline so tests observe their effects
// immediately.
type syncRunner struct{ submitted int }

func (r *syncRunner) Submit(job scheduler.Job) bool {
	r.submitted++
	_ = job.Fn(context.Background())
	return true
}

type fullRunner struct{}

func (fullRunner) Submit(scheduler.Job) bool { return false }

type serverEnv struct {
	store  *store.Store
	tokens *tokens.Service
	orch   *orchestrator.Orchestrator
	cfg    *config.Config
	runner *syncRunner
	ts     *httptest.Server
}

func newServerEnv(t *testing.T, srcs ...sources.Source) *serverEnv {
	return newServerEnvWith(t, nil, srcs...)
}

func newServerEnvWith(t *testing.T, mutate func(*Options), srcs ...sources.Source) *serverEnv {
	t.Helper()
	ctx := context.Background()

	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(ctx))

	cfg := &config.Config{
		PublicBaseURL:          "http://localhost:8085",
		RewriteMax:             1,
		SimilarityThreshold:    0.6,
		TokenTTLHours:          36,
		ThreadEnabled:          true,
		ThreadMaxTweets:        5,
		ThreadNumberingEnabled: true,
		DryRun:                 true,
		RecentPostsDays:        14,
		RecentPostsLimit:       200,
		RateLimitRPM:           60,
		SessionTTLHours:        12,
		AdminUsername:          "admin",
		AdminPassword:          "swordfish-9",
	}
	overrides := config.NewOverrides(st)
	tok := tokens.NewService(st)
	aud := audit.New(st, nil)

	authSvc := auth.NewService(st, "server-test-secret", 12*time.Hour)
	require.NoError(t, authSvc.EnsureAdmin(ctx, cfg.AdminUsername, cfg.AdminPassword))

	orch := orchestrator.New(orchestrator.Options{
		Config:    cfg,
		Overrides: overrides,
		Store:     st,
		Tokens:    tok,
		Engine:    policy.New(nil, nil),
		Sources:   srcs,
		Audit:     aud,
	})
	pub := publish.NewCoordinator(publish.Options{
		Store:  st,
		Tokens: tok,
		Gate:   publish.GateFunc(orch.PolicyGate()),
	})

	runner := &syncRunner{}
	opts := Options{
		Config:       cfg,
		Overrides:    overrides,
		Store:        st,
		Auth:         authSvc,
		Orchestrator: orch,
		Publisher:    pub,
		Audit:        aud,
		Idempotency:  NewIdempotencyStore(time.Minute),
		Runner:       runner,
	}
	if mutate != nil {
		mutate(&opts)
	}
	ts := httptest.NewServer(NewServer(opts).Handler())
	t.Cleanup(ts.Close)

	return &serverEnv{store: st, tokens: tok, orch: orch, cfg: cfg, runner: runner, ts: ts}
}

func (e *serverEnv) request(t *testing.T, method, path string, body any, hdr map[string]string) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(buf)
	}
	req, err := http.NewRequest(method, e.ts.URL+path, rd)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeMap(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var m map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&m))
	return m
}

func (e *serverEnv) login(t *testing.T) string {
	t.Helper()
	resp := e.request(t, http.MethodPost, "/admin/login", map[string]string{
		"username": e.cfg.AdminUsername,
		"password": e.cfg.AdminPassword,
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeMap(t, resp)
	session, _ := body["token"].(string)
	require.NotEmpty(t, session)
	return session
}

func bearer(session string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + session}
}

func (e *serverEnv) startRun(t *testing.T) *orchestrator.RunResult {
	t.Helper()
	res, err := e.orch.StartRun(context.Background(), "manual", "")
	require.NoError(t, err)
	return res
}

func (e *serverEnv) issue(t *testing.T, draftID string, action contracts.TokenAction) string {
	t.Helper()
	now := time.Now().UTC()
	raw, _, err := e.tokens.Issue(context.Background(), draftID, action, now, now.Add(time.Hour))
	require.NoError(t, err)
	return raw
}

func TestHealthz(t *testing.T) {
	e := newServerEnv(t)

	resp := e.request(t, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	body := decodeMap(t, resp)
	assert.Equal(t, "ok", body["status"])
}

func TestLoginLogoutFlow(t *testing.T) {
	e := newServerEnv(t)

	resp := e.request(t, http.MethodPost, "/admin/login", map[string]string{
		"username": "admin", "password": "wrong",
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "application/problem+json", resp.Header.Get("Content-Type"))
	problem := decodeMap(t, resp)
	assert.Equal(t, "Unauthorized", problem["title"])
	assert.Equal(t, "invalid credentials", problem["detail"])

	resp = e.request(t, http.MethodPost, "/admin/login", map[string]string{
		"username": e.cfg.AdminUsername, "password": e.cfg.AdminPassword,
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeMap(t, resp)
	session, _ := body["token"].(string)
	require.NotEmpty(t, session)
	assert.Equal(t, float64(12*3600), body["expires_in"])

	resp = e.request(t, http.MethodGet, "/admin/runs", nil, bearer(session))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = e.request(t, http.MethodPost, "/admin/logout", nil, bearer(session))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// The revoked session no longer opens admin endpoints.
	resp = e.request(t, http.MethodGet, "/admin/runs", nil, bearer(session))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	problem = decodeMap(t, resp)
	assert.Equal(t, "session revoked or expired", problem["detail"])
}

func TestAdminEndpointsRequireSession(t *testing.T) {
	e := newServerEnv(t)

	endpoints := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/admin/runs"},
		{http.MethodPost, "/admin/runs"},
		{http.MethodGet, "/admin/drafts/some-id"},
		{http.MethodGet, "/admin/config/dry_run"},
		{http.MethodPut, "/admin/config/dry_run"},
		{http.MethodPost, "/a/resume"},
	}
	for _, ep := range endpoints {
		resp := e.request(t, ep.method, ep.path, nil, nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "%s %s without session", ep.method, ep.path)
		assert.Equal(t, "application/problem+json", resp.Header.Get("Content-Type"))
		resp.Body.Close()

		resp = e.request(t, ep.method, ep.path, nil, bearer("not-a-real-session"))
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "%s %s with garbage token", ep.method, ep.path)
		resp.Body.Close()
	}
}

func TestManualRunEndpoint(t *testing.T) {
	e := newServerEnv(t, groundedNotes())
	session := e.login(t)

	resp := e.request(t, http.MethodPost, "/admin/runs", nil, bearer(session))
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	body := decodeMap(t, resp)
	runID, _ := body["run_id"].(string)
	require.NotEmpty(t, runID)
	assert.Equal(t, "accepted", body["status"])
	assert.Equal(t, 1, e.runner.submitted)

	// The synchronous runner executed the pipeline before the response
	// returned, so the run and its draft are already in the store.
	run, err := e.store.GetRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, contracts.RunCompleted, run.Status)

	draftID := orchestrator.DraftID(runID)
	resp = e.request(t, http.MethodGet, "/admin/drafts/"+draftID, nil, bearer(session))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body = decodeMap(t, resp)
	draft, _ := body["draft"].(map[string]any)
	require.NotNil(t, draft)
	assert.Equal(t, draftID, draft["id"])
	assert.Equal(t, string(contracts.DraftPending), draft["status"])

	resp = e.request(t, http.MethodGet, "/admin/runs", nil, bearer(session))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body = decodeMap(t, resp)
	assert.Equal(t, float64(1), body["count"])

	resp = e.request(t, http.MethodGet, "/admin/drafts/no-such-draft", nil, bearer(session))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestManualRunQueueFull(t *testing.T) {
	e := newServerEnvWith(t, func(opts *Options) {
		opts.Runner = fullRunner{}
	})
	session := e.login(t)

	resp := e.request(t, http.MethodPost, "/admin/runs", nil, bearer(session))
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "application/problem+json", resp.Header.Get("Content-Type"))
	resp.Body.Close()
}

func TestListRunsLimitValidation(t *testing.T) {
	e := newServerEnv(t)
	session := e.login(t)

	resp := e.request(t, http.MethodGet, "/admin/runs?limit=nope", nil, bearer(session))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = e.request(t, http.MethodGet, "/admin/runs?limit=-3", nil, bearer(session))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestViewEndpoint(t *testing.T) {
	e := newServerEnv(t, groundedNotes())
	res := e.startRun(t)
	raw := e.issue(t, res.Draft.ID, contracts.TokenView)

	resp := e.request(t, http.MethodGet, "/a/view?t="+raw, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeMap(t, resp)
	assert.Equal(t, "ok", body["state"])
	draft, _ := body["draft"].(map[string]any)
	require.NotNil(t, draft)
	assert.Equal(t, res.Draft.ID, draft["id"])
	report, _ := body["policy_report"].(map[string]any)
	require.NotNil(t, report)
	assert.Equal(t, string(contracts.ActionPass), report["action"])

	resp = e.request(t, http.MethodGet, "/a/view?t=bogus-token", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	problem := decodeMap(t, resp)
	assert.Equal(t, "not_found", problem["state"])
	assert.NotEmpty(t, problem["trace_id"])
	assert.Equal(t, "/a/view", problem["instance"])

	resp = e.request(t, http.MethodGet, "/a/view", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestEditEndpoint(t *testing.T) {
	e := newServerEnv(t, groundedNotes())
	res := e.startRun(t)
	raw := e.issue(t, res.Draft.ID, contracts.TokenEdit)

	resp := e.request(t, http.MethodPost, "/a/edit", map[string]any{
		"token": raw,
		"texts": []string{srvGroundedPoint},
		"notes": "tightened wording",
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeMap(t, resp)
	assert.Equal(t, "ok", body["state"])

	stored, err := e.store.GetDraft(context.Background(), res.Draft.ID)
	require.NoError(t, err)
	assert.Equal(t, srvGroundedPoint, stored.FinalText)

	// Blank texts never reach the gate.
	resp = e.request(t, http.MethodPost, "/a/edit", map[string]any{
		"token": raw,
		"texts": []string{"   "},
	}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	problem := decodeMap(t, resp)
	assert.Equal(t, "invalid_texts", problem["state"])
}

func TestSkipEndpointAndReplay(t *testing.T) {
	e := newServerEnv(t, groundedNotes())
	res := e.startRun(t)
	raw := e.issue(t, res.Draft.ID, contracts.TokenSkip)

	// Query-string token, like the notification link.
	resp := e.request(t, http.MethodPost, "/a/skip?t="+raw, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeMap(t, resp)
	assert.Equal(t, "skipped", body["state"])

	resp = e.request(t, http.MethodPost, "/a/skip?t="+raw, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body = decodeMap(t, resp)
	assert.Equal(t, "already_skipped", body["state"])
}

func TestApproveDryRunFlow(t *testing.T) {
	e := newServerEnv(t, groundedNotes())
	res := e.startRun(t)
	approveRaw := e.issue(t, res.Draft.ID, contracts.TokenApprove)
	editRaw := e.issue(t, res.Draft.ID, contracts.TokenEdit)

	resp := e.request(t, http.MethodPost, "/a/approve", map[string]string{"token": approveRaw}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeMap(t, resp)
	assert.Equal(t, "dry_run_posted", body["state"])
	ids, _ := body["tweet_ids"].([]any)
	require.NotEmpty(t, ids)
	assert.True(t, strings.HasPrefix(ids[0].(string), "dry_"))

	stored, err := e.store.GetDraft(context.Background(), res.Draft.ID)
	require.NoError(t, err)
	assert.Equal(t, contracts.DraftDryRunPosted, stored.Status)

	entries, err := e.store.ListAudit(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ActionApprove, entries[0].Action)
	assert.Equal(t, "reviewer", entries[0].Actor)

	// The consumed token replays the terminal outcome.
	resp = e.request(t, http.MethodPost, "/a/approve", map[string]string{"token": approveRaw}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body = decodeMap(t, resp)
	assert.Equal(t, "already_processed", body["state"])

	// Terminal drafts reject further edits.
	resp = e.request(t, http.MethodPost, "/a/edit", map[string]any{
		"token": editRaw,
		"texts": []string{"rewrite after the fact"},
	}, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	problem := decodeMap(t, resp)
	assert.Equal(t, "already_processed", problem["state"])
}

func TestApprovePolicyBlocked(t *testing.T) {
	// No evidence sources: the fallback draft fails grounding and approval
	// re-runs the gate before anything is posted.
	e := newServerEnv(t)
	res := e.startRun(t)
	require.Equal(t, contracts.DraftNeedsAttention, res.Draft.Status)
	raw := e.issue(t, res.Draft.ID, contracts.TokenApprove)

	resp := e.request(t, http.MethodPost, "/a/approve", map[string]string{"token": raw}, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "application/problem+json", resp.Header.Get("Content-Type"))
	problem := decodeMap(t, resp)
	assert.Equal(t, "policy_blocked", problem["state"])

	stored, err := e.store.GetDraft(context.Background(), res.Draft.ID)
	require.NoError(t, err)
	assert.Equal(t, contracts.DraftNeedsAttention, stored.Status)
}

func TestResumeEndpoint(t *testing.T) {
	e := newServerEnv(t, groundedNotes())
	session := e.login(t)

	resp := e.request(t, http.MethodPost, "/a/resume", map[string]string{"draft_id": "missing"}, bearer(session))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	problem := decodeMap(t, resp)
	assert.Equal(t, "not_found", problem["state"])

	resp = e.request(t, http.MethodPost, "/a/resume", nil, bearer(session))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	res := e.startRun(t)
	resp = e.request(t, http.MethodPost, "/a/resume", map[string]string{"draft_id": res.Draft.ID}, bearer(session))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	problem = decodeMap(t, resp)
	assert.Equal(t, "not_approved", problem["state"])

	raw := e.issue(t, res.Draft.ID, contracts.TokenApprove)
	resp = e.request(t, http.MethodPost, "/a/approve", map[string]string{"token": raw}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = e.request(t, http.MethodPost, "/a/resume", map[string]string{"draft_id": res.Draft.ID}, bearer(session))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeMap(t, resp)
	assert.Equal(t, "already_processed", body["state"])
}

func TestConfigEndpoints(t *testing.T) {
	e := newServerEnv(t)
	session := e.login(t)

	resp := e.request(t, http.MethodGet, "/admin/config/thread_max_tweets", nil, bearer(session))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	resp = e.request(t, http.MethodPut, "/admin/config/thread_max_tweets", map[string]any{"value": 3}, bearer(session))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeMap(t, resp)
	assert.Equal(t, "thread_max_tweets", body["key"])
	assert.Equal(t, float64(3), body["value"])

	resp = e.request(t, http.MethodGet, "/admin/config/thread_max_tweets", nil, bearer(session))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body = decodeMap(t, resp)
	assert.Equal(t, float64(3), body["value"])
	assert.NotEmpty(t, body["updated_at"])

	resp = e.request(t, http.MethodPut, "/admin/config/not_a_knob", map[string]any{"value": 1}, bearer(session))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = e.request(t, http.MethodPut, "/admin/config/thread_max_tweets", map[string]any{}, bearer(session))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	entries, err := e.store.ListAudit(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ActionConfigSet, entries[0].Action)
	assert.Equal(t, e.cfg.AdminUsername, entries[0].Actor)
	assert.Equal(t, "config/thread_max_tweets", entries[0].Subject)
}

func TestRateLimitAcrossSurface(t *testing.T) {
	e := newServerEnvWith(t, func(opts *Options) {
		opts.Config.RateLimitRPM = 2
		opts.Limits = limiter.NewMemoryStore()
	})

	for i := 0; i < 2; i++ {
		resp := e.request(t, http.MethodGet, "/healthz", nil, nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()
	}
	resp := e.request(t, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "60", resp.Header.Get("Retry-After"))
	resp.Body.Close()
}

func TestApproveIdempotencyKeyReplay(t *testing.T) {
	e := newServerEnv(t, groundedNotes())
	res := e.startRun(t)
	raw := e.issue(t, res.Draft.ID, contracts.TokenApprove)

	hdr := map[string]string{"Idempotency-Key": "approve-once"}
	resp := e.request(t, http.MethodPost, "/a/approve", map[string]string{"token": raw}, hdr)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	first := decodeMap(t, resp)
	assert.Equal(t, "dry_run_posted", first["state"])

	// Same key: the captured response replays byte for byte instead of
	// hitting the coordinator's already-processed path.
	resp = e.request(t, http.MethodPost, "/a/approve", map[string]string{"token": raw}, hdr)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "true", resp.Header.Get("Idempotency-Replayed"))
	second := decodeMap(t, resp)
	assert.Equal(t, first["state"], second["state"])
	assert.Equal(t, first["tweet_ids"], second["tweet_ids"])

	attempt, err := e.store.LatestAttempt(context.Background(), res.Draft.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, attempt.Attempt)
}
