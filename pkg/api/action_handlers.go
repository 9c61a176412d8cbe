package api

import (
	"net/http"

	"github.com/Mindburn-Labs/herald/pkg/audit"
	"github.com/Mindburn-Labs/herald/pkg/contracts"
	"github.com/Mindburn-Labs/herald/pkg/orchestrator"
	"github.com/Mindburn-Labs/herald/pkg/publish"
)

// actionResponse is the JSON body of a successful reviewer action. Non-2xx
// verdicts go out as problem documents instead, with the same state string.
type actionResponse struct {
	State    string                  `json:"state"`
	Message  string                  `json:"message,omitempty"`
	TweetIDs []string                `json:"tweet_ids,omitempty"`
	Draft    *contracts.Draft        `json:"draft,omitempty"`
	Report   *contracts.PolicyReport `json:"policy_report,omitempty"`
}

// tokenRequest is the body for action POSTs whose link token is not in the
// query string.
type tokenRequest struct {
	Token string `json:"token"`
}

// editRequest is the body for POST /a/edit.
type editRequest struct {
	Token string   `json:"token,omitempty"`
	Texts []string `json:"texts"`
	Notes string   `json:"notes,omitempty"`
}

// resumeRequest is the body for POST /a/resume.
type resumeRequest struct {
	DraftID string `json:"draft_id"`
}

// queryToken reads the link token from the query string. Notification links
// use t=; token= is accepted for hand-built requests.
func queryToken(r *http.Request) string {
	q := r.URL.Query()
	if t := q.Get("t"); t != "" {
		return t
	}
	return q.Get("token")
}

// actionToken resolves the link token from query or body. A false return
// means the response has already been written.
func (s *Server) actionToken(w http.ResponseWriter, r *http.Request) (string, bool) {
	if raw := queryToken(r); raw != "" {
		return raw, true
	}
	if r.Method == http.MethodGet {
		WriteBadRequest(w, "missing token")
		return "", false
	}
	var req tokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteBadRequest(w, "invalid request body")
		return "", false
	}
	if req.Token == "" {
		WriteBadRequest(w, "missing token")
		return "", false
	}
	return req.Token, true
}

// writeActionResult renders an orchestrator verdict.
func writeActionResult(w http.ResponseWriter, r *http.Request, res orchestrator.ActionResult) {
	if res.Code >= 400 {
		WriteErrorR(w, r, res.Code, res.State, res.Message)
		return
	}
	writeJSON(w, res.Code, actionResponse{
		State:   res.State,
		Message: res.Message,
		Draft:   res.Draft,
		Report:  res.Report,
	})
}

// writeOutcome renders a publication verdict.
func writeOutcome(w http.ResponseWriter, r *http.Request, out publish.Outcome) {
	if out.Code >= 400 {
		WriteErrorR(w, r, out.Code, out.State, out.Message)
		return
	}
	writeJSON(w, out.Code, actionResponse{
		State:    out.State,
		Message:  out.Message,
		TweetIDs: out.TweetIDs,
		Draft:    out.Draft,
		Report:   out.Report,
	})
}

// handleView serves GET /a/view: the draft plus its latest policy report,
// readable even after the review window closed.
func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	raw, ok := s.actionToken(w, r)
	if !ok {
		return
	}
	writeActionResult(w, r, s.orch.View(r.Context(), raw))
}

// handleApprove serves POST /a/approve: the one-time token that publishes
// the draft. The audit row lands only when this call actually posted.
func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	raw, ok := s.actionToken(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	settings := s.cfg.Settings(ctx, s.overrides)
	out := s.publisher.Approve(ctx, raw, settings.DryRun)
	if out.Code == http.StatusOK &&
		(out.State == publish.StatePosted || out.State == publish.StateDryRunPosted) {
		s.audit.RecordAs(ctx, "reviewer", audit.ActionApprove, out.Draft.ID, map[string]any{
			"state":  out.State,
			"tweets": len(out.TweetIDs),
		})
	}
	writeOutcome(w, r, out)
}

// handleSkip serves POST /a/skip.
func (s *Server) handleSkip(w http.ResponseWriter, r *http.Request) {
	raw, ok := s.actionToken(w, r)
	if !ok {
		return
	}
	writeActionResult(w, r, s.orch.Skip(r.Context(), raw))
}

// handleEdit serves POST /a/edit: replace the draft text and re-run the
// policy gate.
func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request) {
	var req editRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteBadRequest(w, "invalid request body")
		return
	}
	raw := queryToken(r)
	if raw == "" {
		raw = req.Token
	}
	if raw == "" {
		WriteBadRequest(w, "missing token")
		return
	}
	writeActionResult(w, r, s.orch.Edit(r.Context(), raw, req.Texts, req.Notes))
}

// handleRegenerate serves POST /a/regenerate: a fresh writer pass over the
// run's archived materials.
func (s *Server) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	raw, ok := s.actionToken(w, r)
	if !ok {
		return
	}
	writeActionResult(w, r, s.orch.Regenerate(r.Context(), raw))
}

// handleResume serves POST /a/resume: retry a failed or orphaned publish
// attempt. Admin-only; the approve token was consumed by the first attempt.
func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	var req resumeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteBadRequest(w, "invalid request body")
		return
	}
	if req.DraftID == "" {
		WriteBadRequest(w, "missing draft_id")
		return
	}
	ctx := r.Context()
	settings := s.cfg.Settings(ctx, s.overrides)
	out := s.publisher.Resume(ctx, req.DraftID, settings.DryRun)
	if out.Code == http.StatusOK &&
		(out.State == publish.StatePosted || out.State == publish.StateDryRunPosted) {
		s.audit.Record(ctx, audit.ActionResume, req.DraftID, map[string]any{
			"state":  out.State,
			"tweets": len(out.TweetIDs),
		})
	}
	writeOutcome(w, r, out)
}
