package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/herald/pkg/audit"
	"github.com/Mindburn-Labs/herald/pkg/auth"
	"github.com/Mindburn-Labs/herald/pkg/config"
	"github.com/Mindburn-Labs/herald/pkg/scheduler"
	"github.com/Mindburn-Labs/herald/pkg/store"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in"` // seconds
}

// handleLogin serves POST /admin/login. Failed attempts are audited with the
// claimed username so brute forcing is visible in the trail.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteBadRequest(w, "invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		WriteBadRequest(w, "username and password are required")
		return
	}
	ctx := r.Context()
	token, err := s.auth.Login(ctx, req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			s.audit.RecordAs(ctx, req.Username, audit.ActionLoginFailed, "session", nil)
			WriteUnauthorized(w, "invalid credentials")
			return
		}
		WriteInternal(w, err)
		return
	}
	s.audit.RecordAs(ctx, req.Username, audit.ActionLogin, "session", nil)
	writeJSON(w, http.StatusOK, loginResponse{
		Token:     token,
		ExpiresIn: s.cfg.SessionTTLHours * 3600,
	})
}

// handleLogout serves POST /admin/logout: revoke the presented session.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	tokenStr := bearerToken(r)
	if tokenStr == "" {
		WriteUnauthorized(w, "")
		return
	}
	ctx := r.Context()
	p, err := s.auth.Verify(ctx, tokenStr)
	if err != nil {
		WriteUnauthorized(w, "session invalid or revoked")
		return
	}
	if err := s.auth.Logout(ctx, tokenStr); err != nil {
		WriteInternal(w, err)
		return
	}
	s.audit.RecordAs(ctx, p.Username, audit.ActionLogout, "session", nil)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleListRuns serves GET /admin/runs, newest first.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			WriteBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = min(n, 200)
	}
	runs, err := s.store.ListRuns(r.Context(), limit)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs, "count": len(runs)})
}

// handleStartRun serves POST /admin/runs: kick a manual pipeline run. The
// run executes on the worker pool; the response carries the run id to poll.
func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	runID := uuid.New().String()
	ok := s.runner.Submit(scheduler.Job{
		Name: "manual_run",
		Fn: func(ctx context.Context) error {
			_, err := s.orch.StartRun(ctx, "manual", runID)
			return err
		},
	})
	if !ok {
		WriteError(w, http.StatusServiceUnavailable, "Service Unavailable",
			"run queue is full; try again shortly")
		return
	}
	s.log.Info("manual run accepted", "run_id", runID, "admin", auth.Actor(r.Context()))
	writeJSON(w, http.StatusAccepted, map[string]string{
		"run_id": runID,
		"status": "accepted",
	})
}

// handleGetDraft serves GET /admin/drafts/{id}: the full draft row including
// pipeline snapshots.
func (s *Server) handleGetDraft(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	draft, err := s.store.GetDraft(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			WriteNotFound(w, "no such draft")
			return
		}
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"draft": draft})
}

type configValueRequest struct {
	Value json.RawMessage `json:"value"`
}

// configPayload mirrors the stored app_config shape.
type configPayload struct {
	Value     json.RawMessage `json:"value"`
	UpdatedAt string          `json:"updated_at"`
}

// handleGetConfig serves GET /admin/config/{key}.
func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if !config.KnownKey(key) {
		WriteBadRequest(w, "unknown config key")
		return
	}
	raw, ok, err := s.store.GetConfigValue(r.Context(), key)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	if !ok {
		WriteNotFound(w, "config key is not set; the environment default applies")
		return
	}
	var p configPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"key":        key,
		"value":      p.Value,
		"updated_at": p.UpdatedAt,
	})
}

// handleSetConfig serves PUT /admin/config/{key}: upsert a runtime override.
// Changes apply to the next settings read; no restart involved.
func (s *Server) handleSetConfig(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if !config.KnownKey(key) {
		WriteBadRequest(w, "unknown config key")
		return
	}
	var req configValueRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteBadRequest(w, "invalid request body")
		return
	}
	if len(req.Value) == 0 {
		WriteBadRequest(w, `body must be {"value": <json>}`)
		return
	}
	ctx := r.Context()
	if err := s.store.SetConfigValue(ctx, key, req.Value, s.now().UTC()); err != nil {
		WriteInternal(w, err)
		return
	}
	s.audit.Record(ctx, audit.ActionConfigSet, "config/"+key, map[string]any{
		"value": json.RawMessage(req.Value),
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"key":   key,
		"value": req.Value,
	})
}
