// Package audit records who did what to which draft. Every reviewer action,
// admin mutation, and scheduler kickoff lands in the audit_logs table and is
// echoed to the structured log, so an incident can be reconstructed from
// either.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/Mindburn-Labs/herald/pkg/auth"
	"github.com/Mindburn-Labs/herald/pkg/store"
)

// Audited actions. Kept as constants so queries over the trail do not chase
// free-form strings.
const (
	ActionLogin        = "login"
	ActionLoginFailed  = "login_failed"
	ActionLogout       = "logout"
	ActionApprove      = "approve"
	ActionSkip         = "skip"
	ActionEdit         = "edit"
	ActionRegenerate   = "regenerate"
	ActionResume       = "resume"
	ActionRunStarted   = "run_started"
	ActionConfigSet    = "config_set"
	ActionStyleRefresh = "style_refresh"
	ActionWeeklyReport = "weekly_report"
)

// Sink is where audit rows go.
type Sink interface {
	InsertAudit(ctx context.Context, e *store.AuditEntry) error
}

// Recorder writes audit entries. The zero value is unusable; use New.
type Recorder struct {
	sink Sink
	log  *slog.Logger
	now  func() time.Time
}

// New builds a Recorder. A nil logger falls back to slog.Default.
func New(sink Sink, log *slog.Logger) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	return &Recorder{sink: sink, log: log, now: time.Now}
}

// Record appends one entry. The actor comes from the request context when an
// admin session is present and is "system" otherwise. detail, when non-nil,
// is stored as JSON. Audit failures are logged and swallowed: the trail must
// never abort the action it describes.
func (r *Recorder) Record(ctx context.Context, action, subject string, detail any) {
	r.RecordAs(ctx, auth.Actor(ctx), action, subject, detail)
}

// RecordAs is Record with an explicit actor, for paths where the actor is
// known out of band (token-authenticated reviewers, named jobs).
func (r *Recorder) RecordAs(ctx context.Context, actor, action, subject string, detail any) {
	entry := &store.AuditEntry{
		TS:      r.now().UTC(),
		Actor:   actor,
		Action:  action,
		Subject: subject,
	}
	if detail != nil {
		raw, err := json.Marshal(detail)
		if err != nil {
			r.log.Warn("audit detail not serializable", "action", action, "error", err)
		} else {
			entry.Detail = raw
		}
	}
	if err := r.sink.InsertAudit(ctx, entry); err != nil {
		r.log.Error("audit write failed", "action", action, "subject", subject, "error", err)
	}
	r.log.Info("audit", "actor", entry.Actor, "action", action, "subject", subject)
}
