package artifacts

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Mindburn-Labs/herald/pkg/contracts"
)

// DraftBundle is the archived snapshot of a finished pipeline run: the draft
// as the reviewer saw it, the canonical policy report that gated it, and the
// per-stage logs. Enough to replay a review decision months later.
type DraftBundle struct {
	ArchivedAt   time.Time            `json:"archived_at"`
	Run          *contracts.Run       `json:"run,omitempty"`
	Draft        *contracts.Draft     `json:"draft"`
	PolicyReport json.RawMessage      `json:"policy_report,omitempty"`
	AgentLogs    []contracts.AgentLog `json:"agent_logs,omitempty"`
}

// Archiver writes bundles into a Store. All methods are best-effort from the
// pipeline's perspective; callers log the returned error and move on.
type Archiver struct {
	store Store
	log   *slog.Logger
	now   func() time.Time
}

// NewArchiver wraps a Store. A nil store disables archiving: every method
// becomes a no-op returning an empty ref.
func NewArchiver(store Store, log *slog.Logger) *Archiver {
	if log == nil {
		log = slog.Default()
	}
	return &Archiver{store: store, log: log, now: time.Now}
}

// SnapshotDraft archives the bundle and returns its ref.
func (a *Archiver) SnapshotDraft(ctx context.Context, bundle DraftBundle) (string, error) {
	if a.store == nil {
		return "", nil
	}
	bundle.ArchivedAt = a.now().UTC()
	data, err := json.Marshal(bundle)
	if err != nil {
		return "", fmt.Errorf("artifacts: marshal draft bundle: %w", err)
	}
	ref, err := a.store.Put(ctx, data)
	if err != nil {
		return "", err
	}
	a.log.Info("draft archived", "draft_id", bundle.Draft.ID, "ref", ref)
	return ref, nil
}

// SnapshotWeekly archives a weekly report export.
func (a *Archiver) SnapshotWeekly(ctx context.Context, report *contracts.WeeklyReport) (string, error) {
	if a.store == nil {
		return "", nil
	}
	data, err := json.Marshal(map[string]any{
		"archived_at": a.now().UTC(),
		"week_start":  report.WeekStart,
		"week_end":    report.WeekEnd,
		"report":      report.Report,
	})
	if err != nil {
		return "", fmt.Errorf("artifacts: marshal weekly export: %w", err)
	}
	ref, err := a.store.Put(ctx, data)
	if err != nil {
		return "", err
	}
	a.log.Info("weekly report archived", "week_start", report.WeekStart.Format("2006-01-02"), "ref", ref)
	return ref, nil
}
