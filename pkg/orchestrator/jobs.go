package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/herald/pkg/agents"
	"github.com/Mindburn-Labs/herald/pkg/audit"
	"github.com/Mindburn-Labs/herald/pkg/contracts"
)

// LastWeek returns the most recent complete seven-day window ending at
// midnight UTC of the current day: [now-7d, now) truncated to days.
func LastWeek(now time.Time) (time.Time, time.Time) {
	end := now.UTC().Truncate(24 * time.Hour)
	return end.AddDate(0, 0, -7), end
}

// RefreshStyleProfile learns a new style profile from recently published
// posts plus the freshest devlog entry, and appends it to the profile
// history. The previous profile stays untouched; runs always read the
// latest row.
func (o *Orchestrator) RefreshStyleProfile(ctx context.Context) (*contracts.StyleProfileRecord, error) {
	settings := o.cfg.Settings(ctx, o.overrides)
	posts, err := o.recentPosts(ctx, settings)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: load recent posts: %w", err)
	}

	profile := o.stylist.Learn(ctx, posts, o.devlogExcerpt(ctx))
	rec := &contracts.StyleProfileRecord{Profile: profile, CreatedAt: o.now().UTC()}
	if err := o.store.InsertStyleProfile(ctx, rec); err != nil {
		return nil, fmt.Errorf("orchestrator: persist style profile: %w", err)
	}
	if o.audit != nil {
		o.audit.Record(ctx, audit.ActionStyleRefresh, fmt.Sprintf("style_profile/%d", rec.ID),
			map[string]any{"posts_sampled": len(posts)})
	}
	o.log.Info("style profile refreshed", "profile_id", rec.ID, "posts_sampled", len(posts))
	return rec, nil
}

// GenerateWeeklyReport digests the posts published inside [weekStart,
// weekEnd) into a weekly report. Regenerating the same week replaces the
// stored report.
func (o *Orchestrator) GenerateWeeklyReport(ctx context.Context, weekStart, weekEnd time.Time) (*contracts.WeeklyReport, error) {
	weekStart, weekEnd = weekStart.UTC(), weekEnd.UTC()

	posts, err := o.store.PostContentsBetween(ctx, weekStart, weekEnd)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: weekly posts: %w", err)
	}
	runs, err := o.store.CountRunsBetween(ctx, weekStart, weekEnd)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: weekly runs: %w", err)
	}
	published, err := o.store.CountPostsBetween(ctx, weekStart, weekEnd)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: weekly post count: %w", err)
	}
	drafts, err := o.store.ListDraftsBetween(ctx, weekStart, weekEnd)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: weekly drafts: %w", err)
	}
	skipped := 0
	for i := range drafts {
		if drafts[i].Status == contracts.DraftSkipped {
			skipped++
		}
	}

	digest := o.weekly.Digest(ctx, weekStart, weekEnd, posts, agents.WeekStats{
		RunsTotal:      runs,
		PostsPublished: published,
		DraftsSkipped:  skipped,
	})
	raw, err := json.Marshal(digest)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: encode digest: %w", err)
	}

	report := &contracts.WeeklyReport{
		WeekStart: weekStart,
		WeekEnd:   weekEnd,
		Report:    raw,
		CreatedAt: o.now().UTC(),
	}
	if err := o.store.UpsertWeeklyReport(ctx, report); err != nil {
		return nil, fmt.Errorf("orchestrator: persist weekly report: %w", err)
	}
	if o.archiver != nil {
		if _, aerr := o.archiver.SnapshotWeekly(ctx, report); aerr != nil {
			o.log.Warn("weekly report not archived", "error", aerr)
		}
	}
	if o.audit != nil {
		o.audit.Record(ctx, audit.ActionWeeklyReport,
			fmt.Sprintf("week/%s", weekStart.Format("2006-01-02")),
			map[string]any{"runs": runs, "posts": published, "skipped": skipped})
	}
	o.log.Info("weekly report generated",
		"week_start", weekStart.Format("2006-01-02"), "posts", published, "runs", runs)
	return report, nil
}

// devlogExcerpt pulls the newest devlog snippet for the stylist. Absence or
// fetch failure just means learning proceeds without it.
func (o *Orchestrator) devlogExcerpt(ctx context.Context) string {
	for _, src := range o.sources {
		if src.Name() != "devlog" {
			continue
		}
		items, err := src.Fetch(ctx)
		if err != nil || len(items) == 0 {
			return ""
		}
		return items[0].RawSnippet
	}
	return ""
}
