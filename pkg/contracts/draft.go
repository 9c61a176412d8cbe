package contracts

import "time"

// DraftStatus tracks a draft from creation to its terminal state.
type DraftStatus string

const (
	DraftPending        DraftStatus = "pending"
	DraftNeedsAttention DraftStatus = "needs_human_attention"
	DraftPublishing     DraftStatus = "publishing"
	DraftPosted         DraftStatus = "posted"
	DraftDryRunPosted   DraftStatus = "dry_run_posted"
	DraftSkipped        DraftStatus = "skipped"
	DraftError          DraftStatus = "error"
)

// Terminal reports whether the status ends the review flow.
func (s DraftStatus) Terminal() bool {
	switch s {
	case DraftPosted, DraftDryRunPosted, DraftSkipped:
		return true
	}
	return false
}

// Snapshots carries the frozen pipeline state a draft was created from, so
// edit and regenerate can re-run downstream stages without the original run.
type Snapshots struct {
	Materials    *Materials       `json:"materials,omitempty"`
	TopicPlan    *TopicPlan       `json:"topic_plan,omitempty"`
	StyleProfile *StyleProfile    `json:"style_profile,omitempty"`
	ThreadPlan   *ThreadPlan      `json:"thread_plan,omitempty"`
	Candidates   *DraftCandidates `json:"candidates,omitempty"`
	EditedDraft  *EditedDraft     `json:"edited_draft,omitempty"`
	PolicyReport *PolicyReport    `json:"policy_report,omitempty"`
}

// Draft is the reviewable unit parked between a run and publication.
//
// Token is an opaque URL identifier kept for link compatibility; it is not a
// credential. Authorization happens through hashed action tokens.
type Draft struct {
	ID                     string      `json:"id"`
	Token                  string      `json:"token"`
	RunID                  string      `json:"run_id"`
	CreatedAt              time.Time   `json:"created_at"`
	ExpiresAt              time.Time   `json:"expires_at"`
	Status                 DraftStatus `json:"status"`
	TokenConsumed          bool        `json:"token_consumed"`
	ConsumedAt             *time.Time  `json:"consumed_at,omitempty"`
	ThreadEnabled          bool        `json:"thread_enabled"`
	Tweets                 []string    `json:"tweets,omitempty"`
	FinalText              string      `json:"final_text"`
	Snapshots              Snapshots   `json:"snapshots"`
	PublishedTweetIDs      []string    `json:"published_tweet_ids,omitempty"`
	ApprovalIdempotencyKey string      `json:"approval_idempotency_key,omitempty"`
	LastError              string      `json:"last_error,omitempty"`
}

// TweetTexts returns the texts to publish in order: the thread tweets when
// threading is on, otherwise the single final text.
func (d *Draft) TweetTexts() []string {
	if d.ThreadEnabled && len(d.Tweets) > 0 {
		return d.Tweets
	}
	return []string{d.FinalText}
}

// Expired reports whether the draft's review window has closed.
func (d *Draft) Expired(now time.Time) bool {
	return now.After(d.ExpiresAt)
}
