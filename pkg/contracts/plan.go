package contracts

import "time"

// TopicPlan is the curator's output: what to write about and which evidence
// backs each point.
type TopicPlan struct {
	TopicBucket int                       `json:"topic_bucket"`
	Angles      []string                  `json:"angles"`
	KeyPoints   []string                  `json:"key_points"`
	EvidenceMap map[string][]EvidenceItem `json:"evidence_map,omitempty"`
}

// StyleProfile captures the learned writing voice used to condition the
// writer. A deterministic default exists so generation never blocks on the
// stylist.
type StyleProfile struct {
	VoiceRules       []string  `json:"voice_rules"`
	SentenceLength   string    `json:"sentence_length"`
	JargonLevel      string    `json:"jargon_level"`
	OpenerTemplates  []string  `json:"opener_templates"`
	ForbiddenPhrases []string  `json:"forbidden_phrases"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// ThreadPlan decides between a single post and a thread.
type ThreadPlan struct {
	Enabled          bool                      `json:"enabled"`
	TweetsCount      int                       `json:"tweets_count"`
	NumberingEnabled bool                      `json:"numbering_enabled"`
	Reason           string                    `json:"reason"`
	TweetKeyPoints   []string                  `json:"tweet_key_points"`
	EvidenceMap      map[string][]EvidenceItem `json:"evidence_map,omitempty"`
}

// Draft composition modes.
const (
	ModeSingle = "single"
	ModeThread = "thread"
)

// DraftCandidates is the writer's output: one or more candidate posts, each a
// list of tweet texts (length 1 in single mode).
type DraftCandidates struct {
	Mode       string     `json:"mode"`
	Candidates [][]string `json:"candidates"`
}

// EditedDraft is the critic's output: the selected candidate after editing
// and optional thread numbering.
type EditedDraft struct {
	Mode              string   `json:"mode"`
	SelectedCandidate int      `json:"selected_candidate_index"`
	Original          []string `json:"original"`
	FinalText         string   `json:"final_text"`
	FinalTweets       []string `json:"final_tweets"`
	NumberingAdded    bool     `json:"numbering_added"`
	EditNotes         string   `json:"edit_notes,omitempty"`
}
