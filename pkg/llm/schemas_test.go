package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/herald/pkg/contracts"
)

func TestDecodeTopicPlan(t *testing.T) {
	raw := `{
		"topic_bucket": 1,
		"angles": ["the migration", "what broke"],
		"key_points": ["moved the queue to sqlite", "latency dropped"],
		"evidence_map": {"moved the queue to sqlite": [{"source_name": "git", "source_id": "abc123", "raw_snippet": "queue: move to sqlite"}]}
	}`

	var plan contracts.TopicPlan
	require.NoError(t, DecodeValidated(SchemaTopicPlan, raw, &plan))
	assert.Equal(t, 1, plan.TopicBucket)
	assert.Len(t, plan.KeyPoints, 2)
	assert.Equal(t, "git", plan.EvidenceMap["moved the queue to sqlite"][0].SourceName)
}

func TestDecodeTopicPlanRejectsMissingFields(t *testing.T) {
	var plan contracts.TopicPlan
	err := DecodeValidated(SchemaTopicPlan, `{"topic_bucket": 1, "angles": ["a"]}`, &plan)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "output schema")

	// Empty angles violate minItems.
	err = DecodeValidated(SchemaTopicPlan, `{"topic_bucket": 1, "angles": [], "key_points": ["k"]}`, &plan)
	require.Error(t, err)
}

func TestDecodeCandidates(t *testing.T) {
	raw := `{"mode": "thread", "candidates": [["first tweet", "second tweet"], ["other take"]]}`

	var c contracts.DraftCandidates
	require.NoError(t, DecodeValidated(SchemaCandidates, raw, &c))
	assert.Equal(t, contracts.ModeThread, c.Mode)
	require.Len(t, c.Candidates, 2)
	assert.Equal(t, []string{"first tweet", "second tweet"}, c.Candidates[0])
}

func TestDecodeCandidatesRejectsBadMode(t *testing.T) {
	var c contracts.DraftCandidates
	err := DecodeValidated(SchemaCandidates, `{"mode": "broadcast", "candidates": [["x"]]}`, &c)
	require.Error(t, err)

	err = DecodeValidated(SchemaCandidates, `{"mode": "single", "candidates": []}`, &c)
	require.Error(t, err)
}

func TestDecodeEditedDraftModeConditionals(t *testing.T) {
	var e contracts.EditedDraft

	single := `{"mode": "single", "selected_candidate_index": 0, "final_text": "shipped the thing"}`
	require.NoError(t, DecodeValidated(SchemaEditedDraft, single, &e))
	assert.Equal(t, "shipped the thing", e.FinalText)

	// single without final_text fails the conditional requirement
	err := DecodeValidated(SchemaEditedDraft, `{"mode": "single", "selected_candidate_index": 0}`, &e)
	require.Error(t, err)

	thread := `{"mode": "thread", "selected_candidate_index": 1, "final_tweets": ["one", "two"], "numbering_added": true}`
	require.NoError(t, DecodeValidated(SchemaEditedDraft, thread, &e))
	assert.Equal(t, 1, e.SelectedCandidate)
	assert.True(t, e.NumberingAdded)

	err = DecodeValidated(SchemaEditedDraft, `{"mode": "thread", "selected_candidate_index": 0, "final_tweets": []}`, &e)
	require.Error(t, err)
}

func TestDecodeStyleProfile(t *testing.T) {
	raw := `{
		"voice_rules": ["No marketing", "Prefer concrete trade-offs"],
		"sentence_length": "short",
		"jargon_level": "plain",
		"opener_templates": ["Today:"],
		"forbidden_phrases": ["game changer"]
	}`

	var p contracts.StyleProfile
	require.NoError(t, DecodeValidated(SchemaStyleProfile, raw, &p))
	assert.Equal(t, "short", p.SentenceLength)

	err := DecodeValidated(SchemaStyleProfile, `{"sentence_length": "rambling"}`, &p)
	require.Error(t, err)
}

func TestDecodeClaims(t *testing.T) {
	var out struct {
		Claims []string `json:"claims"`
	}
	require.NoError(t, DecodeValidated(SchemaClaims, `{"claims": ["the cache is now bounded"]}`, &out))
	assert.Len(t, out.Claims, 1)

	require.Error(t, DecodeValidated(SchemaClaims, `{"claims": "not a list"}`, &out))
	require.Error(t, DecodeValidated(SchemaClaims, `{}`, &out))
}

func TestDecodeWeeklyDigest(t *testing.T) {
	raw := `{"buckets": ["Engineering"], "recommendations": ["Ship smaller"], "topics": ["A trade-off"]}`

	var d contracts.WeeklyDigest
	require.NoError(t, DecodeValidated(SchemaWeeklyDigest, raw, &d))
	assert.Equal(t, []string{"Engineering"}, d.Buckets)
}

func TestDecodeValidatedRejectsNonJSON(t *testing.T) {
	var d contracts.WeeklyDigest
	err := DecodeValidated(SchemaWeeklyDigest, "Sorry, I can't produce JSON right now.", &d)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse output")
}

func TestDecodeThreadPlan(t *testing.T) {
	raw := `{"enabled": true, "tweets_count": 3, "numbering_enabled": true, "reason": "three distinct points", "tweet_key_points": ["a", "b", "c"]}`

	var p contracts.ThreadPlan
	require.NoError(t, DecodeValidated(SchemaThreadPlan, raw, &p))
	assert.Equal(t, 3, p.TweetsCount)

	err := DecodeValidated(SchemaThreadPlan, `{"enabled": true, "tweets_count": 0}`, &p)
	require.Error(t, err)
}
