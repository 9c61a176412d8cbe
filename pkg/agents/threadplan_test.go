package agents

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/herald/pkg/contracts"
)

func TestThreadPlannerSingleWhenFewPoints(t *testing.T) {
	st := newTestState()
	st.Topic = contracts.TopicPlan{KeyPoints: []string{"one", "two"}}

	p := &ThreadPlanner{}
	require.NoError(t, p.Execute(context.Background(), st))

	assert.False(t, st.Thread.Enabled)
	assert.Equal(t, 1, st.Thread.TweetsCount)
	assert.Equal(t, "single", st.Thread.Reason)
	assert.Empty(t, st.warnings)
}

func TestThreadPlannerDisabledBySettings(t *testing.T) {
	st := newTestState()
	st.Settings.ThreadEnabled = false
	st.Topic = contracts.TopicPlan{KeyPoints: []string{"a", "b", "c", "d"}}

	p := &ThreadPlanner{}
	require.NoError(t, p.Execute(context.Background(), st))
	assert.False(t, st.Thread.Enabled)
}

func TestThreadPlannerDevlogMarkerForcesThread(t *testing.T) {
	st := newTestState()
	st.Topic = contracts.TopicPlan{KeyPoints: []string{"only point"}}
	st.Materials.Devlog = &contracts.EvidenceItem{
		SourceName: "devlog",
		RawSnippet: "slow day.\nTHREAD: true\n",
	}

	p := &ThreadPlanner{}
	require.NoError(t, p.Execute(context.Background(), st))

	assert.True(t, st.Thread.Enabled)
	assert.Equal(t, 2, st.Thread.TweetsCount, "one key point still floors at two tweets")
}

func TestThreadPlannerTweetCountClamps(t *testing.T) {
	cases := []struct {
		name      string
		points    int
		maxTweets int
		want      int
	}{
		{"three points", 3, 5, 3},
		{"five points", 5, 5, 5},
		{"seven points cap at five", 7, 5, 5},
		{"max tweets below points", 4, 3, 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st := newTestState()
			st.Settings.ThreadMaxTweets = tc.maxTweets
			points := make([]string, tc.points)
			for i := range points {
				points[i] = "point"
			}
			st.Topic = contracts.TopicPlan{KeyPoints: points}

			p := &ThreadPlanner{}
			require.NoError(t, p.Execute(context.Background(), st))
			assert.True(t, st.Thread.Enabled)
			assert.Equal(t, tc.want, st.Thread.TweetsCount)
		})
	}
}

func TestThreadPlannerHeuristicFallback(t *testing.T) {
	st := newTestState()
	st.Topic = contracts.TopicPlan{KeyPoints: []string{"first", "second", "third", "fourth"}}

	p := &ThreadPlanner{}
	require.NoError(t, p.Execute(context.Background(), st))

	assert.Equal(t, "heuristic", st.Thread.Reason)
	assert.Equal(t, []string{"first", "second", "third", "fourth"}, st.Thread.TweetKeyPoints)
	require.Len(t, st.warnings, 1)
	assert.Contains(t, st.warnings[0], "thread_planner: fallback")
}

func TestThreadPlannerModelFillsAssignmentOnly(t *testing.T) {
	st := newTestState()
	st.Settings.ThreadNumberingEnabled = false
	st.Topic = contracts.TopicPlan{KeyPoints: []string{"a", "b", "c"}}

	p := &ThreadPlanner{LLM: &fakeLLM{reply: `{
		"enabled": false,
		"tweets_count": 99,
		"numbering_enabled": true,
		"reason": "model chose a long arc",
		"tweet_key_points": ["a+b", "c"]
	}`}}
	require.NoError(t, p.Execute(context.Background(), st))

	assert.True(t, st.Thread.Enabled, "the deterministic decision wins over the model")
	assert.False(t, st.Thread.NumberingEnabled, "numbering follows settings, not the model")
	assert.Equal(t, 3, st.Thread.TweetsCount, "out-of-range count clamps to the computed one")
	assert.Equal(t, "model chose a long arc", st.Thread.Reason)
	assert.Equal(t, []string{"a+b", "c"}, st.Thread.TweetKeyPoints)
}

func TestThreadPlannerKeepsHeuristicPointsWhenModelOmitsThem(t *testing.T) {
	st := newTestState()
	st.Topic = contracts.TopicPlan{KeyPoints: []string{"a", "b", "c"}}

	p := &ThreadPlanner{LLM: &fakeLLM{reply: `{"enabled": true, "tweets_count": 3}`}}
	require.NoError(t, p.Execute(context.Background(), st))
	assert.Equal(t, []string{"a", "b", "c"}, st.Thread.TweetKeyPoints)
}
