package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/Mindburn-Labs/herald/pkg/contracts"
	"github.com/Mindburn-Labs/herald/pkg/llm"
	"github.com/Mindburn-Labs/herald/pkg/prompts"
)

// threadForceMarker in the devlog forces a thread regardless of key-point
// count. Reviewers write it on days they want the long form.
const threadForceMarker = "THREAD: true"

// ThreadPlanner decides single vs thread. The decision itself is
// deterministic; only the assignment of key points to tweets consults the
// model, with a heuristic chunking fallback.
type ThreadPlanner struct {
	LLM  llm.Client
	Pack *prompts.Pack
}

func (p *ThreadPlanner) Name() string { return "thread_planner" }

func (p *ThreadPlanner) Execute(ctx context.Context, st *State) error {
	enabled := st.Settings.ThreadEnabled
	maxTweets := st.Settings.ThreadMaxTweets
	numbering := st.Settings.ThreadNumberingEnabled

	devlog := ""
	if st.Materials.Devlog != nil {
		devlog = st.Materials.Devlog.RawSnippet
	}
	userForce := strings.Contains(devlog, threadForceMarker)

	if !enabled || (!userForce && len(st.Topic.KeyPoints) < 3) {
		st.Thread = contracts.ThreadPlan{
			Enabled:          false,
			TweetsCount:      1,
			NumberingEnabled: numbering,
			Reason:           "single",
		}
		return nil
	}

	tweetsCount := min(maxTweets, max(2, min(5, len(st.Topic.KeyPoints))))

	prompt := fmt.Sprintf(p.Pack.Get("thread_plan", promptThreadPlan),
		tweetsCount,
		jsonList(st.Topic.Angles),
		jsonList(st.Topic.KeyPoints),
		jsonList(st.Style.OpenerTemplates),
		jsonList(st.Style.ForbiddenPhrases),
		tweetsCount,
		numbering,
	)

	plan := p.heuristicPlan(st, tweetsCount, numbering)
	raw, err := chatJSON(ctx, p.LLM, prompt)
	if err != nil {
		st.Warn("thread_planner: fallback: " + err.Error())
		st.Thread = plan
		return nil
	}
	var decoded contracts.ThreadPlan
	if err := llm.DecodeValidated(llm.SchemaThreadPlan, raw, &decoded); err != nil {
		st.Warn("thread_planner: fallback: " + err.Error())
		st.Thread = plan
		return nil
	}

	// The model only fills reason and point assignment; the decision and
	// knobs stay deterministic.
	decoded.Enabled = true
	decoded.NumberingEnabled = numbering
	if decoded.TweetsCount < 2 || decoded.TweetsCount > tweetsCount {
		decoded.TweetsCount = tweetsCount
	}
	if len(decoded.TweetKeyPoints) == 0 {
		decoded.TweetKeyPoints = plan.TweetKeyPoints
	}
	st.Thread = decoded
	return nil
}

func (p *ThreadPlanner) heuristicPlan(st *State, tweetsCount int, numbering bool) contracts.ThreadPlan {
	points := head(st.Topic.KeyPoints, tweetsCount)
	return contracts.ThreadPlan{
		Enabled:          true,
		TweetsCount:      tweetsCount,
		NumberingEnabled: numbering,
		Reason:           "heuristic",
		TweetKeyPoints:   points,
	}
}
