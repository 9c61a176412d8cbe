package agents

import (
	"context"
	"fmt"

	"github.com/Mindburn-Labs/herald/pkg/contracts"
	"github.com/Mindburn-Labs/herald/pkg/llm"
	"github.com/Mindburn-Labs/herald/pkg/prompts"
)

// Curator picks today's topic. On any model failure it degrades to a fixed
// reflection plan, so the pipeline always has something to write about.
type Curator struct {
	LLM  llm.Client
	Pack *prompts.Pack
}

func (c *Curator) Name() string { return "curator" }

// fallbackTopicPlan is the deterministic plan used when curation fails or
// no model is configured.
func fallbackTopicPlan() contracts.TopicPlan {
	return contracts.TopicPlan{
		TopicBucket: 3,
		Angles:      []string{"A small reflection from today"},
		KeyPoints:   []string{"A small, honest reflection is better than a vague claim"},
	}
}

func (c *Curator) Execute(ctx context.Context, st *State) error {
	d := digestMaterials(&st.Materials)
	prompt := fmt.Sprintf(c.Pack.Get("curator", promptCurator),
		jsonList(d.GitSubjects),
		d.Devlog,
		jsonList(d.Notes),
		jsonList(d.Links),
		jsonList(head(st.RecentPosts, maxPromptRecents)),
	)

	raw, err := chatJSON(ctx, c.LLM, prompt)
	if err != nil {
		st.Warn("curator: fallback: " + err.Error())
		st.Topic = fallbackTopicPlan()
		return nil
	}

	var plan contracts.TopicPlan
	if err := llm.DecodeValidated(llm.SchemaTopicPlan, raw, &plan); err != nil {
		st.Warn("curator: fallback: " + err.Error())
		st.Topic = fallbackTopicPlan()
		return nil
	}
	st.Topic = plan
	return nil
}
