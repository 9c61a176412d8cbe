package agents

import (
	"context"

	"github.com/Mindburn-Labs/herald/pkg/policy"
)

// PolicyStage runs the deterministic gate over the edited draft. The
// blocked-term list is resolved once per run so every rewrite iteration
// sees the same terms.
type PolicyStage struct {
	Engine       *policy.Engine
	BlockedTerms []string
}

func (p *PolicyStage) Name() string { return "policy" }

func (p *PolicyStage) Execute(ctx context.Context, st *State) error {
	report := p.Engine.Evaluate(ctx, policy.Input{
		Edited:       st.Edited,
		Materials:    st.Materials,
		RecentPosts:  st.RecentPosts,
		Style:        st.Style,
		Threshold:    st.Settings.SimilarityThreshold,
		BlockedTerms: p.BlockedTerms,
	})
	st.Report = report
	return nil
}
