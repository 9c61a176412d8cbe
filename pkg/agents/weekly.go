package agents

import (
	"context"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/herald/pkg/contracts"
	"github.com/Mindburn-Labs/herald/pkg/llm"
	"github.com/Mindburn-Labs/herald/pkg/prompts"
)

// WeekStats are the store-derived counters that go into a digest verbatim;
// the model never invents them.
type WeekStats struct {
	RunsTotal      int
	PostsPublished int
	DraftsSkipped  int
}

// WeeklyAnalyst summarizes a week of posting into buckets, recommendations
// and topic ideas for the next week.
type WeeklyAnalyst struct {
	LLM  llm.Client
	Pack *prompts.Pack
}

func NewWeeklyAnalyst(client llm.Client, pack *prompts.Pack) *WeeklyAnalyst {
	return &WeeklyAnalyst{LLM: client, Pack: pack}
}

func fallbackDigest() contracts.WeeklyDigest {
	return contracts.WeeklyDigest{
		Buckets:         []string{"Engineering"},
		Recommendations: []string{"Ship smaller updates more consistently."},
		Topics:          []string{"A trade-off I made", "A debugging lesson", "A small refactor"},
	}
}

// Digest builds the weekly digest. The window and counters always come from
// the caller; only the qualitative fields are model-generated.
func (a *WeeklyAnalyst) Digest(ctx context.Context, weekStart, weekEnd time.Time, posts []string, stats WeekStats) contracts.WeeklyDigest {
	prompt := fmt.Sprintf(a.Pack.Get("weekly", promptWeekly),
		weekStart.UTC().Format(time.RFC3339),
		weekEnd.UTC().Format(time.RFC3339),
		jsonList(head(posts, maxPromptPosts)),
	)

	digest := fallbackDigest()
	if raw, err := chatJSON(ctx, a.LLM, prompt); err == nil {
		var decoded contracts.WeeklyDigest
		if err := llm.DecodeValidated(llm.SchemaWeeklyDigest, raw, &decoded); err == nil {
			if len(decoded.Buckets) > 0 || len(decoded.Recommendations) > 0 || len(decoded.Topics) > 0 {
				digest = decoded
			}
		}
	}

	digest.WeekStart = weekStart.UTC().Format(time.RFC3339)
	digest.WeekEnd = weekEnd.UTC().Format(time.RFC3339)
	digest.RunsTotal = stats.RunsTotal
	digest.PostsPublished = stats.PostsPublished
	digest.DraftsSkipped = stats.DraftsSkipped
	return digest
}
