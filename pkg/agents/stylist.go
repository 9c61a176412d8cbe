package agents

import (
	"context"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/herald/pkg/contracts"
	"github.com/Mindburn-Labs/herald/pkg/llm"
	"github.com/Mindburn-Labs/herald/pkg/prompts"
)

// Stylist learns the writer's voice from accepted posts. It runs outside
// the daily pipeline (weekly refresh or on demand), so it is not a Stage.
type Stylist struct {
	LLM  llm.Client
	Pack *prompts.Pack

	now func() time.Time
}

func NewStylist(client llm.Client, pack *prompts.Pack) *Stylist {
	return &Stylist{LLM: client, Pack: pack, now: time.Now}
}

// DefaultStyleProfile is the profile used before any refresh has run and
// whenever learning fails.
func DefaultStyleProfile(now time.Time) contracts.StyleProfile {
	return contracts.StyleProfile{
		VoiceRules: []string{
			"No marketing",
			"Prefer concrete trade-offs",
			"Avoid exaggeration",
			"Prefer 1-2 short lines",
		},
		SentenceLength:   "short",
		JargonLevel:      "plain",
		OpenerTemplates:  []string{"Today:", "One thing I learned:", "Quick note:"},
		ForbiddenPhrases: []string{"game changer", "revolutionary"},
		UpdatedAt:        now.UTC(),
	}
}

// Learn builds a fresh profile from recent posts and a devlog excerpt.
func (s *Stylist) Learn(ctx context.Context, posts []string, devlogExcerpt string) contracts.StyleProfile {
	prompt := fmt.Sprintf(s.Pack.Get("stylist", promptStylist),
		jsonList(head(posts, maxPromptRecents)),
		contracts.Truncate(devlogExcerpt, maxPromptDevlog),
	)

	raw, err := chatJSON(ctx, s.LLM, prompt)
	if err != nil {
		return DefaultStyleProfile(s.now())
	}
	var profile contracts.StyleProfile
	if err := llm.DecodeValidated(llm.SchemaStyleProfile, raw, &profile); err != nil {
		return DefaultStyleProfile(s.now())
	}
	profile.UpdatedAt = s.now().UTC()
	if profile.SentenceLength == "" {
		profile.SentenceLength = "short"
	}
	return profile
}
