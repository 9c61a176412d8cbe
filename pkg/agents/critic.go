package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"github.com/Mindburn-Labs/herald/pkg/contracts"
	"github.com/Mindburn-Labs/herald/pkg/llm"
	"github.com/Mindburn-Labs/herald/pkg/prompts"
)

const tweetHardLimit = 280

// Critic selects and edits one candidate. Thread numbering is applied after
// the model pass so the suffixes are always exact, whatever the model did.
type Critic struct {
	LLM  llm.Client
	Pack *prompts.Pack
}

func (c *Critic) Name() string { return "critic" }

func (c *Critic) Execute(ctx context.Context, st *State) error {
	candidatesJSON, err := json.Marshal(st.Candidates)
	if err != nil {
		return fmt.Errorf("critic: marshal candidates: %w", err)
	}

	prompt := fmt.Sprintf(c.Pack.Get("critic", promptCritic),
		string(candidatesJSON),
		len(st.Materials.GitCommits), len(st.Materials.Notes), len(st.Materials.Links),
		st.Thread.Enabled, st.Thread.NumberingEnabled,
		jsonList(st.Style.ForbiddenPhrases), jsonList(st.Style.VoiceRules),
	)

	edited, ok := c.editViaModel(ctx, st, prompt)
	if !ok {
		edited = c.fallbackEdit(st)
	}

	if edited.Mode == contracts.ModeThread && len(edited.FinalTweets) > 0 && st.Thread.NumberingEnabled {
		edited.FinalTweets = addNumbering(edited.FinalTweets)
		edited.NumberingAdded = true
	}
	st.Edited = edited
	return nil
}

func (c *Critic) editViaModel(ctx context.Context, st *State, prompt string) (contracts.EditedDraft, bool) {
	raw, err := chatJSON(ctx, c.LLM, prompt)
	if err != nil {
		st.Warn("critic: fallback: " + err.Error())
		return contracts.EditedDraft{}, false
	}
	var edited contracts.EditedDraft
	if err := llm.DecodeValidated(llm.SchemaEditedDraft, raw, &edited); err != nil {
		st.Warn("critic: fallback: " + err.Error())
		return contracts.EditedDraft{}, false
	}
	if edited.Mode != st.Candidates.Mode {
		st.Warn(fmt.Sprintf("critic: fallback: mode %q does not match candidates %q", edited.Mode, st.Candidates.Mode))
		return contracts.EditedDraft{}, false
	}
	if edited.SelectedCandidate < 0 || edited.SelectedCandidate >= len(st.Candidates.Candidates) {
		edited.SelectedCandidate = 0
	}
	if edited.Mode == contracts.ModeSingle && strings.TrimSpace(edited.FinalText) == "" {
		st.Warn("critic: fallback: empty final text")
		return contracts.EditedDraft{}, false
	}
	return edited, true
}

// fallbackEdit passes the first candidate through unedited.
func (c *Critic) fallbackEdit(st *State) contracts.EditedDraft {
	edited := contracts.EditedDraft{
		Mode:              st.Candidates.Mode,
		SelectedCandidate: 0,
		EditNotes:         "fallback: first candidate unedited",
	}
	if len(st.Candidates.Candidates) == 0 {
		return edited
	}
	chosen := st.Candidates.Candidates[0]
	edited.Original = chosen
	if st.Candidates.Mode == contracts.ModeThread {
		edited.FinalTweets = append([]string{}, chosen...)
	} else if len(chosen) > 0 {
		edited.FinalText = chosen[0]
	}
	return edited
}

// addNumbering suffixes " (i/n)" to each tweet, truncating the base text
// when the suffix would push past the hard limit.
func addNumbering(tweets []string) []string {
	n := len(tweets)
	out := make([]string, 0, n)
	for i, t := range tweets {
		suffix := fmt.Sprintf(" (%d/%d)", i+1, n)
		text := strings.TrimSpace(t)
		textRunes := []rune(text)
		suffixLen := len([]rune(suffix))
		if len(textRunes)+suffixLen <= tweetHardLimit {
			out = append(out, text+suffix)
			continue
		}
		keep := tweetHardLimit - suffixLen
		if keep < 0 {
			keep = 0
		}
		base := strings.TrimRightFunc(string(textRunes[:keep]), unicode.IsSpace)
		out = append(out, base+suffix)
	}
	return out
}
