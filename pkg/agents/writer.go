package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/Mindburn-Labs/herald/pkg/contracts"
	"github.com/Mindburn-Labs/herald/pkg/llm"
	"github.com/Mindburn-Labs/herald/pkg/prompts"
)

const (
	singleCandidateLimit = 260
	threadTweetLimit     = 270
)

// Writer produces candidate posts in the planned mode. The fallback
// composes directly from the key points so a draft exists even with no
// model; the policy gate still decides whether it may ship.
type Writer struct {
	LLM  llm.Client
	Pack *prompts.Pack
}

func (w *Writer) Name() string { return "writer" }

func (w *Writer) Execute(ctx context.Context, st *State) error {
	d := digestMaterials(&st.Materials)

	forbidden := st.Style.ForbiddenPhrases
	if extra := w.Pack.Wordlist("forbidden_phrases"); len(extra) > 0 {
		forbidden = append(append([]string{}, forbidden...), extra...)
	}

	var prompt string
	if st.Thread.Enabled {
		prompt = fmt.Sprintf(w.Pack.Get("writer_thread", promptWriterThread),
			st.Thread.TweetsCount,
			jsonList(d.GitSubjects), d.Devlog, jsonList(d.Notes), jsonList(d.Links),
			jsonList(st.Thread.TweetKeyPoints),
			jsonList(st.Style.OpenerTemplates), jsonList(forbidden),
			st.Thread.TweetsCount,
		)
	} else {
		prompt = fmt.Sprintf(w.Pack.Get("writer_single", promptWriterSingle),
			jsonList(d.GitSubjects), d.Devlog, jsonList(d.Notes), jsonList(d.Links),
			jsonList(st.Topic.Angles), jsonList(st.Topic.KeyPoints),
			jsonList(st.Style.OpenerTemplates), jsonList(forbidden),
			st.Style.SentenceLength, jsonList(st.Style.VoiceRules),
		)
	}

	raw, err := chatJSON(ctx, w.LLM, prompt)
	if err != nil {
		st.Warn("writer: fallback: " + err.Error())
		st.Candidates = w.fallbackCandidates(st)
		return nil
	}
	var cands contracts.DraftCandidates
	if err := llm.DecodeValidated(llm.SchemaCandidates, raw, &cands); err != nil {
		st.Warn("writer: fallback: " + err.Error())
		st.Candidates = w.fallbackCandidates(st)
		return nil
	}

	wantMode := contracts.ModeSingle
	if st.Thread.Enabled {
		wantMode = contracts.ModeThread
	}
	if cands.Mode != wantMode {
		st.Warn(fmt.Sprintf("writer: fallback: mode %q does not match plan %q", cands.Mode, wantMode))
		st.Candidates = w.fallbackCandidates(st)
		return nil
	}

	st.Candidates = cands
	return nil
}

// fallbackCandidates composes one plain candidate from the topic plan.
func (w *Writer) fallbackCandidates(st *State) contracts.DraftCandidates {
	opener := "Today:"
	if len(st.Style.OpenerTemplates) > 0 && strings.TrimSpace(st.Style.OpenerTemplates[0]) != "" {
		opener = strings.TrimSpace(st.Style.OpenerTemplates[0])
	}

	if !st.Thread.Enabled {
		point := "a quiet day of small fixes."
		if len(st.Topic.KeyPoints) > 0 {
			point = st.Topic.KeyPoints[0]
		}
		text := contracts.Truncate(strings.TrimSpace(opener+" "+point), singleCandidateLimit)
		return contracts.DraftCandidates{
			Mode:       contracts.ModeSingle,
			Candidates: [][]string{{text}},
		}
	}

	points := st.Thread.TweetKeyPoints
	if len(points) == 0 {
		points = head(st.Topic.KeyPoints, st.Thread.TweetsCount)
	}
	tweets := make([]string, 0, len(points))
	for i, point := range points {
		text := point
		if i == 0 {
			text = strings.TrimSpace(opener + " " + point)
		}
		tweets = append(tweets, contracts.Truncate(text, threadTweetLimit))
	}
	if len(tweets) == 0 {
		tweets = []string{contracts.Truncate(opener+" a quiet day of small fixes.", threadTweetLimit)}
	}
	return contracts.DraftCandidates{
		Mode:       contracts.ModeThread,
		Candidates: [][]string{tweets},
	}
}
