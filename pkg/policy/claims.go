package policy

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/Mindburn-Labs/herald/pkg/contracts"
)

var sentenceRe = regexp.MustCompile(`[\n.!?]`)

// opinionMarkers exclude a sentence from claim extraction; opinions are not
// fact-checked.
var opinionMarkers = []string{"i think", "i feel", "my take", "opinion", "i learned", "lesson"}

// extractClaims prefers the configured LLM extractor and silently falls back
// to the deterministic splitter when it errs or returns nothing.
func (e *Engine) extractClaims(ctx context.Context, tweets []string) []string {
	if e.claims != nil {
		if claims, err := e.claims(ctx, tweets); err == nil {
			cleaned := make([]string, 0, len(claims))
			for _, c := range claims {
				if s := strings.TrimSpace(c); s != "" {
					cleaned = append(cleaned, s)
				}
			}
			if len(cleaned) > 0 {
				return head(cleaned, maxClaims)
			}
		}
	}
	return ExtractClaims(tweets)
}

// ExtractClaims splits tweets into sentences and keeps the ones that look
// falsifiable: not an opinion, at least four word tokens.
func ExtractClaims(tweets []string) []string {
	var claims []string
	for _, t := range tweets {
		for _, part := range sentenceRe.Split(t, -1) {
			s := strings.TrimSpace(part)
			if s == "" || looksLikeOpinion(s) || len(tokenize(s)) < 4 {
				continue
			}
			claims = append(claims, s)
		}
	}
	return head(claims, maxClaims)
}

func looksLikeOpinion(sentence string) bool {
	low := strings.ToLower(sentence)
	for _, m := range opinionMarkers {
		if strings.Contains(low, m) {
			return true
		}
	}
	return false
}

// mapEvidence scores every evidence snippet against every claim and keeps
// the top two at or above the floor. Claims with no qualifying evidence are
// unsupported.
func mapEvidence(claims []string, materials contracts.Materials) (map[string][]contracts.EvidenceRef, []string) {
	items := materials.All()
	evidenceMap := map[string][]contracts.EvidenceRef{}
	var unsupported []string

	for _, claim := range claims {
		cset := tokenize(claim)
		type scored struct {
			score float64
			item  contracts.EvidenceItem
		}
		var candidates []scored
		for _, item := range items {
			if score := jaccard(cset, tokenize(item.RawSnippet)); score > 0 {
				candidates = append(candidates, scored{score, item})
			}
		}
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].score > candidates[j].score
		})

		var refs []contracts.EvidenceRef
		for _, c := range candidates {
			if len(refs) == 2 || c.score < evidenceFloor {
				break
			}
			refs = append(refs, contracts.EvidenceRef{
				SourceName: c.item.SourceName,
				SourceID:   c.item.SourceID,
				Quote:      contracts.Truncate(c.item.RawSnippet, 180),
				Score:      c.score,
			})
		}
		if len(refs) == 0 {
			unsupported = append(unsupported, claim)
			continue
		}
		evidenceMap[claim] = refs
	}
	return evidenceMap, unsupported
}
