package policy

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/herald/pkg/contracts"
)

func TestExtractClaims(t *testing.T) {
	tweets := []string{
		"Moved the ingest worker to batched writes. I think it reads better now! Latency dropped from nine seconds to two.",
	}
	claims := ExtractClaims(tweets)
	assert.Equal(t, []string{
		"Moved the ingest worker to batched writes",
		"Latency dropped from nine seconds to two",
	}, claims, "opinions are excluded")
}

func TestExtractClaimsSkipsShortSentences(t *testing.T) {
	claims := ExtractClaims([]string{"Shipped it. Fixed the flaky integration suite on CI."})
	assert.Equal(t, []string{"Fixed the flaky integration suite on CI"}, claims)
}

func TestExtractClaimsCap(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 30; i++ {
		b.WriteString("another solid fact about deploys number here. ")
	}
	claims := ExtractClaims([]string{b.String()})
	assert.Len(t, claims, maxClaims)
}

func TestExtractClaimsOpinionMarkers(t *testing.T) {
	for _, marker := range []string{"i think", "I FEEL", "My take", "opinion", "I learned", "lesson"} {
		sentence := marker + " the deploy pipeline tooling rocks overall"
		assert.Empty(t, ExtractClaims([]string{sentence}), "marker %q", marker)
	}
}

func TestMapEvidenceTopTwo(t *testing.T) {
	claim := "switched the cache layer to redis streams"
	materials := contracts.Materials{
		GitCommits: []contracts.EvidenceItem{
			{SourceName: "git", SourceID: "c1", RawSnippet: "switched the cache layer to redis streams for the feed"},
			{SourceName: "git", SourceID: "c2", RawSnippet: "cache layer redis streams groundwork"},
			{SourceName: "git", SourceID: "c3", RawSnippet: "unrelated docs typo fix"},
		},
	}

	evidence, unsupported := mapEvidence([]string{claim}, materials)
	assert.Empty(t, unsupported)
	refs := evidence[claim]
	require.Len(t, refs, 2, "at most two refs per claim")
	assert.Equal(t, "c1", refs[0].SourceID, "best overlap first")
	assert.Equal(t, "c2", refs[1].SourceID)
	assert.GreaterOrEqual(t, refs[0].Score, refs[1].Score)
	for _, ref := range refs {
		assert.GreaterOrEqual(t, ref.Score, evidenceFloor)
	}
}

func TestMapEvidenceFloor(t *testing.T) {
	claim := "rewrote the scheduler in one afternoon"
	materials := contracts.Materials{
		Notes: []contracts.EvidenceItem{
			{SourceName: "notion", SourceID: "n1", RawSnippet: "grocery list and weekend plans for one sunny day"},
		},
	}
	evidence, unsupported := mapEvidence([]string{claim}, materials)
	assert.Empty(t, evidence)
	assert.Equal(t, []string{claim}, unsupported, "weak overlap stays unsupported")
}

func TestMapEvidenceQuoteTruncation(t *testing.T) {
	long := strings.Repeat("scheduler rewrite detail ", 20) // ~500 chars
	claim := "scheduler rewrite detail captured in devlog"
	materials := contracts.Materials{
		Devlog: &contracts.EvidenceItem{SourceName: "devlog", SourceID: "devlog.md", RawSnippet: long},
	}
	evidence, unsupported := mapEvidence([]string{claim}, materials)
	assert.Empty(t, unsupported)
	refs := evidence[claim]
	require.Len(t, refs, 1)
	assert.LessOrEqual(t, len(refs[0].Quote), 180)
}

func TestMapEvidenceNoClaims(t *testing.T) {
	evidence, unsupported := mapEvidence(nil, contracts.Materials{})
	assert.Empty(t, evidence)
	assert.Empty(t, unsupported)
}
