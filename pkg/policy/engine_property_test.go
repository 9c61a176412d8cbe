//go:build property
// +build property

package policy

import (
	"bytes"
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/Mindburn-Labs/herald/pkg/contracts"
)

func TestJaccardProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300

	properties := gopter.NewProperties(parameters)

	properties.Property("score stays within [0,1]", prop.ForAll(
		func(a, b string) bool {
			score := jaccard(tokenize(a), tokenize(b))
			return score >= 0 && score <= 1
		},
		gen.AnyString(), gen.AnyString(),
	))

	properties.Property("score is symmetric", prop.ForAll(
		func(a, b string) bool {
			return jaccard(tokenize(a), tokenize(b)) == jaccard(tokenize(b), tokenize(a))
		},
		gen.AnyString(), gen.AnyString(),
	))

	properties.Property("identical tokenizable text scores 1", prop.ForAll(
		func(s string) bool {
			set := tokenize(s)
			if len(set) == 0 {
				return true
			}
			return jaccard(set, tokenize(s)) == 1.0
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

func TestSimilarityRejectsRepublish(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	// Publishing the exact text of a recent post must always fail the
	// similarity gate for any threshold at or below 1.
	properties.Property("exact repeat fails", prop.ForAll(
		func(s string, threshold float64) bool {
			if len(tokenize(s)) == 0 {
				return true
			}
			ok, _ := checkSimilarity([]string{s}, []string{s}, threshold)
			return !ok
		},
		gen.Identifier(), gen.Float64Range(0.05, 1.0),
	))

	properties.TestingRun(t)
}

func TestEvaluateDeterminismProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)
	e := New(nil, nil)

	properties.Property("fixed input yields byte-equal canonical reports", prop.ForAll(
		func(tweets []string, snippet string) bool {
			in := Input{
				Edited:    contracts.EditedDraft{Mode: contracts.ModeThread, FinalTweets: tweets},
				Materials: contracts.Materials{Notes: []contracts.EvidenceItem{{SourceName: "notion", SourceID: "n", RawSnippet: snippet}}},
				Threshold: 0.6,
			}
			a, err := Canonical(e.Evaluate(context.Background(), in))
			if err != nil {
				return false
			}
			b, err := Canonical(e.Evaluate(context.Background(), in))
			if err != nil {
				return false
			}
			return bytes.Equal(a, b)
		},
		gen.SliceOf(gen.AlphaString()), gen.AlphaString(),
	))

	properties.TestingRun(t)
}
