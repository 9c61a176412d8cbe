// Package policy is the deterministic publication gate. Every check runs on
// every evaluation and the canonical report bytes are a pure function of the
// input, so replaying an evaluation reproduces the stored report exactly.
package policy

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/Mindburn-Labs/herald/pkg/contracts"
)

// MaxTweetLen is the hard per-tweet character ceiling.
const MaxTweetLen = 280

// evidenceFloor is the minimum Jaccard overlap for a snippet to count as
// evidence for a claim.
const evidenceFloor = 0.2

// maxClaims caps how many claims one draft contributes.
const maxClaims = 20

// marketingPhrases fail tone regardless of the style profile.
var marketingPhrases = []string{"game changer", "revolutionary", "explosive growth", "world changing"}

// exaggerations fail tone when any tweet contains one.
var exaggerations = []string{"insane", "unbelievable", "guarantee", "always", "never", "massive"}

// ClaimsFunc extracts factual claims from tweet texts. Implementations may
// call an LLM; any error or empty result falls back to the deterministic
// extractor.
type ClaimsFunc func(ctx context.Context, tweets []string) ([]string, error)

// Input is everything one evaluation depends on.
type Input struct {
	Edited       contracts.EditedDraft
	Materials    contracts.Materials
	RecentPosts  []string
	Style        contracts.StyleProfile
	Threshold    float64
	BlockedTerms []string
}

// Engine evaluates drafts. The zero value runs the built-in checks only;
// custom rules and an LLM claim extractor are optional.
type Engine struct {
	rules  *Rules
	claims ClaimsFunc
}

// New returns an engine. Both arguments may be nil.
func New(rules *Rules, claims ClaimsFunc) *Engine {
	return &Engine{rules: rules, claims: claims}
}

// Evaluate runs every check, maps claims to evidence, and resolves the
// action and risk level. It never errs; degraded paths are deterministic.
func (e *Engine) Evaluate(ctx context.Context, in Input) *contracts.PolicyReport {
	tweets := tweetTexts(in.Edited)

	var (
		checks    []contracts.PolicyCheck
		offending []string
	)

	lengthOK, lengthDetails := checkLength(tweets)
	checks = append(checks, contracts.PolicyCheck{Name: "length_ok", OK: lengthOK, Details: lengthDetails})

	sensitiveOK, sensitiveHits := checkBlockedTerms(tweets, in.BlockedTerms)
	checks = append(checks, contracts.PolicyCheck{Name: "sensitive_ok", OK: sensitiveOK, Details: hitDetails(sensitiveHits)})
	offending = append(offending, sensitiveHits...)

	leakageOK, leakageHits := checkLeakage(tweets)
	checks = append(checks, contracts.PolicyCheck{Name: "leakage_ok", OK: leakageOK, Details: hitDetails(leakageHits)})
	offending = append(offending, leakageHits...)

	similarityOK, simDetails := checkSimilarity(tweets, in.RecentPosts, in.Threshold)
	checks = append(checks, contracts.PolicyCheck{Name: "similarity_ok", OK: similarityOK, Details: simDetails})

	markerOK, markerDetails := checkThreadMarkers(in.Edited.Mode, tweets)
	checks = append(checks, contracts.PolicyCheck{Name: "thread_marker_ok", OK: markerOK, Details: markerDetails})

	toneOK, toneDetails := checkTone(tweets, in.Style)
	checks = append(checks, contracts.PolicyCheck{Name: "tone_ok", OK: toneOK, Details: toneDetails})

	claims := e.extractClaims(ctx, tweets)
	evidence, unsupported := mapEvidence(claims, in.Materials)
	factOK := len(unsupported) == 0
	factDetails := "all grounded"
	if !factOK {
		factDetails = fmt.Sprintf("unsupported=%d", len(unsupported))
	}
	checks = append(checks, contracts.PolicyCheck{Name: "fact_grounded_ok", OK: factOK, Details: factDetails})
	offending = append(offending, head(unsupported, 10)...)

	if e.rules != nil {
		checks = append(checks, e.rules.Evaluate(in.Edited, tweets)...)
	}

	action, risk := decide(checks)
	return &contracts.PolicyReport{
		Checks:            checks,
		RiskLevel:         risk,
		Action:            action,
		Claims:            claims,
		EvidenceMap:       evidence,
		UnsupportedClaims: unsupported,
		OffendingSpans:    offending,
	}
}

// decide resolves failing check names to an action and risk level. Secrets
// hold, ungrounded facts force a high-risk rewrite, everything else is a
// medium rewrite; a clean slate passes low.
func decide(checks []contracts.PolicyCheck) (contracts.PolicyAction, contracts.RiskLevel) {
	failing := map[string]bool{}
	for _, c := range checks {
		if !c.OK {
			failing[c.Name] = true
		}
	}
	switch {
	case len(failing) == 0:
		return contracts.ActionPass, contracts.RiskLow
	case failing["sensitive_ok"] || failing["leakage_ok"]:
		return contracts.ActionHold, contracts.RiskHigh
	case failing["fact_grounded_ok"]:
		return contracts.ActionRewrite, contracts.RiskHigh
	default:
		return contracts.ActionRewrite, contracts.RiskMedium
	}
}

// tweetTexts flattens the edited draft to the texts under review, trimmed
// and NFC-normalized so length and matching see one canonical form.
func tweetTexts(edited contracts.EditedDraft) []string {
	if edited.Mode == contracts.ModeThread && len(edited.FinalTweets) > 0 {
		out := make([]string, 0, len(edited.FinalTweets))
		for _, t := range edited.FinalTweets {
			if s := strings.TrimSpace(norm.NFC.String(t)); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	if s := strings.TrimSpace(norm.NFC.String(edited.FinalText)); s != "" {
		return []string{s}
	}
	return nil
}

func checkLength(tweets []string) (bool, string) {
	var bad []string
	for i, t := range tweets {
		if n := utf8.RuneCountInString(t); n > MaxTweetLen {
			bad = append(bad, fmt.Sprintf("%d:%d", i+1, n))
		}
	}
	if len(bad) == 0 {
		return true, "ok"
	}
	return false, "too_long=" + strings.Join(bad, ";")
}

func checkBlockedTerms(tweets, blocked []string) (bool, []string) {
	seen := map[string]struct{}{}
	for _, t := range tweets {
		low := strings.ToLower(t)
		for _, term := range blocked {
			if term != "" && strings.Contains(low, term) {
				seen[term] = struct{}{}
			}
		}
	}
	return len(seen) == 0, sortedKeys(seen)
}

var (
	jwtRe    = regexp.MustCompile(`\beyJ[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}\b`)
	apiKeyRe = regexp.MustCompile(`\bsk-[A-Za-z0-9]{20,}\b`)
	awsKeyRe = regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`)
	hexRe    = regexp.MustCompile(`\b[a-f0-9]{40,}\b`)
	b64Re    = regexp.MustCompile(`\b[A-Za-z0-9+/]{40,}={0,2}\b`)
)

func checkLeakage(tweets []string) (bool, []string) {
	joined := strings.Join(tweets, "\n")
	var hits []string
	if strings.Contains(strings.ToLower(joined), "-----begin private key-----") {
		hits = append(hits, "private_key_block")
	}
	if jwtRe.MatchString(joined) {
		hits = append(hits, "jwt")
	}
	if apiKeyRe.MatchString(joined) {
		hits = append(hits, "api_key_like")
	}
	if awsKeyRe.MatchString(joined) {
		hits = append(hits, "aws_access_key_id")
	}
	if hexRe.MatchString(strings.ToLower(joined)) {
		hits = append(hits, "long_hex_token")
	}
	if b64Re.MatchString(joined) {
		hits = append(hits, "long_base64_token")
	}
	sort.Strings(hits)
	return len(hits) == 0, hits
}

func checkSimilarity(tweets, recent []string, threshold float64) (bool, string) {
	if len(recent) == 0 {
		return true, "no_recent_posts"
	}
	worst := 0.0
	for _, t := range tweets {
		tset := tokenize(t)
		for _, p := range recent {
			score := jaccard(tset, tokenize(p))
			if score > worst {
				worst = score
			}
			if score >= threshold {
				return false, fmt.Sprintf("jaccard=%.2f>=threshold", score)
			}
		}
	}
	return true, fmt.Sprintf("max_jaccard=%.2f", worst)
}

func checkThreadMarkers(mode string, tweets []string) (bool, string) {
	if mode == contracts.ModeThread {
		return true, "thread_allowed"
	}
	for _, t := range tweets {
		if strings.Contains(t, "1/") || strings.Contains(t, "/1") {
			return false, "thread_marker_in_single"
		}
	}
	return true, "ok"
}

var emojiRe = regexp.MustCompile(`[\x{1F300}-\x{1FAFF}]`)

func checkTone(tweets []string, style contracts.StyleProfile) (bool, string) {
	forbidden := map[string]struct{}{}
	for _, p := range style.ForbiddenPhrases {
		if p = strings.ToLower(p); p != "" {
			forbidden[p] = struct{}{}
		}
	}
	for _, p := range marketingPhrases {
		forbidden[p] = struct{}{}
	}

	for _, t := range tweets {
		if strings.Contains(t, "#") {
			return false, "hashtags_not_allowed"
		}
	}
	for _, t := range tweets {
		if emojiRe.MatchString(t) {
			return false, "emoji_not_allowed"
		}
	}
	seen := map[string]struct{}{}
	for _, t := range tweets {
		low := strings.ToLower(t)
		for phrase := range forbidden {
			if strings.Contains(low, phrase) {
				seen[phrase] = struct{}{}
			}
		}
	}
	if len(seen) > 0 {
		return false, "forbidden_phrases=" + strings.Join(head(sortedKeys(seen), 10), ",")
	}
	for _, t := range tweets {
		low := strings.ToLower(t)
		for _, word := range exaggerations {
			if strings.Contains(low, word) {
				return false, "exaggeration_detected"
			}
		}
	}
	return true, "ok"
}

var wordRe = regexp.MustCompile(`[A-Za-z0-9_]+`)

// tokenize lowercases and keeps word tokens of three or more characters.
func tokenize(text string) map[string]struct{} {
	words := wordRe.FindAllString(strings.ToLower(text), -1)
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		if len(w) >= 3 {
			set[w] = struct{}{}
		}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for w := range a {
		if _, ok := b[w]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func hitDetails(hits []string) string {
	if len(hits) == 0 {
		return "none"
	}
	return strings.Join(head(hits, 10), ",")
}

func head(s []string, n int) []string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
