package agents

import (
	"encoding/json"
	"strings"

	"github.com/Mindburn-Labs/herald/pkg/contracts"
)

// Built-in prompt templates. Each is a fmt format string; a prompt pack
// override must keep the same verb order. Names match the pack keys.
const (
	promptCurator = `You are a content strategist for a developer building in public.

Materials (last 24h):
- Git commit subjects: %s
- Devlog excerpt: %s
- Notes: %s
- Links: %s

Recent approved/posted texts (avoid repeating):
%s

Task:
- Choose a topic plan for today.
- If materials are empty, choose a reflection/lesson and clearly label it as an opinion.
- Produce 2-3 possible angles.

Output JSON only:
{"topic_bucket": 1, "angles": ["...", "..."], "key_points": ["...", "..."], "evidence_map": {"<key_point>": [{"source_name": "git|devlog|github|rss|notion", "source_id": "...", "raw_snippet": "..."}]}}`

	promptThreadPlan = `You are planning a thread of %d tweets.

Topic angles: %s
Key points: %s
Style: openers=%s, forbidden=%s

Assign one key point label to each tweet, in narrative order.

Return JSON only:
{"enabled": true, "tweets_count": %d, "numbering_enabled": %t, "reason": "...", "tweet_key_points": ["...", "..."]}`

	promptWriterSingle = `You are a ghostwriter for a senior engineer building in public.

Materials (facts only):
- git subjects: %s
- devlog: %s
- notes: %s
- links: %s

Topic angles: %s
Key points: %s

Personal style:
- openers: %s
- forbidden phrases: %s
- sentence length: %s
- voice rules: %s

Hard rules:
- No emojis. No hashtags. No marketing tone.
- Do not invent facts. If materials are empty, produce a reflection and clearly label it as opinion.
- Each candidate must be <= 260 characters.

Return JSON only:
{"mode": "single", "candidates": [["..."], ["..."], ["..."]]}`

	promptWriterThread = `You are a ghostwriter for a thread of %d tweets.

Materials (facts only):
- git subjects: %s
- devlog: %s
- notes: %s
- links: %s

Thread plan: tweet_key_points=%s
Personal style: openers=%s, forbidden=%s

Hard rules:
- No emojis. No hashtags. No marketing tone.
- Do not invent facts. If materials are empty, produce opinions and label them as opinion.
- Produce 3 candidate threads; each is a list of %d tweets.
- Each tweet must be <= 270 characters (leaving space for numbering).

Return JSON only:
{"mode": "thread", "candidates": [["...", "..."], ["...", "..."], ["...", "..."]]}`

	promptCritic = `You are a senior editor.

Candidates JSON:
%s

Context summary:
- git commits: %d
- notes: %d
- links: %d
- thread: %t
- numbering: %t

Personal style:
- forbidden phrases: %s
- voice rules: %s

Task:
- Pick the best candidate.
- Edit to reduce fluff, improve the first sentence, and keep it grounded.
- If thread: ensure consistent flow across tweets.
- Strict char limit: each final tweet <= 280.

Return JSON only:
{"mode": "single"|"thread", "selected_candidate_index": 0, "original": ["..."], "final_text": "...", "final_tweets": ["..."], "numbering_added": false, "edit_notes": "..."}`

	promptStylist = `You are learning a writer's personal style.

Inputs:
- Approved/posted tweets (most recent first): %s
- Devlog excerpt (may be empty): %s

Output a JSON style profile:
{"voice_rules": ["..."], "sentence_length": "short"|"medium", "jargon_level": "...", "opener_templates": ["..."], "forbidden_phrases": ["..."]}`

	promptWeekly = `You are an analyst for weekly content performance.

Week window: %s to %s
Posted texts: %s

Generate a weekly digest JSON:
{"buckets": ["..."], "recommendations": ["..."], "topics": ["...", "...", "..."]}`

	promptClaims = `Extract the factual claims from these tweets. A claim is a
verifiable statement about work done, measurements, or events. Skip opinions
and feelings.

Tweets: %s

Return JSON only:
{"claims": ["...", "..."]}`
)

// Per-prompt caps on how much evidence reaches the model.
const (
	maxPromptCommits = 50
	maxPromptDevlog  = 2000
	maxPromptNotes   = 20
	maxPromptLinks   = 20
	maxPromptRecents = 50
	maxPromptPosts   = 100
)

// materialDigest is the capped view of the materials the prompts embed.
type materialDigest struct {
	GitSubjects []string
	Devlog      string
	Notes       []string
	Links       []string
}

func digestMaterials(m *contracts.Materials) materialDigest {
	var d materialDigest
	for _, c := range m.GitCommits {
		d.GitSubjects = append(d.GitSubjects, c.RawSnippet)
	}
	if len(d.GitSubjects) > maxPromptCommits {
		d.GitSubjects = d.GitSubjects[:maxPromptCommits]
	}
	if m.Devlog != nil {
		d.Devlog = contracts.Truncate(m.Devlog.RawSnippet, maxPromptDevlog)
	}
	for _, n := range m.Notes {
		d.Notes = append(d.Notes, n.RawSnippet)
	}
	if len(d.Notes) > maxPromptNotes {
		d.Notes = d.Notes[:maxPromptNotes]
	}
	for _, l := range m.Links {
		d.Links = append(d.Links, strings.TrimSpace(l.Title+" "+l.URL))
	}
	if len(d.Links) > maxPromptLinks {
		d.Links = d.Links[:maxPromptLinks]
	}
	return d
}

// jsonList renders a string slice as a JSON array for prompt embedding.
// Marshalling a string slice cannot fail.
func jsonList(items []string) string {
	if len(items) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(items)
	return string(b)
}

func head(items []string, n int) []string {
	if len(items) > n {
		return items[:n]
	}
	return items
}
