package config

import (
	"context"
	"encoding/json"
	"strconv"
)

// Source supplies stored runtime override values. It is implemented by the
// app_config repository; a nil payload means the key is unset.
type Source interface {
	GetConfigValue(ctx context.Context, key string) (json.RawMessage, bool, error)
}

// Overrides resolves runtime-tunable settings against a Source. Every getter
// reads the store directly so operator changes apply to the next run without
// a restart; on any store error the caller's default wins.
type Overrides struct {
	src Source
}

// NewOverrides wraps a Source. A nil source yields pass-through getters.
func NewOverrides(src Source) *Overrides {
	return &Overrides{src: src}
}

// payload is the stored shape: {"value": ..., "updated_at": "..."}.
type payload struct {
	Value json.RawMessage `json:"value"`
}

func (o *Overrides) raw(ctx context.Context, key string) (any, bool) {
	if o == nil || o.src == nil {
		return nil, false
	}
	b, ok, err := o.src.GetConfigValue(ctx, key)
	if err != nil || !ok {
		return nil, false
	}
	var p payload
	if err := json.Unmarshal(b, &p); err != nil || p.Value == nil {
		return nil, false
	}
	var v any
	if err := json.Unmarshal(p.Value, &v); err != nil {
		return nil, false
	}
	return v, true
}

// Bool returns the stored boolean for key, or def. Stored strings "1",
// "true", "yes" and "on" count as true.
func (o *Overrides) Bool(ctx context.Context, key string, def bool) bool {
	v, ok := o.raw(ctx, key)
	if !ok {
		return def
	}
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		switch t {
		case "1", "true", "yes", "on", "True":
			return true
		case "0", "false", "no", "off", "False":
			return false
		}
	}
	return def
}

// Int returns the stored integer for key, or def.
func (o *Overrides) Int(ctx context.Context, key string, def int) int {
	v, ok := o.raw(ctx, key)
	if !ok {
		return def
	}
	switch t := v.(type) {
	case float64:
		return int(t)
	case string:
		if n, err := strconv.Atoi(t); err == nil {
			return n
		}
	}
	return def
}

// Float returns the stored float for key, or def.
func (o *Overrides) Float(ctx context.Context, key string, def float64) float64 {
	v, ok := o.raw(ctx, key)
	if !ok {
		return def
	}
	switch t := v.(type) {
	case float64:
		return t
	case string:
		if f, err := strconv.ParseFloat(t, 64); err == nil {
			return f
		}
	}
	return def
}

// Str returns the stored string for key, or def.
func (o *Overrides) Str(ctx context.Context, key string, def string) string {
	v, ok := o.raw(ctx, key)
	if !ok {
		return def
	}
	if s, ok := v.(string); ok {
		return s
	}
	return def
}

// StrList returns the stored string list for key, or def.
func (o *Overrides) StrList(ctx context.Context, key string, def []string) []string {
	v, ok := o.raw(ctx, key)
	if !ok {
		return def
	}
	items, ok := v.([]any)
	if !ok {
		return def
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Settings are the pipeline knobs for one run, resolved at run start so a
// run sees a consistent view even if an operator flips a key mid-flight.
type Settings struct {
	RewriteMax             int
	SimilarityThreshold    float64
	TokenTTLHours          int
	ThreadEnabled          bool
	ThreadMaxTweets        int
	ThreadNumberingEnabled bool
	DryRun                 bool
	RecentPostsDays        int
	RecentPostsLimit       int
}

// Override keys for the runtime-tunable knobs.
const (
	KeyRewriteMax             = "rewrite_max"
	KeySimilarityThreshold    = "similarity_threshold"
	KeyTokenTTLHours          = "token_ttl_hours"
	KeyThreadEnabled          = "thread_enabled"
	KeyThreadMaxTweets        = "thread_max_tweets"
	KeyThreadNumberingEnabled = "thread_numbering_enabled"
	KeyDryRun                 = "dry_run"
	KeyRecentPostsDays        = "recent_posts_days"
	KeyRecentPostsLimit       = "recent_posts_limit"
	KeyBlockedTerms           = "blocked_terms"
)

var knownKeys = map[string]struct{}{
	KeyRewriteMax:             {},
	KeySimilarityThreshold:    {},
	KeyTokenTTLHours:          {},
	KeyThreadEnabled:          {},
	KeyThreadMaxTweets:        {},
	KeyThreadNumberingEnabled: {},
	KeyDryRun:                 {},
	KeyRecentPostsDays:        {},
	KeyRecentPostsLimit:       {},
	KeyBlockedTerms:           {},
}

// KnownKey reports whether key names a runtime override. Operator typos get
// rejected instead of silently stored and never read.
func KnownKey(key string) bool {
	_, ok := knownKeys[key]
	return ok
}

// Settings resolves the pipeline knobs: environment defaults from c, then
// app_config overrides through o.
func (c *Config) Settings(ctx context.Context, o *Overrides) Settings {
	return Settings{
		RewriteMax:             o.Int(ctx, KeyRewriteMax, c.RewriteMax),
		SimilarityThreshold:    o.Float(ctx, KeySimilarityThreshold, c.SimilarityThreshold),
		TokenTTLHours:          o.Int(ctx, KeyTokenTTLHours, c.TokenTTLHours),
		ThreadEnabled:          o.Bool(ctx, KeyThreadEnabled, c.ThreadEnabled),
		ThreadMaxTweets:        o.Int(ctx, KeyThreadMaxTweets, c.ThreadMaxTweets),
		ThreadNumberingEnabled: o.Bool(ctx, KeyThreadNumberingEnabled, c.ThreadNumberingEnabled),
		DryRun:                 o.Bool(ctx, KeyDryRun, c.DryRun),
		RecentPostsDays:        o.Int(ctx, KeyRecentPostsDays, c.RecentPostsDays),
		RecentPostsLimit:       o.Int(ctx, KeyRecentPostsLimit, c.RecentPostsLimit),
	}
}
