// Package config loads herald's configuration from environment variables and
// layers store-backed runtime overrides on top of the pipeline knobs.
package config

import (
	"os"
	"strconv"
	"strings"
)

// Config holds process configuration. Fields marked as runtime-tunable can be
// overridden per read through the app_config table (see Overrides).
type Config struct {
	HTTPAddr      string
	PublicBaseURL string
	DatabaseURL   string
	LogLevel      string

	// Pipeline knobs (runtime-tunable).
	RewriteMax             int
	SimilarityThreshold    float64
	TokenTTLHours          int
	ThreadEnabled          bool
	ThreadMaxTweets        int
	ThreadNumberingEnabled bool
	DryRun                 bool
	BlockedTermsPath       string
	SensitiveWords         string
	RecentPostsDays        int
	RecentPostsLimit       int

	// LLM adapter.
	LLMAPIBase string
	LLMAPIKey  string
	LLMModel   string

	// Social API.
	SocialAPIBase     string
	SocialBearerToken string

	// Evidence sources.
	DevlogPath       string
	GitRepoPath      string
	GitLookbackHours int
	GitHubToken      string
	GitHubRepo       string
	RSSFeeds         []string
	NotionToken      string
	NotionDatabaseID string

	// Reviewer notifications.
	SMTPHost        string
	SMTPPort        string
	SMTPUsername    string
	SMTPPassword    string
	SMTPFrom        string
	ReviewerEmail   string
	SlackWebhookURL string
	WhatsAppAPIURL  string
	WhatsAppToken   string

	// Admin surface.
	AdminUsername   string
	AdminPassword   string
	SessionSecret   string
	SessionTTLHours int

	// Scheduling.
	DailyRunHour        int
	DailyRunMinute      int
	StyleRefreshWeekday int
	WorkerPoolSize      int

	// Rate limiting.
	RateLimitRPM int
	RedisAddr    string

	// Artifact archival.
	ArtifactsBackend string
	ArtifactsDir     string
	ArtifactsBucket  string

	// Packs and custom rules.
	PromptPackPath  string
	PolicyRulesPath string

	// Observability.
	OTLPEndpoint string
}

// Load reads configuration from environment variables, applying defaults
// that let a dev instance boot with nothing set.
func Load() *Config {
	return &Config{
		HTTPAddr:      getEnv("HTTP_ADDR", ":8085"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", "http://localhost:8085"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		LogLevel:      getEnv("LOG_LEVEL", "INFO"),

		RewriteMax:             getInt("REWRITE_MAX", 1),
		SimilarityThreshold:    getFloat("SIMILARITY_THRESHOLD", 0.6),
		TokenTTLHours:          getInt("TOKEN_TTL_HOURS", 36),
		ThreadEnabled:          getBool("THREAD_ENABLED", true),
		ThreadMaxTweets:        getInt("THREAD_MAX_TWEETS", 5),
		ThreadNumberingEnabled: getBool("THREAD_NUMBERING_ENABLED", true),
		DryRun:                 getBool("DRY_RUN", true),
		BlockedTermsPath:       getEnv("BLOCKED_TERMS_PATH", "./blocked_terms.yaml"),
		SensitiveWords:         getEnv("SENSITIVE_WORDS", "password,secret,token,api_key"),
		RecentPostsDays:        getInt("RECENT_POSTS_DAYS", 14),
		RecentPostsLimit:       getInt("RECENT_POSTS_LIMIT", 200),

		LLMAPIBase: getEnv("LLM_API_BASE", "https://api.openai.com/v1"),
		LLMAPIKey:  getEnv("LLM_API_KEY", ""),
		LLMModel:   getEnv("LLM_MODEL", "gpt-4o-mini"),

		SocialAPIBase:     getEnv("SOCIAL_API_BASE", "https://api.twitter.com/2"),
		SocialBearerToken: getEnv("SOCIAL_BEARER_TOKEN", ""),

		DevlogPath:       getEnv("DEVLOG_PATH", ""),
		GitRepoPath:      getEnv("GIT_REPO_PATH", ""),
		GitLookbackHours: getInt("GIT_LOOKBACK_HOURS", 24),
		GitHubToken:      getEnv("GITHUB_TOKEN", ""),
		GitHubRepo:       getEnv("GITHUB_REPO", ""),
		RSSFeeds:         splitList(getEnv("RSS_FEEDS", "")),
		NotionToken:      getEnv("NOTION_TOKEN", ""),
		NotionDatabaseID: getEnv("NOTION_DATABASE_ID", ""),

		SMTPHost:        getEnv("SMTP_HOST", ""),
		SMTPPort:        getEnv("SMTP_PORT", "587"),
		SMTPUsername:    getEnv("SMTP_USERNAME", ""),
		SMTPPassword:    getEnv("SMTP_PASSWORD", ""),
		SMTPFrom:        getEnv("SMTP_FROM", ""),
		ReviewerEmail:   getEnv("REVIEWER_EMAIL", ""),
		SlackWebhookURL: getEnv("SLACK_WEBHOOK_URL", ""),
		WhatsAppAPIURL:  getEnv("WHATSAPP_API_URL", ""),
		WhatsAppToken:   getEnv("WHATSAPP_TOKEN", ""),

		AdminUsername:   getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword:   getEnv("ADMIN_PASSWORD", ""),
		SessionSecret:   getEnv("SESSION_SECRET", ""),
		SessionTTLHours: getInt("SESSION_TTL_HOURS", 12),

		DailyRunHour:        getInt("DAILY_RUN_HOUR", 9),
		DailyRunMinute:      getInt("DAILY_RUN_MINUTE", 0),
		StyleRefreshWeekday: getInt("STYLE_REFRESH_WEEKDAY", 0),
		WorkerPoolSize:      getInt("WORKER_POOL_SIZE", 4),

		RateLimitRPM: getInt("RATE_LIMIT_RPM", 60),
		RedisAddr:    getEnv("REDIS_ADDR", ""),

		ArtifactsBackend: getEnv("ARTIFACTS_BACKEND", "fs"),
		ArtifactsDir:     getEnv("ARTIFACTS_DIR", "./artifacts"),
		ArtifactsBucket:  getEnv("ARTIFACTS_BUCKET", ""),

		PromptPackPath:  getEnv("PROMPT_PACK_PATH", ""),
		PolicyRulesPath: getEnv("POLICY_RULES_PATH", ""),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	}
}

// SensitiveWordsList splits the comma-separated fallback blocked terms.
func (c *Config) SensitiveWordsList() []string {
	return splitList(c.SensitiveWords)
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

func getFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return def
	}
	return f
}

func getBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return def
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
