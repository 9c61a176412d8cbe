package policy

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/herald/pkg/config"
)

type stubSource map[string]json.RawMessage

func (s stubSource) GetConfigValue(_ context.Context, key string) (json.RawMessage, bool, error) {
	v, ok := s[key]
	return v, ok, nil
}

func writeTempYAML(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "blocked_terms.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadBlockedTermsOverrideWins(t *testing.T) {
	src := stubSource{
		"blocked_terms": json.RawMessage(`{"value": ["  Password ", "internal-host"], "updated_at": "2026-08-01T00:00:00Z"}`),
	}
	path := writeTempYAML(t, "blocked_terms:\n  - from_file\n")

	terms := LoadBlockedTerms(context.Background(), config.NewOverrides(src), path, []string{"fallback"})
	assert.Equal(t, []string{"password", "internal-host"}, terms)
}

func TestLoadBlockedTermsFromFile(t *testing.T) {
	path := writeTempYAML(t, "blocked_terms:\n  - Secret\n  - '  api_key '\n")

	terms := LoadBlockedTerms(context.Background(), config.NewOverrides(nil), path, []string{"fallback"})
	assert.Equal(t, []string{"secret", "api_key"}, terms)
}

func TestLoadBlockedTermsEmptyFileIsAuthoritative(t *testing.T) {
	path := writeTempYAML(t, "blocked_terms: []\n")

	terms := LoadBlockedTerms(context.Background(), config.NewOverrides(nil), path, []string{"fallback"})
	assert.Empty(t, terms, "a present but empty file disables the list")
}

func TestLoadBlockedTermsFallback(t *testing.T) {
	terms := LoadBlockedTerms(
		context.Background(),
		config.NewOverrides(nil),
		filepath.Join(t.TempDir(), "missing.yaml"),
		[]string{"password", " Secret "},
	)
	assert.Equal(t, []string{"password", "secret"}, terms)
}

func TestLoadRulesMerge(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"rules:\n  - name: no_links\n    expr: \"!tweets.exists(t, t.contains('http'))\"\n  - name: short\n    expr: \"tweets.size() <= 5\"\n",
	), 0o600))

	src := stubSource{
		"policy_rules": json.RawMessage(`{"value": [{"name": "short", "expr": "tweets.size() <= 3"}, {"name": "extra", "expr": "mode == 'single'"}]}`),
	}

	rules := LoadRules(context.Background(), src, path)
	require.Len(t, rules, 3)
	byName := map[string]string{}
	for _, r := range rules {
		byName[r.Name] = r.Expr
	}
	assert.Equal(t, "tweets.size() <= 3", byName["short"], "stored rule replaces the file rule")
	assert.Contains(t, byName, "no_links")
	assert.Contains(t, byName, "extra")
}

func TestLoadRulesAbsentSources(t *testing.T) {
	rules := LoadRules(context.Background(), nil, filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Empty(t, rules)
}
