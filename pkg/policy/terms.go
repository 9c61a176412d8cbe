package policy

import (
	"context"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Mindburn-Labs/herald/pkg/config"
)

// termsFile is the YAML shape of the blocked terms file:
//
//	blocked_terms:
//	  - password
//	  - internal hostname
type termsFile struct {
	BlockedTerms []string `yaml:"blocked_terms"`
}

// LoadBlockedTerms resolves the active blocked-term list. A non-empty
// app_config override wins; otherwise the YAML file at path is
// authoritative, including when its list is empty; the fallback applies only
// when the file is missing or unreadable. Terms are trimmed and lowercased.
func LoadBlockedTerms(ctx context.Context, o *config.Overrides, path string, fallback []string) []string {
	if terms := normalizeTerms(o.StrList(ctx, config.KeyBlockedTerms, nil)); len(terms) > 0 {
		return terms
	}
	if path != "" {
		if b, err := os.ReadFile(path); err == nil {
			var f termsFile
			if err := yaml.Unmarshal(b, &f); err == nil {
				return normalizeTerms(f.BlockedTerms)
			}
		}
	}
	return normalizeTerms(fallback)
}

func normalizeTerms(terms []string) []string {
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		if s := strings.ToLower(strings.TrimSpace(t)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
