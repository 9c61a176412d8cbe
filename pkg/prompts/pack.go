// Package prompts loads versioned prompt packs. A pack lets operators tune
// the stage prompts and wordlists without a rebuild; the engine refuses
// packs written against an incompatible prompt interface.
package prompts

import (
	"fmt"
	"os"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
)

// EngineVersion is the version of the prompt interface this binary exposes.
// Packs declare a `requires` constraint against it.
const EngineVersion = "1.0.0"

// Pack is a YAML bundle of prompt templates and wordlists. Prompt templates
// are fmt format strings; an override must keep the verb order of the
// built-in it replaces.
type Pack struct {
	Name      string              `yaml:"name"`
	Version   string              `yaml:"version"`
	Requires  string              `yaml:"requires,omitempty"`
	Prompts   map[string]string   `yaml:"prompts,omitempty"`
	Wordlists map[string][]string `yaml:"wordlists,omitempty"`
}

// Load reads and gates a pack file.
func Load(path string) (*Pack, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("prompts: read pack: %w", err)
	}
	var p Pack
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("prompts: parse pack: %w", err)
	}
	if err := CheckCompatibility(&p, EngineVersion); err != nil {
		return nil, err
	}
	return &p, nil
}

// CheckCompatibility verifies the pack's `requires` constraint against the
// running engine version. A pack without a constraint is accepted.
func CheckCompatibility(p *Pack, engineVersion string) error {
	if p.Version != "" {
		if _, err := semver.NewVersion(p.Version); err != nil {
			return fmt.Errorf("prompts: pack %s has invalid version %q: %w", p.Name, p.Version, err)
		}
	}
	if p.Requires == "" {
		return nil
	}
	constraint, err := semver.NewConstraint(p.Requires)
	if err != nil {
		return fmt.Errorf("prompts: pack %s has invalid requires %q: %w", p.Name, p.Requires, err)
	}
	engine, err := semver.NewVersion(engineVersion)
	if err != nil {
		return fmt.Errorf("prompts: invalid engine version %q: %w", engineVersion, err)
	}
	if !constraint.Check(engine) {
		return fmt.Errorf("prompts: pack %s requires engine %s, running %s", p.Name, p.Requires, engineVersion)
	}
	return nil
}

// Get returns the pack's template for name, or fallback. Safe on a nil pack.
func (p *Pack) Get(name, fallback string) string {
	if p == nil {
		return fallback
	}
	if t, ok := p.Prompts[name]; ok && t != "" {
		return t
	}
	return fallback
}

// Wordlist returns the named wordlist, or nil. Safe on a nil pack.
func (p *Pack) Wordlist(name string) []string {
	if p == nil {
		return nil
	}
	return p.Wordlists[name]
}
