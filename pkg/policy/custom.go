package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/google/cel-go/cel"
	"gopkg.in/yaml.v3"

	"github.com/Mindburn-Labs/herald/pkg/config"
	"github.com/Mindburn-Labs/herald/pkg/contracts"
)

// configKeyRules is the app_config key for operator-managed rules.
const configKeyRules = "policy_rules"

// Rule is one named CEL predicate over a draft. The expression must yield a
// bool; anything else fails the rule.
type Rule struct {
	Name string `json:"name" yaml:"name"`
	Expr string `json:"expr" yaml:"expr"`
}

// rulesFile is the YAML shape of the rules file:
//
//	rules:
//	  - name: no_links
//	    expr: "!tweets.exists(t, t.contains('http'))"
type rulesFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadRules merges CEL rules from the YAML file at path with rules stored
// under the app_config policy_rules key; a stored rule replaces a file rule
// of the same name. Either source may be absent.
func LoadRules(ctx context.Context, src config.Source, path string) []Rule {
	var rules []Rule
	if path != "" {
		if b, err := os.ReadFile(path); err == nil {
			var f rulesFile
			if err := yaml.Unmarshal(b, &f); err == nil {
				rules = f.Rules
			}
		}
	}
	if src != nil {
		if b, ok, err := src.GetConfigValue(ctx, configKeyRules); err == nil && ok {
			var p struct {
				Value json.RawMessage `json:"value"`
			}
			var stored []Rule
			if json.Unmarshal(b, &p) == nil && p.Value != nil && json.Unmarshal(p.Value, &stored) == nil {
				rules = mergeRules(rules, stored)
			}
		}
	}
	out := rules[:0]
	for _, r := range rules {
		if r.Name != "" && r.Expr != "" {
			out = append(out, r)
		}
	}
	return out
}

func mergeRules(base, over []Rule) []Rule {
	byName := make(map[string]int, len(base))
	for i, r := range base {
		byName[r.Name] = i
	}
	for _, r := range over {
		if i, ok := byName[r.Name]; ok {
			base[i] = r
			continue
		}
		base = append(base, r)
	}
	return base
}

// Rules evaluates custom CEL predicates fail-closed: a rule that does not
// compile, errors at runtime, or yields a non-bool fails its check. Programs
// are compiled once and cached by expression.
type Rules struct {
	env   *cel.Env
	rules []Rule

	mu    sync.RWMutex
	cache map[string]cel.Program
}

// NewRules builds the evaluation environment. The expressions see the draft
// as a map, the tweet texts, and the mode.
func NewRules(rules []Rule) (*Rules, error) {
	env, err := cel.NewEnv(
		cel.Variable("draft", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("tweets", cel.ListType(cel.StringType)),
		cel.Variable("mode", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("policy: cel env: %w", err)
	}
	return &Rules{env: env, rules: rules, cache: make(map[string]cel.Program)}, nil
}

// Evaluate runs every rule against the draft, yielding one check per rule
// named custom:<name>.
func (r *Rules) Evaluate(edited contracts.EditedDraft, tweets []string) []contracts.PolicyCheck {
	if r == nil || len(r.rules) == 0 {
		return nil
	}
	input := map[string]any{
		"draft": map[string]any{
			"mode":       edited.Mode,
			"final_text": edited.FinalText,
			"edit_notes": edited.EditNotes,
		},
		"tweets": tweets,
		"mode":   edited.Mode,
	}
	checks := make([]contracts.PolicyCheck, 0, len(r.rules))
	for _, rule := range r.rules {
		check := contracts.PolicyCheck{Name: "custom:" + rule.Name}
		ok, err := r.eval(rule.Expr, input)
		switch {
		case err != nil:
			check.Details = err.Error()
		case ok:
			check.OK = true
			check.Details = "ok"
		default:
			check.Details = "violation"
		}
		checks = append(checks, check)
	}
	return checks
}

func (r *Rules) eval(expr string, input map[string]any) (bool, error) {
	r.mu.RLock()
	prg, hit := r.cache[expr]
	r.mu.RUnlock()

	if !hit {
		r.mu.Lock()
		if prg, hit = r.cache[expr]; !hit {
			ast, issues := r.env.Compile(expr)
			if issues != nil && issues.Err() != nil {
				r.mu.Unlock()
				return false, fmt.Errorf("compile: %w", issues.Err())
			}
			p, err := r.env.Program(ast,
				cel.InterruptCheckFrequency(100),
				cel.CostLimit(10000),
			)
			if err != nil {
				r.mu.Unlock()
				return false, fmt.Errorf("program: %w", err)
			}
			r.cache[expr] = p
			prg = p
		}
		r.mu.Unlock()
	}

	out, _, err := prg.Eval(input)
	if err != nil {
		return false, fmt.Errorf("eval: %w", err)
	}
	val, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("result not bool")
	}
	return val, nil
}
