package contracts

// RiskLevel grades a policy verdict.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// PolicyAction is the policy engine's disposition for a draft.
type PolicyAction string

const (
	ActionPass    PolicyAction = "PASS"
	ActionRewrite PolicyAction = "REWRITE"
	ActionHold    PolicyAction = "HOLD"
)

// PolicyCheck is a single named check outcome. Details is a short diagnostic
// string that is deterministic for a fixed input.
type PolicyCheck struct {
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Details string `json:"details"`
}

// EvidenceRef links a claim back to the material that supports it.
type EvidenceRef struct {
	SourceName string  `json:"source_name"`
	SourceID   string  `json:"source_id"`
	Quote      string  `json:"quote"`
	Score      float64 `json:"score"`
}

// PolicyReport is the full, deterministic verdict for one generation of a
// draft. Reports are immutable; edits and regenerations produce new reports.
type PolicyReport struct {
	Checks            []PolicyCheck            `json:"checks"`
	RiskLevel         RiskLevel                `json:"risk_level"`
	Action            PolicyAction             `json:"action"`
	Claims            []string                 `json:"claims"`
	EvidenceMap       map[string][]EvidenceRef `json:"evidence_map"`
	UnsupportedClaims []string                 `json:"unsupported_claims"`
	OffendingSpans    []string                 `json:"offending_spans"`
}

// Check returns the named check, or nil when the report has no such check.
func (r *PolicyReport) Check(name string) *PolicyCheck {
	for i := range r.Checks {
		if r.Checks[i].Name == name {
			return &r.Checks[i]
		}
	}
	return nil
}

// Failing returns the names of all failing checks, in check order.
func (r *PolicyReport) Failing() []string {
	var out []string
	for _, c := range r.Checks {
		if !c.OK {
			out = append(out, c.Name)
		}
	}
	return out
}
