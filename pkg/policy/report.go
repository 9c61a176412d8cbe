package policy

import (
	"github.com/Mindburn-Labs/herald/pkg/canonicalize"
	"github.com/Mindburn-Labs/herald/pkg/contracts"
)

// Canonical returns the RFC 8785 canonical JSON bytes of a report. Equal
// reports canonicalize to equal bytes regardless of map iteration order.
func Canonical(r *contracts.PolicyReport) ([]byte, error) {
	return canonicalize.JCS(r)
}

// ReportHash returns the sha256 hex of the canonical report bytes; it is the
// stored fingerprint for report comparison and audit.
func ReportHash(r *contracts.PolicyReport) (string, error) {
	b, err := Canonical(r)
	if err != nil {
		return "", err
	}
	return canonicalize.HashBytes(b), nil
}
