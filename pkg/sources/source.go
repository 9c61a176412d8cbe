// Package sources collects raw evidence for a pipeline run. Adapters are
// failure-isolated: the collector records per-source errors and keeps
// whatever the remaining sources returned.
package sources

import (
	"context"
	"unicode/utf8"

	"github.com/Mindburn-Labs/herald/pkg/contracts"
)

// Source is one evidence adapter. Fetch returns everything inside the
// adapter's lookback window; an empty slice is a normal result.
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]contracts.EvidenceItem, error)
}

// clip truncates to at most n runes.
func clip(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
