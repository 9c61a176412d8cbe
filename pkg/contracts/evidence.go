package contracts

import "time"

// EvidenceItem is a single piece of collected source material. Items are
// immutable once collected.
type EvidenceItem struct {
	SourceName string    `json:"source_name"`
	SourceID   string    `json:"source_id"`
	Timestamp  time.Time `json:"timestamp"`
	RawSnippet string    `json:"raw_snippet"`
	Title      string    `json:"title,omitempty"`
	URL        string    `json:"url,omitempty"`
}

// Materials aggregates everything the collector gathered for one run.
// Per-source failures land in Errors and never abort the run.
type Materials struct {
	GitCommits []EvidenceItem `json:"git_commits"`
	Devlog     *EvidenceItem  `json:"devlog,omitempty"`
	Notes      []EvidenceItem `json:"notes"`
	Links      []EvidenceItem `json:"links"`
	Errors     []string       `json:"errors,omitempty"`
}

// All returns every evidence item in collection order.
func (m *Materials) All() []EvidenceItem {
	items := make([]EvidenceItem, 0, len(m.GitCommits)+len(m.Notes)+len(m.Links)+1)
	items = append(items, m.GitCommits...)
	if m.Devlog != nil {
		items = append(items, *m.Devlog)
	}
	items = append(items, m.Notes...)
	items = append(items, m.Links...)
	return items
}

// Empty reports whether nothing at all was collected.
func (m *Materials) Empty() bool {
	return len(m.GitCommits) == 0 && m.Devlog == nil && len(m.Notes) == 0 && len(m.Links) == 0
}
