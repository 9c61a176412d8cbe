package agents

import (
	"context"
	"fmt"

	"github.com/Mindburn-Labs/herald/pkg/contracts"
	"github.com/Mindburn-Labs/herald/pkg/sources"
)

// Collector fans over the configured evidence sources. A failing source
// contributes an error string to the materials and a log warning; it never
// fails the stage.
type Collector struct {
	Sources []sources.Source
}

func NewCollector(srcs ...sources.Source) *Collector {
	return &Collector{Sources: srcs}
}

func (c *Collector) Name() string { return "collector" }

func (c *Collector) Execute(ctx context.Context, st *State) error {
	var m contracts.Materials
	for _, src := range c.Sources {
		items, err := src.Fetch(ctx)
		if err != nil {
			msg := fmt.Sprintf("source:%s failed: %s", src.Name(), contracts.Truncate(err.Error(), summaryLimit))
			m.Errors = append(m.Errors, msg)
			st.Warn(msg)
			continue
		}
		switch src.Name() {
		case "git":
			m.GitCommits = append(m.GitCommits, items...)
		case "devlog":
			if len(items) > 0 {
				item := items[0]
				m.Devlog = &item
			}
		default:
			// Linked material goes to links, the rest are notes.
			for _, item := range items {
				if item.URL != "" {
					m.Links = append(m.Links, item)
				} else {
					m.Notes = append(m.Notes, item)
				}
			}
		}
	}
	st.Materials = m
	return nil
}
