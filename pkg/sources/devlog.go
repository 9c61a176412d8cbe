package sources

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/Mindburn-Labs/herald/pkg/contracts"
)

const defaultDevlogLimit = 2000

// Devlog reads the tail of a local markdown journal. A missing file means
// nothing was written today, not a failure.
type Devlog struct {
	Path      string
	CharLimit int
}

func NewDevlog(path string) *Devlog {
	return &Devlog{Path: path, CharLimit: defaultDevlogLimit}
}

func (d *Devlog) Name() string { return "devlog" }

func (d *Devlog) Fetch(ctx context.Context) ([]contracts.EvidenceItem, error) {
	if d.Path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(d.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("devlog: %w", err)
	}

	limit := d.CharLimit
	if limit <= 0 {
		limit = defaultDevlogLimit
	}
	tail := data
	if len(tail) > limit {
		tail = tail[len(tail)-limit:]
		// Drop a partial rune cut by the byte-offset tail.
		for len(tail) > 0 && !utf8.RuneStart(tail[0]) {
			tail = tail[1:]
		}
	}
	content := strings.TrimSpace(string(tail))

	info, err := os.Stat(d.Path)
	if err != nil {
		return nil, fmt.Errorf("devlog: %w", err)
	}
	abs, err := filepath.Abs(d.Path)
	if err != nil {
		abs = d.Path
	}

	return []contracts.EvidenceItem{{
		SourceName: d.Name(),
		SourceID:   abs,
		Timestamp:  info.ModTime().UTC(),
		RawSnippet: content,
		Title:      filepath.Base(d.Path),
	}}, nil
}
