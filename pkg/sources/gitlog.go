package sources

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Mindburn-Labs/herald/pkg/contracts"
)

// GitLog shells out to git for the commits of the lookback window. The
// subject line is the snippet; the full message stays in the repo.
type GitLog struct {
	RepoPath      string
	LookbackHours int

	now func() time.Time
}

func NewGitLog(repoPath string, lookbackHours int) *GitLog {
	if lookbackHours <= 0 {
		lookbackHours = 24
	}
	return &GitLog{RepoPath: repoPath, LookbackHours: lookbackHours, now: time.Now}
}

func (g *GitLog) Name() string { return "git" }

func (g *GitLog) Fetch(ctx context.Context) ([]contracts.EvidenceItem, error) {
	if g.RepoPath == "" {
		return nil, nil
	}
	if _, err := os.Stat(filepath.Join(g.RepoPath, ".git")); err != nil {
		return nil, nil
	}

	cmd := exec.CommandContext(ctx, "git", "-C", g.RepoPath, "log",
		fmt.Sprintf("--since=%dhours", g.LookbackHours),
		"--pretty=format:%H|%ct|%s")
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("git log: %w", err)
	}
	return g.parseLog(string(out)), nil
}

// parseLog turns "hash|epoch|subject" lines into evidence items. Malformed
// lines are skipped; unparseable epochs fall back to the current time.
func (g *GitLog) parseLog(out string) []contracts.EvidenceItem {
	var items []contracts.EvidenceItem
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "|", 3)
		if len(parts) != 3 {
			continue
		}
		hash, epoch, subject := parts[0], parts[1], parts[2]
		ts := g.now().UTC()
		if sec, err := strconv.ParseInt(epoch, 10, 64); err == nil {
			ts = time.Unix(sec, 0).UTC()
		}
		items = append(items, contracts.EvidenceItem{
			SourceName: g.Name(),
			SourceID:   hash,
			Timestamp:  ts,
			RawSnippet: subject,
			Title:      subject,
		})
	}
	return items
}
