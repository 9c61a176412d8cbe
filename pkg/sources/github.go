package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Mindburn-Labs/herald/pkg/contracts"
)

const githubAPIBase = "https://api.github.com"

// GitHub pulls recently updated PRs and issues for one repo. Only items
// touched inside the lookback window make it into the materials.
type GitHub struct {
	Token  string
	Repo   string // "owner/name"
	Window time.Duration

	baseURL string
	http    *http.Client
	now     func() time.Time
}

func NewGitHub(token, repo string) *GitHub {
	return &GitHub{
		Token:   token,
		Repo:    strings.TrimSpace(repo),
		Window:  24 * time.Hour,
		baseURL: githubAPIBase,
		http:    &http.Client{Timeout: 15 * time.Second},
		now:     time.Now,
	}
}

func (s *GitHub) Name() string { return "github" }

type ghPull struct {
	Number    int       `json:"number"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	HTMLURL   string    `json:"html_url"`
	UpdatedAt time.Time `json:"updated_at"`
}

type ghIssue struct {
	Number      int       `json:"number"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	HTMLURL     string    `json:"html_url"`
	UpdatedAt   time.Time `json:"updated_at"`
	PullRequest *struct{} `json:"pull_request"`
}

func (s *GitHub) Fetch(ctx context.Context) ([]contracts.EvidenceItem, error) {
	if s.Token == "" || s.Repo == "" {
		return nil, fmt.Errorf("github: token or repo not configured")
	}
	since := s.now().UTC().Add(-s.Window)

	var items []contracts.EvidenceItem

	var pulls []ghPull
	q := url.Values{"state": {"all"}, "per_page": {"20"}, "sort": {"updated"}, "direction": {"desc"}}
	if err := s.get(ctx, "/repos/"+s.Repo+"/pulls", q, &pulls); err != nil {
		return nil, err
	}
	for _, pr := range pulls {
		ts := pr.UpdatedAt
		if !ts.IsZero() && ts.Before(since) {
			continue
		}
		if ts.IsZero() {
			ts = s.now()
		}
		snippet := strings.TrimSpace(fmt.Sprintf("PR #%d: %s\n%s", pr.Number, pr.Title, clip(pr.Body, 280)))
		items = append(items, contracts.EvidenceItem{
			SourceName: s.Name(),
			SourceID:   fmt.Sprintf("pr:%d", pr.Number),
			Timestamp:  ts.UTC(),
			RawSnippet: snippet,
			Title:      pr.Title,
			URL:        pr.HTMLURL,
		})
	}

	var issues []ghIssue
	q = url.Values{"state": {"all"}, "per_page": {"20"}, "since": {since.Format(time.RFC3339)}}
	if err := s.get(ctx, "/repos/"+s.Repo+"/issues", q, &issues); err != nil {
		return nil, err
	}
	for _, is := range issues {
		if is.PullRequest != nil {
			// The issues endpoint lists PRs too.
			continue
		}
		ts := is.UpdatedAt
		if !ts.IsZero() && ts.Before(since) {
			continue
		}
		if ts.IsZero() {
			ts = s.now()
		}
		snippet := strings.TrimSpace(fmt.Sprintf("Issue #%d: %s\n%s", is.Number, is.Title, clip(is.Body, 280)))
		items = append(items, contracts.EvidenceItem{
			SourceName: s.Name(),
			SourceID:   fmt.Sprintf("issue:%d", is.Number),
			Timestamp:  ts.UTC(),
			RawSnippet: snippet,
			Title:      is.Title,
			URL:        is.HTMLURL,
		})
	}

	return items, nil
}

func (s *GitHub) get(ctx context.Context, path string, q url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, "GET", s.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("github: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.Token)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("github: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != 200 {
		return fmt.Errorf("github: %s status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("github: decode %s: %w", path, err)
	}
	return nil
}
