package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Mindburn-Labs/herald/pkg/contracts"
)

const (
	notionAPIBase = "https://api.notion.com"
	notionVersion = "2022-06-28"
)

// Notion queries one database for recently edited pages. Page titles are
// the snippets; herald never reads page bodies.
type Notion struct {
	Token      string
	DatabaseID string
	Window     time.Duration

	baseURL string
	http    *http.Client
	now     func() time.Time
}

func NewNotion(token, databaseID string) *Notion {
	return &Notion{
		Token:      token,
		DatabaseID: databaseID,
		Window:     24 * time.Hour,
		baseURL:    notionAPIBase,
		http:       &http.Client{Timeout: 20 * time.Second},
		now:        time.Now,
	}
}

func (s *Notion) Name() string { return "notion" }

type notionQuery struct {
	Sorts    []notionSort `json:"sorts"`
	PageSize int          `json:"page_size"`
}

type notionSort struct {
	Timestamp string `json:"timestamp"`
	Direction string `json:"direction"`
}

type notionPage struct {
	ID             string                `json:"id"`
	URL            string                `json:"url"`
	LastEditedTime time.Time             `json:"last_edited_time"`
	Properties     map[string]notionProp `json:"properties"`
}

type notionProp struct {
	Type  string `json:"type"`
	Title []struct {
		PlainText string `json:"plain_text"`
	} `json:"title"`
}

func (s *Notion) Fetch(ctx context.Context) ([]contracts.EvidenceItem, error) {
	if s.Token == "" || s.DatabaseID == "" {
		return nil, fmt.Errorf("notion: token or database id not configured")
	}
	since := s.now().UTC().Add(-s.Window)

	body, err := json.Marshal(notionQuery{
		Sorts:    []notionSort{{Timestamp: "last_edited_time", Direction: "descending"}},
		PageSize: 20,
	})
	if err != nil {
		return nil, fmt.Errorf("notion: marshal query: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/databases/%s/query", s.baseURL, s.DatabaseID)
	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("notion: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.Token)
	req.Header.Set("Notion-Version", notionVersion)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("notion: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("notion: query status %d", resp.StatusCode)
	}

	var out struct {
		Results []notionPage `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("notion: decode: %w", err)
	}

	var items []contracts.EvidenceItem
	for _, page := range out.Results {
		ts := page.LastEditedTime
		if !ts.IsZero() && ts.Before(since) {
			continue
		}
		if ts.IsZero() {
			ts = s.now()
		}
		title := pageTitle(page)
		items = append(items, contracts.EvidenceItem{
			SourceName: s.Name(),
			SourceID:   page.ID,
			Timestamp:  ts.UTC(),
			RawSnippet: title,
			Title:      title,
			URL:        page.URL,
		})
	}
	return items, nil
}

func pageTitle(page notionPage) string {
	for _, prop := range page.Properties {
		if prop.Type != "title" || len(prop.Title) == 0 {
			continue
		}
		var b strings.Builder
		for _, t := range prop.Title {
			b.WriteString(t.PlainText)
		}
		if title := strings.TrimSpace(b.String()); title != "" {
			return title
		}
	}
	return "(untitled)"
}
