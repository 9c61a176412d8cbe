package sources

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Mindburn-Labs/herald/pkg/contracts"
)

const rssEntryCap = 30

// RSS reads RSS 2.0 and Atom feeds. Feeds are fetched sequentially; one
// broken feed fails the whole adapter, which the collector then records as
// a single source error.
type RSS struct {
	FeedURLs []string
	Window   time.Duration

	http *http.Client
	now  func() time.Time
}

func NewRSS(feedURLs []string) *RSS {
	return &RSS{
		FeedURLs: feedURLs,
		Window:   24 * time.Hour,
		http:     &http.Client{Timeout: 15 * time.Second},
		now:      time.Now,
	}
}

func (s *RSS) Name() string { return "rss" }

// feedDoc matches both <rss><channel><item> and Atom <feed><entry> without
// caring about the root element name.
type feedDoc struct {
	Channel struct {
		Items []feedEntry `xml:"item"`
	} `xml:"channel"`
	Entries []feedEntry `xml:"entry"`
}

type feedEntry struct {
	Title       string     `xml:"title"`
	Links       []feedLink `xml:"link"`
	GUID        string     `xml:"guid"`
	ID          string     `xml:"id"`
	Description string     `xml:"description"`
	Summary     string     `xml:"summary"`
	PubDate     string     `xml:"pubDate"`
	Published   string     `xml:"published"`
	Updated     string     `xml:"updated"`
}

type feedLink struct {
	Href string `xml:"href,attr"`
	Text string `xml:",chardata"`
}

func (e feedEntry) link() string {
	for _, l := range e.Links {
		if h := strings.TrimSpace(l.Href); h != "" {
			return h
		}
		if t := strings.TrimSpace(l.Text); t != "" {
			return t
		}
	}
	return ""
}

func (e feedEntry) summary() string {
	if e.Description != "" {
		return e.Description
	}
	return e.Summary
}

var feedTimeLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC3339,
	"2006-01-02T15:04:05Z0700",
}

func (e feedEntry) published() (time.Time, bool) {
	for _, raw := range []string{e.PubDate, e.Published, e.Updated} {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		for _, layout := range feedTimeLayouts {
			if ts, err := time.Parse(layout, raw); err == nil {
				return ts.UTC(), true
			}
		}
	}
	return time.Time{}, false
}

func (s *RSS) Fetch(ctx context.Context) ([]contracts.EvidenceItem, error) {
	if len(s.FeedURLs) == 0 {
		return nil, fmt.Errorf("rss: no feed urls configured")
	}
	since := s.now().UTC().Add(-s.Window)

	var items []contracts.EvidenceItem
	for _, feedURL := range s.FeedURLs {
		entries, err := s.fetchFeed(ctx, feedURL)
		if err != nil {
			return nil, err
		}
		if len(entries) > rssEntryCap {
			entries = entries[:rssEntryCap]
		}
		for _, entry := range entries {
			published, ok := entry.published()
			if !ok {
				published = s.now().UTC()
			}
			if published.Before(since) {
				continue
			}
			link := entry.link()
			sourceID := entry.ID
			if sourceID == "" {
				sourceID = entry.GUID
			}
			if sourceID == "" {
				sourceID = link
			}
			if sourceID == "" {
				sourceID = entry.Title
			}
			snippet := clip(strings.TrimSpace(entry.Title+"\n"+entry.summary()), 500)
			items = append(items, contracts.EvidenceItem{
				SourceName: s.Name(),
				SourceID:   clip(sourceID, 120),
				Timestamp:  published,
				RawSnippet: snippet,
				Title:      entry.Title,
				URL:        link,
			})
		}
	}
	return items, nil
}

func (s *RSS) fetchFeed(ctx context.Context, feedURL string) ([]feedEntry, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("rss: create request: %w", err)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rss: %s: %w", feedURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("rss: %s status %d", feedURL, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("rss: read %s: %w", feedURL, err)
	}

	var doc feedDoc
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("rss: parse %s: %w", feedURL, err)
	}
	if len(doc.Channel.Items) > 0 {
		return doc.Channel.Items, nil
	}
	return doc.Entries, nil
}
