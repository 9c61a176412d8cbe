package sources

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRSSFetchRSS2(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fresh := now.Add(-3 * time.Hour).Format(time.RFC1123Z)
	stale := now.Add(-100 * time.Hour).Format(time.RFC1123Z)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<?xml version="1.0"?>
<rss version="2.0"><channel>
  <title>blog</title>
  <item>
    <title>Postgres advisory locks</title>
    <link>https://example.com/locks</link>
    <guid>https://example.com/locks</guid>
    <description>Using advisory locks for leader election</description>
    <pubDate>%s</pubDate>
  </item>
  <item>
    <title>Old post</title>
    <link>https://example.com/old</link>
    <pubDate>%s</pubDate>
  </item>
</channel></rss>`, fresh, stale)
	}))
	defer srv.Close()

	s := NewRSS([]string{srv.URL})
	s.now = func() time.Time { return now }

	items, err := s.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)

	assert.Equal(t, "rss", items[0].SourceName)
	assert.Equal(t, "https://example.com/locks", items[0].SourceID)
	assert.Equal(t, "Postgres advisory locks\nUsing advisory locks for leader election", items[0].RawSnippet)
	assert.Equal(t, "https://example.com/locks", items[0].URL)
}

func TestRSSFetchAtom(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fresh := now.Add(-1 * time.Hour).Format(time.RFC3339)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<?xml version="1.0"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>releases</title>
  <entry>
    <title>v1.4.0</title>
    <link href="https://example.com/v140"/>
    <id>tag:example.com,2026:v140</id>
    <summary>bug fixes and a faster planner</summary>
    <updated>%s</updated>
  </entry>
</feed>`, fresh)
	}))
	defer srv.Close()

	s := NewRSS([]string{srv.URL})
	s.now = func() time.Time { return now }

	items, err := s.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)

	assert.Equal(t, "tag:example.com,2026:v140", items[0].SourceID)
	assert.Equal(t, "https://example.com/v140", items[0].URL)
	assert.Equal(t, "v1.4.0\nbug fixes and a faster planner", items[0].RawSnippet)
}

func TestRSSSnippetClipped(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	long := strings.Repeat("word ", 200)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<rss version="2.0"><channel><item>
  <title>long</title>
  <description>%s</description>
  <pubDate>%s</pubDate>
</item></channel></rss>`, long, now.Format(time.RFC1123Z))
	}))
	defer srv.Close()

	s := NewRSS([]string{srv.URL})
	s.now = func() time.Time { return now }

	items, err := s.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.LessOrEqual(t, len(items[0].RawSnippet), 500)
	// No guid or link: the title becomes the id.
	assert.Equal(t, "long", items[0].SourceID)
}

func TestRSSUnconfigured(t *testing.T) {
	s := NewRSS(nil)
	_, err := s.Fetch(context.Background())
	require.Error(t, err)
}

func TestRSSBadFeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("this is not xml"))
	}))
	defer srv.Close()

	s := NewRSS([]string{srv.URL})
	_, err := s.Fetch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse")
}
