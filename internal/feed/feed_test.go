package feed

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:content="http://purl.org/rss/1.0/modules/content/">
  <channel>
    <title>World News</title>
    <item>
      <title>First story</title>
      <link>https://example.com/news/first</link>
      <pubDate>Mon, 24 Aug 2026 09:00:00 GMT</pubDate>
      <description>Short teaser</description>
      <content:encoded><![CDATA[<p>Full embedded body of the first story.</p>]]></content:encoded>
    </item>
    <item>
      <title>First story repeated</title>
      <link>https://example.com/news/first</link>
    </item>
    <item>
      <title>Guid only</title>
      <guid>https://example.com/news/guid-only</guid>
      <pubDate>not a date at all</pubDate>
    </item>
    <item>
      <title>No link at all</title>
    </item>
  </channel>
</rss>`

const sampleAtom = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Atom World</title>
  <entry>
    <title>Atom entry</title>
    <link href="https://example.com/atom/one"/>
    <updated>2026-08-24T10:30:00Z</updated>
    <summary>Atom teaser text</summary>
  </entry>
</feed>`

func TestParseCollapsesDuplicateLinks(t *testing.T) {
	entries, err := Parse([]byte(sampleRSS), 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "https://example.com/news/first", entries[0].Link)
	assert.Equal(t, "First story", entries[0].Title)
	require.NotNil(t, entries[0].PublishedAt)
	assert.Contains(t, entries[0].Content, "Full embedded body")
}

func TestParseFallsBackToGUIDLink(t *testing.T) {
	entries, err := Parse([]byte(sampleRSS), 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "https://example.com/news/guid-only", entries[1].Link)
	assert.Nil(t, entries[1].PublishedAt, "unparsable dates are dropped, not fatal")
}

func TestParseAtomFeed(t *testing.T) {
	entries, err := Parse([]byte(sampleAtom), 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	assert.Equal(t, "https://example.com/atom/one", entries[0].Link)
	assert.Equal(t, "Atom entry", entries[0].Title)
	require.NotNil(t, entries[0].PublishedAt)
	assert.Equal(t, "Atom teaser text", entries[0].Content)
}

func TestParseHonorsEntryLimit(t *testing.T) {
	entries, err := Parse([]byte(sampleRSS), 1)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestParseRejectsNonFeedPayload(t *testing.T) {
	_, err := Parse([]byte("<html><body>not a feed</body></html>"), 0)
	require.Error(t, err)
}

func TestResolveFeedURLPrefersFeedLikeEndpoint(t *testing.T) {
	got := ResolveFeedURL("https://www.bbc.com/news/world-1", "https://example.com/custom.xml")
	assert.Equal(t, "https://example.com/custom.xml", got)
}

func TestResolveFeedURLAppliesKnownOverride(t *testing.T) {
	got := ResolveFeedURL("https://www.bbc.com/news/world-1", "https://www.bbc.com/news")
	assert.Equal(t, "https://feeds.bbci.co.uk/news/world/rss.xml", got)

	got = ResolveFeedURL("https://www.bbc.com/news/world-1", "")
	assert.Equal(t, "https://feeds.bbci.co.uk/news/world/rss.xml", got)
}

func TestResolveFeedURLKeepsUnknownEndpoint(t *testing.T) {
	got := ResolveFeedURL("https://unknown.example/story", "https://unknown.example/landing")
	assert.Equal(t, "https://unknown.example/landing", got)
}

func TestLoadCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sources.yaml")
	content := `sources:
  - id: nhk-news
    name: NHK News
    feed_url: https://www3.nhk.or.jp/rss/news/cat0.xml
    language: ja
  - id: bbc-world
    name: BBC World
    feed_url: https://feeds.bbci.co.uk/news/world/rss.xml
    language: en
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	sources, err := LoadCatalog(path)
	require.NoError(t, err)
	require.Len(t, sources, 2)
	assert.Equal(t, "nhk-news", sources[0].ID)
	assert.Equal(t, "ja", sources[0].Language)
	assert.Equal(t, "https://feeds.bbci.co.uk/news/world/rss.xml", sources[1].FeedURL)
}

func TestLoadCatalogRejectsIncompleteEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sources.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sources:\n  - name: no id\n"), 0o644))

	_, err := LoadCatalog(path)
	require.Error(t, err)
}
