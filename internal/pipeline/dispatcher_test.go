package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiranui/newsdigest/internal/feed"
	"github.com/shiranui/newsdigest/internal/store"
)

const bbcFeedURL = "https://feeds.bbci.co.uk/news/world/rss.xml"

const bbcFeedXML = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>BBC News - World</title>
    <item>
      <title>Flood waters rise in delta region</title>
      <link>https://www.bbc.com/news/articles/flood1?at_medium=RSS</link>
      <pubDate>Wed, 27 Aug 2026 10:00:00 GMT</pubDate>
    </item>
    <item>
      <title>Snap election called</title>
      <link>https://www.bbc.com/news/articles/vote2</link>
    </item>
  </channel>
</rss>`

func bbcSource() feed.Source {
	return feed.Source{ID: "bbc-world", Name: "BBC World", FeedURL: bbcFeedURL, HomeURL: "https://www.bbc.com/news/world"}
}

func newTestDispatcher(fetcher Fetcher, st store.Store, pub *fakePublisher, opts DispatcherOptions) *Dispatcher {
	d := NewDispatcher(fetcher, st, pub, opts)
	d.now = fixedNow
	return d
}

func TestDispatchEnqueuesNewItems(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[string][]byte{bbcFeedURL: []byte(bbcFeedXML)}}
	st := newFakeStore()
	pub := &fakePublisher{}
	d := newTestDispatcher(fetcher, st, pub, DispatcherOptions{})

	result, err := d.Dispatch(context.Background(), bbcSource(), false)
	require.NoError(t, err)
	assert.Equal(t, bbcFeedURL, result.FeedURL)
	assert.Equal(t, 2, result.Enqueued)
	assert.Zero(t, result.Duplicates)
	assert.False(t, result.Skipped)

	require.Len(t, pub.messages, 2)
	pc, err := ParseRequest(pub.messages[0])
	require.NoError(t, err)
	assert.Equal(t, "bbc-world", pc.Source.ID)
	assert.Equal(t, "ingest", pc.RequestContext.Reason)
	assert.False(t, pc.DetailRequested())
	assert.Equal(t, "Flood waters rise in delta region", pc.Item.Title)
	assert.Contains(t, pc.Item.ID, "bbc-world-")
	assert.NotEmpty(t, pc.Item.NormalizedLink)
	assert.Equal(t, "2026-08-27T10:00:00Z", pc.Item.PublishedAt)

	status, err := st.GetSourceStatus(context.Background(), "bbc-world", bbcFeedURL)
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.Equal(t, fixedNow().Unix(), status.CheckedAt)
}

func TestDispatchDeterministicItemIDs(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[string][]byte{bbcFeedURL: []byte(bbcFeedXML)}}
	pub1 := &fakePublisher{}
	pub2 := &fakePublisher{}

	d1 := newTestDispatcher(fetcher, newFakeStore(), pub1, DispatcherOptions{})
	d2 := newTestDispatcher(fetcher, newFakeStore(), pub2, DispatcherOptions{})

	_, err := d1.Dispatch(context.Background(), bbcSource(), false)
	require.NoError(t, err)
	_, err = d2.Dispatch(context.Background(), bbcSource(), false)
	require.NoError(t, err)

	first, _ := ParseRequest(pub1.messages[0])
	second, _ := ParseRequest(pub2.messages[0])
	assert.Equal(t, first.Item.ID, second.Item.ID)
}

func TestDispatchSkipsStoredItems(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[string][]byte{bbcFeedURL: []byte(bbcFeedXML)}}
	st := newFakeStore()
	pub := &fakePublisher{}
	d := newTestDispatcher(fetcher, st, pub, DispatcherOptions{})

	_, err := d.Dispatch(context.Background(), bbcSource(), false)
	require.NoError(t, err)
	require.Len(t, pub.messages, 2)

	for _, msg := range pub.messages {
		pc, err := ParseRequest(msg)
		require.NoError(t, err)
		require.NoError(t, st.PutItem(context.Background(), store.Record{
			SourceID: pc.Source.ID, ItemID: pc.Item.ID, Link: pc.Item.Link,
		}))
	}

	pub.messages = nil
	result, err := d.Dispatch(context.Background(), bbcSource(), true)
	require.NoError(t, err)
	assert.Zero(t, result.Enqueued)
	assert.Equal(t, 2, result.Duplicates)
	assert.Empty(t, pub.messages)
}

func TestDispatchHonorsRefreshThreshold(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[string][]byte{bbcFeedURL: []byte(bbcFeedXML)}}
	st := newFakeStore()
	pub := &fakePublisher{}
	d := newTestDispatcher(fetcher, st, pub, DispatcherOptions{RefreshThreshold: time.Hour})

	_, err := d.Dispatch(context.Background(), bbcSource(), false)
	require.NoError(t, err)
	require.Len(t, fetcher.calls, 1)

	result, err := d.Dispatch(context.Background(), bbcSource(), false)
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.Len(t, fetcher.calls, 1, "fresh source must not be fetched again")

	result, err = d.Dispatch(context.Background(), bbcSource(), true)
	require.NoError(t, err)
	assert.False(t, result.Skipped)
	assert.Len(t, fetcher.calls, 2, "force bypasses the freshness gate")
}

func TestDispatchFeedFetchFailure(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[string][]byte{}}
	d := newTestDispatcher(fetcher, newFakeStore(), &fakePublisher{}, DispatcherOptions{})

	_, err := d.Dispatch(context.Background(), bbcSource(), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), bbcFeedURL)
}

func TestBuildItemAppliesSourceLinkPolicy(t *testing.T) {
	item := buildItem("straits-times", feed.Entry{
		Link:  "https://www.straitstimes.com/asia/port-expansion",
		Title: "Port expansion approved",
	})
	assert.Contains(t, item.Link, "utm_source=rss")
	assert.Contains(t, item.Link, "utm_medium=referral")
	assert.Contains(t, item.NormalizedLink, "utm_source=rss", "policy hosts keep referral params in the canonical form")

	plain := buildItem("bbc-world", feed.Entry{Link: "https://www.bbc.com/news/articles/x?utm_source=feed"})
	assert.NotContains(t, plain.NormalizedLink, "utm_source")
	assert.Equal(t, "https://www.bbc.com/news/articles/x?utm_source=feed", plain.Link)
}
