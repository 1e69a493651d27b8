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

func newTestCoordinator(st store.Store, pub *fakePublisher) *DetailCoordinator {
	catalog := []feed.Source{bbcSource()}
	c := NewDetailCoordinator(st, pub, catalog, DetailOptions{PendingTimeout: 15 * time.Minute})
	c.now = fixedNow
	return c
}

func seedRecord(st *fakeStore, rec store.Record) {
	copied := rec
	st.items[itemKey(rec.SourceID, rec.ItemID)] = &copied
}

func baseRecord() store.Record {
	return store.Record{
		SourceID: "bbc-world",
		ItemID:   "bbc-world-feedbeef",
		Title:    "Flood waters rise",
		Link:     "https://www.bbc.com/news/articles/flood1",
	}
}

func TestDetailRequestUnknownItem(t *testing.T) {
	c := newTestCoordinator(newFakeStore(), &fakePublisher{})

	_, err := c.Request(context.Background(), "bbc-world", "no-such-item")
	assert.ErrorIs(t, err, ErrItemNotFound)
}

func TestDetailRequestServesReadySummary(t *testing.T) {
	st := newFakeStore()
	rec := baseRecord()
	rec.SummaryLong = "洪水が広がっている。"
	rec.DetailStatus = store.DetailReady
	rec.DetailExpiresAt = fixedNow().Unix() + 3600
	seedRecord(st, rec)
	pub := &fakePublisher{}
	c := newTestCoordinator(st, pub)

	resp, err := c.Request(context.Background(), rec.SourceID, rec.ItemID)
	require.NoError(t, err)
	assert.Equal(t, store.DetailReady, resp.Status)
	require.NotNil(t, resp.Record)
	assert.Equal(t, "洪水が広がっている。", resp.Record.SummaryLong)
	assert.Empty(t, pub.messages, "a usable summary never triggers regeneration")
	assert.Empty(t, st.claims)
}

func TestDetailRequestExpiredSummaryRefreshes(t *testing.T) {
	st := newFakeStore()
	rec := baseRecord()
	rec.SummaryLong = "古い要約。"
	rec.DetailStatus = store.DetailReady
	rec.DetailExpiresAt = fixedNow().Unix() - 1
	seedRecord(st, rec)
	pub := &fakePublisher{}
	c := newTestCoordinator(st, pub)

	resp, err := c.Request(context.Background(), rec.SourceID, rec.ItemID)
	require.NoError(t, err)
	assert.Equal(t, DetailRefreshing, resp.Status)
	require.Len(t, pub.messages, 1)
}

func TestDetailRequestInFlightReportsPending(t *testing.T) {
	st := newFakeStore()
	rec := baseRecord()
	rec.DetailStatus = store.DetailPending
	rec.DetailRequestedAt = fixedNow().Unix() - 60
	seedRecord(st, rec)
	pub := &fakePublisher{}
	c := newTestCoordinator(st, pub)

	resp, err := c.Request(context.Background(), rec.SourceID, rec.ItemID)
	require.NoError(t, err)
	assert.Equal(t, store.DetailPending, resp.Status)
	assert.Empty(t, pub.messages)
	assert.Empty(t, st.claims)
}

func TestDetailRequestTimedOutPendingRetriggers(t *testing.T) {
	st := newFakeStore()
	rec := baseRecord()
	rec.DetailStatus = store.DetailPending
	rec.DetailRequestedAt = fixedNow().Add(-16 * time.Minute).Unix()
	seedRecord(st, rec)
	pub := &fakePublisher{}
	c := newTestCoordinator(st, pub)

	resp, err := c.Request(context.Background(), rec.SourceID, rec.ItemID)
	require.NoError(t, err)
	assert.Equal(t, DetailStarted, resp.Status)

	require.Len(t, st.failures, 1)
	assert.Equal(t, "timeout", st.failures[0].reason)
	require.Len(t, st.claims, 1)
	require.Len(t, pub.messages, 1)
}

func TestDetailRequestClaimRaceReportsPending(t *testing.T) {
	st := newFakeStore()
	st.claimOK = false
	rec := baseRecord()
	rec.DetailStatus = store.DetailFailed
	seedRecord(st, rec)
	pub := &fakePublisher{}
	c := newTestCoordinator(st, pub)

	resp, err := c.Request(context.Background(), rec.SourceID, rec.ItemID)
	require.NoError(t, err)
	assert.Equal(t, store.DetailPending, resp.Status)
	assert.Empty(t, pub.messages, "only the claim winner enqueues")
}

func TestDetailRequestEnqueuesDetailRun(t *testing.T) {
	st := newFakeStore()
	rec := baseRecord()
	rec.DetailStatus = store.DetailPartial
	rec.PublishedAt = "2026-08-27T10:00:00Z"
	seedRecord(st, rec)
	pub := &fakePublisher{}
	c := newTestCoordinator(st, pub)

	resp, err := c.Request(context.Background(), rec.SourceID, rec.ItemID)
	require.NoError(t, err)
	assert.Equal(t, DetailStarted, resp.Status)

	require.Len(t, pub.messages, 1)
	pc, err := ParseRequest(pub.messages[0])
	require.NoError(t, err)
	assert.True(t, pc.GenerateDetail)
	assert.True(t, pc.DetailRequested())
	assert.Equal(t, "detail", pc.RequestContext.Reason)
	assert.Equal(t, "on_demand_summary", pc.RequestContext.Trigger)
	assert.Equal(t, fixedNow().Unix(), pc.RequestContext.RequestedAt)
	assert.Equal(t, rec.ItemID, pc.Item.ID)
	assert.Equal(t, rec.Link, pc.Item.Link)
	assert.Equal(t, "2026-08-27T10:00:00Z", pc.Item.PublishedAt)
	assert.Equal(t, bbcFeedURL, pc.Endpoint)
}

func TestDetailRequestUncataloguedSource(t *testing.T) {
	st := newFakeStore()
	rec := baseRecord()
	rec.SourceID = "retired-wire"
	seedRecord(st, rec)
	pub := &fakePublisher{}
	c := newTestCoordinator(st, pub)

	resp, err := c.Request(context.Background(), rec.SourceID, rec.ItemID)
	require.NoError(t, err)
	assert.Equal(t, DetailStarted, resp.Status)

	require.Len(t, pub.messages, 1)
	pc, err := ParseRequest(pub.messages[0])
	require.NoError(t, err)
	assert.Equal(t, "Retired Wire", pc.Source.Name)
}

func TestDetailRequestLinklessItem(t *testing.T) {
	st := newFakeStore()
	rec := baseRecord()
	rec.Link = ""
	seedRecord(st, rec)
	c := newTestCoordinator(st, &fakePublisher{})

	_, err := c.Request(context.Background(), rec.SourceID, rec.ItemID)
	require.Error(t, err)
	assert.Empty(t, st.claims, "nothing is claimed when no run can be built")
}
