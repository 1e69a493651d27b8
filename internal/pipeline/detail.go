package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shiranui/newsdigest/internal/feed"
	"github.com/shiranui/newsdigest/internal/logger"
	"github.com/shiranui/newsdigest/internal/metrics"
	"github.com/shiranui/newsdigest/internal/queue"
	"github.com/shiranui/newsdigest/internal/store"
	"github.com/shiranui/newsdigest/internal/urlnorm"
)

// ErrItemNotFound is returned when a detail request names an unknown item.
var ErrItemNotFound = errors.New("item not found")

// Request statuses beyond the record-level detail statuses: started means a
// fresh generation was triggered, refreshing means one was triggered over an
// existing summary.
const (
	DetailStarted    = "started"
	DetailRefreshing = "refreshing"
)

type DetailOptions struct {
	PendingTimeout time.Duration
}

// DetailCoordinator handles on-demand detail requests: serve a ready
// summary, report an in-flight one, or claim the record and enqueue a
// detail-mode pipeline run. The claim is a store-level compare-and-swap, so
// concurrent requests for the same item trigger exactly one run.
type DetailCoordinator struct {
	store     store.Store
	publisher queue.Publisher
	sources   map[string]feed.Source
	opts      DetailOptions
	now       func() time.Time
}

func NewDetailCoordinator(st store.Store, publisher queue.Publisher, catalog []feed.Source, opts DetailOptions) *DetailCoordinator {
	sources := make(map[string]feed.Source, len(catalog))
	for _, src := range catalog {
		sources[src.ID] = src
	}
	return &DetailCoordinator{
		store:     st,
		publisher: publisher,
		sources:   sources,
		opts:      opts,
		now:       time.Now,
	}
}

// DetailResponse reports what happened to one detail request. Status is one
// of ready, pending, started, refreshing or failed.
type DetailResponse struct {
	Status string        `json:"status"`
	Record *store.Record `json:"record,omitempty"`
}

// Request resolves one on-demand detail request. A pending request older
// than the timeout is reclassified to failed and then retriggered; an
// in-flight one reports pending without a second invocation.
func (c *DetailCoordinator) Request(ctx context.Context, sourceID, itemID string) (DetailResponse, error) {
	rec, err := c.store.GetItem(ctx, sourceID, itemID)
	if err != nil {
		return DetailResponse{}, err
	}
	if rec == nil {
		return DetailResponse{}, fmt.Errorf("%s/%s: %w", sourceID, itemID, ErrItemNotFound)
	}

	now := c.now()
	if rec.DetailUsable(now) {
		return DetailResponse{Status: store.DetailReady, Record: rec}, nil
	}

	if rec.DetailStatus == store.DetailPending {
		if !rec.PendingTimedOut(now, c.opts.PendingTimeout) {
			return DetailResponse{Status: store.DetailPending, Record: rec}, nil
		}
		logger.Warn("detail generation timed out, marking failed", "source", sourceID, "item", itemID)
		if err := c.store.MarkDetailFailed(ctx, sourceID, itemID, "timeout", now.Unix()); err != nil {
			return DetailResponse{}, fmt.Errorf("recording detail timeout for %s: %w", itemID, err)
		}
		rec.DetailStatus = store.DetailFailed
		rec.DetailFailedAt = now.Unix()
		rec.DetailFailureReason = "timeout"
	}

	pc, err := c.buildRequest(sourceID, rec, now)
	if err != nil {
		return DetailResponse{}, err
	}

	hadSummary := rec.SummaryLong != ""
	claimed, err := c.store.ClaimDetail(ctx, sourceID, itemID, now.Unix())
	if err != nil {
		return DetailResponse{}, err
	}
	if !claimed {
		logger.Info("detail generation already pending", "source", sourceID, "item", itemID)
		return DetailResponse{Status: store.DetailPending, Record: rec}, nil
	}

	body, err := json.Marshal(pc)
	if err != nil {
		return DetailResponse{}, fmt.Errorf("encoding detail request: %w", err)
	}
	if err := c.publisher.Publish(ctx, body); err != nil {
		return DetailResponse{}, fmt.Errorf("enqueuing detail request for %s: %w", itemID, err)
	}
	metrics.Global.IncrementDetailRequests()

	status := DetailStarted
	if hadSummary {
		status = DetailRefreshing
	}
	return DetailResponse{Status: status, Record: rec}, nil
}

func (c *DetailCoordinator) buildRequest(sourceID string, rec *store.Record, now time.Time) (Context, error) {
	src, ok := c.sources[sourceID]
	if !ok {
		src = synthesizeSource(sourceID)
	}

	link := urlnorm.EnsureSourceLink(sourceID, rec.Link)
	if link == "" {
		link = rec.Link
	}
	if link == "" {
		return Context{}, fmt.Errorf("item %s has no article link for detail generation", rec.ItemID)
	}

	return Context{
		Source:   Source{ID: sourceID, Name: src.Name, FeedURL: src.FeedURL, HomeURL: src.HomeURL, Topics: src.Topics},
		Endpoint: src.FeedURL,
		Item: Item{
			ID:          rec.ItemID,
			Link:        link,
			Title:       rec.Title,
			PublishedAt: rec.PublishedAt,
		},
		RequestContext: RequestContext{
			Reason:      "detail",
			Trigger:     "on_demand_summary",
			SourceID:    sourceID,
			RequestedAt: now.Unix(),
		},
		GenerateDetail: true,
	}, nil
}

// synthesizeSource fills in readable metadata for a source id missing from
// the catalog, so old records stay requestable after a catalog edit.
func synthesizeSource(sourceID string) feed.Source {
	readable := strings.ReplaceAll(sourceID, "-", " ")
	readable = strings.ReplaceAll(readable, "_", " ")
	words := strings.Fields(readable)
	for i, word := range words {
		words[i] = strings.ToUpper(word[:1]) + word[1:]
	}
	return feed.Source{ID: sourceID, Name: strings.Join(words, " ")}
}
