package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shiranui/newsdigest/internal/feed"
	"github.com/shiranui/newsdigest/internal/logger"
	"github.com/shiranui/newsdigest/internal/metrics"
	"github.com/shiranui/newsdigest/internal/queue"
	"github.com/shiranui/newsdigest/internal/store"
	"github.com/shiranui/newsdigest/internal/urlnorm"
)

type DispatcherOptions struct {
	EntryLimit       int
	RefreshThreshold time.Duration
}

// Dispatcher polls source feeds, builds deterministic items from their
// entries and enqueues one processing request per new item. Duplicate
// suppression happens here, before enqueue: an item already in the store is
// skipped.
type Dispatcher struct {
	fetcher   Fetcher
	store     store.Store
	publisher queue.Publisher
	opts      DispatcherOptions
	now       func() time.Time
}

func NewDispatcher(fetcher Fetcher, st store.Store, publisher queue.Publisher, opts DispatcherOptions) *Dispatcher {
	if opts.EntryLimit <= 0 {
		opts.EntryLimit = feed.DefaultEntryLimit
	}
	return &Dispatcher{
		fetcher:   fetcher,
		store:     st,
		publisher: publisher,
		opts:      opts,
		now:       time.Now,
	}
}

type DispatchResult struct {
	FeedURL    string
	Skipped    bool // feed polled recently, nothing fetched
	Enqueued   int
	Duplicates int
}

// Dispatch processes one catalog source: resolve the feed endpoint, skip
// when it was polled within the refresh threshold (unless forced), parse the
// entries and enqueue the new ones.
func (d *Dispatcher) Dispatch(ctx context.Context, src feed.Source, force bool) (DispatchResult, error) {
	feedURL := feed.ResolveFeedURL(src.HomeURL, src.FeedURL)
	result := DispatchResult{FeedURL: feedURL}

	status, err := d.store.GetSourceStatus(ctx, src.ID, feedURL)
	if err != nil {
		logger.Warn("source status lookup failed", "source", src.ID, "error", err)
	}
	if !force && status != nil && status.Fresh(d.now(), d.opts.RefreshThreshold) {
		logger.Debug("feed polled recently, skipping", "source", src.ID, "feed", feedURL)
		result.Skipped = true
		return result, nil
	}

	data, _, err := d.fetcher.Fetch(ctx, feedURL, nil)
	if err != nil {
		metrics.Global.IncrementFetchFailures()
		return result, fmt.Errorf("fetching feed %s: %w", feedURL, err)
	}
	entries, err := feed.Parse(data, d.opts.EntryLimit)
	if err != nil {
		return result, err
	}

	for _, entry := range entries {
		item := buildItem(src.ID, entry)

		existing, err := d.store.GetItem(ctx, src.ID, item.ID)
		if err != nil {
			logger.Warn("duplicate check failed, enqueuing anyway", "item", item.ID, "error", err)
		}
		if existing != nil {
			result.Duplicates++
			metrics.Global.IncrementDuplicatesSkipped()
			logger.Debug("skipping duplicate item", "item", item.ID, "link", item.Link)
			continue
		}

		pc := Context{
			Source:         Source{ID: src.ID, Name: src.Name, FeedURL: src.FeedURL, HomeURL: src.HomeURL, Topics: src.Topics},
			Endpoint:       feedURL,
			Item:           item,
			RequestContext: RequestContext{Reason: "ingest", SourceID: src.ID},
		}
		body, err := json.Marshal(pc)
		if err != nil {
			return result, fmt.Errorf("encoding pipeline request: %w", err)
		}
		if err := d.publisher.Publish(ctx, body); err != nil {
			return result, fmt.Errorf("enqueuing item %s: %w", item.ID, err)
		}
		result.Enqueued++
	}

	if err := d.store.PutSourceStatus(ctx, store.SourceStatus{
		SourceID:  src.ID,
		FeedURL:   feedURL,
		CheckedAt: d.now().Unix(),
	}); err != nil {
		logger.Warn("failed to record source status", "source", src.ID, "error", err)
	}

	logger.Info("dispatched source", "source", src.ID,
		"enqueued", result.Enqueued, "duplicates", result.Duplicates)
	return result, nil
}

// buildItem derives the immutable item for a feed entry. The id is a pure
// function of the normalized link, so rediscovery is idempotent.
func buildItem(sourceID string, entry feed.Entry) Item {
	link := urlnorm.EnsureSourceLink(sourceID, entry.Link)
	if link == "" {
		link = entry.Link
	}
	normalized, fingerprint := urlnorm.Normalize(link)

	item := Item{
		ID:              urlnorm.ItemID(sourceID, normalized, link),
		Link:            link,
		Title:           entry.Title,
		NormalizedLink:  normalized,
		LinkFingerprint: fingerprint,
	}
	if entry.PublishedAt != nil {
		item.PublishedAt = entry.PublishedAt.UTC().Format(time.RFC3339)
	}
	return item
}
