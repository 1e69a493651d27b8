package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"

	"github.com/shiranui/newsdigest/internal/apperr"
	"github.com/shiranui/newsdigest/internal/extract"
	"github.com/shiranui/newsdigest/internal/feed"
	"github.com/shiranui/newsdigest/internal/fetch"
	"github.com/shiranui/newsdigest/internal/llm"
	"github.com/shiranui/newsdigest/internal/logger"
	"github.com/shiranui/newsdigest/internal/metrics"
	"github.com/shiranui/newsdigest/internal/secrets"
	"github.com/shiranui/newsdigest/internal/store"
	"github.com/shiranui/newsdigest/internal/summary"
	"github.com/shiranui/newsdigest/internal/urlnorm"
)

// lightweightSummaryRunes caps the cheap extractive summary produced for
// bulk ingestion runs.
const lightweightSummaryRunes = 600

const emptyBodyMessage = "本文が取得できませんでした。"

// Fetcher retrieves raw bytes over HTTP. Satisfied by fetch.Client.
type Fetcher interface {
	Fetch(ctx context.Context, url string, headers map[string]string) ([]byte, fetch.ResponseMeta, error)
}

// Summarizer produces a parsed summary for an article body. Satisfied by
// llm.Summarizer.
type Summarizer interface {
	Summarize(ctx context.Context, cfg summary.PromptConfig, body string) (summary.Result, llm.Meta, error)
}

// Notifier is the alert channel for detail-mode failures. Satisfied by
// alert.Notifier; a disabled notifier turns alerting off.
type Notifier interface {
	Enabled() bool
	Notify(ctx context.Context, text string) error
}

// Archiver optionally persists raw article bodies for auditing. A nil
// archiver disables archival.
type Archiver interface {
	Archive(ctx context.Context, sourceID, itemID string, body []byte) error
}

type WorkerOptions struct {
	MaxArticleBytes  int
	SimhashBits      int
	FeedEntryLimit   int
	PromptSecretName string
	SummaryTTL       time.Duration
	DetailTTL        time.Duration
	FailureReasonMax int
	Archiver         Archiver
}

// Worker runs the stage sequence for one item to completion. Workers share
// no mutable state; any number may run concurrently against the same store.
type Worker struct {
	fetcher    Fetcher
	store      store.Store
	summarizer Summarizer
	secrets    secrets.Store
	alerts     Notifier
	opts       WorkerOptions
	now        func() time.Time
}

func NewWorker(fetcher Fetcher, st store.Store, summarizer Summarizer, secretStore secrets.Store, alerts Notifier, opts WorkerOptions) *Worker {
	if opts.MaxArticleBytes <= 0 {
		opts.MaxArticleBytes = 200000
	}
	if opts.SimhashBits <= 0 {
		opts.SimhashBits = 64
	}
	if opts.FeedEntryLimit <= 0 {
		opts.FeedEntryLimit = feed.DefaultEntryLimit
	}
	if opts.FailureReasonMax <= 0 {
		opts.FailureReasonMax = 256
	}
	return &Worker{
		fetcher:    fetcher,
		store:      st,
		summarizer: summarizer,
		secrets:    secretStore,
		alerts:     alerts,
		opts:       opts,
		now:        time.Now,
	}
}

// Process runs all stages for one item. Stage errors abort the run and
// propagate; for detail-mode runs the failure is additionally persisted and
// alerted. A duplicate item returns apperr.ErrDuplicateItem, which is a skip
// outcome rather than a failure.
func (w *Worker) Process(ctx context.Context, pc Context) (Context, error) {
	start := time.Now()

	out, err := w.run(ctx, pc)
	if err != nil {
		if errors.Is(err, apperr.ErrDuplicateItem) {
			metrics.Global.IncrementDuplicatesSkipped()
			return pc, err
		}
		metrics.Global.SetError(err.Error())
		if pc.DetailRequested() {
			w.failDetail(ctx, pc, err)
		}
		return pc, err
	}

	metrics.Global.IncrementItemsProcessed()
	metrics.Global.RecordPipelineTime(time.Since(start))
	return out, nil
}

func (w *Worker) run(ctx context.Context, pc Context) (Context, error) {
	// At-least-once delivery means a message can come back after its item
	// was stored. Detail runs intentionally reprocess existing records.
	if !pc.DetailRequested() {
		existing, err := w.store.GetItem(ctx, pc.Source.ID, pc.Item.ID)
		if err != nil {
			logger.Warn("duplicate check failed, continuing", "item", pc.Item.ID, "error", err)
		} else if existing != nil {
			return pc, apperr.ErrDuplicateItem
		}
	}

	if err := w.collect(ctx, &pc); err != nil {
		return pc, err
	}
	if err := w.fingerprint(&pc); err != nil {
		return pc, err
	}
	if err := w.summarize(ctx, &pc); err != nil {
		return pc, err
	}
	if pc.DetailRequested() {
		w.validate(&pc)
	}
	if err := w.storeResult(ctx, &pc); err != nil {
		return pc, err
	}
	return pc, nil
}

// collect fetches the article page and extracts its plain-text body. When
// page extraction stays below the substantial-length bar, the feed document
// is fetched and the matching entry's embedded content may substitute.
func (w *Worker) collect(ctx context.Context, pc *Context) error {
	link := pc.Item.Link
	if link == "" {
		return fmt.Errorf("item %s has no link to fetch", pc.Item.ID)
	}

	raw, meta, err := w.fetcher.Fetch(ctx, link, nil)
	if err != nil {
		metrics.Global.IncrementFetchFailures()
		return fmt.Errorf("fetching article %s: %w", link, err)
	}
	page := decodeBody(raw, meta.Charset)

	article := extract.ArticleBody(link, page)
	if !extract.Substantial(article) {
		if entries := w.feedEntries(ctx, pc, link); entries != nil {
			article = extract.BodyWithFallback(link, page, entries)
		}
	}

	pc.ArticleBody = extract.TruncateBytes(article, w.opts.MaxArticleBytes)
	logger.Debug("article collected", "item", pc.Item.ID, "bytes", len(pc.ArticleBody))
	return nil
}

// feedEntries fetches and parses the source feed for the extraction
// fallback. Failures here never abort the run; the page body stands.
func (w *Worker) feedEntries(ctx context.Context, pc *Context, link string) []feed.Entry {
	feedURL := feed.ResolveFeedURL(link, pc.Endpoint)
	if feedURL == "" {
		return nil
	}
	data, _, err := w.fetcher.Fetch(ctx, feedURL, nil)
	if err != nil {
		logger.Warn("feed fallback fetch failed", "feed", feedURL, "error", err)
		return nil
	}
	entries, err := feed.Parse(data, w.opts.FeedEntryLimit)
	if err != nil {
		logger.Warn("feed fallback parse failed", "feed", feedURL, "error", err)
		return nil
	}
	return entries
}

func (w *Worker) fingerprint(pc *Context) error {
	fp, err := urlnorm.ComputeFingerprint(pc.Item.Link, pc.ArticleBody, w.opts.SimhashBits)
	if err != nil {
		return err
	}
	pc.Fingerprint = &fp
	return nil
}

// summarize fills the summary stage output. Bulk runs take the cheap
// extractive path; only explicitly flagged detail runs call the LLM.
func (w *Worker) summarize(ctx context.Context, pc *Context) error {
	if !pc.DetailRequested() {
		result := lightweightSummary(pc.ArticleBody)
		pc.Summaries = &result
		return nil
	}

	cfg := summary.PromptConfig{}
	if w.opts.PromptSecretName != "" {
		loaded, err := secrets.LoadPromptConfig(ctx, w.secrets, w.opts.PromptSecretName)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	result, meta, err := w.summarizer.Summarize(ctx, cfg, pc.ArticleBody)
	if err != nil {
		return err
	}
	result = summary.EnforceQuality(pc.ArticleBody, result)
	if result.SummaryLong == "" {
		metrics.Global.IncrementSummariesRejected()
	} else {
		metrics.Global.IncrementSummariesGenerated()
	}

	pc.Summaries = &result
	pc.LLM = &meta
	return nil
}

// validate backfills missing facts from the article and checks each one for
// presence in the source text.
func (w *Worker) validate(pc *Context) {
	points := summary.EnsureDiffPoints(pc.ArticleBody, *pc.Summaries)
	validation := summary.ValidateFacts(points, pc.ArticleBody)

	updated := *pc.Summaries
	updated.DiffPoints = points
	pc.Summaries = &updated
	pc.Validation = &validation
}

// storeResult persists the record, merging with any existing row: created_at
// is preserved, and a bulk run never clobbers a detailed summary that is
// already ready.
func (w *Worker) storeResult(ctx context.Context, pc *Context) error {
	if pc.Summaries == nil {
		return fmt.Errorf("nothing to store for item %s", pc.Item.ID)
	}
	isDetail := pc.DetailRequested()
	now := w.now().Unix()

	if w.opts.Archiver != nil && pc.ArticleBody != "" {
		if err := w.opts.Archiver.Archive(ctx, pc.Source.ID, pc.Item.ID, []byte(pc.ArticleBody)); err != nil {
			logger.Warn("failed to archive raw body", "item", pc.Item.ID, "error", err)
		}
	}

	existing, err := w.store.GetItem(ctx, pc.Source.ID, pc.Item.ID)
	if err != nil {
		logger.Debug("failed to load existing record for merge", "item", pc.Item.ID, "error", err)
		existing = nil
	}

	finalized := summary.FinalizeForStore(*pc.Summaries)
	summaryLong := finalized.SummaryLong
	if !isDetail {
		existingReady := existing != nil && existing.SummaryLong != "" &&
			(existing.DetailStatus == store.DetailReady || existing.DetailStatus == store.DetailStale)
		if existingReady {
			summaryLong = existing.SummaryLong
		} else {
			summaryLong = ""
		}
	}
	detailReady := isDetail && summaryLong != ""

	link := urlnorm.EnsureSourceLink(pc.Source.ID, pc.Item.Link)
	if link == "" {
		link = pc.Item.Link
	}

	rec := store.Record{
		SourceID:    pc.Source.ID,
		ItemID:      pc.Item.ID,
		Title:       truncateTitle(pc.Item.Title, 120),
		Link:        link,
		SummaryLong: summaryLong,
		DiffPoints:  finalized.DiffPoints,
		PublishedAt: pc.Item.PublishedAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if existing != nil && existing.CreatedAt != 0 {
		rec.CreatedAt = existing.CreatedAt
	}
	if w.opts.SummaryTTL > 0 {
		rec.ExpiresAt = now + int64(w.opts.SummaryTTL.Seconds())
	}

	// The fallback headline comes from the run's own summary, not the merged
	// stored value; bulk runs clear the stored summary but still need one.
	switch {
	case summary.ContainsJapanese(pc.Item.Title):
		rec.HeadlineJA = strings.TrimSpace(pc.Item.Title)
	case summary.ContainsJapanese(finalized.SummaryLong):
		rec.HeadlineJA = truncateTitle(finalized.SummaryLong, 90)
	}

	switch {
	case detailReady:
		rec.DetailStatus = store.DetailReady
		rec.DetailReadyAt = now
		if w.opts.DetailTTL > 0 {
			rec.DetailExpiresAt = now + int64(w.opts.DetailTTL.Seconds())
		}
	case existing != nil && existing.DetailStatus == store.DetailReady && existing.DetailReadyAt != 0:
		rec.DetailStatus = store.DetailReady
		rec.DetailReadyAt = existing.DetailReadyAt
		rec.DetailExpiresAt = existing.DetailExpiresAt
	default:
		rec.DetailStatus = store.DetailPartial
	}
	if pc.RequestContext.RequestedAt != 0 {
		rec.DetailRequestedAt = pc.RequestContext.RequestedAt
	}

	if err := w.store.PutItem(ctx, rec); err != nil {
		return fmt.Errorf("storing item %s: %w", pc.Item.ID, err)
	}
	if detailReady {
		logger.Debug("detailed summary persisted", "source", pc.Source.ID, "item", pc.Item.ID)
	}
	return nil
}

// failDetail records the failure state and alerts, best-effort. Neither a
// store nor an alert error escalates into the propagated pipeline error.
func (w *Worker) failDetail(ctx context.Context, pc Context, cause error) {
	reason := truncateRunes(cause.Error(), w.opts.FailureReasonMax)
	if err := w.store.MarkDetailFailed(ctx, pc.Source.ID, pc.Item.ID, reason, w.now().Unix()); err != nil {
		logger.Error("failed to record detail failure", "item", pc.Item.ID, "error", err)
	}
	metrics.Global.IncrementDetailFailures()

	if w.alerts == nil || !w.alerts.Enabled() {
		return
	}
	text := fmt.Sprintf("詳細要約の生成に失敗しました\nsource: %s\nitem: %s\nreason: %s",
		pc.Source.ID, pc.Item.ID, reason)
	if err := w.alerts.Notify(ctx, text); err != nil {
		logger.Warn("detail failure alert not delivered", "error", err)
	} else {
		metrics.Global.IncrementAlertsSent()
	}
}

func lightweightSummary(body string) summary.Result {
	text := strings.TrimSpace(body)
	if text == "" {
		text = emptyBodyMessage
	}
	var paragraphs []string
	for _, line := range strings.Split(text, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			paragraphs = append(paragraphs, trimmed)
		}
	}
	head := truncateRunes(strings.Join(paragraphs, " "), lightweightSummaryRunes)
	return summary.Result{
		SummaryLong: summary.JapaneseLines(strings.TrimSpace(head)),
		DiffPoints:  []string{},
	}
}

// decodeBody converts raw response bytes to a string honoring the declared
// charset. Unknown or broken encodings fall back to the raw bytes.
func decodeBody(raw []byte, charset string) string {
	if charset == "" || strings.EqualFold(charset, "utf-8") {
		return string(raw)
	}
	enc, err := htmlindex.Get(charset)
	if err != nil || enc == nil {
		logger.Debug("unknown charset, using raw bytes", "charset", charset)
		return string(raw)
	}
	decoded, _, err := transform.Bytes(enc.NewDecoder(), raw)
	if err != nil {
		logger.Debug("charset decode failed, using raw bytes", "charset", charset, "error", err)
		return string(raw)
	}
	return string(decoded)
}

func truncateRunes(text string, max int) string {
	runes := []rune(text)
	if max <= 0 || len(runes) <= max {
		return text
	}
	return string(runes[:max])
}

func truncateTitle(title string, max int) string {
	clean := strings.TrimSpace(title)
	runes := []rune(clean)
	if len(runes) <= max {
		return clean
	}
	head := strings.TrimRightFunc(string(runes[:max-1]), unicode.IsSpace)
	return head + "…"
}
