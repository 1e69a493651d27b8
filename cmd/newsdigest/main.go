package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"sync"

	"github.com/shiranui/newsdigest/internal/alert"
	"github.com/shiranui/newsdigest/internal/apperr"
	"github.com/shiranui/newsdigest/internal/config"
	"github.com/shiranui/newsdigest/internal/feed"
	"github.com/shiranui/newsdigest/internal/fetch"
	"github.com/shiranui/newsdigest/internal/llm"
	"github.com/shiranui/newsdigest/internal/logger"
	"github.com/shiranui/newsdigest/internal/metrics"
	"github.com/shiranui/newsdigest/internal/pipeline"
	"github.com/shiranui/newsdigest/internal/queue"
	"github.com/shiranui/newsdigest/internal/secrets"
	"github.com/shiranui/newsdigest/internal/store"
)

func main() {
	logger.Init()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		logger.Error("run failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx := context.Background()

	if cfg.DatabaseURL == "" {
		return apperr.NewConfigError("DATABASE_URL is required")
	}
	st, err := store.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer st.Close()

	catalog, err := feed.LoadCatalog(cfg.SourcesConfigPath)
	if err != nil {
		return err
	}

	articleFetcher := fetch.NewClient(fetch.Options{
		UserAgent:   cfg.UserAgent,
		Timeout:     cfg.RequestTimeout,
		MaxAttempts: cfg.FetchAttempts,
		BaseDelay:   cfg.FetchBaseDelay,
		MaxDelay:    cfg.FetchMaxDelay,
	})
	feedFetcher := fetch.NewClient(fetch.Options{
		UserAgent:   cfg.FeedUserAgent,
		Timeout:     cfg.RequestTimeout,
		MaxAttempts: cfg.FetchAttempts,
		BaseDelay:   cfg.FetchBaseDelay,
		MaxDelay:    cfg.FetchMaxDelay,
	})

	secretCache := secrets.NewCache(secrets.EnvStore{})
	resolveKey := func(inline, secretName string) (string, error) {
		if inline == "" && secretName == "" {
			return "", nil
		}
		return secrets.ResolveAPIToken(ctx, secretCache, inline, secretName)
	}
	geminiKey, err := resolveKey(cfg.GeminiAPIKey, cfg.GeminiAPIKeySecret)
	if err != nil {
		return err
	}
	anthropicKey, err := resolveKey(cfg.AnthropicAPIKey, cfg.AnthropicAPIKeySecret)
	if err != nil {
		return err
	}

	var primary, fallback llm.Provider
	if geminiKey != "" {
		gemini, err := llm.NewGemini(ctx, geminiKey, cfg.GeminiModel)
		if err != nil {
			return err
		}
		defer gemini.Close()
		primary = gemini
	}
	if anthropicKey != "" {
		anthropic := llm.NewAnthropic(anthropicKey, cfg.AnthropicModel)
		if primary == nil {
			primary = anthropic
		} else {
			fallback = anthropic
		}
	}
	if primary == nil {
		return apperr.NewConfigError("no LLM provider token could be resolved")
	}
	summarizer := llm.NewSummarizer(primary, fallback, llm.NewBudget(cfg.MaxLLMRequests, nil), llm.Options{
		MaxAttempts:   cfg.LLMMaxAttempts,
		BackoffBase:   cfg.LLMBackoffBase,
		BackoffMax:    cfg.LLMBackoffMax,
		BodyCharLimit: cfg.PromptBodyCharLimit,
	})

	alerts := alert.New(cfg.AlertTelegramToken, cfg.AlertTelegramChatID)
	q := queue.NewMemory(256)

	worker := pipeline.NewWorker(articleFetcher, st, summarizer, secretCache, alerts, pipeline.WorkerOptions{
		MaxArticleBytes:  cfg.MaxArticleBytes,
		SimhashBits:      cfg.SimhashBits,
		FeedEntryLimit:   cfg.FeedEntryLimit,
		PromptSecretName: cfg.PromptSecretName,
		SummaryTTL:       cfg.SummaryTTL,
		DetailTTL:        cfg.DetailTTL,
		FailureReasonMax: cfg.DetailFailureReasonMax,
	})
	dispatcher := pipeline.NewDispatcher(feedFetcher, st, q, pipeline.DispatcherOptions{
		EntryLimit:       cfg.FeedEntryLimit,
		RefreshThreshold: cfg.FeedRefreshThreshold,
	})
	details := pipeline.NewDetailCoordinator(st, q, catalog, pipeline.DetailOptions{
		PendingTimeout: cfg.DetailPendingTimeout,
	})

	if os.Getenv("ENABLE_HTTP_MONITORING") == "true" {
		go startMonitoringServer(cfg.MonitoringPort, details)
	}

	var wg sync.WaitGroup
	for i := 0; i < cfg.WorkerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := pipeline.Consume(ctx, q, worker); err != nil {
				logger.Error("consumer stopped", "error", err)
			}
		}()
	}

	for _, src := range catalog {
		result, err := dispatcher.Dispatch(ctx, src, cfg.ForceFetch)
		if err != nil {
			logger.Error("dispatch failed", "source", src.ID, "error", err)
			continue
		}
		if result.Skipped {
			logger.Info("source skipped", "source", src.ID, "feed", result.FeedURL)
		}
	}

	q.Close()
	wg.Wait()

	metrics.Global.SetLastRun()
	logger.Info("run complete")
	return nil
}

func startMonitoringServer(port string, details *pipeline.DetailCoordinator) {
	http.HandleFunc("/health", healthHandler)
	http.HandleFunc("/metrics", metricsHandler)
	http.HandleFunc("/detail", detailHandler(details))

	logger.Info("starting monitoring server", "port", port)
	if err := http.ListenAndServe(":"+port, nil); err != nil {
		logger.Error("monitoring server error", "error", err)
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	stats := metrics.Global.GetStats()

	status := "ok"
	if !stats["is_healthy"].(bool) {
		status = "error"
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	response := map[string]interface{}{
		"status":     status,
		"last_run":   stats["last_run_time"],
		"last_error": stats["last_error"],
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func metricsHandler(w http.ResponseWriter, r *http.Request) {
	stats := metrics.Global.GetStats()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// detailHandler triggers or polls on-demand detailed summarization for one
// stored item: GET /detail?source=<id>&item=<id>.
func detailHandler(details *pipeline.DetailCoordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sourceID := r.URL.Query().Get("source")
		itemID := r.URL.Query().Get("item")
		if sourceID == "" || itemID == "" {
			http.Error(w, "source and item query parameters are required", http.StatusBadRequest)
			return
		}

		resp, err := details.Request(r.Context(), sourceID, itemID)
		if err != nil {
			if errors.Is(err, pipeline.ErrItemNotFound) {
				http.Error(w, "item not found", http.StatusNotFound)
				return
			}
			logger.Error("detail request failed", "source", sourceID, "item", itemID, "error", err)
			http.Error(w, "detail request failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}
