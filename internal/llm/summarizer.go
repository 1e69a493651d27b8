package llm

import (
	"context"
	"errors"
	"time"

	"github.com/shiranui/newsdigest/internal/apperr"
	"github.com/shiranui/newsdigest/internal/logger"
	"github.com/shiranui/newsdigest/internal/summary"
)

// Meta records which provider produced a summary, and what happened to the
// primary when the fallback had to step in.
type Meta struct {
	Provider      string `json:"provider"`
	FallbackFrom  string `json:"fallback_from,omitempty"`
	FallbackError string `json:"fallback_error,omitempty"`
}

// Options tunes the retry behavior of the Summarizer.
type Options struct {
	MaxAttempts   int
	BackoffBase   time.Duration
	BackoffMax    time.Duration
	BodyCharLimit int
}

// Summarizer turns article bodies into parsed summaries via the configured
// providers.
type Summarizer struct {
	primary  Provider
	fallback Provider
	budget   *Budget
	opts     Options
}

func NewSummarizer(primary, fallback Provider, budget *Budget, opts Options) *Summarizer {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 5
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 5 * time.Second
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = 60 * time.Second
	}
	return &Summarizer{primary: primary, fallback: fallback, budget: budget, opts: opts}
}

// Summarize builds the prompt, calls the primary provider with backoff on
// throttling, and falls back to the secondary provider when the primary is
// exhausted. The raw output is parsed leniently and never fails; provider
// errors do.
func (s *Summarizer) Summarize(ctx context.Context, cfg summary.PromptConfig, body string) (summary.Result, Meta, error) {
	prompt := summary.BuildPrompt(cfg, body, s.opts.BodyCharLimit)

	text, err := s.invoke(ctx, s.primary, prompt)
	if err == nil {
		return summary.ParseModelOutput(text), Meta{Provider: s.primary.Name()}, nil
	}
	if s.fallback == nil {
		return summary.Result{}, Meta{}, err
	}

	logger.Warn("primary summarization failed, trying fallback",
		"primary", s.primary.Name(), "fallback", s.fallback.Name(), "error", err)
	text, fbErr := s.invoke(ctx, s.fallback, prompt)
	if fbErr != nil {
		return summary.Result{}, Meta{}, errors.Join(err, fbErr)
	}
	return summary.ParseModelOutput(text), Meta{
		Provider:      s.fallback.Name(),
		FallbackFrom:  s.primary.Name(),
		FallbackError: err.Error(),
	}, nil
}

// invoke calls one provider, retrying throttled responses with exponential
// backoff up to MaxAttempts.
func (s *Summarizer) invoke(ctx context.Context, provider Provider, prompt summary.Prompt) (string, error) {
	backoff := s.opts.BackoffBase
	var lastErr error

	for attempt := 1; attempt <= s.opts.MaxAttempts; attempt++ {
		if s.budget != nil && !s.budget.CanUse(provider.Name()) {
			return "", &apperr.ExternalServiceError{
				Service:   provider.Name(),
				Err:       errors.New("request budget exhausted"),
				Throttled: true,
			}
		}
		if s.budget != nil {
			s.budget.Record(provider.Name())
		}

		text, err := provider.Generate(ctx, prompt)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !apperr.IsThrottled(err) || attempt == s.opts.MaxAttempts {
			return "", err
		}

		logger.Warn("provider throttled, backing off",
			"provider", provider.Name(), "attempt", attempt, "max", s.opts.MaxAttempts, "sleep", backoff)
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > s.opts.BackoffMax {
			backoff = s.opts.BackoffMax
		}
	}
	return "", lastErr
}
