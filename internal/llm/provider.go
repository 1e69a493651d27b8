// Package llm drives the summarization model calls: a primary provider with
// throttle-aware backoff, an optional fallback provider, and a daily request
// budget shared across both.
package llm

import (
	"context"
	"sync"
	"time"

	"github.com/shiranui/newsdigest/internal/logger"
	"github.com/shiranui/newsdigest/internal/summary"
)

// Provider generates raw model output for a prompt.
type Provider interface {
	Name() string
	Generate(ctx context.Context, prompt summary.Prompt) (string, error)
}

// Budget caps how many model requests the process may issue per day, in
// total and per provider. Zero limits mean unlimited.
type Budget struct {
	mu       sync.Mutex
	counts   map[string]int
	total    int
	maxPer   map[string]int
	maxTotal int
	resetAt  time.Time
}

func NewBudget(maxTotal int, maxPerProvider map[string]int) *Budget {
	return &Budget{
		counts:   make(map[string]int),
		maxPer:   maxPerProvider,
		maxTotal: maxTotal,
		resetAt:  time.Now().Add(24 * time.Hour),
	}
}

func (b *Budget) checkReset() {
	if time.Now().After(b.resetAt) {
		b.counts = make(map[string]int)
		b.total = 0
		b.resetAt = time.Now().Add(24 * time.Hour)
		logger.Info("LLM request budget reset")
	}
}

// CanUse reports whether another request to the provider fits the budget.
func (b *Budget) CanUse(provider string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.checkReset()

	if max, ok := b.maxPer[provider]; ok && max > 0 && b.counts[provider] >= max {
		logger.Warn("provider request budget reached", "provider", provider, "used", b.counts[provider], "max", max)
		return false
	}
	if b.maxTotal > 0 && b.total >= b.maxTotal {
		logger.Warn("total LLM request budget reached", "used", b.total, "max", b.maxTotal)
		return false
	}
	return true
}

// Record counts one issued request.
func (b *Budget) Record(provider string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.checkReset()
	b.counts[provider]++
	b.total++
}

// Stats returns a snapshot of budget usage.
func (b *Budget) Stats() map[string]int {
	b.mu.Lock()
	defer b.mu.Unlock()
	stats := map[string]int{"total": b.total}
	for provider, count := range b.counts {
		stats[provider] = count
	}
	return stats
}
