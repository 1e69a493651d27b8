package metrics

import (
	"sync"
	"time"
)

type Metrics struct {
	mu sync.RWMutex

	// Counters
	ItemsProcessed      int64
	DuplicatesSkipped   int64
	FetchFailures       int64
	SummariesGenerated  int64
	SummariesRejected   int64
	DetailRequests      int64
	DetailFailures      int64
	AlertsSent          int64

	// Timings
	LastPipelineTime    time.Duration
	AveragePipelineTime time.Duration
	TotalPipelineTime   time.Duration
	PipelineCount       int64

	// Status
	LastRunTime   time.Time
	LastErrorTime time.Time
	LastError     string
	IsHealthy     bool
}

var Global = &Metrics{IsHealthy: true}

func (m *Metrics) IncrementItemsProcessed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ItemsProcessed++
}

func (m *Metrics) IncrementDuplicatesSkipped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DuplicatesSkipped++
}

func (m *Metrics) IncrementFetchFailures() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FetchFailures++
}

func (m *Metrics) IncrementSummariesGenerated() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SummariesGenerated++
}

func (m *Metrics) IncrementSummariesRejected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SummariesRejected++
}

func (m *Metrics) IncrementDetailRequests() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DetailRequests++
}

func (m *Metrics) IncrementDetailFailures() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DetailFailures++
}

func (m *Metrics) IncrementAlertsSent() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AlertsSent++
}

func (m *Metrics) RecordPipelineTime(duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.LastPipelineTime = duration
	m.TotalPipelineTime += duration
	m.PipelineCount++

	if m.PipelineCount > 0 {
		m.AveragePipelineTime = m.TotalPipelineTime / time.Duration(m.PipelineCount)
	}
}

func (m *Metrics) SetLastRun() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LastRunTime = time.Now()
	m.IsHealthy = true
}

func (m *Metrics) SetError(err string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LastError = err
	m.LastErrorTime = time.Now()
	m.IsHealthy = false
}

func (m *Metrics) GetStats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]interface{}{
		"items_processed":          m.ItemsProcessed,
		"duplicates_skipped":       m.DuplicatesSkipped,
		"fetch_failures":           m.FetchFailures,
		"summaries_generated":      m.SummariesGenerated,
		"summaries_rejected":       m.SummariesRejected,
		"detail_requests":          m.DetailRequests,
		"detail_failures":          m.DetailFailures,
		"alerts_sent":              m.AlertsSent,
		"last_pipeline_time_ms":    m.LastPipelineTime.Milliseconds(),
		"average_pipeline_time_ms": m.AveragePipelineTime.Milliseconds(),
		"last_run_time":            m.LastRunTime.Format(time.RFC3339),
		"last_error_time":          m.LastErrorTime.Format(time.RFC3339),
		"last_error":               m.LastError,
		"is_healthy":               m.IsHealthy,
	}
}
