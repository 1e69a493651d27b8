// Package store persists summary records and source poll status. The
// Postgres implementation backs production; the pipeline depends only on the
// Store interface so tests can swap in fakes.
package store

import (
	"context"
	"time"
)

// Detail lifecycle statuses. A record starts as partial after bulk ingestion,
// moves to pending when an on-demand detail request claims it, and ends in
// ready or failed. Ready records past their TTL read as stale.
const (
	DetailPartial = "partial"
	DetailPending = "pending"
	DetailReady   = "ready"
	DetailStale   = "stale"
	DetailFailed  = "failed"
)

// Record is one stored summary item, keyed by (SourceID, ItemID). All
// timestamps are Unix epoch seconds; zero means unset.
type Record struct {
	SourceID    string   `json:"source_id"`
	ItemID      string   `json:"item_id"`
	Title       string   `json:"title"`
	Link        string   `json:"link"`
	SummaryLong string   `json:"summary_long"`
	DiffPoints  []string `json:"diff_points"`
	HeadlineJA  string   `json:"headline_ja,omitempty"`
	PublishedAt string   `json:"published_at,omitempty"`

	CreatedAt int64 `json:"created_at"`
	UpdatedAt int64 `json:"updated_at"`
	ExpiresAt int64 `json:"expires_at,omitempty"`

	DetailStatus        string `json:"detail_status"`
	DetailRequestedAt   int64  `json:"detail_requested_at,omitempty"`
	DetailReadyAt       int64  `json:"detail_ready_at,omitempty"`
	DetailExpiresAt     int64  `json:"detail_expires_at,omitempty"`
	DetailFailedAt      int64  `json:"detail_failed_at,omitempty"`
	DetailFailureReason string `json:"detail_failure_reason,omitempty"`
}

// EffectiveDetailStatus maps a ready record past its detail TTL to stale.
// Everything else reads back unchanged.
func (r *Record) EffectiveDetailStatus(now time.Time) string {
	if r.DetailStatus == DetailReady && r.DetailExpiresAt > 0 && r.DetailExpiresAt <= now.Unix() {
		return DetailStale
	}
	return r.DetailStatus
}

// DetailUsable reports whether the stored detailed summary can be served
// as-is: status ready, summary present, TTL not yet passed.
func (r *Record) DetailUsable(now time.Time) bool {
	return r.SummaryLong != "" && r.EffectiveDetailStatus(now) == DetailReady
}

// PendingTimedOut reports whether a pending detail request has outlived the
// timeout and should be reclassified as failed on the next poll. A zero or
// negative timeout disables the check.
func (r *Record) PendingTimedOut(now time.Time, timeout time.Duration) bool {
	if r.DetailStatus != DetailPending || timeout <= 0 || r.DetailRequestedAt == 0 {
		return false
	}
	return r.DetailRequestedAt+int64(timeout.Seconds()) <= now.Unix()
}

// SourceStatus records when a feed endpoint was last polled, keyed by
// (SourceID, FeedURL).
type SourceStatus struct {
	SourceID  string `json:"source_id"`
	FeedURL   string `json:"feed_url"`
	CheckedAt int64  `json:"checked_at"`
}

// Fresh reports whether the feed was polled recently enough to skip this
// round. A zero or negative threshold means every round polls.
func (s *SourceStatus) Fresh(now time.Time, threshold time.Duration) bool {
	if threshold <= 0 || s.CheckedAt == 0 {
		return false
	}
	return now.Unix()-s.CheckedAt < int64(threshold.Seconds())
}

// Store is the persistence boundary of the pipeline. GetItem and
// GetSourceStatus return (nil, nil) when no row exists. ClaimDetail is the
// compare-and-swap used for the pending-detail transition: it returns true
// for exactly one of any set of concurrent callers.
type Store interface {
	GetItem(ctx context.Context, sourceID, itemID string) (*Record, error)
	PutItem(ctx context.Context, rec Record) error
	ClaimDetail(ctx context.Context, sourceID, itemID string, requestedAt int64) (bool, error)
	MarkDetailFailed(ctx context.Context, sourceID, itemID, reason string, failedAt int64) error

	GetSourceStatus(ctx context.Context, sourceID, feedURL string) (*SourceStatus, error)
	PutSourceStatus(ctx context.Context, status SourceStatus) error
}
