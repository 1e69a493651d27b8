package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/shiranui/newsdigest/internal/logger"
	"github.com/shiranui/newsdigest/internal/retry"
)

// Postgres implements Store on top of a PostgreSQL database.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(connectionString string) (*Postgres, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// The database may still be starting; ping with a short bounded retry.
	err = retry.WithRetry(context.Background(), retry.RetryConfig{
		MaxAttempts: 3,
		Delay:       2 * time.Second,
		Backoff:     true,
	}, db.Ping)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	p := &Postgres{db: db}
	if err := p.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	logger.Info("summary store connected")
	return p, nil
}

func (p *Postgres) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS summary_items (
		source_id TEXT NOT NULL,
		item_id TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		link TEXT NOT NULL DEFAULT '',
		summary_long TEXT NOT NULL DEFAULT '',
		diff_points JSONB NOT NULL DEFAULT '[]',
		headline_ja TEXT NOT NULL DEFAULT '',
		published_at TEXT NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL,
		expires_at BIGINT NOT NULL DEFAULT 0,
		detail_status TEXT NOT NULL DEFAULT 'partial',
		detail_requested_at BIGINT NOT NULL DEFAULT 0,
		detail_ready_at BIGINT NOT NULL DEFAULT 0,
		detail_expires_at BIGINT NOT NULL DEFAULT 0,
		detail_failed_at BIGINT NOT NULL DEFAULT 0,
		detail_failure_reason TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (source_id, item_id)
	);

	CREATE INDEX IF NOT EXISTS idx_summary_items_updated_at ON summary_items(updated_at);

	CREATE TABLE IF NOT EXISTS source_status (
		source_id TEXT NOT NULL,
		feed_url TEXT NOT NULL,
		checked_at BIGINT NOT NULL,
		PRIMARY KEY (source_id, feed_url)
	);
	`

	if _, err := p.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (p *Postgres) GetItem(ctx context.Context, sourceID, itemID string) (*Record, error) {
	query := `
		SELECT source_id, item_id, title, link, summary_long, diff_points,
		       headline_ja, published_at, created_at, updated_at, expires_at,
		       detail_status, detail_requested_at, detail_ready_at,
		       detail_expires_at, detail_failed_at, detail_failure_reason
		FROM summary_items
		WHERE source_id = $1 AND item_id = $2
	`

	var rec Record
	var diffPoints []byte
	err := p.db.QueryRowContext(ctx, query, sourceID, itemID).Scan(
		&rec.SourceID, &rec.ItemID, &rec.Title, &rec.Link, &rec.SummaryLong, &diffPoints,
		&rec.HeadlineJA, &rec.PublishedAt, &rec.CreatedAt, &rec.UpdatedAt, &rec.ExpiresAt,
		&rec.DetailStatus, &rec.DetailRequestedAt, &rec.DetailReadyAt,
		&rec.DetailExpiresAt, &rec.DetailFailedAt, &rec.DetailFailureReason,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load item %s/%s: %w", sourceID, itemID, err)
	}
	if err := json.Unmarshal(diffPoints, &rec.DiffPoints); err != nil {
		return nil, fmt.Errorf("failed to decode diff points for %s/%s: %w", sourceID, itemID, err)
	}
	return &rec, nil
}

func (p *Postgres) PutItem(ctx context.Context, rec Record) error {
	points := rec.DiffPoints
	if points == nil {
		points = []string{}
	}
	diffPoints, err := json.Marshal(points)
	if err != nil {
		return fmt.Errorf("failed to encode diff points: %w", err)
	}

	query := `
		INSERT INTO summary_items (
			source_id, item_id, title, link, summary_long, diff_points,
			headline_ja, published_at, created_at, updated_at, expires_at,
			detail_status, detail_requested_at, detail_ready_at,
			detail_expires_at, detail_failed_at, detail_failure_reason
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (source_id, item_id) DO UPDATE SET
			title = EXCLUDED.title,
			link = EXCLUDED.link,
			summary_long = EXCLUDED.summary_long,
			diff_points = EXCLUDED.diff_points,
			headline_ja = EXCLUDED.headline_ja,
			published_at = EXCLUDED.published_at,
			created_at = EXCLUDED.created_at,
			updated_at = EXCLUDED.updated_at,
			expires_at = EXCLUDED.expires_at,
			detail_status = EXCLUDED.detail_status,
			detail_requested_at = EXCLUDED.detail_requested_at,
			detail_ready_at = EXCLUDED.detail_ready_at,
			detail_expires_at = EXCLUDED.detail_expires_at,
			detail_failed_at = EXCLUDED.detail_failed_at,
			detail_failure_reason = EXCLUDED.detail_failure_reason
	`

	_, err = p.db.ExecContext(ctx, query,
		rec.SourceID, rec.ItemID, rec.Title, rec.Link, rec.SummaryLong, diffPoints,
		rec.HeadlineJA, rec.PublishedAt, rec.CreatedAt, rec.UpdatedAt, rec.ExpiresAt,
		rec.DetailStatus, rec.DetailRequestedAt, rec.DetailReadyAt,
		rec.DetailExpiresAt, rec.DetailFailedAt, rec.DetailFailureReason,
	)
	if err != nil {
		return fmt.Errorf("failed to store item %s/%s: %w", rec.SourceID, rec.ItemID, err)
	}
	return nil
}

// ClaimDetail transitions the record to pending unless it already is. The
// conditional UPDATE makes the transition first-writer-wins: concurrent
// claims see zero rows affected and report false.
func (p *Postgres) ClaimDetail(ctx context.Context, sourceID, itemID string, requestedAt int64) (bool, error) {
	query := `
		UPDATE summary_items
		SET detail_status = 'pending',
		    detail_requested_at = $3,
		    detail_failed_at = 0,
		    detail_failure_reason = ''
		WHERE source_id = $1 AND item_id = $2
		  AND detail_status IS DISTINCT FROM 'pending'
	`

	result, err := p.db.ExecContext(ctx, query, sourceID, itemID, requestedAt)
	if err != nil {
		return false, fmt.Errorf("failed to claim detail for %s/%s: %w", sourceID, itemID, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read claim result for %s/%s: %w", sourceID, itemID, err)
	}
	return rows == 1, nil
}

func (p *Postgres) MarkDetailFailed(ctx context.Context, sourceID, itemID, reason string, failedAt int64) error {
	query := `
		UPDATE summary_items
		SET detail_status = 'failed',
		    detail_failed_at = $3,
		    detail_failure_reason = $4
		WHERE source_id = $1 AND item_id = $2
	`

	if _, err := p.db.ExecContext(ctx, query, sourceID, itemID, failedAt, reason); err != nil {
		return fmt.Errorf("failed to mark detail failed for %s/%s: %w", sourceID, itemID, err)
	}
	return nil
}

func (p *Postgres) GetSourceStatus(ctx context.Context, sourceID, feedURL string) (*SourceStatus, error) {
	query := `SELECT source_id, feed_url, checked_at FROM source_status WHERE source_id = $1 AND feed_url = $2`

	var status SourceStatus
	err := p.db.QueryRowContext(ctx, query, sourceID, feedURL).Scan(&status.SourceID, &status.FeedURL, &status.CheckedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load source status for %s: %w", sourceID, err)
	}
	return &status, nil
}

func (p *Postgres) PutSourceStatus(ctx context.Context, status SourceStatus) error {
	query := `
		INSERT INTO source_status (source_id, feed_url, checked_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (source_id, feed_url) DO UPDATE SET checked_at = EXCLUDED.checked_at
	`

	if _, err := p.db.ExecContext(ctx, query, status.SourceID, status.FeedURL, status.CheckedAt); err != nil {
		return fmt.Errorf("failed to store source status for %s: %w", status.SourceID, err)
	}
	return nil
}

func (p *Postgres) Close() error {
	return p.db.Close()
}
