package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/optiscan/internal/models"
)

// StatsStorage implements interfaces.StatsStorage on SQLite
type StatsStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
}

// NewStatsStorage creates a stats storage backed by the given database
func NewStatsStorage(db *SQLiteDB, logger arbor.ILogger) *StatsStorage {
	return &StatsStorage{db: db, logger: logger}
}

const (
	upsertMaxAttempts    = 5
	upsertInitialBackoff = 50 * time.Millisecond
)

// ApplyScanDelta upserts one completed scan's contribution in a single
// transaction, retrying on write conflicts with exponential backoff.
// Negative savings are clamped to zero before summing.
func (s *StatsStorage) ApplyScanDelta(ctx context.Context, delta *models.ScanDelta) error {
	backoff := upsertInitialBackoff
	var lastErr error

	for attempt := 1; attempt <= upsertMaxAttempts; attempt++ {
		lastErr = s.applyOnce(ctx, delta)
		if lastErr == nil {
			return nil
		}
		if !isBusyError(lastErr) {
			return lastErr
		}

		s.logger.Warn().
			Int("attempt", attempt).
			Err(lastErr).
			Msg("Aggregate stats upsert conflicted, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	return fmt.Errorf("aggregate stats upsert exhausted %d attempts: %w", upsertMaxAttempts, lastErr)
}

func (s *StatsStorage) applyOnce(ctx context.Context, delta *models.ScanDelta) error {
	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Unix()
	savings := clampNonNegative(delta.EstimatedSavings)

	_, err = tx.ExecContext(ctx,
		`INSERT INTO aggregate_stats
		(id, total_scans, total_pages_scanned, total_images_found, total_non_webp_images,
		 total_image_bytes, total_estimated_savings, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			total_scans = total_scans + excluded.total_scans,
			total_pages_scanned = total_pages_scanned + excluded.total_pages_scanned,
			total_images_found = total_images_found + excluded.total_images_found,
			total_non_webp_images = total_non_webp_images + excluded.total_non_webp_images,
			total_image_bytes = total_image_bytes + excluded.total_image_bytes,
			total_estimated_savings = total_estimated_savings + excluded.total_estimated_savings,
			updated_at = excluded.updated_at`,
		1, delta.Pages, delta.Images, delta.NonWebpImages, delta.ImageBytes, savings, now)
	if err != nil {
		return fmt.Errorf("failed to upsert aggregate totals: %w", err)
	}

	for mime, ms := range delta.ByMimeType {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO mime_type_stats (mime_type, image_count, total_bytes, estimated_savings)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(mime_type) DO UPDATE SET
				image_count = image_count + excluded.image_count,
				total_bytes = total_bytes + excluded.total_bytes,
				estimated_savings = estimated_savings + excluded.estimated_savings`,
			mime, ms.ImageCount, ms.TotalBytes, clampNonNegative(ms.EstimatedSavings))
		if err != nil {
			return fmt.Errorf("failed to upsert mime stats for %s: %w", mime, err)
		}
	}

	for category, cs := range delta.ByCategory {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO category_stats (category, image_count, total_bytes)
			VALUES (?, ?, ?)
			ON CONFLICT(category) DO UPDATE SET
				image_count = image_count + excluded.image_count,
				total_bytes = total_bytes + excluded.total_bytes`,
			category, cs.ImageCount, cs.TotalBytes)
		if err != nil {
			return fmt.Errorf("failed to upsert category stats for %s: %w", category, err)
		}
	}

	return tx.Commit()
}

// GetAggregateStats returns the service-lifetime totals, zeroes before any scan
func (s *StatsStorage) GetAggregateStats(ctx context.Context) (*models.AggregateStats, error) {
	var stats models.AggregateStats
	var updatedAt int64

	err := s.db.db.QueryRowContext(ctx,
		`SELECT total_scans, total_pages_scanned, total_images_found,
			total_non_webp_images, total_image_bytes, total_estimated_savings, updated_at
		FROM aggregate_stats WHERE id = 1`).
		Scan(&stats.TotalScans, &stats.TotalPagesScanned, &stats.TotalImagesFound,
			&stats.TotalNonWebpImages, &stats.TotalImageBytes, &stats.TotalEstimatedSavings, &updatedAt)
	if err == sql.ErrNoRows {
		return &models.AggregateStats{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get aggregate stats: %w", err)
	}

	stats.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &stats, nil
}

// GetMimeTypeStats returns the per-MIME breakdown ordered by byte volume
func (s *StatsStorage) GetMimeTypeStats(ctx context.Context) ([]*models.MimeTypeStats, error) {
	rows, err := s.db.db.QueryContext(ctx,
		`SELECT mime_type, image_count, total_bytes, estimated_savings
		FROM mime_type_stats ORDER BY total_bytes DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query mime stats: %w", err)
	}
	defer rows.Close()

	var stats []*models.MimeTypeStats
	for rows.Next() {
		var ms models.MimeTypeStats
		if err := rows.Scan(&ms.MimeType, &ms.ImageCount, &ms.TotalBytes, &ms.EstimatedSavings); err != nil {
			return nil, err
		}
		stats = append(stats, &ms)
	}
	return stats, rows.Err()
}

// GetCategoryStats returns the per-category breakdown ordered by byte volume
func (s *StatsStorage) GetCategoryStats(ctx context.Context) ([]*models.CategoryStats, error) {
	rows, err := s.db.db.QueryContext(ctx,
		`SELECT category, image_count, total_bytes
		FROM category_stats ORDER BY total_bytes DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query category stats: %w", err)
	}
	defer rows.Close()

	var stats []*models.CategoryStats
	for rows.Next() {
		var cs models.CategoryStats
		if err := rows.Scan(&cs.Category, &cs.ImageCount, &cs.TotalBytes); err != nil {
			return nil, err
		}
		stats = append(stats, &cs)
	}
	return stats, rows.Err()
}

// isBusyError reports whether an error is a transient SQLite lock conflict
func isBusyError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "busy")
}

func clampNonNegative(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
