package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/optiscan/internal/models"
)

// CheckpointStorage implements interfaces.CheckpointStorage on SQLite
type CheckpointStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
}

// NewCheckpointStorage creates a checkpoint storage backed by the given database
func NewCheckpointStorage(db *SQLiteDB, logger arbor.ILogger) *CheckpointStorage {
	return &CheckpointStorage{db: db, logger: logger}
}

// SaveCheckpoint writes or replaces the crawl checkpoint for a scan
func (s *CheckpointStorage) SaveCheckpoint(ctx context.Context, cp *models.CrawlCheckpoint) error {
	visited, err := json.Marshal(cp.VisitedURLs)
	if err != nil {
		return fmt.Errorf("failed to encode visited urls: %w", err)
	}
	pending, err := json.Marshal(cp.PendingURLs)
	if err != nil {
		return fmt.Errorf("failed to encode pending urls: %w", err)
	}

	updatedAt := cp.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	_, err = s.db.db.ExecContext(ctx,
		`INSERT INTO crawl_checkpoints (scan_id, visited_urls, pending_urls, pages_scanned, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(scan_id) DO UPDATE SET
			visited_urls = excluded.visited_urls,
			pending_urls = excluded.pending_urls,
			pages_scanned = excluded.pages_scanned,
			updated_at = excluded.updated_at`,
		cp.ScanID, string(visited), string(pending), cp.PagesScanned, updatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to save checkpoint for %s: %w", cp.ScanID, err)
	}
	return nil
}

// GetCheckpoint retrieves the crawl checkpoint for a scan
func (s *CheckpointStorage) GetCheckpoint(ctx context.Context, scanID string) (*models.CrawlCheckpoint, error) {
	var cp models.CrawlCheckpoint
	var visited, pending string
	var updatedAt int64

	err := s.db.db.QueryRowContext(ctx,
		`SELECT scan_id, visited_urls, pending_urls, pages_scanned, updated_at
		FROM crawl_checkpoints WHERE scan_id = ?`, scanID).
		Scan(&cp.ScanID, &visited, &pending, &cp.PagesScanned, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, models.ErrCheckpointNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get checkpoint for %s: %w", scanID, err)
	}

	if err := json.Unmarshal([]byte(visited), &cp.VisitedURLs); err != nil {
		return nil, fmt.Errorf("failed to decode visited urls: %w", err)
	}
	if err := json.Unmarshal([]byte(pending), &cp.PendingURLs); err != nil {
		return nil, fmt.Errorf("failed to decode pending urls: %w", err)
	}
	cp.UpdatedAt = time.Unix(updatedAt, 0).UTC()

	return &cp, nil
}

// DeleteCheckpoint removes the checkpoint after a scan reaches a terminal state
func (s *CheckpointStorage) DeleteCheckpoint(ctx context.Context, scanID string) error {
	_, err := s.db.db.ExecContext(ctx,
		`DELETE FROM crawl_checkpoints WHERE scan_id = ?`, scanID)
	if err != nil {
		return fmt.Errorf("failed to delete checkpoint for %s: %w", scanID, err)
	}
	return nil
}
