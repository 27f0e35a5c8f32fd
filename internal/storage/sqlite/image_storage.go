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

// ImageStorage implements interfaces.ImageStorage on SQLite
type ImageStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
}

// NewImageStorage creates an image storage backed by the given database
func NewImageStorage(db *SQLiteDB, logger arbor.ILogger) *ImageStorage {
	return &ImageStorage{db: db, logger: logger}
}

// UpsertImage inserts an image or, for an already seen (scan_id, url) pair,
// appends new page URLs to the existing row. Size and MIME come from the
// first sighting; duplicates only extend page_urls.
func (s *ImageStorage) UpsertImage(ctx context.Context, image *models.DiscoveredImage) error {
	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var id int64
	var pageURLsJSON string
	err = tx.QueryRowContext(ctx,
		`SELECT id, page_urls FROM discovered_images WHERE scan_id = ? AND url = ?`,
		image.ScanID, image.URL).Scan(&id, &pageURLsJSON)

	switch {
	case err == nil:
		var existing []string
		if err := json.Unmarshal([]byte(pageURLsJSON), &existing); err != nil {
			return fmt.Errorf("failed to decode page_urls for image %d: %w", id, err)
		}
		merged := mergePageURLs(existing, image.PageURLs)
		if len(merged) == len(existing) {
			return tx.Commit()
		}
		data, err := json.Marshal(merged)
		if err != nil {
			return fmt.Errorf("failed to encode page_urls: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE discovered_images SET page_urls = ? WHERE id = ?`, string(data), id); err != nil {
			return fmt.Errorf("failed to update page_urls: %w", err)
		}

	case err == sql.ErrNoRows:
		data, jerr := json.Marshal(image.PageURLs)
		if jerr != nil {
			return fmt.Errorf("failed to encode page_urls: %w", jerr)
		}
		createdAt := image.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		result, ierr := tx.ExecContext(ctx,
			`INSERT INTO discovered_images
			(scan_id, url, mime_type, size_bytes, width, height, page_urls, category, is_webp, estimated_savings, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			image.ScanID, image.URL, image.MimeType, image.SizeBytes,
			image.Width, image.Height, string(data), image.Category,
			boolToInt(image.IsWebP), image.Savings, createdAt.Unix())
		if ierr != nil {
			return fmt.Errorf("failed to insert image: %w", ierr)
		}
		if newID, err := result.LastInsertId(); err == nil {
			image.ID = newID
		}

	default:
		return fmt.Errorf("failed to look up image: %w", err)
	}

	return tx.Commit()
}

// GetImagesByScan returns all images for a scan in discovery order
func (s *ImageStorage) GetImagesByScan(ctx context.Context, scanID string) ([]*models.DiscoveredImage, error) {
	rows, err := s.db.db.QueryContext(ctx,
		`SELECT id, scan_id, url, mime_type, size_bytes, width, height,
			page_urls, category, is_webp, estimated_savings, created_at
		FROM discovered_images WHERE scan_id = ? ORDER BY id ASC`, scanID)
	if err != nil {
		return nil, fmt.Errorf("failed to query images: %w", err)
	}
	defer rows.Close()

	var images []*models.DiscoveredImage
	for rows.Next() {
		var img models.DiscoveredImage
		var pageURLsJSON string
		var isWebP int
		var createdAt int64
		if err := rows.Scan(&img.ID, &img.ScanID, &img.URL, &img.MimeType,
			&img.SizeBytes, &img.Width, &img.Height, &pageURLsJSON,
			&img.Category, &isWebP, &img.Savings, &createdAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(pageURLsJSON), &img.PageURLs); err != nil {
			return nil, fmt.Errorf("failed to decode page_urls for image %d: %w", img.ID, err)
		}
		img.IsWebP = isWebP != 0
		img.CreatedAt = time.Unix(createdAt, 0).UTC()
		images = append(images, &img)
	}
	return images, rows.Err()
}

// ImageCountByScan counts unique images discovered for a scan
func (s *ImageStorage) ImageCountByScan(ctx context.Context, scanID string) (int, error) {
	var count int
	err := s.db.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM discovered_images WHERE scan_id = ?`, scanID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count images: %w", err)
	}
	return count, nil
}

// mergePageURLs appends urls not already present, preserving discovery order
func mergePageURLs(existing, incoming []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, u := range existing {
		seen[u] = true
	}
	merged := existing
	for _, u := range incoming {
		if !seen[u] {
			merged = append(merged, u)
			seen[u] = true
		}
	}
	return merged
}
