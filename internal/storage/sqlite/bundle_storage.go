package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/optiscan/internal/models"
)

// BundleStorage implements interfaces.BundleStorage on SQLite
type BundleStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
}

// NewBundleStorage creates a bundle storage backed by the given database
func NewBundleStorage(db *SQLiteDB, logger arbor.ILogger) *BundleStorage {
	return &BundleStorage{db: db, logger: logger}
}

// CreateBundle inserts a converted-image zip record, replacing any prior
// bundle for the same scan
func (s *BundleStorage) CreateBundle(ctx context.Context, bundle *models.ConvertedImageBundle) error {
	_, err := s.db.db.ExecContext(ctx,
		`INSERT INTO converted_image_zips
		(id, scan_id, file_path, size_bytes, image_count, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(scan_id) DO UPDATE SET
			id = excluded.id,
			file_path = excluded.file_path,
			size_bytes = excluded.size_bytes,
			image_count = excluded.image_count,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at`,
		bundle.ID, bundle.ScanID, bundle.FilePath, bundle.SizeBytes,
		bundle.ImageCount, bundle.CreatedAt.Unix(), bundle.ExpiresAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert bundle for %s: %w", bundle.ScanID, err)
	}
	return nil
}

// GetBundleByScan retrieves the bundle for a scan
func (s *BundleStorage) GetBundleByScan(ctx context.Context, scanID string) (*models.ConvertedImageBundle, error) {
	var b models.ConvertedImageBundle
	var createdAt, expiresAt int64

	err := s.db.db.QueryRowContext(ctx,
		`SELECT id, scan_id, file_path, size_bytes, image_count, created_at, expires_at
		FROM converted_image_zips WHERE scan_id = ?`, scanID).
		Scan(&b.ID, &b.ScanID, &b.FilePath, &b.SizeBytes, &b.ImageCount, &createdAt, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, models.ErrBundleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bundle for %s: %w", scanID, err)
	}

	b.CreatedAt = time.Unix(createdAt, 0).UTC()
	b.ExpiresAt = time.Unix(expiresAt, 0).UTC()
	return &b, nil
}

// DeleteBundle removes a bundle record
func (s *BundleStorage) DeleteBundle(ctx context.Context, id string) error {
	_, err := s.db.db.ExecContext(ctx,
		`DELETE FROM converted_image_zips WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete bundle %s: %w", id, err)
	}
	return nil
}

// ListExpiredBundles returns bundles past their expiry for the sweeper
func (s *BundleStorage) ListExpiredBundles(ctx context.Context, before time.Time, limit int) ([]*models.ConvertedImageBundle, error) {
	rows, err := s.db.db.QueryContext(ctx,
		`SELECT id, scan_id, file_path, size_bytes, image_count, created_at, expires_at
		FROM converted_image_zips WHERE expires_at <= ?
		ORDER BY expires_at ASC LIMIT ?`, before.Unix(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query expired bundles: %w", err)
	}
	defer rows.Close()

	var bundles []*models.ConvertedImageBundle
	for rows.Next() {
		var b models.ConvertedImageBundle
		var createdAt, expiresAt int64
		if err := rows.Scan(&b.ID, &b.ScanID, &b.FilePath, &b.SizeBytes,
			&b.ImageCount, &createdAt, &expiresAt); err != nil {
			return nil, err
		}
		b.CreatedAt = time.Unix(createdAt, 0).UTC()
		b.ExpiresAt = time.Unix(expiresAt, 0).UTC()
		bundles = append(bundles, &b)
	}
	return bundles, rows.Err()
}
