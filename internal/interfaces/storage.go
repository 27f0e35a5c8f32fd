package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/optiscan/internal/models"
)

// ScanStorage persists scan jobs and serves the queue's ordered views
type ScanStorage interface {
	CreateScan(ctx context.Context, scan *models.ScanJob) error
	GetScan(ctx context.Context, id string) (*models.ScanJob, error)
	UpdateScan(ctx context.Context, scan *models.ScanJob) error
	// UpdateScans applies all updates in one transaction
	UpdateScans(ctx context.Context, scans []*models.ScanJob) error
	DeleteScan(ctx context.Context, id string) error

	// GetQueuedOrdered returns queued scans ordered by (priority_score, created_at)
	GetQueuedOrdered(ctx context.Context, limit int) ([]*models.ScanJob, error)
	QueuedCount(ctx context.Context) (int, error)
	ProcessingCount(ctx context.Context) (int, error)
	// QueuedCountByIP counts queued scans for one submitter IP
	QueuedCountByIP(ctx context.Context, ip string) (int, error)
	// ActiveCountByIP counts queued-or-processing scans for one submitter IP
	ActiveCountByIP(ctx context.Context, ip string) (int, error)
	// PositionOf returns the 1-based position of a queued scan, 0 if not queued
	PositionOf(ctx context.Context, id string) (int, error)
	// OldestQueuedCreatedAt returns the creation time of the oldest queued scan
	OldestQueuedCreatedAt(ctx context.Context) (time.Time, bool, error)
	// ResetProcessingToQueued re-queues scans left processing by a crash
	ResetProcessingToQueued(ctx context.Context) (int, error)
	// DeleteExpiredScans removes terminal scans past their retention deadline
	DeleteExpiredScans(ctx context.Context, before time.Time, limit int) (int, error)
	// AverageSecondsPerPage returns the historical pace of completed scans
	AverageSecondsPerPage(ctx context.Context) (float64, error)
}

// ImageStorage persists discovered images
type ImageStorage interface {
	// UpsertImage inserts an image or, for an already seen URL, accumulates
	// its page_urls list
	UpsertImage(ctx context.Context, image *models.DiscoveredImage) error
	GetImagesByScan(ctx context.Context, scanID string) ([]*models.DiscoveredImage, error)
	ImageCountByScan(ctx context.Context, scanID string) (int, error)
}

// CheckpointStorage persists resumable crawl state
type CheckpointStorage interface {
	SaveCheckpoint(ctx context.Context, cp *models.CrawlCheckpoint) error
	GetCheckpoint(ctx context.Context, scanID string) (*models.CrawlCheckpoint, error)
	DeleteCheckpoint(ctx context.Context, scanID string) error
}

// StatsStorage persists service-lifetime aggregate statistics
type StatsStorage interface {
	// ApplyScanDelta upserts one completed scan's contribution, retrying on
	// write conflicts
	ApplyScanDelta(ctx context.Context, delta *models.ScanDelta) error
	GetAggregateStats(ctx context.Context) (*models.AggregateStats, error)
	GetMimeTypeStats(ctx context.Context) ([]*models.MimeTypeStats, error)
	GetCategoryStats(ctx context.Context) ([]*models.CategoryStats, error)
}

// BundleStorage persists converted-image zip records
type BundleStorage interface {
	CreateBundle(ctx context.Context, bundle *models.ConvertedImageBundle) error
	GetBundleByScan(ctx context.Context, scanID string) (*models.ConvertedImageBundle, error)
	DeleteBundle(ctx context.Context, id string) error
	// ListExpiredBundles returns bundles past their expiry for the sweeper
	ListExpiredBundles(ctx context.Context, before time.Time, limit int) ([]*models.ConvertedImageBundle, error)
}

// StorageManager bundles all storage interfaces behind one lifecycle
type StorageManager interface {
	Scans() ScanStorage
	Images() ImageStorage
	Checkpoints() CheckpointStorage
	Stats() StatsStorage
	Bundles() BundleStorage
	Close() error
}
