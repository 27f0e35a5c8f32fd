package models

import (
	"time"
)

// AggregateStats is the singleton row of service-lifetime totals
type AggregateStats struct {
	TotalScans            int64     `json:"total_scans"`
	TotalPagesScanned     int64     `json:"total_pages_scanned"`
	TotalImagesFound      int64     `json:"total_images_found"`
	TotalNonWebpImages    int64     `json:"total_non_webp_images"`
	TotalImageBytes       int64     `json:"total_image_bytes"`
	TotalEstimatedSavings int64     `json:"total_estimated_savings_bytes"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// MimeTypeStats is a per-MIME breakdown row of the aggregate stats
type MimeTypeStats struct {
	MimeType         string `json:"mime_type"`
	ImageCount       int64  `json:"image_count"`
	TotalBytes       int64  `json:"total_bytes"`
	EstimatedSavings int64  `json:"estimated_savings_bytes"`
}

// CategoryStats is a per-category breakdown row of the aggregate stats
type CategoryStats struct {
	Category   string `json:"category"`
	ImageCount int64  `json:"image_count"`
	TotalBytes int64  `json:"total_bytes"`
}

// ScanDelta carries one completed scan's contribution to the aggregate
// stats. Pre-computed outside the upsert transaction.
type ScanDelta struct {
	Pages            int64
	Images           int64
	NonWebpImages    int64
	ImageBytes       int64
	EstimatedSavings int64
	ByMimeType       map[string]MimeTypeStats
	ByCategory       map[string]CategoryStats
}

// LiveStats merges persisted aggregate totals with in-flight scan counters
// for the StatsUpdate push and GET /api/scan/stats. The breakdown maps
// include the contribution of scans still running.
type LiveStats struct {
	AggregateStats
	ActiveScans        int                      `json:"active_scans"`
	QueuedScans        int                      `json:"queued_scans"`
	InFlightPages      int64                    `json:"in_flight_pages"`
	InFlightImages     int64                    `json:"in_flight_images"`
	InFlightImageBytes int64                    `json:"in_flight_image_bytes"`
	InFlightSavings    int64                    `json:"in_flight_estimated_savings_bytes"`
	ByMimeType         map[string]MimeTypeStats `json:"by_mime_type"`
	ByCategory         map[string]CategoryStats `json:"by_category"`
}

// ConvertedImageBundle is a downloadable zip of placeholder-converted images
type ConvertedImageBundle struct {
	ID         string    `json:"id"`
	ScanID     string    `json:"scan_id"`
	FilePath   string    `json:"file_path"`
	SizeBytes  int64     `json:"size_bytes"`
	ImageCount int       `json:"image_count"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}
