package report

import (
	"context"
	"sort"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/optiscan/internal/interfaces"
	"github.com/ternarybob/optiscan/internal/models"
	"github.com/ternarybob/optiscan/internal/services/savings"
)

// ScanReport is the downloadable report for a completed scan
type ScanReport struct {
	ScanID      string     `json:"scan_id"`
	URL         string     `json:"url"`
	GeneratedAt time.Time  `json:"generated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	PagesScanned     int  `json:"pages_scanned"`
	ReachedPageLimit bool `json:"reached_page_limit"`

	Summary    *savings.Summary          `json:"summary"`
	ByMimeType []MimeTypeBreakdown       `json:"by_mime_type"`
	Categories []CategoryBreakdown       `json:"categories"`
	Images     []*models.DiscoveredImage `json:"images"`
}

// MimeTypeBreakdown is the report's per-format rollup
type MimeTypeBreakdown struct {
	MimeType         string `json:"mime_type"`
	ImageCount       int    `json:"image_count"`
	TotalBytes       int64  `json:"total_bytes"`
	EstimatedSavings int64  `json:"estimated_savings_bytes"`
}

// CategoryBreakdown is the report's per-category rollup
type CategoryBreakdown struct {
	Category   string `json:"category"`
	ImageCount int    `json:"image_count"`
	TotalBytes int64  `json:"total_bytes"`
}

// Service assembles scan reports
type Service struct {
	logger  arbor.ILogger
	storage interfaces.StorageManager
}

// NewService creates the report service
func NewService(logger arbor.ILogger, storage interfaces.StorageManager) *Service {
	return &Service{logger: logger, storage: storage}
}

// Build assembles the report for a completed scan
func (s *Service) Build(ctx context.Context, scanID string) (*ScanReport, error) {
	scan, err := s.storage.Scans().GetScan(ctx, scanID)
	if err != nil {
		return nil, err
	}
	if scan.Status != models.ScanStatusCompleted {
		return nil, models.NewScanError(models.ErrCodeNotReady, "scan has not completed", nil)
	}

	images, err := s.storage.Images().GetImagesByScan(ctx, scanID)
	if err != nil {
		return nil, err
	}

	report := &ScanReport{
		ScanID:           scan.ID,
		URL:              scan.URL,
		GeneratedAt:      time.Now().UTC(),
		StartedAt:        scan.StartedAt,
		CompletedAt:      scan.CompletedAt,
		PagesScanned:     scan.PagesScanned,
		ReachedPageLimit: scan.ReachedPageLimit,
		Summary:          savings.Summarize(images),
		Images:           images,
	}

	byMime := map[string]*MimeTypeBreakdown{}
	byCategory := map[string]*CategoryBreakdown{}
	for _, img := range images {
		mime := models.NormalizeMimeType(img.MimeType)
		mb, ok := byMime[mime]
		if !ok {
			mb = &MimeTypeBreakdown{MimeType: mime}
			byMime[mime] = mb
		}
		mb.ImageCount++
		mb.TotalBytes += img.SizeBytes
		mb.EstimatedSavings += savings.EstimateSavings(mime, img.SizeBytes)

		cb, ok := byCategory[img.Category]
		if !ok {
			cb = &CategoryBreakdown{Category: img.Category}
			byCategory[img.Category] = cb
		}
		cb.ImageCount++
		cb.TotalBytes += img.SizeBytes
	}

	for _, mb := range byMime {
		report.ByMimeType = append(report.ByMimeType, *mb)
	}
	sort.Slice(report.ByMimeType, func(i, j int) bool {
		return report.ByMimeType[i].TotalBytes > report.ByMimeType[j].TotalBytes
	})

	for _, cb := range byCategory {
		report.Categories = append(report.Categories, *cb)
	}
	sort.Slice(report.Categories, func(i, j int) bool {
		return report.Categories[i].TotalBytes > report.Categories[j].TotalBytes
	})

	return report, nil
}
