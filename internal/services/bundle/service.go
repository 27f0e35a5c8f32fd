package bundle

import (
	"archive/zip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/optiscan/internal/common"
	"github.com/ternarybob/optiscan/internal/interfaces"
	"github.com/ternarybob/optiscan/internal/models"
	"github.com/ternarybob/optiscan/internal/services/savings"
)

// Service packages a completed scan's conversion plan into a downloadable
// zip. The zip carries a machine-readable manifest of every convertible
// image; actual re-encoding happens client-side or in external tooling.
type Service struct {
	config  *common.Config
	logger  arbor.ILogger
	storage interfaces.StorageManager
}

// manifestEntry is one convertible image in the bundle manifest
type manifestEntry struct {
	URL                string `json:"url"`
	MimeType           string `json:"mime_type"`
	SizeBytes          int64  `json:"size_bytes"`
	EstimatedWebpBytes int64  `json:"estimated_webp_bytes"`
	EstimatedSavings   int64  `json:"estimated_savings_bytes"`
	SuggestedFilename  string `json:"suggested_filename"`
}

type manifest struct {
	ScanID           string          `json:"scan_id"`
	TargetURL        string          `json:"target_url"`
	GeneratedAt      time.Time       `json:"generated_at"`
	ImageCount       int             `json:"image_count"`
	EstimatedSavings int64           `json:"estimated_savings_bytes"`
	Disclaimer       string          `json:"disclaimer"`
	Images           []manifestEntry `json:"images"`
}

// NewService creates the bundle service
func NewService(config *common.Config, logger arbor.ILogger, storage interfaces.StorageManager) *Service {
	return &Service{config: config, logger: logger, storage: storage}
}

// GetOrBuild returns the scan's bundle, building it on first request.
// Only completed scans can be bundled.
func (s *Service) GetOrBuild(ctx context.Context, scanID string) (*models.ConvertedImageBundle, error) {
	existing, err := s.storage.Bundles().GetBundleByScan(ctx, scanID)
	if err == nil {
		if _, statErr := os.Stat(existing.FilePath); statErr == nil {
			return existing, nil
		}
		// Row survived but the file is gone; rebuild
	} else if !errors.Is(err, models.ErrBundleNotFound) {
		return nil, err
	}

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

	return s.build(ctx, scan, images)
}

func (s *Service) build(ctx context.Context, scan *models.ScanJob, images []*models.DiscoveredImage) (*models.ConvertedImageBundle, error) {
	if err := os.MkdirAll(s.config.Storage.Bundles, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create bundle directory: %w", err)
	}

	bundleID := common.NewBundleID()
	path := filepath.Join(s.config.Storage.Bundles, bundleID+".zip")

	m := manifest{
		ScanID:      scan.ID,
		TargetURL:   scan.URL,
		GeneratedAt: time.Now().UTC(),
		Disclaimer:  savings.Disclaimer,
	}
	for _, img := range images {
		if !savings.IsConvertible(img.MimeType) {
			continue
		}
		saved := savings.EstimateSavings(img.MimeType, img.SizeBytes)
		m.Images = append(m.Images, manifestEntry{
			URL:                img.URL,
			MimeType:           img.MimeType,
			SizeBytes:          img.SizeBytes,
			EstimatedWebpBytes: img.SizeBytes - saved,
			EstimatedSavings:   saved,
			SuggestedFilename:  suggestedName(img.URL),
		})
		m.EstimatedSavings += saved
	}
	m.ImageCount = len(m.Images)

	if err := s.writeZip(path, &m); err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat bundle: %w", err)
	}

	now := time.Now().UTC()
	bundle := &models.ConvertedImageBundle{
		ID:         bundleID,
		ScanID:     scan.ID,
		FilePath:   path,
		SizeBytes:  info.Size(),
		ImageCount: m.ImageCount,
		CreatedAt:  now,
		ExpiresAt:  now.Add(time.Duration(s.config.Retention.BundleHours) * time.Hour),
	}
	if err := s.storage.Bundles().CreateBundle(ctx, bundle); err != nil {
		os.Remove(path)
		return nil, err
	}

	s.logger.Info().
		Str("scan_id", scan.ID).
		Str("bundle_id", bundleID).
		Int("images", m.ImageCount).
		Msg("Conversion bundle built")

	return bundle, nil
}

func (s *Service) writeZip(path string, m *manifest) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create bundle file: %w", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)

	mw, err := zw.Create("conversion-manifest.json")
	if err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	enc := json.NewEncoder(mw)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m); err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}

	rw, err := zw.Create("README.txt")
	if err != nil {
		return fmt.Errorf("failed to write readme: %w", err)
	}
	readme := fmt.Sprintf(
		"WebP conversion plan for %s\n\n"+
			"conversion-manifest.json lists the %d images worth converting, with\n"+
			"estimated output sizes. %s\n",
		m.TargetURL, m.ImageCount, m.Disclaimer)
	if _, err := rw.Write([]byte(readme)); err != nil {
		return fmt.Errorf("failed to write readme: %w", err)
	}

	return zw.Close()
}

// suggestedName derives a .webp filename from the source URL
func suggestedName(rawURL string) string {
	name := rawURL
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.IndexAny(name, "?#"); i >= 0 {
		name = name[:i]
	}
	if i := strings.LastIndex(name, "."); i > 0 {
		name = name[:i]
	}
	if name == "" {
		name = "image"
	}
	return name + ".webp"
}
