package report

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/optiscan/internal/common"
	"github.com/ternarybob/optiscan/internal/interfaces"
	"github.com/ternarybob/optiscan/internal/models"
	"github.com/ternarybob/optiscan/internal/storage/sqlite"
)

func newTestReport(t *testing.T) (*Service, interfaces.StorageManager) {
	t.Helper()

	cfg := common.NewDefaultConfig()
	cfg.Storage.SQLite.Path = ":memory:"

	logger := common.GetLogger()
	storage, err := sqlite.NewManager(logger, &cfg.Storage.SQLite)
	require.NoError(t, err)
	t.Cleanup(func() { storage.Close() })

	return NewService(logger, storage), storage
}

func seedCompletedScan(t *testing.T, storage interfaces.StorageManager) *models.ScanJob {
	t.Helper()
	now := time.Now().UTC()
	scan := &models.ScanJob{
		ID:           common.NewScanID(),
		URL:          "https://example.com",
		SubmitterIP:  "203.0.113.10",
		Status:       models.ScanStatusCompleted,
		PagesScanned: 5,
		CreatedAt:    now.Add(-time.Hour),
		StartedAt:    &now,
		CompletedAt:  &now,
	}
	require.NoError(t, storage.Scans().CreateScan(context.Background(), scan))
	return scan
}

func TestBuild_AggregatesByFormatAndCategory(t *testing.T) {
	svc, storage := newTestReport(t)
	ctx := context.Background()

	scan := seedCompletedScan(t, storage)
	seed := []*models.DiscoveredImage{
		{ScanID: scan.ID, URL: "https://example.com/logo.png", MimeType: "image/png", SizeBytes: 1000, Category: models.CategoryLogosIcons, PageURLs: []string{"https://example.com/"}},
		{ScanID: scan.ID, URL: "https://example.com/hero.jpg", MimeType: "image/jpeg", SizeBytes: 1000, Category: models.CategoryHeroBanners, PageURLs: []string{"https://example.com/"}},
		{ScanID: scan.ID, URL: "https://example.com/icon.png", MimeType: "image/png", SizeBytes: 500, Category: models.CategoryLogosIcons, PageURLs: []string{"https://example.com/"}},
	}
	for _, img := range seed {
		require.NoError(t, storage.Images().UpsertImage(ctx, img))
	}

	report, err := svc.Build(ctx, scan.ID)
	require.NoError(t, err)

	assert.Equal(t, scan.ID, report.ScanID)
	assert.Equal(t, 5, report.PagesScanned)
	assert.Len(t, report.Images, 3)
	assert.Equal(t, 3, report.Summary.TotalImages)
	assert.NotEmpty(t, report.Summary.Disclaimer)

	require.Len(t, report.ByMimeType, 2)
	// Ordered by byte volume descending
	assert.Equal(t, "image/png", report.ByMimeType[0].MimeType)
	assert.Equal(t, int64(1500), report.ByMimeType[0].TotalBytes)
	assert.Equal(t, int64(1110), report.ByMimeType[0].EstimatedSavings)

	require.Len(t, report.Categories, 2)
	// Ordered by byte volume descending
	assert.Equal(t, models.CategoryLogosIcons, report.Categories[0].Category)
	assert.Equal(t, int64(1500), report.Categories[0].TotalBytes)
}

func TestBuild_NotReadyBeforeCompletion(t *testing.T) {
	svc, storage := newTestReport(t)
	ctx := context.Background()

	scan := seedCompletedScan(t, storage)
	scan.Status = models.ScanStatusProcessing
	require.NoError(t, storage.Scans().UpdateScan(ctx, scan))

	_, err := svc.Build(ctx, scan.ID)
	require.Error(t, err)
	assert.Equal(t, models.ErrCodeNotReady, models.ErrorCodeOf(err))
}

func TestBuild_UnknownScan(t *testing.T) {
	svc, _ := newTestReport(t)

	_, err := svc.Build(context.Background(), "scan_missing")
	assert.ErrorIs(t, err, models.ErrScanNotFound)
}
