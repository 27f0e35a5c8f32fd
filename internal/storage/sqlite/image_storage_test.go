package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/optiscan/internal/common"
	"github.com/ternarybob/optiscan/internal/models"
)

func seedScan(t *testing.T, db *SQLiteDB, id string) {
	t.Helper()
	store := NewScanStorage(db, common.GetLogger())
	require.NoError(t, store.CreateScan(context.Background(),
		newTestScan(id, "ip1", 100, time.Now().UTC())))
}

func TestImageStorage_UpsertAccumulatesPageURLs(t *testing.T) {
	db := newTestDB(t)
	store := NewImageStorage(db, common.GetLogger())
	ctx := context.Background()
	seedScan(t, db, "scan_1")

	img := &models.DiscoveredImage{
		ScanID:    "scan_1",
		URL:       "https://example.com/logo.png",
		MimeType:  "image/png",
		SizeBytes: 1000,
		PageURLs:  []string{"https://example.com/"},
		Category:  models.CategoryLogosIcons,
		Savings:   740,
	}
	require.NoError(t, store.UpsertImage(ctx, img))

	// Same URL seen on a second page: size and MIME stay from first sighting
	dup := &models.DiscoveredImage{
		ScanID:    "scan_1",
		URL:       "https://example.com/logo.png",
		MimeType:  "image/jpeg",
		SizeBytes: 9999,
		PageURLs:  []string{"https://example.com/about"},
	}
	require.NoError(t, store.UpsertImage(ctx, dup))

	// Re-sighting on an already recorded page is a no-op
	require.NoError(t, store.UpsertImage(ctx, img))

	images, err := store.GetImagesByScan(ctx, "scan_1")
	require.NoError(t, err)
	require.Len(t, images, 1)
	assert.Equal(t, "image/png", images[0].MimeType)
	assert.Equal(t, int64(1000), images[0].SizeBytes)
	assert.Equal(t, []string{"https://example.com/", "https://example.com/about"}, images[0].PageURLs)

	count, err := store.ImageCountByScan(ctx, "scan_1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestImageStorage_ScanIsolation(t *testing.T) {
	db := newTestDB(t)
	store := NewImageStorage(db, common.GetLogger())
	ctx := context.Background()
	seedScan(t, db, "scan_1")
	seedScan(t, db, "scan_2")

	for _, scanID := range []string{"scan_1", "scan_2"} {
		require.NoError(t, store.UpsertImage(ctx, &models.DiscoveredImage{
			ScanID:    scanID,
			URL:       "https://example.com/shared.png",
			MimeType:  "image/png",
			SizeBytes: 500,
			PageURLs:  []string{"https://example.com/"},
			Category:  "Other Images",
		}))
	}

	count, err := store.ImageCountByScan(ctx, "scan_1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	count, err = store.ImageCountByScan(ctx, "scan_2")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestImageStorage_CascadeOnScanDelete(t *testing.T) {
	db := newTestDB(t)
	images := NewImageStorage(db, common.GetLogger())
	scans := NewScanStorage(db, common.GetLogger())
	ctx := context.Background()
	seedScan(t, db, "scan_1")

	require.NoError(t, images.UpsertImage(ctx, &models.DiscoveredImage{
		ScanID:    "scan_1",
		URL:       "https://example.com/a.png",
		MimeType:  "image/png",
		SizeBytes: 100,
		PageURLs:  []string{"https://example.com/"},
		Category:  "Other Images",
	}))

	require.NoError(t, scans.DeleteScan(ctx, "scan_1"))

	count, err := images.ImageCountByScan(ctx, "scan_1")
	require.NoError(t, err)
	assert.Zero(t, count)
}
