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

func TestCheckpointStorage_SaveAndResume(t *testing.T) {
	db := newTestDB(t)
	store := NewCheckpointStorage(db, common.GetLogger())
	ctx := context.Background()
	seedScan(t, db, "scan_1")

	cp := &models.CrawlCheckpoint{
		ScanID:       "scan_1",
		VisitedURLs:  []string{"https://example.com/", "https://example.com/about"},
		PendingURLs:  []string{"https://example.com/contact"},
		PagesScanned: 2,
	}
	require.NoError(t, store.SaveCheckpoint(ctx, cp))

	// Later checkpoint replaces the earlier one
	cp.VisitedURLs = append(cp.VisitedURLs, "https://example.com/contact")
	cp.PendingURLs = []string{"https://example.com/pricing"}
	cp.PagesScanned = 3
	require.NoError(t, store.SaveCheckpoint(ctx, cp))

	got, err := store.GetCheckpoint(ctx, "scan_1")
	require.NoError(t, err)
	assert.Equal(t, 3, got.PagesScanned)
	assert.Len(t, got.VisitedURLs, 3)
	assert.Equal(t, []string{"https://example.com/pricing"}, got.PendingURLs)
	assert.False(t, got.UpdatedAt.IsZero())
}

func TestCheckpointStorage_MissingAndDelete(t *testing.T) {
	db := newTestDB(t)
	store := NewCheckpointStorage(db, common.GetLogger())
	ctx := context.Background()
	seedScan(t, db, "scan_1")

	_, err := store.GetCheckpoint(ctx, "scan_1")
	assert.ErrorIs(t, err, models.ErrCheckpointNotFound)

	require.NoError(t, store.SaveCheckpoint(ctx, &models.CrawlCheckpoint{
		ScanID:      "scan_1",
		VisitedURLs: []string{"https://example.com/"},
		PendingURLs: []string{},
		UpdatedAt:   time.Now().UTC(),
	}))
	require.NoError(t, store.DeleteCheckpoint(ctx, "scan_1"))

	_, err = store.GetCheckpoint(ctx, "scan_1")
	assert.ErrorIs(t, err, models.ErrCheckpointNotFound)
}
