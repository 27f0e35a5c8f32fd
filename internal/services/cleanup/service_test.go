package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/optiscan/internal/common"
	"github.com/ternarybob/optiscan/internal/interfaces"
	"github.com/ternarybob/optiscan/internal/models"
	"github.com/ternarybob/optiscan/internal/storage/sqlite"
)

func newTestCleanup(t *testing.T) (*Service, interfaces.StorageManager) {
	t.Helper()

	cfg := common.NewDefaultConfig()
	cfg.Storage.SQLite.Path = ":memory:"

	logger := common.GetLogger()
	storage, err := sqlite.NewManager(logger, &cfg.Storage.SQLite)
	require.NoError(t, err)
	t.Cleanup(func() { storage.Close() })

	return NewService(cfg, logger, storage), storage
}

func seedTerminalScan(t *testing.T, storage interfaces.StorageManager, expiresAt time.Time) *models.ScanJob {
	t.Helper()
	now := time.Now().UTC()
	done := now.Add(-time.Hour)
	scan := &models.ScanJob{
		ID:          common.NewScanID(),
		URL:         "https://example.com",
		SubmitterIP: "203.0.113.10",
		Status:      models.ScanStatusCompleted,
		CreatedAt:   now.Add(-2 * time.Hour),
		StartedAt:   &done,
		CompletedAt: &done,
		ExpiresAt:   &expiresAt,
	}
	require.NoError(t, storage.Scans().CreateScan(context.Background(), scan))
	return scan
}

func TestSweep_RemovesExpiredScansOnly(t *testing.T) {
	svc, storage := newTestCleanup(t)
	ctx := context.Background()

	expired := seedTerminalScan(t, storage, time.Now().UTC().Add(-time.Minute))
	kept := seedTerminalScan(t, storage, time.Now().UTC().Add(time.Hour))

	svc.Sweep(ctx)

	_, err := storage.Scans().GetScan(ctx, expired.ID)
	assert.ErrorIs(t, err, models.ErrScanNotFound)

	_, err = storage.Scans().GetScan(ctx, kept.ID)
	assert.NoError(t, err)
}

func TestSweep_RemovesExpiredBundlesAndFiles(t *testing.T) {
	svc, storage := newTestCleanup(t)
	ctx := context.Background()

	scan := seedTerminalScan(t, storage, time.Now().UTC().Add(time.Hour))

	dir := t.TempDir()
	path := filepath.Join(dir, "bundle.zip")
	require.NoError(t, os.WriteFile(path, []byte("zip"), 0o644))

	bundle := &models.ConvertedImageBundle{
		ID:        common.NewBundleID(),
		ScanID:    scan.ID,
		FilePath:  path,
		SizeBytes: 3,
		CreatedAt: time.Now().UTC().Add(-2 * time.Hour),
		ExpiresAt: time.Now().UTC().Add(-time.Hour),
	}
	require.NoError(t, storage.Bundles().CreateBundle(ctx, bundle))

	svc.Sweep(ctx)

	_, err := storage.Bundles().GetBundleByScan(ctx, scan.ID)
	assert.ErrorIs(t, err, models.ErrBundleNotFound)
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestSweep_MissingBundleFileIsTolerated(t *testing.T) {
	svc, storage := newTestCleanup(t)
	ctx := context.Background()

	scan := seedTerminalScan(t, storage, time.Now().UTC().Add(time.Hour))
	bundle := &models.ConvertedImageBundle{
		ID:        common.NewBundleID(),
		ScanID:    scan.ID,
		FilePath:  "/nonexistent/bundle.zip",
		CreatedAt: time.Now().UTC().Add(-2 * time.Hour),
		ExpiresAt: time.Now().UTC().Add(-time.Hour),
	}
	require.NoError(t, storage.Bundles().CreateBundle(ctx, bundle))

	svc.Sweep(ctx)

	_, err := storage.Bundles().GetBundleByScan(ctx, scan.ID)
	assert.ErrorIs(t, err, models.ErrBundleNotFound)
}
