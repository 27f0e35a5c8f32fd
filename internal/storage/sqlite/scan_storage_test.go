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

func newTestDB(t *testing.T) *SQLiteDB {
	t.Helper()
	db, err := NewSQLiteDB(common.GetLogger(), &common.SQLiteConfig{
		Path:          ":memory:",
		CacheSizeMB:   16,
		BusyTimeoutMS: 1000,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestScan(id, ip string, priority int64, createdAt time.Time) *models.ScanJob {
	return &models.ScanJob{
		ID:            id,
		URL:           "https://example.com",
		SubmitterIP:   ip,
		Status:        models.ScanStatusQueued,
		PriorityScore: priority,
		CreatedAt:     createdAt,
	}
}

func TestScanStorage_CreateAndGet(t *testing.T) {
	db := newTestDB(t)
	store := NewScanStorage(db, common.GetLogger())
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	scan := newTestScan("scan_a", "10.0.0.1", 100, now)
	scan.Email = "user@example.com"

	require.NoError(t, store.CreateScan(ctx, scan))

	got, err := store.GetScan(ctx, "scan_a")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", got.URL)
	assert.Equal(t, "user@example.com", got.Email)
	assert.Equal(t, models.ScanStatusQueued, got.Status)
	assert.Equal(t, int64(100), got.PriorityScore)
	assert.True(t, got.CreatedAt.Equal(now))
	assert.Nil(t, got.StartedAt)
}

func TestScanStorage_GetMissing(t *testing.T) {
	db := newTestDB(t)
	store := NewScanStorage(db, common.GetLogger())

	_, err := store.GetScan(context.Background(), "scan_missing")
	assert.ErrorIs(t, err, models.ErrScanNotFound)
}

func TestScanStorage_QueuedOrdering(t *testing.T) {
	db := newTestDB(t)
	store := NewScanStorage(db, common.GetLogger())
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	// Lower priority score runs first; ties break by creation time
	require.NoError(t, store.CreateScan(ctx, newTestScan("scan_1", "ip1", 200, base)))
	require.NoError(t, store.CreateScan(ctx, newTestScan("scan_2", "ip2", 100, base.Add(time.Second))))
	require.NoError(t, store.CreateScan(ctx, newTestScan("scan_3", "ip3", 200, base.Add(-time.Second))))

	queued, err := store.GetQueuedOrdered(ctx, 0)
	require.NoError(t, err)
	require.Len(t, queued, 3)
	assert.Equal(t, "scan_2", queued[0].ID)
	assert.Equal(t, "scan_3", queued[1].ID)
	assert.Equal(t, "scan_1", queued[2].ID)
}

func TestScanStorage_PositionOf(t *testing.T) {
	db := newTestDB(t)
	store := NewScanStorage(db, common.GetLogger())
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, store.CreateScan(ctx, newTestScan("scan_1", "ip1", 100, base)))
	require.NoError(t, store.CreateScan(ctx, newTestScan("scan_2", "ip2", 200, base)))
	require.NoError(t, store.CreateScan(ctx, newTestScan("scan_3", "ip3", 300, base)))

	pos, err := store.PositionOf(ctx, "scan_2")
	require.NoError(t, err)
	assert.Equal(t, 2, pos)

	// Processing scans have no queue position
	scan, err := store.GetScan(ctx, "scan_1")
	require.NoError(t, err)
	scan.Status = models.ScanStatusProcessing
	require.NoError(t, store.UpdateScan(ctx, scan))

	pos, err = store.PositionOf(ctx, "scan_1")
	require.NoError(t, err)
	assert.Equal(t, 0, pos)

	pos, err = store.PositionOf(ctx, "scan_2")
	require.NoError(t, err)
	assert.Equal(t, 1, pos)

	pos, err = store.PositionOf(ctx, "scan_missing")
	require.NoError(t, err)
	assert.Equal(t, 0, pos)
}

func TestScanStorage_CountsByIP(t *testing.T) {
	db := newTestDB(t)
	store := NewScanStorage(db, common.GetLogger())
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, store.CreateScan(ctx, newTestScan("scan_1", "ip1", 100, base)))
	require.NoError(t, store.CreateScan(ctx, newTestScan("scan_2", "ip1", 100, base.Add(time.Second))))
	require.NoError(t, store.CreateScan(ctx, newTestScan("scan_3", "ip2", 100, base)))

	count, err := store.QueuedCountByIP(ctx, "ip1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	active, err := store.ActiveCountByIP(ctx, "ip1")
	require.NoError(t, err)
	assert.Equal(t, 2, active)

	// Processing still counts as active, terminal states do not
	scan1, err := store.GetScan(ctx, "scan_1")
	require.NoError(t, err)
	scan1.Status = models.ScanStatusProcessing
	require.NoError(t, store.UpdateScan(ctx, scan1))

	scan2, err := store.GetScan(ctx, "scan_2")
	require.NoError(t, err)
	scan2.Status = models.ScanStatusCompleted
	require.NoError(t, store.UpdateScan(ctx, scan2))

	active, err = store.ActiveCountByIP(ctx, "ip1")
	require.NoError(t, err)
	assert.Equal(t, 1, active)
}

func TestScanStorage_WarningsRoundTrip(t *testing.T) {
	db := newTestDB(t)
	store := NewScanStorage(db, common.GetLogger())
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	scan := newTestScan("scan_w", "ip1", 100, base)
	require.NoError(t, store.CreateScan(ctx, scan))

	got, err := store.GetScan(ctx, "scan_w")
	require.NoError(t, err)
	assert.Nil(t, got.Warnings)

	got.Warnings = []string{
		"auth_required: https://example.com/members",
		"size_cap_exceeded: https://example.com/gallery",
	}
	require.NoError(t, store.UpdateScan(ctx, got))

	again, err := store.GetScan(ctx, "scan_w")
	require.NoError(t, err)
	assert.Equal(t, got.Warnings, again.Warnings)
}

func TestScanStorage_ResetProcessingToQueued(t *testing.T) {
	db := newTestDB(t)
	store := NewScanStorage(db, common.GetLogger())
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	scan := newTestScan("scan_1", "ip1", 100, base)
	scan.Status = models.ScanStatusProcessing
	started := base.Add(time.Second)
	scan.StartedAt = &started
	require.NoError(t, store.CreateScan(ctx, scan))

	n, err := store.ResetProcessingToQueued(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := store.GetScan(ctx, "scan_1")
	require.NoError(t, err)
	assert.Equal(t, models.ScanStatusQueued, got.Status)
	assert.Nil(t, got.StartedAt)
}

func TestScanStorage_DeleteExpiredScans(t *testing.T) {
	db := newTestDB(t)
	store := NewScanStorage(db, common.GetLogger())
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)

	expired := newTestScan("scan_old", "ip1", 100, base.Add(-48*time.Hour))
	expired.Status = models.ScanStatusCompleted
	expiredAt := base.Add(-time.Hour)
	expired.ExpiresAt = &expiredAt
	require.NoError(t, store.CreateScan(ctx, expired))

	fresh := newTestScan("scan_new", "ip2", 100, base)
	fresh.Status = models.ScanStatusCompleted
	freshAt := base.Add(24 * time.Hour)
	fresh.ExpiresAt = &freshAt
	require.NoError(t, store.CreateScan(ctx, fresh))

	// Queued scans without deadlines are never swept
	require.NoError(t, store.CreateScan(ctx, newTestScan("scan_queued", "ip3", 100, base)))

	n, err := store.DeleteExpiredScans(ctx, base, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = store.GetScan(ctx, "scan_old")
	assert.ErrorIs(t, err, models.ErrScanNotFound)
	_, err = store.GetScan(ctx, "scan_new")
	assert.NoError(t, err)
	_, err = store.GetScan(ctx, "scan_queued")
	assert.NoError(t, err)
}

func TestScanStorage_AverageSecondsPerPage(t *testing.T) {
	db := newTestDB(t)
	store := NewScanStorage(db, common.GetLogger())
	ctx := context.Background()

	avg, err := store.AverageSecondsPerPage(ctx)
	require.NoError(t, err)
	assert.Zero(t, avg)

	base := time.Now().UTC().Truncate(time.Second)
	scan := newTestScan("scan_done", "ip1", 100, base.Add(-time.Hour))
	scan.Status = models.ScanStatusCompleted
	scan.PagesScanned = 10
	started := base.Add(-time.Hour)
	completed := started.Add(100 * time.Second) // 10 s/page
	scan.StartedAt = &started
	scan.CompletedAt = &completed
	require.NoError(t, store.CreateScan(ctx, scan))

	avg, err = store.AverageSecondsPerPage(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 10.0, avg, 0.01)
}

func TestScanStorage_UpdateScansTransactional(t *testing.T) {
	db := newTestDB(t)
	store := NewScanStorage(db, common.GetLogger())
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	a := newTestScan("scan_a", "ip1", 100, base)
	b := newTestScan("scan_b", "ip2", 200, base)
	require.NoError(t, store.CreateScan(ctx, a))
	require.NoError(t, store.CreateScan(ctx, b))

	a.PriorityScore = 50
	b.PriorityScore = 60
	require.NoError(t, store.UpdateScans(ctx, []*models.ScanJob{a, b}))

	gotA, err := store.GetScan(ctx, "scan_a")
	require.NoError(t, err)
	assert.Equal(t, int64(50), gotA.PriorityScore)

	// A batch containing a missing scan rolls back entirely
	a.PriorityScore = 1
	missing := newTestScan("scan_missing", "ip3", 1, base)
	err = store.UpdateScans(ctx, []*models.ScanJob{a, missing})
	assert.Error(t, err)

	gotA, err = store.GetScan(ctx, "scan_a")
	require.NoError(t, err)
	assert.Equal(t, int64(50), gotA.PriorityScore)
}
