package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/optiscan/internal/models"
)

// ScanStorage implements interfaces.ScanStorage on SQLite
type ScanStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
}

// NewScanStorage creates a scan storage backed by the given database
func NewScanStorage(db *SQLiteDB, logger arbor.ILogger) *ScanStorage {
	return &ScanStorage{db: db, logger: logger}
}

const scanColumns = `id, url, email, submitter_ip, status, priority_score, submission_count,
	error, error_code, pages_scanned, pages_total, images_found, non_webp_images,
	total_image_bytes, estimated_savings, reached_page_limit, warnings,
	created_at, started_at, completed_at, expires_at`

// CreateScan inserts a new scan job
func (s *ScanStorage) CreateScan(ctx context.Context, scan *models.ScanJob) error {
	query := `INSERT INTO scan_jobs (` + scanColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.db.ExecContext(ctx, query,
		scan.ID, scan.URL, nullString(scan.Email), scan.SubmitterIP, string(scan.Status),
		scan.PriorityScore, scan.SubmissionCount,
		nullString(scan.Error), nullString(scan.ErrorCode),
		scan.PagesScanned, scan.PagesTotal, scan.ImagesFound, scan.NonWebpImages,
		scan.TotalImageBytes, scan.EstimatedSavings, boolToInt(scan.ReachedPageLimit),
		encodeStrings(scan.Warnings),
		scan.CreatedAt.Unix(), nullTime(scan.StartedAt), nullTime(scan.CompletedAt), nullTime(scan.ExpiresAt))
	if err != nil {
		return fmt.Errorf("failed to insert scan: %w", err)
	}
	return nil
}

// GetScan retrieves a scan by ID
func (s *ScanStorage) GetScan(ctx context.Context, id string) (*models.ScanJob, error) {
	query := `SELECT ` + scanColumns + ` FROM scan_jobs WHERE id = ?`
	row := s.db.db.QueryRowContext(ctx, query, id)
	scan, err := scanRowToJob(row)
	if err == sql.ErrNoRows {
		return nil, models.ErrScanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get scan %s: %w", id, err)
	}
	return scan, nil
}

// UpdateScan persists the full mutable state of a scan
func (s *ScanStorage) UpdateScan(ctx context.Context, scan *models.ScanJob) error {
	return s.updateScanExec(ctx, s.db.db, scan)
}

// UpdateScans applies all updates in one transaction
func (s *ScanStorage) UpdateScans(ctx context.Context, scans []*models.ScanJob) error {
	if len(scans) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, scan := range scans {
		if err := s.updateScanExec(ctx, tx, scan); err != nil {
			return err
		}
	}

	return tx.Commit()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (s *ScanStorage) updateScanExec(ctx context.Context, ex execer, scan *models.ScanJob) error {
	query := `UPDATE scan_jobs SET
		url = ?, email = ?, status = ?, priority_score = ?, submission_count = ?,
		error = ?, error_code = ?, pages_scanned = ?, pages_total = ?,
		images_found = ?, non_webp_images = ?, total_image_bytes = ?,
		estimated_savings = ?, reached_page_limit = ?, warnings = ?,
		started_at = ?, completed_at = ?, expires_at = ?
		WHERE id = ?`

	result, err := ex.ExecContext(ctx, query,
		scan.URL, nullString(scan.Email), string(scan.Status), scan.PriorityScore, scan.SubmissionCount,
		nullString(scan.Error), nullString(scan.ErrorCode),
		scan.PagesScanned, scan.PagesTotal, scan.ImagesFound, scan.NonWebpImages,
		scan.TotalImageBytes, scan.EstimatedSavings, boolToInt(scan.ReachedPageLimit),
		encodeStrings(scan.Warnings),
		nullTime(scan.StartedAt), nullTime(scan.CompletedAt), nullTime(scan.ExpiresAt),
		scan.ID)
	if err != nil {
		return fmt.Errorf("failed to update scan %s: %w", scan.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return models.ErrScanNotFound
	}
	return nil
}

// DeleteScan removes a scan and, via cascade, its images, checkpoint and bundle rows
func (s *ScanStorage) DeleteScan(ctx context.Context, id string) error {
	_, err := s.db.db.ExecContext(ctx, `DELETE FROM scan_jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete scan %s: %w", id, err)
	}
	return nil
}

// GetQueuedOrdered returns queued scans ordered by (priority_score, created_at)
func (s *ScanStorage) GetQueuedOrdered(ctx context.Context, limit int) ([]*models.ScanJob, error) {
	query := `SELECT ` + scanColumns + ` FROM scan_jobs
		WHERE status = ? ORDER BY priority_score ASC, created_at ASC`
	args := []interface{}{string(models.ScanStatusQueued)}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query queued scans: %w", err)
	}
	defer rows.Close()

	var scans []*models.ScanJob
	for rows.Next() {
		scan, err := scanRowToJob(rows)
		if err != nil {
			return nil, err
		}
		scans = append(scans, scan)
	}
	return scans, rows.Err()
}

// QueuedCount counts scans waiting in the queue
func (s *ScanStorage) QueuedCount(ctx context.Context) (int, error) {
	return s.countByStatus(ctx, models.ScanStatusQueued)
}

// ProcessingCount counts scans currently being crawled
func (s *ScanStorage) ProcessingCount(ctx context.Context) (int, error) {
	return s.countByStatus(ctx, models.ScanStatusProcessing)
}

func (s *ScanStorage) countByStatus(ctx context.Context, status models.ScanStatus) (int, error) {
	var count int
	err := s.db.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM scan_jobs WHERE status = ?`, string(status)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s scans: %w", status, err)
	}
	return count, nil
}

// QueuedCountByIP counts queued scans for one submitter IP
func (s *ScanStorage) QueuedCountByIP(ctx context.Context, ip string) (int, error) {
	var count int
	err := s.db.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM scan_jobs WHERE status = ? AND submitter_ip = ?`,
		string(models.ScanStatusQueued), ip).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count queued scans for ip: %w", err)
	}
	return count, nil
}

// ActiveCountByIP counts queued-or-processing scans for one submitter IP.
// Terminal scans stop counting toward the fair-share penalty immediately.
func (s *ScanStorage) ActiveCountByIP(ctx context.Context, ip string) (int, error) {
	var count int
	err := s.db.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM scan_jobs WHERE submitter_ip = ? AND status IN (?, ?)`,
		ip, string(models.ScanStatusQueued), string(models.ScanStatusProcessing)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count active scans for ip: %w", err)
	}
	return count, nil
}

// PositionOf returns the 1-based position of a queued scan, 0 if not queued
func (s *ScanStorage) PositionOf(ctx context.Context, id string) (int, error) {
	var status string
	err := s.db.db.QueryRowContext(ctx,
		`SELECT status FROM scan_jobs WHERE id = ?`, id).Scan(&status)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to look up scan status: %w", err)
	}
	if status != string(models.ScanStatusQueued) {
		return 0, nil
	}

	query := `SELECT COUNT(*) + 1 FROM scan_jobs q
		WHERE q.status = ?
		AND (q.priority_score < (SELECT priority_score FROM scan_jobs WHERE id = ?)
			OR (q.priority_score = (SELECT priority_score FROM scan_jobs WHERE id = ?)
				AND q.created_at < (SELECT created_at FROM scan_jobs WHERE id = ?)))`

	var position int
	err = s.db.db.QueryRowContext(ctx, query,
		string(models.ScanStatusQueued), id, id, id).Scan(&position)
	if err != nil {
		return 0, fmt.Errorf("failed to compute queue position: %w", err)
	}
	return position, nil
}

// OldestQueuedCreatedAt returns the creation time of the oldest queued scan
func (s *ScanStorage) OldestQueuedCreatedAt(ctx context.Context) (time.Time, bool, error) {
	var createdAt sql.NullInt64
	err := s.db.db.QueryRowContext(ctx,
		`SELECT MIN(created_at) FROM scan_jobs WHERE status = ?`,
		string(models.ScanStatusQueued)).Scan(&createdAt)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to find oldest queued scan: %w", err)
	}
	if !createdAt.Valid {
		return time.Time{}, false, nil
	}
	return time.Unix(createdAt.Int64, 0).UTC(), true, nil
}

// ResetProcessingToQueued re-queues scans left processing by a crash.
// Their checkpoints survive, so they resume instead of restarting.
func (s *ScanStorage) ResetProcessingToQueued(ctx context.Context) (int, error) {
	result, err := s.db.db.ExecContext(ctx,
		`UPDATE scan_jobs SET status = ?, started_at = NULL WHERE status = ?`,
		string(models.ScanStatusQueued), string(models.ScanStatusProcessing))
	if err != nil {
		return 0, fmt.Errorf("failed to reset processing scans: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

// DeleteExpiredScans removes terminal scans past their retention deadline
func (s *ScanStorage) DeleteExpiredScans(ctx context.Context, before time.Time, limit int) (int, error) {
	query := `DELETE FROM scan_jobs WHERE id IN (
		SELECT id FROM scan_jobs
		WHERE expires_at IS NOT NULL AND expires_at <= ?
		AND status IN (?, ?, ?)
		ORDER BY expires_at ASC LIMIT ?)`

	result, err := s.db.db.ExecContext(ctx, query, before.Unix(),
		string(models.ScanStatusCompleted), string(models.ScanStatusFailed),
		string(models.ScanStatusCancelled), limit)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired scans: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

// AverageSecondsPerPage returns the historical pace of completed scans.
// Zero when no completed scan has page data yet.
func (s *ScanStorage) AverageSecondsPerPage(ctx context.Context) (float64, error) {
	var avg sql.NullFloat64
	err := s.db.db.QueryRowContext(ctx,
		`SELECT AVG(CAST(completed_at - started_at AS REAL) / pages_scanned)
		FROM scan_jobs
		WHERE status = ? AND pages_scanned > 0
		AND started_at IS NOT NULL AND completed_at IS NOT NULL`,
		string(models.ScanStatusCompleted)).Scan(&avg)
	if err != nil {
		return 0, fmt.Errorf("failed to compute average pace: %w", err)
	}
	if !avg.Valid {
		return 0, nil
	}
	return avg.Float64, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRowToJob(row rowScanner) (*models.ScanJob, error) {
	var scan models.ScanJob
	var status string
	var email, errMsg, errCode, warnings sql.NullString
	var reachedLimit int
	var createdAt int64
	var startedAt, completedAt, expiresAt sql.NullInt64

	err := row.Scan(&scan.ID, &scan.URL, &email, &scan.SubmitterIP, &status,
		&scan.PriorityScore, &scan.SubmissionCount, &errMsg, &errCode,
		&scan.PagesScanned, &scan.PagesTotal, &scan.ImagesFound, &scan.NonWebpImages,
		&scan.TotalImageBytes, &scan.EstimatedSavings, &reachedLimit, &warnings,
		&createdAt, &startedAt, &completedAt, &expiresAt)
	if err != nil {
		return nil, err
	}

	scan.Status = models.ScanStatus(status)
	scan.Email = email.String
	scan.Error = errMsg.String
	scan.ErrorCode = errCode.String
	scan.ReachedPageLimit = reachedLimit != 0
	scan.Warnings = decodeStrings(warnings.String)
	scan.CreatedAt = time.Unix(createdAt, 0).UTC()
	scan.StartedAt = timePtr(startedAt)
	scan.CompletedAt = timePtr(completedAt)
	scan.ExpiresAt = timePtr(expiresAt)

	return &scan, nil
}

// encodeStrings stores a string slice as a JSON array, NULL when empty
func encodeStrings(values []string) interface{} {
	if len(values) == 0 {
		return nil
	}
	data, err := json.Marshal(values)
	if err != nil {
		return nil
	}
	return string(data)
}

func decodeStrings(raw string) []string {
	if raw == "" {
		return nil
	}
	var values []string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil
	}
	return values
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0).UTC()
	return &t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
