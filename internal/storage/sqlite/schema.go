package sqlite

const schemaSQL = `
-- Scan jobs with fair-share queue ordering columns
CREATE TABLE IF NOT EXISTS scan_jobs (
	id TEXT PRIMARY KEY,
	url TEXT NOT NULL,
	email TEXT,
	submitter_ip TEXT NOT NULL,
	status TEXT NOT NULL,
	priority_score INTEGER NOT NULL,
	submission_count INTEGER DEFAULT 0,
	error TEXT,
	error_code TEXT,
	pages_scanned INTEGER DEFAULT 0,
	pages_total INTEGER DEFAULT 0,
	images_found INTEGER DEFAULT 0,
	non_webp_images INTEGER DEFAULT 0,
	total_image_bytes INTEGER DEFAULT 0,
	estimated_savings INTEGER DEFAULT 0,
	reached_page_limit INTEGER DEFAULT 0,
	warnings TEXT,
	created_at INTEGER NOT NULL,
	started_at INTEGER,
	completed_at INTEGER,
	expires_at INTEGER
);

CREATE INDEX IF NOT EXISTS idx_scans_status ON scan_jobs(status, priority_score, created_at);
CREATE INDEX IF NOT EXISTS idx_scans_ip ON scan_jobs(submitter_ip, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_scans_created ON scan_jobs(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_scans_expires ON scan_jobs(expires_at) WHERE expires_at IS NOT NULL;

-- Unique image URLs discovered during a scan, keyed by wire MIME type.
-- page_urls is a JSON array accumulated across duplicate sightings.
CREATE TABLE IF NOT EXISTS discovered_images (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	scan_id TEXT NOT NULL,
	url TEXT NOT NULL,
	mime_type TEXT NOT NULL,
	size_bytes INTEGER NOT NULL,
	width INTEGER DEFAULT 0,
	height INTEGER DEFAULT 0,
	page_urls TEXT NOT NULL,
	category TEXT NOT NULL,
	is_webp INTEGER NOT NULL,
	estimated_savings INTEGER DEFAULT 0,
	created_at INTEGER NOT NULL,
	FOREIGN KEY (scan_id) REFERENCES scan_jobs(id) ON DELETE CASCADE
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_images_scan_url ON discovered_images(scan_id, url);
CREATE INDEX IF NOT EXISTS idx_images_scan ON discovered_images(scan_id, created_at);
CREATE INDEX IF NOT EXISTS idx_images_mime ON discovered_images(scan_id, mime_type);

-- Resumable crawl state, one row per scan. visited/pending are JSON arrays.
CREATE TABLE IF NOT EXISTS crawl_checkpoints (
	scan_id TEXT PRIMARY KEY,
	visited_urls TEXT NOT NULL,
	pending_urls TEXT NOT NULL,
	pages_scanned INTEGER DEFAULT 0,
	updated_at INTEGER NOT NULL,
	FOREIGN KEY (scan_id) REFERENCES scan_jobs(id) ON DELETE CASCADE
);

-- Singleton service-lifetime totals (id is always 1)
CREATE TABLE IF NOT EXISTS aggregate_stats (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	total_scans INTEGER DEFAULT 0,
	total_pages_scanned INTEGER DEFAULT 0,
	total_images_found INTEGER DEFAULT 0,
	total_non_webp_images INTEGER DEFAULT 0,
	total_image_bytes INTEGER DEFAULT 0,
	total_estimated_savings INTEGER DEFAULT 0,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS mime_type_stats (
	mime_type TEXT PRIMARY KEY,
	image_count INTEGER DEFAULT 0,
	total_bytes INTEGER DEFAULT 0,
	estimated_savings INTEGER DEFAULT 0
);

CREATE TABLE IF NOT EXISTS category_stats (
	category TEXT PRIMARY KEY,
	image_count INTEGER DEFAULT 0,
	total_bytes INTEGER DEFAULT 0
);

-- Downloadable converted-image zips with their own retention window
CREATE TABLE IF NOT EXISTS converted_image_zips (
	id TEXT PRIMARY KEY,
	scan_id TEXT NOT NULL,
	file_path TEXT NOT NULL,
	size_bytes INTEGER DEFAULT 0,
	image_count INTEGER DEFAULT 0,
	created_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL,
	FOREIGN KEY (scan_id) REFERENCES scan_jobs(id) ON DELETE CASCADE
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_zips_scan ON converted_image_zips(scan_id);
CREATE INDEX IF NOT EXISTS idx_zips_expires ON converted_image_zips(expires_at);
`

// InitSchema initializes the database schema
func (s *SQLiteDB) InitSchema() error {
	_, err := s.db.Exec(schemaSQL)
	if err != nil {
		return err
	}
	s.logger.Info().Msg("Database schema initialized")

	// Run migrations for schema evolution
	if err := s.runMigrations(); err != nil {
		return err
	}

	return nil
}

// runMigrations checks for and applies schema migrations for existing databases
func (s *SQLiteDB) runMigrations() error {
	columnsQuery := `PRAGMA table_info(scan_jobs)`
	rows, err := s.db.Query(columnsQuery)
	if err != nil {
		return err
	}
	defer rows.Close()

	hasErrorCode := false
	hasReachedPageLimit := false
	hasExpiresAt := false
	hasWarnings := false

	for rows.Next() {
		var cid int
		var name, typ string
		var notnull, dfltValue, pk interface{}
		if err := rows.Scan(&cid, &name, &typ, &notnull, &dfltValue, &pk); err != nil {
			return err
		}
		switch name {
		case "error_code":
			hasErrorCode = true
		case "reached_page_limit":
			hasReachedPageLimit = true
		case "expires_at":
			hasExpiresAt = true
		case "warnings":
			hasWarnings = true
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	if !hasErrorCode {
		s.logger.Info().Msg("Running migration: Adding error_code column to scan_jobs")
		if _, err := s.db.Exec(`ALTER TABLE scan_jobs ADD COLUMN error_code TEXT`); err != nil {
			return err
		}
	}

	if !hasReachedPageLimit {
		s.logger.Info().Msg("Running migration: Adding reached_page_limit column to scan_jobs")
		if _, err := s.db.Exec(`ALTER TABLE scan_jobs ADD COLUMN reached_page_limit INTEGER DEFAULT 0`); err != nil {
			return err
		}
	}

	if !hasExpiresAt {
		s.logger.Info().Msg("Running migration: Adding expires_at column to scan_jobs")
		if _, err := s.db.Exec(`ALTER TABLE scan_jobs ADD COLUMN expires_at INTEGER`); err != nil {
			return err
		}
	}

	if !hasWarnings {
		s.logger.Info().Msg("Running migration: Adding warnings column to scan_jobs")
		if _, err := s.db.Exec(`ALTER TABLE scan_jobs ADD COLUMN warnings TEXT`); err != nil {
			return err
		}
	}

	return nil
}
