package sqlite

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/optiscan/internal/common"
	"github.com/ternarybob/optiscan/internal/interfaces"
)

// Manager implements interfaces.StorageManager on a single SQLite database
type Manager struct {
	db          *SQLiteDB
	scans       *ScanStorage
	images      *ImageStorage
	checkpoints *CheckpointStorage
	stats       *StatsStorage
	bundles     *BundleStorage
}

// NewManager opens the database and wires all storage implementations
func NewManager(logger arbor.ILogger, config *common.SQLiteConfig) (*Manager, error) {
	db, err := NewSQLiteDB(logger, config)
	if err != nil {
		return nil, err
	}

	return &Manager{
		db:          db,
		scans:       NewScanStorage(db, logger),
		images:      NewImageStorage(db, logger),
		checkpoints: NewCheckpointStorage(db, logger),
		stats:       NewStatsStorage(db, logger),
		bundles:     NewBundleStorage(db, logger),
	}, nil
}

func (m *Manager) Scans() interfaces.ScanStorage               { return m.scans }
func (m *Manager) Images() interfaces.ImageStorage             { return m.images }
func (m *Manager) Checkpoints() interfaces.CheckpointStorage   { return m.checkpoints }
func (m *Manager) Stats() interfaces.StatsStorage              { return m.stats }
func (m *Manager) Bundles() interfaces.BundleStorage           { return m.bundles }

// Close closes the underlying database
func (m *Manager) Close() error {
	return m.db.Close()
}
