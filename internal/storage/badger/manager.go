package badger

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/ghostrun/internal/common"
	"github.com/ternarybob/ghostrun/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db       *BadgerDB
	job      interfaces.JobStorage
	artifact interfaces.ArtifactStorage
	logger   arbor.ILogger
}

// NewManager opens the database and builds the job and artifact stores on it
func NewManager(logger arbor.ILogger, config *common.Config) (interfaces.StorageManager, error) {
	db, err := NewBadgerDB(logger, &config.Storage.Badger, config.RetentionDuration())
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:       db,
		job:      NewJobStorage(db, logger),
		artifact: NewArtifactStorage(db, logger),
		logger:   logger,
	}

	logger.Info().Str("path", config.Storage.Badger.Path).Msg("Badger storage manager initialized")

	return manager, nil
}

// JobStorage returns the job record store
func (m *Manager) JobStorage() interfaces.JobStorage {
	return m.job
}

// ArtifactStorage returns the blob store
func (m *Manager) ArtifactStorage() interfaces.ArtifactStorage {
	return m.artifact
}

// RunValueLogGC reclaims space left by expired and deleted entries
func (m *Manager) RunValueLogGC() error {
	return m.db.RunValueLogGC()
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
