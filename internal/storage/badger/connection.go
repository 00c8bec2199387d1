package badger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/ghostrun/internal/common"
	"github.com/timshannon/badgerhold/v4"
)

// BadgerDB manages the Badger database connection
type BadgerDB struct {
	store     *badgerhold.Store
	logger    arbor.ILogger
	config    *common.BadgerConfig
	retention time.Duration
}

// NewBadgerDB creates a new Badger database connection.
// Records and artifacts written through it expire after retention.
func NewBadgerDB(logger arbor.ILogger, config *common.BadgerConfig, retention time.Duration) (*BadgerDB, error) {
	if config.ResetOnStartup {
		if _, err := os.Stat(config.Path); err == nil {
			logger.Debug().Str("path", config.Path).Msg("Deleting existing database (reset_on_startup=true)")
			if err := os.RemoveAll(config.Path); err != nil {
				logger.Warn().Err(err).Str("path", config.Path).Msg("Failed to delete database directory")
			}
		}
	}

	if err := os.MkdirAll(filepath.Dir(config.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	logger.Debug().Str("path", config.Path).Msg("Opening Badger database connection")

	options := badgerhold.DefaultOptions
	options.Dir = config.Path
	options.ValueDir = config.Path
	options.Logger = nil // Disable default badger logger to use arbor
	options.Encoder = json.Marshal
	options.Decoder = json.Unmarshal

	store, err := badgerhold.Open(options)
	if err != nil {
		logger.Error().Err(err).Str("path", config.Path).Msg("BadgerDB: Failed to open database")
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	if retention <= 0 {
		retention = 24 * time.Hour
	}

	logger.Debug().Str("path", config.Path).Dur("retention", retention).Msg("Badger database initialized")

	return &BadgerDB{
		store:     store,
		logger:    logger,
		config:    config,
		retention: retention,
	}, nil
}

// Store returns the underlying badgerhold store
func (b *BadgerDB) Store() *badgerhold.Store {
	return b.store
}

// Badger returns the raw badger handle used for TTL entries and prefix scans
func (b *BadgerDB) Badger() *badger.DB {
	return b.store.Badger()
}

// Retention returns the lifetime applied to new records
func (b *BadgerDB) Retention() time.Duration {
	return b.retention
}

// RunValueLogGC reclaims value log space until badger reports nothing left to rewrite
func (b *BadgerDB) RunValueLogGC() error {
	for {
		err := b.Badger().RunValueLogGC(0.5)
		if err == badger.ErrNoRewrite {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// Close closes the database connection
func (b *BadgerDB) Close() error {
	if b.store != nil {
		return b.store.Close()
	}
	return nil
}
