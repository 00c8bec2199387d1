package badger

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/ghostrun/internal/interfaces"
)

// artifactNamespace keeps raw blob keys apart from badgerhold's type-prefixed records
const artifactNamespace = "artifact/"

// ArtifactStorage stores screenshots and trace bundles as raw badger entries with native TTL
type ArtifactStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewArtifactStorage creates a new ArtifactStorage instance
func NewArtifactStorage(db *BadgerDB, logger arbor.ILogger) *ArtifactStorage {
	return &ArtifactStorage{
		db:     db,
		logger: logger,
	}
}

func (s *ArtifactStorage) key(key string) []byte {
	return []byte(artifactNamespace + key)
}

func (s *ArtifactStorage) PutArtifact(ctx context.Context, key string, data []byte) error {
	if key == "" {
		return fmt.Errorf("artifact key is required")
	}

	err := s.db.Badger().Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(s.key(key), data).WithTTL(s.db.Retention())
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("failed to store artifact %s: %w", key, err)
	}

	s.logger.Debug().Str("key", key).Int("bytes", len(data)).Msg("Artifact stored")
	return nil
}

func (s *ArtifactStorage) GetArtifact(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := s.db.Badger().View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.key(key))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, interfaces.ErrArtifactNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get artifact %s: %w", key, err)
	}
	return data, nil
}

func (s *ArtifactStorage) ListArtifactKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := s.db.Badger().View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = s.key(prefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			keys = append(keys, string(it.Item().Key()[len(artifactNamespace):]))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts with prefix %s: %w", prefix, err)
	}
	return keys, nil
}

func (s *ArtifactStorage) DeleteArtifact(ctx context.Context, key string) error {
	err := s.db.Badger().Update(func(txn *badger.Txn) error {
		return txn.Delete(s.key(key))
	})
	if err != nil {
		return fmt.Errorf("failed to delete artifact %s: %w", key, err)
	}
	return nil
}

var _ interfaces.ArtifactStorage = (*ArtifactStorage)(nil)
