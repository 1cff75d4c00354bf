package badger

import (
	"context"
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/subfetch/subfetch/internal/interfaces"
)

// ErrKeyNotFound is returned when a settings key does not exist.
var ErrKeyNotFound = errors.New("key not found")

// kvEntry is the stored record for one settings key.
type kvEntry struct {
	Key   string `badgerhold:"key"`
	Value string
}

// KVStorage implements the KeyValueStorage interface for Badger. It backs
// the database layer of the configuration fallback chain.
type KVStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewKVStorage creates a new KVStorage instance
func NewKVStorage(db *BadgerDB, logger arbor.ILogger) interfaces.KeyValueStorage {
	return &KVStorage{db: db, logger: logger}
}

func (s *KVStorage) Get(ctx context.Context, key string) (string, error) {
	var entry kvEntry
	if err := s.db.Store().Get(key, &entry); err != nil {
		if err == badgerhold.ErrNotFound {
			return "", ErrKeyNotFound
		}
		return "", fmt.Errorf("failed to get key %s: %w", key, err)
	}
	return entry.Value, nil
}

func (s *KVStorage) Set(ctx context.Context, key, value string) error {
	if key == "" {
		return fmt.Errorf("key is required")
	}
	if err := s.db.Store().Upsert(key, &kvEntry{Key: key, Value: value}); err != nil {
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	return nil
}

func (s *KVStorage) GetAll(ctx context.Context) (map[string]string, error) {
	var entries []kvEntry
	if err := s.db.Store().Find(&entries, badgerhold.Where("Key").Ne("")); err != nil {
		return nil, fmt.Errorf("failed to list settings: %w", err)
	}
	result := make(map[string]string, len(entries))
	for _, e := range entries {
		result[e.Key] = e.Value
	}
	return result, nil
}
