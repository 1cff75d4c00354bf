package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/subfetch/subfetch/internal/interfaces"
	"github.com/subfetch/subfetch/internal/models"
)

// PathStorage implements the allow-list PathStorage interface for Badger
type PathStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewPathStorage creates a new PathStorage instance
func NewPathStorage(db *BadgerDB, logger arbor.ILogger) interfaces.PathStorage {
	return &PathStorage{db: db, logger: logger}
}

func (s *PathStorage) AddPath(ctx context.Context, path *models.StoragePath) error {
	if path.Path == "" {
		return fmt.Errorf("storage path is required")
	}
	if err := s.db.Store().Upsert(path.Path, path); err != nil {
		return fmt.Errorf("failed to save storage path: %w", err)
	}
	s.logger.Info().Str("path", path.Path).Str("added_by", path.AddedBy).Msg("Allow-list path added")
	return nil
}

func (s *PathStorage) ListPaths(ctx context.Context) ([]*models.StoragePath, error) {
	var paths []models.StoragePath
	if err := s.db.Store().Find(&paths, badgerhold.Where("Path").Ne("")); err != nil {
		return nil, fmt.Errorf("failed to list storage paths: %w", err)
	}
	result := make([]*models.StoragePath, len(paths))
	for i := range paths {
		result[i] = &paths[i]
	}
	return result, nil
}

func (s *PathStorage) RemovePath(ctx context.Context, path string) error {
	if err := s.db.Store().Delete(path, &models.StoragePath{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil
		}
		return fmt.Errorf("failed to remove storage path: %w", err)
	}
	return nil
}
