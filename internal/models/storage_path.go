package models

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// StoragePath is one allow-list entry. The set of all entries is the policy
// domain against which every submitted job folder is validated.
type StoragePath struct {
	Path      string    `json:"path" badgerhold:"key"` // absolute, cleaned
	Label     string    `json:"label,omitempty"`
	AddedBy   string    `json:"added_by"`
	CreatedAt time.Time `json:"created_at"`
}

// NewStoragePath cleans and validates the path before constructing the entry.
func NewStoragePath(path, label, addedBy string) (*StoragePath, error) {
	if !filepath.IsAbs(path) {
		return nil, fmt.Errorf("storage path must be absolute: %s", path)
	}
	return &StoragePath{
		Path:      filepath.Clean(path),
		Label:     label,
		AddedBy:   addedBy,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Contains reports whether target lies within this entry. Both paths must be
// cleaned absolute paths; containment is by path-segment prefix, so
// /media/movies does not contain /media/movies2.
func (p *StoragePath) Contains(target string) bool {
	if target == p.Path {
		return true
	}
	prefix := p.Path
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(target, prefix)
}
