// Package jsonfile persists run state as JSON files on disk.
package jsonfile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/colonyops/wiggums/internal/core/story"
	"github.com/colonyops/wiggums/pkg/iojson"
)

// SnapshotStore implements story.Store using a single JSON file. Saves are
// atomic: the snapshot is written to a temp file and renamed into place.
type SnapshotStore struct {
	path string
	mu   sync.RWMutex
}

var _ story.Store = (*SnapshotStore)(nil)

// NewSnapshotStore creates a store backed by the file at path.
func NewSnapshotStore(path string) *SnapshotStore {
	return &SnapshotStore{path: path}
}

// Load reads the snapshot. Returns story.ErrNoSnapshot if the file doesn't
// exist or is empty.
func (s *SnapshotStore) Load(ctx context.Context) (story.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return story.Snapshot{}, story.ErrNoSnapshot
		}
		return story.Snapshot{}, fmt.Errorf("read snapshot: %w", err)
	}

	if len(data) == 0 {
		return story.Snapshot{}, story.ErrNoSnapshot
	}

	var snap story.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return story.Snapshot{}, fmt.Errorf("parse snapshot %s: %w", s.path, err)
	}
	if snap.Stories == nil {
		snap.Stories = map[string]story.ItemState{}
	}

	return snap, nil
}

// Save replaces the snapshot on disk.
func (s *SnapshotStore) Save(ctx context.Context, snap story.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := iojson.WriteFileAtomic(s.path, snap); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}
