// Package version provides VersionStore implementations for generated
// prompt history.
package version

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/promptforge/promptforge"
)

// MemoryStore keeps versions in process memory, for development and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	versions map[string][]promptforge.Version // userID -> versions
}

var _ promptforge.VersionStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory version store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{versions: make(map[string][]promptforge.Version)}
}

// SaveVersion stores the version and returns its assigned id.
func (s *MemoryStore) SaveVersion(_ context.Context, v promptforge.Version) (string, error) {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.versions[v.UserID] = append(s.versions[v.UserID], v)
	return v.ID, nil
}

// ListVersions returns the user's versions, newest first, capped at limit.
func (s *MemoryStore) ListVersions(_ context.Context, userID string, limit int) ([]promptforge.Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.versions[userID]
	out := make([]promptforge.Version, len(stored))
	copy(out, stored)

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
