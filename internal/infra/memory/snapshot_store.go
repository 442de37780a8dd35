package memory

import (
	"context"
	"sync"

	"quizlive-service/internal/domain"
)

// SnapshotStore retains final leaderboard snapshots in process memory.
type SnapshotStore struct {
	mu        sync.RWMutex
	snapshots map[string]domain.LeaderboardSnapshot
}

func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{snapshots: make(map[string]domain.LeaderboardSnapshot)}
}

func (s *SnapshotStore) Save(_ context.Context, sessionID string, snap domain.LeaderboardSnapshot) error {
	s.mu.Lock()
	s.snapshots[sessionID] = snap
	s.mu.Unlock()
	return nil
}

// Get is used by tests and local tooling.
func (s *SnapshotStore) Get(sessionID string) (domain.LeaderboardSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[sessionID]
	return snap, ok
}
