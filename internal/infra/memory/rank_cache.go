package memory

import (
	"context"
	"sync"
)

// RankCache keeps the last-broadcast ranks per session in process memory.
type RankCache struct {
	mu    sync.RWMutex
	ranks map[string]map[string]int // session id -> participant id -> rank
}

func NewRankCache() *RankCache {
	return &RankCache{ranks: make(map[string]map[string]int)}
}

func (c *RankCache) LastRanks(_ context.Context, sessionID string) (map[string]int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	stored, ok := c.ranks[sessionID]
	if !ok {
		return nil, nil
	}
	out := make(map[string]int, len(stored))
	for id, rank := range stored {
		out[id] = rank
	}
	return out, nil
}

func (c *RankCache) StoreRanks(_ context.Context, sessionID string, ranks map[string]int) error {
	cp := make(map[string]int, len(ranks))
	for id, rank := range ranks {
		cp[id] = rank
	}
	c.mu.Lock()
	c.ranks[sessionID] = cp
	c.mu.Unlock()
	return nil
}

func (c *RankCache) Clear(_ context.Context, sessionID string) error {
	c.mu.Lock()
	delete(c.ranks, sessionID)
	c.mu.Unlock()
	return nil
}
