package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RankCache stores the last-broadcast ranks in a Redis hash:
//
//	HSET rankings:previous:{sessionID} {participantID} {rank}
//
// Entries expire with the TTL so abandoned sessions clean themselves up.
type RankCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRankCache(client *redis.Client, ttl time.Duration) *RankCache {
	return &RankCache{client: client, ttl: ttl}
}

func (c *RankCache) LastRanks(ctx context.Context, sessionID string) (map[string]int, error) {
	raw, err := c.client.HGetAll(ctx, c.key(sessionID)).Result()
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}
	ranks := make(map[string]int, len(raw))
	for participantID, val := range raw {
		if rank, err := strconv.Atoi(val); err == nil {
			ranks[participantID] = rank
		}
	}
	return ranks, nil
}

func (c *RankCache) StoreRanks(ctx context.Context, sessionID string, ranks map[string]int) error {
	if len(ranks) == 0 {
		return nil
	}
	key := c.key(sessionID)
	fields := make(map[string]interface{}, len(ranks))
	for participantID, rank := range ranks {
		fields[participantID] = rank
	}
	pipe := c.client.Pipeline()
	pipe.HSet(ctx, key, fields)
	if c.ttl > 0 {
		pipe.Expire(ctx, key, c.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (c *RankCache) Clear(ctx context.Context, sessionID string) error {
	return c.client.Del(ctx, c.key(sessionID)).Err()
}

func (c *RankCache) key(sessionID string) string {
	return "rankings:previous:" + sessionID
}
