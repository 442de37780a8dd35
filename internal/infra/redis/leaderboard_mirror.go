package redis

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// LeaderboardMirror projects scores onto a Redis sorted set so out-of-process
// dashboards can read standings without touching the engine:
//
//	ZADD leaderboard:session:{sessionID} {score} {participantID}
//
// The engine's in-process computation stays authoritative; the mirror is a
// best-effort projection and every error is reported back for logging only.
type LeaderboardMirror struct {
	client *redis.Client
}

func NewLeaderboardMirror(client *redis.Client) *LeaderboardMirror {
	return &LeaderboardMirror{client: client}
}

func (m *LeaderboardMirror) Record(ctx context.Context, sessionID, participantID string, score int) error {
	return m.client.ZAdd(ctx, m.key(sessionID), redis.Z{
		Score:  float64(score),
		Member: participantID,
	}).Err()
}

func (m *LeaderboardMirror) Remove(ctx context.Context, sessionID, participantID string) error {
	return m.client.ZRem(ctx, m.key(sessionID), participantID).Err()
}

func (m *LeaderboardMirror) Clear(ctx context.Context, sessionID string) error {
	return m.client.Del(ctx, m.key(sessionID)).Err()
}

// Top returns the highest-scored members, for external tooling.
func (m *LeaderboardMirror) Top(ctx context.Context, sessionID string, n int64) ([]redis.Z, error) {
	return m.client.ZRevRangeWithScores(ctx, m.key(sessionID), 0, n-1).Result()
}

func (m *LeaderboardMirror) key(sessionID string) string {
	return "leaderboard:session:" + sessionID
}
