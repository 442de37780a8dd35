package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"

	"quizlive-service/internal/domain"
)

// SnapshotStore persists final leaderboard snapshots as JSONB rows. One row
// per (session, version); re-saving the same version overwrites it.
type SnapshotStore struct {
	pool *pgxpool.Pool
}

func NewSnapshotStore(pool *pgxpool.Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

func (s *SnapshotStore) Save(ctx context.Context, sessionID string, snap domain.LeaderboardSnapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO session_snapshots (session_id, version, taken_at, data)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (session_id, version) DO UPDATE SET taken_at = $3, data = $4`,
		sessionID, snap.Version, snap.TakenAt, payload)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// Load returns the newest snapshot for a session.
func (s *SnapshotStore) Load(ctx context.Context, sessionID string) (domain.LeaderboardSnapshot, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `
		SELECT data FROM session_snapshots
		WHERE session_id=$1 ORDER BY version DESC LIMIT 1`, sessionID).Scan(&raw)
	if err != nil {
		return domain.LeaderboardSnapshot{}, fmt.Errorf("load snapshot: %w", err)
	}
	var snap domain.LeaderboardSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return domain.LeaderboardSnapshot{}, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return snap, nil
}
