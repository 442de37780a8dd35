package app

import (
	"context"

	"quizlive-service/internal/domain"
)

// SessionStore abstracts how session records are persisted (in-memory, SQL,
// etc). Implementations return detached copies; the engine serializes
// read-modify-write cycles through the per-session lock.
type SessionStore interface {
	Create(ctx context.Context, s *domain.Session) error
	GetByID(ctx context.Context, id string) (*domain.Session, error)
	GetByCode(ctx context.Context, code string) (*domain.Session, error)
	Update(ctx context.Context, s *domain.Session) error
	// CodeInUse reports whether an active (non-ended) session holds the code.
	CodeInUse(ctx context.Context, code string) (bool, error)
}

// ParticipantStore persists participant records for a session.
type ParticipantStore interface {
	Create(ctx context.Context, p *domain.Participant) error
	Get(ctx context.Context, id string) (*domain.Participant, error)
	Update(ctx context.Context, p *domain.Participant) error
	// ListBySession returns participants ordered by join time. When activeOnly
	// is set, soft-removed participants are excluded.
	ListBySession(ctx context.Context, sessionID string, activeOnly bool) ([]*domain.Participant, error)
	// NicknameTaken is a case-sensitive check among active participants.
	NicknameTaken(ctx context.Context, sessionID, nickname string) (bool, error)
	CountActive(ctx context.Context, sessionID string) (int, error)
}

// AnswerStore is the append-only answer ledger backing store.
type AnswerStore interface {
	Create(ctx context.Context, a *domain.Answer) error
	// Find returns the answer for (participant, question) if one exists.
	Find(ctx context.Context, participantID, questionID string) (*domain.Answer, bool, error)
	ListByQuestion(ctx context.Context, sessionID, questionID string) ([]*domain.Answer, error)
	ListByParticipant(ctx context.Context, participantID string) ([]*domain.Answer, error)
	CountBySession(ctx context.Context, sessionID string) (int, error)
}

// QuizRepository loads quiz content (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// UserDirectory resolves host identities. External collaborator.
type UserDirectory interface {
	GetUser(ctx context.Context, id string) (domain.User, error)
}

// RankCache retains the last-broadcast rank per participant so clients can
// render rank deltas. Eventually consistent; never authoritative.
type RankCache interface {
	LastRanks(ctx context.Context, sessionID string) (map[string]int, error)
	StoreRanks(ctx context.Context, sessionID string, ranks map[string]int) error
	Clear(ctx context.Context, sessionID string) error
}

// LeaderboardMirror pushes score changes to a shared scoreboard (a redis
// sorted set in production) so out-of-process dashboards can read standings.
// All calls are best-effort.
type LeaderboardMirror interface {
	Record(ctx context.Context, sessionID, participantID string, score int) error
	Remove(ctx context.Context, sessionID, participantID string) error
	Clear(ctx context.Context, sessionID string) error
}

// SnapshotStore persists final leaderboard snapshots for reporting.
type SnapshotStore interface {
	Save(ctx context.Context, sessionID string, snap domain.LeaderboardSnapshot) error
}

// Broadcaster fans out events to connected clients. Delivery is
// fire-and-forget: implementations drop what they cannot deliver and the
// engine never waits on them.
type Broadcaster interface {
	Broadcast(sessionCode string, ev domain.Event)
	SendToParticipant(sessionCode, participantID string, ev domain.Event)
	SendToHost(sessionCode string, ev domain.Event)
}
