package app

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"quizlive-service/internal/domain"
)

// Config tunes the engine's scoring and timing policy.
type Config struct {
	// GraceMs is the tolerance beyond a question's time limit before an
	// answer is recorded as overtime (correct=false, 0 points).
	GraceMs int64
	// DefaultTimeLimit (seconds) applies when neither question nor session
	// declare one.
	DefaultTimeLimit int
	// LeaderboardLimit caps entries in broadcast leaderboards.
	LeaderboardLimit int
	// TimerTick is the SESSION_TIMER resolution.
	TimerTick time.Duration
}

func (c Config) withDefaults() Config {
	if c.DefaultTimeLimit <= 0 {
		c.DefaultTimeLimit = 30
	}
	if c.LeaderboardLimit <= 0 {
		c.LeaderboardLimit = 20
	}
	if c.TimerTick <= 0 {
		c.TimerTick = time.Second
	}
	return c
}

// Deps collects the engine's collaborators. Ranks, Mirror, Snapshots, Users
// and Broadcaster may be nil; no-op implementations are substituted.
type Deps struct {
	Sessions     SessionStore
	Participants ParticipantStore
	Answers      AnswerStore
	Quizzes      QuizRepository
	Users        UserDirectory
	Ranks        RankCache
	Mirror       LeaderboardMirror
	Snapshots    SnapshotStore
	Broadcaster  Broadcaster
	Logger       zerolog.Logger
}

// Engine is the live session core: state machine, participant registry,
// answer ledger and scoring engine behind one facade. All session mutations
// are serialized through a per-session lock; broadcasts happen outside the
// critical section from consistent snapshots.
type Engine struct {
	sessions     SessionStore
	participants ParticipantStore
	answers      AnswerStore
	quizzes      QuizRepository
	users        UserDirectory
	ranks        RankCache
	mirror       LeaderboardMirror
	snapshots    SnapshotStore
	bc           Broadcaster

	cfg    Config
	locks  *keyedLocks
	timers *timerRegistry
	log    zerolog.Logger
	now    func() time.Time
}

// NewEngine wires the engine. Sessions, Participants, Answers and Quizzes are
// required.
func NewEngine(deps Deps, cfg Config) *Engine {
	if deps.Ranks == nil {
		deps.Ranks = nopRankCache{}
	}
	if deps.Mirror == nil {
		deps.Mirror = nopMirror{}
	}
	if deps.Snapshots == nil {
		deps.Snapshots = nopSnapshots{}
	}
	if deps.Broadcaster == nil {
		deps.Broadcaster = nopBroadcaster{}
	}
	return &Engine{
		sessions:     deps.Sessions,
		participants: deps.Participants,
		answers:      deps.Answers,
		quizzes:      deps.Quizzes,
		users:        deps.Users,
		ranks:        deps.Ranks,
		mirror:       deps.Mirror,
		snapshots:    deps.Snapshots,
		bc:           deps.Broadcaster,
		cfg:          cfg.withDefaults(),
		locks:        newKeyedLocks(),
		timers:       newTimerRegistry(),
		log:          deps.Logger.With().Str("component", "engine").Logger(),
		now:          time.Now,
	}
}

// WithClock is test-only for deterministic timestamps.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Shutdown cancels all session timers. Pending broadcasts are abandoned.
func (e *Engine) Shutdown() {
	e.timers.mu.Lock()
	keys := make([]string, 0, len(e.timers.stops))
	for k := range e.timers.stops {
		keys = append(keys, k)
	}
	e.timers.mu.Unlock()
	for _, k := range keys {
		e.timers.cancel(k)
	}
}

func questionTimerKey(code string) string { return "question:" + code }
func startTimerKey(code string) string    { return "start:" + code }
func endTimerKey(code string) string      { return "end:" + code }

// mirrorScore updates the shared scoreboard, best-effort.
func (e *Engine) mirrorScore(ctx context.Context, sessionID, participantID string, score int) {
	if err := e.mirror.Record(ctx, sessionID, participantID, score); err != nil {
		e.log.Warn().Err(err).Str("session", sessionID).Msg("leaderboard mirror update failed")
	}
}

// questionByID resolves a question from the quiz content.
func questionByID(quiz domain.Quiz, id string) (domain.Question, bool) {
	for i := range quiz.Questions {
		if quiz.Questions[i].ID == id {
			return quiz.Questions[i], true
		}
	}
	return domain.Question{}, false
}

// currentQuestionID returns the id of the question being played, or "".
func currentQuestionID(s *domain.Session) string {
	if s.CurrentQuestion < 1 || s.CurrentQuestion > len(s.QuestionOrder) {
		return ""
	}
	return s.QuestionOrder[s.CurrentQuestion-1]
}

// timeLimitFor resolves the effective time limit in seconds.
func (e *Engine) timeLimitFor(s *domain.Session, q domain.Question) int {
	if q.TimeLimit > 0 {
		return q.TimeLimit
	}
	if s.Settings.DefaultTimeLimit > 0 {
		return s.Settings.DefaultTimeLimit
	}
	return e.cfg.DefaultTimeLimit
}

type nopRankCache struct{}

func (nopRankCache) LastRanks(context.Context, string) (map[string]int, error) { return nil, nil }
func (nopRankCache) StoreRanks(context.Context, string, map[string]int) error  { return nil }
func (nopRankCache) Clear(context.Context, string) error                       { return nil }

type nopMirror struct{}

func (nopMirror) Record(context.Context, string, string, int) error { return nil }
func (nopMirror) Remove(context.Context, string, string) error      { return nil }
func (nopMirror) Clear(context.Context, string) error               { return nil }

type nopSnapshots struct{}

func (nopSnapshots) Save(context.Context, string, domain.LeaderboardSnapshot) error { return nil }

type nopBroadcaster struct{}

func (nopBroadcaster) Broadcast(string, domain.Event)                 {}
func (nopBroadcaster) SendToParticipant(string, string, domain.Event) {}
func (nopBroadcaster) SendToHost(string, domain.Event)                {}
