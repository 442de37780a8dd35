package app

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"quizlive-service/internal/domain"
)

// CreateSessionInput carries everything needed to open a lobby.
type CreateSessionInput struct {
	QuizID           string
	HostID           string
	Name             string
	ScheduledStartAt time.Time
	ScheduledEndAt   time.Time
	Settings         domain.SessionSettings
}

// SettingsOverride is applied atomically with the start transition. Nil
// fields keep the value chosen at creation.
type SettingsOverride struct {
	AllowJoinInProgress *bool
	ShuffleQuestions    *bool
	ShowCorrectAnswers  *bool
	ShowLeaderboard     *bool
	AutoAdvance         *bool
	MaxParticipants     *int
	DefaultTimeLimit    *int
	ScheduledStartAt    *time.Time
	ScheduledEndAt      *time.Time
}

const sessionCodeLength = 6

// CreateSession opens a new lobby in WAITING phase with a unique join code.
func (e *Engine) CreateSession(ctx context.Context, in CreateSessionInput) (*domain.Session, error) {
	if in.QuizID == "" || in.HostID == "" {
		return nil, fmt.Errorf("%w: quiz id and host id are required", domain.ErrValidation)
	}
	if in.Settings.MaxParticipants < 0 {
		return nil, fmt.Errorf("%w: max participants must not be negative", domain.ErrValidation)
	}
	if !in.ScheduledEndAt.IsZero() && !in.ScheduledStartAt.IsZero() && !in.ScheduledEndAt.After(in.ScheduledStartAt) {
		return nil, fmt.Errorf("%w: scheduled end must be after scheduled start", domain.ErrValidation)
	}

	hostName := in.HostID
	if e.users != nil {
		user, err := e.users.GetUser(ctx, in.HostID)
		if err != nil {
			return nil, fmt.Errorf("%w: host %s", domain.ErrUserNotFound, in.HostID)
		}
		hostName = user.DisplayName
	}

	quiz, err := e.quizzes.GetQuiz(ctx, in.QuizID)
	if err != nil {
		return nil, err
	}
	if len(quiz.Questions) == 0 {
		return nil, fmt.Errorf("%w: quiz has no questions", domain.ErrValidation)
	}

	code, err := e.generateCode(ctx)
	if err != nil {
		return nil, err
	}

	name := in.Name
	if name == "" {
		name = quiz.Title
	}

	session := &domain.Session{
		ID:               uuid.NewString(),
		QuizID:           in.QuizID,
		HostID:           in.HostID,
		HostName:         hostName,
		Name:             name,
		Code:             code,
		Status:           domain.StatusWaiting,
		CurrentQuestion:  0,
		TotalQuestions:   len(quiz.Questions),
		QuestionOrder:    playOrder(quiz),
		Settings:         in.Settings,
		CreatedAt:        e.now(),
		ScheduledStartAt: in.ScheduledStartAt,
		ScheduledEndAt:   in.ScheduledEndAt,
	}

	if err := e.sessions.Create(ctx, session); err != nil {
		return nil, err
	}
	if err := e.ranks.Clear(ctx, session.ID); err != nil {
		e.log.Warn().Err(err).Str("session", session.ID).Msg("rank cache reset failed")
	}

	e.log.Info().Str("session", session.ID).Str("code", code).Int("questions", session.TotalQuestions).
		Msg("session created")
	e.broadcastGameState(session, domain.ActionSessionLobby, "Lobby opened! Waiting for participants...")
	return session, nil
}

// StartSession transitions WAITING to IN_PROGRESS, applying any settings
// override atomically with the transition. If a scheduled start lies in the
// future the transition is deferred to a cancelable timer.
func (e *Engine) StartSession(ctx context.Context, code string, override *SettingsOverride) (*domain.Session, error) {
	code = domain.NormalizeCode(code)
	unlock := e.locks.lock(code)
	s, err := e.sessions.GetByCode(ctx, code)
	if err != nil {
		unlock()
		return nil, err
	}
	if s.Status != domain.StatusWaiting {
		unlock()
		return nil, fmt.Errorf("%w: cannot start a session in %s", domain.ErrInvalidState, s.Status)
	}
	if override != nil {
		if err := applyOverride(s, override, e.now()); err != nil {
			unlock()
			return nil, err
		}
	}

	if !s.ScheduledStartAt.IsZero() && s.ScheduledStartAt.After(e.now()) {
		if err := e.sessions.Update(ctx, s); err != nil {
			unlock()
			return nil, err
		}
		delay := s.ScheduledStartAt.Sub(e.now())
		snap := *s
		unlock()
		e.broadcastGameState(&snap, domain.ActionSessionScheduled,
			fmt.Sprintf("Quiz scheduled to start at %s", snap.ScheduledStartAt.Format(time.RFC3339)))
		e.timers.start(startTimerKey(code), delay, 0, nil, func() { e.scheduledStart(code) })
		return &snap, nil
	}

	return e.beginLocked(ctx, s, unlock)
}

// scheduledStart fires from the start timer; it re-validates the phase.
func (e *Engine) scheduledStart(code string) {
	defer e.recoverTimer("scheduled start", code)
	ctx := context.Background()
	unlock := e.locks.lock(code)
	s, err := e.sessions.GetByCode(ctx, code)
	if err != nil || s.Status != domain.StatusWaiting {
		unlock()
		return
	}
	if _, err := e.beginLocked(ctx, s, unlock); err != nil {
		e.log.Error().Err(err).Str("code", code).Msg("scheduled start failed")
	}
}

// beginLocked performs the actual WAITING to IN_PROGRESS transition. The
// per-session lock must be held; it is released before any broadcast.
func (e *Engine) beginLocked(ctx context.Context, s *domain.Session, unlock func()) (*domain.Session, error) {
	now := e.now()
	s.Status = domain.StatusInProgress
	s.StartedAt = now
	s.CurrentQuestion = 1
	if s.Settings.ShuffleQuestions {
		rand.Shuffle(len(s.QuestionOrder), func(i, j int) {
			s.QuestionOrder[i], s.QuestionOrder[j] = s.QuestionOrder[j], s.QuestionOrder[i]
		})
	}
	if err := e.sessions.Update(ctx, s); err != nil {
		unlock()
		return nil, err
	}
	snap := *s
	unlock()

	e.log.Info().Str("code", snap.Code).Int("questions", snap.TotalQuestions).Msg("session started")
	e.broadcastGameState(&snap, domain.ActionSessionStarted, "Quiz started! Get ready!")
	e.pushCurrentQuestion(ctx, &snap)

	if !snap.ScheduledEndAt.IsZero() && snap.ScheduledEndAt.After(now) {
		code := snap.Code
		e.timers.start(endTimerKey(code), snap.ScheduledEndAt.Sub(now), 0, nil, func() { e.scheduledEnd(code) })
	}
	return &snap, nil
}

// AdvanceQuestion moves the session to the next question, or to ENDED when
// the last question has been played.
func (e *Engine) AdvanceQuestion(ctx context.Context, code string) (*domain.Session, error) {
	code = domain.NormalizeCode(code)
	s, err := e.sessions.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	return e.advanceFrom(ctx, code, s.CurrentQuestion)
}

// advanceFrom is a compare-and-set advance under the per-session lock: the
// session moves to expected+1 only if it is still on expected. A caller that
// lost the race (timer expiry vs. manual advance) gets the already-advanced
// session back with no error, so duplicates never double-increment.
func (e *Engine) advanceFrom(ctx context.Context, code string, expected int) (*domain.Session, error) {
	unlock := e.locks.lock(code)
	s, err := e.sessions.GetByCode(ctx, code)
	if err != nil {
		unlock()
		return nil, err
	}
	if s.Status != domain.StatusInProgress {
		unlock()
		return nil, fmt.Errorf("%w: cannot advance a session in %s", domain.ErrInvalidState, s.Status)
	}
	if s.CurrentQuestion != expected {
		snap := *s
		unlock()
		return &snap, nil
	}

	next := s.CurrentQuestion + 1
	if next > s.TotalQuestions {
		return e.endLocked(ctx, s, unlock, "Quiz ended! Thanks for playing!")
	}

	s.CurrentQuestion = next
	if err := e.sessions.Update(ctx, s); err != nil {
		unlock()
		return nil, err
	}
	snap := *s
	unlock()

	e.broadcastGameState(&snap, domain.ActionNextQuestion, "")
	e.pushCurrentQuestion(ctx, &snap)
	return &snap, nil
}

// PauseSession suspends answer intake and cancels the question timer.
func (e *Engine) PauseSession(ctx context.Context, code string) (*domain.Session, error) {
	code = domain.NormalizeCode(code)
	unlock := e.locks.lock(code)
	s, err := e.sessions.GetByCode(ctx, code)
	if err != nil {
		unlock()
		return nil, err
	}
	if s.Status != domain.StatusInProgress {
		unlock()
		return nil, fmt.Errorf("%w: cannot pause a session in %s", domain.ErrInvalidState, s.Status)
	}
	s.Status = domain.StatusPaused
	if err := e.sessions.Update(ctx, s); err != nil {
		unlock()
		return nil, err
	}
	snap := *s
	unlock()

	e.timers.cancel(questionTimerKey(code))
	e.broadcastGameState(&snap, domain.ActionSessionPaused, "Quiz paused by the host.")
	e.bc.Broadcast(code, domain.NewEvent(domain.EventSessionTimer, code, domain.SenderSystem, domain.SessionTimerPayload{
		Status:          domain.TimerPaused,
		CurrentQuestion: snap.CurrentQuestion,
		TotalQuestions:  snap.TotalQuestions,
	}))
	return &snap, nil
}

// ResumeSession reopens answer intake. The current question's timer restarts
// at its full limit.
func (e *Engine) ResumeSession(ctx context.Context, code string) (*domain.Session, error) {
	code = domain.NormalizeCode(code)
	unlock := e.locks.lock(code)
	s, err := e.sessions.GetByCode(ctx, code)
	if err != nil {
		unlock()
		return nil, err
	}
	if s.Status != domain.StatusPaused {
		unlock()
		return nil, fmt.Errorf("%w: cannot resume a session in %s", domain.ErrInvalidState, s.Status)
	}
	s.Status = domain.StatusInProgress
	if err := e.sessions.Update(ctx, s); err != nil {
		unlock()
		return nil, err
	}
	snap := *s
	unlock()

	e.broadcastGameState(&snap, domain.ActionSessionResumed, "Quiz resumed.")
	e.pushCurrentQuestion(ctx, &snap)
	return &snap, nil
}

// EndSession forces the terminal transition from any phase. Ending an
// already-ended session is a no-op returning the frozen session.
func (e *Engine) EndSession(ctx context.Context, code string) (*domain.Session, error) {
	code = domain.NormalizeCode(code)
	unlock := e.locks.lock(code)
	s, err := e.sessions.GetByCode(ctx, code)
	if err != nil {
		unlock()
		return nil, err
	}
	if s.Status == domain.StatusEnded {
		snap := *s
		unlock()
		return &snap, nil
	}
	return e.endLocked(ctx, s, unlock, "Quiz ended! Thanks for playing!")
}

// scheduledEnd fires from the session end timer.
func (e *Engine) scheduledEnd(code string) {
	defer e.recoverTimer("scheduled end", code)
	if _, err := e.EndSession(context.Background(), code); err != nil {
		e.log.Error().Err(err).Str("code", code).Msg("scheduled end failed")
	}
}

// endLocked finalizes the session: freezes scores, versions the leaderboard
// snapshot, persists it, and broadcasts the final standings. The per-session
// lock must be held; it is released before broadcasting.
func (e *Engine) endLocked(ctx context.Context, s *domain.Session, unlock func(), message string) (*domain.Session, error) {
	lb, err := e.leaderboardFor(ctx, s, 0, 0)
	if err != nil {
		unlock()
		return nil, err
	}

	version := 1
	if s.Snapshot != nil {
		version = s.Snapshot.Version + 1
	}
	frozen := snapshotOf(lb, version, e.now())

	s.Status = domain.StatusEnded
	s.EndedAt = e.now()
	s.Snapshot = &frozen
	if err := e.sessions.Update(ctx, s); err != nil {
		unlock()
		return nil, err
	}
	snap := *s
	unlock()

	e.timers.cancel(questionTimerKey(snap.Code))
	e.timers.cancel(startTimerKey(snap.Code))
	e.timers.cancel(endTimerKey(snap.Code))

	// The terminal transition is already durable; snapshot persistence is
	// reporting data and must not roll it back.
	if err := e.snapshots.Save(ctx, snap.ID, frozen); err != nil {
		e.log.Warn().Err(err).Str("session", snap.ID).Msg("snapshot persistence failed")
	}
	if err := e.ranks.Clear(ctx, snap.ID); err != nil {
		e.log.Warn().Err(err).Str("session", snap.ID).Msg("rank cache cleanup failed")
	}
	if err := e.mirror.Clear(ctx, snap.ID); err != nil {
		e.log.Warn().Err(err).Str("session", snap.ID).Msg("leaderboard mirror cleanup failed")
	}

	e.log.Info().Str("code", snap.Code).Int("participants", snap.TotalParticipants).Msg("session ended")
	e.broadcastGameState(&snap, domain.ActionSessionEnded, message)
	e.bc.Broadcast(snap.Code, domain.NewEvent(domain.EventLeaderboard, snap.Code, domain.SenderSystem, lb))
	return &snap, nil
}

// CanJoin reports whether a participant may enter the session right now.
func (e *Engine) CanJoin(ctx context.Context, code string) (bool, error) {
	s, err := e.sessions.GetByCode(ctx, domain.NormalizeCode(code))
	if err != nil {
		return false, err
	}
	return s.CanJoin() && !s.AtCapacity(), nil
}

// Session returns the session record for state synchronization.
func (e *Engine) Session(ctx context.Context, code string) (*domain.Session, error) {
	return e.sessions.GetByCode(ctx, domain.NormalizeCode(code))
}

// CurrentQuestionView returns the public view of the live question.
func (e *Engine) CurrentQuestionView(ctx context.Context, code string) (*domain.QuestionView, error) {
	s, err := e.sessions.GetByCode(ctx, domain.NormalizeCode(code))
	if err != nil {
		return nil, err
	}
	if s.Status != domain.StatusInProgress && s.Status != domain.StatusPaused {
		return nil, fmt.Errorf("%w: no question is live in %s", domain.ErrInvalidState, s.Status)
	}
	quiz, err := e.quizzes.GetQuiz(ctx, s.QuizID)
	if err != nil {
		return nil, err
	}
	q, ok := questionByID(quiz, currentQuestionID(s))
	if !ok {
		return nil, domain.ErrQuestionNotFound
	}
	view := q.PublicView(s.CurrentQuestion, s.TotalQuestions, e.timeLimitFor(s, q))
	return &view, nil
}

// pushCurrentQuestion broadcasts the live question and arms its timer.
// Failures here are logged, never propagated: the phase transition that led
// here has already been persisted.
func (e *Engine) pushCurrentQuestion(ctx context.Context, s *domain.Session) {
	quiz, err := e.quizzes.GetQuiz(ctx, s.QuizID)
	if err != nil {
		e.log.Error().Err(err).Str("code", s.Code).Msg("quiz lookup for question push failed")
		return
	}
	q, ok := questionByID(quiz, currentQuestionID(s))
	if !ok {
		e.log.Error().Str("code", s.Code).Int("question", s.CurrentQuestion).Msg("question missing from quiz content")
		return
	}
	limit := e.timeLimitFor(s, q)
	view := q.PublicView(s.CurrentQuestion, s.TotalQuestions, limit)
	e.bc.Broadcast(s.Code, domain.NewEvent(domain.EventQuestion, s.Code, domain.SenderSystem, view))
	e.startQuestionTimer(s, limit)
}

// startQuestionTimer arms the countdown for the current question. The timer
// captures the question number it was armed for; a fire against a session
// that has moved on is ignored.
func (e *Engine) startQuestionTimer(s *domain.Session, limitSec int) {
	code := s.Code
	num := s.CurrentQuestion
	totalQ := s.TotalQuestions
	auto := s.Settings.AutoAdvance

	e.timers.start(questionTimerKey(code), time.Duration(limitSec)*time.Second, e.cfg.TimerTick,
		func(remaining time.Duration) {
			e.bc.Broadcast(code, domain.NewEvent(domain.EventSessionTimer, code, domain.SenderSystem, domain.SessionTimerPayload{
				Status:           domain.TimerRunning,
				RemainingSeconds: int((remaining + time.Second - 1) / time.Second),
				TotalSeconds:     limitSec,
				CurrentQuestion:  num,
				TotalQuestions:   totalQ,
				AutoAdvance:      auto,
			}))
		},
		func() { e.questionExpired(code, num, limitSec) },
	)
}

// questionExpired handles timer expiry: auto-advance when configured,
// otherwise a TIME_UP notification. Stale fires are dropped.
func (e *Engine) questionExpired(code string, num, limitSec int) {
	defer e.recoverTimer("question timer", code)
	ctx := context.Background()
	s, err := e.sessions.GetByCode(ctx, code)
	if err != nil || s.Status != domain.StatusInProgress || s.CurrentQuestion != num {
		return
	}

	e.bc.Broadcast(code, domain.NewEvent(domain.EventSessionTimer, code, domain.SenderSystem, domain.SessionTimerPayload{
		Status:          domain.TimerExpired,
		TotalSeconds:    limitSec,
		CurrentQuestion: num,
		TotalQuestions:  s.TotalQuestions,
		AutoAdvance:     s.Settings.AutoAdvance,
	}))

	if s.Settings.AutoAdvance {
		if _, err := e.advanceFrom(ctx, code, num); err != nil {
			e.log.Error().Err(err).Str("code", code).Msg("timer-driven advance failed")
		}
		return
	}
	e.broadcastGameState(s, domain.ActionTimeUp, "Time's up!")
}

// recoverTimer keeps a panicking timer task from taking the session down.
// The generation is advanced so the broken timer cannot retrigger.
func (e *Engine) recoverTimer(what, code string) {
	if r := recover(); r != nil {
		e.log.Error().Str("code", code).Interface("panic", r).Msgf("%s task panicked", what)
		e.timers.cancel(questionTimerKey(code))
	}
}

func (e *Engine) broadcastGameState(s *domain.Session, action, message string) {
	e.bc.Broadcast(s.Code, domain.NewEvent(domain.EventGameState, s.Code, domain.SenderSystem, domain.GameStatePayload{
		Status:          s.Status,
		Action:          action,
		CurrentQuestion: s.CurrentQuestion,
		TotalQuestions:  s.TotalQuestions,
		HostName:        s.HostName,
		Message:         message,
	}))
}

// generateCode draws short codes until one is free among active sessions.
func (e *Engine) generateCode(ctx context.Context) (string, error) {
	for attempt := 0; attempt < 10; attempt++ {
		code := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:sessionCodeLength])
		taken, err := e.sessions.CodeInUse(ctx, code)
		if err != nil {
			return "", err
		}
		if !taken {
			return code, nil
		}
	}
	return "", fmt.Errorf("%w: could not allocate a unique session code", domain.ErrValidation)
}

// playOrder returns question ids sorted by authoring order.
func playOrder(quiz domain.Quiz) []string {
	questions := make([]domain.Question, len(quiz.Questions))
	copy(questions, quiz.Questions)
	sort.SliceStable(questions, func(i, j int) bool { return questions[i].Order < questions[j].Order })
	ids := make([]string, 0, len(questions))
	for _, q := range questions {
		ids = append(ids, q.ID)
	}
	return ids
}

func applyOverride(s *domain.Session, o *SettingsOverride, now time.Time) error {
	if o.AllowJoinInProgress != nil {
		s.Settings.AllowJoinInProgress = *o.AllowJoinInProgress
	}
	if o.ShuffleQuestions != nil {
		s.Settings.ShuffleQuestions = *o.ShuffleQuestions
	}
	if o.ShowCorrectAnswers != nil {
		s.Settings.ShowCorrectAnswers = *o.ShowCorrectAnswers
	}
	if o.ShowLeaderboard != nil {
		s.Settings.ShowLeaderboard = *o.ShowLeaderboard
	}
	if o.AutoAdvance != nil {
		s.Settings.AutoAdvance = *o.AutoAdvance
	}
	if o.MaxParticipants != nil {
		if *o.MaxParticipants < 0 {
			return fmt.Errorf("%w: max participants must not be negative", domain.ErrValidation)
		}
		s.Settings.MaxParticipants = *o.MaxParticipants
	}
	if o.DefaultTimeLimit != nil {
		if *o.DefaultTimeLimit < 0 {
			return fmt.Errorf("%w: time limit must not be negative", domain.ErrValidation)
		}
		s.Settings.DefaultTimeLimit = *o.DefaultTimeLimit
	}
	if o.ScheduledStartAt != nil {
		if o.ScheduledStartAt.Before(now) {
			return fmt.Errorf("%w: scheduled start must not be in the past", domain.ErrValidation)
		}
		s.ScheduledStartAt = *o.ScheduledStartAt
	}
	if o.ScheduledEndAt != nil {
		if o.ScheduledEndAt.Before(now) {
			return fmt.Errorf("%w: scheduled end must not be in the past", domain.ErrValidation)
		}
		s.ScheduledEndAt = *o.ScheduledEndAt
	}
	if !s.ScheduledStartAt.IsZero() && !s.ScheduledEndAt.IsZero() && !s.ScheduledEndAt.After(s.ScheduledStartAt) {
		return fmt.Errorf("%w: scheduled end must be after scheduled start", domain.ErrValidation)
	}
	return nil
}
