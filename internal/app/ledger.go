package app

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"

	"quizlive-service/internal/domain"
)

// Submit scores one answer. At most one ledger record ever exists per
// (participant, question); a second submission is rejected and the first
// record stands. The scoring decision happens inside the per-session lock,
// all fan-out happens after release.
func (e *Engine) Submit(ctx context.Context, code string, sub domain.AnswerSubmission) (*domain.AnswerFeedback, error) {
	code = domain.NormalizeCode(code)
	if sub.ParticipantID == "" || sub.QuestionID == "" {
		return nil, fmt.Errorf("%w: participant id and question id are required", domain.ErrValidation)
	}
	if sub.TimeTakenMs < 0 {
		return nil, fmt.Errorf("%w: time taken must not be negative", domain.ErrValidation)
	}

	unlock := e.locks.lock(code)
	s, err := e.sessions.GetByCode(ctx, code)
	if err != nil {
		unlock()
		return nil, err
	}
	switch s.Status {
	case domain.StatusInProgress:
	case domain.StatusPaused:
		unlock()
		return nil, domain.ErrSessionNotAcceptingAnswers
	default:
		unlock()
		return nil, fmt.Errorf("%w: session is %s", domain.ErrSessionClosed, s.Status)
	}

	p, err := e.participants.Get(ctx, sub.ParticipantID)
	if err != nil || p.SessionID != s.ID || !p.Active {
		unlock()
		return nil, domain.ErrParticipantNotFound
	}

	if sub.QuestionID != currentQuestionID(s) {
		unlock()
		return nil, fmt.Errorf("%w: session is on question %d", domain.ErrStaleQuestion, s.CurrentQuestion)
	}

	if _, exists, err := e.answers.Find(ctx, p.ID, sub.QuestionID); err != nil {
		unlock()
		return nil, err
	} else if exists {
		unlock()
		return nil, domain.ErrDuplicateAnswer
	}

	quiz, err := e.quizzes.GetQuiz(ctx, s.QuizID)
	if err != nil {
		unlock()
		return nil, err
	}
	q, ok := questionByID(quiz, sub.QuestionID)
	if !ok {
		unlock()
		return nil, domain.ErrQuestionNotFound
	}
	if err := validateSelection(q, sub); err != nil {
		unlock()
		return nil, err
	}

	limitMs := int64(e.timeLimitFor(s, q)) * 1000
	overtime := sub.TimeTakenMs > limitMs+e.cfg.GraceMs
	correct := !overtime && judge(q, sub)

	base := q.Points
	if base <= 0 {
		base = domain.DefaultBasePoints
	}
	points := 0
	if correct {
		points = speedPoints(base, sub.TimeTakenMs, limitMs)
	}

	answer := &domain.Answer{
		ID:                uuid.NewString(),
		SessionID:         s.ID,
		ParticipantID:     p.ID,
		QuestionID:        sub.QuestionID,
		SelectedOptionIDs: sub.SelectedOptionIDs,
		AnswerText:        sub.AnswerText,
		TimeTakenMs:       sub.TimeTakenMs,
		Correct:           correct,
		PointsEarned:      points,
		AnsweredAt:        e.now(),
	}
	if err := e.answers.Create(ctx, answer); err != nil {
		unlock()
		return nil, err
	}

	prevScore := p.TotalScore
	p.TotalScore += points
	if correct {
		p.Streak++
	} else {
		p.Streak = 0
	}
	if err := e.participants.Update(ctx, p); err != nil {
		unlock()
		return nil, err
	}

	s.TotalAnswers++
	if correct {
		s.CorrectAnswers++
	}
	if err := e.sessions.Update(ctx, s); err != nil {
		unlock()
		return nil, err
	}
	snap := *s
	scored := *p
	unlock()

	e.mirrorScore(ctx, snap.ID, scored.ID, scored.TotalScore)

	lb, err := e.leaderboardFor(ctx, &snap, 0, 0)
	if err != nil {
		e.log.Warn().Err(err).Str("code", code).Msg("ranking after submission failed")
	}
	rank, prevRank := 0, 0
	if lb != nil {
		for _, entry := range lb.Entries {
			if entry.ParticipantID == scored.ID {
				rank = entry.Rank
				prevRank = entry.PreviousRank
				break
			}
		}
	}

	feedback := &domain.AnswerFeedback{
		QuestionID:        sub.QuestionID,
		SelectedOptionIDs: sub.SelectedOptionIDs,
		Correct:           correct,
		PointsEarned:      points,
		TotalScore:        scored.TotalScore,
		Streak:            scored.Streak,
		Rank:              rank,
	}
	if snap.Settings.ShowCorrectAnswers {
		feedback.CorrectOptionIDs = q.CorrectOptionIDs()
	}
	e.bc.SendToParticipant(code, scored.ID, domain.NewEvent(domain.EventAnswerFeedback, code, domain.SenderSystem, *feedback))

	e.bc.Broadcast(code, domain.NewEvent(domain.EventScoreUpdate, code, domain.SenderSystem, domain.ScoreUpdatePayload{
		ParticipantID: scored.ID,
		Nickname:      scored.Nickname,
		PreviousScore: prevScore,
		NewScore:      scored.TotalScore,
		PointsEarned:  points,
		Rank:          rank,
		PreviousRank:  prevRank,
	}))

	if lb != nil && snap.Settings.ShowLeaderboard {
		e.bc.Broadcast(code, domain.NewEvent(domain.EventLeaderboard, code, domain.SenderSystem, trimLeaderboard(*lb, e.cfg.LeaderboardLimit)))
	}
	if lb != nil {
		e.storeRanks(ctx, snap.ID, lb)
	}
	e.sendHostProgress(ctx, &snap)
	return feedback, nil
}

// BulkSubmit scores each item independently. One bad item never blocks the
// rest; the caller gets a per-question outcome either way.
func (e *Engine) BulkSubmit(ctx context.Context, code string, subs []domain.AnswerSubmission) []domain.BulkAnswerOutcome {
	outcomes := make([]domain.BulkAnswerOutcome, 0, len(subs))
	for _, sub := range subs {
		fb, err := e.Submit(ctx, code, sub)
		out := domain.BulkAnswerOutcome{QuestionID: sub.QuestionID}
		if err != nil {
			out.ErrorKind = domain.KindOf(err)
			out.Error = err.Error()
		} else {
			out.Feedback = fb
		}
		outcomes = append(outcomes, out)
	}
	return outcomes
}

// AnswerHistory returns one participant's ledger records in submission order.
// The code must match the session the participant belongs to.
func (e *Engine) AnswerHistory(ctx context.Context, code, participantID string) ([]*domain.Answer, error) {
	p, err := e.participants.Get(ctx, participantID)
	if err != nil {
		return nil, domain.ErrParticipantNotFound
	}
	s, err := e.sessions.GetByID(ctx, p.SessionID)
	if err != nil {
		return nil, err
	}
	if s.Code != domain.NormalizeCode(code) {
		return nil, domain.ErrParticipantNotFound
	}
	return e.answers.ListByParticipant(ctx, participantID)
}

// speedPoints scales base by answer speed: full base at zero elapsed time,
// half base at the limit. Equal times always earn equal points.
func speedPoints(base int, takenMs, limitMs int64) int {
	if limitMs <= 0 {
		return base
	}
	remaining := limitMs - takenMs
	if remaining < 0 {
		remaining = 0
	}
	fraction := float64(remaining) / float64(limitMs)
	return int(math.Round(float64(base) * (0.5 + 0.5*fraction)))
}

// validateSelection rejects submissions whose shape does not fit the
// question type before any scoring happens.
func validateSelection(q domain.Question, sub domain.AnswerSubmission) error {
	switch q.Type {
	case domain.QuestionShortAnswer:
		if strings.TrimSpace(sub.AnswerText) == "" {
			return fmt.Errorf("%w: answer text is required", domain.ErrValidation)
		}
		return nil
	case domain.QuestionSingleChoice, domain.QuestionTrueFalse:
		if len(sub.SelectedOptionIDs) != 1 {
			return fmt.Errorf("%w: exactly one option must be selected", domain.ErrValidation)
		}
	case domain.QuestionMultipleChoice:
		if len(sub.SelectedOptionIDs) == 0 {
			return fmt.Errorf("%w: at least one option must be selected", domain.ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unsupported question type %s", domain.ErrValidation, q.Type)
	}

	valid := make(map[string]struct{}, len(q.Options))
	for _, o := range q.Options {
		valid[o.ID] = struct{}{}
	}
	seen := make(map[string]struct{}, len(sub.SelectedOptionIDs))
	for _, id := range sub.SelectedOptionIDs {
		if _, ok := valid[id]; !ok {
			return fmt.Errorf("%w: %s", domain.ErrOptionNotFound, id)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: option %s selected twice", domain.ErrValidation, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// judge decides correctness per question type. Overtime handling happens in
// the caller; judge only compares content.
func judge(q domain.Question, sub domain.AnswerSubmission) bool {
	switch q.Type {
	case domain.QuestionShortAnswer:
		answer := strings.TrimSpace(sub.AnswerText)
		for _, o := range q.Options {
			if o.Correct && strings.EqualFold(answer, strings.TrimSpace(o.Text)) {
				return true
			}
		}
		return false
	case domain.QuestionMultipleChoice:
		correct := q.CorrectOptionIDs()
		if len(sub.SelectedOptionIDs) != len(correct) {
			return false
		}
		want := make(map[string]struct{}, len(correct))
		for _, id := range correct {
			want[id] = struct{}{}
		}
		for _, id := range sub.SelectedOptionIDs {
			if _, ok := want[id]; !ok {
				return false
			}
		}
		return true
	default: // SINGLE_CHOICE, TRUE_FALSE
		correct := q.CorrectOptionIDs()
		return len(sub.SelectedOptionIDs) == 1 && len(correct) == 1 &&
			sub.SelectedOptionIDs[0] == correct[0]
	}
}
