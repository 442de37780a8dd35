package app

import (
	"context"
	"sort"
	"time"

	"quizlive-service/internal/domain"
)

// ComputeLeaderboard returns the ranked standings for a session. Ordering is
// deterministic: score descending, then earliest join, then participant id.
// limit and offset page the result; limit 0 returns everything.
func (e *Engine) ComputeLeaderboard(ctx context.Context, code string, limit, offset int) (*domain.Leaderboard, error) {
	s, err := e.sessions.GetByCode(ctx, domain.NormalizeCode(code))
	if err != nil {
		return nil, err
	}
	lb, err := e.leaderboardFor(ctx, s, 0, 0)
	if err != nil {
		return nil, err
	}
	return pageLeaderboard(*lb, limit, offset), nil
}

// ComputeRank describes one participant's standing relative to the leader
// and the next participant below them.
func (e *Engine) ComputeRank(ctx context.Context, code, participantID string) (*domain.RankInfo, error) {
	s, err := e.sessions.GetByCode(ctx, domain.NormalizeCode(code))
	if err != nil {
		return nil, err
	}
	lb, err := e.leaderboardFor(ctx, s, 0, 0)
	if err != nil {
		return nil, err
	}

	for i, entry := range lb.Entries {
		if entry.ParticipantID != participantID {
			continue
		}
		info := &domain.RankInfo{
			ParticipantID:     entry.ParticipantID,
			Nickname:          entry.Nickname,
			Rank:              entry.Rank,
			Score:             entry.Score,
			TotalParticipants: lb.TotalParticipants,
		}
		if len(lb.Entries) > 0 {
			info.BehindLeader = lb.Entries[0].Score - entry.Score
		}
		if i+1 < len(lb.Entries) {
			info.AheadOfNext = entry.Score - lb.Entries[i+1].Score
		}
		if entry.PreviousRank > 0 {
			info.RankDelta = entry.PreviousRank - entry.Rank
		}
		return info, nil
	}
	return nil, domain.ErrParticipantNotFound
}

// QuestionStats aggregates the ledger for one question: per-option counts,
// accuracy and timing. The question does not have to be current.
func (e *Engine) QuestionStats(ctx context.Context, code, questionID string) (*domain.QuestionStatistics, error) {
	s, err := e.sessions.GetByCode(ctx, domain.NormalizeCode(code))
	if err != nil {
		return nil, err
	}
	quiz, err := e.quizzes.GetQuiz(ctx, s.QuizID)
	if err != nil {
		return nil, err
	}
	if _, ok := questionByID(quiz, questionID); !ok {
		return nil, domain.ErrQuestionNotFound
	}

	answers, err := e.answers.ListByQuestion(ctx, s.ID, questionID)
	if err != nil {
		return nil, err
	}

	stats := &domain.QuestionStatistics{
		QuestionID:   questionID,
		OptionCounts: make(map[string]int),
	}
	var totalMs int64
	for _, a := range answers {
		stats.TotalAnswers++
		if a.Correct {
			stats.CorrectAnswers++
		}
		for _, id := range a.SelectedOptionIDs {
			stats.OptionCounts[id]++
		}
		totalMs += a.TimeTakenMs
		if stats.FastestMs == 0 || a.TimeTakenMs < stats.FastestMs {
			stats.FastestMs = a.TimeTakenMs
		}
		if a.TimeTakenMs > stats.SlowestMs {
			stats.SlowestMs = a.TimeTakenMs
		}
	}
	if stats.TotalAnswers > 0 {
		stats.AccuracyRate = float64(stats.CorrectAnswers) / float64(stats.TotalAnswers)
		stats.AverageTimeMs = float64(totalMs) / float64(stats.TotalAnswers)
	}
	return stats, nil
}

// SessionStats aggregates live progress for the host dashboard.
func (e *Engine) SessionStats(ctx context.Context, code string) (*domain.SessionStatistics, error) {
	s, err := e.sessions.GetByCode(ctx, domain.NormalizeCode(code))
	if err != nil {
		return nil, err
	}
	active, err := e.participants.ListBySession(ctx, s.ID, true)
	if err != nil {
		return nil, err
	}
	// The ledger is authoritative for the answer total; the session counter
	// only feeds broadcast payloads.
	totalAnswers, err := e.answers.CountBySession(ctx, s.ID)
	if err != nil {
		return nil, err
	}

	stats := &domain.SessionStatistics{
		SessionCode:        s.Code,
		CurrentQuestion:    s.CurrentQuestion,
		TotalQuestions:     s.TotalQuestions,
		ActiveParticipants: len(active),
		TotalAnswers:       totalAnswers,
		CorrectAnswers:     s.CorrectAnswers,
	}

	if qid := currentQuestionID(s); qid != "" {
		current, err := e.answers.ListByQuestion(ctx, s.ID, qid)
		if err != nil {
			return nil, err
		}
		stats.AnsweredCurrent = len(current)
		if len(active) > 0 {
			stats.CompletionRate = float64(len(current)) / float64(len(active))
		}
	}

	var total int
	for _, p := range active {
		total += p.TotalScore
		if p.TotalScore > stats.HighestScore {
			stats.HighestScore = p.TotalScore
			stats.TopNickname = p.Nickname
		}
	}
	if len(active) > 0 {
		stats.AverageScore = float64(total) / float64(len(active))
	}
	return stats, nil
}

// leaderboardFor ranks the active participants of s. PreviousRank is filled
// from the rank cache (0 when never ranked before). limit 0 returns all.
func (e *Engine) leaderboardFor(ctx context.Context, s *domain.Session, limit, offset int) (*domain.Leaderboard, error) {
	active, err := e.participants.ListBySession(ctx, s.ID, true)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(active, func(i, j int) bool {
		a, b := active[i], active[j]
		if a.TotalScore != b.TotalScore {
			return a.TotalScore > b.TotalScore
		}
		if !a.JoinedAt.Equal(b.JoinedAt) {
			return a.JoinedAt.Before(b.JoinedAt)
		}
		return a.ID < b.ID
	})

	prev, err := e.ranks.LastRanks(ctx, s.ID)
	if err != nil {
		e.log.Warn().Err(err).Str("session", s.ID).Msg("rank cache read failed")
		prev = nil
	}

	entries := make([]domain.LeaderboardEntry, 0, len(active))
	for i, p := range active {
		entries = append(entries, domain.LeaderboardEntry{
			ParticipantID: p.ID,
			Nickname:      p.Nickname,
			Rank:          i + 1,
			Score:         p.TotalScore,
			Streak:        p.Streak,
			PreviousRank:  prev[p.ID],
		})
	}

	lb := &domain.Leaderboard{
		SessionCode:       s.Code,
		Entries:           entries,
		TotalParticipants: len(active),
		UpdatedAt:         e.now(),
	}
	return pageLeaderboard(*lb, limit, offset), nil
}

// broadcastLeaderboard pushes fresh standings to the room and remembers the
// broadcast ranks for future deltas.
func (e *Engine) broadcastLeaderboard(ctx context.Context, s *domain.Session) {
	lb, err := e.leaderboardFor(ctx, s, 0, 0)
	if err != nil {
		e.log.Warn().Err(err).Str("code", s.Code).Msg("leaderboard computation failed")
		return
	}
	e.bc.Broadcast(s.Code, domain.NewEvent(domain.EventLeaderboard, s.Code, domain.SenderSystem,
		trimLeaderboard(*lb, e.cfg.LeaderboardLimit)))
	e.storeRanks(ctx, s.ID, lb)
}

// storeRanks records the just-broadcast ranks so the next broadcast can
// report deltas.
func (e *Engine) storeRanks(ctx context.Context, sessionID string, lb *domain.Leaderboard) {
	ranks := make(map[string]int, len(lb.Entries))
	for _, entry := range lb.Entries {
		ranks[entry.ParticipantID] = entry.Rank
	}
	if err := e.ranks.StoreRanks(ctx, sessionID, ranks); err != nil {
		e.log.Warn().Err(err).Str("session", sessionID).Msg("rank cache write failed")
	}
}

// sendHostProgress pushes answering progress to the host channel.
func (e *Engine) sendHostProgress(ctx context.Context, s *domain.Session) {
	payload := domain.HostProgressPayload{
		CurrentQuestion: s.CurrentQuestion,
		TotalQuestions:  s.TotalQuestions,
	}
	active, err := e.participants.ListBySession(ctx, s.ID, true)
	if err != nil {
		e.log.Warn().Err(err).Str("session", s.ID).Msg("roster listing for host progress failed")
		return
	}
	payload.ActiveParticipants = len(active)
	if qid := currentQuestionID(s); qid != "" {
		answers, err := e.answers.ListByQuestion(ctx, s.ID, qid)
		if err == nil {
			payload.AnsweredCurrent = len(answers)
			if len(active) > 0 {
				payload.CompletionRate = float64(len(answers)) / float64(len(active))
			}
		}
	}
	if s.TotalAnswers > 0 {
		payload.AccuracyRate = float64(s.CorrectAnswers) / float64(s.TotalAnswers)
	}
	e.bc.SendToHost(s.Code, domain.NewEvent(domain.EventHostProgress, s.Code, domain.SenderSystem, payload))
}

// pageLeaderboard applies offset and limit to a computed leaderboard.
// TotalParticipants keeps the unpaged count.
func pageLeaderboard(lb domain.Leaderboard, limit, offset int) *domain.Leaderboard {
	entries := lb.Entries
	if offset > 0 {
		if offset >= len(entries) {
			entries = nil
		} else {
			entries = entries[offset:]
		}
	}
	if limit > 0 && limit < len(entries) {
		entries = entries[:limit]
	}
	lb.Entries = entries
	return &lb
}

// trimLeaderboard caps the entries carried on broadcast events.
func trimLeaderboard(lb domain.Leaderboard, limit int) domain.Leaderboard {
	if limit > 0 && len(lb.Entries) > limit {
		lb.Entries = lb.Entries[:limit]
	}
	return lb
}

// snapshotOf freezes a computed leaderboard into a versioned snapshot.
func snapshotOf(lb *domain.Leaderboard, version int, takenAt time.Time) domain.LeaderboardSnapshot {
	entries := make([]domain.SnapshotEntry, 0, len(lb.Entries))
	for _, e := range lb.Entries {
		entries = append(entries, domain.SnapshotEntry{
			ParticipantID: e.ParticipantID,
			Nickname:      e.Nickname,
			Score:         e.Score,
			Rank:          e.Rank,
		})
	}
	return domain.LeaderboardSnapshot{Version: version, TakenAt: takenAt, Entries: entries}
}
