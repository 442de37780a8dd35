package memory

import (
	"context"
	"sort"
	"sync"

	"quizlive-service/internal/domain"
)

// AnswerStore is the in-memory answer ledger. Records are append-only; the
// (participant, question) key is unique and never overwritten.
type AnswerStore struct {
	mu        sync.RWMutex
	byKey     map[string]*domain.Answer // participantID + "\x00" + questionID
	bySession map[string][]string       // session id -> keys in insertion order
}

func NewAnswerStore() *AnswerStore {
	return &AnswerStore{
		byKey:     make(map[string]*domain.Answer),
		bySession: make(map[string][]string),
	}
}

func answerKey(participantID, questionID string) string {
	return participantID + "\x00" + questionID
}

func (s *AnswerStore) Create(_ context.Context, a *domain.Answer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := answerKey(a.ParticipantID, a.QuestionID)
	if _, exists := s.byKey[key]; exists {
		return domain.ErrDuplicateAnswer
	}
	cp := *a
	cp.SelectedOptionIDs = append([]string(nil), a.SelectedOptionIDs...)
	s.byKey[key] = &cp
	s.bySession[a.SessionID] = append(s.bySession[a.SessionID], key)
	return nil
}

func (s *AnswerStore) Find(_ context.Context, participantID, questionID string) (*domain.Answer, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.byKey[answerKey(participantID, questionID)]
	if !ok {
		return nil, false, nil
	}
	cp := *a
	return &cp, true, nil
}

func (s *AnswerStore) ListByQuestion(_ context.Context, sessionID, questionID string) ([]*domain.Answer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Answer
	for _, key := range s.bySession[sessionID] {
		a := s.byKey[key]
		if a.QuestionID == questionID {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *AnswerStore) ListByParticipant(_ context.Context, participantID string) ([]*domain.Answer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Answer
	for _, a := range s.byKey {
		if a.ParticipantID == participantID {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].AnsweredAt.Before(out[j].AnsweredAt) })
	return out, nil
}

func (s *AnswerStore) CountBySession(_ context.Context, sessionID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.bySession[sessionID]), nil
}
