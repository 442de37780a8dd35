package memory

import (
	"context"
	"sort"
	"sync"

	"quizlive-service/internal/domain"
)

// ParticipantStore is an in-memory implementation of app.ParticipantStore.
type ParticipantStore struct {
	mu        sync.RWMutex
	byID      map[string]*domain.Participant
	bySession map[string][]string // session id -> participant ids in join order
}

func NewParticipantStore() *ParticipantStore {
	return &ParticipantStore{
		byID:      make(map[string]*domain.Participant),
		bySession: make(map[string][]string),
	}
}

func (s *ParticipantStore) Create(_ context.Context, p *domain.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.byID[cp.ID] = &cp
	s.bySession[cp.SessionID] = append(s.bySession[cp.SessionID], cp.ID)
	return nil
}

func (s *ParticipantStore) Get(_ context.Context, id string) (*domain.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byID[id]
	if !ok {
		return nil, domain.ErrParticipantNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *ParticipantStore) Update(_ context.Context, p *domain.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[p.ID]; !ok {
		return domain.ErrParticipantNotFound
	}
	cp := *p
	s.byID[p.ID] = &cp
	return nil
}

func (s *ParticipantStore) ListBySession(_ context.Context, sessionID string, activeOnly bool) ([]*domain.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.bySession[sessionID]
	out := make([]*domain.Participant, 0, len(ids))
	for _, id := range ids {
		p := s.byID[id]
		if activeOnly && !p.Active {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out, nil
}

func (s *ParticipantStore) NicknameTaken(_ context.Context, sessionID, nickname string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range s.bySession[sessionID] {
		p := s.byID[id]
		if p.Active && p.Nickname == nickname {
			return true, nil
		}
	}
	return false, nil
}

func (s *ParticipantStore) CountActive(_ context.Context, sessionID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, id := range s.bySession[sessionID] {
		if s.byID[id].Active {
			n++
		}
	}
	return n, nil
}
