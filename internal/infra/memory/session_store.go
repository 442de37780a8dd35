package memory

import (
	"context"
	"sync"

	"quizlive-service/internal/domain"
)

// SessionStore is an in-memory implementation of app.SessionStore. It hands
// out detached copies so callers never share mutable state with the store.
type SessionStore struct {
	mu     sync.RWMutex
	byID   map[string]*domain.Session
	byCode map[string]string // code -> session id
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		byID:   make(map[string]*domain.Session),
		byCode: make(map[string]string),
	}
}

func (s *SessionStore) Create(_ context.Context, session *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := clone(session)
	s.byID[cp.ID] = cp
	s.byCode[domain.NormalizeCode(cp.Code)] = cp.ID
	return nil
}

func (s *SessionStore) GetByID(_ context.Context, id string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.byID[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return clone(session), nil
}

func (s *SessionStore) GetByCode(_ context.Context, code string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byCode[domain.NormalizeCode(code)]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return clone(s.byID[id]), nil
}

func (s *SessionStore) Update(_ context.Context, session *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[session.ID]; !ok {
		return domain.ErrSessionNotFound
	}
	s.byID[session.ID] = clone(session)
	return nil
}

// CodeInUse reports whether a non-ended session currently holds the code.
// Codes of ended sessions are free for reuse.
func (s *SessionStore) CodeInUse(_ context.Context, code string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byCode[domain.NormalizeCode(code)]
	if !ok {
		return false, nil
	}
	session := s.byID[id]
	return session != nil && !session.Status.Terminal(), nil
}

func clone(s *domain.Session) *domain.Session {
	cp := *s
	cp.QuestionOrder = append([]string(nil), s.QuestionOrder...)
	if s.Snapshot != nil {
		snap := *s.Snapshot
		snap.Entries = append([]domain.SnapshotEntry(nil), s.Snapshot.Entries...)
		cp.Snapshot = &snap
	}
	return &cp
}
