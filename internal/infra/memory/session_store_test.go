package memory

import (
	"context"
	"errors"
	"testing"

	"quizlive-service/internal/domain"
)

func TestSessionStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore()

	s := &domain.Session{ID: "s1", Code: "ABC123", Status: domain.StatusWaiting, QuestionOrder: []string{"q1"}}
	if err := store.Create(ctx, s); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := store.GetByCode(ctx, "abc123")
	if err != nil {
		t.Fatalf("get by lowercase code: %v", err)
	}
	if got.ID != "s1" {
		t.Fatalf("wrong session: %+v", got)
	}

	// Returned sessions are detached copies.
	got.Status = domain.StatusEnded
	got.QuestionOrder[0] = "mutated"
	fresh, _ := store.GetByID(ctx, "s1")
	if fresh.Status != domain.StatusWaiting || fresh.QuestionOrder[0] != "q1" {
		t.Fatalf("store leaked mutable state: %+v", fresh)
	}

	if _, err := store.GetByCode(ctx, "ZZZZZZ"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSessionStoreCodeInUse(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore()

	s := &domain.Session{ID: "s1", Code: "ABC123", Status: domain.StatusWaiting}
	if err := store.Create(ctx, s); err != nil {
		t.Fatalf("create: %v", err)
	}

	used, err := store.CodeInUse(ctx, "ABC123")
	if err != nil || !used {
		t.Fatalf("expected code in use, got %v %v", used, err)
	}

	// Ending the session frees the code.
	s.Status = domain.StatusEnded
	if err := store.Update(ctx, s); err != nil {
		t.Fatalf("update: %v", err)
	}
	used, err = store.CodeInUse(ctx, "ABC123")
	if err != nil || used {
		t.Fatalf("expected code free after end, got %v %v", used, err)
	}
}
