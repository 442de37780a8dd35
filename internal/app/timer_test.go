package app

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"quizlive-service/internal/domain"
)

func TestTimerExpires(t *testing.T) {
	r := newTimerRegistry()
	fired := make(chan struct{})
	r.start("k", 30*time.Millisecond, 0, nil, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatalf("timer never fired")
	}
}

func TestTimerCancelSuppressesExpiry(t *testing.T) {
	r := newTimerRegistry()
	var fired atomic.Bool
	r.start("k", 50*time.Millisecond, 0, nil, func() { fired.Store(true) })
	r.cancel("k")

	time.Sleep(150 * time.Millisecond)
	if fired.Load() {
		t.Fatalf("canceled timer fired")
	}
}

func TestTimerRestartInvalidatesPredecessor(t *testing.T) {
	r := newTimerRegistry()
	var firstFired, secondFired atomic.Bool
	r.start("k", 50*time.Millisecond, 0, nil, func() { firstFired.Store(true) })
	r.start("k", 80*time.Millisecond, 0, nil, func() { secondFired.Store(true) })

	time.Sleep(250 * time.Millisecond)
	if firstFired.Load() {
		t.Fatalf("superseded timer fired")
	}
	if !secondFired.Load() {
		t.Fatalf("replacement timer never fired")
	}
}

func TestTimerTicksCountDown(t *testing.T) {
	r := newTimerRegistry()
	var mu sync.Mutex
	var remaining []time.Duration
	done := make(chan struct{})
	r.start("k", 120*time.Millisecond, 25*time.Millisecond,
		func(left time.Duration) {
			mu.Lock()
			remaining = append(remaining, left)
			mu.Unlock()
		},
		func() { close(done) },
	)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("ticker timer never expired")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(remaining) == 0 {
		t.Fatalf("expected at least one tick")
	}
	for i := 1; i < len(remaining); i++ {
		if remaining[i] >= remaining[i-1] {
			t.Fatalf("remaining must decrease: %v", remaining)
		}
	}
}

func TestKeyedLocksSerialize(t *testing.T) {
	locks := newKeyedLocks()
	var counter int
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.lock("session")
			counter++
			unlock()
		}()
	}
	wg.Wait()
	if counter != 50 {
		t.Fatalf("lost updates under the keyed lock: %d", counter)
	}
}

func TestSpeedPoints(t *testing.T) {
	base := 100
	limit := int64(30000)

	instant := speedPoints(base, 0, limit)
	if instant != base {
		t.Fatalf("instant answer earns full base, got %d", instant)
	}
	atLimit := speedPoints(base, limit, limit)
	if atLimit != base/2 {
		t.Fatalf("answer at the limit earns half base, got %d", atLimit)
	}
	// Monotone: never faster-but-fewer.
	prev := instant
	for _, ms := range []int64{1000, 5000, 15000, 29000, 30000} {
		pts := speedPoints(base, ms, limit)
		if pts > prev {
			t.Fatalf("points increased with slower answer at %dms", ms)
		}
		prev = pts
	}
	if speedPoints(base, 5000, 5000) != speedPoints(base, 5000, 5000) {
		t.Fatalf("equal inputs must yield equal points")
	}
	if speedPoints(base, 10, 0) != base {
		t.Fatalf("no limit means full base")
	}
}

func TestJudgeShortAnswer(t *testing.T) {
	q := domain.Question{
		ID:   "q-capital",
		Type: domain.QuestionShortAnswer,
		Options: []domain.Option{
			{ID: "o1", Text: "Oslo", Correct: true},
		},
	}

	cases := []struct {
		text string
		want bool
	}{
		{"Oslo", true},
		{"  oslo  ", true},
		{"OSLO", true},
		{"Bergen", false},
	}
	for _, c := range cases {
		got := judge(q, domain.AnswerSubmission{AnswerText: c.text})
		if got != c.want {
			t.Fatalf("judge(%q) = %v, want %v", c.text, got, c.want)
		}
	}
}
