package app

import (
	"sync"
	"time"
)

// timerRegistry runs cancelable countdowns keyed by string. Every start or
// cancel bumps the key's generation; a running countdown checks its captured
// generation before each callback, so a superseded timer can never fire
// against a newer question.
type timerRegistry struct {
	mu    sync.Mutex
	gens  map[string]uint64
	stops map[string]chan struct{}
}

func newTimerRegistry() *timerRegistry {
	return &timerRegistry{
		gens:  make(map[string]uint64),
		stops: make(map[string]chan struct{}),
	}
}

// start cancels any countdown running under key and begins a new one.
// tick, when non-nil, fires every interval with the remaining duration.
// expire fires once when the countdown elapses. Returns the new generation.
func (r *timerRegistry) start(key string, total, interval time.Duration, tick func(remaining time.Duration), expire func()) uint64 {
	r.mu.Lock()
	if stop, ok := r.stops[key]; ok {
		close(stop)
	}
	r.gens[key]++
	gen := r.gens[key]
	stop := make(chan struct{})
	r.stops[key] = stop
	r.mu.Unlock()

	go r.run(key, gen, total, interval, tick, expire, stop)
	return gen
}

// cancel stops the countdown for key and invalidates its generation.
func (r *timerRegistry) cancel(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if stop, ok := r.stops[key]; ok {
		close(stop)
		delete(r.stops, key)
	}
	r.gens[key]++
}

// generation returns the current generation for key.
func (r *timerRegistry) generation(key string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gens[key]
}

func (r *timerRegistry) run(key string, gen uint64, total, interval time.Duration, tick func(time.Duration), expire func(), stop chan struct{}) {
	if tick == nil || interval <= 0 {
		select {
		case <-time.After(total):
		case <-stop:
			return
		}
		if r.generation(key) == gen {
			expire()
		}
		return
	}

	deadline := time.Now().Add(total)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case now := <-t.C:
			if r.generation(key) != gen {
				return
			}
			remaining := deadline.Sub(now)
			if remaining <= 0 {
				expire()
				return
			}
			tick(remaining)
		}
	}
}
