package redis

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newClient(mr *miniredis.Miniredis) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestRankCacheRoundTrip(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	cache := NewRankCache(newClient(mr), time.Minute)
	ctx := context.Background()

	if ranks, err := cache.LastRanks(ctx, "s1"); err != nil || ranks != nil {
		t.Fatalf("expected empty cache, got %v %v", ranks, err)
	}

	if err := cache.StoreRanks(ctx, "s1", map[string]int{"p1": 1, "p2": 2}); err != nil {
		t.Fatalf("store: %v", err)
	}
	ranks, err := cache.LastRanks(ctx, "s1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if ranks["p1"] != 1 || ranks["p2"] != 2 {
		t.Fatalf("unexpected ranks: %v", ranks)
	}

	if err := cache.Clear(ctx, "s1"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if ranks, _ := cache.LastRanks(ctx, "s1"); ranks != nil {
		t.Fatalf("expected cleared cache, got %v", ranks)
	}
}

func TestRankCacheKeysExpire(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	cache := NewRankCache(newClient(mr), time.Second)
	ctx := context.Background()
	if err := cache.StoreRanks(ctx, "s1", map[string]int{"p1": 1}); err != nil {
		t.Fatalf("store: %v", err)
	}

	mr.FastForward(2 * time.Second)
	if ranks, _ := cache.LastRanks(ctx, "s1"); ranks != nil {
		t.Fatalf("expected expired entries, got %v", ranks)
	}
}
