//go:build integration

package redis_test

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	goredis "github.com/redis/go-redis/v9"

	"github.com/promptforge/promptforge"
	quotaredis "github.com/promptforge/promptforge/quota/redis"
)

func newTestClient(t *testing.T) *goredis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := goredis.NewClient(&goredis.Options{Addr: addr, DB: 15})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("redis not available: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func newTestStore(t *testing.T, client *goredis.Client) *quotaredis.Store {
	t.Helper()
	// Unique prefix per test to avoid collisions.
	prefix := fmt.Sprintf("test:%s:", strings.ToLower(t.Name()))
	s := quotaredis.New(client, quotaredis.WithKeyPrefix(prefix))

	t.Cleanup(func() {
		ctx := context.Background()
		iter := client.Scan(ctx, 0, prefix+"*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
	})
	return s
}

func TestUpsertAndGet(t *testing.T) {
	client := newTestClient(t)
	store := newTestStore(t, client)
	ctx := context.Background()

	err := store.UpsertRecord(ctx, promptforge.QuotaRecord{
		UserID: "alice", Day: "2026-08-29", Used: 1, Tier: promptforge.TierPro,
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	rec, found, err := store.GetRecord(ctx, "alice", "2026-08-29")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !found || rec.Used != 1 || rec.Tier != promptforge.TierPro {
		t.Fatalf("unexpected record: %+v found=%v", rec, found)
	}
}

func TestUpsertConflict(t *testing.T) {
	client := newTestClient(t)
	store := newTestStore(t, client)
	ctx := context.Background()

	rec := promptforge.QuotaRecord{UserID: "alice", Day: "2026-08-29", Used: 1, Tier: promptforge.TierFree}
	if err := store.UpsertRecord(ctx, rec); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if err := store.UpsertRecord(ctx, rec); err != promptforge.ErrRecordConflict {
		t.Fatalf("expected ErrRecordConflict, got %v", err)
	}
}

func TestIncrementIfBelow(t *testing.T) {
	client := newTestClient(t)
	store := newTestStore(t, client)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		used, ok, err := store.IncrementIfBelow(ctx, "alice", "2026-08-29", promptforge.TierFree, 3)
		if err != nil {
			t.Fatalf("increment %d: %v", i, err)
		}
		if !ok || used != i {
			t.Fatalf("increment %d: used=%d ok=%v", i, used, ok)
		}
	}

	used, ok, err := store.IncrementIfBelow(ctx, "alice", "2026-08-29", promptforge.TierFree, 3)
	if err != nil {
		t.Fatalf("increment over limit: %v", err)
	}
	if ok || used != 3 {
		t.Fatalf("expected denial at used=3, got used=%d ok=%v", used, ok)
	}
}

func TestDecrementFloor(t *testing.T) {
	client := newTestClient(t)
	store := newTestStore(t, client)
	ctx := context.Background()

	if _, _, err := store.IncrementIfBelow(ctx, "alice", "2026-08-29", promptforge.TierFree, 5); err != nil {
		t.Fatalf("increment: %v", err)
	}

	used, err := store.DecrementFloor(ctx, "alice", "2026-08-29")
	if err != nil {
		t.Fatalf("decrement: %v", err)
	}
	if used != 0 {
		t.Fatalf("expected used=0, got %d", used)
	}

	used, err = store.DecrementFloor(ctx, "alice", "2026-08-29")
	if err != nil {
		t.Fatalf("decrement at floor: %v", err)
	}
	if used != 0 {
		t.Fatalf("expected used=0 at floor, got %d", used)
	}
}

func TestDeleteBefore(t *testing.T) {
	client := newTestClient(t)
	store := newTestStore(t, client)
	ctx := context.Background()

	days := []string{"2026-08-25", "2026-08-27", "2026-08-29"}
	for _, day := range days {
		err := store.UpsertRecord(ctx, promptforge.QuotaRecord{
			UserID: "alice", Day: day, Used: 1, Tier: promptforge.TierFree,
		})
		if err != nil {
			t.Fatalf("upsert %s: %v", day, err)
		}
	}

	n, err := store.DeleteBefore(ctx, "2026-08-28")
	if err != nil {
		t.Fatalf("delete before: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 deletions, got %d", n)
	}

	if _, found, _ := store.GetRecord(ctx, "alice", "2026-08-29"); !found {
		t.Fatal("current day record should survive the sweep")
	}
}

func TestConcurrentIncrements(t *testing.T) {
	client := newTestClient(t)
	store := newTestStore(t, client)
	ctx := context.Background()

	const limit = 5
	var wg sync.WaitGroup
	var admitted atomic.Int64

	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := store.IncrementIfBelow(ctx, "alice", "2026-08-29", promptforge.TierFree, limit)
			if err == nil && ok {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	if admitted.Load() != limit {
		t.Fatalf("expected exactly %d admissions, got %d", limit, admitted.Load())
	}

	rec, _, err := store.GetRecord(ctx, "alice", "2026-08-29")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Used != limit {
		t.Fatalf("expected used=%d, got %d", limit, rec.Used)
	}
}
