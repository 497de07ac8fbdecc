//go:build integration

package postgres_test

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/promptforge/promptforge"
	quotapg "github.com/promptforge/promptforge/quota/postgres"
)

func newTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		dsn = "postgres://localhost:5432/promptforge_test?sslmode=disable"
	}
	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		t.Fatalf("pgxpool: %v", err)
	}
	if err := pool.Ping(context.Background()); err != nil {
		t.Fatalf("postgres not available: %v", err)
	}
	t.Cleanup(func() { pool.Close() })
	return pool
}

func newTestStore(t *testing.T, pool *pgxpool.Pool) *quotapg.Store {
	t.Helper()
	// Unique prefix per test to avoid collisions.
	prefix := fmt.Sprintf("test_%s_", strings.ToLower(t.Name()))
	s := quotapg.New(pool, quotapg.WithTablePrefix(prefix))

	ctx := context.Background()
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	t.Cleanup(func() {
		pool.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %squota_records", prefix))
	})
	return s
}

func TestUpsertAndGet(t *testing.T) {
	pool := newTestPool(t)
	store := newTestStore(t, pool)
	ctx := context.Background()

	err := store.UpsertRecord(ctx, promptforge.QuotaRecord{
		UserID: "alice", Day: "2026-08-29", Used: 1, Tier: promptforge.TierFree,
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	rec, found, err := store.GetRecord(ctx, "alice", "2026-08-29")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !found || rec.Used != 1 || rec.Tier != promptforge.TierFree {
		t.Fatalf("unexpected record: %+v found=%v", rec, found)
	}
}

func TestUpsertConflict(t *testing.T) {
	pool := newTestPool(t)
	store := newTestStore(t, pool)
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
	pool := newTestPool(t)
	store := newTestStore(t, pool)
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
	pool := newTestPool(t)
	store := newTestStore(t, pool)
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
	pool := newTestPool(t)
	store := newTestStore(t, pool)
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
	pool := newTestPool(t)
	store := newTestStore(t, pool)
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
