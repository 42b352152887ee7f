package checkpoint

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStoreWithClient(client)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRedisStore_GetAbsent(t *testing.T) {
	store := newTestRedisStore(t)
	_, ok, err := store.Get(context.Background(), "loc-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if ok {
		t.Error("expected no checkpoint for unknown stream")
	}
}

func TestRedisStore_CommitAndGet(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	if err := store.Commit(ctx, "loc-1", 42); err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	pos, ok, err := store.Get(ctx, "loc-1")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || pos != 42 {
		t.Errorf("got (%d, %v), want (42, true)", pos, ok)
	}
}

func TestRedisStore_MonotonicCommit(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	if err := store.Commit(ctx, "loc-1", 100); err != nil {
		t.Fatal(err)
	}
	if err := store.Commit(ctx, "loc-1", 50); err != nil {
		t.Fatal(err)
	}
	pos, _, err := store.Get(ctx, "loc-1")
	if err != nil {
		t.Fatal(err)
	}
	if pos != 100 {
		t.Errorf("position regressed to %d, want 100", pos)
	}
}

func TestRedisStore_List(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	if err := store.Commit(ctx, "loc-1", 10); err != nil {
		t.Fatal(err)
	}
	if err := store.Commit(ctx, "loc-2", 20); err != nil {
		t.Fatal(err)
	}

	all, err := store.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all["loc-1"] != 10 || all["loc-2"] != 20 {
		t.Errorf("list = %v, want loc-1:10 loc-2:20", all)
	}
}
