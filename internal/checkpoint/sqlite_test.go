package checkpoint

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "checkpoints.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore_GetAbsent(t *testing.T) {
	store := newTestSQLiteStore(t)
	_, ok, err := store.Get(context.Background(), "loc-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if ok {
		t.Error("expected no checkpoint for unknown stream")
	}
}

func TestSQLiteStore_CommitAndGet(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	if err := store.Commit(ctx, "loc-1", 42); err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	pos, ok, err := store.Get(ctx, "loc-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !ok || pos != 42 {
		t.Errorf("got (%d, %v), want (42, true)", pos, ok)
	}
}

func TestSQLiteStore_MonotonicCommit(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	if err := store.Commit(ctx, "loc-1", 100); err != nil {
		t.Fatal(err)
	}
	// A lower position must be ignored, not applied.
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

	// Equal position is also a no-op, not an error.
	if err := store.Commit(ctx, "loc-1", 100); err != nil {
		t.Errorf("committing the current position should not fail: %v", err)
	}
}

func TestSQLiteStore_IndependentStreams(t *testing.T) {
	store := newTestSQLiteStore(t)
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
	if all["loc-1"] != 10 || all["loc-2"] != 20 {
		t.Errorf("list = %v, want loc-1:10 loc-2:20", all)
	}
}

func TestSQLiteStore_ConcurrentCommits(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for s := 0; s < 4; s++ {
		streamID := fmt.Sprintf("loc-%d", s)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for pos := uint64(1); pos <= 50; pos++ {
				if err := store.Commit(ctx, streamID, pos); err != nil {
					t.Errorf("commit %s@%d: %v", streamID, pos, err)
					return
				}
			}
		}()
	}
	wg.Wait()

	all, err := store.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for s := 0; s < 4; s++ {
		streamID := fmt.Sprintf("loc-%d", s)
		if all[streamID] != 50 {
			t.Errorf("%s = %d, want 50", streamID, all[streamID])
		}
	}
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoints.db")
	ctx := context.Background()

	store, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Commit(ctx, "loc-1", 7); err != nil {
		t.Fatal(err)
	}
	store.Close()

	reopened, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()

	pos, ok, err := reopened.Get(ctx, "loc-1")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || pos != 7 {
		t.Errorf("after reopen got (%d, %v), want (7, true)", pos, ok)
	}
}
