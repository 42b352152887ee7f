package silver

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/lakeline/lakeline/pkg/types"
)

func storeRow(offset uint64, item int, key string) types.SilverRow {
	return types.SilverRow{
		StreamID:     "loc-1",
		Sequence:     offset + 1,
		SourceOffset: offset,
		ItemIndex:    item,
		OrderID:      "ord-1",
		LocationID:   "loc-1",
		Brand:        "acme",
		SKU:          "SKU-100",
		Quantity:     1,
		UnitPrice:    2.5,
		Extended:     2.5,
		EventTime:    time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		PartitionKey: key,
	}
}

func TestStore_ScanFromNeverSplitsARecord(t *testing.T) {
	store, err := OpenStore(filepath.Join(t.TempDir(), "silver.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	// Offset 0 explodes into three items, offset 1 into two, offset 2 into one.
	var rows []types.SilverRow
	for offset, items := range map[uint64]int{0: 3, 1: 2, 2: 1} {
		for i := 0; i < items; i++ {
			rows = append(rows, storeRow(offset, i, "2025-06-01"))
		}
	}
	if _, _, err := store.WriteBatch(ctx, rows); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	// A limit of one source offset returns every item of that record even
	// though it is more rows than the limit.
	got, err := store.ScanFrom(ctx, 0, 1)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected all 3 items of offset 0, got %d rows", len(got))
	}
	for _, r := range got {
		if r.SourceOffset != 0 {
			t.Errorf("row leaked from offset %d into a 1-offset batch", r.SourceOffset)
		}
	}

	got, err = store.ScanFrom(ctx, 0, 2)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if len(got) != 5 {
		t.Errorf("expected offsets 0-1 (5 rows), got %d", len(got))
	}

	// Resuming past the bound picks up exactly the remainder.
	got, err = store.ScanFrom(ctx, 2, 10)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if len(got) != 1 || got[0].SourceOffset != 2 {
		t.Errorf("expected the single row of offset 2, got %v", got)
	}
}

func TestStore_WriteBatchIsIdempotent(t *testing.T) {
	store, err := OpenStore(filepath.Join(t.TempDir(), "silver.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	rows := []types.SilverRow{storeRow(0, 0, "2025-06-01"), storeRow(0, 1, "2025-06-01")}

	inserted, partitions, err := store.WriteBatch(ctx, rows)
	if err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if inserted != 2 || partitions["2025-06-01"] != 2 {
		t.Fatalf("first write: inserted=%d partitions=%v", inserted, partitions)
	}

	// Replaying the identical batch inserts nothing and reports no deltas.
	inserted, partitions, err = store.WriteBatch(ctx, rows)
	if err != nil {
		t.Fatalf("rewrite failed: %v", err)
	}
	if inserted != 0 {
		t.Errorf("replay inserted %d rows, want 0", inserted)
	}
	if len(partitions) != 0 {
		t.Errorf("replay reported partition deltas %v, want none", partitions)
	}

	count, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 2 {
		t.Errorf("store holds %d rows, want 2", count)
	}
}
