package gold

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/lakeline/lakeline/internal/catalog"
	"github.com/lakeline/lakeline/internal/checkpoint"
	"github.com/lakeline/lakeline/internal/config"
	"github.com/lakeline/lakeline/internal/logging"
	"github.com/lakeline/lakeline/internal/metrics"
	"github.com/lakeline/lakeline/internal/silver"
	"github.com/lakeline/lakeline/pkg/types"
)

type goldHarness struct {
	dir        string
	source     *silver.Store
	store      *Store
	catalog    *catalog.Catalog
	checkpoint checkpoint.Store
	collector  *metrics.Collector
	cfg        config.GoldConfig
}

func testViews() config.GoldConfig {
	return config.GoldConfig{
		BatchSize: 100,
		Views: []config.ViewConfig{
			{
				Name:              "revenue_by_location_day",
				GroupBy:           []string{"location", "day"},
				WatermarkLag:      3 * time.Hour,
				Watermarked:       true,
				DistinctErrorRate: 0.02,
			},
			{
				Name:    "order_completeness",
				GroupBy: []string{"order"},
			},
		},
	}
}

func newGoldHarness(t *testing.T) *goldHarness {
	t.Helper()
	dir := t.TempDir()

	source, err := silver.OpenStore(filepath.Join(dir, "silver.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { source.Close() })

	store, err := OpenStore(filepath.Join(dir, "gold.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	cat, err := catalog.Open(filepath.Join(dir, "catalog.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { cat.Close() })

	ckpt, err := checkpoint.NewSQLiteStore(filepath.Join(dir, "checkpoints.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ckpt.Close() })

	return &goldHarness{
		dir:        dir,
		source:     source,
		store:      store,
		catalog:    cat,
		checkpoint: ckpt,
		collector:  metrics.NewCollector(),
		cfg:        testViews(),
	}
}

func (h *goldHarness) newAggregator(t *testing.T) *Aggregator {
	t.Helper()
	ag, err := NewAggregator(context.Background(),
		h.source, h.store, h.catalog, h.checkpoint,
		h.cfg, h.collector, logging.Nop())
	if err != nil {
		t.Fatal(err)
	}
	return ag
}

func (h *goldHarness) writeRows(t *testing.T, rows []types.SilverRow) {
	t.Helper()
	if _, _, err := h.source.WriteBatch(context.Background(), rows); err != nil {
		t.Fatal(err)
	}
}

func day1Rows() []types.SilverRow {
	at := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	return []types.SilverRow{
		silverRow(1, "loc-1", "ord-1", 10, at),
		silverRow(2, "loc-1", "ord-2", 20, at.Add(time.Hour)),
		silverRow(3, "loc-2", "ord-3", 30, at.Add(2*time.Hour)),
	}
}

func TestAggregator_FinalizesOnWatermark(t *testing.T) {
	h := newGoldHarness(t)
	ctx := context.Background()

	h.writeRows(t, day1Rows())
	ag := h.newAggregator(t)

	if _, err := ag.RunOnce(ctx); err != nil {
		t.Fatal(err)
	}
	wins, err := h.store.Windows(ctx, "revenue_by_location_day")
	if err != nil {
		t.Fatal(err)
	}
	if len(wins) != 0 {
		t.Fatalf("windows emitted before watermark passed: %+v", wins)
	}

	// A day-2 row pushes the watermark past day 1's upper bound.
	h.writeRows(t, []types.SilverRow{
		silverRow(4, "loc-1", "ord-4", 1, time.Date(2025, 6, 2, 4, 0, 0, 0, time.UTC)),
	})
	if _, err := ag.RunOnce(ctx); err != nil {
		t.Fatal(err)
	}

	wins, err = h.store.Windows(ctx, "revenue_by_location_day")
	if err != nil {
		t.Fatal(err)
	}
	if len(wins) != 2 {
		t.Fatalf("got %d windows, want 2 (loc-1 and loc-2 for day 1)", len(wins))
	}
	for _, w := range wins {
		if w.PartitionKey != "2025-06-01" {
			t.Errorf("window partition = %s, want 2025-06-01", w.PartitionKey)
		}
	}

	snap := h.collector.Snapshot()
	if snap.WindowsFinalized["revenue_by_location_day"] != 2 {
		t.Errorf("finalized counter = %v, want 2", snap.WindowsFinalized)
	}

	parts, err := h.catalog.List(ctx, "gold")
	if err != nil {
		t.Fatal(err)
	}
	if len(parts) != 1 || parts[0].PartitionKey != "revenue_by_location_day/2025-06-01" {
		t.Errorf("catalog = %+v, want one registered gold partition", parts)
	}
}

func TestAggregator_LateRowsDroppedAndCounted(t *testing.T) {
	h := newGoldHarness(t)
	ctx := context.Background()

	rows := day1Rows()
	rows = append(rows, silverRow(4, "loc-1", "ord-4", 1, time.Date(2025, 6, 2, 4, 0, 0, 0, time.UTC)))
	h.writeRows(t, rows)

	ag := h.newAggregator(t)
	if _, err := ag.RunOnce(ctx); err != nil {
		t.Fatal(err)
	}

	// A straggler for day 1 arrives after the watermark passed it.
	h.writeRows(t, []types.SilverRow{
		silverRow(5, "loc-1", "ord-5", 99, time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)),
	})
	if _, err := ag.RunOnce(ctx); err != nil {
		t.Fatal(err)
	}

	snap := h.collector.Snapshot()
	if snap.LateRowsDropped["revenue_by_location_day"] != 1 {
		t.Errorf("late counter = %v, want revenue_by_location_day=1", snap.LateRowsDropped)
	}
	// The completeness view has no watermark and keeps the straggler.
	if snap.LateRowsDropped["order_completeness"] != 0 {
		t.Errorf("completeness view dropped a row: %v", snap.LateRowsDropped)
	}

	wins, err := h.store.Windows(ctx, "revenue_by_location_day")
	if err != nil {
		t.Fatal(err)
	}
	for _, w := range wins {
		if w.GroupKey == "loc-1" && w.SumExtended != 30 {
			t.Errorf("finalized window revised by late row: sum = %v, want 30", w.SumExtended)
		}
	}
}

// Accumulator state, watermark anchor, and read position survive a restart.
func TestAggregator_StateSurvivesRestart(t *testing.T) {
	h := newGoldHarness(t)
	ctx := context.Background()

	h.writeRows(t, day1Rows())
	ag := h.newAggregator(t)
	if _, err := ag.RunOnce(ctx); err != nil {
		t.Fatal(err)
	}

	// Restart: a fresh aggregator loads persisted state, then a day-2 row
	// finalizes day 1 with the pre-restart totals intact.
	ag2 := h.newAggregator(t)
	h.writeRows(t, []types.SilverRow{
		silverRow(4, "loc-3", "ord-4", 1, time.Date(2025, 6, 2, 4, 0, 0, 0, time.UTC)),
	})
	if _, err := ag2.RunOnce(ctx); err != nil {
		t.Fatal(err)
	}

	wins, err := h.store.Windows(ctx, "revenue_by_location_day")
	if err != nil {
		t.Fatal(err)
	}
	byGroup := map[string]WindowRow{}
	for _, w := range wins {
		byGroup[w.GroupKey] = w
	}
	if w := byGroup["loc-1"]; w.RowCount != 2 || w.SumExtended != 30 || w.DistinctOrders != 2 {
		t.Errorf("loc-1 window after restart = %+v", w)
	}
	if w := byGroup["loc-2"]; w.RowCount != 1 || w.SumExtended != 30 {
		t.Errorf("loc-2 window after restart = %+v", w)
	}
}

// Losing the shared checkpoint does not double-apply rows: the gold store's
// own position is authoritative.
func TestAggregator_NoDoubleApplyAfterCheckpointLoss(t *testing.T) {
	h := newGoldHarness(t)
	ctx := context.Background()

	h.writeRows(t, day1Rows())
	ag := h.newAggregator(t)
	if _, err := ag.RunOnce(ctx); err != nil {
		t.Fatal(err)
	}

	// Fresh (empty) checkpoint store simulates a crash before the shared
	// checkpoint commit.
	freshCkpt, err := checkpoint.NewSQLiteStore(filepath.Join(h.dir, "fresh-checkpoints.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { freshCkpt.Close() })
	h.checkpoint = freshCkpt

	ag2 := h.newAggregator(t)
	n, err := ag2.RunOnce(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("re-applied %d rows after checkpoint loss, want 0", n)
	}

	h.writeRows(t, []types.SilverRow{
		silverRow(4, "loc-3", "ord-4", 1, time.Date(2025, 6, 2, 4, 0, 0, 0, time.UTC)),
	})
	if _, err := ag2.RunOnce(ctx); err != nil {
		t.Fatal(err)
	}
	wins, err := h.store.Windows(ctx, "revenue_by_location_day")
	if err != nil {
		t.Fatal(err)
	}
	byGroup := map[string]WindowRow{}
	for _, w := range wins {
		byGroup[w.GroupKey] = w
	}
	if w := byGroup["loc-1"]; w.RowCount != 2 || w.SumExtended != 30 {
		t.Errorf("loc-1 window double-counted: %+v", w)
	}
}

type captureArchiver struct {
	calls map[string][]WindowRow
}

func (c *captureArchiver) ArchiveWindows(_ context.Context, view, partition string, rows []WindowRow) error {
	if c.calls == nil {
		c.calls = make(map[string][]WindowRow)
	}
	c.calls[view+"/"+partition] = append(c.calls[view+"/"+partition], rows...)
	return nil
}

func TestAggregator_ArchivesFinalizedWindows(t *testing.T) {
	h := newGoldHarness(t)
	ctx := context.Background()

	rows := day1Rows()
	rows = append(rows, silverRow(4, "loc-1", "ord-4", 1, time.Date(2025, 6, 2, 4, 0, 0, 0, time.UTC)))
	h.writeRows(t, rows)

	archiver := &captureArchiver{}
	ag, err := NewAggregator(ctx, h.source, h.store, h.catalog, h.checkpoint,
		h.cfg, h.collector, logging.Nop(), WithArchiver(archiver))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ag.RunOnce(ctx); err != nil {
		t.Fatal(err)
	}

	got := archiver.calls["revenue_by_location_day/2025-06-01"]
	if len(got) != 2 {
		t.Errorf("archived %d windows, want 2", len(got))
	}
}
