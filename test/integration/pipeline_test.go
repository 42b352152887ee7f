package integration

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/lakeline/lakeline/internal/app"
	"github.com/lakeline/lakeline/internal/catalog"
	"github.com/lakeline/lakeline/internal/config"
	"github.com/lakeline/lakeline/internal/dataset"
	"github.com/lakeline/lakeline/internal/gold"
	"github.com/lakeline/lakeline/internal/logging"
	"github.com/lakeline/lakeline/internal/silver"
	"github.com/lakeline/lakeline/internal/storage"
)

// seedDataset generates a deterministic multi-day dataset. The span has to
// comfortably exceed one day plus the 3h watermark lag so day windows
// actually finalize during the run.
func seedDataset(t *testing.T, path string) {
	t.Helper()

	w, err := dataset.NewWriter(path)
	if err != nil {
		t.Fatalf("failed to open dataset writer: %v", err)
	}
	total, err := dataset.Generate(w, dataset.GenSpec{
		Seed:            42,
		Streams:         3,
		OrdersPerStream: 150,
		Start:           time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC),
		MeanGap:         3 * time.Minute,
	})
	if err != nil {
		t.Fatalf("dataset generation failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("failed to finalize dataset: %v", err)
	}
	if total == 0 {
		t.Fatal("generator produced an empty dataset")
	}
}

// pipelineConfig builds a run-once configuration rooted at dir. The replay
// multiplier compresses the multi-day span into negligible wall time.
func pipelineConfig(t *testing.T, dir string) *config.Config {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Mode = config.ModeAll
	cfg.RunOnce = true
	cfg.DataDir = dir
	cfg.Dataset.Path = filepath.Join(dir, "dataset.db")
	cfg.Replay.Multiplier = 10_000_000
	cfg.Storage.Backend = "local"
	cfg.Storage.Prefix = "it"
	cfg.Bronze.ArchiveSegments = true
	cfg.Bronze.MaxSegmentSize = 256 * 1024
	cfg.Gold.ArchiveWindows = true
	cfg.Resolve()
	return cfg
}

func runPipeline(t *testing.T, cfg *config.Config) {
	t.Helper()

	a, err := app.New(cfg, "test")
	if err != nil {
		t.Fatalf("failed to create app: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if err := a.Run(ctx); err != nil {
		t.Fatalf("pipeline run failed: %v", err)
	}
}

func TestPipeline_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	seedDataset(t, filepath.Join(dir, "dataset.db"))
	cfg := pipelineConfig(t, dir)

	runPipeline(t, cfg)

	ctx := context.Background()

	silverStore, err := silver.OpenStore(cfg.Silver.DBPath)
	if err != nil {
		t.Fatalf("failed to reopen silver store: %v", err)
	}
	defer silverStore.Close()

	rows, err := silverStore.Count(ctx)
	if err != nil {
		t.Fatalf("silver count failed: %v", err)
	}
	if rows == 0 {
		t.Fatal("expected silver rows after end-to-end run")
	}

	partitions, err := silverStore.PartitionKeys(ctx)
	if err != nil {
		t.Fatalf("silver partition scan failed: %v", err)
	}
	if len(partitions) < 2 {
		t.Fatalf("expected a multi-day silver layout, got partitions %v", partitions)
	}

	goldStore, err := gold.OpenStore(cfg.Gold.DBPath)
	if err != nil {
		t.Fatalf("failed to reopen gold store: %v", err)
	}
	defer goldStore.Close()

	windows, err := goldStore.Windows(ctx, "")
	if err != nil {
		t.Fatalf("gold window scan failed: %v", err)
	}
	if len(windows) == 0 {
		t.Fatal("expected finalized gold windows after end-to-end run")
	}
	for _, w := range windows {
		if w.RowCount <= 0 || w.SumExtended <= 0 {
			t.Errorf("window %s/%s/%s has empty aggregates", w.View, w.PartitionKey, w.GroupKey)
		}
		if w.View == "order_completeness" {
			t.Errorf("unwatermarked view must never finalize windows, got %s/%s", w.PartitionKey, w.GroupKey)
		}
	}

	cat, err := catalog.Open(filepath.Join(dir, "catalog.db"))
	if err != nil {
		t.Fatalf("failed to reopen catalog: %v", err)
	}
	defer cat.Close()

	silverParts, err := cat.List(ctx, "silver")
	if err != nil {
		t.Fatalf("catalog list failed: %v", err)
	}
	if len(silverParts) != len(partitions) {
		t.Errorf("catalog tracks %d silver partitions, store has %d", len(silverParts), len(partitions))
	}
	goldParts, err := cat.List(ctx, "gold")
	if err != nil {
		t.Fatalf("catalog list failed: %v", err)
	}
	if len(goldParts) == 0 {
		t.Error("expected gold partitions registered in the catalog")
	}
}

func TestPipeline_RerunIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	seedDataset(t, filepath.Join(dir, "dataset.db"))
	cfg := pipelineConfig(t, dir)

	runPipeline(t, cfg)

	ctx := context.Background()
	countRows := func() (int64, int) {
		silverStore, err := silver.OpenStore(cfg.Silver.DBPath)
		if err != nil {
			t.Fatalf("failed to reopen silver store: %v", err)
		}
		defer silverStore.Close()
		rows, err := silverStore.Count(ctx)
		if err != nil {
			t.Fatalf("silver count failed: %v", err)
		}
		goldStore, err := gold.OpenStore(cfg.Gold.DBPath)
		if err != nil {
			t.Fatalf("failed to reopen gold store: %v", err)
		}
		defer goldStore.Close()
		windows, err := goldStore.Windows(ctx, "")
		if err != nil {
			t.Fatalf("gold window scan failed: %v", err)
		}
		return rows, len(windows)
	}

	rowsBefore, windowsBefore := countRows()
	if rowsBefore == 0 || windowsBefore == 0 {
		t.Fatalf("first run produced rows=%d windows=%d", rowsBefore, windowsBefore)
	}

	// The second run resumes from the committed checkpoints, finds no new
	// input, and must leave every layer byte-for-byte alone.
	runPipeline(t, cfg)

	rowsAfter, windowsAfter := countRows()
	if rowsAfter != rowsBefore {
		t.Errorf("rerun changed silver row count: %d != %d", rowsAfter, rowsBefore)
	}
	if windowsAfter != windowsBefore {
		t.Errorf("rerun changed gold window count: %d != %d", windowsAfter, windowsBefore)
	}
}

func TestPipeline_StagesRunAsSeparateProcesses(t *testing.T) {
	dir := t.TempDir()
	seedDataset(t, filepath.Join(dir, "dataset.db"))

	// Each stage runs in its own app instance, communicating only through
	// the durable stores on disk.
	for _, mode := range []config.Mode{config.ModeIngest, config.ModeSilver, config.ModeGold} {
		cfg := pipelineConfig(t, dir)
		cfg.Mode = mode
		runPipeline(t, cfg)
	}

	ctx := context.Background()
	cfg := pipelineConfig(t, dir)

	silverStore, err := silver.OpenStore(cfg.Silver.DBPath)
	if err != nil {
		t.Fatalf("failed to reopen silver store: %v", err)
	}
	defer silverStore.Close()
	rows, err := silverStore.Count(ctx)
	if err != nil {
		t.Fatalf("silver count failed: %v", err)
	}
	if rows == 0 {
		t.Fatal("expected silver rows after staged runs")
	}

	goldStore, err := gold.OpenStore(cfg.Gold.DBPath)
	if err != nil {
		t.Fatalf("failed to reopen gold store: %v", err)
	}
	defer goldStore.Close()
	windows, err := goldStore.Windows(ctx, "")
	if err != nil {
		t.Fatalf("gold window scan failed: %v", err)
	}
	if len(windows) == 0 {
		t.Fatal("expected finalized windows after staged runs")
	}
}

func TestPipeline_ArchivesToObjectStorage(t *testing.T) {
	dir := t.TempDir()
	seedDataset(t, filepath.Join(dir, "dataset.db"))
	cfg := pipelineConfig(t, dir)

	runPipeline(t, cfg)

	ctx := context.Background()
	store, err := storage.NewLocalStorage(cfg.Storage.Path)
	if err != nil {
		t.Fatalf("failed to reopen archive storage: %v", err)
	}

	goldObjects, err := store.List(ctx, "it/gold/")
	if err != nil {
		t.Fatalf("archive list failed: %v", err)
	}
	if len(goldObjects) == 0 {
		t.Fatal("expected archived gold windows in object storage")
	}

	// Archived windows are readable back through the same codec.
	archiver := storage.NewArchiver(store, cfg.Storage.Prefix, logging.Nop())
	goldStore, err := gold.OpenStore(cfg.Gold.DBPath)
	if err != nil {
		t.Fatalf("failed to reopen gold store: %v", err)
	}
	defer goldStore.Close()
	windows, err := goldStore.Windows(ctx, "revenue_by_location_day")
	if err != nil {
		t.Fatalf("gold window scan failed: %v", err)
	}
	if len(windows) == 0 {
		t.Fatal("expected finalized windows for revenue_by_location_day")
	}
	archived, err := archiver.ReadWindows(ctx, windows[0].View, windows[0].PartitionKey)
	if err != nil {
		t.Fatalf("failed to read archived windows: %v", err)
	}
	if len(archived) == 0 {
		t.Fatal("archived window document is empty")
	}

	bronzeObjects, err := store.List(ctx, "it/bronze/")
	if err != nil {
		t.Fatalf("archive list failed: %v", err)
	}
	if len(bronzeObjects) == 0 {
		t.Fatal("expected sealed bronze segments in object storage")
	}
}
