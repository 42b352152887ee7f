package gold

import (
	"context"
	"time"

	"github.com/lakeline/lakeline/internal/catalog"
	"github.com/lakeline/lakeline/internal/checkpoint"
	"github.com/lakeline/lakeline/internal/config"
	"github.com/lakeline/lakeline/internal/logging"
	"github.com/lakeline/lakeline/internal/metrics"
	"github.com/lakeline/lakeline/internal/silver"
)

// CheckpointStream is the checkpoint key the aggregator advances. Its
// position is the next silver source offset to read.
const CheckpointStream = "gold"

const catalogLayer = "gold"

// Archiver receives finalized windows for long-term storage.
type Archiver interface {
	ArchiveWindows(ctx context.Context, view, partitionKey string, rows []WindowRow) error
}

// Aggregator folds silver rows into the configured views. State, emitted
// windows, and read position commit atomically in the gold store, then the
// shared checkpoint records the same position; resume takes the larger of
// the two, so a crash between the commits never double-applies a row.
type Aggregator struct {
	source      *silver.Store
	store       *Store
	catalog     *catalog.Catalog
	checkpoints checkpoint.Store
	views       []*View
	archiver    Archiver
	collector   *metrics.Collector
	logger      *logging.ComponentLogger
	batchSize   int
	now         func() time.Time
}

// AggregatorOption configures optional aggregator collaborators.
type AggregatorOption func(*Aggregator)

// WithArchiver attaches an archive destination for finalized windows.
func WithArchiver(a Archiver) AggregatorOption {
	return func(ag *Aggregator) { ag.archiver = a }
}

// WithClock overrides the wall clock. Used by tests.
func WithClock(now func() time.Time) AggregatorOption {
	return func(ag *Aggregator) { ag.now = now }
}

// NewAggregator creates a gold aggregator from view configuration and loads
// persisted state into the views.
func NewAggregator(
	ctx context.Context,
	source *silver.Store,
	store *Store,
	cat *catalog.Catalog,
	checkpoints checkpoint.Store,
	cfg config.GoldConfig,
	collector *metrics.Collector,
	logger *logging.ComponentLogger,
	opts ...AggregatorOption,
) (*Aggregator, error) {
	views := make([]*View, 0, len(cfg.Views))
	for _, vc := range cfg.Views {
		spec, err := NewViewSpec(vc)
		if err != nil {
			return nil, err
		}
		views = append(views, NewView(spec))
	}
	if err := store.LoadViews(ctx, views); err != nil {
		return nil, err
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 1000
	}
	ag := &Aggregator{
		source:      source,
		store:       store,
		catalog:     cat,
		checkpoints: checkpoints,
		views:       views,
		collector:   collector,
		logger:      logger,
		batchSize:   batchSize,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(ag)
	}
	return ag, nil
}

// Views returns the aggregator's views.
func (ag *Aggregator) Views() []*View {
	return ag.views
}

// View returns the named view, or nil.
func (ag *Aggregator) View(name string) *View {
	for _, v := range ag.views {
		if v.Spec.Name == name {
			return v
		}
	}
	return nil
}

// resumeOffset reconciles the gold store's own position with the shared
// checkpoint. The store is authoritative for state consistency; the shared
// checkpoint can only lag it.
func (ag *Aggregator) resumeOffset(ctx context.Context) (uint64, error) {
	storePos, err := ag.store.NextOffset(ctx)
	if err != nil {
		return 0, err
	}
	ckptPos, _, err := ag.checkpoints.Get(ctx, CheckpointStream)
	if err != nil {
		return 0, err
	}
	if ckptPos > storePos {
		storePos = ckptPos
	}
	return storePos, nil
}

// RunOnce processes at most one batch of silver rows. Returns the number of
// rows consumed; zero means the stage is caught up.
func (ag *Aggregator) RunOnce(ctx context.Context) (int, error) {
	from, err := ag.resumeOffset(ctx)
	if err != nil {
		return 0, err
	}

	rows, err := ag.source.ScanFrom(ctx, from, ag.batchSize)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}

	for i := range rows {
		for _, view := range ag.views {
			if !view.Apply(&rows[i]) {
				ag.collector.IncLate(view.Spec.Name)
				ag.logger.Debug().
					Str("view", view.Spec.Name).
					Str("stream_id", rows[i].StreamID).
					Uint64("sequence", rows[i].Sequence).
					Time("event_time", rows[i].EventTime).
					Time("watermark", view.Watermark()).
					Msg("late row dropped behind watermark")
			}
		}
	}

	now := ag.now().UTC()
	var finalized []WindowRow
	for _, view := range ag.views {
		wins, err := view.FinalizeReady(now)
		if err != nil {
			return 0, err
		}
		finalized = append(finalized, wins...)
	}

	next := rows[len(rows)-1].SourceOffset + 1
	if err := ag.store.CommitBatch(ctx, ag.views, finalized, next); err != nil {
		return 0, err
	}

	for _, win := range finalized {
		ag.collector.IncFinalized(win.View)
		if err := ag.catalog.Register(ctx, catalogLayer, win.View+"/"+win.PartitionKey, 1); err != nil {
			return 0, err
		}
		ag.logger.Info().
			Str("view", win.View).
			Str("partition", win.PartitionKey).
			Str("group", win.GroupKey).
			Int64("rows", win.RowCount).
			Float64("sum_extended", win.SumExtended).
			Int64("distinct_orders", win.DistinctOrders).
			Msg("window finalized")
	}
	if ag.archiver != nil {
		if err := ag.archiveFinalized(ctx, finalized); err != nil {
			return 0, err
		}
	}

	for _, view := range ag.views {
		if wm := view.Watermark(); !wm.IsZero() {
			ag.collector.WatermarkAgeSeconds.
				WithLabelValues(view.Spec.Name).
				Set(view.MaxEventTime().Sub(wm).Seconds())
		}
	}

	if err := ag.checkpoints.Commit(ctx, CheckpointStream, next); err != nil {
		return 0, err
	}

	ag.logger.Info().
		Int("rows", len(rows)).
		Int("windows", len(finalized)).
		Uint64("checkpoint", next).
		Msg("gold batch committed")
	return len(rows), nil
}

// archiveFinalized groups emitted windows by view and partition before
// handing them to the archiver.
func (ag *Aggregator) archiveFinalized(ctx context.Context, finalized []WindowRow) error {
	type bucket struct{ view, partition string }
	grouped := make(map[bucket][]WindowRow)
	for _, win := range finalized {
		key := bucket{view: win.View, partition: win.PartitionKey}
		grouped[key] = append(grouped[key], win)
	}
	for key, wins := range grouped {
		if err := ag.archiver.ArchiveWindows(ctx, key.view, key.partition, wins); err != nil {
			return err
		}
	}
	return nil
}

// Run drains the silver output in batches, then polls until the context is
// canceled. With pollInterval zero it stops at the first empty batch.
func (ag *Aggregator) Run(ctx context.Context, pollInterval time.Duration) error {
	for {
		n, err := ag.RunOnce(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			continue
		}
		if pollInterval <= 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}
