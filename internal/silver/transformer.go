package silver

import (
	"context"
	"time"

	"github.com/lakeline/lakeline/internal/bronze"
	"github.com/lakeline/lakeline/internal/catalog"
	"github.com/lakeline/lakeline/internal/checkpoint"
	"github.com/lakeline/lakeline/internal/logging"
	"github.com/lakeline/lakeline/internal/metrics"
	"github.com/lakeline/lakeline/pkg/types"
)

// CheckpointStream is the checkpoint key the transformer advances. Its
// position is the next bronze log offset to read.
const CheckpointStream = "silver"

const catalogLayer = "silver"

// Transformer consumes bronze records in log order and produces silver rows:
// type filter, payload decode, line-item explosion, quality gate, and day
// partition assignment. It is batch-driven; each cycle reads from its own
// checkpoint, writes idempotently, and commits the checkpoint last.
type Transformer struct {
	log         *bronze.Log
	store       *Store
	catalog     *catalog.Catalog
	checkpoints checkpoint.Store
	gate        *Gate
	collector   *metrics.Collector
	logger      *logging.ComponentLogger
	batchSize   int
}

// NewTransformer creates a silver transformer.
func NewTransformer(
	log *bronze.Log,
	store *Store,
	cat *catalog.Catalog,
	checkpoints checkpoint.Store,
	gate *Gate,
	collector *metrics.Collector,
	logger *logging.ComponentLogger,
	batchSize int,
) *Transformer {
	if batchSize <= 0 {
		batchSize = 256
	}
	return &Transformer{
		log:         log,
		store:       store,
		catalog:     cat,
		checkpoints: checkpoints,
		gate:        gate,
		collector:   collector,
		logger:      logger,
		batchSize:   batchSize,
	}
}

// Transform derives the silver rows for a single bronze record. Non-order
// events yield no rows. A fail-severity gate violation returns an error; the
// caller must abandon the batch without committing.
func (t *Transformer) Transform(rec *types.BronzeRecord) (kept []types.SilverRow, err error) {
	if rec.Type != types.EventOrderCreated {
		return nil, nil
	}

	payload, err := DecodeOrderCreated(rec.Body)
	if err != nil {
		// Undecodable payloads are a data defect, not a pipeline fault:
		// drop the record and keep going.
		t.collector.IncDropped("payload_decode")
		t.logger.Warn().
			Err(err).
			Str("stream_id", rec.StreamID).
			Uint64("sequence", rec.Sequence).
			Msg("undecodable payload dropped")
		return nil, nil
	}

	for i, item := range payload.Items {
		row := types.SilverRow{
			StreamID:     rec.StreamID,
			Sequence:     rec.Sequence,
			SourceOffset: rec.Offset,
			ItemIndex:    i,
			OrderID:      payload.OrderID,
			LocationID:   payload.LocationID,
			Brand:        payload.Brand,
			SKU:          item.SKU,
			Quantity:     item.Quantity,
			UnitPrice:    item.UnitPrice,
			Extended:     float64(item.Quantity) * item.UnitPrice,
			Note:         item.Note,
			EventTime:    rec.EventTime.UTC(),
			PartitionKey: types.DayPartition(rec.EventTime),
		}

		verdict, err := t.gate.Evaluate(&row)
		if err != nil {
			return nil, err
		}
		for _, rule := range verdict.Warnings {
			t.collector.IncWarning(rule)
			t.logger.Warn().
				Str("rule", rule).
				Str("stream_id", row.StreamID).
				Uint64("sequence", row.Sequence).
				Int("item_index", row.ItemIndex).
				Msg("quality warning")
		}
		if !verdict.Keep {
			t.collector.IncDropped(verdict.DroppedBy)
			t.logger.Debug().
				Str("rule", verdict.DroppedBy).
				Str("stream_id", row.StreamID).
				Uint64("sequence", row.Sequence).
				Int("item_index", row.ItemIndex).
				Msg("row dropped by quality gate")
			continue
		}
		kept = append(kept, row)
	}
	return kept, nil
}

// RunOnce processes at most one batch of bronze records. Returns the number
// of bronze records consumed; zero means the stage is caught up.
func (t *Transformer) RunOnce(ctx context.Context) (int, error) {
	from, _, err := t.checkpoints.Get(ctx, CheckpointStream)
	if err != nil {
		return 0, err
	}

	records, err := t.log.ScanFrom(from, t.batchSize)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}

	var batch []types.SilverRow
	for i := range records {
		rows, err := t.Transform(&records[i])
		if err != nil {
			t.collector.IncFailure()
			t.logger.Error().
				Err(err).
				Str("stream_id", records[i].StreamID).
				Uint64("sequence", records[i].Sequence).
				Msg("quality gate failure, halting run")
			return 0, err
		}
		batch = append(batch, rows...)
	}

	inserted, partitions, err := t.store.WriteBatch(ctx, batch)
	if err != nil {
		return 0, err
	}
	if inserted > 0 {
		t.collector.IncExploded(inserted)
	}
	for key, delta := range partitions {
		if err := t.catalog.Register(ctx, catalogLayer, key, delta); err != nil {
			return 0, err
		}
	}

	// Rows are durable (and re-derivable idempotently); advance the
	// checkpoint past the last consumed bronze offset.
	next := records[len(records)-1].Offset + 1
	if err := t.checkpoints.Commit(ctx, CheckpointStream, next); err != nil {
		return 0, err
	}

	t.logger.Info().
		Int("records", len(records)).
		Int("rows", inserted).
		Uint64("checkpoint", next).
		Msg("silver batch committed")
	return len(records), nil
}

// Run drains the bronze log in batches, then polls until the context is
// canceled. With pollInterval zero it stops at the first empty batch.
func (t *Transformer) Run(ctx context.Context, pollInterval time.Duration) error {
	for {
		n, err := t.RunOnce(ctx)
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
