package bronze

import (
	"context"
	"time"

	"github.com/lakeline/lakeline/internal/checkpoint"
	pipeerr "github.com/lakeline/lakeline/internal/errors"
	"github.com/lakeline/lakeline/internal/logging"
	"github.com/lakeline/lakeline/internal/metrics"
	"github.com/lakeline/lakeline/pkg/types"
)

const commitRetries = 3

// Ingestor consumes an at-least-once event channel and appends records to the
// bronze log, advancing the per-stream checkpoint only after the append is
// durable. Re-delivered events are absorbed by the log's identity check, so
// the combination yields exactly-once effect.
type Ingestor struct {
	log         *Log
	checkpoints checkpoint.Store
	collector   *metrics.Collector
	logger      *logging.ComponentLogger
	now         func() time.Time
}

// NewIngestor creates a bronze ingestor.
func NewIngestor(log *Log, checkpoints checkpoint.Store, collector *metrics.Collector, logger *logging.ComponentLogger) *Ingestor {
	return &Ingestor{
		log:         log,
		checkpoints: checkpoints,
		collector:   collector,
		logger:      logger,
		now:         time.Now,
	}
}

// Run consumes events until the channel closes or the context is canceled.
// Returns the number of records appended.
func (in *Ingestor) Run(ctx context.Context, events <-chan types.Event) (int, error) {
	appended := 0
	for {
		select {
		case <-ctx.Done():
			return appended, ctx.Err()
		case ev, open := <-events:
			if !open {
				return appended, nil
			}
			ok, err := in.Ingest(ctx, ev)
			if err != nil {
				return appended, err
			}
			if ok {
				appended++
			}
		}
	}
}

// Ingest appends one event. Duplicate identities are discarded silently
// (counted in metrics); the checkpoint still advances so restarts do not
// re-deliver the same event forever.
func (in *Ingestor) Ingest(ctx context.Context, ev types.Event) (bool, error) {
	rec := types.BronzeRecord{
		Event:        ev,
		SourceOffset: ev.Sequence,
		IngestTime:   in.now().UTC(),
	}

	offset, appended, err := in.log.Append(&rec)
	if err != nil {
		return false, pipeerr.Wrap(pipeerr.ErrCategoryStorage, pipeerr.CodeAppendFailed, "bronze append failed", err)
	}

	if !appended {
		in.collector.IncDuplicate()
		in.logger.Debug().
			Str("stream_id", ev.StreamID).
			Uint64("sequence", ev.Sequence).
			Msg("duplicate delivery absorbed")
	} else {
		in.collector.IncIngested()
		in.collector.BronzeLogRecords.Set(float64(in.log.Count()))
		in.logger.Debug().
			Str("stream_id", ev.StreamID).
			Uint64("sequence", ev.Sequence).
			Uint64("offset", offset).
			Msg("record appended")
	}

	// The append is durable; advance the checkpoint. On persistent commit
	// failure the stage fails closed: the checkpoint stays behind and the
	// event is reprocessed on restart rather than silently lost.
	if err := in.commitWithRetry(ctx, ev.StreamID, ev.Sequence); err != nil {
		return appended, err
	}
	return appended, nil
}

func (in *Ingestor) commitWithRetry(ctx context.Context, streamID string, position uint64) error {
	var err error
	for attempt := 0; attempt < commitRetries; attempt++ {
		if err = in.checkpoints.Commit(ctx, streamID, position); err == nil {
			return nil
		}
		in.logger.Warn().
			Err(err).
			Str("stream_id", streamID).
			Int("attempt", attempt+1).
			Msg("checkpoint commit failed, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 50 * time.Millisecond):
		}
	}
	return pipeerr.NewCheckpointError(pipeerr.CodeCommitFailed, "checkpoint commit failed after retries", err)
}
