// Package replay emits a finite, pre-generated event dataset as a paced
// stream. Wall-clock gaps between consecutive events equal the event-time
// gaps divided by a virtual-time multiplier, so historical duration can be
// compressed into short wall-clock runs without changing the data.
package replay

import (
	"context"
	"time"

	"github.com/lakeline/lakeline/internal/checkpoint"
	"github.com/lakeline/lakeline/internal/dataset"
	pipeerr "github.com/lakeline/lakeline/internal/errors"
	"github.com/lakeline/lakeline/internal/logging"
	"github.com/lakeline/lakeline/pkg/types"
)

// Source replays a dataset from the last checkpointed position per stream.
// Position is data-derived (the event sequence), never inferred from elapsed
// wall time, so multiplier changes across restarts cannot corrupt resumption.
type Source struct {
	reader      *dataset.Reader
	checkpoints checkpoint.Store
	multiplier  float64
	logger      *logging.ComponentLogger

	// sleep is injectable so pacing is testable without real time.
	sleep func(time.Duration)
}

// Option configures a Source.
type Option func(*Source)

// WithSleep replaces the pacing sleep function; used by tests.
func WithSleep(fn func(time.Duration)) Option {
	return func(s *Source) { s.sleep = fn }
}

// NewSource creates a replay source. The multiplier must be positive; 1
// replays in real time, 3600 compresses an hour of history into a second.
func NewSource(reader *dataset.Reader, checkpoints checkpoint.Store, multiplier float64, logger *logging.ComponentLogger, opts ...Option) (*Source, error) {
	if multiplier <= 0 {
		return nil, pipeerr.New(pipeerr.ErrCategoryReplay, pipeerr.CodeBadMultiplier, "virtual-time multiplier must be positive")
	}
	s := &Source{
		reader:      reader,
		checkpoints: checkpoints,
		multiplier:  multiplier,
		logger:      logger,
		sleep:       time.Sleep,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run emits events into out until the dataset is exhausted or the context is
// canceled, then closes out. Reaching the dataset's end is a clean stop, not
// an error. Returns the number of events emitted.
func (s *Source) Run(ctx context.Context, out chan<- types.Event) (int, error) {
	defer close(out)

	resume, err := s.resumePositions(ctx)
	if err != nil {
		return 0, err
	}

	cursor, err := s.reader.Scan(ctx, resume)
	if err != nil {
		return 0, pipeerr.NewReplayError(pipeerr.CodeDatasetCorrupt, "failed to open dataset cursor", err)
	}
	defer cursor.Close()

	emitted := 0
	var prevTime time.Time

	for {
		ev, ok, err := cursor.Next()
		if err != nil {
			return emitted, pipeerr.NewReplayError(pipeerr.CodeDatasetCorrupt, "dataset read failed", err)
		}
		if !ok {
			s.logger.Info().Int("events", emitted).Msg("replay exhausted, stopping cleanly")
			return emitted, nil
		}

		if emitted > 0 {
			if gap := ev.EventTime.Sub(prevTime); gap > 0 {
				s.sleep(time.Duration(float64(gap) / s.multiplier))
			}
		}
		prevTime = ev.EventTime

		select {
		case <-ctx.Done():
			return emitted, ctx.Err()
		case out <- ev:
			emitted++
		}
	}
}

// resumePositions reads each stream's checkpoint; streams without one start
// from the beginning.
func (s *Source) resumePositions(ctx context.Context) (map[string]uint64, error) {
	streams, err := s.reader.Streams(ctx)
	if err != nil {
		return nil, pipeerr.NewReplayError(pipeerr.CodeDatasetCorrupt, "failed to list dataset streams", err)
	}

	resume := make(map[string]uint64, len(streams))
	for _, streamID := range streams {
		pos, ok, err := s.checkpoints.Get(ctx, streamID)
		if err != nil {
			return nil, pipeerr.NewCheckpointError(pipeerr.CodeBackendUnavailable, "failed to read checkpoint", err)
		}
		if ok {
			resume[streamID] = pos
			s.logger.Info().Str("stream_id", streamID).Uint64("position", pos).Msg("resuming from checkpoint")
		}
	}
	return resume, nil
}
