package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"path/filepath"

	"github.com/golang/snappy"

	"github.com/lakeline/lakeline/internal/gold"
	"github.com/lakeline/lakeline/internal/logging"
)

// Archiver copies pipeline artifacts to object storage: sealed bronze
// segments as-is (already snappy-framed), finalized gold windows as
// snappy-compressed JSON documents. Archiving is best effort for bronze
// (the segment stays on disk); window archiving failures propagate so the
// gold stage retries the batch.
type Archiver struct {
	store  ObjectStorage
	prefix string
	logger *logging.ComponentLogger
}

// NewArchiver creates an archiver writing under the given key prefix.
func NewArchiver(store ObjectStorage, prefix string, logger *logging.ComponentLogger) *Archiver {
	return &Archiver{store: store, prefix: prefix, logger: logger}
}

// SealHook returns a bronze seal callback that uploads each sealed segment.
// Upload failures are logged, not fatal: the segment remains readable on
// local disk and the next seal retries nothing (archival is a copy, not a
// move).
func (a *Archiver) SealHook() func(segmentPath string) {
	return func(segmentPath string) {
		key := a.key("bronze", filepath.Base(segmentPath))
		if err := a.store.PutFile(context.Background(), segmentPath, key); err != nil {
			a.logger.Error().
				Err(err).
				Str("segment", segmentPath).
				Str("object", key).
				Msg("bronze segment archive failed")
			return
		}
		a.logger.Info().
			Str("segment", segmentPath).
			Str("object", key).
			Msg("bronze segment archived")
	}
}

// ArchiveWindows uploads one partition's finalized windows for a view as a
// snappy-compressed JSON array.
func (a *Archiver) ArchiveWindows(ctx context.Context, view, partitionKey string, rows []gold.WindowRow) error {
	doc, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("storage: failed to encode windows for %s/%s: %w", view, partitionKey, err)
	}
	key := a.key("gold", view, partitionKey+".json.sz")
	if err := a.store.Put(ctx, key, snappy.Encode(nil, doc)); err != nil {
		return fmt.Errorf("storage: failed to archive windows %s: %w", key, err)
	}
	a.logger.Info().
		Str("view", view).
		Str("partition", partitionKey).
		Int("windows", len(rows)).
		Str("object", key).
		Msg("gold windows archived")
	return nil
}

// ReadWindows downloads and decodes an archived window document.
func (a *Archiver) ReadWindows(ctx context.Context, view, partitionKey string) ([]gold.WindowRow, error) {
	data, err := a.store.Get(ctx, a.key("gold", view, partitionKey+".json.sz"))
	if err != nil {
		return nil, err
	}
	doc, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, fmt.Errorf("storage: corrupt window archive %s/%s: %w", view, partitionKey, err)
	}
	var rows []gold.WindowRow
	if err := json.Unmarshal(doc, &rows); err != nil {
		return nil, fmt.Errorf("storage: malformed window archive %s/%s: %w", view, partitionKey, err)
	}
	return rows, nil
}

func (a *Archiver) key(parts ...string) string {
	if a.prefix != "" {
		return path.Join(append([]string{a.prefix}, parts...)...)
	}
	return path.Join(parts...)
}
