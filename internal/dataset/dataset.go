// Package dataset reads and writes the finite, pre-generated event dataset
// the replay source feeds on. The dataset lives in a single SQLite file keyed
// by (stream_id, sequence), which gives the source random-access resume by
// position and a deterministic global event-time ordering.
package dataset

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/lakeline/lakeline/pkg/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	stream_id  TEXT NOT NULL,
	sequence   INTEGER NOT NULL,
	event_type TEXT NOT NULL,
	event_time INTEGER NOT NULL,
	body       BLOB,
	PRIMARY KEY (stream_id, sequence)
) WITHOUT ROWID;
CREATE INDEX IF NOT EXISTS idx_events_time ON events (event_time, stream_id, sequence);
`

// Writer appends events to a dataset file.
type Writer struct {
	db *sql.DB
	tx *sql.Tx
}

// NewWriter opens (creating if needed) a dataset file for writing.
func NewWriter(path string) (*Writer, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("dataset: failed to open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("dataset: failed to create schema: %w", err)
	}
	tx, err := db.Begin()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("dataset: failed to begin batch: %w", err)
	}
	return &Writer{db: db, tx: tx}, nil
}

// Append adds one event to the dataset.
func (w *Writer) Append(ev types.Event) error {
	_, err := w.tx.Exec(
		`INSERT INTO events (stream_id, sequence, event_type, event_time, body)
		 VALUES (?, ?, ?, ?, ?)`,
		ev.StreamID, int64(ev.Sequence), string(ev.Type), ev.EventTime.UTC().UnixMicro(), []byte(ev.Body),
	)
	if err != nil {
		return fmt.Errorf("dataset: failed to append %s/%d: %w", ev.StreamID, ev.Sequence, err)
	}
	return nil
}

// Close commits the batch and closes the file.
func (w *Writer) Close() error {
	if err := w.tx.Commit(); err != nil {
		w.db.Close()
		return fmt.Errorf("dataset: failed to commit: %w", err)
	}
	return w.db.Close()
}

// Reader provides ordered access to a dataset file.
type Reader struct {
	db *sql.DB
}

// NewReader opens a dataset file for reading.
func NewReader(path string) (*Reader, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&mode=ro")
	if err != nil {
		return nil, fmt.Errorf("dataset: failed to open %s: %w", path, err)
	}
	return &Reader{db: db}, nil
}

// Streams returns the distinct stream IDs present in the dataset.
func (r *Reader) Streams(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT stream_id FROM events ORDER BY stream_id`)
	if err != nil {
		return nil, fmt.Errorf("dataset: failed to list streams: %w", err)
	}
	defer rows.Close()

	var streams []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("dataset: stream scan: %w", err)
		}
		streams = append(streams, id)
	}
	return streams, rows.Err()
}

// Count returns the total number of events in the dataset.
func (r *Reader) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("dataset: count: %w", err)
	}
	return n, nil
}

// Cursor walks the dataset in global event-time order, skipping events at or
// below each stream's resume position.
type Cursor struct {
	rows   *sql.Rows
	resume map[string]uint64
}

// Scan opens a cursor over the dataset. The resume map gives, per stream, the
// last position already processed; events with sequence <= resume[stream]
// are not emitted. Within a stream the generator assigns event times in
// sequence order, so event-time ordering preserves per-stream sequence order.
func (r *Reader) Scan(ctx context.Context, resume map[string]uint64) (*Cursor, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT stream_id, sequence, event_type, event_time, body
		 FROM events
		 ORDER BY event_time, stream_id, sequence`)
	if err != nil {
		return nil, fmt.Errorf("dataset: failed to open cursor: %w", err)
	}
	if resume == nil {
		resume = map[string]uint64{}
	}
	return &Cursor{rows: rows, resume: resume}, nil
}

// Next returns the next event, with ok=false at end of dataset.
func (c *Cursor) Next() (types.Event, bool, error) {
	for c.rows.Next() {
		var (
			ev     types.Event
			seq    int64
			evType string
			micros int64
			body   []byte
		)
		if err := c.rows.Scan(&ev.StreamID, &seq, &evType, &micros, &body); err != nil {
			return types.Event{}, false, fmt.Errorf("dataset: cursor scan: %w", err)
		}
		ev.Sequence = uint64(seq)
		ev.Type = types.EventType(evType)
		ev.EventTime = time.UnixMicro(micros).UTC()
		ev.Body = body

		if ev.Sequence <= c.resume[ev.StreamID] {
			continue
		}
		return ev, true, nil
	}
	if err := c.rows.Err(); err != nil {
		return types.Event{}, false, fmt.Errorf("dataset: cursor: %w", err)
	}
	return types.Event{}, false, nil
}

// Close releases the cursor.
func (c *Cursor) Close() error {
	return c.rows.Close()
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}
