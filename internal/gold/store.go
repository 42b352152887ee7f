package gold

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/lakeline/lakeline/internal/sketch"
)

const schema = `
CREATE TABLE IF NOT EXISTS view_state (
	view            TEXT NOT NULL,
	partition_key   TEXT NOT NULL,
	group_key       TEXT NOT NULL,
	row_count       INTEGER NOT NULL,
	sum_extended    REAL NOT NULL,
	last_event_time INTEGER NOT NULL,
	orders_sketch   BLOB,
	PRIMARY KEY (view, partition_key, group_key)
) WITHOUT ROWID;
CREATE TABLE IF NOT EXISTS view_meta (
	view           TEXT PRIMARY KEY,
	max_event_time INTEGER NOT NULL
) WITHOUT ROWID;
CREATE TABLE IF NOT EXISTS windows (
	view            TEXT NOT NULL,
	partition_key   TEXT NOT NULL,
	group_key       TEXT NOT NULL,
	row_count       INTEGER NOT NULL,
	sum_extended    REAL NOT NULL,
	distinct_orders INTEGER NOT NULL,
	watermark       INTEGER NOT NULL,
	finalized_at    INTEGER NOT NULL,
	PRIMARY KEY (view, partition_key, group_key)
) WITHOUT ROWID;
CREATE TABLE IF NOT EXISTS progress (
	id          INTEGER PRIMARY KEY CHECK (id = 1),
	next_offset INTEGER NOT NULL
);
`

// Store persists gold accumulator state, emitted windows, and the stage's
// read position in one SQLite file. State, windows, and position commit in a
// single transaction, so a crash between batches can never leave an
// accumulator that has absorbed a row the position does not cover.
type Store struct {
	db *sql.DB
}

// OpenStore opens (creating if needed) a gold database file.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("gold: failed to open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("gold: failed to create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// NextOffset returns the first silver source offset not yet folded into
// persisted state. Zero when the stage has never committed.
func (s *Store) NextOffset(ctx context.Context) (uint64, error) {
	var next int64
	err := s.db.QueryRowContext(ctx, `SELECT next_offset FROM progress WHERE id = 1`).Scan(&next)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("gold: failed to read progress: %w", err)
	}
	return uint64(next), nil
}

// LoadViews restores persisted accumulator state and watermark anchors into
// the given views.
func (s *Store) LoadViews(ctx context.Context, views []*View) error {
	byName := make(map[string]*View, len(views))
	for _, v := range views {
		byName[v.Spec.Name] = v
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT view, partition_key, group_key, row_count, sum_extended, last_event_time, orders_sketch
		 FROM view_state`)
	if err != nil {
		return fmt.Errorf("gold: failed to load state: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			name, partition, group string
			count, lastMicros      int64
			sum                    float64
			blob                   []byte
		)
		if err := rows.Scan(&name, &partition, &group, &count, &sum, &lastMicros, &blob); err != nil {
			return fmt.Errorf("gold: state scan: %w", err)
		}
		view, ok := byName[name]
		if ok {
			acc := &Accumulator{
				RowCount:      count,
				SumExtended:   sum,
				LastEventTime: time.UnixMicro(lastMicros).UTC(),
			}
			if len(blob) > 0 {
				hll, err := sketch.Deserialize(blob)
				if err != nil {
					return fmt.Errorf("gold: corrupt sketch for %s/%s/%s: %w", name, partition, group, err)
				}
				acc.Orders = hll
			}
			view.restore(partition, group, acc)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("gold: state load: %w", err)
	}

	meta, err := s.db.QueryContext(ctx, `SELECT view, max_event_time FROM view_meta`)
	if err != nil {
		return fmt.Errorf("gold: failed to load view meta: %w", err)
	}
	defer meta.Close()
	for meta.Next() {
		var (
			name   string
			micros int64
		)
		if err := meta.Scan(&name, &micros); err != nil {
			return fmt.Errorf("gold: meta scan: %w", err)
		}
		if view, ok := byName[name]; ok {
			view.setMaxEventTime(time.UnixMicro(micros).UTC())
		}
	}
	return meta.Err()
}

// CommitBatch atomically persists the views' dirty state, the windows they
// finalized, and the new read position. Emitted windows use INSERT OR IGNORE
// so a replayed batch cannot revise an already-final window.
func (s *Store) CommitBatch(ctx context.Context, views []*View, finalized []WindowRow, nextOffset uint64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("gold: failed to begin commit: %w", err)
	}
	defer tx.Rollback()

	stateStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO view_state (view, partition_key, group_key, row_count, sum_extended, last_event_time, orders_sketch)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (view, partition_key, group_key) DO UPDATE SET
		   row_count = excluded.row_count,
		   sum_extended = excluded.sum_extended,
		   last_event_time = excluded.last_event_time,
		   orders_sketch = excluded.orders_sketch`)
	if err != nil {
		return fmt.Errorf("gold: failed to prepare state upsert: %w", err)
	}
	defer stateStmt.Close()

	for _, view := range views {
		for key, acc := range view.dirtyState() {
			var blob []byte
			if acc.Orders != nil {
				blob = acc.Orders.Serialize()
			}
			if _, err := stateStmt.ExecContext(ctx,
				view.Spec.Name, key.partition, key.group,
				acc.RowCount, acc.SumExtended, acc.LastEventTime.UTC().UnixMicro(), blob,
			); err != nil {
				return fmt.Errorf("gold: failed to persist state %s/%s/%s: %w",
					view.Spec.Name, key.partition, key.group, err)
			}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO view_meta (view, max_event_time) VALUES (?, ?)
			 ON CONFLICT (view) DO UPDATE SET max_event_time = excluded.max_event_time`,
			view.Spec.Name, view.MaxEventTime().UTC().UnixMicro(),
		); err != nil {
			return fmt.Errorf("gold: failed to persist meta for %s: %w", view.Spec.Name, err)
		}
	}

	for _, win := range finalized {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM view_state WHERE view = ? AND partition_key = ? AND group_key = ?`,
			win.View, win.PartitionKey, win.GroupKey,
		); err != nil {
			return fmt.Errorf("gold: failed to clear finalized state: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO windows
			 (view, partition_key, group_key, row_count, sum_extended, distinct_orders, watermark, finalized_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			win.View, win.PartitionKey, win.GroupKey,
			win.RowCount, win.SumExtended, win.DistinctOrders,
			win.Watermark.UTC().UnixMicro(), win.FinalizedAt.UTC().UnixMicro(),
		); err != nil {
			return fmt.Errorf("gold: failed to emit window %s/%s/%s: %w",
				win.View, win.PartitionKey, win.GroupKey, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO progress (id, next_offset) VALUES (1, ?)
		 ON CONFLICT (id) DO UPDATE SET next_offset = excluded.next_offset
		 WHERE excluded.next_offset > progress.next_offset`,
		int64(nextOffset),
	); err != nil {
		return fmt.Errorf("gold: failed to advance progress: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("gold: failed to commit batch: %w", err)
	}
	for _, view := range views {
		view.clearDirty()
	}
	return nil
}

// Windows returns the emitted windows of one view (all views when name is
// empty), ordered by partition and group key.
func (s *Store) Windows(ctx context.Context, name string) ([]WindowRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT view, partition_key, group_key, row_count, sum_extended, distinct_orders, watermark, finalized_at
		 FROM windows
		 WHERE ? = '' OR view = ?
		 ORDER BY view, partition_key, group_key`, name, name)
	if err != nil {
		return nil, fmt.Errorf("gold: failed to list windows: %w", err)
	}
	defer rows.Close()

	var out []WindowRow
	for rows.Next() {
		var (
			win                 WindowRow
			wmMicros, finMicros int64
		)
		if err := rows.Scan(&win.View, &win.PartitionKey, &win.GroupKey,
			&win.RowCount, &win.SumExtended, &win.DistinctOrders,
			&wmMicros, &finMicros); err != nil {
			return nil, fmt.Errorf("gold: window scan: %w", err)
		}
		win.Watermark = time.UnixMicro(wmMicros).UTC()
		win.FinalizedAt = time.UnixMicro(finMicros).UTC()
		out = append(out, win)
	}
	return out, rows.Err()
}

// Close closes the store.
func (s *Store) Close() error {
	return s.db.Close()
}
